// Schoolsync CLI entry point
//
// Schoolsync is an offline-first client for the school-management API.
// Reads are served from a device cache while offline and writes are queued
// and replayed in order once connectivity returns.
package main

import "github.com/jbctechsolutions/schoolsync/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}
