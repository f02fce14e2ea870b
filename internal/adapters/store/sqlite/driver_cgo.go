//go:build cgo

package sqlite

import (
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const driverName = "sqlite3"
