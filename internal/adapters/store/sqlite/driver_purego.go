//go:build !cgo

package sqlite

import (
	_ "modernc.org/sqlite" // pure-Go SQLite driver for CGO_ENABLED=0 builds
)

const driverName = "sqlite"
