package repository

import "errors"

// Common repository errors. Driver-specific failures (GORM record-not-
// found, redis.Nil, MySQL duplicate key) are mapped to these at the
// repository boundary so the service layer never imports a driver.
var (
	ErrNotFound       = errors.New("repository: record not found")
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)

var (
	ErrProjectNotFound  = ErrNotFound
	ErrSnapshotNotFound = ErrNotFound
)
