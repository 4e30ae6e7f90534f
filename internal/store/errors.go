package store

import "github.com/rotisserie/eris"

// ErrNotFound is returned when a referenced entity does not exist.
// Callers expecting the reference to hold should treat this as a defect,
// not a recoverable condition.
var ErrNotFound = eris.New("store: not found")

// ErrConflict is returned when a write loses a race: a duplicate
// (tenant, normalized name) entity creation, or a processed-flag
// transition that another writer already committed.
var ErrConflict = eris.New("store: conflict")
