package shadow

import "errors"

// ErrEntityNotFound indicates an operation targeted an address absent
// from the tree. For incoming stream events this is a benign race
// against the initial snapshot and the event is dropped.
var ErrEntityNotFound = errors.New("shadow: entity not found")
