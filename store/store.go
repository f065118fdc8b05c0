// Package store provides durable persistence for dispatched workflows:
// the C6 Durable Store named by the engine handle's Store dependency.
package store

import "errors"

// ErrNotFound is returned when a requested dispatch_id or node does not
// exist, grounded in the teacher's store.ErrNotFound
// (graph/store/store.go).
var ErrNotFound = errors.New("store: not found")
