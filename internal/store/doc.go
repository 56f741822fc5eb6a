// Package store defines the TaskStore port used by the producer, the worker
// and the sweeper, the TaskPatch type that describes partial updates, and
// the error vocabulary every implementation maps its driver errors into.
package store
