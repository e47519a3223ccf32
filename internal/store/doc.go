// Package store declares the run repository used to persist batch progress.
// Implementations live elsewhere; this package must not import database
// drivers.
package store
