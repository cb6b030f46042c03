// Package pool keeps the set of users that have live proxy listeners and
// grows it from configuration snapshots.
//
// Users are only ever added. A user whose entry disappears from the
// configuration, or whose password changes, keeps the listeners it was
// started with until the process exits.
package pool
