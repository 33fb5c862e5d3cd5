/*
2025 © Logset
*/

// Package history persists recent search states to disk so a new CLI
// invocation can recall what was searched before.
package history

// Store gives access to recorded search entries.
type Store interface {
	Entries() []Entry
	Add(entry Entry)
}

// PersistentStore allows to dump entries from memory to some
// persistent storage.
type PersistentStore interface {
	Load() error
	Save() error

	Store
}
