// Package storage holds the database plumbing shared by the SQLite and MySQL
// backends: a namespaced migration runner over embedded SQL files and
// transaction helpers. Driver-specific connection code lives in the sqlite
// and mysql subpackages.
package storage
