// Package memory provides in-memory implementations of the storage ports.
// They share the compare-and-set semantics of the SQLite adapter and back
// service tests and dry runs.
package memory
