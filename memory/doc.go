// Package memory contains concrete MemoryStore implementations. The store
// interface and entry types reside in the core package; depend on
// core.MemoryStore in your code and select an implementation (in-memory or
// SQLite-backed) at wiring time.
//
// Rationale: keeps domain contracts centralized while allowing pluggable
// backends (vector databases, embedding indexes, etc.) to be added without
// introducing dependency cycles.
package memory
