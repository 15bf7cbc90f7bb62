// Package core provides the foundational domain types and interfaces used by
// DialogMesh. It defines the core abstractions for:
//
//   - Sessions (append-only conversational containers keyed by user + session)
//   - Messages (immutable role-based content, plain text or typed parts)
//   - Memory (tiered stores with relevance retrieval)
//   - Tool calls (structured invocation requests proposed by a backend)
//
// The package intentionally keeps implementation concerns (persistence,
// orchestration, concrete backends) out of scope, exposing small interfaces so
// custom backends can be swapped in without dependency cycles.
package core
