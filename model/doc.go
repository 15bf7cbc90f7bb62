// Package model defines the provider-agnostic abstractions for driving
// generation backends inside DialogMesh.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic scripting for tests (ScriptedModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so the orchestrator remains decoupled from vendor SDKs.
package model
