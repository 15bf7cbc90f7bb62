// Package logging defines the Logger interface consumed by every DialogMesh
// component plus slog-backed and no-op implementations. Components accept a
// Logger at construction and substitute NoOpLogger for nil, so logging never
// becomes a hard dependency.
package logging
