// Package attachment stores binary payloads (images, files) referenced by
// conversation messages. Payloads are keyed by session so deleting a session
// can cascade to its attachments.
package attachment

import (
	"fmt"
	"time"

	"github.com/dialogmesh/dialogmesh/core"
)

var (
	// ErrNotFound is returned when an attachment for the given session / id
	// pair does not exist in the underlying store.
	ErrNotFound = fmt.Errorf("attachment not found")
)

// Attachment describes a stored binary blob without its payload.
type Attachment struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists message attachments (inline image bytes and similar blobs)
// keyed by session. Deleting a session removes all of its attachments.
type Store interface {
	// Save stores the payload and returns a fresh attachment id.
	Save(key core.SessionKey, mimeType string, data []byte) (string, error)

	// Get returns the stored payload and its metadata, or ErrNotFound.
	Get(key core.SessionKey, attachmentID string) ([]byte, Attachment, error)

	// List returns metadata for the session's attachments.
	List(key core.SessionKey) ([]Attachment, error)

	// DeleteSession removes every attachment stored for the session.
	DeleteSession(key core.SessionKey) error
}
