package model

import "time"

// PostMetadata is the provenance sidecar stored next to every post.
// Known is false when the sidecar is missing or unreadable; the other
// fields are zero in that case and must be rendered as unknown.
type PostMetadata struct {
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Origin    string    `json:"origin"`
	Known     bool      `json:"known"`
}

// Post is a stored payload identified by its unique name.
// StoredSize is the payload size on disk, which may differ from
// Meta.Size when an ingest was interrupted.
type Post struct {
	Name       string       `json:"name"`
	StoredSize int64        `json:"stored_size"`
	Meta       PostMetadata `json:"metadata"`
}
