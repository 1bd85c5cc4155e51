package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Collection groups gallery identities; streams may be scoped to one.
type Collection struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Identity is a known-identity record in the gallery: a named person with
// zero or more reference embeddings, used for gallery search independent of
// the GTM's own cross-camera association.
type Identity struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	CollectionID uuid.UUID       `json:"collection_id" db:"collection_id"`
	Name         string          `json:"name" db:"name"`
	Metadata     json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// GalleryEmbedding is one reference appearance embedding enrolled against an
// Identity.
type GalleryEmbedding struct {
	ID         uuid.UUID `json:"id" db:"id"`
	IdentityID uuid.UUID `json:"identity_id" db:"identity_id"`
	Embedding  []float32 `json:"embedding" db:"embedding"`
	Quality    float32   `json:"quality" db:"quality"`
	SourceKey  string    `json:"source_key" db:"source_key"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
