package storage

import (
	"context"
	"time"
)

// Checkpoint is a persisted force document plus the metadata needed to
// find it again.
type Checkpoint struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	CreatedAt     time.Time `json:"createdAt"`
	SchemaVersion int       `json:"schemaVersion"`
	CodecVersion  int       `json:"codecVersion"`
	Document      []byte    `json:"document"`
}

// Store defines persistence operations for force checkpoints.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (Checkpoint, bool, error)
	ListCheckpoints(ctx context.Context) ([]Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id string) error
}
