package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("checkpoint version mismatch")

// NewCheckpoint stamps a fresh checkpoint around a serialized force document.
func NewCheckpoint(label string, document []byte) Checkpoint {
	return Checkpoint{
		ID:            uuid.NewString(),
		Label:         label,
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
		Document:      append([]byte(nil), document...),
	}
}

func EncodeCheckpoint(cp Checkpoint) ([]byte, error) {
	return json.Marshal(cp)
}

func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, err
	}
	if cp.SchemaVersion != CurrentSchemaVersion || cp.CodecVersion != CurrentCodecVersion {
		return Checkpoint{}, ErrVersionMismatch
	}
	return cp, nil
}
