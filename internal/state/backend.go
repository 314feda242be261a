package state

import (
	"context"
	"fmt"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*File, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, f *File) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendConfig holds configuration for a state backend.
type BackendConfig struct {
	Type   string            `json:"type" yaml:"type"` // "local" or "s3"
	Config map[string]string `json:"config" yaml:"config"`
}

// S3BackendConfig holds configuration for S3 state backend.
type S3BackendConfig struct {
	Bucket        string `json:"bucket"`
	Key           string `json:"key"`
	Region        string `json:"region"`
	DynamoDBTable string `json:"dynamodb_table"` // for locking
	Encrypt       bool   `json:"encrypt"`
	Profile       string `json:"profile"`
}

// NewBackend creates a state backend from configuration. A nil config or
// the local type stores state in a file at cfg.Config["path"].
func NewBackend(ctx context.Context, cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return NewManager(""), nil
	}

	switch cfg.Type {
	case "local", "":
		return NewManager(cfg.Config["path"]), nil
	case "s3":
		return newS3Backend(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
