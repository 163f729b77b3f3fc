// Package storage persists graph snapshots outside the shared region.
//
// The region itself is deliberately volatile; the monitor service archives
// periodic snapshots here so an operator can inspect the coordination state
// after the region is gone.
package storage

import (
	"context"
	"fmt"

	"github.com/sfs-coordinator/internal/graph"
	"github.com/sfs-coordinator/pkg/config"
)

// Archive stores and retrieves named graph snapshots.
type Archive interface {
	// Save persists a snapshot under key.
	Save(ctx context.Context, key string, snap *graph.Snapshot) error

	// Load retrieves the snapshot stored under key.
	Load(ctx context.Context, key string) (*graph.Snapshot, error)

	// List returns the stored keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the snapshot stored under key.
	Delete(ctx context.Context, key string) error
}

// ArchiveType selects the archive backend.
type ArchiveType string

const (
	ArchiveTypeLocal ArchiveType = "local"
	ArchiveTypeCOS   ArchiveType = "cos"
)

// NewArchive creates an Archive from configuration.
func NewArchive(cfg *config.ArchiveConfig) (Archive, error) {
	if cfg == nil {
		return nil, fmt.Errorf("archive config is nil")
	}

	switch ArchiveType(cfg.Type) {
	case ArchiveTypeLocal, "":
		return NewLocalArchive(cfg.LocalPath)
	case ArchiveTypeCOS:
		return NewCOSArchive(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
	}
}
