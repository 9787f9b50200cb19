package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveObject describes one file in cold storage.
type ArchiveObject struct {
	Key          string    `json:"key"`
	Kind         string    `json:"kind,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectStore is the object storage the archiver writes to. Put picks single
// or multipart upload from the payload size.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ArchiveObject, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Archiver moves closed trades and monitoring snapshots older than a cutoff
// to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error)
}
