package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// Config points at the bucket finished call transcripts land in.
type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

func (c Config) enabled() bool {
	return c.URL != "" && c.ServiceRoleKey != "" && c.Bucket != ""
}

// Archive stores call transcripts as JSON objects.
type Archive struct {
	client *supabase.Client
	bucket string
}

// New returns nil when the archive is not configured; callers treat a nil
// archive as archival disabled.
func New(cfg Config) (*Archive, error) {
	if !cfg.enabled() {
		return nil, nil
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Archive{client: client, bucket: cfg.Bucket}, nil
}

func (a *Archive) Upload(ctx context.Context, path string, data []byte) error {
	_, err := a.client.Storage.UploadFile(a.bucket, path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}
