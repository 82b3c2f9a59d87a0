package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client  *gcs.Client
	bucket  string
	baseURL string
}

// NewGCS opens a client. credentialsFile may be empty to use application
// default credentials. baseURL defaults to the public storage.googleapis.com URL.
func NewGCS(ctx context.Context, bucket, credentialsFile, baseURL string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("storage: GCS bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCS{client: client, bucket: bucket, baseURL: baseURL}, nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader, contentType string) (Object, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	// Cancelling the writer's context aborts the upload; Close would commit
	// whatever was buffered.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := g.client.Bucket(g.bucket).Object(k).NewWriter(wctx)
	w.ContentType = contentType
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		return Object{}, fmt.Errorf("storage: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("storage: gcs close: %w", err)
	}
	return Object{Key: k, URL: joinURL(g.baseURL, k), Size: n}, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucket).Object(k).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrNotExist
	}
	return err
}

func (g *GCS) Close() error { return g.client.Close() }
