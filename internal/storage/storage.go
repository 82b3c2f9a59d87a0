// Package storage holds attachment bytes outside the database.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotExist is returned when deleting or reading an unknown key.
var ErrNotExist = errors.New("object does not exist")

// Object is a stored blob.
type Object struct {
	Key  string
	URL  string
	Size int64
}

// Store is the object store contract used by attachment ingestion.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// cleanKey normalises key into a relative slash path without "..".
func cleanKey(key string) (string, error) {
	k := strings.TrimPrefix(path.Clean("/"+key), "/")
	if k == "" || k == "." {
		return "", errors.New("storage: empty key")
	}
	return k, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
