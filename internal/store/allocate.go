package store

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
)

const (
	shortTokenBytes = 6  // 8 characters
	longTokenBytes  = 12 // 16 characters
	maxAllocRounds  = 4
)

// Allocate draws a short random token and probes the posts directory for it.
// On a hit it appends "_" and probes again instead of drawing a new token.
// After MaxCollisionRetries suffixes it starts over with a longer token.
//
// The returned name is only free at the time of the probe; Ingest claims it
// with an exclusive create and returns ErrExists if another upload won.
func (s *FileStore) Allocate(ctx context.Context) (string, error) {
	size := shortTokenBytes
	for round := 0; round < maxAllocRounds; round++ {
		token, err := s.token(size)
		if err != nil {
			return "", &IOError{Op: "allocate", Err: err}
		}

		name := token
		for i := 0; i <= s.opts.MaxCollisionRetries; i++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			taken, err := s.exists(name)
			if err != nil {
				return "", err
			}
			if !taken {
				return name, nil
			}
			name += "_"
		}
		size = longTokenBytes
	}
	return "", ErrAllocationExhausted
}

func (s *FileStore) token(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.opts.Random, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *FileStore) exists(name string) (bool, error) {
	_, err := s.fs.Stat(s.postPath(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, &IOError{Op: "stat", Name: name, Err: err}
	}
}
