package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"

	"pasteapi/internal/model"
)

// Ingest claims name with an exclusive create and copies input into it.
//
// The first PreambleLen bytes of the logical stream are discarded no matter
// how the transport splits them across reads. A stream shorter than the
// preamble produces an empty post.
//
// Failures return an *IOError. A partially written payload is left in place
// and no metadata sidecar is written for it.
func (s *FileStore) Ingest(ctx context.Context, name string, input io.Reader, origin string, startedAt time.Time) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}

	f, err := s.fs.OpenFile(s.postPath(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.opts.FileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return 0, &IOError{Op: "create", Name: name, Err: err}
	}

	n, err := copyPayload(f, &ctxReader{ctx: ctx, r: input}, int64(s.opts.PreambleLen))
	if err != nil {
		_ = f.Close()
		return n, &IOError{Op: "copy", Name: name, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return n, &IOError{Op: "sync", Name: name, Err: err}
	}
	if err := f.Close(); err != nil {
		return n, &IOError{Op: "close", Name: name, Err: err}
	}

	meta := model.PostMetadata{Size: n, CreatedAt: startedAt, Origin: origin, Known: true}
	if err := afero.WriteFile(s.fs, s.metaPath(name), encodeMetadata(meta), s.opts.FileMode); err != nil {
		return n, &IOError{Op: "write metadata", Name: name, Err: err}
	}
	return n, nil
}

func copyPayload(dst io.Writer, src io.Reader, preamble int64) (int64, error) {
	if preamble > 0 {
		if _, err := io.CopyN(io.Discard, src, preamble); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, nil
			}
			return 0, err
		}
	}
	return io.Copy(dst, src)
}

// ctxReader stops a copy once the request context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
