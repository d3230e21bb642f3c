package store

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/afero"

	"pasteapi/internal/model"
)

// Fetch opens the payload of name. The caller must close the reader.
func (s *FileStore) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(s.postPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &IOError{Op: "open", Name: name, Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &IOError{Op: "stat", Name: name, Err: err}
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Stat returns the on-disk size and metadata of name.
func (s *FileStore) Stat(ctx context.Context, name string) (model.Post, error) {
	if err := validateName(name); err != nil {
		return model.Post{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Post{}, err
	}

	fi, err := s.fs.Stat(s.postPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Post{}, ErrNotFound
		}
		return model.Post{}, &IOError{Op: "stat", Name: name, Err: err}
	}
	if fi.IsDir() {
		return model.Post{}, ErrNotFound
	}
	return model.Post{Name: name, StoredSize: fi.Size(), Meta: s.readMetadata(name)}, nil
}

// List returns every regular file in the posts directory ordered by name.
// Metadata problems degrade the affected entry to unknown; only a failure to
// read the posts directory itself is returned.
func (s *FileStore) List(ctx context.Context) ([]model.Post, error) {
	infos, err := afero.ReadDir(s.fs, s.postsDir)
	if err != nil {
		return nil, &IOError{Op: "list", Name: s.postsDir, Err: err}
	}

	posts := make([]model.Post, 0, len(infos))
	for _, fi := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fi.IsDir() {
			continue
		}
		posts = append(posts, model.Post{
			Name:       fi.Name(),
			StoredSize: fi.Size(),
			Meta:       s.readMetadata(fi.Name()),
		})
	}
	return posts, nil
}
