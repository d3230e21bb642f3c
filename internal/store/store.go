// Package store persists posts as individual files and keeps a provenance
// sidecar for each of them under a separate metadata directory.
//
// Layout below the root:
//
//	posts/<name>     raw payload, exactly as ingested
//	metadata/<name>  "<size>,<created_at>,<origin>"
//
// The filesystem is the only source of truth. Names are allocated by probing
// the posts directory and claimed with an exclusive create, so two uploads
// racing for the same name never overwrite each other.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"pasteapi/internal/config"
	"pasteapi/internal/model"
)

const (
	// DefaultPreambleLen is the length of the "content=" marker the upload
	// transport puts in front of every body.
	DefaultPreambleLen = 8

	defaultPostsDir            = "posts"
	defaultMetadataDir         = "metadata"
	defaultMaxCollisionRetries = 32
	defaultFileMode            = 0o644
	defaultDirMode             = 0o755
)

var (
	ErrNotFound            = errors.New("post not found")
	ErrExists              = errors.New("post already exists")
	ErrInvalidName         = errors.New("invalid post name")
	ErrAllocationExhausted = errors.New("no free post name found")
)

// IOError describes a failed filesystem or stream operation on a post.
type IOError struct {
	Op   string
	Name string
	Err  error
}

func (e *IOError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Store is the content store contract used by the service layer.
type Store interface {
	// Allocate returns a name with no payload file in the posts directory.
	Allocate(ctx context.Context) (string, error)
	// Ingest writes input under name, stripping the transport preamble, and
	// records the metadata sidecar once the copy has fully succeeded.
	Ingest(ctx context.Context, name string, input io.Reader, origin string, startedAt time.Time) (int64, error)
	// Fetch opens the payload for lazy reading.
	Fetch(ctx context.Context, name string) (io.ReadCloser, error)
	// Stat describes a single post without reading its payload.
	Stat(ctx context.Context, name string) (model.Post, error)
	// List enumerates every post with its parsed metadata.
	List(ctx context.Context) ([]model.Post, error)
	// Ping checks that both directories are reachable.
	Ping(ctx context.Context) error
}

// Options configure a FileStore.
type Options struct {
	PostsDir            string
	MetadataDir         string
	PreambleLen         int
	MaxCollisionRetries int
	FileMode            os.FileMode
	DirMode             os.FileMode
	Random              io.Reader
}

type OptionFunc func(*Options)

func WithPostsDir(dir string) OptionFunc {
	return func(o *Options) { o.PostsDir = dir }
}

func WithMetadataDir(dir string) OptionFunc {
	return func(o *Options) { o.MetadataDir = dir }
}

// WithPreambleLen sets how many leading bytes of every upload are discarded.
// Zero stores the stream untouched.
func WithPreambleLen(n int) OptionFunc {
	return func(o *Options) {
		if n >= 0 {
			o.PreambleLen = n
		}
	}
}

// WithMaxCollisionRetries bounds how many "_" suffixes are tried for one
// random token before a longer token is drawn.
func WithMaxCollisionRetries(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.MaxCollisionRetries = n
		}
	}
}

// WithRandom replaces the random source used for name tokens.
func WithRandom(r io.Reader) OptionFunc {
	return func(o *Options) { o.Random = r }
}

func WithFileMode(mode os.FileMode) OptionFunc {
	return func(o *Options) { o.FileMode = mode }
}

// FileStore implements Store on top of an afero filesystem.
// It holds no mutable state and is safe for concurrent use.
type FileStore struct {
	fs       afero.Fs
	postsDir string
	metaDir  string
	opts     Options
}

var _ Store = (*FileStore)(nil)

// New creates the posts and metadata directories below root if needed.
func New(fs afero.Fs, root string, opts ...OptionFunc) (*FileStore, error) {
	options := Options{
		PostsDir:            defaultPostsDir,
		MetadataDir:         defaultMetadataDir,
		PreambleLen:         DefaultPreambleLen,
		MaxCollisionRetries: defaultMaxCollisionRetries,
		FileMode:            defaultFileMode,
		DirMode:             defaultDirMode,
		Random:              rand.Reader,
	}
	for _, opt := range opts {
		opt(&options)
	}

	root = filepath.Clean(root)
	s := &FileStore{
		fs:       fs,
		postsDir: filepath.Join(root, options.PostsDir),
		metaDir:  filepath.Join(root, options.MetadataDir),
		opts:     options,
	}
	if err := fs.MkdirAll(s.postsDir, options.DirMode); err != nil {
		return nil, fmt.Errorf("creating posts directory: %w", err)
	}
	if err := fs.MkdirAll(s.metaDir, options.DirMode); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}
	return s, nil
}

// FromConfig builds a FileStore from the storage section of the app config.
func FromConfig(fs afero.Fs, cfg config.StorageConfig, extra ...OptionFunc) (*FileStore, error) {
	opts := []OptionFunc{
		WithPostsDir(cfg.PostsDir),
		WithMetadataDir(cfg.MetadataDir),
		WithPreambleLen(cfg.PreambleLen),
		WithMaxCollisionRetries(cfg.MaxCollisionRetries),
	}
	return New(fs, cfg.Root, append(opts, extra...)...)
}

// PreambleLen is the number of leading upload bytes this store discards.
func (s *FileStore) PreambleLen() int {
	return s.opts.PreambleLen
}

func (s *FileStore) postPath(name string) string {
	return filepath.Join(s.postsDir, name)
}

func (s *FileStore) metaPath(name string) string {
	return filepath.Join(s.metaDir, name)
}

// Ping reports whether both directories can be stat'ed.
func (s *FileStore) Ping(ctx context.Context) error {
	for _, dir := range []string{s.postsDir, s.metaDir} {
		if err := ctx.Err(); err != nil {
			return err
		}
		fi, err := s.fs.Stat(dir)
		if err != nil {
			return &IOError{Op: "stat", Name: dir, Err: err}
		}
		if !fi.IsDir() {
			return &IOError{Op: "stat", Name: dir, Err: errors.New("not a directory")}
		}
	}
	return nil
}

const maxNameLen = 255

// validateName accepts only the URL-safe base64 alphabet plus the "_"
// collision suffix, which also rules out path separators and dot segments.
func validateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return ErrInvalidName
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return ErrInvalidName
		}
	}
	return nil
}
