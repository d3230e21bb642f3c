package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pasteapi/internal/applog"
	"pasteapi/internal/model"
	"pasteapi/internal/storage"
	"pasteapi/internal/store"
)

var (
	ErrReaderNil      = errors.New("reader is nil")
	ErrMirrorDisabled = errors.New("mirror is not configured")
)

const (
	// DefaultPreviewBytes is how much of a post the HTML view shows.
	DefaultPreviewBytes = 2048

	// maxCreateAttempts bounds retries after losing an exclusive-create race.
	// Nothing has been read from the body at that point, so retrying is safe.
	maxCreateAttempts = 3
)

// PostView is a post with a bounded prefix of its content.
type PostView struct {
	Post      model.Post
	Content   []byte
	Truncated bool
}

// PostService defines the use cases for handling posts.
type PostService interface {
	// Create allocates a name, stores body under it and returns the new post.
	Create(ctx context.Context, body io.Reader, origin string) (*model.Post, error)
	// Open returns the full content stream of a post along with its description.
	Open(ctx context.Context, name string) (io.ReadCloser, *model.Post, error)
	// Preview returns the post with at most the configured number of content bytes.
	Preview(ctx context.Context, name string) (*PostView, error)
	// List returns every stored post.
	List(ctx context.Context) ([]model.Post, error)
	// SyncMirror uploads posts missing from the mirror and reports how many were copied.
	SyncMirror(ctx context.Context) (int, error)
	// Ping checks that the content store is usable.
	Ping(ctx context.Context) error
}

// Config carries the optional collaborators of the post service.
type Config struct {
	Mirror       storage.Storage
	Logger       *applog.Logger
	Metrics      *Metrics
	PreviewBytes int
	Now          func() time.Time
}

// postService is a concrete implementation of PostService.
type postService struct {
	store        store.Store
	mirror       storage.Storage
	log          *applog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	previewBytes int64
	now          func() time.Time
}

// NewPostService constructs a new PostService.
func NewPostService(st store.Store, cfg Config) PostService {
	s := &postService{
		store:        st,
		mirror:       cfg.Mirror,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       otel.Tracer("pasteapi/internal/service"),
		previewBytes: int64(cfg.PreviewBytes),
		now:          cfg.Now,
	}
	if s.log == nil {
		s.log = applog.Default()
	}
	if s.metrics == nil {
		// a private registry cannot clash with anything
		s.metrics, _ = NewMetrics(prometheus.NewRegistry())
	}
	if s.previewBytes <= 0 {
		s.previewBytes = DefaultPreviewBytes
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *postService) Create(ctx context.Context, body io.Reader, origin string) (*model.Post, error) {
	if body == nil {
		return nil, ErrReaderNil
	}
	ctx, span := s.tracer.Start(ctx, "PostService.Create")
	defer span.End()

	rid := applog.RequestID(ctx)
	if rid != "" {
		span.SetAttributes(attribute.String("http.request_id", rid))
	}

	started := s.now().UTC()
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		name, err := s.store.Allocate(ctx)
		if err != nil {
			return nil, s.failCreate(span, rid, "", origin, fmt.Errorf("allocate name: %w", err))
		}

		n, err := s.store.Ingest(ctx, name, body, origin, started)
		if errors.Is(err, store.ErrExists) {
			s.log.Info("post_name_collision", applog.Fields{"name": name, "attempt": attempt, "request_id": rid})
			continue
		}
		if err != nil {
			return nil, s.failCreate(span, rid, name, origin, fmt.Errorf("ingest %s: %w", name, err))
		}

		post := &model.Post{
			Name:       name,
			StoredSize: n,
			Meta:       model.PostMetadata{Size: n, CreatedAt: started, Origin: origin, Known: true},
		}
		s.metrics.postsCreated.Inc()
		s.metrics.bytesIngested.Add(float64(n))
		span.SetAttributes(attribute.String("post.name", name), attribute.Int64("post.size", n))
		s.log.Info("post_created", applog.Fields{
			"name":       name,
			"size":       n,
			"origin":     origin,
			"request_id": rid,
			"created_at": started.In(s.log.Location()).Format(time.RFC3339Nano),
		})

		// the local copy is authoritative; a mirror failure is only logged
		_ = s.mirrorPost(ctx, *post)
		return post, nil
	}
	return nil, s.failCreate(span, rid, "", origin, fmt.Errorf("ingest: %w", store.ErrExists))
}

func (s *postService) failCreate(span trace.Span, requestID, name, origin string, err error) error {
	s.metrics.ingestFailures.Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "create post failed")
	s.log.Error("post_create_failed", err, applog.Fields{"name": name, "origin": origin, "request_id": requestID})
	return err
}

func (s *postService) mirrorPost(ctx context.Context, post model.Post) error {
	if s.mirror == nil {
		return nil
	}
	rc, err := s.store.Fetch(ctx, post.Name)
	if err != nil {
		return s.failMirror(post.Name, err)
	}
	defer rc.Close()

	meta := map[string]string{}
	if post.Meta.Known {
		meta["size"] = strconv.FormatInt(post.Meta.Size, 10)
		meta["created-at"] = post.Meta.CreatedAt.UTC().Format(time.RFC3339Nano)
		meta["origin"] = post.Meta.Origin
	}
	_, err = s.mirror.Put(ctx, storage.PostKey(post.Name), rc, storage.PutObjectOptions{
		Size:        post.StoredSize,
		ContentType: "application/octet-stream",
		Metadata:    meta,
	})
	if err != nil {
		return s.failMirror(post.Name, err)
	}
	return nil
}

func (s *postService) failMirror(name string, err error) error {
	s.metrics.mirrorFailures.Inc()
	s.log.Error("post_mirror_failed", err, applog.Fields{"name": name})
	return fmt.Errorf("mirror %s: %w", name, err)
}

func (s *postService) Open(ctx context.Context, name string) (io.ReadCloser, *model.Post, error) {
	ctx, span := s.tracer.Start(ctx, "PostService.Open", trace.WithAttributes(attribute.String("post.name", name)))
	defer span.End()

	post, err := s.store.Stat(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Fetch(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return rc, &post, nil
}

func (s *postService) Preview(ctx context.Context, name string) (*PostView, error) {
	rc, post, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, s.previewBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return &PostView{
		Post:      *post,
		Content:   content,
		Truncated: post.StoredSize > int64(len(content)),
	}, nil
}

func (s *postService) List(ctx context.Context) ([]model.Post, error) {
	ctx, span := s.tracer.Start(ctx, "PostService.List")
	defer span.End()

	posts, err := s.store.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list posts failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("posts.count", len(posts)))
	return posts, nil
}

func (s *postService) SyncMirror(ctx context.Context) (int, error) {
	if s.mirror == nil {
		return 0, ErrMirrorDisabled
	}
	posts, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	uploaded := 0
	for _, p := range posts {
		_, err := s.mirror.Stat(ctx, storage.PostKey(p.Name))
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			return uploaded, fmt.Errorf("stat mirror %s: %w", p.Name, err)
		}
		if err := s.mirrorPost(ctx, p); err != nil {
			return uploaded, err
		}
		uploaded++
	}
	s.log.Info("mirror_synced", applog.Fields{"posts": len(posts), "uploaded": uploaded})
	return uploaded, nil
}

func (s *postService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
