package handler

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"pasteapi/internal/model"
	"pasteapi/internal/service"
	"pasteapi/internal/store"
)

//go:embed openapi.yaml
var openAPISpec []byte

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`

// AppConfig is the fiber configuration the server runs with. Request bodies
// are streamed; CreatePost enforces bodyLimit itself.
func AppConfig(bodyLimit int) fiber.Config {
	return fiber.Config{
		ErrorHandler:      ErrorHandler(),
		BodyLimit:         bodyLimit,
		StreamRequestBody: true,
	}
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Static segments under /posts are registered before /posts/:name.
func RegisterRoutes(app *fiber.App, svc service.PostService) {
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.Send(openAPISpec)
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		return c.Type("html").SendString(docsPage)
	})

	app.Get("/health", HealthCheck(svc))
	app.Get("/healthz", LivenessProbe())

	app.Get("/", IndexPage(svc))
	app.Get("/posts", IndexPage(svc))
	app.Post("/posts/new", CreatePost(svc))
	app.Get("/posts/lists", ListPosts(svc))
	app.Get("/posts/raw/:name", RawPost(svc))
	app.Get("/posts/:name", ShowPost(svc))
}

// HealthCheck reports whether the content store directories are reachable.
func HealthCheck(svc service.PostService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := svc.Ping(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "storage unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200 while the process is serving.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// CreatePost stores the raw request body, preamble included, and answers
// with the allocated name. Bodies larger than the app's BodyLimit are
// rejected with 413, also when the body is streamed.
func CreatePost(svc service.PostService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := int64(c.App().Config().BodyLimit)
		if cl := c.Request().Header.ContentLength(); cl > 0 && int64(cl) > limit {
			return writeError(c, fiber.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
		}

		body := &limitedBody{r: requestBody(c), n: limit}
		post, err := svc.Create(c.UserContext(), body, c.Context().RemoteAddr().String())
		if err != nil {
			var ioErr *store.IOError
			switch {
			case errors.Is(err, errBodyTooLarge):
				return writeError(c, fiber.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			case errors.As(err, &ioErr):
				return writeError(c, fiber.StatusInternalServerError, "INGEST_FAILED", ingestFailure(ioErr))
			case errors.Is(err, store.ErrAllocationExhausted), errors.Is(err, store.ErrExists):
				return writeError(c, fiber.StatusServiceUnavailable, "NAME_UNAVAILABLE", "could not allocate a post name")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		c.Location("/posts/" + post.Name)
		return c.Status(fiber.StatusCreated).SendString(post.Name)
	}
}

// requestBody prefers the streamed body so large uploads are not buffered.
func requestBody(c *fiber.Ctx) io.Reader {
	if s := c.Context().RequestBodyStream(); s != nil {
		return s
	}
	return bytes.NewReader(c.Body())
}

var errBodyTooLarge = errors.New("request body too large")

// limitedBody passes through at most n bytes and fails with errBodyTooLarge
// as soon as the stream holds more.
type limitedBody struct {
	r io.Reader
	n int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.n <= 0 {
		var one [1]byte
		n, err := l.r.Read(one[:])
		if n > 0 {
			return 0, errBodyTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}

// ingestFailure describes an ingest error without the on-disk path.
func ingestFailure(e *store.IOError) string {
	cause := e.Err
	var pathErr *fs.PathError
	if errors.As(cause, &pathErr) {
		cause = pathErr.Err
	}
	msg := e.Op
	if e.Name != "" {
		msg += " " + e.Name
	}
	return msg + ": " + cause.Error()
}

// ListPosts answers with one tab-separated line per post, or JSON when the
// client asks for it.
func ListPosts(svc service.PostService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		posts, err := svc.List(c.UserContext())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		if posts == nil {
			posts = []model.Post{}
		}

		if c.Accepts(fiber.MIMETextPlain, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON {
			return c.JSON(posts)
		}

		var b strings.Builder
		for _, p := range posts {
			b.WriteString(p.Name)
			b.WriteByte('\t')
			if p.Meta.Known {
				b.WriteString(strconv.FormatInt(p.Meta.Size, 10))
				b.WriteByte('\t')
				b.WriteString(p.Meta.CreatedAt.UTC().Format(time.RFC3339))
				b.WriteByte('\t')
				b.WriteString(p.Meta.Origin)
			} else {
				b.WriteString("?\t?\t?")
			}
			b.WriteByte('\n')
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(b.String())
	}
}

// RawPost streams the full payload of a post.
func RawPost(svc service.PostService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, post, err := svc.Open(c.UserContext(), c.Params("name"))
		if err != nil {
			return writeLookupError(c, err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		return c.SendStream(rc, int(post.StoredSize))
	}
}

// ShowPost renders the HTML view: a bounded preview plus the post listing.
func ShowPost(svc service.PostService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		view, err := svc.Preview(c.UserContext(), c.Params("name"))
		if err != nil {
			return writeLookupError(c, err)
		}
		posts, err := svc.List(c.UserContext())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return renderHTML(c, postTmpl, newPostPage(view, posts))
	}
}

// IndexPage renders the HTML listing of all posts.
func IndexPage(svc service.PostService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		posts, err := svc.List(c.UserContext())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return renderHTML(c, indexTmpl, newIndexPage(posts))
	}
}

func writeLookupError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidName):
		return writeError(c, fiber.StatusBadRequest, "INVALID_NAME", "invalid post name")
	case errors.Is(err, store.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "post not found")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
