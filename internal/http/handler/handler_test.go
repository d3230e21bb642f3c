package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pasteapi/internal/applog"
	"pasteapi/internal/model"
	"pasteapi/internal/service"
	serviceMocks "pasteapi/internal/service/mocks"
	"pasteapi/internal/store"
)

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var body errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthCheck(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Get("/health", HealthCheck(mockSvc))

	t.Run("healthy", func(t *testing.T) {
		mockSvc.On("Ping", mock.Anything).Return(nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		mockSvc.On("Ping", mock.Anything).Return(errors.New("posts dir missing")).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Error.Code)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreatePost(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Post("/posts/new", CreatePost(mockSvc))

	t.Run("success", func(t *testing.T) {
		var got []byte
		mockSvc.On("Create", mock.Anything, mock.MatchedBy(func(r io.Reader) bool {
			got, _ = io.ReadAll(r)
			return true
		}), mock.Anything).Return(&model.Post{Name: "Zm9vYmFy"}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/posts/new", strings.NewReader("content=hello"))
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "/posts/Zm9vYmFy", resp.Header.Get("Location"))
		assert.Equal(t, "Zm9vYmFy", readBody(t, resp))
		// the preamble is stripped by the store, not the handler
		assert.Equal(t, "content=hello", string(got))
		mockSvc.AssertExpectations(t)
	})

	t.Run("io error carries description", func(t *testing.T) {
		ioErr := &store.IOError{Op: "copy", Name: "abc", Err: errors.New("no space left on device")}
		mockSvc.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("ingest abc: %w", ioErr)).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/posts/new", strings.NewReader("content=x")))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, "INGEST_FAILED", body.Error.Code)
		assert.Contains(t, body.Error.Message, "no space left on device")
	})

	t.Run("io error hides storage path", func(t *testing.T) {
		pathErr := &fs.PathError{Op: "open", Path: "/srv/paste/posts/abc", Err: errors.New("permission denied")}
		ioErr := &store.IOError{Op: "create", Name: "abc", Err: pathErr}
		mockSvc.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("ingest abc: %w", ioErr)).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/posts/new", strings.NewReader("content=x")))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, "INGEST_FAILED", body.Error.Code)
		assert.Equal(t, "create abc: permission denied", body.Error.Message)
		assert.NotContains(t, body.Error.Message, "/srv/paste")
	})

	t.Run("body over limit while streaming", func(t *testing.T) {
		ioErr := &store.IOError{Op: "copy", Name: "abc", Err: errBodyTooLarge}
		mockSvc.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("ingest abc: %w", ioErr)).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/posts/new", strings.NewReader("content=x")))

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, resp).Error.Code)
	})

	t.Run("allocation exhausted", func(t *testing.T) {
		mockSvc.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, store.ErrAllocationExhausted).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/posts/new", strings.NewReader("content=x")))

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "NAME_UNAVAILABLE", decodeError(t, resp).Error.Code)
	})

	t.Run("other error", func(t *testing.T) {
		mockSvc.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/posts/new", strings.NewReader("content=x")))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, resp).Error.Code)
	})
}

func TestListPosts(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Get("/posts/lists", ListPosts(mockSvc))

	created := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	posts := []model.Post{
		{Name: "aaa", StoredSize: 3, Meta: model.PostMetadata{Size: 3, CreatedAt: created, Origin: "127.0.0.1:1", Known: true}},
		{Name: "bbb", StoredSize: 9},
	}

	t.Run("text", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return(posts, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/posts/lists", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "aaa\t3\t2026-10-19T06:00:00Z\t127.0.0.1:1\nbbb\t?\t?\t?\n", readBody(t, resp))
	})

	t.Run("json", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return(posts, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/posts/lists", nil)
		req.Header.Set("Accept", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var got []model.Post
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Len(t, got, 2)
		assert.True(t, got[0].Meta.Known)
		assert.False(t, got[1].Meta.Known)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return(nil, errors.New("permission denied")).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/posts/lists", nil))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestRawPost(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Get("/posts/raw/:name", RawPost(mockSvc))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("Open", mock.Anything, "abc").
			Return(io.NopCloser(strings.NewReader("payload")), &model.Post{Name: "abc", StoredSize: 7}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/posts/raw/abc", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Equal(t, "payload", readBody(t, resp))
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Open", mock.Anything, "missing").Return(nil, nil, store.ErrNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/posts/raw/missing", nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
	})

	t.Run("invalid name", func(t *testing.T) {
		mockSvc.On("Open", mock.Anything, mock.Anything).Return(nil, nil, store.ErrInvalidName).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/posts/raw/bad%20name", nil))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_NAME", decodeError(t, resp).Error.Code)
	})

	t.Run("io error", func(t *testing.T) {
		mockSvc.On("Open", mock.Anything, "broken").Return(nil, nil, &store.IOError{Op: "open", Err: errors.New("eio")}).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/posts/raw/broken", nil))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestShowPost(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Get("/posts/:name", ShowPost(mockSvc))

	t.Run("renders escaped preview and listing", func(t *testing.T) {
		view := &service.PostView{
			Post:      model.Post{Name: "abc", StoredSize: 4096, Meta: model.PostMetadata{Size: 4096, CreatedAt: time.Now(), Origin: "10.1.1.1:80", Known: true}},
			Content:   []byte("<script>alert(1)</script>"),
			Truncated: true,
		}
		mockSvc.On("Preview", mock.Anything, "abc").Return(view, nil).Once()
		mockSvc.On("List", mock.Anything).Return([]model.Post{view.Post, {Name: "nometa"}}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/posts/abc", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		html := readBody(t, resp)
		assert.NotContains(t, html, "<script>alert(1)</script>")
		assert.Contains(t, html, "&lt;script&gt;")
		assert.Contains(t, html, "4.0 KiB")
		assert.Contains(t, html, "Preview truncated")
		assert.Contains(t, html, `href="/posts/nometa"`)
		assert.Contains(t, html, "<td>?</td>")
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Preview", mock.Anything, "missing").Return(nil, store.ErrNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/posts/missing", nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestIndexPage(t *testing.T) {
	mockSvc := new(serviceMocks.MockPostService)
	app := fiber.New()
	app.Get("/", IndexPage(mockSvc))

	mockSvc.On("List", mock.Anything).Return([]model.Post{}, nil).Once()

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "No posts yet.")
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})

	mockSvc := new(serviceMocks.MockPostService)
	RegisterRoutes(app, mockSvc)

	t.Run("not found route", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/non-existent", nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/health", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, resp).Error.Code)
	})

	t.Run("openapi spec", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "/posts/new")
	})
}

func TestEndToEnd(t *testing.T) {
	st, err := store.New(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	svc := service.NewPostService(st, service.Config{Logger: applog.New(io.Discard, time.UTC)})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	RegisterRoutes(app, svc)

	payload := bytes.Repeat([]byte("abcdefghij"), 205) // 2050 bytes
	req := httptest.NewRequest(http.MethodPost, "/posts/new", bytes.NewReader(append([]byte("content="), payload...)))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	name := readBody(t, resp)
	require.Len(t, name, 8)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/posts/raw/"+name, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(payload), readBody(t, resp))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/posts/lists", nil))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(readBody(t, resp), name+"\t2050\t"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/posts/"+name, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	html := readBody(t, resp)
	assert.Contains(t, html, string(payload[:2048]))
	assert.NotContains(t, html, string(payload))
	assert.Contains(t, html, "Preview truncated")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/posts/raw/nonexistent", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLimitedBody(t *testing.T) {
	t.Run("exactly at the limit", func(t *testing.T) {
		b, err := io.ReadAll(&limitedBody{r: strings.NewReader("12345678"), n: 8})
		require.NoError(t, err)
		assert.Equal(t, "12345678", string(b))
	})

	t.Run("one byte over", func(t *testing.T) {
		_, err := io.ReadAll(&limitedBody{r: strings.NewReader("123456789"), n: 8})
		assert.ErrorIs(t, err, errBodyTooLarge)
	})

	t.Run("small reads", func(t *testing.T) {
		_, err := io.ReadAll(&limitedBody{r: iotest.OneByteReader(strings.NewReader("123456789")), n: 8})
		assert.ErrorIs(t, err, errBodyTooLarge)
	})
}

func TestCreatePostBodyLimit(t *testing.T) {
	st, err := store.New(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	svc := service.NewPostService(st, service.Config{Logger: applog.New(io.Discard, time.UTC)})

	app := fiber.New(AppConfig(4096))
	RegisterRoutes(app, svc)

	t.Run("oversized upload is rejected", func(t *testing.T) {
		body := append([]byte("content="), bytes.Repeat([]byte("x"), 300000)...)
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/posts/new", bytes.NewReader(body)), -1)
		require.NoError(t, err)

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, resp).Error.Code)

		posts, err := st.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, posts)
	})

	t.Run("upload within limit is stored", func(t *testing.T) {
		body := append([]byte("content="), bytes.Repeat([]byte("y"), 4000)...)
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/posts/new", bytes.NewReader(body)), -1)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		post, err := st.Stat(context.Background(), readBody(t, resp))
		require.NoError(t, err)
		assert.Equal(t, int64(4000), post.StoredSize)
	})
}
