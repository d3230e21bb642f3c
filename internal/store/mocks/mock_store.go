package mocks

import (
	"context"
	"io"
	"time"

	"pasteapi/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Allocate(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Ingest(ctx context.Context, name string, input io.Reader, origin string, startedAt time.Time) (int64, error) {
	args := m.Called(ctx, name, input, origin, startedAt)
	if f, ok := args.Get(0).(func(context.Context, string, io.Reader, string, time.Time) int64); ok {
		return f(ctx, name, input, origin, startedAt), args.Error(1)
	}
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockStore) Stat(ctx context.Context, name string) (model.Post, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(model.Post), args.Error(1)
}

func (m *MockStore) List(ctx context.Context) ([]model.Post, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Post), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
