package mocks

import (
	"context"
	"io"

	"pasteapi/internal/model"
	"pasteapi/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockPostService struct {
	mock.Mock
}

func (m *MockPostService) Create(ctx context.Context, body io.Reader, origin string) (*model.Post, error) {
	args := m.Called(ctx, body, origin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Post), args.Error(1)
}

func (m *MockPostService) Open(ctx context.Context, name string) (io.ReadCloser, *model.Post, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(*model.Post), args.Error(2)
}

func (m *MockPostService) Preview(ctx context.Context, name string) (*service.PostView, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PostView), args.Error(1)
}

func (m *MockPostService) List(ctx context.Context) ([]model.Post, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Post), args.Error(1)
}

func (m *MockPostService) SyncMirror(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockPostService) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
