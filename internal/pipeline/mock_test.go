package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/research"
)

// --- Research Mock ---

type mockResearch struct {
	mock.Mock
}

func (m *mockResearch) Research(ctx context.Context, text string, op prompt.Operation, timeout time.Duration) (*research.Result, error) {
	args := m.Called(ctx, text, op, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*research.Result), args.Error(1)
}

func (m *mockResearch) GenerateImage(ctx context.Context, text, alt, size string) (*research.ImageRef, error) {
	args := m.Called(ctx, text, alt, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*research.ImageRef), args.Error(1)
}

func (m *mockResearch) TestCredential(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
