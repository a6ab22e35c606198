package cli

import (
	"context"

	"github.com/gabapcia/rpcparity/internal/stats"

	"github.com/stretchr/testify/mock"
)

type samplerMock struct {
	mock.Mock
}

func (m *samplerMock) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *samplerMock) Close() {
	m.Called()
}

type serverMock struct {
	mock.Mock
}

func (m *serverMock) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *serverMock) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type statsMock struct {
	mock.Mock
}

func (m *statsMock) Summary(ctx context.Context) (stats.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(stats.Summary), args.Error(1)
}
