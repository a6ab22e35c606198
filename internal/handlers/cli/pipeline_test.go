package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/urfave/cli/v3"
)

func runStart(ctx context.Context, sp *samplerMock, srv *serverMock) error {
	app := &cli.Command{Commands: []*cli.Command{startCommand(sp, srv)}}
	return app.Run(ctx, []string{"rpcparity", "start"})
}

func TestStartCommand(t *testing.T) {
	t.Run("should create command with correct metadata", func(t *testing.T) {
		cmd := startCommand(new(samplerMock), new(serverMock))

		assert.Equal(t, "start", cmd.Name)
		assert.Len(t, cmd.Flags, 0)
		assert.NotNil(t, cmd.Action)
	})

	t.Run("should return error when the server fails to start", func(t *testing.T) {
		sp, srv := new(samplerMock), new(serverMock)
		srv.On("Start", mock.Anything).Return(assert.AnError).Once()

		err := runStart(t.Context(), sp, srv)
		assert.ErrorIs(t, err, assert.AnError)
		sp.AssertNotCalled(t, "Start", mock.Anything)
	})

	t.Run("should stop the server when the sampler fails to start", func(t *testing.T) {
		sp, srv := new(samplerMock), new(serverMock)
		srv.On("Start", mock.Anything).Return(nil).Once()
		sp.On("Start", mock.Anything).Return(assert.AnError).Once()
		srv.On("Close", mock.Anything).Return(nil).Once()

		err := runStart(t.Context(), sp, srv)
		assert.ErrorIs(t, err, assert.AnError)
		srv.AssertExpectations(t)
		sp.AssertNotCalled(t, "Close")
	})

	t.Run("should shut down in order when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())

		var order []string
		sp, srv := new(samplerMock), new(serverMock)
		srv.On("Start", mock.Anything).Return(nil).Once()
		sp.On("Start", mock.Anything).Return(nil).Run(func(mock.Arguments) { cancel() }).Once()
		sp.On("Close").Run(func(mock.Arguments) { order = append(order, "sampler") }).Once()
		srv.On("Close", mock.Anything).Return(nil).Run(func(mock.Arguments) { order = append(order, "server") }).Once()

		done := make(chan error, 1)
		go func() { done <- runStart(ctx, sp, srv) }()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("start command did not return")
		}

		assert.Equal(t, []string{"sampler", "server"}, order)
		sp.AssertExpectations(t)
		srv.AssertExpectations(t)
	})
}
