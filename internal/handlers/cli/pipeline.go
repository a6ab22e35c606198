package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gabapcia/rpcparity/internal/sampler"

	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 15 * time.Second

// startCommand runs the sampler and the query server until SIGINT, SIGTERM or
// the end of ctx.
//
//	rpcparity start
func startCommand(sp sampler.Service, srv Server) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts sampling both backends and serving the summary, metrics and health endpoints.",
		Usage:       "Runs until Ctrl+C or a termination signal, then drains pending re-checks.",
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			if err := srv.Start(ctx); err != nil {
				return err
			}

			if err := sp.Start(ctx); err != nil {
				return errors.Join(err, stopServer(srv))
			}

			select {
			case <-quit:
			case <-ctx.Done():
			}

			sp.Close()
			return stopServer(srv)
		},
	}
}

func stopServer(srv Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Close(ctx)
}
