package cli

import (
	"context"
	"os"

	"github.com/gabapcia/rpcparity/internal/sampler"
	"github.com/gabapcia/rpcparity/internal/stats"

	"github.com/urfave/cli/v3"
)

// Server is the query surface served next to the sampler.
type Server interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
}

// Run executes the rpcparity CLI with os.Args.
//
//   - `start`: runs the sampler and the query server until interrupted.
//   - `summary`: prints the current summary as JSON.
func Run(ctx context.Context, sp sampler.Service, srv Server, st stats.Service) error {
	return newApp(sp, srv, st).Run(ctx, os.Args)
}

func newApp(sp sampler.Service, srv Server, st stats.Service) *cli.Command {
	return &cli.Command{
		EnableShellCompletion: true,
		Name:                  "rpcparity",
		Description:           "Continuously compares two EVM JSON-RPC backends and reports where they diverge.",
		Usage:                 "rpcparity [command] [flags]",
		Commands: []*cli.Command{
			startCommand(sp, srv),
			summaryCommand(st),
		},
	}
}
