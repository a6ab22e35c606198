package cli

import (
	"context"
	"encoding/json"

	"github.com/gabapcia/rpcparity/internal/stats"

	"github.com/urfave/cli/v3"
)

// summaryCommand prints the summary built from the record streams.
//
//	rpcparity summary --pretty
func summaryCommand(st stats.Service) *cli.Command {
	return &cli.Command{
		Name:        "summary",
		Description: "Reads the recorded streams and prints the aggregated statistics as JSON.",
		Usage:       "Prints the current summary once and exits.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Indent the JSON output",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			summary, err := st.Summary(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.Root().Writer)
			if c.Bool("pretty") {
				enc.SetIndent("", "  ")
			}

			return enc.Encode(summary)
		},
	}
}
