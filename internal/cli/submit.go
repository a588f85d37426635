package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/matchstore/pkg/client"
)

func createSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <export.json>...",
		Short: "Submit verification exports to the server",
		Long: `Submit one or more verification export files to the server.

Each export is stored independently; the command fails if any export is rejected.

EXAMPLES:
  # Submit a single export
  matchstore submit out/Counter.json

  # Submit every export of a directory
  matchstore submit out/*.json
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), newClient(), cmd.OutOrStdout(), args)
		},
	}
}

func runSubmit(ctx context.Context, c *client.Client, out io.Writer, paths []string) error {
	failed := 0
	for _, path := range paths {
		resp, err := submitFile(ctx, c, path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			continue
		}

		fmt.Fprintf(out, "✓ %s: %s on chain %s (runtime %s, creation %s)\n",
			path, resp.Address, resp.ChainID, orNone(resp.RuntimeMatch), orNone(resp.CreationMatch))
		for _, w := range resp.Warnings {
			fmt.Fprintf(out, "  ⚠️  %s\n", w)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d exports failed", failed, len(paths))
	}
	return nil
}

func submitFile(ctx context.Context, c *client.Client, path string) (*client.StoreResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("not a JSON document")
	}
	return c.StoreVerification(ctx, json.RawMessage(data))
}

func orNone(status string) string {
	if status == "" {
		return "none"
	}
	return status
}
