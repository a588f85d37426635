package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/matchstore/pkg/client"
)

func createListCmd() *cobra.Command {
	var limit int
	var cursor string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list <chainId>",
		Short: "List verified contracts of a chain",
		Long: `List the verified contracts of a chain, most recent first.

EXAMPLES:
  matchstore list 1

  # Next page
  matchstore list 1 --cursor 4211

  # Output as JSON
  matchstore list 1 --json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0], limit, cursor, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of items to show")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runList(ctx context.Context, c *client.Client, out io.Writer, chainID string, limit int, cursor string, jsonOutput bool) error {
	resp, err := c.ListContracts(ctx, chainID, limit, cursor)
	if err != nil {
		return fmt.Errorf("failed to list contracts: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"contracts":  resp.Data,
			"count":      len(resp.Data),
			"hasMore":    resp.Pagination.HasMore,
			"nextCursor": resp.Pagination.NextCursor,
		})
	}

	if len(resp.Data) == 0 {
		fmt.Fprintf(out, "No contracts verified on chain %s\n", chainID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tMATCH\tRUNTIME\tCREATION")
	for _, m := range resp.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.MatchID, m.Address, m.Match, orNone(m.RuntimeMatch), orNone(m.CreationMatch))
	}
	w.Flush()

	if resp.Pagination.HasMore {
		fmt.Fprintf(out, "\n(showing %d contracts, next page: --cursor %s)\n", len(resp.Data), resp.Pagination.NextCursor)
	}

	return nil
}
