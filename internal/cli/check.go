package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/matchstore/pkg/client"
)

func createCheckCmd() *cobra.Command {
	var chainIDs []string
	var all bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <address>...",
		Short: "Check the verification status of addresses",
		Long: `Check whether addresses are verified on the given chains.

EXAMPLES:
  # Check one address on mainnet
  matchstore check 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 --chain 1

  # Check on several chains, listing every match
  matchstore check 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 --chain 1,10 --all
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), newClient(), cmd.OutOrStdout(), args, chainIDs, all, jsonOutput)
		},
	}

	cmd.Flags().StringSliceVar(&chainIDs, "chain", nil, "chain IDs to check (required)")
	cmd.Flags().BoolVar(&all, "all", false, "list every match instead of the latest")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("chain")

	return cmd
}

func runCheck(ctx context.Context, c *client.Client, out io.Writer, addresses, chainIDs []string, all, jsonOutput bool) error {
	check := c.CheckByAddresses
	if all {
		check = c.CheckAllByAddresses
	}

	results, err := check(ctx, addresses, chainIDs)
	if err != nil {
		return fmt.Errorf("failed to check addresses: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tCHAIN\tMATCH\tRUNTIME\tCREATION\tVERIFIED")
	for _, r := range results {
		if len(r.ChainIDs) == 0 {
			fmt.Fprintf(w, "%s\t%s\tnot verified\t\t\t\n", r.Address, strings.Join(chainIDs, ","))
			continue
		}
		for _, cs := range r.ChainIDs {
			verified := ""
			if cs.VerifiedAt != nil {
				verified = cs.VerifiedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Address, cs.ChainID, cs.Status, orNone(cs.RuntimeMatch), orNone(cs.CreationMatch), verified)
		}
	}
	return w.Flush()
}
