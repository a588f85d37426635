package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pendergraft/matchstore/pkg/client"
)

func createInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info <chainId> <address>",
		Short: "Show details of a verified contract",
		Long: `Show the compilation, match status, and deployment of a verified contract.

EXAMPLES:
  matchstore info 1 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266

  # Full record as JSON
  matchstore info 1 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 --json
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0], args[1], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runInfo(ctx context.Context, c *client.Client, out io.Writer, chainID, address string, jsonOutput bool) error {
	contract, err := c.GetContract(ctx, chainID, address)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("%s is not verified on chain %s", address, chainID)
		}
		return fmt.Errorf("failed to get contract: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(contract)
	}

	fmt.Fprintf(out, "📄 %s\n\n", contract.FullyQualifiedName)
	fmt.Fprintf(out, "Address:     %s\n", contract.Address)
	fmt.Fprintf(out, "Chain:       %s\n", contract.ChainID)
	fmt.Fprintf(out, "Match:       %s (runtime %s, creation %s)\n",
		contract.Match.Match, orNone(contract.RuntimeMatch), orNone(contract.CreationMatch))
	fmt.Fprintf(out, "Compiler:    %s %s (%s)\n", contract.Compiler, contract.CompilerVersion, contract.Language)
	if contract.VerifiedAt != nil {
		fmt.Fprintf(out, "Verified:    %s\n", contract.VerifiedAt.Format("2006-01-02 15:04:05"))
	}

	d := contract.Deployment
	if d.TxHash == "" {
		fmt.Fprintln(out, "Deployment:  genesis")
	} else {
		fmt.Fprintf(out, "Deployment:  %s (block %d, index %d)\n", d.TxHash, d.BlockNumber, d.TxIndex)
	}
	if d.Deployer != "" {
		fmt.Fprintf(out, "Deployer:    %s\n", d.Deployer)
	}

	paths := make([]string, 0, len(contract.Sources))
	for p := range contract.Sources {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	fmt.Fprintf(out, "\nSources (%d):\n", len(paths))
	for _, p := range paths {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}
