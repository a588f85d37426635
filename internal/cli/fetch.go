package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pendergraft/matchstore/pkg/client"
)

func createFetchCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <chainId> <address>",
		Short: "Download the repository files of a verified contract",
		Long: `Download the metadata, sources, and other repository files of a verified
contract into <output>/<chainId>/<address>.

EXAMPLES:
  matchstore fetch 1 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266

  # Fetch to a specific directory
  matchstore fetch 1 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 --output ./verified
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0], args[1], output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", ".", "output directory")

	return cmd
}

func runFetch(ctx context.Context, c *client.Client, out io.Writer, chainID, address, output string) error {
	files, err := c.GetFiles(ctx, chainID, address)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("%s is not verified on chain %s", address, chainID)
		}
		return fmt.Errorf("failed to get files: %w", err)
	}

	outDir := filepath.Join(output, files.ChainID, files.Address)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	fmt.Fprintf(out, "📦 Fetching %s match of %s on chain %s\n", files.Match, files.Address, files.ChainID)

	names := make([]string, 0, len(files.Files))
	for name := range files.Files {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p, err := safeJoin(outDir, name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(p, []byte(files.Files[name]), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		fmt.Fprintf(out, "  ✓ %s\n", name)
	}

	fmt.Fprintf(out, "\n✅ %d files saved to %s\n", len(names), outDir)
	return nil
}

// safeJoin keeps a server supplied file name inside dir.
func safeJoin(dir, name string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	if !strings.HasPrefix(p, filepath.Clean(dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("refusing to write %q outside %s", name, dir)
	}
	return p, nil
}
