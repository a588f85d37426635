package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/matchstore/pkg/client"
)

var server string

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "matchstore",
		Short:         "Verified contract match store CLI",
		Long:          `matchstore submits verification exports to a matchstore server and reads back verified contracts.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default $MATCHSTORE_SERVER or http://localhost:8080)")

	rootCmd.AddCommand(createSubmitCmd())
	rootCmd.AddCommand(createCheckCmd())
	rootCmd.AddCommand(createInfoCmd())
	rootCmd.AddCommand(createListCmd())
	rootCmd.AddCommand(createFetchCmd())

	return rootCmd
}

// getServer returns the server URL from flag, env, or the default
func getServer() string {
	if server != "" {
		return server
	}
	if env := os.Getenv("MATCHSTORE_SERVER"); env != "" {
		return env
	}
	return "http://localhost:8080"
}

func newClient() *client.Client {
	return client.New(getServer())
}
