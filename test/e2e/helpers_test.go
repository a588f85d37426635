//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/matchstore/internal/config"
	"github.com/pendergraft/matchstore/internal/server"
	"github.com/pendergraft/matchstore/internal/storage"
	"github.com/pendergraft/matchstore/internal/verification/domain"
	"github.com/pendergraft/matchstore/pkg/client"
)

const testChainID = "11155111"

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	RepositoryDir     string
	TestServer        *httptest.Server
	Backends          map[storage.BackendID]storage.Backend
	Pool              pond.Pool
}

// Close stops the server and releases the backends.
func (tc *TestContext) Close() {
	tc.TestServer.Close()
	tc.Pool.StopAndWait()
	if err := storage.CloseAll(tc.Backends); err != nil {
		fmt.Printf("closing backends: %v\n", err)
	}
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("matchstore"),
		postgres.WithUsername("matchstore"),
		postgres.WithPassword("matchstore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// startServerE starts the matchstore server in-process. Postgres is the
// read and writeOrErr backend, the filesystem repository the writeOrWarn
// mirror.
func startServerE(ctx context.Context, tc *TestContext) error {
	cfg := config.Default()
	cfg.Storage.Read = config.BackendPostgres
	cfg.Storage.WriteOrErr = []string{config.BackendPostgres}
	cfg.Storage.WriteOrWarn = []string{config.BackendRepositoryV1}
	cfg.Storage.Postgres.URL = tc.ConnString
	cfg.Storage.Repository.Path = tc.RepositoryDir
	cfg.Logging = config.LoggingConfig{Level: "debug", Format: "text"}
	cfg.Metrics.Enabled = false

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	backends, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("opening backends: %w", err)
	}
	for id, b := range backends {
		if err := b.Migrate(ctx); err != nil {
			storage.CloseAll(backends)
			return fmt.Errorf("migrating %s: %w", id, err)
		}
	}

	pool := pond.NewPool(cfg.Storage.FanOutWorkers)
	svc, err := domain.NewService(backends, domain.RoutingFromConfig(cfg.Storage), pool, logger)
	if err != nil {
		pool.StopAndWait()
		storage.CloseAll(backends)
		return fmt.Errorf("creating service: %w", err)
	}

	srv := server.New(cfg, domain.LoggingMiddleware(logger)(svc), logger)

	tc.Backends = backends
	tc.Pool = pool
	tc.TestServer = httptest.NewServer(srv.Handler())
	return nil
}

// newClient creates a client for the test server
func newClient(ts *httptest.Server) *client.Client {
	return client.New(ts.URL)
}

// newAddress returns a fresh contract address so tests sharing the server
// never collide.
func newAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// exportOptions tweak the verification export built by newExport.
type exportOptions struct {
	runtimeMatch  any
	creationMatch any
	genesis       bool
	source        string
}

// newExport builds a verification export of a Counter contract linked
// against one library.
func newExport(address string, opts exportOptions) map[string]any {
	if opts.runtimeMatch == nil {
		opts.runtimeMatch = "perfect"
	}
	if opts.source == "" {
		opts.source = "contract Counter { uint256 public count; }"
	}

	export := map[string]any{
		"address": address,
		"chainId": testChainID,
		"status": map[string]any{
			"runtimeMatch":  opts.runtimeMatch,
			"creationMatch": opts.creationMatch,
		},
		"onchainRuntimeBytecode": "0x6080604052730123456789abcdef0123456789abcdef0123456700a264",
		"compilation": map[string]any{
			"language":          "Solidity",
			"compilerVersion":   "v0.8.28+commit.7893614a",
			"compilationTarget": map[string]string{"path": "contracts/Counter.sol", "name": "Counter"},
			"sources":           map[string]string{"contracts/Counter.sol": opts.source},
			"runtimeBytecode":   "0x6080604052730123456789abcdef0123456789abcdef0123456700a264",
			"creationBytecode":  "0x6080604052348015",
			"metadata":          map[string]any{"language": "Solidity", "version": 1},
		},
		"transformations": map[string]any{
			"runtime": map[string]any{
				"list": []map[string]any{
					{"type": "replace", "reason": "library", "offset": 6, "id": "contracts/lib/Math.sol:Math"},
				},
				"values": map[string]any{
					"libraries": map[string]string{"contracts/lib/Math.sol:Math": "0x0123456789abcdef0123456789abcdef01234567"},
				},
			},
		},
		"deploymentInfo": map[string]any{},
	}

	if opts.creationMatch != nil {
		export["onchainCreationBytecode"] = "0x608060405234801500002a"
	}
	if !opts.genesis {
		export["deploymentInfo"] = map[string]any{
			"txHash":      common.BytesToHash(crypto.Keccak256([]byte(address))).Hex(),
			"blockNumber": 4242,
			"txIndex":     3,
			"deployer":    "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		}
	}
	return export
}

// assertHTTPError checks that err is an API error with the given code
func assertHTTPError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected *client.APIError, got %T", err)
	require.Equal(t, code, apiErr.Code)
}
