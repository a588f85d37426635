package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/matchstore/internal/config"
)

const (
	counterSource = "// SPDX-License-Identifier: MIT\npragma solidity ^0.8.28;\n\ncontract Counter {\n\tuint256 public count;\n}\n"
	mathSource    = "// SPDX-License-Identifier: MIT\npragma solidity ^0.8.28;\n\nlibrary Math {}\n"
)

var testAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testVerification returns a perfect match on both sides.
func testVerification() *Verification {
	txHash := common.HexToHash("0x9d1b6a1c4b3c2f5a8f0c1e2d3b4a5968778695a4b3c2d1e0f9e8d7c6b5a49382")
	deployer := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	return &Verification{
		ChainID: 11155111,
		Address: testAddress,
		Status:  MatchPair{RuntimeMatch: MatchPerfect, CreationMatch: MatchPerfect},

		OnchainRuntimeCode:     []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x00, 0xa2, 0x64},
		OnchainCreationCode:    []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x34, 0x80, 0x15, 0x00, 0x2a},
		RecompiledRuntimeCode:  []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x00, 0xa2, 0x64},
		RecompiledCreationCode: []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x34, 0x80, 0x15},

		Compilation: Compilation{
			Language: "Solidity",
			Compiler: "solc",
			Version:  "0.8.28+commit.7893614a",
			Target:   CompilationTarget{Path: "contracts/Counter.sol", Name: "Counter"},
			Sources: map[string]string{
				"contracts/Counter.sol":  counterSource,
				"contracts/lib/Math.sol": mathSource,
			},
			Metadata:            json.RawMessage(`{"language":"Solidity","compiler":{"version":"0.8.28+commit.7893614a"}}`),
			Settings:            json.RawMessage(`{"optimizer":{"enabled":true,"runs":200}}`),
			CompilerOutput:      json.RawMessage(`{"abi":[]}`),
			ImmutableReferences: json.RawMessage(`{"12":[{"start":3,"length":32}]}`),
		},
		Transformations: Transformations{
			Creation: SideTransformations{
				List:   []Transformation{{Type: "insert", Reason: "constructorArguments", Offset: 8}},
				Values: TransformationValues{ConstructorArguments: "0x002a"},
			},
		},
		Deployment: Deployment{
			TxHash:      &txHash,
			BlockNumber: 4242,
			TxIndex:     3,
			Deployer:    &deployer,
		},
	}
}

// partialVerification returns a partial runtime match of the same
// deployment, recompiled with different metadata.
func partialVerification() *Verification {
	v := testVerification()
	v.Status = MatchPair{RuntimeMatch: MatchPartial}
	v.RecompiledRuntimeCode = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x00, 0xa2, 0x65}
	v.RecompiledCreationCode = nil
	return v
}

func newTestSQLiteStore(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(config.SQLiteConfig{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		MaxConns: 5,
	}, opts, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

var ledgerTables = []string{
	"code",
	"sources",
	"contracts",
	"contract_deployments",
	"compiled_contracts",
	"compiled_contracts_sources",
	"verified_contracts",
	"sourcify_matches",
}

func tableCounts(t *testing.T, s *sqlStore) map[string]int {
	t.Helper()

	counts := make(map[string]int, len(ledgerTables))
	for _, table := range ledgerTables {
		var n int
		require.NoError(t, s.db.queryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
		counts[table] = n
	}
	return counts
}
