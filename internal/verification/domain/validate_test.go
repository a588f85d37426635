package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToVerification(t *testing.T) {
	v, err := toVerification(testExport())
	require.NoError(t, err)

	assert.Equal(t, int64(11155111), v.ChainID)
	assert.Equal(t, common.HexToAddress(testAddress), v.Address)
	assert.Equal(t, "solidity", v.Compilation.Language)
	assert.Equal(t, "solc", v.Compilation.Compiler, "compiler defaults from the language")
	assert.Equal(t, "0.8.28+commit.7893614a", v.Compilation.Version)
	assert.Len(t, v.OnchainRuntimeCode, 29)
	assert.Len(t, v.RecompiledCreationCode, 8)
	require.NotNil(t, v.Deployment.TxHash)
	assert.Equal(t, int64(4242), v.Deployment.BlockNumber)
	require.NotNil(t, v.Deployment.Deployer)
}

func TestToVerification_Genesis(t *testing.T) {
	export := testExport()
	export.DeploymentInfo = DeploymentInfo{}

	v, err := toVerification(export)
	require.NoError(t, err)
	assert.Nil(t, v.Deployment.TxHash)
	assert.Nil(t, v.Deployment.Deployer)
}

func TestToVerification_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *VerificationExport)
		field  string
	}{
		{"bad address", func(e *VerificationExport) { e.Address = "0x1234" }, "address"},
		{"bad chain", func(e *VerificationExport) { e.ChainID = "mainnet" }, "chainId"},
		{"zero chain", func(e *VerificationExport) { e.ChainID = "0" }, "chainId"},
		{"no match", func(e *VerificationExport) { e.Status = MatchPair{} }, "status"},
		{"unknown status", func(e *VerificationExport) { e.Status.RuntimeMatch = "exact" }, "status"},
		{"missing onchain runtime", func(e *VerificationExport) { e.OnchainRuntimeBytecode = "" }, "onchainRuntimeBytecode"},
		{"missing recompiled runtime", func(e *VerificationExport) { e.Compilation.RuntimeBytecode = "0x" }, "compilation.runtimeBytecode"},
		{"creation match without onchain creation", func(e *VerificationExport) { e.OnchainCreationBytecode = "" }, "onchainCreationBytecode"},
		{"creation match without recompiled creation", func(e *VerificationExport) { e.Compilation.CreationBytecode = "" }, "compilation.creationBytecode"},
		{"malformed hex", func(e *VerificationExport) { e.OnchainRuntimeBytecode = "0xzz" }, "onchainRuntimeBytecode"},
		{"missing prefix", func(e *VerificationExport) { e.Compilation.RuntimeBytecode = "6080" }, "compilation.runtimeBytecode"},
		{"library out of range", func(e *VerificationExport) {
			e.Transformations.Runtime.List[0].Offset = 20
		}, "transformations.runtime"},
		{"library offset overflows", func(e *VerificationExport) {
			e.Transformations.Runtime.List[0].Offset = math.MaxInt - 5
		}, "transformations.runtime"},
		{"no language", func(e *VerificationExport) { e.Compilation.Language = "" }, "compilation.language"},
		{"unknown language without compiler", func(e *VerificationExport) { e.Compilation.Language = "fe" }, "compilation.compiler"},
		{"bad version", func(e *VerificationExport) { e.Compilation.CompilerVersion = "0.8" }, "compilation.compilerVersion"},
		{"no target", func(e *VerificationExport) { e.Compilation.CompilationTarget = CompilationTarget{} }, "compilation.compilationTarget"},
		{"empty source path", func(e *VerificationExport) { e.Compilation.Sources[""] = "x" }, "compilation.sources"},
		{"bad deployer", func(e *VerificationExport) { e.DeploymentInfo.Deployer = "deployer" }, "deploymentInfo.deployer"},
		{"short tx hash", func(e *VerificationExport) { e.DeploymentInfo.TxHash = "0x1234" }, "deploymentInfo.txHash"},
		{"tx hash without block", func(e *VerificationExport) { e.DeploymentInfo.BlockNumber = nil }, "deploymentInfo.blockNumber"},
		{"negative tx index", func(e *VerificationExport) { e.DeploymentInfo.TxIndex = int64Ptr(-1) }, "deploymentInfo.txIndex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			export := testExport()
			tt.mutate(export)

			_, err := toVerification(export)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestChainID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  ChainID
	}{
		{`{"chainId": 1}`, "1"},
		{`{"chainId": "11155111"}`, "11155111"},
		{`{"chainId": 8453}`, "8453"},
	}
	for _, tt := range tests {
		var e VerificationExport
		require.NoError(t, json.Unmarshal([]byte(tt.input), &e))
		assert.Equal(t, tt.want, e.ChainID)
	}

	var e VerificationExport
	assert.Error(t, json.Unmarshal([]byte(`{"chainId": true}`), &e))
}

func TestVerificationExport_DecodesNullStatus(t *testing.T) {
	var e VerificationExport
	require.NoError(t, json.Unmarshal([]byte(`{"status":{"runtimeMatch":"partial","creationMatch":null}}`), &e))
	assert.Equal(t, MatchPartial, e.Status.RuntimeMatch)
	assert.Equal(t, MatchNone, e.Status.CreationMatch)
}
