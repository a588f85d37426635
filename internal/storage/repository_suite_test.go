package storage

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRepositorySuite exercises a backend that writes the repository layout.
func runRepositorySuite(t *testing.T, b Backend) {
	ctx := context.Background()

	assert.False(t, b.Capabilities().Has(CapabilityPaginate))
	assert.True(t, b.Capabilities().Has(CapabilityWrite|CapabilityRead|CapabilityFiles))

	t.Run("PartialThenFull", func(t *testing.T) {
		v := partialVerification()
		v.Address = common.HexToAddress("0x00000000000000000000000000000000000000a1")
		require.NoError(t, b.StoreVerification(ctx, v))

		matches, err := b.CheckAllByChainAndAddress(ctx, v.ChainID, v.Address)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, MatchPartial, matches[0].RuntimeMatch)

		files, err := b.GetFiles(ctx, v.ChainID, v.Address)
		require.NoError(t, err)
		assert.False(t, files.Full)
		assert.Equal(t, []byte(counterSource), files.Files["sources/contracts/Counter.sol"])

		full := testVerification()
		full.Address = v.Address
		require.NoError(t, b.StoreVerification(ctx, full))

		matches, err = b.CheckAllByChainAndAddress(ctx, v.ChainID, v.Address)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, MatchPerfect, matches[0].RuntimeMatch)

		files, err = b.GetFiles(ctx, v.ChainID, v.Address)
		require.NoError(t, err)
		assert.True(t, files.Full)
		assert.Equal(t, full.Address.Hex(), files.Address)
		assert.Equal(t, full.Deployment.TxHash.Hex(), string(files.Files[creatorTxHashFile]))
		assert.Equal(t, "0x002a", string(files.Files[constructorArgsFile]))
		assert.Contains(t, files.Files, metadataFile)
		assert.Contains(t, files.Files, immutableReferencesFile)
	})

	t.Run("RewriteDropsStaleFiles", func(t *testing.T) {
		v := testVerification()
		v.Address = common.HexToAddress("0x00000000000000000000000000000000000000a2")
		require.NoError(t, b.StoreVerification(ctx, v))

		v.Compilation.Sources = map[string]string{"contracts/Counter.sol": counterSource}
		require.NoError(t, b.StoreVerification(ctx, v))

		files, err := b.GetFiles(ctx, v.ChainID, v.Address)
		require.NoError(t, err)
		assert.Contains(t, files.Files, "sources/contracts/Counter.sol")
		assert.NotContains(t, files.Files, "sources/contracts/lib/Math.sol")
	})

	t.Run("SourcePathsStayInsideMatch", func(t *testing.T) {
		v := testVerification()
		v.Address = common.HexToAddress("0x00000000000000000000000000000000000000a3")
		v.Compilation.Sources = map[string]string{"../../../escape.sol": mathSource}
		require.NoError(t, b.StoreVerification(ctx, v))

		files, err := b.GetFiles(ctx, v.ChainID, v.Address)
		require.NoError(t, err)
		assert.Equal(t, []byte(mathSource), files.Files["sources/escape.sol"])
	})

	t.Run("NotFound", func(t *testing.T) {
		addr := common.HexToAddress("0x00000000000000000000000000000000000000ff")

		matches, err := b.CheckAllByChainAndAddress(ctx, 1, addr)
		require.NoError(t, err)
		assert.Empty(t, matches)

		_, err = b.GetFiles(ctx, 1, addr)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := b.GetContract(ctx, 1, testAddress)
		assert.ErrorIs(t, err, ErrUnsupported)

		_, err = b.ListContracts(ctx, 1, PaginationParams{})
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("InvalidVerification", func(t *testing.T) {
		v := testVerification()
		v.Status = MatchPair{}
		assert.ErrorIs(t, b.StoreVerification(ctx, v), ErrInvalidVerification)
	})
}
