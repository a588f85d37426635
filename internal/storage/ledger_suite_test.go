package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory opens a migrated, empty SQL store.
type storeFactory func(t *testing.T, opts Options) *sqlStore

// runLedgerSuite exercises the SQL ledger. It runs against every SQL
// dialect.
func runLedgerSuite(t *testing.T, newStore storeFactory) {
	t.Run("StoreAndGetContract", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()
		v := testVerification()

		require.NoError(t, s.StoreVerification(ctx, v))

		got, err := s.GetContract(ctx, v.ChainID, v.Address)
		require.NoError(t, err)

		assert.Equal(t, testAddress.Hex(), got.Address)
		assert.Equal(t, int64(11155111), got.ChainID)
		assert.Equal(t, MatchPerfect, got.RuntimeMatch)
		assert.Equal(t, MatchPerfect, got.CreationMatch)
		assert.Equal(t, "solc", got.Compiler)
		assert.Equal(t, "Solidity", got.Language)
		assert.Equal(t, "0.8.28+commit.7893614a", got.CompilerVersion)
		assert.Equal(t, "Counter", got.Name)
		assert.Equal(t, "contracts/Counter.sol:Counter", got.FullyQualifiedName)
		assert.Equal(t, v.OnchainRuntimeCode, got.OnchainRuntimeCode)
		assert.Equal(t, v.OnchainCreationCode, got.OnchainCreationCode)
		assert.Equal(t, v.RecompiledCreationCode, got.RecompiledCreationCode)
		assert.Equal(t, v.Deployment.TxHash.Hex(), got.TxHash)
		assert.Equal(t, int64(4242), got.BlockNumber)
		assert.Equal(t, int64(3), got.TxIndex)
		assert.Equal(t, v.Deployment.Deployer.Hex(), got.Deployer)
		assert.Equal(t, v.Compilation.Sources, got.Sources)
		assert.JSONEq(t, string(v.Compilation.Metadata), string(got.Metadata))
		assert.JSONEq(t, string(v.Compilation.Settings), string(got.CompilerSettings))
		assert.False(t, got.VerifiedAt.IsZero())
	})

	t.Run("SentinelCodeRow", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		// Migrate is idempotent and seeds exactly one NULL code row.
		require.NoError(t, s.Migrate(ctx))

		var n int
		require.NoError(t, s.db.queryRow(ctx, "SELECT COUNT(*) FROM code WHERE code IS NULL").Scan(&n))
		assert.Equal(t, 1, n)

		var hash []byte
		require.NoError(t, s.db.queryRow(ctx, "SELECT code_hash FROM code WHERE code IS NULL").Scan(&hash))
		assert.Equal(t, emptyCodeHash, hash)
	})

	t.Run("Idempotent", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		require.NoError(t, s.StoreVerification(ctx, testVerification()))
		before := tableCounts(t, s)

		require.NoError(t, s.StoreVerification(ctx, testVerification()))
		after := tableCounts(t, s)

		assert.Equal(t, before, after)
		assert.Equal(t, 1, after["sourcify_matches"])
		assert.Equal(t, 1, after["verified_contracts"])
		assert.Equal(t, 2, after["sources"])
		// sentinel + 2 onchain + 1 recompiled creation (runtime is shared)
		assert.Equal(t, 4, after["code"])
	})

	t.Run("ContentIsShared", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		first := testVerification()
		second := testVerification()
		second.Address = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
		hash := common.HexToHash("0x01")
		second.Deployment.TxHash = &hash

		require.NoError(t, s.StoreVerification(ctx, first))
		require.NoError(t, s.StoreVerification(ctx, second))

		counts := tableCounts(t, s)
		assert.Equal(t, 4, counts["code"])
		assert.Equal(t, 2, counts["sources"])
		assert.Equal(t, 1, counts["contracts"])
		assert.Equal(t, 1, counts["compiled_contracts"])
		assert.Equal(t, 2, counts["contract_deployments"])
		assert.Equal(t, 2, counts["sourcify_matches"])
	})

	t.Run("ConcurrentIdenticalSubmissions", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.StoreVerification(ctx, testVerification())
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			assert.NoError(t, err, "submission %d", i)
		}

		counts := tableCounts(t, s)
		assert.Equal(t, 1, counts["sourcify_matches"])
		assert.Equal(t, 1, counts["verified_contracts"])
		assert.Equal(t, 1, counts["contract_deployments"])
		assert.Equal(t, 4, counts["code"])
	})

	t.Run("ConcurrentCodeInsertsConverge", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()
		code := []byte{0xde, 0xad, 0xbe, 0xef}

		const n = 16
		var wg sync.WaitGroup
		hashes := make([][]byte, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				hashes[i], errs[i] = s.InsertOrGetCode(ctx, code)
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, sha256Hash(code), hashes[i])
		}

		var rows int
		require.NoError(t, s.db.queryRow(ctx, "SELECT COUNT(*) FROM code WHERE code_hash = ?", sha256Hash(code)).Scan(&rows))
		assert.Equal(t, 1, rows)
	})

	t.Run("SourceBatchRecoversExistingHashes", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		existing, err := s.InsertOrGetSource(ctx, counterSource)
		require.NoError(t, err)

		got, err := s.InsertOrGetSources(ctx, map[string]string{
			"contracts/Counter.sol":     counterSource,
			"contracts/CounterCopy.sol": counterSource,
			"contracts/lib/Math.sol":    mathSource,
		})
		require.NoError(t, err)

		require.Len(t, got, 3)
		assert.Equal(t, existing, got["contracts/Counter.sol"])
		assert.Equal(t, existing, got["contracts/CounterCopy.sol"])
		assert.Equal(t, sha256Hash([]byte(mathSource)), got["contracts/lib/Math.sol"])
		assert.Equal(t, 2, tableCounts(t, s)["sources"])
	})

	t.Run("LargeSourceBatch", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		sources := make(map[string]string, sourceBatchSize+15)
		for i := 0; i < sourceBatchSize+15; i++ {
			sources[fmt.Sprintf("contracts/C%d.sol", i)] = fmt.Sprintf("contract C%d {}", i)
		}

		got, err := s.InsertOrGetSources(ctx, sources)
		require.NoError(t, err)
		assert.Len(t, got, len(sources))
		assert.Equal(t, len(sources), tableCounts(t, s)["sources"])
	})

	t.Run("BetterMatchRepointsAndKeepsHistory", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		require.NoError(t, s.StoreVerification(ctx, partialVerification()))
		require.NoError(t, s.StoreVerification(ctx, testVerification()))

		matches, err := s.CheckAllByChainAndAddress(ctx, 11155111, testAddress)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, MatchPerfect, matches[0].RuntimeMatch)
		assert.Equal(t, MatchPerfect, matches[0].CreationMatch)

		counts := tableCounts(t, s)
		assert.Equal(t, 2, counts["verified_contracts"])
		assert.Equal(t, 2, counts["compiled_contracts"])
		assert.Equal(t, 1, counts["sourcify_matches"])
	})

	t.Run("ConditionalPromotionRefusesWorseMatch", func(t *testing.T) {
		s := newStore(t, Options{ConditionalPromotion: true})
		ctx := context.Background()

		require.NoError(t, s.StoreVerification(ctx, testVerification()))
		before := tableCounts(t, s)

		err := s.StoreVerification(ctx, partialVerification())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPromotionRefused))

		var perr *PersistenceError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, s.id, perr.Backend)
		assert.Equal(t, int64(11155111), perr.ChainID)
		assert.Equal(t, testAddress.Hex(), perr.Address)

		// the whole transaction rolled back
		assert.Equal(t, before, tableCounts(t, s))

		got, err := s.GetContract(ctx, 11155111, testAddress)
		require.NoError(t, err)
		assert.Equal(t, MatchPerfect, got.RuntimeMatch)
	})

	t.Run("ConditionalPromotionAcceptsEqualMatch", func(t *testing.T) {
		s := newStore(t, Options{ConditionalPromotion: true})
		ctx := context.Background()

		require.NoError(t, s.StoreVerification(ctx, testVerification()))
		require.NoError(t, s.StoreVerification(ctx, testVerification()))
	})

	t.Run("GenesisDeployment", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		v := testVerification()
		v.Deployment = Deployment{}
		require.NoError(t, s.StoreVerification(ctx, v))
		// stable synthetic key: storing again creates no second deployment
		require.NoError(t, s.StoreVerification(ctx, v))

		got, err := s.GetContract(ctx, v.ChainID, v.Address)
		require.NoError(t, err)
		assert.Empty(t, got.TxHash)
		assert.Empty(t, got.Deployer)
		assert.Equal(t, int64(-1), got.BlockNumber)
		assert.Equal(t, int64(-1), got.TxIndex)
		assert.Equal(t, 1, tableCounts(t, s)["contract_deployments"])
	})

	t.Run("UnknownCreationCode", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		v := partialVerification()
		v.OnchainCreationCode = nil
		v.Deployment = Deployment{}
		require.NoError(t, s.StoreVerification(ctx, v))

		got, err := s.GetContract(ctx, v.ChainID, v.Address)
		require.NoError(t, err)
		assert.Nil(t, got.OnchainCreationCode)
		assert.Nil(t, got.RecompiledCreationCode)
		assert.Equal(t, MatchNone, got.CreationMatch)
		assert.Equal(t, MatchPartial, got.RuntimeMatch)
	})

	t.Run("VerifiedContractFlags", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		require.NoError(t, s.StoreVerification(ctx, partialVerification()))

		var runtimeMatch, creationMatch bool
		var runtimeMetadata, creationMetadata *bool
		require.NoError(t, s.db.queryRow(ctx, `
			SELECT runtime_match, creation_match, runtime_metadata_match, creation_metadata_match
			FROM verified_contracts`).Scan(&runtimeMatch, &creationMatch, &runtimeMetadata, &creationMetadata))

		assert.True(t, runtimeMatch)
		assert.False(t, creationMatch)
		require.NotNil(t, runtimeMetadata)
		assert.False(t, *runtimeMetadata)
		assert.Nil(t, creationMetadata)
	})

	t.Run("InvalidVerificationTouchesNothing", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()
		before := tableCounts(t, s)

		v := testVerification()
		v.Status = MatchPair{}
		err := s.StoreVerification(ctx, v)
		assert.ErrorIs(t, err, ErrInvalidVerification)

		v = testVerification()
		v.RecompiledCreationCode = nil
		err = s.StoreVerification(ctx, v)
		assert.ErrorIs(t, err, ErrInvalidVerification)

		assert.Equal(t, before, tableCounts(t, s))
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		_, err := s.GetContract(ctx, 1, testAddress)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetFiles(ctx, 1, testAddress)
		assert.ErrorIs(t, err, ErrNotFound)

		matches, err := s.CheckAllByChainAndAddress(ctx, 1, testAddress)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("ListContractsPagination", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()

		for i := 1; i <= 5; i++ {
			v := testVerification()
			v.Address = common.BigToAddress(big.NewInt(int64(i)))
			hash := common.BigToHash(big.NewInt(int64(i)))
			v.Deployment.TxHash = &hash
			require.NoError(t, s.StoreVerification(ctx, v))
		}
		// other chain is not listed
		other := testVerification()
		other.ChainID = 1
		require.NoError(t, s.StoreVerification(ctx, other))

		var seen []int64
		cursor := ""
		pages := 0
		for {
			page, err := s.ListContracts(ctx, 11155111, PaginationParams{Limit: 2, Cursor: cursor})
			require.NoError(t, err)
			pages++
			for _, m := range page.Data {
				seen = append(seen, m.ID)
			}
			if !page.HasMore {
				break
			}
			cursor = page.NextCursor
		}

		assert.Equal(t, 3, pages)
		require.Len(t, seen, 5)
		for i := 1; i < len(seen); i++ {
			assert.Greater(t, seen[i-1], seen[i], "newest first")
		}

		_, err := s.ListContracts(ctx, 11155111, PaginationParams{Cursor: "not-a-number"})
		assert.Error(t, err)
	})

	t.Run("GetFilesRendersRepositoryLayout", func(t *testing.T) {
		s := newStore(t, Options{})
		ctx := context.Background()
		v := testVerification()
		v.Transformations.Runtime.Values.Libraries = map[string]string{
			"contracts/lib/Math.sol:Math": "0x0000000000000000000000000000000000000042",
		}
		require.NoError(t, s.StoreVerification(ctx, v))

		fs, err := s.GetFiles(ctx, v.ChainID, v.Address)
		require.NoError(t, err)

		assert.True(t, fs.Full)
		assert.Equal(t, []byte(counterSource), fs.Files["sources/contracts/Counter.sol"])
		assert.Equal(t, []byte(mathSource), fs.Files["sources/contracts/lib/Math.sol"])
		assert.Equal(t, "0x002a", string(fs.Files[constructorArgsFile]))
		assert.Equal(t, v.Deployment.TxHash.Hex(), string(fs.Files[creatorTxHashFile]))
		assert.JSONEq(t, string(v.Compilation.Metadata), string(fs.Files[metadataFile]))
		assert.JSONEq(t, string(v.Compilation.ImmutableReferences), string(fs.Files[immutableReferencesFile]))

		var libs map[string]string
		require.NoError(t, json.Unmarshal(fs.Files[libraryMapFile], &libs))
		assert.Equal(t, "0x0000000000000000000000000000000000000042", libs["contracts/lib/Math.sol:Math"])
	})
}
