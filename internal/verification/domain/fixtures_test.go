package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/matchstore/internal/storage"
)

const testAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(v int64) *int64 {
	return &v
}

// testExport returns a perfect match on both sides with one linked library
// in the runtime bytecode.
func testExport() *VerificationExport {
	return &VerificationExport{
		Address: testAddress,
		ChainID: "11155111",
		Status:  MatchPair{RuntimeMatch: MatchPerfect, CreationMatch: MatchPerfect},

		OnchainRuntimeBytecode:  "0x6080604052730123456789abcdef0123456789abcdef0123456700a264",
		OnchainCreationBytecode: "0x608060405234801500002a",

		Compilation: Compilation{
			Language:          "Solidity",
			CompilerVersion:   "v0.8.28+commit.7893614a",
			CompilationTarget: CompilationTarget{Path: "contracts/Counter.sol", Name: "Counter"},
			Sources: map[string]string{
				"contracts/Counter.sol": "contract Counter {}",
			},
			RuntimeBytecode:  "0x6080604052730123456789abcdef0123456789abcdef0123456700a264",
			CreationBytecode: "0x6080604052348015",
			Metadata:         json.RawMessage(`{"language":"Solidity"}`),
		},
		Transformations: Transformations{
			Runtime: SideTransformations{
				List: []Transformation{{Type: "replace", Reason: "library", Offset: 6, ID: "contracts/lib/Math.sol:Math"}},
				Values: TransformationValues{
					Libraries: map[string]string{"contracts/lib/Math.sol:Math": "0x0123456789abcdef0123456789abcdef01234567"},
				},
			},
		},
		DeploymentInfo: DeploymentInfo{
			TxHash:      "0x9d1b6a1c4b3c2f5a8f0c1e2d3b4a5968778695a4b3c2d1e0f9e8d7c6b5a49382",
			BlockNumber: int64Ptr(4242),
			TxIndex:     int64Ptr(3),
			Deployer:    "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		},
	}
}

// partialExport returns a partial runtime match of the same deployment.
func partialExport() *VerificationExport {
	e := testExport()
	e.Status = MatchPair{RuntimeMatch: MatchPartial}
	e.Compilation.CreationBytecode = ""
	return e
}

// fakeBackend is an in-memory storage.Backend.
type fakeBackend struct {
	id       storage.BackendID
	caps     storage.Capability
	writeErr error
	panics   bool

	mu      sync.Mutex
	stored  []*storage.Verification
	matches map[string][]storage.Match
}

func newFakeBackend(id storage.BackendID) *fakeBackend {
	return &fakeBackend{
		id:      id,
		caps:    storage.CapabilityWrite | storage.CapabilityRead | storage.CapabilityContract | storage.CapabilityPaginate | storage.CapabilityFiles,
		matches: make(map[string][]storage.Match),
	}
}

func fakeKey(chainID int64, address common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, address.Hex())
}

func (f *fakeBackend) ID() storage.BackendID            { return f.id }
func (f *fakeBackend) Capabilities() storage.Capability { return f.caps }
func (f *fakeBackend) Migrate(ctx context.Context) error {
	return nil
}

func (f *fakeBackend) StoreVerification(ctx context.Context, v *storage.Verification) error {
	if f.panics {
		panic("backend exploded")
	}
	if f.writeErr != nil {
		return f.writeErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, v)
	f.matches[fakeKey(v.ChainID, v.Address)] = []storage.Match{{
		ID:            int64(len(f.stored)),
		ChainID:       v.ChainID,
		Address:       v.Address.Hex(),
		RuntimeMatch:  v.Status.RuntimeMatch,
		CreationMatch: v.Status.CreationMatch,
	}}
	return nil
}

func (f *fakeBackend) seed(chainID int64, address string, status MatchPair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr := common.HexToAddress(address)
	f.matches[fakeKey(chainID, addr)] = []storage.Match{{
		ID:            1,
		ChainID:       chainID,
		Address:       addr.Hex(),
		RuntimeMatch:  status.RuntimeMatch,
		CreationMatch: status.CreationMatch,
	}}
}

func (f *fakeBackend) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func (f *fakeBackend) CheckAllByChainAndAddress(ctx context.Context, chainID int64, address common.Address) ([]storage.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Match{}, f.matches[fakeKey(chainID, address)]...), nil
}

func (f *fakeBackend) GetContract(ctx context.Context, chainID int64, address common.Address) (*storage.ContractDetail, error) {
	matches, _ := f.CheckAllByChainAndAddress(ctx, chainID, address)
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	return &storage.ContractDetail{
		Match:              matches[0],
		Language:           "solidity",
		Compiler:           "solc",
		CompilerVersion:    "0.8.28+commit.7893614a",
		Name:               "Counter",
		FullyQualifiedName: "contracts/Counter.sol:Counter",
		OnchainRuntimeCode: []byte{0x60, 0x80},
		BlockNumber:        -1,
		TxIndex:            -1,
	}, nil
}

func (f *fakeBackend) ListContracts(ctx context.Context, chainID int64, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Match], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []storage.Match
	for _, matches := range f.matches {
		data = append(data, matches...)
	}
	return &storage.PaginatedResult[storage.Match]{Data: data}, nil
}

func (f *fakeBackend) GetFiles(ctx context.Context, chainID int64, address common.Address) (*storage.FileSet, error) {
	matches, _ := f.CheckAllByChainAndAddress(ctx, chainID, address)
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	return &storage.FileSet{
		ChainID: chainID,
		Address: address.Hex(),
		Full:    matches[0].Status().Full(),
		Files:   map[string][]byte{"metadata.json": []byte(`{}`)},
	}, nil
}

func (f *fakeBackend) Close() error {
	return nil
}

var errDiskFull = errors.New("disk full")

func newTestPool(t *testing.T) pond.Pool {
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)
	return pool
}

// bufferLogger returns a logger writing JSON lines into a buffer.
func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
