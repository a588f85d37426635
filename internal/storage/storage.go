// Package storage persists verified contract matches.
//
// Every backend implements Backend. The SQL backends (Postgres, SQLite)
// share a single transactional ledger over a normalized schema; the
// repository backends (filesystem, object store) write the flat
// contracts/{full_match|partial_match}/{chainId}/{address} layout.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/matchstore/internal/config"
)

// BackendID names a storage backend in the routing configuration.
type BackendID string

const (
	BackendPostgres     BackendID = config.BackendPostgres
	BackendSQLite       BackendID = config.BackendSQLite
	BackendRepositoryV1 BackendID = config.BackendRepositoryV1
	BackendS3Repository BackendID = config.BackendS3Repository
)

// Capability is a bitmask of the operations a backend serves.
type Capability uint8

const (
	CapabilityWrite Capability = 1 << iota
	CapabilityRead
	CapabilityPaginate
	CapabilityContract
	CapabilityFiles
)

// Has reports whether every bit of other is set.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// Backend is a storage backend the router can write to or read from.
// Operations a backend does not serve return ErrUnsupported.
type Backend interface {
	ID() BackendID
	Capabilities() Capability

	// Migrate prepares the backend (schema, directories, bucket).
	Migrate(ctx context.Context) error

	StoreVerification(ctx context.Context, v *Verification) error

	// CheckAllByChainAndAddress returns every match stored for the address,
	// most recent first. An unknown address yields an empty slice.
	CheckAllByChainAndAddress(ctx context.Context, chainID int64, address common.Address) ([]Match, error)
	GetContract(ctx context.Context, chainID int64, address common.Address) (*ContractDetail, error)
	ListContracts(ctx context.Context, chainID int64, pagination PaginationParams) (*PaginatedResult[Match], error)
	GetFiles(ctx context.Context, chainID int64, address common.Address) (*FileSet, error)

	Close() error
}

// MatchStatus is the quality of a bytecode match. The zero value means no
// match and encodes as JSON null.
type MatchStatus string

const (
	MatchNone    MatchStatus = ""
	MatchPartial MatchStatus = "partial"
	MatchPerfect MatchStatus = "perfect"
)

// String returns the status, or "null" for no match.
func (s MatchStatus) String() string {
	if s == MatchNone {
		return "null"
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s MatchStatus) Valid() bool {
	return s == MatchNone || s == MatchPartial || s == MatchPerfect
}

func (s MatchStatus) MarshalJSON() ([]byte, error) {
	if s == MatchNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *MatchStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = MatchNone
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := MatchStatus(str)
	if !status.Valid() {
		return fmt.Errorf("unknown match status %q", str)
	}
	*s = status
	return nil
}

// nullable maps MatchNone to SQL NULL.
func (s MatchStatus) nullable() any {
	if s == MatchNone {
		return nil
	}
	return string(s)
}

func matchStatusFrom(s *string) MatchStatus {
	if s == nil {
		return MatchNone
	}
	return MatchStatus(*s)
}

// MatchPair holds the runtime and creation match of one verification.
type MatchPair struct {
	RuntimeMatch  MatchStatus `json:"runtimeMatch"`
	CreationMatch MatchStatus `json:"creationMatch"`
}

// Empty reports whether neither side matched.
func (p MatchPair) Empty() bool {
	return p.RuntimeMatch == MatchNone && p.CreationMatch == MatchNone
}

// Full reports whether either side is a perfect match.
func (p MatchPair) Full() bool {
	return p.RuntimeMatch == MatchPerfect || p.CreationMatch == MatchPerfect
}

// TransformationReasonLibrary marks a linked library address span.
const TransformationReasonLibrary = "library"

// Transformation describes one edit applied to recompiled bytecode to make
// it comparable to the on-chain bytecode.
type Transformation struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Offset int    `json:"offset"`
	ID     string `json:"id,omitempty"`
}

// TransformationValues holds the values substituted by the transformations.
type TransformationValues struct {
	Libraries            map[string]string `json:"libraries,omitempty"`
	Immutables           map[string]string `json:"immutables,omitempty"`
	CborAuxdata          map[string]string `json:"cborAuxdata,omitempty"`
	ConstructorArguments string            `json:"constructorArguments,omitempty"`
	CallProtection       string            `json:"callProtection,omitempty"`
}

// SideTransformations are the transformations of one bytecode side.
type SideTransformations struct {
	List   []Transformation     `json:"list"`
	Values TransformationValues `json:"values"`
}

// Transformations groups creation and runtime transformations.
type Transformations struct {
	Creation SideTransformations `json:"creation"`
	Runtime  SideTransformations `json:"runtime"`
}

// CompilationTarget identifies the compiled contract inside its sources.
type CompilationTarget struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// FullyQualifiedName returns "path:name".
func (t CompilationTarget) FullyQualifiedName() string {
	return t.Path + ":" + t.Name
}

// Compilation is the compiler side of a verification. Raw JSON fields are
// stored as opaque blobs.
type Compilation struct {
	Language string
	Compiler string
	Version  string
	Target   CompilationTarget
	Sources  map[string]string

	Metadata            json.RawMessage
	Settings            json.RawMessage
	CompilerOutput      json.RawMessage
	CreationCborAuxdata json.RawMessage
	RuntimeCborAuxdata  json.RawMessage
	ImmutableReferences json.RawMessage
}

// Deployment locates the contract on chain. A nil TxHash marks a genesis
// (or otherwise untraceable) deployment.
type Deployment struct {
	TxHash      *common.Hash
	BlockNumber int64
	TxIndex     int64
	Deployer    *common.Address
}

// Verification is a validated, normalized verification ready to be
// persisted. Recompiled bytecode has already been normalized; on-chain
// bytecode is kept as observed. A nil creation bytecode means unknown.
type Verification struct {
	ChainID int64
	Address common.Address
	Status  MatchPair

	OnchainRuntimeCode     []byte
	OnchainCreationCode    []byte
	RecompiledRuntimeCode  []byte
	RecompiledCreationCode []byte

	Compilation     Compilation
	Transformations Transformations
	Deployment      Deployment
}

// Validate checks the persistence preconditions without any I/O.
func (v *Verification) Validate() error {
	if v.Status.Empty() {
		return fmt.Errorf("%w: at least one of runtime or creation must match", ErrInvalidVerification)
	}
	if !v.Status.RuntimeMatch.Valid() || !v.Status.CreationMatch.Valid() {
		return fmt.Errorf("%w: unknown match status", ErrInvalidVerification)
	}
	if len(v.OnchainRuntimeCode) == 0 || len(v.RecompiledRuntimeCode) == 0 {
		return fmt.Errorf("%w: runtime bytecode is required", ErrInvalidVerification)
	}
	if v.Status.CreationMatch != MatchNone && (len(v.OnchainCreationCode) == 0 || len(v.RecompiledCreationCode) == 0) {
		return fmt.Errorf("%w: creation match requires onchain and recompiled creation bytecode", ErrInvalidVerification)
	}
	if v.Compilation.Language == "" || v.Compilation.Compiler == "" {
		return fmt.Errorf("%w: compiler and language are required", ErrInvalidVerification)
	}
	return nil
}

// Match is the current best match of one deployment.
type Match struct {
	ID            int64       `json:"matchId"`
	ChainID       int64       `json:"chainId"`
	Address       string      `json:"address"`
	RuntimeMatch  MatchStatus `json:"runtimeMatch"`
	CreationMatch MatchStatus `json:"creationMatch"`
	VerifiedAt    time.Time   `json:"verifiedAt"`
}

// Status returns both sides as a pair.
func (m Match) Status() MatchPair {
	return MatchPair{RuntimeMatch: m.RuntimeMatch, CreationMatch: m.CreationMatch}
}

// ContractDetail is everything known about a verified contract.
type ContractDetail struct {
	Match

	Language           string
	Compiler           string
	CompilerVersion    string
	Name               string
	FullyQualifiedName string

	CompilerSettings     json.RawMessage
	CompilationArtifacts json.RawMessage
	CreationArtifacts    json.RawMessage
	RuntimeArtifacts     json.RawMessage
	Metadata             json.RawMessage

	OnchainCreationCode    []byte
	OnchainRuntimeCode     []byte
	RecompiledCreationCode []byte
	RecompiledRuntimeCode  []byte

	CreationTransformations json.RawMessage
	CreationValues          json.RawMessage
	RuntimeTransformations  json.RawMessage
	RuntimeValues           json.RawMessage

	TxHash      string
	BlockNumber int64
	TxIndex     int64
	Deployer    string

	Sources map[string]string
}

// FileSet is the repository view of a verified contract: file paths
// relative to the match directory mapped to their contents.
type FileSet struct {
	ChainID int64
	Address string
	Full    bool
	Files   map[string][]byte
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// Options tunes the SQL backends.
type Options struct {
	// ConditionalPromotion guards the match upsert with a rank comparison so
	// a concurrent worse write cannot replace a better stored match.
	ConditionalPromotion bool
}

// Open creates and connects every backend referenced by the routing
// configuration. On error, already opened backends are closed.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (map[BackendID]Backend, error) {
	opts := Options{ConditionalPromotion: cfg.ConditionalPromotion}
	backends := make(map[BackendID]Backend)

	for _, id := range cfg.Backends() {
		b, err := newBackend(ctx, BackendID(id), cfg, opts, logger)
		if err != nil {
			closeErr := CloseAll(backends)
			return nil, errors.Join(fmt.Errorf("opening %s backend: %w", id, err), closeErr)
		}
		backends[b.ID()] = b
	}
	return backends, nil
}

func newBackend(ctx context.Context, id BackendID, cfg config.StorageConfig, opts Options, logger *slog.Logger) (Backend, error) {
	logger = logger.With("backend", string(id))
	switch id {
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.Postgres, opts, logger)
	case BackendSQLite:
		return NewSQLiteStore(cfg.SQLite, opts, logger)
	case BackendRepositoryV1:
		return NewFilesystemStore(cfg.Repository.Path, logger)
	case BackendS3Repository:
		return NewObjectStore(cfg.S3, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", id)
	}
}

// CloseAll closes every backend and joins their errors.
func CloseAll(backends map[BackendID]Backend) error {
	var errs []error
	for id, b := range backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
