package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/matchstore/internal/config"
	"github.com/pendergraft/matchstore/internal/observability/metrics"
	"github.com/pendergraft/matchstore/internal/storage"
	"github.com/pendergraft/matchstore/internal/validation"
)

// Write modes of a backend in the fan-out.
const (
	ModeWriteOrErr  = "write_or_err"
	ModeWriteOrWarn = "write_or_warn"
)

var errWriteIncomplete = errors.New("backend write did not complete")

// Routing assigns backends to the read path and the two write sets.
type Routing struct {
	Read        storage.BackendID
	WriteOrWarn []storage.BackendID
	WriteOrErr  []storage.BackendID
}

// RoutingFromConfig builds the routing of the storage configuration.
func RoutingFromConfig(cfg config.StorageConfig) Routing {
	r := Routing{Read: storage.BackendID(cfg.Read)}
	for _, id := range cfg.WriteOrWarn {
		r.WriteOrWarn = append(r.WriteOrWarn, storage.BackendID(id))
	}
	for _, id := range cfg.WriteOrErr {
		r.WriteOrErr = append(r.WriteOrErr, storage.BackendID(id))
	}
	return r
}

type writeTarget struct {
	backend storage.Backend
	mode    string
}

// writeResult is the outcome of one backend of a fan-out.
type writeResult struct {
	backend  storage.BackendID
	mode     string
	err      error
	duration time.Duration
}

// StoreResult describes an accepted verification.
type StoreResult struct {
	ChainID string    `json:"chainId"`
	Address string    `json:"address"`
	Status  MatchPair `json:"status"`
	// Warnings lists the write_or_warn backends that failed.
	Warnings []string `json:"warnings,omitempty"`
}

type service struct {
	read    storage.Backend
	targets []writeTarget
	pool    pond.Pool
	logger  *slog.Logger
}

// NewService creates the storage router. Every backend named in routing
// must be present in backends and have the capability its role needs.
func NewService(backends map[storage.BackendID]storage.Backend, routing Routing, pool pond.Pool, logger *slog.Logger) (*service, error) {
	read, ok := backends[routing.Read]
	if !ok {
		return nil, fmt.Errorf("read backend %q is not configured", routing.Read)
	}
	if !read.Capabilities().Has(storage.CapabilityRead) {
		return nil, fmt.Errorf("backend %q cannot serve reads", routing.Read)
	}

	s := &service{read: read, pool: pool, logger: logger}

	seen := make(map[storage.BackendID]bool)
	add := func(ids []storage.BackendID, mode string) error {
		for _, id := range ids {
			b, ok := backends[id]
			if !ok {
				return fmt.Errorf("%s backend %q is not configured", mode, id)
			}
			if !b.Capabilities().Has(storage.CapabilityWrite) {
				return fmt.Errorf("backend %q cannot be written to", id)
			}
			if seen[id] {
				return fmt.Errorf("backend %q is routed more than once", id)
			}
			seen[id] = true
			s.targets = append(s.targets, writeTarget{backend: b, mode: mode})
		}
		return nil
	}
	if err := add(routing.WriteOrErr, ModeWriteOrErr); err != nil {
		return nil, err
	}
	if err := add(routing.WriteOrWarn, ModeWriteOrWarn); err != nil {
		return nil, err
	}
	if len(s.targets) == 0 {
		return nil, errors.New("no write backend configured")
	}
	return s, nil
}

// StoreVerification validates an export, checks it against the current
// match of the read backend and writes it to every write backend.
//
// The write_or_err backends decide the outcome: the first failure in
// configuration order is returned. Backends that already committed stay
// committed. Failures of write_or_warn backends are logged and reported in
// StoreResult.Warnings.
func (s *service) StoreVerification(ctx context.Context, export *VerificationExport) (*StoreResult, error) {
	v, err := toVerification(export)
	if err != nil {
		metrics.VerificationStore("invalid")
		return nil, err
	}

	current, err := s.currentMatch(ctx, v.ChainID, v.Address)
	if err != nil {
		metrics.VerificationStore("failed")
		return nil, fmt.Errorf("reading current match: %w", err)
	}
	if current != nil && !IsAcceptable(current, v.Status) {
		metrics.VerificationStore("conflict")
		return nil, s.conflict(v, *current)
	}

	if v.RecompiledRuntimeCode, err = NormalizeBytecode(v.RecompiledRuntimeCode, v.Transformations.Runtime.List); err != nil {
		metrics.VerificationStore("invalid")
		return nil, err
	}
	if v.RecompiledCreationCode, err = NormalizeBytecode(v.RecompiledCreationCode, v.Transformations.Creation.List); err != nil {
		metrics.VerificationStore("invalid")
		return nil, err
	}

	result := &StoreResult{
		ChainID: strconv.FormatInt(v.ChainID, 10),
		Address: v.Address.Hex(),
		Status:  v.Status,
	}

	var failed *writeResult
	for _, r := range s.fanOut(ctx, v) {
		if r.err == nil {
			continue
		}
		if r.mode == ModeWriteOrWarn {
			s.logger.Warn("backend write failed",
				"backend", string(r.backend),
				"chain_id", v.ChainID,
				"address", v.Address.Hex(),
				"error", r.err,
			)
			result.Warnings = append(result.Warnings, string(r.backend))
			continue
		}
		if failed == nil {
			failed = &r
		}
	}

	if failed != nil {
		if errors.Is(failed.err, storage.ErrPromotionRefused) {
			metrics.VerificationStore("conflict")
			return nil, s.conflictAfterWrite(ctx, v)
		}
		metrics.VerificationStore("failed")
		return nil, failed.err
	}

	metrics.VerificationStore("stored")
	return result, nil
}

// fanOut writes v to every target concurrently and returns one result per
// target in configuration order. Each write gets the caller context, so a
// failing backend never cancels its siblings.
func (s *service) fanOut(ctx context.Context, v *storage.Verification) []writeResult {
	results := make([]writeResult, len(s.targets))
	group := s.pool.NewGroup()

	// A target stays failed until its task actually ran.
	for i, t := range s.targets {
		results[i] = writeResult{
			backend: t.backend.ID(),
			mode:    t.mode,
			err:     fmt.Errorf("%w: %s was not written", errWriteIncomplete, t.backend.ID()),
		}
		group.Submit(func() {
			start := time.Now()
			err := storeRecovered(ctx, t.backend, v)
			results[i] = writeResult{
				backend:  t.backend.ID(),
				mode:     t.mode,
				err:      err,
				duration: time.Since(start),
			}
		})
	}

	if err := group.Wait(); err != nil {
		s.logger.Error("fan-out group failed", "error", err)
		for i := range results {
			if errors.Is(results[i].err, errWriteIncomplete) {
				results[i].err = fmt.Errorf("%w: %w", results[i].err, err)
			}
		}
	}

	for _, r := range results {
		status := "ok"
		if r.err != nil {
			status = "error"
		}
		metrics.BackendWrite(string(r.backend), r.mode, status, r.duration)
	}
	return results
}

// storeRecovered turns a backend panic into an error so no task of the
// group ever fails and Wait always waits for every write.
func storeRecovered(ctx context.Context, b storage.Backend, v *storage.Verification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", errWriteIncomplete, b.ID(), r)
		}
	}()
	return b.StoreVerification(ctx, v)
}

// currentMatch returns the most recent match of the address on the read
// backend, or nil when there is none.
func (s *service) currentMatch(ctx context.Context, chainID int64, address common.Address) (*MatchPair, error) {
	matches, err := s.read.CheckAllByChainAndAddress(ctx, chainID, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	status := matches[0].Status()
	return &status, nil
}

func (s *service) conflict(v *storage.Verification, existing MatchPair) *ConflictError {
	return &ConflictError{
		ChainID:   strconv.FormatInt(v.ChainID, 10),
		Address:   v.Address.Hex(),
		Existing:  existing,
		Candidate: v.Status,
	}
}

// conflictAfterWrite builds the conflict of a promotion refused inside a
// backend transaction, re-reading the match that won.
func (s *service) conflictAfterWrite(ctx context.Context, v *storage.Verification) error {
	current, err := s.currentMatch(ctx, v.ChainID, v.Address)
	if err != nil || current == nil {
		return s.conflict(v, MatchPair{})
	}
	return s.conflict(v, *current)
}

// CheckByChainAndAddress returns the most recent match of the address.
func (s *service) CheckByChainAndAddress(ctx context.Context, chainID, address string) (*Match, error) {
	matches, err := s.CheckAllByChainAndAddress(ctx, chainID, address)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return &matches[0], nil
}

// CheckAllByChainAndAddress returns every match of the address, most recent
// first. An unverified address yields an empty slice.
func (s *service) CheckAllByChainAndAddress(ctx context.Context, chainID, address string) ([]Match, error) {
	id, addr, err := parseKey(chainID, address)
	if err != nil {
		return nil, err
	}

	stored, err := s.read.CheckAllByChainAndAddress(ctx, id, addr)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		metrics.VerificationRead("check", "error")
		return nil, readError(err, "checking matches")
	}
	metrics.VerificationRead("check", "ok")

	matches := make([]Match, 0, len(stored))
	for _, m := range stored {
		matches = append(matches, toMatch(m))
	}
	return matches, nil
}

// GetContract returns the full record of the most recent match.
func (s *service) GetContract(ctx context.Context, chainID, address string) (*Contract, error) {
	id, addr, err := parseKey(chainID, address)
	if err != nil {
		return nil, err
	}
	if !s.read.Capabilities().Has(storage.CapabilityContract) {
		return nil, ErrUnavailable
	}

	d, err := s.read.GetContract(ctx, id, addr)
	if err != nil {
		metrics.VerificationRead("contract", readStatus(err))
		return nil, readError(err, "getting contract")
	}
	metrics.VerificationRead("contract", "ok")
	return toContract(d), nil
}

// ListContracts pages through the verified contracts of a chain.
func (s *service) ListContracts(ctx context.Context, chainID string, pagination PaginationParams) (*ListResult, error) {
	id, err := validation.ParseChainID(chainID)
	if err != nil {
		return nil, invalid("chainId", "%v", err)
	}
	if pagination.Limit < 0 || pagination.Limit > 200 {
		return nil, invalid("limit", "must be between 1 and 200")
	}
	if pagination.Cursor != "" {
		if _, err := strconv.ParseInt(pagination.Cursor, 10, 64); err != nil {
			return nil, invalid("cursor", "malformed cursor")
		}
	}
	if !s.read.Capabilities().Has(storage.CapabilityPaginate) {
		return nil, ErrUnavailable
	}

	page, err := s.read.ListContracts(ctx, id, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		metrics.VerificationRead("list", readStatus(err))
		return nil, readError(err, "listing contracts")
	}
	metrics.VerificationRead("list", "ok")

	result := &ListResult{
		Matches:    make([]Match, 0, len(page.Data)),
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	}
	for _, m := range page.Data {
		result.Matches = append(result.Matches, toMatch(m))
	}
	return result, nil
}

// GetFiles returns the repository files of the contract.
func (s *service) GetFiles(ctx context.Context, chainID, address string) (*Files, error) {
	id, addr, err := parseKey(chainID, address)
	if err != nil {
		return nil, err
	}
	if !s.read.Capabilities().Has(storage.CapabilityFiles) {
		return nil, ErrUnavailable
	}

	fs, err := s.read.GetFiles(ctx, id, addr)
	if err != nil {
		metrics.VerificationRead("files", readStatus(err))
		return nil, readError(err, "getting files")
	}
	metrics.VerificationRead("files", "ok")

	match := MatchPartial
	if fs.Full {
		match = MatchPerfect
	}
	files := make(map[string]string, len(fs.Files))
	for name, content := range fs.Files {
		files[name] = string(content)
	}
	return &Files{
		ChainID: strconv.FormatInt(fs.ChainID, 10),
		Address: fs.Address,
		Match:   match,
		Files:   files,
	}, nil
}

func parseKey(chainID, address string) (int64, common.Address, error) {
	id, err := validation.ParseChainID(chainID)
	if err != nil {
		return 0, common.Address{}, invalid("chainId", "%v", err)
	}
	if err := validation.ValidateAddress(address); err != nil {
		return 0, common.Address{}, invalid("address", "%v", err)
	}
	return id, common.HexToAddress(address), nil
}

func readError(err error, op string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrUnsupported):
		return ErrUnavailable
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func readStatus(err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return "not_found"
	}
	return "error"
}

func toContract(d *storage.ContractDetail) *Contract {
	c := &Contract{
		Match:                      toMatch(d.Match),
		Language:                   d.Language,
		Compiler:                   d.Compiler,
		CompilerVersion:            d.CompilerVersion,
		Name:                       d.Name,
		FullyQualifiedName:         d.FullyQualifiedName,
		CompilerSettings:           d.CompilerSettings,
		Artifacts:                  d.CompilationArtifacts,
		Metadata:                   d.Metadata,
		Sources:                    d.Sources,
		OnchainRuntimeBytecode:     hexOrEmpty(d.OnchainRuntimeCode),
		OnchainCreationBytecode:    hexOrEmpty(d.OnchainCreationCode),
		RecompiledRuntimeBytecode:  hexOrEmpty(d.RecompiledRuntimeCode),
		RecompiledCreationBytecode: hexOrEmpty(d.RecompiledCreationCode),
		CreationTransformations:    d.CreationTransformations,
		CreationValues:             d.CreationValues,
		RuntimeTransformations:     d.RuntimeTransformations,
		RuntimeValues:              d.RuntimeValues,
		Deployment: Deployment{
			TxHash:      d.TxHash,
			BlockNumber: d.BlockNumber,
			TxIndex:     d.TxIndex,
			Deployer:    d.Deployer,
		},
	}
	if c.Sources == nil {
		c.Sources = map[string]string{}
	}
	return c
}

// hexOrEmpty encodes code as 0x-prefixed hex; absent code (the sentinel
// row) encodes as "".
func hexOrEmpty(code []byte) string {
	if len(code) == 0 {
		return ""
	}
	return hexutil.Encode(code)
}
