package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const selectMatchColumns = `
	SELECT sm.id, cd.chain_id, cd.address, sm.creation_match, sm.runtime_match, sm.updated_at
	FROM sourcify_matches sm
	JOIN contract_deployments cd ON cd.id = sm.contract_deployment_id`

const selectContractQuery = `
	SELECT sm.id, cd.chain_id, cd.address, sm.creation_match, sm.runtime_match, sm.updated_at,
		sm.metadata,
		cc.id, cc.language, cc.compiler, cc.version, cc.name, cc.fully_qualified_name,
		cc.compiler_settings, cc.compilation_artifacts, cc.creation_code_artifacts, cc.runtime_code_artifacts,
		rcc.code, rrc.code, occ.code, orc.code,
		vc.creation_transformations, vc.creation_values, vc.runtime_transformations, vc.runtime_values,
		cd.transaction_hash, cd.block_number, cd.transaction_index, cd.deployer
	FROM sourcify_matches sm
	JOIN verified_contracts vc ON vc.id = sm.verified_contract_id
	JOIN contract_deployments cd ON cd.id = sm.contract_deployment_id
	JOIN contracts c ON c.id = cd.contract_id
	JOIN compiled_contracts cc ON cc.id = vc.compilation_id
	JOIN code rcc ON rcc.code_hash = cc.creation_code_hash
	JOIN code rrc ON rrc.code_hash = cc.runtime_code_hash
	JOIN code occ ON occ.code_hash = c.creation_code_hash
	JOIN code orc ON orc.code_hash = c.runtime_code_hash
	WHERE cd.chain_id = ? AND cd.address = ?
	ORDER BY sm.updated_at DESC, sm.id DESC
	LIMIT 1`

const selectCompilationSourcesQuery = `
	SELECT ccs.path, s.content
	FROM compiled_contracts_sources ccs
	JOIN sources s ON s.source_hash = ccs.source_hash
	WHERE ccs.compilation_id = ?`

// CheckAllByChainAndAddress returns every match of the address, most
// recently updated first. An address has one match per deployment
// transaction.
func (s *sqlStore) CheckAllByChainAndAddress(ctx context.Context, chainID int64, address common.Address) ([]Match, error) {
	query := selectMatchColumns + `
	WHERE cd.chain_id = ? AND cd.address = ?
	ORDER BY sm.updated_at DESC, sm.id DESC`

	r, err := s.db.query(ctx, query, chainID, address.Bytes())
	if err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	defer r.Close()

	matches := []Match{}
	for r.Next() {
		m, err := scanMatch(r)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, r.Err()
}

// ListContracts pages through the matches of a chain, newest first. The
// cursor is the id of the last match of the previous page.
func (s *sqlStore) ListContracts(ctx context.Context, chainID int64, pagination PaginationParams) (*PaginatedResult[Match], error) {
	limit := pagination.Limit
	if limit <= 0 {
		limit = 20
	}

	query := selectMatchColumns + `
	WHERE cd.chain_id = ?`
	args := []any{chainID}

	if pagination.Cursor != "" {
		cursor, err := strconv.ParseInt(pagination.Cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", pagination.Cursor)
		}
		query += ` AND sm.id < ?`
		args = append(args, cursor)
	}
	query += `
	ORDER BY sm.id DESC
	LIMIT ?`
	args = append(args, limit+1)

	r, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer r.Close()

	matches := []Match{}
	for r.Next() {
		m, err := scanMatch(r)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	result := &PaginatedResult[Match]{Data: matches}
	if len(matches) > limit {
		result.Data = matches[:limit]
		result.HasMore = true
		result.NextCursor = strconv.FormatInt(result.Data[limit-1].ID, 10)
	}
	return result, nil
}

// GetContract returns the full record of the most recently updated match of
// the address.
func (s *sqlStore) GetContract(ctx context.Context, chainID int64, address common.Address) (*ContractDetail, error) {
	var (
		d              ContractDetail
		addr           []byte
		creationMatch  *string
		runtimeMatch   *string
		updatedAt      timestamp
		compilationID  string
		txHash         []byte
		deployer       []byte
		metadata       []byte
		settings       []byte
		artifacts      []byte
		creationArts   []byte
		runtimeArts    []byte
		creationTrans  []byte
		creationValues []byte
		runtimeTrans   []byte
		runtimeValues  []byte
	)

	err := s.db.queryRow(ctx, selectContractQuery, chainID, address.Bytes()).Scan(
		&d.ID, &d.ChainID, &addr, &creationMatch, &runtimeMatch, &updatedAt,
		&metadata,
		&compilationID, &d.Language, &d.Compiler, &d.CompilerVersion, &d.Name, &d.FullyQualifiedName,
		&settings, &artifacts, &creationArts, &runtimeArts,
		&d.RecompiledCreationCode, &d.RecompiledRuntimeCode, &d.OnchainCreationCode, &d.OnchainRuntimeCode,
		&creationTrans, &creationValues, &runtimeTrans, &runtimeValues,
		&txHash, &d.BlockNumber, &d.TxIndex, &deployer,
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying contract: %w", err)
	}

	d.Address = common.BytesToAddress(addr).Hex()
	d.CreationMatch = matchStatusFrom(creationMatch)
	d.RuntimeMatch = matchStatusFrom(runtimeMatch)
	d.VerifiedAt = updatedAt.Time()
	d.Metadata = metadata
	d.CompilerSettings = settings
	d.CompilationArtifacts = artifacts
	d.CreationArtifacts = creationArts
	d.RuntimeArtifacts = runtimeArts
	d.CreationTransformations = creationTrans
	d.CreationValues = creationValues
	d.RuntimeTransformations = runtimeTrans
	d.RuntimeValues = runtimeValues
	if d.BlockNumber >= 0 {
		d.TxHash = common.BytesToHash(txHash).Hex()
	}
	if len(deployer) > 0 {
		d.Deployer = common.BytesToAddress(deployer).Hex()
	}

	sources, err := s.compilationSources(ctx, compilationID)
	if err != nil {
		return nil, err
	}
	d.Sources = sources
	return &d, nil
}

func (s *sqlStore) compilationSources(ctx context.Context, compilationID string) (map[string]string, error) {
	r, err := s.db.query(ctx, selectCompilationSourcesQuery, compilationID)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer r.Close()

	sources := make(map[string]string)
	for r.Next() {
		var path, content string
		if err := r.Scan(&path, &content); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources[path] = content
	}
	return sources, r.Err()
}

// GetFiles renders the stored contract in the repository file layout.
func (s *sqlStore) GetFiles(ctx context.Context, chainID int64, address common.Address) (*FileSet, error) {
	d, err := s.GetContract(ctx, chainID, address)
	if err != nil {
		return nil, err
	}

	content, err := contentFromDetail(d)
	if err != nil {
		return nil, err
	}
	files, err := content.files()
	if err != nil {
		return nil, err
	}
	return &FileSet{
		ChainID: d.ChainID,
		Address: d.Address,
		Full:    d.Status().Full(),
		Files:   files,
	}, nil
}

func scanMatch(r rows) (Match, error) {
	var (
		m             Match
		addr          []byte
		creationMatch *string
		runtimeMatch  *string
		updatedAt     timestamp
	)
	if err := r.Scan(&m.ID, &m.ChainID, &addr, &creationMatch, &runtimeMatch, &updatedAt); err != nil {
		return Match{}, fmt.Errorf("scanning match: %w", err)
	}
	m.Address = common.BytesToAddress(addr).Hex()
	m.CreationMatch = matchStatusFrom(creationMatch)
	m.RuntimeMatch = matchStatusFrom(runtimeMatch)
	m.VerifiedAt = updatedAt.Time()
	return m, nil
}
