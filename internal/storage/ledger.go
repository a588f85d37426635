package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const upsertVerifiedContractQuery = `
	INSERT INTO verified_contracts
		(id, deployment_id, compilation_id, creation_transformations, creation_values,
		 runtime_transformations, runtime_values, runtime_match, creation_match,
		 runtime_metadata_match, creation_metadata_match)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (compilation_id, deployment_id)
	DO UPDATE SET compilation_id = excluded.compilation_id
	RETURNING id`

const upsertMatchQuery = `
	INSERT INTO sourcify_matches
		(contract_deployment_id, verified_contract_id, creation_match, runtime_match, metadata)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (contract_deployment_id) DO UPDATE SET
		verified_contract_id = excluded.verified_contract_id,
		creation_match = excluded.creation_match,
		runtime_match = excluded.runtime_match,
		metadata = excluded.metadata,
		updated_at = CURRENT_TIMESTAMP`

// promotionGuard keeps the stored match when the candidate ranks lower on
// either side.
var promotionGuard = fmt.Sprintf(`
	WHERE %s <= %s AND %s <= %s`,
	rankSQL("sourcify_matches.runtime_match"), rankSQL("excluded.runtime_match"),
	rankSQL("sourcify_matches.creation_match"), rankSQL("excluded.creation_match"),
)

func rankSQL(column string) string {
	return fmt.Sprintf("(CASE %s WHEN 'perfect' THEN 2 WHEN 'partial' THEN 1 ELSE 0 END)", column)
}

// sqlStore is the relational ledger shared by the Postgres and SQLite
// backends.
type sqlStore struct {
	id     BackendID
	db     database
	schema string
	opts   Options
	logger *slog.Logger
}

func (s *sqlStore) ID() BackendID {
	return s.id
}

func (s *sqlStore) Capabilities() Capability {
	return CapabilityWrite | CapabilityRead | CapabilityPaginate | CapabilityContract | CapabilityFiles
}

// Close closes the connection pool
func (s *sqlStore) Close() error {
	s.db.close()
	return nil
}

// StoreVerification persists a verification in one transaction and points
// the deployment's match at it. Resubmitting the same verification changes
// nothing but the match's updated_at.
func (s *sqlStore) StoreVerification(ctx context.Context, v *Verification) error {
	if err := v.Validate(); err != nil {
		return err
	}

	start := time.Now()
	var matchID int64
	err := s.db.inTx(ctx, func(q querier) error {
		var err error
		matchID, err = s.storeVerification(ctx, q, v)
		return err
	})
	if err != nil {
		return persistenceError(s.id, v, err)
	}

	s.logger.Debug("verification stored",
		"chain_id", v.ChainID,
		"address", v.Address.Hex(),
		"match_id", matchID,
		"runtime_match", v.Status.RuntimeMatch.String(),
		"creation_match", v.Status.CreationMatch.String(),
		"duration", time.Since(start).String(),
	)
	return nil
}

func (s *sqlStore) storeVerification(ctx context.Context, q querier, v *Verification) (int64, error) {
	recompiledCreation, err := s.insertOrGetCode(ctx, q, v.RecompiledCreationCode)
	if err != nil {
		return 0, fmt.Errorf("recompiled creation code: %w", err)
	}
	recompiledRuntime, err := s.insertOrGetCode(ctx, q, v.RecompiledRuntimeCode)
	if err != nil {
		return 0, fmt.Errorf("recompiled runtime code: %w", err)
	}
	onchainCreation, err := s.insertOrGetCode(ctx, q, v.OnchainCreationCode)
	if err != nil {
		return 0, fmt.Errorf("onchain creation code: %w", err)
	}
	onchainRuntime, err := s.insertOrGetCode(ctx, q, v.OnchainRuntimeCode)
	if err != nil {
		return 0, fmt.Errorf("onchain runtime code: %w", err)
	}

	key := contractKey{creationHash: onchainCreation, runtimeHash: onchainRuntime}
	contractID, err := s.insertOrGetContract(ctx, q, key)
	if err != nil {
		return 0, err
	}

	deploymentID, err := s.insertOrGetDeployment(ctx, q, v, contractID, key)
	if err != nil {
		return 0, err
	}

	compilationID, err := s.insertOrGetCompilation(ctx, q, v.Compilation, recompiledCreation, recompiledRuntime)
	if err != nil {
		return 0, err
	}

	pathHashes, err := s.insertOrGetSources(ctx, q, v.Compilation.Sources)
	if err != nil {
		return 0, err
	}
	if err := s.insertOrGetCompilationSources(ctx, q, compilationID, pathHashes); err != nil {
		return 0, err
	}

	verifiedID, err := s.insertOrGetVerifiedContract(ctx, q, v, deploymentID, compilationID)
	if err != nil {
		return 0, err
	}

	return s.upsertMatch(ctx, q, v, deploymentID, verifiedID)
}

// insertOrGetVerifiedContract returns the id of the VerifiedContract keyed
// by (compilationId, deploymentId).
func (s *sqlStore) insertOrGetVerifiedContract(ctx context.Context, q querier, v *Verification, deploymentID, compilationID string) (string, error) {
	creationTransformations, err := marshalJSON(nonNil(v.Transformations.Creation.List))
	if err != nil {
		return "", err
	}
	creationValues, err := marshalJSON(v.Transformations.Creation.Values)
	if err != nil {
		return "", err
	}
	runtimeTransformations, err := marshalJSON(nonNil(v.Transformations.Runtime.List))
	if err != nil {
		return "", err
	}
	runtimeValues, err := marshalJSON(v.Transformations.Runtime.Values)
	if err != nil {
		return "", err
	}

	var id string
	err = q.queryRow(ctx, upsertVerifiedContractQuery,
		generateID(), deploymentID, compilationID,
		creationTransformations, creationValues,
		runtimeTransformations, runtimeValues,
		v.Status.RuntimeMatch != MatchNone, v.Status.CreationMatch != MatchNone,
		metadataMatch(v.Status.RuntimeMatch), metadataMatch(v.Status.CreationMatch),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting verified contract: %w", err)
	}
	return id, nil
}

// upsertMatch points the deployment's SourcifyMatch at the verified
// contract, creating it on first verification.
func (s *sqlStore) upsertMatch(ctx context.Context, q querier, v *Verification, deploymentID, verifiedID string) (int64, error) {
	query := upsertMatchQuery
	if s.opts.ConditionalPromotion {
		query += promotionGuard
	}
	query += "\n\tRETURNING id"

	var id int64
	err := q.queryRow(ctx, query,
		deploymentID, verifiedID,
		v.Status.CreationMatch.nullable(), v.Status.RuntimeMatch.nullable(),
		jsonValue(v.Compilation.Metadata),
	).Scan(&id)
	if err != nil {
		// A guarded update that matched no row returns nothing.
		if s.opts.ConditionalPromotion && errors.Is(err, ErrNotFound) {
			return 0, ErrPromotionRefused
		}
		return 0, fmt.Errorf("upserting match: %w", err)
	}
	return id, nil
}

// metadataMatch is true for a perfect match and NULL when the side did not
// match at all.
func metadataMatch(status MatchStatus) any {
	if status == MatchNone {
		return nil
	}
	return status == MatchPerfect
}

func nonNil(list []Transformation) []Transformation {
	if list == nil {
		return []Transformation{}
	}
	return list
}
