package storage

import (
	"context"
	"fmt"
	"sort"
)

// Insert-or-get statements are single upserts. The no-op DO UPDATE on a key
// column makes RETURNING yield the id of the existing row on conflict.

const upsertContractQuery = `
	INSERT INTO contracts (id, creation_code_hash, runtime_code_hash)
	VALUES (?, ?, ?)
	ON CONFLICT (creation_code_hash, runtime_code_hash)
	DO UPDATE SET creation_code_hash = excluded.creation_code_hash
	RETURNING id`

const upsertDeploymentQuery = `
	INSERT INTO contract_deployments
		(id, chain_id, address, transaction_hash, contract_id, block_number, transaction_index, deployer)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (chain_id, address, transaction_hash)
	DO UPDATE SET chain_id = excluded.chain_id
	RETURNING id`

const upsertCompilationQuery = `
	INSERT INTO compiled_contracts
		(id, compiler, version, language, name, fully_qualified_name, compiler_settings,
		 compilation_artifacts, creation_code_hash, creation_code_artifacts,
		 runtime_code_hash, runtime_code_artifacts)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (compiler, language, creation_code_hash, runtime_code_hash)
	DO UPDATE SET compiler = excluded.compiler
	RETURNING id`

// contractKey identifies a Contract by its on-chain code.
type contractKey struct {
	creationHash []byte
	runtimeHash  []byte
}

// insertOrGetContract returns the id of the Contract for the on-chain code.
func (s *sqlStore) insertOrGetContract(ctx context.Context, q querier, key contractKey) (string, error) {
	var id string
	err := q.queryRow(ctx, upsertContractQuery, generateID(), key.creationHash, key.runtimeHash).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting contract: %w", err)
	}
	return id, nil
}

// insertOrGetDeployment returns the id of the ContractDeployment keyed by
// (chainId, address, txHash). Deployments without a transaction hash get
// a synthetic one derived from the contract code and -1 block coordinates.
func (s *sqlStore) insertOrGetDeployment(ctx context.Context, q querier, v *Verification, contractID string, key contractKey) (string, error) {
	d := v.Deployment
	var txHash []byte
	if d.TxHash != nil {
		txHash = d.TxHash.Bytes()
	} else {
		txHash = genesisTxHash(key.creationHash, key.runtimeHash).Bytes()
		d.BlockNumber, d.TxIndex = -1, -1
	}

	var deployer any
	if d.Deployer != nil {
		deployer = d.Deployer.Bytes()
	}

	var id string
	err := q.queryRow(ctx, upsertDeploymentQuery,
		generateID(), v.ChainID, v.Address.Bytes(), txHash, contractID,
		d.BlockNumber, d.TxIndex, deployer,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting deployment: %w", err)
	}
	return id, nil
}

// insertOrGetCompilation returns the id of the CompiledContract keyed by
// (compiler, language, recompiled creation hash, recompiled runtime hash).
func (s *sqlStore) insertOrGetCompilation(ctx context.Context, q querier, c Compilation, creationHash, runtimeHash []byte) (string, error) {
	artifacts, err := compilationArtifacts(c)
	if err != nil {
		return "", err
	}

	var id string
	err = q.queryRow(ctx, upsertCompilationQuery,
		generateID(), c.Compiler, c.Version, c.Language,
		c.Target.Name, c.Target.FullyQualifiedName(),
		jsonValue(c.Settings), artifacts.compilation,
		creationHash, artifacts.creation,
		runtimeHash, artifacts.runtime,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting compilation: %w", err)
	}
	return id, nil
}

// insertOrGetCompilationSources links every source path of a compilation.
func (s *sqlStore) insertOrGetCompilationSources(ctx context.Context, q querier, compilationID string, pathHashes map[string][]byte) error {
	paths := make([]string, 0, len(pathHashes))
	for p := range pathHashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, batch := range chunk(paths, sourceBatchSize) {
		args := make([]any, 0, len(batch)*4)
		for _, p := range batch {
			args = append(args, generateID(), compilationID, pathHashes[p], p)
		}
		query := `INSERT INTO compiled_contracts_sources (id, compilation_id, source_hash, path) VALUES ` +
			valuesPlaceholders(len(batch), 4) +
			` ON CONFLICT (compilation_id, path) DO NOTHING`
		if _, err := q.exec(ctx, query, args...); err != nil {
			return fmt.Errorf("linking compilation sources: %w", err)
		}
	}
	return nil
}

type artifactBlobs struct {
	compilation any
	creation    any
	runtime     any
}

// compilationArtifacts splits the compiler output into the per-compilation
// and per-bytecode artifact blobs.
func compilationArtifacts(c Compilation) (artifactBlobs, error) {
	var out artifactBlobs
	out.compilation = jsonValue(c.CompilerOutput)

	if len(c.CreationCborAuxdata) > 0 {
		creation, err := marshalJSON(map[string]any{"cborAuxdata": c.CreationCborAuxdata})
		if err != nil {
			return out, err
		}
		out.creation = creation
	}

	runtime := map[string]any{}
	if len(c.RuntimeCborAuxdata) > 0 {
		runtime["cborAuxdata"] = c.RuntimeCborAuxdata
	}
	if len(c.ImmutableReferences) > 0 {
		runtime["immutableReferences"] = c.ImmutableReferences
	}
	if len(runtime) > 0 {
		blob, err := marshalJSON(runtime)
		if err != nil {
			return out, err
		}
		out.runtime = blob
	}
	return out, nil
}
