package storage

import (
	"context"
	"fmt"
)

// Both dialects share table and column names so the ledger and read
// queries run unchanged against either.

const postgresSchema = `
	-- Content-addressed bytecode. code is NULL only for the sentinel row.
	CREATE TABLE IF NOT EXISTS code (
		code_hash BYTEA PRIMARY KEY,
		code_hash_keccak BYTEA NOT NULL,
		code BYTEA,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_code_hash_keccak ON code(code_hash_keccak);

	CREATE TABLE IF NOT EXISTS sources (
		source_hash BYTEA PRIMARY KEY,
		source_hash_keccak BYTEA NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id UUID PRIMARY KEY,
		creation_code_hash BYTEA NOT NULL REFERENCES code(code_hash),
		runtime_code_hash BYTEA NOT NULL REFERENCES code(code_hash),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(creation_code_hash, runtime_code_hash)
	);

	CREATE TABLE IF NOT EXISTS contract_deployments (
		id UUID PRIMARY KEY,
		chain_id BIGINT NOT NULL,
		address BYTEA NOT NULL,
		transaction_hash BYTEA NOT NULL,
		contract_id UUID NOT NULL REFERENCES contracts(id),
		block_number BIGINT NOT NULL,
		transaction_index BIGINT NOT NULL,
		deployer BYTEA,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chain_id, address, transaction_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_contract_deployments_address ON contract_deployments(chain_id, address);

	CREATE TABLE IF NOT EXISTS compiled_contracts (
		id UUID PRIMARY KEY,
		compiler TEXT NOT NULL,
		version TEXT NOT NULL,
		language TEXT NOT NULL,
		name TEXT NOT NULL,
		fully_qualified_name TEXT NOT NULL,
		compiler_settings JSONB,
		compilation_artifacts JSONB,
		creation_code_hash BYTEA NOT NULL REFERENCES code(code_hash),
		creation_code_artifacts JSONB,
		runtime_code_hash BYTEA NOT NULL REFERENCES code(code_hash),
		runtime_code_artifacts JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(compiler, language, creation_code_hash, runtime_code_hash)
	);

	CREATE TABLE IF NOT EXISTS compiled_contracts_sources (
		id UUID PRIMARY KEY,
		compilation_id UUID NOT NULL REFERENCES compiled_contracts(id),
		source_hash BYTEA NOT NULL REFERENCES sources(source_hash),
		path TEXT NOT NULL,
		UNIQUE(compilation_id, path)
	);

	-- Append-only verification history
	CREATE TABLE IF NOT EXISTS verified_contracts (
		id UUID PRIMARY KEY,
		deployment_id UUID NOT NULL REFERENCES contract_deployments(id),
		compilation_id UUID NOT NULL REFERENCES compiled_contracts(id),
		creation_transformations JSONB,
		creation_values JSONB,
		runtime_transformations JSONB,
		runtime_values JSONB,
		runtime_match BOOLEAN NOT NULL,
		creation_match BOOLEAN NOT NULL,
		runtime_metadata_match BOOLEAN,
		creation_metadata_match BOOLEAN,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(compilation_id, deployment_id)
	);

	-- One current match per deployment
	CREATE TABLE IF NOT EXISTS sourcify_matches (
		id BIGSERIAL PRIMARY KEY,
		contract_deployment_id UUID NOT NULL UNIQUE REFERENCES contract_deployments(id),
		verified_contract_id UUID NOT NULL REFERENCES verified_contracts(id),
		creation_match VARCHAR(16) CHECK (creation_match IN ('perfect', 'partial')),
		runtime_match VARCHAR(16) CHECK (runtime_match IN ('perfect', 'partial')),
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sourcify_matches_verified_contract ON sourcify_matches(verified_contract_id);
`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS code (
		code_hash BLOB PRIMARY KEY,
		code_hash_keccak BLOB NOT NULL,
		code BLOB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_code_hash_keccak ON code(code_hash_keccak);

	CREATE TABLE IF NOT EXISTS sources (
		source_hash BLOB PRIMARY KEY,
		source_hash_keccak BLOB NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		creation_code_hash BLOB NOT NULL REFERENCES code(code_hash),
		runtime_code_hash BLOB NOT NULL REFERENCES code(code_hash),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(creation_code_hash, runtime_code_hash)
	);

	CREATE TABLE IF NOT EXISTS contract_deployments (
		id TEXT PRIMARY KEY,
		chain_id INTEGER NOT NULL,
		address BLOB NOT NULL,
		transaction_hash BLOB NOT NULL,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		block_number INTEGER NOT NULL,
		transaction_index INTEGER NOT NULL,
		deployer BLOB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chain_id, address, transaction_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_contract_deployments_address ON contract_deployments(chain_id, address);

	CREATE TABLE IF NOT EXISTS compiled_contracts (
		id TEXT PRIMARY KEY,
		compiler TEXT NOT NULL,
		version TEXT NOT NULL,
		language TEXT NOT NULL,
		name TEXT NOT NULL,
		fully_qualified_name TEXT NOT NULL,
		compiler_settings TEXT,
		compilation_artifacts TEXT,
		creation_code_hash BLOB NOT NULL REFERENCES code(code_hash),
		creation_code_artifacts TEXT,
		runtime_code_hash BLOB NOT NULL REFERENCES code(code_hash),
		runtime_code_artifacts TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(compiler, language, creation_code_hash, runtime_code_hash)
	);

	CREATE TABLE IF NOT EXISTS compiled_contracts_sources (
		id TEXT PRIMARY KEY,
		compilation_id TEXT NOT NULL REFERENCES compiled_contracts(id),
		source_hash BLOB NOT NULL REFERENCES sources(source_hash),
		path TEXT NOT NULL,
		UNIQUE(compilation_id, path)
	);

	CREATE TABLE IF NOT EXISTS verified_contracts (
		id TEXT PRIMARY KEY,
		deployment_id TEXT NOT NULL REFERENCES contract_deployments(id),
		compilation_id TEXT NOT NULL REFERENCES compiled_contracts(id),
		creation_transformations TEXT,
		creation_values TEXT,
		runtime_transformations TEXT,
		runtime_values TEXT,
		runtime_match BOOLEAN NOT NULL,
		creation_match BOOLEAN NOT NULL,
		runtime_metadata_match BOOLEAN,
		creation_metadata_match BOOLEAN,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(compilation_id, deployment_id)
	);

	CREATE TABLE IF NOT EXISTS sourcify_matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contract_deployment_id TEXT NOT NULL UNIQUE REFERENCES contract_deployments(id),
		verified_contract_id TEXT NOT NULL REFERENCES verified_contracts(id),
		creation_match TEXT CHECK (creation_match IN ('perfect', 'partial')),
		runtime_match TEXT CHECK (runtime_match IN ('perfect', 'partial')),
		metadata TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sourcify_matches_verified_contract ON sourcify_matches(verified_contract_id);
`

const insertSentinelCodeQuery = `
	INSERT INTO code (code_hash, code_hash_keccak, code)
	VALUES (?, ?, NULL)
	ON CONFLICT (code_hash) DO NOTHING`

// Migrate creates the schema and seeds the sentinel code row. It is safe to
// run repeatedly.
func (s *sqlStore) Migrate(ctx context.Context) error {
	if _, err := s.db.exec(ctx, s.schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if _, err := s.db.exec(ctx, insertSentinelCodeQuery, emptyCodeHash, keccakHash(nil)); err != nil {
		return fmt.Errorf("seeding empty code row: %w", err)
	}
	s.logger.Info("schema migrated")
	return nil
}
