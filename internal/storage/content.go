package storage

import (
	"context"
	"fmt"
	"sort"
)

// sourceBatchSize bounds the rows of one multi-row source insert.
const sourceBatchSize = 200

const insertCodeQuery = `
	INSERT INTO code (code_hash, code_hash_keccak, code)
	VALUES (?, ?, ?)
	ON CONFLICT (code_hash) DO NOTHING`

const insertSourceQuery = `
	INSERT INTO sources (source_hash, source_hash_keccak, content)
	VALUES (?, ?, ?)
	ON CONFLICT (source_hash) DO NOTHING`

// insertOrGetCode stores a bytecode blob once and returns its sha256.
// Nil code resolves to the sentinel row seeded by Migrate.
func (s *sqlStore) insertOrGetCode(ctx context.Context, q querier, code []byte) ([]byte, error) {
	if code == nil {
		return emptyCodeHash, nil
	}
	hash := sha256Hash(code)
	if _, err := q.exec(ctx, insertCodeQuery, hash, keccakHash(code), code); err != nil {
		return nil, fmt.Errorf("inserting code: %w", err)
	}
	return hash, nil
}

// insertOrGetSource stores one source file once and returns its sha256.
func (s *sqlStore) insertOrGetSource(ctx context.Context, q querier, content string) ([]byte, error) {
	hash := sha256Hash([]byte(content))
	if _, err := q.exec(ctx, insertSourceQuery, hash, keccakHash([]byte(content)), content); err != nil {
		return nil, fmt.Errorf("inserting source: %w", err)
	}
	return hash, nil
}

// insertOrGetSources stores a set of source files and returns the hash of
// every path. Files that already exist, including ones inserted by a
// concurrent transaction, are recovered by a follow-up lookup so the
// result is complete even when fewer rows were inserted than submitted.
func (s *sqlStore) insertOrGetSources(ctx context.Context, q querier, sources map[string]string) (map[string][]byte, error) {
	pathHashes := make(map[string][]byte, len(sources))
	contents := make(map[string]string, len(sources))
	for path, content := range sources {
		hash := sha256Hash([]byte(content))
		pathHashes[path] = hash
		contents[string(hash)] = content
	}

	hashes := make([]string, 0, len(contents))
	for h := range contents {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	inserted := 0
	for _, batch := range chunk(hashes, sourceBatchSize) {
		args := make([]any, 0, len(batch)*3)
		for _, h := range batch {
			content := contents[h]
			args = append(args, []byte(h), keccakHash([]byte(content)), content)
		}
		query := `INSERT INTO sources (source_hash, source_hash_keccak, content) VALUES ` +
			valuesPlaceholders(len(batch), 3) +
			` ON CONFLICT (source_hash) DO NOTHING RETURNING source_hash`

		n, err := countRows(ctx, q, query, args...)
		if err != nil {
			return nil, fmt.Errorf("inserting sources: %w", err)
		}
		inserted += n
	}

	found := 0
	for _, batch := range chunk(hashes, sourceBatchSize) {
		args := make([]any, len(batch))
		for i, h := range batch {
			args[i] = []byte(h)
		}
		query := `SELECT source_hash FROM sources WHERE source_hash IN (` + listPlaceholders(len(batch)) + `)`

		n, err := countRows(ctx, q, query, args...)
		if err != nil {
			return nil, fmt.Errorf("looking up sources: %w", err)
		}
		found += n
	}
	if found != len(hashes) {
		return nil, fmt.Errorf("resolved %d of %d source hashes", found, len(hashes))
	}

	s.logger.Debug("sources stored", "files", len(sources), "unique", len(hashes), "inserted", inserted)
	return pathHashes, nil
}

func countRows(ctx context.Context, q querier, query string, args ...any) (int, error) {
	r, err := q.query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for r.Next() {
		var hash []byte
		if err := r.Scan(&hash); err != nil {
			return 0, err
		}
		n++
	}
	return n, r.Err()
}

// InsertOrGetCode stores a bytecode blob outside of a verification and
// returns its sha256.
func (s *sqlStore) InsertOrGetCode(ctx context.Context, code []byte) ([]byte, error) {
	return s.insertOrGetCode(ctx, s.db, code)
}

// InsertOrGetSource stores a source file outside of a verification and
// returns its sha256.
func (s *sqlStore) InsertOrGetSource(ctx context.Context, content string) ([]byte, error) {
	return s.insertOrGetSource(ctx, s.db, content)
}

// InsertOrGetSources stores a batch of source files atomically and returns
// the hash of every path.
func (s *sqlStore) InsertOrGetSources(ctx context.Context, sources map[string]string) (map[string][]byte, error) {
	var out map[string][]byte
	err := s.db.inTx(ctx, func(q querier) error {
		var err error
		out, err = s.insertOrGetSources(ctx, q, sources)
		return err
	})
	return out, err
}
