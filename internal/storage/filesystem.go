package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FilesystemStore writes matches to a local directory tree in the
// repository layout.
type FilesystemStore struct {
	root   string
	logger *slog.Logger

	// Writes of one contract are serialized on a shard chosen by address.
	shards [64]sync.Mutex
}

// publishAttempts bounds the replace-and-rename retries when another
// process publishes the same match concurrently.
const publishAttempts = 3

// NewFilesystemStore creates a repository rooted at root.
func NewFilesystemStore(root string, logger *slog.Logger) (*FilesystemStore, error) {
	if root == "" {
		return nil, errors.New("repository path is required")
	}
	return &FilesystemStore{root: root, logger: logger}, nil
}

func (s *FilesystemStore) ID() BackendID {
	return BackendRepositoryV1
}

func (s *FilesystemStore) Capabilities() Capability {
	return CapabilityWrite | CapabilityRead | CapabilityFiles
}

// Migrate creates the repository root.
func (s *FilesystemStore) Migrate(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.root, repositoryRoot), 0755); err != nil {
		return fmt.Errorf("creating repository directory: %w", err)
	}
	return nil
}

// StoreVerification replaces the match directory of the contract. A full
// match also removes any partial match directory of the same contract.
func (s *FilesystemStore) StoreVerification(ctx context.Context, v *Verification) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if err := s.store(ctx, v); err != nil {
		return persistenceError(s.ID(), v, err)
	}
	return nil
}

func (s *FilesystemStore) store(ctx context.Context, v *Verification) error {
	files, err := contentFromVerification(v).files()
	if err != nil {
		return err
	}

	mu := s.shard(v.ChainID, v.Address)
	mu.Lock()
	defer mu.Unlock()

	full := v.Status.Full()
	target := s.dir(matchPrefix(full, v.ChainID, v.Address))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating chain directory: %w", err)
	}

	// Stage into a sibling directory so readers never see a half-written match.
	staging, err := os.MkdirTemp(filepath.Dir(target), ".staging-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	for name, content := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(staging, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", name, err)
		}
		if err := os.WriteFile(p, content, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	if err := publish(staging, target); err != nil {
		return err
	}

	if full {
		partial := s.dir(matchPrefix(false, v.ChainID, v.Address))
		if err := os.RemoveAll(partial); err != nil {
			return fmt.Errorf("removing partial match: %w", err)
		}
	}

	s.logger.Debug("match written", "path", target, "files", len(files))
	return nil
}

// publish replaces target with staging. A rename that finds target
// recreated by another writer is retried.
func publish(staging, target string) error {
	var err error
	for range publishAttempts {
		if err = os.RemoveAll(target); err != nil {
			return fmt.Errorf("removing previous match: %w", err)
		}
		if err = os.Rename(staging, target); err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	return fmt.Errorf("publishing match: %w", err)
}

func (s *FilesystemStore) shard(chainID int64, address common.Address) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%s", chainID, address.Hex())
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}

// CheckAllByChainAndAddress reports the match directory found for the
// address. The repository does not record per-side status, so a full match
// reads as a perfect runtime match and a partial one as partial.
func (s *FilesystemStore) CheckAllByChainAndAddress(ctx context.Context, chainID int64, address common.Address) ([]Match, error) {
	for _, full := range []bool{true, false} {
		info, err := os.Stat(s.dir(matchPrefix(full, chainID, address)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking match directory: %w", err)
		}

		status := MatchPartial
		if full {
			status = MatchPerfect
		}
		return []Match{{
			ChainID:      chainID,
			Address:      address.Hex(),
			RuntimeMatch: status,
			VerifiedAt:   info.ModTime().UTC(),
		}}, nil
	}
	return []Match{}, nil
}

// GetFiles reads every file of the match directory.
func (s *FilesystemStore) GetFiles(ctx context.Context, chainID int64, address common.Address) (*FileSet, error) {
	for _, full := range []bool{true, false} {
		dir := s.dir(matchPrefix(full, chainID, address))
		files := make(map[string][]byte)

		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			files[filepath.ToSlash(rel)] = content
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading match directory: %w", err)
		}

		return &FileSet{ChainID: chainID, Address: address.Hex(), Full: full, Files: files}, nil
	}
	return nil, ErrNotFound
}

func (s *FilesystemStore) GetContract(ctx context.Context, chainID int64, address common.Address) (*ContractDetail, error) {
	return nil, ErrUnsupported
}

func (s *FilesystemStore) ListContracts(ctx context.Context, chainID int64, pagination PaginationParams) (*PaginatedResult[Match], error) {
	return nil, ErrUnsupported
}

// Close is a no-op
func (s *FilesystemStore) Close() error {
	return nil
}

func (s *FilesystemStore) dir(prefix string) string {
	return filepath.Join(s.root, filepath.FromSlash(prefix))
}
