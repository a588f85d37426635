package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pendergraft/matchstore/internal/config"
)

// ObjectStore writes matches to an S3 compatible bucket in the repository
// layout.
type ObjectStore struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	logger *slog.Logger
}

// NewObjectStore creates an S3 repository client. No request is made until
// Migrate or the first operation.
func NewObjectStore(cfg config.S3Config, logger *slog.Logger) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

func (s *ObjectStore) ID() BackendID {
	return BackendS3Repository
}

func (s *ObjectStore) Capabilities() Capability {
	return CapabilityWrite | CapabilityRead | CapabilityFiles
}

// Migrate creates the bucket if it does not exist.
func (s *ObjectStore) Migrate(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}
	s.logger.Info("bucket created", "bucket", s.bucket)
	return nil
}

// StoreVerification uploads the match files, then deletes stale objects
// under the match prefix and, for a full match, the partial match prefix.
func (s *ObjectStore) StoreVerification(ctx context.Context, v *Verification) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if err := s.store(ctx, v); err != nil {
		return persistenceError(s.ID(), v, err)
	}
	return nil
}

func (s *ObjectStore) store(ctx context.Context, v *Verification) error {
	files, err := contentFromVerification(v).files()
	if err != nil {
		return err
	}

	full := v.Status.Full()
	prefix := s.key(matchPrefix(full, v.ChainID, v.Address))

	written := make(map[string]bool, len(files))
	for name, content := range files {
		key := path.Join(prefix, name)
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
			ContentType: contentType(name),
		})
		if err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}
		written[key] = true
	}

	if err := s.removePrefix(ctx, prefix, written); err != nil {
		return err
	}
	if full {
		if err := s.removePrefix(ctx, s.key(matchPrefix(false, v.ChainID, v.Address)), nil); err != nil {
			return err
		}
	}

	s.logger.Debug("match uploaded", "prefix", prefix, "files", len(files))
	return nil
}

// removePrefix deletes every object under prefix that is not in keep.
func (s *ObjectStore) removePrefix(ctx context.Context, prefix string, keep map[string]bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix + "/",
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return fmt.Errorf("listing %s: %w", prefix, object.Err)
		}
		if keep[object.Key] {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("removing %s: %w", object.Key, err)
		}
	}
	return nil
}

// CheckAllByChainAndAddress reports the match prefix found for the address,
// with the same per-side approximation as the filesystem repository.
func (s *ObjectStore) CheckAllByChainAndAddress(ctx context.Context, chainID int64, address common.Address) ([]Match, error) {
	for _, full := range []bool{true, false} {
		object, found, err := s.firstObject(ctx, s.key(matchPrefix(full, chainID, address)))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		status := MatchPartial
		if full {
			status = MatchPerfect
		}
		return []Match{{
			ChainID:      chainID,
			Address:      address.Hex(),
			RuntimeMatch: status,
			VerifiedAt:   object.LastModified.UTC(),
		}}, nil
	}
	return []Match{}, nil
}

func (s *ObjectStore) firstObject(ctx context.Context, prefix string) (minio.ObjectInfo, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix + "/",
		Recursive: true,
		MaxKeys:   1,
	})
	object, ok := <-objectCh
	if !ok {
		return minio.ObjectInfo{}, false, nil
	}
	if object.Err != nil {
		return minio.ObjectInfo{}, false, fmt.Errorf("listing %s: %w", prefix, object.Err)
	}
	return object, true, nil
}

// GetFiles downloads every object of the match prefix.
func (s *ObjectStore) GetFiles(ctx context.Context, chainID int64, address common.Address) (*FileSet, error) {
	for _, full := range []bool{true, false} {
		files, err := s.readPrefix(ctx, s.key(matchPrefix(full, chainID, address)))
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			return &FileSet{ChainID: chainID, Address: address.Hex(), Full: full, Files: files}, nil
		}
	}
	return nil, ErrNotFound
}

// readPrefix downloads every object under prefix, keyed by the path
// relative to it. The listing is cancelled on every return.
func (s *ObjectStore) readPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	files := make(map[string][]byte)
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix + "/",
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, object.Err)
		}
		content, err := s.getObject(ctx, object.Key)
		if err != nil {
			return nil, err
		}
		files[strings.TrimPrefix(object.Key, prefix+"/")] = content
	}
	return files, nil
}

func (s *ObjectStore) getObject(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return content, nil
}

func (s *ObjectStore) GetContract(ctx context.Context, chainID int64, address common.Address) (*ContractDetail, error) {
	return nil, ErrUnsupported
}

func (s *ObjectStore) ListContracts(ctx context.Context, chainID int64, pagination PaginationParams) (*PaginatedResult[Match], error) {
	return nil, ErrUnsupported
}

// Close is a no-op; the client holds no persistent connections.
func (s *ObjectStore) Close() error {
	return nil
}

func (s *ObjectStore) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
