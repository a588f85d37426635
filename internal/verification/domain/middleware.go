package domain

import (
	"context"
	"log/slog"
	"time"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	StoreVerification(ctx context.Context, export *VerificationExport) (*StoreResult, error)
	CheckByChainAndAddress(ctx context.Context, chainID, address string) (*Match, error)
	CheckAllByChainAndAddress(ctx context.Context, chainID, address string) ([]Match, error)
	GetContract(ctx context.Context, chainID, address string) (*Contract, error)
	ListContracts(ctx context.Context, chainID string, pagination PaginationParams) (*ListResult, error)
	GetFiles(ctx context.Context, chainID, address string) (*Files, error)
}

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(loggingService) *loggingMiddleware {
	return func(next loggingService) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   loggingService
	logger *slog.Logger
}

func (m *loggingMiddleware) StoreVerification(ctx context.Context, export *VerificationExport) (*StoreResult, error) {
	start := time.Now()
	result, err := m.next.StoreVerification(ctx, export)
	m.logger.Info("StoreVerification",
		"chainId", string(export.ChainID),
		"address", export.Address,
		"runtimeMatch", export.Status.RuntimeMatch.String(),
		"creationMatch", export.Status.CreationMatch.String(),
		"sources", len(export.Compilation.Sources),
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) CheckByChainAndAddress(ctx context.Context, chainID, address string) (*Match, error) {
	start := time.Now()
	match, err := m.next.CheckByChainAndAddress(ctx, chainID, address)
	m.logger.Debug("CheckByChainAndAddress",
		"chainId", chainID,
		"address", address,
		"duration", time.Since(start),
		"error", err,
	)
	return match, err
}

func (m *loggingMiddleware) CheckAllByChainAndAddress(ctx context.Context, chainID, address string) ([]Match, error) {
	start := time.Now()
	matches, err := m.next.CheckAllByChainAndAddress(ctx, chainID, address)
	m.logger.Debug("CheckAllByChainAndAddress",
		"chainId", chainID,
		"address", address,
		"count", len(matches),
		"duration", time.Since(start),
		"error", err,
	)
	return matches, err
}

func (m *loggingMiddleware) GetContract(ctx context.Context, chainID, address string) (*Contract, error) {
	start := time.Now()
	contract, err := m.next.GetContract(ctx, chainID, address)
	m.logger.Debug("GetContract",
		"chainId", chainID,
		"address", address,
		"duration", time.Since(start),
		"error", err,
	)
	return contract, err
}

func (m *loggingMiddleware) ListContracts(ctx context.Context, chainID string, pagination PaginationParams) (*ListResult, error) {
	start := time.Now()
	result, err := m.next.ListContracts(ctx, chainID, pagination)
	m.logger.Debug("ListContracts",
		"chainId", chainID,
		"limit", pagination.Limit,
		"cursor", pagination.Cursor,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) GetFiles(ctx context.Context, chainID, address string) (*Files, error) {
	start := time.Now()
	files, err := m.next.GetFiles(ctx, chainID, address)
	m.logger.Debug("GetFiles",
		"chainId", chainID,
		"address", address,
		"duration", time.Since(start),
		"error", err,
	)
	return files, err
}
