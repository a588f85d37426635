// Package transport provides HTTP request/response types for the verification domain.
package transport

import (
	"time"

	"github.com/pendergraft/matchstore/internal/verification/domain"
)

// StoreResponse is the response for an accepted verification.
type StoreResponse struct {
	ChainID       string             `json:"chainId"`
	Address       string             `json:"address"`
	RuntimeMatch  domain.MatchStatus `json:"runtimeMatch"`
	CreationMatch domain.MatchStatus `json:"creationMatch"`
	Warnings      []string           `json:"warnings,omitempty"`
}

// CheckResult is the status of one address across the requested chains.
// Status is "false" when the address is verified on none of them.
type CheckResult struct {
	Address  string        `json:"address"`
	Status   string        `json:"status"`
	ChainIDs []ChainStatus `json:"chainIds"`
}

// ChainStatus is the match of an address on one chain.
type ChainStatus struct {
	ChainID       string             `json:"chainId"`
	Status        string             `json:"status"`
	RuntimeMatch  domain.MatchStatus `json:"runtimeMatch"`
	CreationMatch domain.MatchStatus `json:"creationMatch"`
	VerifiedAt    *time.Time         `json:"verifiedAt,omitempty"`
}

// ListResponse is a page of matches.
type ListResponse struct {
	Data       []domain.Match `json:"data"`
	Pagination Pagination     `json:"pagination"`
}

// Pagination describes the position of a page.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
