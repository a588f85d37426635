// Package client provides a Go client for the matchstore API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a matchstore API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new matchstore client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// StoreResponse is the result of an accepted verification. Match fields
// are empty for a side that did not match.
type StoreResponse struct {
	ChainID       string   `json:"chainId"`
	Address       string   `json:"address"`
	RuntimeMatch  string   `json:"runtimeMatch"`
	CreationMatch string   `json:"creationMatch"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Match is the stored match of a contract
type Match struct {
	MatchID       string     `json:"matchId,omitempty"`
	ChainID       string     `json:"chainId"`
	Address       string     `json:"address"`
	Match         string     `json:"match"`
	RuntimeMatch  string     `json:"runtimeMatch"`
	CreationMatch string     `json:"creationMatch"`
	VerifiedAt    *time.Time `json:"verifiedAt,omitempty"`
}

// CheckResult is the status of an address across chains. Status is
// "false" when the address is not verified on any requested chain.
type CheckResult struct {
	Address  string        `json:"address"`
	Status   string        `json:"status"`
	ChainIDs []ChainStatus `json:"chainIds"`
}

// ChainStatus is the match of an address on one chain
type ChainStatus struct {
	ChainID       string     `json:"chainId"`
	Status        string     `json:"status"`
	RuntimeMatch  string     `json:"runtimeMatch"`
	CreationMatch string     `json:"creationMatch"`
	VerifiedAt    *time.Time `json:"verifiedAt,omitempty"`
}

// Contract is the full record of a verified contract
type Contract struct {
	Match

	Language           string            `json:"language"`
	Compiler           string            `json:"compiler"`
	CompilerVersion    string            `json:"compilerVersion"`
	Name               string            `json:"name"`
	FullyQualifiedName string            `json:"fullyQualifiedName"`
	CompilerSettings   json.RawMessage   `json:"compilerSettings,omitempty"`
	Metadata           json.RawMessage   `json:"metadata,omitempty"`
	Sources            map[string]string `json:"sources"`

	OnchainRuntimeBytecode     string `json:"onchainRuntimeBytecode"`
	OnchainCreationBytecode    string `json:"onchainCreationBytecode,omitempty"`
	RecompiledRuntimeBytecode  string `json:"recompiledRuntimeBytecode"`
	RecompiledCreationBytecode string `json:"recompiledCreationBytecode,omitempty"`

	Deployment Deployment `json:"deployment"`
}

// Deployment locates a contract on chain. Genesis deployments have no
// transaction hash and -1 block coordinates.
type Deployment struct {
	TxHash      string `json:"transactionHash,omitempty"`
	BlockNumber int64  `json:"blockNumber"`
	TxIndex     int64  `json:"transactionIndex"`
	Deployer    string `json:"deployer,omitempty"`
}

// ListContractsResponse is a page of matches
type ListContractsResponse struct {
	Data       []Match    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Files are the repository files of a verified contract
type Files struct {
	ChainID string            `json:"chainId"`
	Address string            `json:"address"`
	Match   string            `json:"match"`
	Files   map[string]string `json:"files"`
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err means a better match is already stored.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// StoreVerification submits a verification export. The export is any value
// that encodes to the export JSON, or a json.RawMessage holding it.
func (c *Client) StoreVerification(ctx context.Context, export any) (*StoreResponse, error) {
	var resp StoreResponse
	if err := c.post(ctx, "/api/v1/verifications", export, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckByAddresses returns the most recent match of every address on every
// chain.
func (c *Client) CheckByAddresses(ctx context.Context, addresses, chainIDs []string) ([]CheckResult, error) {
	return c.check(ctx, "/api/v1/check-by-addresses", addresses, chainIDs)
}

// CheckAllByAddresses returns every match of every address on every chain.
func (c *Client) CheckAllByAddresses(ctx context.Context, addresses, chainIDs []string) ([]CheckResult, error) {
	return c.check(ctx, "/api/v1/check-all-by-addresses", addresses, chainIDs)
}

func (c *Client) check(ctx context.Context, path string, addresses, chainIDs []string) ([]CheckResult, error) {
	q := url.Values{}
	q.Set("addresses", strings.Join(addresses, ","))
	q.Set("chainIds", strings.Join(chainIDs, ","))

	var results []CheckResult
	if err := c.get(ctx, path+"?"+q.Encode(), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// GetContract returns the full record of a verified contract.
func (c *Client) GetContract(ctx context.Context, chainID, address string) (*Contract, error) {
	var contract Contract
	path := fmt.Sprintf("/api/v1/contract/%s/%s", url.PathEscape(chainID), url.PathEscape(address))
	if err := c.get(ctx, path, &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}

// ListContracts returns a page of the verified contracts of a chain, newest
// first. Pass the NextCursor of a page to get the following one.
func (c *Client) ListContracts(ctx context.Context, chainID string, limit int, cursor string) (*ListContractsResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	path := "/api/v1/contracts/" + url.PathEscape(chainID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListContractsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetFiles returns the repository files of a verified contract.
func (c *Client) GetFiles(ctx context.Context, chainID, address string) (*Files, error) {
	var files Files
	path := fmt.Sprintf("/api/v1/files/%s/%s", url.PathEscape(chainID), url.PathEscape(address))
	if err := c.get(ctx, path, &files); err != nil {
		return nil, err
	}
	return &files, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "HTTP_ERROR", Message: resp.Status}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
