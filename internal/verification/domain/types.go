// Package domain contains the business logic for storing verified contract
// matches.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/pendergraft/matchstore/internal/storage"
)

// MatchStatus is the quality of one bytecode side match.
type MatchStatus = storage.MatchStatus

// Match statuses
const (
	MatchNone    = storage.MatchNone
	MatchPartial = storage.MatchPartial
	MatchPerfect = storage.MatchPerfect
)

// MatchPair holds the runtime and creation match of a verification.
type MatchPair = storage.MatchPair

// Transformation, Transformations and their values pass through to storage
// unchanged.
type (
	Transformation       = storage.Transformation
	Transformations      = storage.Transformations
	SideTransformations  = storage.SideTransformations
	TransformationValues = storage.TransformationValues
	CompilationTarget    = storage.CompilationTarget
)

// ChainID accepts both JSON numbers and decimal strings.
type ChainID string

func (c *ChainID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ChainID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("chainId must be a number or a decimal string")
	}
	*c = ChainID(n.String())
	return nil
}

// VerificationExport is the output of a verifier, the input of
// StoreVerification.
type VerificationExport struct {
	Address                 string          `json:"address"`
	ChainID                 ChainID         `json:"chainId"`
	Status                  MatchPair       `json:"status"`
	OnchainRuntimeBytecode  string          `json:"onchainRuntimeBytecode"`
	OnchainCreationBytecode string          `json:"onchainCreationBytecode,omitempty"`
	Compilation             Compilation     `json:"compilation"`
	Transformations         Transformations `json:"transformations"`
	DeploymentInfo          DeploymentInfo  `json:"deploymentInfo"`
}

// Compilation describes the recompilation that produced the match.
type Compilation struct {
	Language                    string            `json:"language"`
	Compiler                    string            `json:"compiler,omitempty"`
	CompilerVersion             string            `json:"compilerVersion"`
	CompilationTarget           CompilationTarget `json:"compilationTarget"`
	Sources                     map[string]string `json:"sources"`
	RuntimeBytecode             string            `json:"runtimeBytecode"`
	CreationBytecode            string            `json:"creationBytecode,omitempty"`
	RuntimeBytecodeCborAuxdata  json.RawMessage   `json:"runtimeBytecodeCborAuxdata,omitempty"`
	CreationBytecodeCborAuxdata json.RawMessage   `json:"creationBytecodeCborAuxdata,omitempty"`
	ImmutableReferences         json.RawMessage   `json:"immutableReferences,omitempty"`
	Metadata                    json.RawMessage   `json:"metadata,omitempty"`
	ContractCompilerOutput      json.RawMessage   `json:"contractCompilerOutput,omitempty"`
	CompilerSettings            json.RawMessage   `json:"compilerSettings,omitempty"`
	CompilationTime             int64             `json:"compilationTime,omitempty"`
}

// DeploymentInfo locates the deployment. All fields are optional.
type DeploymentInfo struct {
	BlockNumber *int64 `json:"blockNumber,omitempty"`
	TxIndex     *int64 `json:"txIndex,omitempty"`
	Deployer    string `json:"deployer,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
}

// Match is the current match of a deployment as served by the read backend.
type Match struct {
	MatchID       string      `json:"matchId,omitempty"`
	ChainID       string      `json:"chainId"`
	Address       string      `json:"address"`
	Match         MatchStatus `json:"match"`
	RuntimeMatch  MatchStatus `json:"runtimeMatch"`
	CreationMatch MatchStatus `json:"creationMatch"`
	VerifiedAt    *time.Time  `json:"verifiedAt,omitempty"`
}

// Contract is the full record of a verified contract.
type Contract struct {
	Match

	Language           string            `json:"language"`
	Compiler           string            `json:"compiler"`
	CompilerVersion    string            `json:"compilerVersion"`
	Name               string            `json:"name"`
	FullyQualifiedName string            `json:"fullyQualifiedName"`
	CompilerSettings   json.RawMessage   `json:"compilerSettings,omitempty"`
	Artifacts          json.RawMessage   `json:"artifacts,omitempty"`
	Metadata           json.RawMessage   `json:"metadata,omitempty"`
	Sources            map[string]string `json:"sources"`

	OnchainCreationBytecode    string `json:"onchainCreationBytecode,omitempty"`
	OnchainRuntimeBytecode     string `json:"onchainRuntimeBytecode"`
	RecompiledCreationBytecode string `json:"recompiledCreationBytecode,omitempty"`
	RecompiledRuntimeBytecode  string `json:"recompiledRuntimeBytecode"`

	CreationTransformations json.RawMessage `json:"creationTransformations,omitempty"`
	CreationValues          json.RawMessage `json:"creationValues,omitempty"`
	RuntimeTransformations  json.RawMessage `json:"runtimeTransformations,omitempty"`
	RuntimeValues           json.RawMessage `json:"runtimeValues,omitempty"`

	Deployment Deployment `json:"deployment"`
}

// Deployment is the stored deployment of a contract.
type Deployment struct {
	TxHash      string `json:"transactionHash,omitempty"`
	BlockNumber int64  `json:"blockNumber"`
	TxIndex     int64  `json:"transactionIndex"`
	Deployer    string `json:"deployer,omitempty"`
}

// Files is the repository view of a verified contract.
type Files struct {
	ChainID string            `json:"chainId"`
	Address string            `json:"address"`
	Match   MatchStatus       `json:"match"`
	Files   map[string]string `json:"files"`
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult is a page of matches.
type ListResult struct {
	Matches    []Match
	HasMore    bool
	NextCursor string
}

func toMatch(m storage.Match) Match {
	out := Match{
		ChainID:       strconv.FormatInt(m.ChainID, 10),
		Address:       m.Address,
		Match:         bestOf(m.Status()),
		RuntimeMatch:  m.RuntimeMatch,
		CreationMatch: m.CreationMatch,
	}
	if m.ID > 0 {
		out.MatchID = strconv.FormatInt(m.ID, 10)
	}
	if !m.VerifiedAt.IsZero() {
		t := m.VerifiedAt
		out.VerifiedAt = &t
	}
	return out
}

// bestOf summarizes a pair as a single status: perfect when either side is
// perfect, otherwise partial when either side matched.
func bestOf(p MatchPair) MatchStatus {
	if p.Full() {
		return MatchPerfect
	}
	if !p.Empty() {
		return MatchPartial
	}
	return MatchNone
}
