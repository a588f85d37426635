package storage

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Repository layout:
//
//	contracts/{full_match|partial_match}/{chainId}/{checksummedAddress}/
//		metadata.json
//		sources/<path>
//		constructor-args.txt
//		creator-tx-hash.txt
//		library-map.json
//		immutable-references.json
const (
	repositoryRoot  = "contracts"
	fullMatchDir    = "full_match"
	partialMatchDir = "partial_match"

	metadataFile            = "metadata.json"
	sourcesDir              = "sources"
	constructorArgsFile     = "constructor-args.txt"
	creatorTxHashFile       = "creator-tx-hash.txt"
	libraryMapFile          = "library-map.json"
	immutableReferencesFile = "immutable-references.json"
)

// matchPrefix returns the slash separated directory of a match.
func matchPrefix(full bool, chainID int64, address common.Address) string {
	dir := partialMatchDir
	if full {
		dir = fullMatchDir
	}
	return path.Join(repositoryRoot, dir, strconv.FormatInt(chainID, 10), address.Hex())
}

// sanitizeSourcePath keeps source files inside the sources directory.
func sanitizeSourcePath(p string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
	if cleaned == "" {
		return "_"
	}
	return cleaned
}

// repositoryContent is what a match directory holds.
type repositoryContent struct {
	Metadata             json.RawMessage
	Sources              map[string]string
	ConstructorArguments string
	CreatorTxHash        string
	Libraries            map[string]string
	ImmutableReferences  json.RawMessage
}

func contentFromVerification(v *Verification) repositoryContent {
	c := repositoryContent{
		Metadata:             v.Compilation.Metadata,
		Sources:              v.Compilation.Sources,
		ConstructorArguments: v.Transformations.Creation.Values.ConstructorArguments,
		ImmutableReferences:  v.Compilation.ImmutableReferences,
		Libraries:            make(map[string]string),
	}
	if v.Deployment.TxHash != nil {
		c.CreatorTxHash = v.Deployment.TxHash.Hex()
	}
	for id, addr := range v.Transformations.Creation.Values.Libraries {
		c.Libraries[id] = addr
	}
	for id, addr := range v.Transformations.Runtime.Values.Libraries {
		c.Libraries[id] = addr
	}
	return c
}

func contentFromDetail(d *ContractDetail) (repositoryContent, error) {
	c := repositoryContent{
		Metadata:      d.Metadata,
		Sources:       d.Sources,
		CreatorTxHash: d.TxHash,
		Libraries:     make(map[string]string),
	}

	for _, raw := range []json.RawMessage{d.CreationValues, d.RuntimeValues} {
		if len(raw) == 0 {
			continue
		}
		var values TransformationValues
		if err := json.Unmarshal(raw, &values); err != nil {
			return c, fmt.Errorf("decoding transformation values: %w", err)
		}
		for id, addr := range values.Libraries {
			c.Libraries[id] = addr
		}
		if values.ConstructorArguments != "" {
			c.ConstructorArguments = values.ConstructorArguments
		}
	}

	if len(d.RuntimeArtifacts) > 0 {
		var artifacts struct {
			ImmutableReferences json.RawMessage `json:"immutableReferences"`
		}
		if err := json.Unmarshal(d.RuntimeArtifacts, &artifacts); err != nil {
			return c, fmt.Errorf("decoding runtime artifacts: %w", err)
		}
		c.ImmutableReferences = artifacts.ImmutableReferences
	}
	return c, nil
}

// files renders the content as repository files keyed by relative path.
func (c repositoryContent) files() (map[string][]byte, error) {
	files := make(map[string][]byte, len(c.Sources)+5)

	if len(c.Metadata) > 0 {
		files[metadataFile] = c.Metadata
	}
	for p, content := range c.Sources {
		files[path.Join(sourcesDir, sanitizeSourcePath(p))] = []byte(content)
	}
	if c.ConstructorArguments != "" {
		files[constructorArgsFile] = []byte(c.ConstructorArguments)
	}
	if c.CreatorTxHash != "" {
		files[creatorTxHashFile] = []byte(c.CreatorTxHash)
	}
	if len(c.Libraries) > 0 {
		b, err := json.Marshal(c.Libraries)
		if err != nil {
			return nil, fmt.Errorf("encoding library map: %w", err)
		}
		files[libraryMapFile] = b
	}
	if len(c.ImmutableReferences) > 0 && !isEmptyJSON(c.ImmutableReferences) {
		files[immutableReferencesFile] = c.ImmutableReferences
	}
	return files, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "null" || s == "{}" || s == "[]"
}
