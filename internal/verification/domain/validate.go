package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/matchstore/internal/storage"
	"github.com/pendergraft/matchstore/internal/validation"
)

// defaultCompilers maps a language to its compiler when the export omits it.
var defaultCompilers = map[string]string{
	"solidity": "solc",
	"vyper":    "vyper",
	"yul":      "solc",
}

// toVerification validates an export and converts it to its storage form.
// Bytecode is decoded but not yet normalized. No I/O happens here.
func toVerification(export *VerificationExport) (*storage.Verification, error) {
	if err := validation.ValidateAddress(export.Address); err != nil {
		return nil, invalid("address", "%v", err)
	}
	chainID, err := validation.ParseChainID(string(export.ChainID))
	if err != nil {
		return nil, invalid("chainId", "%v", err)
	}

	status := export.Status
	if !status.RuntimeMatch.Valid() || !status.CreationMatch.Valid() {
		return nil, invalid("status", "unknown match status")
	}
	if status.Empty() {
		return nil, invalid("status", "at least one of runtimeMatch or creationMatch must be set")
	}

	v := &storage.Verification{
		ChainID:         chainID,
		Address:         common.HexToAddress(export.Address),
		Status:          status,
		Transformations: export.Transformations,
	}

	if v.OnchainRuntimeCode, err = decodeBytecode("onchainRuntimeBytecode", export.OnchainRuntimeBytecode); err != nil {
		return nil, err
	}
	if v.OnchainCreationCode, err = decodeBytecode("onchainCreationBytecode", export.OnchainCreationBytecode); err != nil {
		return nil, err
	}
	if v.RecompiledRuntimeCode, err = decodeBytecode("compilation.runtimeBytecode", export.Compilation.RuntimeBytecode); err != nil {
		return nil, err
	}
	if v.RecompiledCreationCode, err = decodeBytecode("compilation.creationBytecode", export.Compilation.CreationBytecode); err != nil {
		return nil, err
	}

	if len(v.OnchainRuntimeCode) == 0 {
		return nil, invalid("onchainRuntimeBytecode", "required")
	}
	if len(v.RecompiledRuntimeCode) == 0 {
		return nil, invalid("compilation.runtimeBytecode", "required")
	}
	if status.CreationMatch != MatchNone {
		if len(v.OnchainCreationCode) == 0 {
			return nil, invalid("onchainCreationBytecode", "required for a creation match")
		}
		if len(v.RecompiledCreationCode) == 0 {
			return nil, invalid("compilation.creationBytecode", "required for a creation match")
		}
	}

	if err := checkLibrarySpans("runtime", v.RecompiledRuntimeCode, export.Transformations.Runtime.List); err != nil {
		return nil, err
	}
	if err := checkLibrarySpans("creation", v.RecompiledCreationCode, export.Transformations.Creation.List); err != nil {
		return nil, err
	}

	if v.Compilation, err = toCompilation(&export.Compilation); err != nil {
		return nil, err
	}
	if v.Deployment, err = toDeployment(&export.DeploymentInfo); err != nil {
		return nil, err
	}
	return v, nil
}

func toCompilation(c *Compilation) (storage.Compilation, error) {
	language := strings.ToLower(strings.TrimSpace(c.Language))
	if language == "" {
		return storage.Compilation{}, invalid("compilation.language", "required")
	}

	compiler := strings.TrimSpace(c.Compiler)
	if compiler == "" {
		compiler = defaultCompilers[language]
	}
	if compiler == "" {
		return storage.Compilation{}, invalid("compilation.compiler", "required for language %q", language)
	}

	if err := validation.ValidateCompilerVersion(c.CompilerVersion); err != nil {
		return storage.Compilation{}, invalid("compilation.compilerVersion", "%v", err)
	}

	if c.CompilationTarget.Path == "" || c.CompilationTarget.Name == "" {
		return storage.Compilation{}, invalid("compilation.compilationTarget", "path and name are required")
	}
	for p := range c.Sources {
		if err := validation.ValidateSourcePath(p); err != nil {
			return storage.Compilation{}, invalid("compilation.sources", "%v", err)
		}
	}

	return storage.Compilation{
		Language:            language,
		Compiler:            compiler,
		Version:             validation.NormalizeVersion(c.CompilerVersion),
		Target:              c.CompilationTarget,
		Sources:             c.Sources,
		Metadata:            c.Metadata,
		Settings:            c.CompilerSettings,
		CompilerOutput:      c.ContractCompilerOutput,
		CreationCborAuxdata: c.CreationBytecodeCborAuxdata,
		RuntimeCborAuxdata:  c.RuntimeBytecodeCborAuxdata,
		ImmutableReferences: c.ImmutableReferences,
	}, nil
}

// toDeployment converts the deployment info. Without a transaction hash the
// deployment is treated as genesis and the block fields are ignored.
func toDeployment(d *DeploymentInfo) (storage.Deployment, error) {
	var out storage.Deployment

	if d.Deployer != "" {
		if err := validation.ValidateAddress(d.Deployer); err != nil {
			return out, invalid("deploymentInfo.deployer", "%v", err)
		}
		deployer := common.HexToAddress(d.Deployer)
		out.Deployer = &deployer
	}

	if d.TxHash == "" {
		return out, nil
	}

	raw, err := hexutil.Decode(d.TxHash)
	if err != nil || len(raw) != common.HashLength {
		return out, invalid("deploymentInfo.txHash", "must be a 0x-prefixed 32 byte hash")
	}
	hash := common.BytesToHash(raw)
	out.TxHash = &hash

	if d.BlockNumber == nil || *d.BlockNumber < 0 {
		return out, invalid("deploymentInfo.blockNumber", "required with txHash and must not be negative")
	}
	if d.TxIndex == nil || *d.TxIndex < 0 {
		return out, invalid("deploymentInfo.txIndex", "required with txHash and must not be negative")
	}
	out.BlockNumber = *d.BlockNumber
	out.TxIndex = *d.TxIndex
	return out, nil
}

// decodeBytecode decodes 0x-prefixed hex. An empty string or a bare "0x"
// means unknown and decodes to nil.
func decodeBytecode(field, s string) ([]byte, error) {
	if s == "" || s == "0x" || s == "0X" {
		return nil, nil
	}
	code, err := hexutil.Decode(s)
	if err != nil {
		return nil, invalid(field, "%v", err)
	}
	return code, nil
}
