// Package validation provides input validation for matchstore.
package validation

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return errors.New("invalid address: must start with 0x")
	}
	if !isHex(addr[2:]) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ParseChainID parses a decimal chain ID and checks it is positive
func ParseChainID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.New("chain ID must be a decimal integer")
	}
	if err := ValidateChainID(id); err != nil {
		return 0, err
	}
	return id, nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

// ValidateCompilerVersion validates a compiler version such as
// "0.8.28+commit.7893614a" or "v0.3.10"
func ValidateCompilerVersion(v string) error {
	normalized := NormalizeVersion(v)
	if normalized == "" {
		return errors.New("compiler version cannot be empty")
	}

	// semver library expects version to start with 'v'
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid compiler version: must be in format X.Y.Z with optional prerelease or build")
	}

	mainPart := strings.SplitN(strings.SplitN(normalized, "+", 2)[0], "-", 2)[0]
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid compiler version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// NormalizeVersion normalizes a version string (strips leading 'v')
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// ValidateSourcePath rejects empty and NUL-containing source paths
func ValidateSourcePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("source path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return errors.New("source path contains a NUL byte")
	}
	return nil
}

// isHex returns true if string is hexadecimal (supports both upper and lowercase)
func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return len(s) > 0
}
