package domain

import (
	"fmt"

	"github.com/pendergraft/matchstore/internal/storage"
)

// libraryAddressLength is the size of a linked library address.
const libraryAddressLength = 20

// NormalizeBytecode returns a copy of code with every linked library
// address zeroed, so recompilations against different library deployments
// compare and deduplicate equal. Other transformations are left alone and
// the input is never modified.
func NormalizeBytecode(code []byte, transformations []Transformation) ([]byte, error) {
	if code == nil {
		return nil, nil
	}

	out := make([]byte, len(code))
	copy(out, code)

	for _, t := range transformations {
		if t.Reason != storage.TransformationReasonLibrary {
			continue
		}
		if t.Offset < 0 || t.Offset > len(out)-libraryAddressLength {
			return nil, invalid("transformations",
				"library %q at offset %d exceeds bytecode length %d", t.ID, t.Offset, len(out))
		}
		clear(out[t.Offset : t.Offset+libraryAddressLength])
	}
	return out, nil
}

// checkLibrarySpans validates library offsets against the bytecode they
// apply to without normalizing.
func checkLibrarySpans(side string, code []byte, transformations []Transformation) error {
	for _, t := range transformations {
		if t.Reason != storage.TransformationReasonLibrary {
			continue
		}
		if t.Offset < 0 || t.Offset > len(code)-libraryAddressLength {
			return invalid(fmt.Sprintf("transformations.%s", side),
				"library %q at offset %d exceeds bytecode length %d", t.ID, t.Offset, len(code))
		}
	}
	return nil
}
