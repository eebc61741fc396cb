package signature

import _ "embed"

//go:embed defaults/signatures.txt
var defaultSignatures []byte

//go:embed defaults/categories.txt
var defaultCategories []byte

// DefaultSignatures returns the embedded signatures file verbatim.
func DefaultSignatures() []byte {
	out := make([]byte, len(defaultSignatures))
	copy(out, defaultSignatures)
	return out
}

// DefaultCategories returns the embedded categories file verbatim.
func DefaultCategories() []byte {
	out := make([]byte, len(defaultCategories))
	copy(out, defaultCategories)
	return out
}
