// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// targetNamespace scopes target IDs so the same storefront URL always maps to
// the same ID across processes and stores.
var targetNamespace = uuid.MustParse("6f1d3c2e-8a4b-5e7f-9c0d-1a2b3c4d5e6f")

// Generator creates UUID v7 strings for cycles and stable v5 IDs for targets.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// TargetID derives the stable target ID for a normalized storefront URL.
func TargetID(normalizedURL string) string {
	return uuid.NewSHA1(targetNamespace, []byte(normalizedURL)).String()
}
