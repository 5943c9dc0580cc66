// Package uid generates DICOM unique identifiers.
//
// Generated UIDs live under the 2.25 root (ISO/IEC 9834-8), which turns a
// UUID into a UID by writing its 128 bits as one decimal component.
package uid

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Root is the UUID-derived UID arc.
const Root = "2.25."

// MaxLength is the longest UID a DICOM UI element can hold.
const MaxLength = 64

// Identifiers this implementation announces in association user information
// and in file meta information.
const (
	ImplementationClassUID    = "2.25.203471860123455467813650154723418913553"
	ImplementationVersionName = "DICOMSTORE_1"
)

// Generator produces UIDs from a UUID source.
type Generator struct {
	source func() (uuid.UUID, error)
}

// NewGenerator returns a Generator backed by random (version 4) UUIDs.
func NewGenerator() *Generator {
	return &Generator{source: uuid.NewRandom}
}

// NewGeneratorWithSource returns a Generator backed by source. Tests use it to
// make UIDs deterministic.
func NewGeneratorWithSource(source func() (uuid.UUID, error)) *Generator {
	return &Generator{source: source}
}

// New returns a fresh UID.
func (g *Generator) New() (string, error) {
	u, err := g.source()
	if err != nil {
		return "", fmt.Errorf("generate UUID: %w", err)
	}
	return FromUUID(u), nil
}

var defaultGenerator = NewGenerator()

// New returns a fresh random UID. It panics only if the system random source
// fails, as uuid.New does.
func New() string {
	u, err := defaultGenerator.New()
	if err != nil {
		panic(err)
	}
	return u
}

// FromUUID converts u to its 2.25 UID.
func FromUUID(u uuid.UUID) string {
	n := new(big.Int).SetBytes(u[:])
	return Root + n.String()
}

// IsValid reports whether s is a syntactically valid UID: at most 64
// characters of dot-separated numeric components without leading zeros.
func IsValid(s string) bool {
	if s == "" || len(s) > MaxLength {
		return false
	}
	for _, component := range strings.Split(s, ".") {
		if component == "" {
			return false
		}
		if len(component) > 1 && component[0] == '0' {
			return false
		}
		for _, c := range component {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
