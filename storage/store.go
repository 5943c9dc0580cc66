// Package storage persists objects received by the storage SCP.
package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Object is one received composite instance.
type Object struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	CallingAETitle    string
	CalledAETitle     string
	AssociationNumber uint64
	ReceivedAt        time.Time

	// DataSet is the encoded dataset in TransferSyntaxUID, without a Part 10
	// header.
	DataSet []byte
}

// Store persists an object and returns where it was stored. Implementations
// must be safe for concurrent use: each association stores from its own
// goroutine.
type Store interface {
	Store(ctx context.Context, obj *Object) (string, error)
}

// PathStrategy names the file an object is stored in, relative to the store
// root.
type PathStrategy interface {
	Path(obj *Object) string
}

// FlatPathStrategy stores every object as <SOPInstanceUID>.dcm.
type FlatPathStrategy struct{}

// Path implements PathStrategy.
func (FlatPathStrategy) Path(obj *Object) string {
	return sanitize(obj.SOPInstanceUID) + ".dcm"
}

// HierarchicalPathStrategy stores objects as
// <calling AE>/<SOP class>/<SOPInstanceUID>.dcm.
type HierarchicalPathStrategy struct{}

// Path implements PathStrategy.
func (HierarchicalPathStrategy) Path(obj *Object) string {
	ae := "UNKNOWN"
	if trimmed := strings.TrimSpace(obj.CallingAETitle); trimmed != "" {
		ae = sanitize(trimmed)
	}
	return filepath.Join(ae, sanitize(obj.SOPClassUID), sanitize(obj.SOPInstanceUID)+".dcm")
}

// PathStrategyFunc adapts a function to PathStrategy.
type PathStrategyFunc func(obj *Object) string

// Path implements PathStrategy.
func (f PathStrategyFunc) Path(obj *Object) string {
	return f(obj)
}

// sanitize keeps a single path component free of separators and traversal.
func sanitize(component string) string {
	var b strings.Builder
	for _, r := range component {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "_"
	}
	return s
}
