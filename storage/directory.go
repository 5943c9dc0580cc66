package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caio-sobreiro/dicomstore/dicom"
	"github.com/caio-sobreiro/dicomstore/uid"
)

// DirectoryStore writes each object as a Part 10 file below a root directory.
type DirectoryStore struct {
	root     string
	paths    PathStrategy
	index    *Index
	uids     *uid.Generator
	aeTitle  string
	fileMode os.FileMode
	logger   *slog.Logger
}

// DirectoryOption configures a DirectoryStore.
type DirectoryOption func(*DirectoryStore)

// WithPathStrategy replaces the default FlatPathStrategy.
func WithPathStrategy(paths PathStrategy) DirectoryOption {
	return func(s *DirectoryStore) {
		if paths != nil {
			s.paths = paths
		}
	}
}

// WithIndex records every stored object in index.
func WithIndex(index *Index) DirectoryOption {
	return func(s *DirectoryStore) {
		s.index = index
	}
}

// WithUIDGenerator sets the generator used for objects without an instance UID.
func WithUIDGenerator(g *uid.Generator) DirectoryOption {
	return func(s *DirectoryStore) {
		if g != nil {
			s.uids = g
		}
	}
}

// WithSourceAETitle is written as Source Application Entity Title in the file
// meta. It defaults to the object's calling AE title.
func WithSourceAETitle(aeTitle string) DirectoryOption {
	return func(s *DirectoryStore) {
		s.aeTitle = aeTitle
	}
}

// WithFileMode sets the permission bits of stored files (default 0644).
func WithFileMode(mode os.FileMode) DirectoryOption {
	return func(s *DirectoryStore) {
		s.fileMode = mode
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) DirectoryOption {
	return func(s *DirectoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDirectoryStore creates root if needed and returns a store writing below it.
func NewDirectoryStore(root string, opts ...DirectoryOption) (*DirectoryStore, error) {
	s := &DirectoryStore{
		root:     root,
		paths:    FlatPathStrategy{},
		uids:     uid.NewGenerator(),
		fileMode: 0o644,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return s, nil
}

// Root returns the directory objects are stored below.
func (s *DirectoryStore) Root() string {
	return s.root
}

// Store implements Store. The file appears atomically: it is written to a
// temporary name in the target directory and renamed into place.
func (s *DirectoryStore) Store(ctx context.Context, obj *Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	named := *obj
	obj = &named
	if obj.SOPInstanceUID == "" {
		generated, err := s.uids.New()
		if err != nil {
			return "", err
		}
		s.logger.WarnContext(ctx, "Object has no SOP instance UID, using generated name",
			"sop_class", obj.SOPClassUID,
			"generated_uid", generated)
		obj.SOPInstanceUID = generated
	}
	if obj.ReceivedAt.IsZero() {
		obj.ReceivedAt = time.Now()
	}

	path := filepath.Join(s.root, s.paths.Path(obj))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", obj.SOPInstanceUID, err)
	}

	source := s.aeTitle
	if source == "" {
		source = obj.CallingAETitle
	}
	meta := &dicom.FileMeta{
		MediaStorageSOPClassUID:    obj.SOPClassUID,
		MediaStorageSOPInstanceUID: obj.SOPInstanceUID,
		TransferSyntaxUID:          obj.TransferSyntaxUID,
		ImplementationClassUID:     uid.ImplementationClassUID,
		ImplementationVersionName:  uid.ImplementationVersionName,
		SourceApplicationEntity:    source,
	}
	if err := writeAtomic(path, dicom.EncodeFile(meta, obj.DataSet), s.fileMode); err != nil {
		return "", err
	}

	if s.index != nil {
		record := Record{
			SOPInstanceUID:    obj.SOPInstanceUID,
			SOPClassUID:       obj.SOPClassUID,
			TransferSyntaxUID: obj.TransferSyntaxUID,
			CallingAETitle:    obj.CallingAETitle,
			Path:              path,
			Size:              int64(len(obj.DataSet)),
			ReceivedAt:        obj.ReceivedAt,
		}
		if err := s.index.Put(record); err != nil {
			return "", fmt.Errorf("index %s: %w", obj.SOPInstanceUID, err)
		}
	}

	s.logger.DebugContext(ctx, "Stored object",
		"sop_instance", obj.SOPInstanceUID,
		"path", path,
		"bytes", len(obj.DataSet))
	return path, nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".incoming-*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
