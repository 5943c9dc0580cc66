package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	instancesBucket = "instances"
	metadataBucket  = "metadata"
	schemaVersion   = 1
)

// ErrRecordNotFound is returned when no object with the instance UID was
// indexed.
var ErrRecordNotFound = errors.New("record not found")

// Record is the index entry of one stored object.
type Record struct {
	SOPInstanceUID    string    `json:"sop_instance_uid"`
	SOPClassUID       string    `json:"sop_class_uid"`
	TransferSyntaxUID string    `json:"transfer_syntax_uid"`
	CallingAETitle    string    `json:"calling_ae_title"`
	Path              string    `json:"path"`
	Size              int64     `json:"size"`
	ReceivedAt        time.Time `json:"received_at"`
}

// Index is a bbolt-backed catalog of stored objects keyed by SOP instance UID.
// A later store of the same instance replaces the earlier record.
type Index struct {
	db *bbolt.DB
}

// OpenIndex opens or creates the index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initialize() error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(instancesBucket)); err != nil {
			return fmt.Errorf("failed to create instances bucket: %w", err)
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}
		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

// Put records r.
func (idx *Index) Put(r Record) error {
	if r.SOPInstanceUID == "" {
		return errors.New("record has no SOP instance UID")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(instancesBucket)).Put([]byte(r.SOPInstanceUID), data)
	})
}

// Get returns the record of an instance.
func (idx *Index) Get(sopInstanceUID string) (Record, error) {
	var r Record
	err := idx.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(instancesBucket)).Get([]byte(sopInstanceUID))
		if data == nil {
			return ErrRecordNotFound
		}
		return json.Unmarshal(data, &r)
	})
	return r, err
}

// List returns every record ordered by instance UID.
func (idx *Index) List() ([]Record, error) {
	var records []Record
	err := idx.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(instancesBucket)).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of indexed instances.
func (idx *Index) Count() (int, error) {
	var n int
	err := idx.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(instancesBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database.
func (idx *Index) Close() error {
	return idx.db.Close()
}
