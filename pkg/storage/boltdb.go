package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketLog      = []byte("log")
	bucketSnapshot = []byte("snapshot")
)

var snapshotKey = []byte("snapshot")

// BoltStore implements Store using a single BoltDB file per node, with a
// "log" bucket keyed by big-endian uint64 id and a "snapshot" bucket holding
// one fixed-key record.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens the node's BoltDB file under dataDir, creating the
// directory and the file if absent.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "raftd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLog, bucketSnapshot} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// PutLog persists a single log record, fsynced on commit by bbolt.
func (s *BoltStore) PutLog(rec LogRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(idKey(rec.ID), data)
	})
}

// DeleteLogFrom removes every record with id >= from, matching truncate_from.
func (s *BoltStore) DeleteLogFrom(from uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(idKey(from)); k != nil; k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadLogs returns every persisted record ordered by id, as bbolt's B+tree
// cursor naturally yields keys in ascending byte order.
func (s *BoltStore) LoadLogs() ([]LogRecord, error) {
	var recs []LogRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		return b.ForEach(func(k, v []byte) error {
			var rec LogRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

// PutSnapshot replaces the single persisted Snapshot Entity.
func (s *BoltStore) PutSnapshot(rec SnapshotRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshot)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(snapshotKey, data)
	})
}

// LoadSnapshot returns the persisted Snapshot Entity, if any.
func (s *BoltStore) LoadSnapshot() (rec SnapshotRecord, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshot)
		data := b.Get(snapshotKey)
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &rec)
	})
	return rec, ok, err
}
