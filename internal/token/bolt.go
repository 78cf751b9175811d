package token

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketTokens = []byte("tokens")

// BoltStore implements Store on BoltDB, for daemon deployments that
// already keep their state in a database file. Legacy host:port keys
// live in the same bucket as device ID keys, exactly as they do in the
// JSON file layout.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTokens)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create token bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func findTx(tx *bolt.Tx, deviceID, host string, port int) (string, *Record, error) {
	b := tx.Bucket(bucketTokens)
	if b == nil {
		return "", nil, fmt.Errorf("bucket %q not found", bucketTokens)
	}
	for _, key := range lookupKeys(deviceID, host, port) {
		data := b.Get([]byte(key))
		if data == nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return "", nil, fmt.Errorf("decode token %q: %w", key, err)
		}
		return key, &rec, nil
	}
	return "", nil, nil
}

func (s *BoltStore) Get(deviceID, host string, port int) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		_, found, err := findTx(tx, deviceID, host, port)
		rec = found
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("token for %s: %w", lookupName(deviceID, host, port), ErrNotFound)
	}
	return rec, nil
}

func (s *BoltStore) Save(rec *Record) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("save token: empty device id")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTokens)
		}
		if legacy := fmt.Sprintf("%s:%d", rec.Host, rec.Port); legacy != rec.DeviceID {
			if err := b.Delete([]byte(legacy)); err != nil {
				return err
			}
		}
		if rec.Host != "" && rec.Host != rec.DeviceID {
			if err := b.Delete([]byte(rec.Host)); err != nil {
				return err
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.DeviceID), data)
	})
}

func (s *BoltStore) Status(deviceID, host string, port int) Status {
	var rec *Record
	s.db.View(func(tx *bolt.Tx) error {
		_, found, err := findTx(tx, deviceID, host, port)
		rec = found
		return err
	})
	return statusOf(rec, time.Now())
}

func (s *BoltStore) Delete(deviceID, host string, port int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key, rec, err := findTx(tx, deviceID, host, port)
		if err != nil || rec == nil {
			return err
		}
		return tx.Bucket(bucketTokens).Delete([]byte(key))
	})
}

func (s *BoltStore) MigrateKey(oldKey, deviceID string) error {
	if oldKey == deviceID || deviceID == "" {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTokens)
		}
		data := b.Get([]byte(oldKey))
		if data == nil {
			return nil
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode token %q: %w", oldKey, err)
		}
		rec.DeviceID = deviceID
		out, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := b.Delete([]byte(oldKey)); err != nil {
			return err
		}
		return b.Put([]byte(deviceID), out)
	})
}

func (s *BoltStore) List() ([]*Record, error) {
	var records []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b == nil {
			return nil
		}
		records = make([]*Record, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketTokens); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTokens)
		return err
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
