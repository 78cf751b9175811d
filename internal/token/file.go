package token

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultFilePath is used when no token file is configured.
const DefaultFilePath = "tokens.json"

// FileStore keeps all records in one JSON document. Every save rewrites
// the whole file through a temp file + rename, so readers never observe
// a partial write. A corrupt or unreadable file loads as empty rather
// than failing: the cost is a re-pair, not a crash.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens a token file, creating parent directories as
// needed. The file itself is created on first save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultFilePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create token dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) load() map[string]*Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]*Record{}
	}
	records := map[string]*Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return map[string]*Record{}
	}
	return records
}

func (s *FileStore) save(records map[string]*Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write tokens: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

func (s *FileStore) find(records map[string]*Record, deviceID, host string, port int) (string, *Record) {
	for _, key := range lookupKeys(deviceID, host, port) {
		if rec, ok := records[key]; ok {
			return key, rec
		}
	}
	return "", nil
}

func (s *FileStore) Get(deviceID, host string, port int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, rec := s.find(s.load(), deviceID, host, port)
	if rec == nil {
		return nil, fmt.Errorf("token for %s: %w", lookupName(deviceID, host, port), ErrNotFound)
	}
	return rec, nil
}

func (s *FileStore) Save(rec *Record) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("save token: empty device id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	if legacy := fmt.Sprintf("%s:%d", rec.Host, rec.Port); legacy != rec.DeviceID {
		delete(records, legacy)
	}
	delete(records, rec.Host)
	records[rec.DeviceID] = rec
	return s.save(records)
}

func (s *FileStore) Status(deviceID, host string, port int) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, rec := s.find(s.load(), deviceID, host, port)
	return statusOf(rec, time.Now())
}

func (s *FileStore) Delete(deviceID, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	key, rec := s.find(records, deviceID, host, port)
	if rec == nil {
		return nil
	}
	delete(records, key)
	return s.save(records)
}

func (s *FileStore) MigrateKey(oldKey, deviceID string) error {
	if oldKey == deviceID || deviceID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	rec, ok := records[oldKey]
	if !ok {
		return nil
	}
	delete(records, oldKey)
	rec.DeviceID = deviceID
	records[deviceID] = rec
	return s.save(records)
}

func (s *FileStore) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	list := make([]*Record, 0, len(records))
	for _, rec := range records {
		list = append(list, rec)
	}
	return list, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(map[string]*Record{})
}

func (s *FileStore) Close() error { return nil }
