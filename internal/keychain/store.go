package keychain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Status is the secure-storage result code. Non-OK statuses are
// surfaced verbatim to callers through account.StoreError.
type Status int

const (
	StatusOK Status = iota
	StatusItemNotFound
	StatusAuthFailed
	StatusIOError
	StatusCorrupted
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusItemNotFound:
		return "item not found"
	case StatusAuthFailed:
		return "authentication failed"
	case StatusIOError:
		return "storage I/O error"
	case StatusCorrupted:
		return "item corrupted"
	default:
		return "unknown status"
	}
}

// Entry is one stored credential item: opaque account metadata plus the
// secret (password) portion. The secret is only ever read back on
// demand; callers must not cache it.
type Entry struct {
	Attributes []byte `json:"attributes"`
	Secret     []byte `json:"secret,omitempty"`
}

// Store is the secure key/value storage for account credentials, keyed
// by account identifier.
type Store interface {
	List() ([]string, Status)
	Get(id string) (*Entry, Status)
	Set(id string, e *Entry) Status
	Delete(id string) Status
}

const itemSuffix = ".kc"

// FileStore keeps one encrypted envelope file per account under dir.
type FileStore struct {
	dir        string
	passphrase string
}

// NewFileStore creates a file-backed store. The directory is created on
// first write.
func NewFileStore(dir, passphrase string) *FileStore {
	return &FileStore{dir: dir, passphrase: passphrase}
}

// List returns the identifiers of all stored items, sorted.
func (s *FileStore) List() ([]string, Status) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, StatusOK
		}
		return nil, StatusIOError
	}
	var ids []string
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, itemSuffix) {
			continue
		}
		raw, err := base64.URLEncoding.DecodeString(strings.TrimSuffix(name, itemSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, string(raw))
	}
	sort.Strings(ids)
	return ids, StatusOK
}

// Get reads and decrypts one item.
func (s *FileStore) Get(id string) (*Entry, Status) {
	data, err := os.ReadFile(s.itemPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, StatusItemNotFound
		}
		return nil, StatusIOError
	}
	plain, err := openEnvelope(s.passphrase, data)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return nil, StatusAuthFailed
		}
		return nil, StatusCorrupted
	}
	var e Entry
	if err := json.Unmarshal(plain, &e); err != nil {
		return nil, StatusCorrupted
	}
	return &e, StatusOK
}

// Set encrypts and durably writes one item, replacing any previous
// value. The write is atomic: a temp file is renamed over the target.
func (s *FileStore) Set(id string, e *Entry) Status {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return StatusIOError
	}
	plain, err := json.Marshal(e)
	if err != nil {
		return StatusIOError
	}
	sealed, err := sealEnvelope(s.passphrase, plain)
	if err != nil {
		return StatusIOError
	}

	path := s.itemPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return StatusIOError
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return StatusIOError
	}
	return StatusOK
}

// Delete removes one item.
func (s *FileStore) Delete(id string) Status {
	err := os.Remove(s.itemPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return StatusItemNotFound
		}
		return StatusIOError
	}
	return StatusOK
}

func (s *FileStore) itemPath(id string) string {
	return filepath.Join(s.dir, base64.URLEncoding.EncodeToString([]byte(id))+itemSuffix)
}
