package hub

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/binzume/scenesync/wire"
)

// MetaFileName is the meta store file under the data root. It is
// hidden from listings.
const MetaFileName = ".scenesync-meta.json"

// fileMeta holds the hub-side state of one path that the filesystem
// cannot carry: version counter, ownership, ACL, lock holder and the
// checkpoint id counter.
type fileMeta struct {
	Version        uint64                 `json:"version,omitempty"`
	CreatedBy      string                 `json:"createdBy,omitempty"`
	ModifiedBy     string                 `json:"modifiedBy,omitempty"`
	CreatedTime    int64                  `json:"createdTime,omitempty"`
	ModifiedTime   int64                  `json:"modifiedTime,omitempty"`
	ACL            map[string]wire.Access `json:"acl,omitempty"`
	Lock           string                 `json:"lock,omitempty"`
	LastCheckpoint uint64                 `json:"lastCheckpoint,omitempty"`
}

// metaStore maps clean hub paths ("/dir/file.scn") to their meta,
// persisted as a single JSON document.
type metaStore struct {
	path  string
	files map[string]*fileMeta
}

func loadMetaStore(dataRoot string) (*metaStore, error) {
	s := &metaStore{path: filepath.Join(dataRoot, MetaFileName), files: map[string]*fileMeta{}}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &s.files); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *metaStore) save() error {
	b, err := json.MarshalIndent(s.files, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0644)
}

func (s *metaStore) get(p string) *fileMeta {
	return s.files[p]
}

func (s *metaStore) ensure(p, user string) *fileMeta {
	m := s.files[p]
	if m == nil {
		m = &fileMeta{CreatedBy: user, CreatedTime: time.Now().UnixMilli()}
		s.files[p] = m
	}
	return m
}

// touch bumps the version and records the modifying user.
func (s *metaStore) touch(p, user string) *fileMeta {
	m := s.ensure(p, user)
	m.Version++
	m.ModifiedBy = user
	m.ModifiedTime = time.Now().UnixMilli()
	return m
}

func (s *metaStore) removeTree(p string) {
	for k := range s.files {
		if pathHasPrefix(k, p) {
			delete(s.files, k)
		}
	}
}

func (s *metaStore) moveTree(src, dst string) {
	moved := map[string]*fileMeta{}
	for k, m := range s.files {
		if pathHasPrefix(k, src) {
			moved[dst+k[len(src):]] = m
			delete(s.files, k)
		}
	}
	for k, m := range moved {
		s.files[k] = m
	}
}

// pathHasPrefix reports whether p is prefix itself or below it.
func pathHasPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
