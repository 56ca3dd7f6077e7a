package hub

import (
	"encoding/json"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/binzume/scenesync/scene"
	"github.com/binzume/scenesync/wire"
)

var (
	errNotFound     = errors.New(wire.ErrNotFound)
	errExist        = errors.New(wire.ErrExist)
	errPermission   = errors.New(wire.ErrPermission)
	errNotSupported = errors.New(wire.ErrNotSupported)
	errLocked       = errors.New(wire.ErrLocked)
)

func errString(err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return wire.ErrNotFound
	case errors.Is(err, os.ErrExist):
		return wire.ErrExist
	case errors.Is(err, os.ErrPermission):
		return wire.ErrPermission
	}
	return err.Error()
}

func (h *Hub) diskPath(p string) string {
	return filepath.Join(h.cfg.DataRoot, filepath.FromSlash(strings.TrimPrefix(p, "/")))
}

func (h *Hub) checkpointDir(p string) string {
	return filepath.Join(h.cfg.DataRoot, ".checkpoints", filepath.FromSlash(strings.TrimPrefix(p, "/")))
}

// accessFor resolves the effective access of user on p: the nearest
// ancestor-or-self with an explicit ACL decides; otherwise the creator
// of the nearest known path has full access and everyone else may
// read. Paths nobody has touched yet are open.
func (h *Hub) accessFor(user, p string) wire.Access {
	var nearest *fileMeta
	for q := p; ; q = parentPath(q) {
		if m := h.meta.get(q); m != nil {
			if len(m.ACL) > 0 {
				return m.ACL[user] | m.ACL["*"]
			}
			if nearest == nil {
				nearest = m
			}
		}
		if q == "/" {
			break
		}
	}
	if nearest == nil || nearest.CreatedBy == user {
		return wire.AccessFull
	}
	return wire.AccessRead
}

func (h *Hub) check(c *conn, p string, a wire.Access) error {
	if h.accessFor(c.user, p)&a != a {
		return errPermission
	}
	return nil
}

func (h *Hub) checkLock(c *conn, p string) error {
	if m := h.meta.get(p); m != nil && m.Lock != "" && m.Lock != c.user {
		return errLocked
	}
	return nil
}

func (h *Hub) entryFor(user, p string, fi os.FileInfo) *wire.Entry {
	e := &wire.Entry{Path: p, Name: path.Base(p), ModifiedTime: fi.ModTime().UnixMilli()}
	if fi.IsDir() {
		e.Flags |= wire.FlagFolder
	} else {
		e.Size = fi.Size()
	}
	if m := h.meta.get(p); m != nil {
		e.Version = m.Version
		e.CreatedBy = m.CreatedBy
		e.ModifiedBy = m.ModifiedBy
		if m.ModifiedTime != 0 {
			e.ModifiedTime = m.ModifiedTime
		}
		if m.Lock != "" {
			e.Flags |= wire.FlagLocked
		}
		if m.LastCheckpoint > 0 {
			e.Flags |= wire.FlagCheckpointed
		}
	}
	if h.accessFor(user, p)&wire.AccessWrite != 0 {
		e.Flags |= wire.FlagWritable
	} else {
		e.Flags |= wire.FlagReadOnly
	}
	if strings.HasSuffix(p, scene.LiveExt) {
		e.Flags |= wire.FlagLive
	}
	if len(h.channels[p]) > 0 {
		e.Flags |= wire.FlagChannel
	}
	return e
}

func (h *Hub) saveMeta() {
	if err := h.meta.save(); err != nil {
		h.log.Error("meta store save failed", "error", err)
	}
}

// makeCheckpoint copies the current content of p into the checkpoint
// area and writes the JSON sidecar. The caller persists the meta store.
func (h *Hub) makeCheckpoint(p, comment, user string) (*wire.Checkpoint, error) {
	b, err := os.ReadFile(h.diskPath(p))
	if err != nil {
		return nil, err
	}
	m := h.meta.ensure(p, user)
	m.LastCheckpoint++
	ck := &wire.Checkpoint{ID: m.LastCheckpoint, Comment: comment, CreatedBy: user, CreatedTime: time.Now().UnixMilli()}
	dir := h.checkpointDir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	name := strconv.FormatUint(ck.ID, 10)
	if err := os.WriteFile(filepath.Join(dir, name), b, 0644); err != nil {
		return nil, err
	}
	sb, err := json.Marshal(ck)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), sb, 0644); err != nil {
		return nil, err
	}
	return ck, nil
}

func (h *Hub) listCheckpoints(p string) ([]*wire.Checkpoint, error) {
	des, err := os.ReadDir(h.checkpointDir(p))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cks []*wire.Checkpoint
	for _, de := range des {
		if !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(h.checkpointDir(p), de.Name()))
		if err != nil {
			continue
		}
		var ck wire.Checkpoint
		if err := json.Unmarshal(b, &ck); err != nil {
			continue
		}
		cks = append(cks, &ck)
	}
	sort.Slice(cks, func(i, j int) bool { return cks[i].ID < cks[j].ID })
	return cks, nil
}
