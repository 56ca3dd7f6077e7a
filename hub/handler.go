package hub

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/binzume/scenesync/scene"
	"github.com/binzume/scenesync/wire"
)

func (c *conn) handle(req *wire.Request) *wire.Response {
	h := c.hub
	resp := &wire.Response{ID: req.ID}
	p := cleanPath(req.Path)

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	switch req.Op {
	case wire.OpStat:
		err = h.opStat(c, p, resp)
	case wire.OpList:
		err = h.opList(c, p, resp)
	case wire.OpRead:
		err = h.opRead(c, p, resp)
	case wire.OpWrite:
		err = h.opWrite(c, p, req, resp)
	case wire.OpMkdir:
		err = h.opMkdir(c, p)
	case wire.OpCopy:
		err = h.opCopy(c, p, cleanPath(req.Dest))
	case wire.OpMove:
		err = h.opMove(c, p, cleanPath(req.Dest))
	case wire.OpDelete:
		err = h.opDelete(c, p)
	case wire.OpLock:
		err = h.opLock(c, p)
	case wire.OpUnlock:
		err = h.opUnlock(c, p)
	case wire.OpGetACLs:
		err = h.opGetACLs(c, p, resp)
	case wire.OpSetACLs:
		err = h.opSetACLs(c, p, req, resp)
	case wire.OpCheckpoint:
		err = h.opCheckpoint(c, p, req, resp)
	case wire.OpCheckpoints:
		err = h.opCheckpoints(c, p, resp)
	case wire.OpRestore:
		err = h.opRestore(c, p, req)
	case wire.OpSubscribe:
		err = h.opSubscribe(c, p)
	case wire.OpUnsubscribe:
		err = h.opUnsubscribe(c, p)
	case wire.OpJoin:
		err = h.opJoin(c, p)
	case wire.OpSend:
		err = h.opSend(c, p, req)
	case wire.OpLeave:
		err = h.opLeave(c, p)
	case wire.OpLiveOpen:
		err = h.opLiveOpen(c, p, resp)
	case wire.OpLiveOps:
		err = h.opLiveOps(c, p, req, resp)
	case wire.OpLiveClose:
		err = h.opLiveClose(c, p)
	default:
		err = errNotSupported
	}
	if err != nil {
		resp.Err = errString(err)
		return resp
	}
	resp.OK = true
	return resp
}

func (h *Hub) opStat(c *conn, p string, resp *wire.Response) error {
	if err := h.check(c, p, wire.AccessRead); err != nil {
		return err
	}
	if isHiddenPath(p) {
		return errNotFound
	}
	fi, err := os.Stat(h.diskPath(p))
	if err != nil {
		return err
	}
	resp.Entry = h.entryFor(c.user, p, fi)
	return nil
}

func (h *Hub) opList(c *conn, p string, resp *wire.Response) error {
	if err := h.check(c, p, wire.AccessRead); err != nil {
		return err
	}
	if isHiddenPath(p) {
		return errNotFound
	}
	dp := h.diskPath(p)
	fi, err := os.Stat(dp)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		resp.Entries = []*wire.Entry{h.entryFor(c.user, p, fi)}
		return nil
	}
	des, err := os.ReadDir(dp)
	if err != nil {
		return err
	}
	resp.Entries = []*wire.Entry{}
	for _, de := range des {
		name := de.Name()
		if name == MetaFileName || name == ".checkpoints" {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		resp.Entries = append(resp.Entries, h.entryFor(c.user, path.Join(p, name), fi))
	}
	return nil
}

func (h *Hub) opRead(c *conn, p string, resp *wire.Response) error {
	if err := h.check(c, p, wire.AccessRead); err != nil {
		return err
	}
	if isHiddenPath(p) {
		return errNotFound
	}
	b, err := os.ReadFile(h.diskPath(p))
	if err != nil {
		return err
	}
	resp.Data = b
	return nil
}

func (h *Hub) opWrite(c *conn, p string, req *wire.Request, resp *wire.Response) error {
	if p == "/" || isHiddenPath(p) {
		return errPermission
	}
	if err := h.check(c, p, wire.AccessWrite); err != nil {
		return err
	}
	if err := h.checkLock(c, p); err != nil {
		return err
	}
	dp := h.diskPath(p)
	_, statErr := os.Stat(dp)
	if err := os.MkdirAll(filepath.Dir(dp), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(dp, req.Data, 0644); err != nil {
		return err
	}
	h.meta.touch(p, c.user)
	if req.Comment != "" {
		if _, err := h.makeCheckpoint(p, req.Comment, c.user); err != nil {
			return err
		}
	}
	h.saveMeta()
	// A direct write replaces any open live layer; sessions on the
	// path end and the next liveopen reloads from disk.
	delete(h.lives, p)
	fi, err := os.Stat(dp)
	if err != nil {
		return err
	}
	e := h.entryFor(c.user, p, fi)
	status := wire.StatusUpdated
	if statErr != nil {
		status = wire.StatusCreated
	}
	h.statEvent(status, p, e)
	resp.Entry = e
	return nil
}

func (h *Hub) opMkdir(c *conn, p string) error {
	if p == "/" || isHiddenPath(p) {
		return errExist
	}
	if err := h.check(c, p, wire.AccessWrite); err != nil {
		return err
	}
	dp := h.diskPath(p)
	if _, err := os.Stat(dp); err == nil {
		return errExist
	}
	if err := os.MkdirAll(dp, 0755); err != nil {
		return err
	}
	h.meta.ensure(p, c.user)
	h.saveMeta()
	fi, err := os.Stat(dp)
	if err != nil {
		return err
	}
	h.statEvent(wire.StatusCreated, p, h.entryFor(c.user, p, fi))
	return nil
}

func (h *Hub) opCopy(c *conn, src, dst string) error {
	if dst == "/" || isHiddenPath(src) || isHiddenPath(dst) {
		return errPermission
	}
	if err := h.check(c, src, wire.AccessRead); err != nil {
		return err
	}
	if err := h.check(c, dst, wire.AccessWrite); err != nil {
		return err
	}
	if err := h.checkLock(c, dst); err != nil {
		return err
	}
	fi, err := os.Stat(h.diskPath(src))
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return errNotSupported
	}
	b, err := os.ReadFile(h.diskPath(src))
	if err != nil {
		return err
	}
	dp := h.diskPath(dst)
	_, statErr := os.Stat(dp)
	if err := os.MkdirAll(filepath.Dir(dp), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(dp, b, 0644); err != nil {
		return err
	}
	h.meta.touch(dst, c.user)
	h.saveMeta()
	fi, err = os.Stat(dp)
	if err != nil {
		return err
	}
	status := wire.StatusUpdated
	if statErr != nil {
		status = wire.StatusCreated
	}
	h.statEvent(status, dst, h.entryFor(c.user, dst, fi))
	return nil
}

func (h *Hub) opMove(c *conn, src, dst string) error {
	if src == "/" || dst == "/" || isHiddenPath(src) || isHiddenPath(dst) {
		return errPermission
	}
	if err := h.check(c, src, wire.AccessWrite); err != nil {
		return err
	}
	if err := h.check(c, dst, wire.AccessWrite); err != nil {
		return err
	}
	if err := h.checkLock(c, src); err != nil {
		return err
	}
	if err := h.checkLock(c, dst); err != nil {
		return err
	}
	if _, err := os.Stat(h.diskPath(src)); err != nil {
		return err
	}
	if _, err := os.Stat(h.diskPath(dst)); err == nil {
		return errExist
	}
	dp := h.diskPath(dst)
	if err := os.MkdirAll(filepath.Dir(dp), 0755); err != nil {
		return err
	}
	if err := os.Rename(h.diskPath(src), dp); err != nil {
		return err
	}
	os.Rename(h.checkpointDir(src), h.checkpointDir(dst))
	h.meta.moveTree(src, dst)
	h.meta.touch(dst, c.user)
	h.saveMeta()
	h.dropChannels(src)
	h.dropLives(src)
	h.statEvent(wire.StatusDeleted, src, nil)
	fi, err := os.Stat(dp)
	if err != nil {
		return err
	}
	h.statEvent(wire.StatusCreated, dst, h.entryFor(c.user, dst, fi))
	return nil
}

func (h *Hub) opDelete(c *conn, p string) error {
	if p == "/" || isHiddenPath(p) {
		return errPermission
	}
	if err := h.check(c, p, wire.AccessWrite); err != nil {
		return err
	}
	if err := h.checkLock(c, p); err != nil {
		return err
	}
	if _, err := os.Stat(h.diskPath(p)); err != nil {
		return err
	}
	if err := os.RemoveAll(h.diskPath(p)); err != nil {
		return err
	}
	os.RemoveAll(h.checkpointDir(p))
	h.meta.removeTree(p)
	h.saveMeta()
	h.dropChannels(p)
	h.dropLives(p)
	h.statEvent(wire.StatusDeleted, p, nil)
	return nil
}

// dropChannels closes every channel at or under p with a Deleted
// notification to all members. Caller holds hub.mu.
func (h *Hub) dropChannels(p string) {
	for cp, members := range h.channels {
		if !pathHasPrefix(cp, p) {
			continue
		}
		for m := range members {
			m.send(&wire.Event{Event: wire.EventChannel, Channel: cp, Kind: wire.KindDeleted})
		}
		delete(h.channels, cp)
	}
}

func (h *Hub) dropLives(p string) {
	for lp := range h.lives {
		if pathHasPrefix(lp, p) {
			delete(h.lives, lp)
		}
	}
}

func (h *Hub) opLock(c *conn, p string) error {
	if isHiddenPath(p) {
		return errNotFound
	}
	if err := h.check(c, p, wire.AccessWrite); err != nil {
		return err
	}
	fi, err := os.Stat(h.diskPath(p))
	if err != nil {
		return err
	}
	m := h.meta.ensure(p, c.user)
	if m.Lock != "" && m.Lock != c.user {
		return errLocked
	}
	m.Lock = c.user
	h.saveMeta()
	h.statEvent(wire.StatusLocked, p, h.entryFor(c.user, p, fi))
	return nil
}

func (h *Hub) opUnlock(c *conn, p string) error {
	if err := h.check(c, p, wire.AccessWrite); err != nil {
		return err
	}
	m := h.meta.get(p)
	if m == nil || m.Lock == "" {
		return nil
	}
	if m.Lock != c.user {
		return errPermission
	}
	m.Lock = ""
	h.saveMeta()
	if fi, err := os.Stat(h.diskPath(p)); err == nil {
		h.statEvent(wire.StatusUnlocked, p, h.entryFor(c.user, p, fi))
	}
	return nil
}

func aclEntries(m *fileMeta) []wire.ACLEntry {
	if len(m.ACL) == 0 {
		return []wire.ACLEntry{
			{Name: m.CreatedBy, Access: wire.AccessFull},
			{Name: "*", Access: wire.AccessRead},
		}
	}
	var acls []wire.ACLEntry
	for name, a := range m.ACL {
		acls = append(acls, wire.ACLEntry{Name: name, Access: a})
	}
	sort.Slice(acls, func(i, j int) bool { return acls[i].Name < acls[j].Name })
	return acls
}

func (h *Hub) opGetACLs(c *conn, p string, resp *wire.Response) error {
	if err := h.check(c, p, wire.AccessRead); err != nil {
		return err
	}
	m := h.meta.get(p)
	if m == nil {
		if _, err := os.Stat(h.diskPath(p)); err != nil {
			return err
		}
		resp.ACLs = []wire.ACLEntry{}
		return nil
	}
	resp.ACLs = aclEntries(m)
	return nil
}

func (h *Hub) opSetACLs(c *conn, p string, req *wire.Request, resp *wire.Response) error {
	if isHiddenPath(p) {
		return errNotFound
	}
	if err := h.check(c, p, wire.AccessAdmin); err != nil {
		return err
	}
	if req.Name == "" {
		return errors.New("acl name required")
	}
	m := h.meta.ensure(p, c.user)
	if m.ACL == nil {
		m.ACL = map[string]wire.Access{}
	}
	if req.Access == wire.AccessNone {
		delete(m.ACL, req.Name)
	} else {
		m.ACL[req.Name] = req.Access
	}
	h.saveMeta()
	resp.ACLs = aclEntries(m)
	return nil
}

func (h *Hub) opCheckpoint(c *conn, p string, req *wire.Request, resp *wire.Response) error {
	if isHiddenPath(p) {
		return errNotFound
	}
	if err := h.check(c, p, wire.AccessWrite); err != nil {
		return err
	}
	ck, err := h.makeCheckpoint(p, req.Comment, c.user)
	if err != nil {
		return err
	}
	h.saveMeta()
	resp.Checkpoints = []*wire.Checkpoint{ck}
	return nil
}

func (h *Hub) opCheckpoints(c *conn, p string, resp *wire.Response) error {
	if err := h.check(c, p, wire.AccessRead); err != nil {
		return err
	}
	cks, err := h.listCheckpoints(p)
	if err != nil {
		return err
	}
	if cks == nil {
		cks = []*wire.Checkpoint{}
	}
	resp.Checkpoints = cks
	return nil
}

func (h *Hub) opRestore(c *conn, p string, req *wire.Request) error {
	if isHiddenPath(p) {
		return errNotFound
	}
	if err := h.check(c, p, wire.AccessWrite); err != nil {
		return err
	}
	if err := h.checkLock(c, p); err != nil {
		return err
	}
	b, err := os.ReadFile(filepath.Join(h.checkpointDir(p), strconv.FormatUint(req.CheckpointID, 10)))
	if err != nil {
		return err
	}
	if _, err := h.makeCheckpoint(p, "before restore", c.user); err != nil {
		return err
	}
	if err := os.WriteFile(h.diskPath(p), b, 0644); err != nil {
		return err
	}
	h.meta.touch(p, c.user)
	h.saveMeta()
	delete(h.lives, p)
	fi, err := os.Stat(h.diskPath(p))
	if err != nil {
		return err
	}
	h.statEvent(wire.StatusUpdated, p, h.entryFor(c.user, p, fi))
	return nil
}

func (h *Hub) opSubscribe(c *conn, p string) error {
	if err := h.check(c, p, wire.AccessRead); err != nil {
		return err
	}
	for _, w := range c.watches {
		if w == p {
			return nil
		}
	}
	c.watches = append(c.watches, p)
	return nil
}

func (h *Hub) opUnsubscribe(c *conn, p string) error {
	for i, w := range c.watches {
		if w == p {
			c.watches = append(c.watches[:i], c.watches[i+1:]...)
			break
		}
	}
	return nil
}

func (h *Hub) opJoin(c *conn, p string) error {
	if err := h.check(c, p, wire.AccessRead); err != nil {
		return err
	}
	members := h.channels[p]
	if members == nil {
		members = map[*conn]bool{}
		h.channels[p] = members
	}
	members[c] = true
	h.channelEvent(p, c, wire.KindJoin, nil)
	return nil
}

func (h *Hub) opSend(c *conn, p string, req *wire.Request) error {
	members := h.channels[p]
	if members == nil || !members[c] {
		return errors.New("not joined")
	}
	h.channelEvent(p, c, wire.KindMessage, req.Content)
	return nil
}

func (h *Hub) opLeave(c *conn, p string) error {
	members := h.channels[p]
	if members == nil || !members[c] {
		return nil
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.channels, p)
	}
	h.channelEvent(p, c, wire.KindLeft, nil)
	return nil
}

func (h *Hub) opLiveOpen(c *conn, p string, resp *wire.Response) error {
	if isHiddenPath(p) {
		return errPermission
	}
	if err := h.check(c, p, wire.AccessWrite); err != nil {
		return err
	}
	l := h.lives[p]
	if l == nil {
		dp := h.diskPath(p)
		b, err := os.ReadFile(dp)
		if errors.Is(err, os.ErrNotExist) {
			layer := scene.NewLayer()
			var buf bytes.Buffer
			if err := layer.WriteLayer(&buf); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dp), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(dp, buf.Bytes(), 0644); err != nil {
				return err
			}
			h.meta.touch(p, c.user)
			h.saveMeta()
			if fi, err := os.Stat(dp); err == nil {
				h.statEvent(wire.StatusCreated, p, h.entryFor(c.user, p, fi))
			}
			b = buf.Bytes()
			l = &liveLayer{layer: layer, subs: map[*conn]bool{}}
		} else if err != nil {
			return err
		} else {
			layer, err := scene.ReadLayer(bytes.NewReader(b))
			if err != nil {
				return fmt.Errorf("broken live layer %s: %w", p, err)
			}
			l = &liveLayer{layer: layer, subs: map[*conn]bool{}}
		}
		h.lives[p] = l
		resp.Layer = b
		resp.Seq = l.seq
		l.subs[c] = true
		return nil
	}
	var buf bytes.Buffer
	if err := l.layer.WriteLayer(&buf); err != nil {
		return err
	}
	resp.Layer = buf.Bytes()
	resp.Seq = l.seq
	l.subs[c] = true
	return nil
}

func (h *Hub) opLiveOps(c *conn, p string, req *wire.Request, resp *wire.Response) error {
	l := h.lives[p]
	if l == nil || !l.subs[c] {
		return errors.New("live not open")
	}
	if len(req.Ops) == 0 {
		resp.Seq = l.seq
		return nil
	}
	for _, op := range req.Ops {
		if err := l.layer.ApplyOp(op); err != nil {
			h.log.Warn("live op rejected", "path", p, "op", op.Kind, "error", err)
		}
	}
	l.seq++
	var buf bytes.Buffer
	if err := l.layer.WriteLayer(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(h.diskPath(p), buf.Bytes(), 0644); err != nil {
		return err
	}
	h.meta.touch(p, c.user)
	h.saveMeta()
	for s := range l.subs {
		if s == c {
			continue
		}
		s.send(&wire.Event{Event: wire.EventLive, Path: p, From: c.client, User: c.user, Ops: req.Ops, Seq: l.seq})
	}
	if fi, err := os.Stat(h.diskPath(p)); err == nil {
		h.statEvent(wire.StatusUpdated, p, h.entryFor(c.user, p, fi))
	}
	resp.Seq = l.seq
	return nil
}

func (h *Hub) opLiveClose(c *conn, p string) error {
	l := h.lives[p]
	if l == nil {
		return nil
	}
	delete(l.subs, c)
	if len(l.subs) == 0 {
		delete(h.lives, p)
	}
	return nil
}
