package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/binzume/scenesync/wire"
)

// localBackend serves plain and file: paths. Checkpoints, ACLs, locks,
// channels and live layers need a hub.
type localBackend struct{}

func (*localBackend) urlFor(p string) string { return p }

func pathError(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = ErrNotFound
	case errors.Is(err, fs.ErrExist):
		err = ErrAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		err = ErrAccessDenied
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}

func localEntry(p string, fi fs.FileInfo) *Entry {
	e := &Entry{Path: p, Name: fi.Name(), ModifiedTime: fi.ModTime().UnixMilli(), Flags: wire.FlagWritable}
	if fi.IsDir() {
		e.Flags |= wire.FlagFolder
	} else {
		e.Size = fi.Size()
	}
	return e
}

func (*localBackend) Stat(ctx context.Context, p string) (*Entry, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return nil, pathError("stat", p, err)
	}
	return localEntry(p, fi), nil
}

func (*localBackend) List(ctx context.Context, p string) ([]*Entry, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return nil, pathError("list", p, err)
	}
	if !fi.IsDir() {
		return []*Entry{localEntry(p, fi)}, nil
	}
	des, err := os.ReadDir(p)
	if err != nil {
		return nil, pathError("list", p, err)
	}
	entries := []*Entry{}
	for _, de := range des {
		fi, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, localEntry(filepath.Join(p, de.Name()), fi))
	}
	return entries, nil
}

func (*localBackend) ReadFile(ctx context.Context, p string) ([]byte, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, pathError("read", p, err)
	}
	return b, nil
}

// WriteFile ignores the checkpoint comment: the local backend keeps no
// history.
func (*localBackend) WriteFile(ctx context.Context, p string, data []byte, comment string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return pathError("write", p, err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return pathError("write", p, err)
	}
	return nil
}

func (*localBackend) CreateFolder(ctx context.Context, p string) error {
	if _, err := os.Stat(p); err == nil {
		return pathError("mkdir", p, fs.ErrExist)
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return pathError("mkdir", p, err)
	}
	return nil
}

func (b *localBackend) Copy(ctx context.Context, src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return pathError("copy", src, err)
	}
	if fi.IsDir() {
		return pathError("copy", src, ErrNotSupported)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return pathError("copy", src, err)
	}
	return b.WriteFile(ctx, dst, data, "")
}

func (*localBackend) Move(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return pathError("move", dst, fs.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return pathError("move", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return pathError("move", src, err)
	}
	return nil
}

func (*localBackend) Delete(ctx context.Context, p string) error {
	if _, err := os.Stat(p); err != nil {
		return pathError("delete", p, err)
	}
	if err := os.RemoveAll(p); err != nil {
		return pathError("delete", p, err)
	}
	return nil
}

func (*localBackend) Lock(ctx context.Context, p string) error {
	return pathError("lock", p, ErrNotSupported)
}

func (*localBackend) Unlock(ctx context.Context, p string) error {
	return pathError("unlock", p, ErrNotSupported)
}

func (*localBackend) GetACLs(ctx context.Context, p string) ([]ACLEntry, error) {
	return nil, pathError("getacls", p, ErrNotSupported)
}

func (*localBackend) SetACLs(ctx context.Context, p, name string, access Access) error {
	return pathError("setacls", p, ErrNotSupported)
}

func (*localBackend) CreateCheckpoint(ctx context.Context, p, comment string) (*Checkpoint, error) {
	return nil, pathError("checkpoint", p, ErrNotSupported)
}

func (*localBackend) ListCheckpoints(ctx context.Context, p string) ([]*Checkpoint, error) {
	return nil, pathError("checkpoints", p, ErrNotSupported)
}

func (*localBackend) RestoreCheckpoint(ctx context.Context, p string, id uint64) error {
	return pathError("restore", p, ErrNotSupported)
}

// SubscribeStat watches p with fsnotify: a directory directly, a file
// through its parent directory.
func (*localBackend) SubscribeStat(ctx context.Context, p string, fn func(StatEvent)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := p
	name := ""
	if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
		dir = filepath.Dir(p)
		name = filepath.Base(p)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, pathError("subscribe", p, err)
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if name != "" && filepath.Base(ev.Name) != name {
					continue
				}
				se := StatEvent{URL: ev.Name}
				switch {
				case ev.Has(fsnotify.Create):
					se.Status = StatusCreated
				case ev.Has(fsnotify.Write):
					se.Status = StatusUpdated
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					se.Status = StatusDeleted
				default:
					continue
				}
				if se.Status != StatusDeleted {
					if fi, err := os.Stat(ev.Name); err == nil {
						se.Entry = localEntry(ev.Name, fi)
					}
				}
				fn(se)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return func() { w.Close() }, nil
}
