package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/binzume/scenesync/scene"
	"github.com/binzume/scenesync/wire"
)

type liveBatch struct {
	ops []scene.Op
	seq uint64
}

// LiveHandle is a scene layer shared through a hub. Local edits queue
// through the layer's OnChange hook; LiveProcess ships them and applies
// what other participants sent. The layer itself must only be touched
// from the goroutine that calls LiveProcess or Fetch.
type LiveHandle struct {
	cli  *Client
	hc   *hubConn
	path string

	mu     sync.Mutex
	layer  *scene.Layer
	seq    uint64
	queued []scene.Op
	remote []liveBatch
	closed bool
}

// OpenLive opens the shared live layer at url, creating an empty one
// on the hub if it does not exist yet. Opening the same url twice
// returns the same handle.
func (c *Client) OpenLive(ctx context.Context, url string) (*LiveHandle, error) {
	u, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	if !u.IsHub() {
		return nil, fmt.Errorf("liveopen %s: %w", url, ErrNotSupported)
	}
	hc, err := c.hubFor(ctx, u)
	if err != nil {
		return nil, err
	}
	// Register before the request so batches broadcast right after the
	// snapshot are buffered, not dropped.
	lh := &LiveHandle{cli: c, hc: hc, path: u.Path}
	hc.mu.Lock()
	if prev := hc.lives[u.Path]; prev != nil {
		hc.mu.Unlock()
		return prev, nil
	}
	hc.lives[u.Path] = lh
	hc.mu.Unlock()
	resp, err := hc.request(ctx, &wire.Request{Op: wire.OpLiveOpen, Path: u.Path})
	if err != nil {
		lh.drop()
		return nil, err
	}
	layer, err := scene.ReadLayer(bytes.NewReader(resp.Layer))
	if err != nil {
		lh.drop()
		return nil, fmt.Errorf("liveopen %s: %w", url, err)
	}
	layer.OnChange = lh.Queue
	lh.mu.Lock()
	lh.layer = layer
	if resp.Seq > lh.seq {
		lh.seq = resp.Seq
	}
	lh.mu.Unlock()
	return lh, nil
}

// URL returns the handle's full URL.
func (lh *LiveHandle) URL() string {
	return lh.hc.urlFor(lh.path)
}

// Layer is the shared layer carried by this handle.
func (lh *LiveHandle) Layer() *scene.Layer {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	return lh.layer
}

// Seq is the last hub sequence number seen.
func (lh *LiveHandle) Seq() uint64 {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	return lh.seq
}

// Queue records a locally applied op for the next LiveProcess flush.
// The layer's OnChange hook points here while the handle is open.
func (lh *LiveHandle) Queue(op scene.Op) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	if lh.closed {
		return
	}
	lh.queued = append(lh.queued, op)
}

func (lh *LiveHandle) pushRemote(ops []scene.Op, seq uint64) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	if lh.closed {
		return
	}
	lh.remote = append(lh.remote, liveBatch{ops: ops, seq: seq})
}

// Fetch applies every batch received from other participants since the
// last call and returns the applied ops in hub order. LiveProcess
// calls it for every open handle; call it directly to inspect what
// changed.
func (lh *LiveHandle) Fetch() []scene.Op {
	lh.mu.Lock()
	remote := lh.remote
	lh.remote = nil
	layer := lh.layer
	lh.mu.Unlock()
	if layer == nil || len(remote) == 0 {
		return nil
	}
	var ops []scene.Op
	seq := uint64(0)
	for _, b := range remote {
		for _, op := range b.ops {
			if err := layer.ApplyOp(op); err != nil {
				lh.cli.logf(slog.LevelWarn, "live %s: apply %s %s: %v", lh.path, op.Kind, op.Path, err)
			}
		}
		ops = append(ops, b.ops...)
		seq = b.seq
	}
	lh.mu.Lock()
	if seq > lh.seq {
		lh.seq = seq
	}
	lh.mu.Unlock()
	return ops
}

// process flushes queued local ops, then applies remote ones. Failed
// flushes keep the ops queued for the next round.
func (lh *LiveHandle) process(ctx context.Context) error {
	lh.mu.Lock()
	queued := lh.queued
	lh.queued = nil
	closed := lh.closed
	lh.mu.Unlock()
	if closed {
		return nil
	}
	if len(queued) > 0 {
		resp, err := lh.hc.request(ctx, &wire.Request{Op: wire.OpLiveOps, Path: lh.path, Ops: queued})
		if err != nil {
			lh.mu.Lock()
			lh.queued = append(queued, lh.queued...)
			lh.mu.Unlock()
			return err
		}
		lh.mu.Lock()
		if resp.Seq > lh.seq {
			lh.seq = resp.Seq
		}
		lh.mu.Unlock()
	}
	lh.Fetch()
	return nil
}

// Close stops sharing. Queued ops are dropped and the layer stays
// usable as a plain local layer.
func (lh *LiveHandle) Close(ctx context.Context) error {
	lh.mu.Lock()
	if lh.closed {
		lh.mu.Unlock()
		return nil
	}
	lh.closed = true
	lh.queued = nil
	lh.remote = nil
	layer := lh.layer
	lh.mu.Unlock()
	if layer != nil {
		layer.OnChange = nil
	}
	lh.drop()
	_, err := lh.hc.request(ctx, &wire.Request{Op: wire.OpLiveClose, Path: lh.path})
	return err
}

func (lh *LiveHandle) drop() {
	lh.hc.mu.Lock()
	if lh.hc.lives[lh.path] == lh {
		delete(lh.hc.lives, lh.path)
	}
	lh.hc.mu.Unlock()
}

// markClosed is the connection-loss path; it must not touch the layer,
// which belongs to the edit goroutine.
func (lh *LiveHandle) markClosed() {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.closed = true
	lh.queued = nil
	lh.remote = nil
}

// LiveProcess flushes queued local ops on every open live handle and
// applies the remote ops received since the last call. Call it from
// the goroutine that edits the live layers; OnLiveQueued signals when
// a call would do work.
func (c *Client) LiveProcess(ctx context.Context) error {
	c.mu.Lock()
	conns := make([]*hubConn, 0, len(c.conns))
	for _, hc := range c.conns {
		conns = append(conns, hc)
	}
	c.mu.Unlock()
	var first error
	for _, hc := range conns {
		hc.mu.Lock()
		handles := make([]*LiveHandle, 0, len(hc.lives))
		for _, lh := range hc.lives {
			handles = append(handles, lh)
		}
		hc.mu.Unlock()
		for _, lh := range handles {
			if err := lh.process(ctx); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
