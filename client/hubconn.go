package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/binzume/scenesync/wire"
)

const (
	dialTimeout = 10 * time.Second
	pingPeriod  = 30 * time.Second
)

type connState int

const (
	stateNew connState = iota
	stateConnected
	stateClosed
)

type statWatch struct {
	path string
	fn   func(StatEvent)
}

// hubConn is one authenticated websocket to a hub. Requests are
// matched to responses through the pending map; events are dispatched
// to watches, channels and live handles. Callbacks never run while mu
// is held.
type hubConn struct {
	cli  *Client
	host string

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu       sync.Mutex
	state    connState
	ws       *websocket.Conn
	server   string
	nextID   int64
	pending  map[int64]chan *wire.Response
	watches  []*statWatch
	channels map[string]*Channel
	lives    map[string]*LiveHandle
}

func newHubConn(cli *Client, host string) *hubConn {
	return &hubConn{
		cli:      cli,
		host:     host,
		pending:  map[int64]chan *wire.Response{},
		channels: map[string]*Channel{},
		lives:    map[string]*LiveHandle{},
	}
}

func (hc *hubConn) urlFor(p string) string {
	return URLScheme + "://" + hc.host + p
}

func (hc *hubConn) serverVersion() string {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.server
}

// connect dials and authenticates once. A failed dial may be retried
// by the next operation; a connection that dropped stays closed.
func (hc *hubConn) connect(ctx context.Context) error {
	hc.dialMu.Lock()
	defer hc.dialMu.Unlock()
	hc.mu.Lock()
	state := hc.state
	hc.mu.Unlock()
	switch state {
	case stateConnected:
		return nil
	case stateClosed:
		return fmt.Errorf("%s: %w", hc.host, ErrNotConnected)
	}
	base := hc.urlFor("/")
	hc.cli.status(base, Connecting)
	d := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := d.DialContext(ctx, "ws://"+hc.host+"/ws", nil)
	if err != nil {
		hc.cli.status(base, ConnectError)
		hc.cli.status(base, Disconnected)
		return fmt.Errorf("dial %s: %v: %w", hc.host, err, ErrNotConnected)
	}
	hc.cli.mu.Lock()
	user, pass := hc.cli.user, hc.cli.pass
	hc.cli.mu.Unlock()
	auth := &wire.Request{ID: 1, Op: wire.OpAuth, User: user, Pass: pass, Client: hc.cli.id, App: hc.cli.app}
	var resp wire.Response
	if err = ws.WriteJSON(auth); err == nil {
		err = ws.ReadJSON(&resp)
	}
	if err != nil || !resp.OK {
		ws.Close()
		hc.cli.status(base, ConnectError)
		hc.cli.status(base, Disconnected)
		if err == nil {
			return fmt.Errorf("auth %s: %w", hc.host, wireError(resp.Err))
		}
		return fmt.Errorf("auth %s: %v: %w", hc.host, err, ErrNotConnected)
	}
	hc.mu.Lock()
	hc.ws = ws
	hc.state = stateConnected
	hc.server = resp.Server
	hc.nextID = 1
	hc.mu.Unlock()
	hc.cli.logf(slog.LevelInfo, "connected to %s as %s", hc.host, resp.User)
	hc.cli.status(base, Connected)
	go hc.readLoop(ws)
	go hc.pingLoop(ws)
	return nil
}

func (hc *hubConn) request(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	hc.mu.Lock()
	if hc.state != stateConnected {
		hc.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", req.Op, req.Path, ErrNotConnected)
	}
	ws := hc.ws
	hc.nextID++
	req.ID = hc.nextID
	ch := make(chan *wire.Response, 1)
	hc.pending[req.ID] = ch
	hc.mu.Unlock()

	hc.cli.logf(slog.LevelDebug, "send %s %s", req.Op, req.Path)
	hc.writeMu.Lock()
	err := ws.WriteJSON(req)
	hc.writeMu.Unlock()
	if err != nil {
		hc.mu.Lock()
		delete(hc.pending, req.ID)
		hc.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", req.Op, req.Path, ErrNotConnected)
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s %s: %w", req.Op, req.Path, ErrNotConnected)
		}
		if !resp.OK {
			return nil, fmt.Errorf("%s %s: %w", req.Op, req.Path, wireError(resp.Err))
		}
		return resp, nil
	case <-ctx.Done():
		hc.mu.Lock()
		delete(hc.pending, req.ID)
		hc.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (hc *hubConn) readLoop(ws *websocket.Conn) {
	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			break
		}
		hc.cli.logf(slog.LevelDebug, "recv %s", b)
		var probe struct {
			ID    int64  `json:"id"`
			Event string `json:"event"`
		}
		if err := json.Unmarshal(b, &probe); err != nil {
			hc.cli.logf(slog.LevelWarn, "bad frame from %s: %v", hc.host, err)
			continue
		}
		if probe.Event != "" {
			var ev wire.Event
			if err := json.Unmarshal(b, &ev); err != nil {
				hc.cli.logf(slog.LevelWarn, "bad event from %s: %v", hc.host, err)
				continue
			}
			hc.handleEvent(&ev)
			continue
		}
		var resp wire.Response
		if err := json.Unmarshal(b, &resp); err != nil {
			continue
		}
		hc.mu.Lock()
		ch := hc.pending[resp.ID]
		delete(hc.pending, resp.ID)
		hc.mu.Unlock()
		if ch != nil {
			ch <- &resp
		}
	}
	hc.shutdown()
}

// pingLoop keeps the connection alive; the hub answers at the protocol
// level so pings never surface as frames.
func (hc *hubConn) pingLoop(ws *websocket.Conn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for range t.C {
		hc.mu.Lock()
		closed := hc.state == stateClosed
		hc.mu.Unlock()
		if closed {
			return
		}
		hc.writeMu.Lock()
		err := ws.WriteMessage(websocket.PingMessage, nil)
		hc.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (hc *hubConn) handleEvent(ev *wire.Event) {
	switch ev.Event {
	case wire.EventStat:
		var fns []func(StatEvent)
		hc.mu.Lock()
		for _, w := range hc.watches {
			if pathHasPrefix(ev.Path, w.path) {
				fns = append(fns, w.fn)
			}
		}
		hc.mu.Unlock()
		se := StatEvent{URL: hc.urlFor(ev.Path), Status: ev.Status, Entry: ev.Entry}
		for _, fn := range fns {
			fn(se)
		}
	case wire.EventChannel:
		hc.mu.Lock()
		ch := hc.channels[ev.Channel]
		if ev.Kind == wire.KindDeleted {
			delete(hc.channels, ev.Channel)
		}
		hc.mu.Unlock()
		if ch == nil {
			return
		}
		ch.deliver(ChannelEvent{Kind: ev.Kind, From: ev.From, User: ev.User, Content: ev.Content})
		if ev.Kind == wire.KindDeleted {
			ch.closeLocal()
		}
	case wire.EventLive:
		hc.mu.Lock()
		lh := hc.lives[ev.Path]
		hc.mu.Unlock()
		if lh == nil {
			return
		}
		lh.pushRemote(ev.Ops, ev.Seq)
		if fn := hc.cli.onLiveQueued; fn != nil {
			fn()
		}
	}
}

// shutdown tears the connection down: pending requests fail, channels
// close, live handles stop queueing.
func (hc *hubConn) shutdown() {
	hc.mu.Lock()
	wasConnected := hc.state == stateConnected
	hc.state = stateClosed
	ws := hc.ws
	pending := hc.pending
	hc.pending = map[int64]chan *wire.Response{}
	channels := hc.channels
	hc.channels = map[string]*Channel{}
	lives := hc.lives
	hc.lives = map[string]*LiveHandle{}
	hc.watches = nil
	hc.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
	for _, ch := range pending {
		close(ch)
	}
	for _, ch := range channels {
		ch.closeLocal()
	}
	for _, lh := range lives {
		lh.markClosed()
	}
	if wasConnected {
		hc.cli.status(hc.urlFor("/"), Disconnected)
		hc.cli.logf(slog.LevelInfo, "disconnected from %s", hc.host)
	}
}

func (hc *hubConn) close() {
	hc.shutdown()
}

func pathHasPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func (hc *hubConn) Stat(ctx context.Context, p string) (*Entry, error) {
	resp, err := hc.request(ctx, &wire.Request{Op: wire.OpStat, Path: p})
	if err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

func (hc *hubConn) List(ctx context.Context, p string) ([]*Entry, error) {
	resp, err := hc.request(ctx, &wire.Request{Op: wire.OpList, Path: p})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (hc *hubConn) ReadFile(ctx context.Context, p string) ([]byte, error) {
	resp, err := hc.request(ctx, &wire.Request{Op: wire.OpRead, Path: p})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (hc *hubConn) WriteFile(ctx context.Context, p string, data []byte, comment string) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpWrite, Path: p, Data: data, Comment: comment})
	return err
}

func (hc *hubConn) CreateFolder(ctx context.Context, p string) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpMkdir, Path: p})
	return err
}

func (hc *hubConn) Copy(ctx context.Context, src, dst string) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpCopy, Path: src, Dest: dst})
	return err
}

func (hc *hubConn) Move(ctx context.Context, src, dst string) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpMove, Path: src, Dest: dst})
	return err
}

func (hc *hubConn) Delete(ctx context.Context, p string) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpDelete, Path: p})
	return err
}

func (hc *hubConn) Lock(ctx context.Context, p string) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpLock, Path: p})
	return err
}

func (hc *hubConn) Unlock(ctx context.Context, p string) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpUnlock, Path: p})
	return err
}

func (hc *hubConn) GetACLs(ctx context.Context, p string) ([]ACLEntry, error) {
	resp, err := hc.request(ctx, &wire.Request{Op: wire.OpGetACLs, Path: p})
	if err != nil {
		return nil, err
	}
	return resp.ACLs, nil
}

func (hc *hubConn) SetACLs(ctx context.Context, p, name string, access Access) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpSetACLs, Path: p, Name: name, Access: access})
	return err
}

func (hc *hubConn) CreateCheckpoint(ctx context.Context, p, comment string) (*Checkpoint, error) {
	resp, err := hc.request(ctx, &wire.Request{Op: wire.OpCheckpoint, Path: p, Comment: comment})
	if err != nil {
		return nil, err
	}
	if len(resp.Checkpoints) == 0 {
		return nil, fmt.Errorf("checkpoint %s: empty response", p)
	}
	return resp.Checkpoints[0], nil
}

func (hc *hubConn) ListCheckpoints(ctx context.Context, p string) ([]*Checkpoint, error) {
	resp, err := hc.request(ctx, &wire.Request{Op: wire.OpCheckpoints, Path: p})
	if err != nil {
		return nil, err
	}
	return resp.Checkpoints, nil
}

func (hc *hubConn) RestoreCheckpoint(ctx context.Context, p string, id uint64) error {
	_, err := hc.request(ctx, &wire.Request{Op: wire.OpRestore, Path: p, CheckpointID: id})
	return err
}

func (hc *hubConn) SubscribeStat(ctx context.Context, p string, fn func(StatEvent)) (func(), error) {
	w := &statWatch{path: p, fn: fn}
	hc.mu.Lock()
	hc.watches = append(hc.watches, w)
	hc.mu.Unlock()
	if _, err := hc.request(ctx, &wire.Request{Op: wire.OpSubscribe, Path: p}); err != nil {
		hc.removeWatch(w)
		return nil, err
	}
	return func() {
		if hc.removeWatch(w) {
			hc.request(context.Background(), &wire.Request{Op: wire.OpUnsubscribe, Path: p})
		}
	}, nil
}

// removeWatch reports whether w was the last watch on its path.
func (hc *hubConn) removeWatch(w *statWatch) bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	last := true
	watches := hc.watches[:0]
	for _, x := range hc.watches {
		if x == w {
			continue
		}
		if x.path == w.path {
			last = false
		}
		watches = append(watches, x)
	}
	hc.watches = watches
	return last
}
