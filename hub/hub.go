// Package hub implements the reference collaboration server: a
// disk-backed file tree with versions, ACLs, locks and checkpoints,
// plus message channels and shared live layers, all served over a
// single websocket per client.
package hub

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/binzume/scenesync/scene"
	"github.com/binzume/scenesync/wire"
)

// Version is announced to clients in the auth response.
const Version = "1.1.0"

const (
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

type Hub struct {
	cfg *Config
	log *slog.Logger
	mux *http.ServeMux
	up  websocket.Upgrader

	mu       sync.Mutex
	meta     *metaStore
	conns    map[*conn]bool
	channels map[string]map[*conn]bool
	lives    map[string]*liveLayer
}

// liveLayer is the hub-side state of one shared layer: the composed
// document, the op batch counter and the subscribed connections.
type liveLayer struct {
	layer *scene.Layer
	seq   uint64
	subs  map[*conn]bool
}

func New(cfg *Config) (*Hub, error) {
	if err := os.MkdirAll(cfg.DataRoot, 0755); err != nil {
		return nil, err
	}
	meta, err := loadMetaStore(cfg.DataRoot)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		cfg:      cfg,
		log:      slog.Default(),
		mux:      http.NewServeMux(),
		up:       websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		meta:     meta,
		conns:    map[*conn]bool{},
		channels: map[string]map[*conn]bool{},
		lives:    map[string]*liveLayer{},
	}
	h.mux.HandleFunc("/ws", h.serveWS)
	return h, nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Close disconnects every client. http.Server.Shutdown does not
// terminate established websockets, so the daemon calls this first.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// conn is one authenticated websocket client. watches is guarded by
// hub.mu; sendq is closed by dropConn after the conn is unregistered.
type conn struct {
	hub     *Hub
	ws      *websocket.Conn
	user    string
	client  string
	app     string
	sendq   chan any
	watches []string
}

// send queues a message for writePump. It must only be called from the
// conn's own read loop or while hub.mu is held and the conn is still
// registered. A full queue marks the client dead.
func (c *conn) send(v any) {
	select {
	case c.sendq <- v:
	default:
		c.ws.Close()
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case v, ok := <-c.sendq:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteJSON(v); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// The first frame must authenticate.
	var req wire.Request
	if err := ws.ReadJSON(&req); err != nil {
		return
	}
	if req.Op != wire.OpAuth {
		ws.WriteJSON(&wire.Response{ID: req.ID, Err: "auth required"})
		return
	}
	user := req.User
	if user == "" {
		user = "guest"
	}
	if len(h.cfg.Users) > 0 {
		if pass, ok := h.cfg.Users[user]; !ok || pass != req.Pass {
			ws.WriteJSON(&wire.Response{ID: req.ID, Err: wire.ErrPermission})
			return
		}
	}
	c := &conn{hub: h, ws: ws, user: user, client: req.Client, app: req.App, sendq: make(chan any, sendBuffer)}
	if err := ws.WriteJSON(&wire.Response{ID: req.ID, OK: true, User: user, Server: "scenehub/" + Version}); err != nil {
		return
	}
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
	go c.writePump()
	h.log.Info("client connected", "user", user, "app", c.app, "remote", ws.RemoteAddr().String())
	defer h.dropConn(c)

	for {
		var req wire.Request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		resp := c.handle(&req)
		h.log.Debug("request", "user", c.user, "op", req.Op, "path", req.Path, "error", resp.Err)
		c.send(resp)
	}
}

// dropConn unregisters the conn everywhere, notifies the channels it
// was in and closes the send queue.
func (h *Hub) dropConn(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	for p, members := range h.channels {
		if members[c] {
			delete(members, c)
			h.channelEvent(p, c, wire.KindLeft, nil)
			if len(members) == 0 {
				delete(h.channels, p)
			}
		}
	}
	for p, l := range h.lives {
		delete(l.subs, c)
		if len(l.subs) == 0 {
			delete(h.lives, p)
		}
	}
	h.mu.Unlock()
	close(c.sendq)
	h.log.Info("client disconnected", "user", c.user)
}

// channelEvent notifies every member of a channel except from itself.
// Caller holds hub.mu.
func (h *Hub) channelEvent(p string, from *conn, kind string, content map[string]any) {
	for m := range h.channels[p] {
		if m == from {
			continue
		}
		m.send(&wire.Event{Event: wire.EventChannel, Channel: p, From: from.client, User: from.user, Kind: kind, Content: content})
	}
}

// statEvent notifies every conn watching a prefix of p. Caller holds
// hub.mu.
func (h *Hub) statEvent(status, p string, e *wire.Entry) {
	for c := range h.conns {
		for _, w := range c.watches {
			if pathHasPrefix(p, w) {
				c.send(&wire.Event{Event: wire.EventStat, Path: p, Status: status, Entry: e})
				break
			}
		}
	}
}

// cleanPath normalizes a request path to "/a/b" form.
func cleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func parentPath(p string) string {
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return "/"
}

// isHiddenPath reports paths reserved for hub bookkeeping.
func isHiddenPath(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".checkpoints" || seg == MetaFileName {
			return true
		}
	}
	return false
}
