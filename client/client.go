// Package client resolves sync:// URLs to a hub connection and plain
// paths to the local filesystem, and exposes one API over both: file
// and folder operations, checkpoints, ACLs, locks, stat subscriptions,
// message channels and shared live layers.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/binzume/scenesync/wire"
)

// Version of the client library, for tools that report it.
const Version = "1.1.0"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrAccessDenied  = errors.New("access denied")
	ErrNotSupported  = errors.New("not supported")
	ErrNotConnected  = errors.New("not connected")
	ErrLocked        = errors.New("locked")
	ErrBadURL        = errors.New("bad url")
)

// wireError maps a hub error string back to a sentinel error.
func wireError(s string) error {
	switch s {
	case wire.ErrNotFound:
		return ErrNotFound
	case wire.ErrExist:
		return ErrAlreadyExists
	case wire.ErrPermission:
		return ErrAccessDenied
	case wire.ErrNotSupported:
		return ErrNotSupported
	case wire.ErrLocked:
		return ErrLocked
	}
	return errors.New(s)
}

// The hub protocol structs double as the client-facing metadata types.
type (
	Entry      = wire.Entry
	ACLEntry   = wire.ACLEntry
	Checkpoint = wire.Checkpoint
	Access     = wire.Access
)

// ParseAccess converts an "rwa" permission string to an Access mask.
func ParseAccess(s string) Access { return wire.ParseAccess(s) }

const (
	AccessRead  = wire.AccessRead
	AccessWrite = wire.AccessWrite
	AccessAdmin = wire.AccessAdmin
	AccessFull  = wire.AccessFull

	FlagFolder       = wire.FlagFolder
	FlagMount        = wire.FlagMount
	FlagReadOnly     = wire.FlagReadOnly
	FlagWritable     = wire.FlagWritable
	FlagLive         = wire.FlagLive
	FlagChannel      = wire.FlagChannel
	FlagCheckpointed = wire.FlagCheckpointed
	FlagLocked       = wire.FlagLocked
)

// StatEvent reports a change to a watched path.
type StatEvent struct {
	URL    string
	Status string
	Entry  *Entry
}

// StatEvent status values.
const (
	StatusCreated  = wire.StatusCreated
	StatusUpdated  = wire.StatusUpdated
	StatusDeleted  = wire.StatusDeleted
	StatusLocked   = wire.StatusLocked
	StatusUnlocked = wire.StatusUnlocked
)

// ChannelEvent kinds.
const (
	ChannelMessage = wire.KindMessage
	ChannelJoin    = wire.KindJoin
	ChannelLeft    = wire.KindLeft
	ChannelDeleted = wire.KindDeleted
)

type ConnectionStatus int

const (
	Connecting ConnectionStatus = iota
	Connected
	ConnectError
	Disconnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnectError:
		return "connect error"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Client owns one lazily dialed hub connection per host and a local
// filesystem backend. Credentials default to $SCENESYNC_USER and
// $SCENESYNC_PASS with user "guest" as the fallback.
type Client struct {
	app string
	id  string

	mu    sync.Mutex
	user  string
	pass  string
	conns map[string]*hubConn
	local *localBackend

	onStatus     func(url string, status ConnectionStatus)
	onLog        func(level slog.Level, msg string)
	onLiveQueued func()
}

func New(app string) *Client {
	user := os.Getenv("SCENESYNC_USER")
	if user == "" {
		user = "guest"
	}
	return &Client{
		app:   app,
		id:    uuid.NewString(),
		user:  user,
		pass:  os.Getenv("SCENESYNC_PASS"),
		conns: map[string]*hubConn{},
		local: &localBackend{},
	}
}

// ID is the client identity sent to hubs and shown to channel peers.
func (c *Client) ID() string { return c.id }

func (c *Client) App() string { return c.app }

func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// SetAuth replaces the credentials used for hub connections dialed
// from now on.
func (c *Client) SetAuth(user, pass string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user != "" {
		c.user = user
	}
	c.pass = pass
}

func (c *Client) OnConnectionStatus(fn func(url string, status ConnectionStatus)) {
	c.onStatus = fn
}

func (c *Client) OnLog(fn func(level slog.Level, msg string)) {
	c.onLog = fn
}

// OnLiveQueued registers a wake-up hook invoked whenever remote live
// ops arrive and are waiting for LiveProcess.
func (c *Client) OnLiveQueued(fn func()) {
	c.onLiveQueued = fn
}

func (c *Client) status(url string, s ConnectionStatus) {
	if c.onStatus != nil {
		c.onStatus(url, s)
	}
}

func (c *Client) logf(level slog.Level, format string, args ...any) {
	if c.onLog != nil {
		c.onLog(level, fmt.Sprintf(format, args...))
	}
}

// ServerVersion reports the version string the hub serving url
// announced when the connection was made. Local paths have no server.
func (c *Client) ServerVersion(ctx context.Context, url string) (string, error) {
	u, err := ParseURL(url)
	if err != nil {
		return "", err
	}
	if !u.IsHub() {
		return "", fmt.Errorf("server version %s: %w", url, ErrNotSupported)
	}
	hc, err := c.hubFor(ctx, u)
	if err != nil {
		return "", err
	}
	return hc.serverVersion(), nil
}

// Close shuts down all hub connections.
func (c *Client) Close() {
	c.mu.Lock()
	conns := make([]*hubConn, 0, len(c.conns))
	for _, hc := range c.conns {
		conns = append(conns, hc)
	}
	c.conns = map[string]*hubConn{}
	c.mu.Unlock()
	for _, hc := range conns {
		hc.close()
	}
}

// backend resolves a URL to the backend serving it and the path within.
func (c *Client) backend(ctx context.Context, u string) (backend, string, error) {
	p, err := ParseURL(u)
	if err != nil {
		return nil, "", err
	}
	if !p.IsHub() {
		return c.local, p.Path, nil
	}
	hc, err := c.hubFor(ctx, p)
	if err != nil {
		return nil, "", err
	}
	return hc, p.Path, nil
}

// hubFor returns a connected hub connection for a parsed hub URL.
func (c *Client) hubFor(ctx context.Context, u *URL) (*hubConn, error) {
	host := hostWithPort(u.Host)
	c.mu.Lock()
	hc := c.conns[host]
	if hc == nil {
		hc = newHubConn(c, host)
		c.conns[host] = hc
	}
	c.mu.Unlock()
	if err := hc.connect(ctx); err != nil {
		return nil, err
	}
	return hc, nil
}

// backend is the operation set both the local filesystem and a hub
// connection provide. Paths are already resolved; unsupported
// operations return ErrNotSupported.
type backend interface {
	urlFor(p string) string
	Stat(ctx context.Context, p string) (*Entry, error)
	List(ctx context.Context, p string) ([]*Entry, error)
	ReadFile(ctx context.Context, p string) ([]byte, error)
	WriteFile(ctx context.Context, p string, data []byte, comment string) error
	CreateFolder(ctx context.Context, p string) error
	Copy(ctx context.Context, src, dst string) error
	Move(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, p string) error
	Lock(ctx context.Context, p string) error
	Unlock(ctx context.Context, p string) error
	GetACLs(ctx context.Context, p string) ([]ACLEntry, error)
	SetACLs(ctx context.Context, p, name string, access Access) error
	CreateCheckpoint(ctx context.Context, p, comment string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, p string) ([]*Checkpoint, error)
	RestoreCheckpoint(ctx context.Context, p string, id uint64) error
	SubscribeStat(ctx context.Context, p string, fn func(StatEvent)) (func(), error)
}

func (c *Client) Stat(ctx context.Context, url string) (*Entry, error) {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return nil, err
	}
	return b.Stat(ctx, p)
}

func (c *Client) List(ctx context.Context, url string) ([]*Entry, error) {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return nil, err
	}
	return b.List(ctx, p)
}

func (c *Client) ReadFile(ctx context.Context, url string) ([]byte, error) {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return nil, err
	}
	return b.ReadFile(ctx, p)
}

// WriteFile stores data at url, creating parent folders as needed. A
// non-empty comment also records a checkpoint on backends that keep
// them.
func (c *Client) WriteFile(ctx context.Context, url string, data []byte, comment string) error {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return err
	}
	return b.WriteFile(ctx, p, data, comment)
}

func (c *Client) CreateFolder(ctx context.Context, url string) error {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return err
	}
	return b.CreateFolder(ctx, p)
}

// Copy duplicates src to dst. Across backends it falls back to
// read+write.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	sb, sp, err := c.backend(ctx, src)
	if err != nil {
		return err
	}
	db, dp, err := c.backend(ctx, dst)
	if err != nil {
		return err
	}
	if sb == db {
		return sb.Copy(ctx, sp, dp)
	}
	data, err := sb.ReadFile(ctx, sp)
	if err != nil {
		return err
	}
	return db.WriteFile(ctx, dp, data, "")
}

// Move renames src to dst, falling back to copy+delete across
// backends.
func (c *Client) Move(ctx context.Context, src, dst string) error {
	sb, sp, err := c.backend(ctx, src)
	if err != nil {
		return err
	}
	db, dp, err := c.backend(ctx, dst)
	if err != nil {
		return err
	}
	if sb == db {
		return sb.Move(ctx, sp, dp)
	}
	data, err := sb.ReadFile(ctx, sp)
	if err != nil {
		return err
	}
	if err := db.WriteFile(ctx, dp, data, ""); err != nil {
		return err
	}
	return sb.Delete(ctx, sp)
}

func (c *Client) Delete(ctx context.Context, url string) error {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return err
	}
	return b.Delete(ctx, p)
}

func (c *Client) Lock(ctx context.Context, url string) error {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return err
	}
	return b.Lock(ctx, p)
}

func (c *Client) Unlock(ctx context.Context, url string) error {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return err
	}
	return b.Unlock(ctx, p)
}

func (c *Client) GetACLs(ctx context.Context, url string) ([]ACLEntry, error) {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return nil, err
	}
	return b.GetACLs(ctx, p)
}

// SetACLs grants or, with zero access, revokes one principal's access
// to url. The principal "*" stands for everyone.
func (c *Client) SetACLs(ctx context.Context, url, name string, access Access) error {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return err
	}
	return b.SetACLs(ctx, p, name, access)
}

func (c *Client) CreateCheckpoint(ctx context.Context, url, comment string) (*Checkpoint, error) {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return nil, err
	}
	return b.CreateCheckpoint(ctx, p, comment)
}

func (c *Client) ListCheckpoints(ctx context.Context, url string) ([]*Checkpoint, error) {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return nil, err
	}
	return b.ListCheckpoints(ctx, p)
}

func (c *Client) RestoreCheckpoint(ctx context.Context, url string, id uint64) error {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return err
	}
	return b.RestoreCheckpoint(ctx, p, id)
}

// SubscribeStat watches url for changes until the returned cancel func
// is called. The local backend uses filesystem notifications, hubs
// push events.
func (c *Client) SubscribeStat(ctx context.Context, url string, fn func(StatEvent)) (func(), error) {
	b, p, err := c.backend(ctx, url)
	if err != nil {
		return nil, err
	}
	return b.SubscribeStat(ctx, p, fn)
}
