// Package wire defines the JSON messages exchanged between the hub
// server and its clients over a websocket. Requests are matched to
// responses by ID; events arrive unsolicited.
package wire

import (
	"encoding/json"
	"strings"

	"github.com/binzume/scenesync/scene"
)

// Request op names.
const (
	OpAuth        = "auth"
	OpStat        = "stat"
	OpList        = "list"
	OpRead        = "read"
	OpWrite       = "write"
	OpMkdir       = "mkdir"
	OpCopy        = "copy"
	OpMove        = "move"
	OpDelete      = "delete"
	OpLock        = "lock"
	OpUnlock      = "unlock"
	OpGetACLs     = "getacls"
	OpSetACLs     = "setacls"
	OpCheckpoint  = "checkpoint"
	OpCheckpoints = "checkpoints"
	OpRestore     = "restore"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpJoin        = "join"
	OpSend        = "send"
	OpLeave       = "leave"
	OpLiveOpen    = "liveopen"
	OpLiveOps     = "liveops"
	OpLiveClose   = "liveclose"
)

// Event names and their status/kind values.
const (
	EventStat    = "stat"
	EventChannel = "channel"
	EventLive    = "live"

	StatusCreated  = "created"
	StatusUpdated  = "updated"
	StatusDeleted  = "deleted"
	StatusLocked   = "locked"
	StatusUnlocked = "unlocked"

	KindMessage = "message"
	KindJoin    = "join"
	KindLeft    = "left"
	KindDeleted = "deleted"
)

// Error strings carried in Response.Err. Clients map these back to
// their sentinel errors.
const (
	ErrNotFound     = "not found"
	ErrExist        = "already exists"
	ErrPermission   = "access denied"
	ErrNotSupported = "not supported"
	ErrLocked       = "locked"
)

type Flags uint32

const (
	FlagFolder Flags = 1 << iota
	FlagMount
	FlagReadOnly
	FlagWritable
	FlagLive
	FlagChannel
	FlagCheckpointed
	FlagLocked
)

// Access is a permission bitmask formatted as "rwa" with '-' for
// missing bits.
type Access uint32

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessAdmin

	AccessNone Access = 0
	AccessFull        = AccessRead | AccessWrite | AccessAdmin
)

func (a Access) String() string {
	b := []byte("---")
	if a&AccessRead != 0 {
		b[0] = 'r'
	}
	if a&AccessWrite != 0 {
		b[1] = 'w'
	}
	if a&AccessAdmin != 0 {
		b[2] = 'a'
	}
	return string(b)
}

// ParseAccess accepts the String() form in any order, e.g. "rw-", "rw", "ar".
func ParseAccess(s string) Access {
	var a Access
	if strings.ContainsRune(s, 'r') {
		a |= AccessRead
	}
	if strings.ContainsRune(s, 'w') {
		a |= AccessWrite
	}
	if strings.ContainsRune(s, 'a') {
		a |= AccessAdmin
	}
	return a
}

func (a Access) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Access) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*a = ParseAccess(s)
	return nil
}

// Entry describes a file or folder on a backend.
type Entry struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ModifiedTime int64  `json:"modifiedTime,omitempty"` // unix milliseconds
	ModifiedBy   string `json:"modifiedBy,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
	Version      uint64 `json:"version,omitempty"`
	Flags        Flags  `json:"flags,omitempty"`
}

func (e *Entry) IsDir() bool { return e.Flags&FlagFolder != 0 }

type ACLEntry struct {
	Name   string `json:"name"`
	Access Access `json:"access"`
}

type Checkpoint struct {
	ID          uint64 `json:"id"`
	Comment     string `json:"comment,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
	CreatedTime int64  `json:"createdTime,omitempty"` // unix milliseconds
}

type Request struct {
	ID           int64          `json:"id"`
	Op           string         `json:"op"`
	Path         string         `json:"path,omitempty"`
	Dest         string         `json:"dest,omitempty"`
	Data         []byte         `json:"data,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	Name         string         `json:"name,omitempty"`
	Access       Access         `json:"access,omitempty"`
	CheckpointID uint64         `json:"checkpointId,omitempty"`
	Content      map[string]any `json:"content,omitempty"`
	Ops          []scene.Op     `json:"ops,omitempty"`
	User         string         `json:"user,omitempty"`
	Pass         string         `json:"pass,omitempty"`
	Client       string         `json:"client,omitempty"`
	App          string         `json:"app,omitempty"`
}

type Response struct {
	ID          int64           `json:"id"`
	OK          bool            `json:"ok"`
	Err         string          `json:"error,omitempty"`
	User        string          `json:"user,omitempty"`
	Server      string          `json:"server,omitempty"` // auth response only
	Entry       *Entry          `json:"entry,omitempty"`
	Entries     []*Entry        `json:"entries,omitempty"`
	Data        []byte          `json:"data,omitempty"`
	Checkpoints []*Checkpoint   `json:"checkpoints,omitempty"`
	ACLs        []ACLEntry      `json:"acls,omitempty"`
	Layer       json.RawMessage `json:"layer,omitempty"`
	Seq         uint64          `json:"seq,omitempty"`
}

// Event is pushed by the hub without a matching request: stat change
// notifications, channel traffic and live layer op batches.
type Event struct {
	Event   string         `json:"event"`
	Path    string         `json:"path,omitempty"`
	Status  string         `json:"status,omitempty"`
	Entry   *Entry         `json:"entry,omitempty"`
	Channel string         `json:"channel,omitempty"`
	From    string         `json:"from,omitempty"`
	User    string         `json:"user,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Content map[string]any `json:"content,omitempty"`
	Ops     []scene.Op     `json:"ops,omitempty"`
	Seq     uint64         `json:"seq,omitempty"`
}
