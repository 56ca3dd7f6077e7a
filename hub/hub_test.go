package hub

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/binzume/scenesync/scene"
	"github.com/binzume/scenesync/wire"
)

func newTestHub(t *testing.T, users map[string]string) *httptest.Server {
	t.Helper()
	h, err := New(&Config{DataRoot: t.TempDir(), Users: users})
	if err != nil {
		t.Fatal(err)
	}
	s := httptest.NewServer(h)
	t.Cleanup(s.Close)
	return s
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

type testClient struct {
	t      *testing.T
	ws     *websocket.Conn
	id     int64
	events []*wire.Event
}

func dialTestClient(t *testing.T, s *httptest.Server, user, clientID string) *testClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(s), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	c := &testClient{t: t, ws: ws}
	resp := c.do(&wire.Request{Op: wire.OpAuth, User: user, Client: clientID, App: "hubtest"})
	if !resp.OK {
		t.Fatalf("auth: %v", resp.Err)
	}
	return c
}

func (c *testClient) read() (*wire.Response, *wire.Event) {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var probe struct {
		Event string `json:"event"`
	}
	json.Unmarshal(b, &probe)
	if probe.Event != "" {
		var ev wire.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			c.t.Fatalf("event: %v", err)
		}
		return nil, &ev
	}
	var resp wire.Response
	if err := json.Unmarshal(b, &resp); err != nil {
		c.t.Fatalf("response: %v", err)
	}
	return &resp, nil
}

// do sends a request and reads until its response arrives, stashing
// any events received on the way.
func (c *testClient) do(req *wire.Request) *wire.Response {
	c.t.Helper()
	c.id++
	req.ID = c.id
	if err := c.ws.WriteJSON(req); err != nil {
		c.t.Fatal(err)
	}
	for {
		resp, ev := c.read()
		if ev != nil {
			c.events = append(c.events, ev)
			continue
		}
		if resp.ID != req.ID {
			c.t.Fatalf("response id %d != %d", resp.ID, req.ID)
		}
		return resp
	}
}

func (c *testClient) mustDo(req *wire.Request) *wire.Response {
	c.t.Helper()
	resp := c.do(req)
	if !resp.OK {
		c.t.Fatalf("%s %s: %v", req.Op, req.Path, resp.Err)
	}
	return resp
}

// waitEvent returns the first stashed or incoming event accepted by
// match.
func (c *testClient) waitEvent(match func(*wire.Event) bool) *wire.Event {
	c.t.Helper()
	for i, ev := range c.events {
		if match(ev) {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return ev
		}
	}
	for {
		resp, ev := c.read()
		if resp != nil {
			c.t.Fatalf("unexpected response: %+v", resp)
		}
		if match(ev) {
			return ev
		}
		c.events = append(c.events, ev)
	}
}

func TestHubFiles(t *testing.T) {
	s := newTestHub(t, nil)
	c := dialTestClient(t, s, "alice", "c1")

	resp := c.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/proj/box.scn", Data: []byte("v1")})
	if resp.Entry == nil || resp.Entry.Version != 1 {
		t.Fatalf("entry: %+v", resp.Entry)
	}
	resp = c.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/proj/box.scn", Data: []byte("v2!")})
	if resp.Entry.Version != 2 {
		t.Errorf("version: %d", resp.Entry.Version)
	}

	resp = c.mustDo(&wire.Request{Op: wire.OpStat, Path: "/proj/box.scn"})
	if resp.Entry.Size != 3 || resp.Entry.ModifiedBy != "alice" || resp.Entry.IsDir() {
		t.Errorf("stat: %+v", resp.Entry)
	}
	if resp.Entry.Flags&wire.FlagWritable == 0 {
		t.Errorf("flags: %v", resp.Entry.Flags)
	}
	if resp := c.do(&wire.Request{Op: wire.OpStat, Path: "/proj/none"}); resp.OK || resp.Err != wire.ErrNotFound {
		t.Errorf("stat missing: %+v", resp)
	}

	resp = c.mustDo(&wire.Request{Op: wire.OpRead, Path: "/proj/box.scn"})
	if string(resp.Data) != "v2!" {
		t.Errorf("read: %q", resp.Data)
	}

	c.mustDo(&wire.Request{Op: wire.OpMkdir, Path: "/proj/sub"})
	if resp := c.do(&wire.Request{Op: wire.OpMkdir, Path: "/proj/sub"}); resp.OK {
		t.Errorf("mkdir twice should fail")
	}
	resp = c.mustDo(&wire.Request{Op: wire.OpList, Path: "/proj"})
	if len(resp.Entries) != 2 {
		t.Fatalf("list: %+v", resp.Entries)
	}
	if resp.Entries[0].Name != "box.scn" || resp.Entries[1].Name != "sub" || !resp.Entries[1].IsDir() {
		t.Errorf("list: %+v %+v", resp.Entries[0], resp.Entries[1])
	}
	// list of a file returns its own entry
	resp = c.mustDo(&wire.Request{Op: wire.OpList, Path: "/proj/box.scn"})
	if len(resp.Entries) != 1 || resp.Entries[0].Name != "box.scn" {
		t.Errorf("list file: %+v", resp.Entries)
	}

	c.mustDo(&wire.Request{Op: wire.OpCopy, Path: "/proj/box.scn", Dest: "/proj/sub/copy.scn"})
	c.mustDo(&wire.Request{Op: wire.OpMove, Path: "/proj/sub/copy.scn", Dest: "/proj/moved.scn"})
	if resp := c.do(&wire.Request{Op: wire.OpStat, Path: "/proj/sub/copy.scn"}); resp.OK {
		t.Errorf("moved source still exists")
	}
	resp = c.mustDo(&wire.Request{Op: wire.OpRead, Path: "/proj/moved.scn"})
	if string(resp.Data) != "v2!" {
		t.Errorf("moved content: %q", resp.Data)
	}

	c.mustDo(&wire.Request{Op: wire.OpDelete, Path: "/proj/moved.scn"})
	if resp := c.do(&wire.Request{Op: wire.OpRead, Path: "/proj/moved.scn"}); resp.OK || resp.Err != wire.ErrNotFound {
		t.Errorf("read deleted: %+v", resp)
	}

	// hub bookkeeping is hidden
	if resp := c.do(&wire.Request{Op: wire.OpStat, Path: "/" + MetaFileName}); resp.OK {
		t.Errorf("meta store visible")
	}
}

func TestHubAuth(t *testing.T) {
	s := newTestHub(t, map[string]string{"alice": "pw"})
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(s), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	ws.WriteJSON(&wire.Request{ID: 1, Op: wire.OpAuth, User: "alice", Pass: "wrong"})
	var resp wire.Response
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.OK || resp.Err != wire.ErrPermission {
		t.Errorf("bad pass accepted: %+v", resp)
	}

	c := dialTestClient(t, s, "alice", "c1")
	c.mustDo(&wire.Request{Op: wire.OpStat, Path: "/"})
}

func TestHubACL(t *testing.T) {
	s := newTestHub(t, nil)
	a := dialTestClient(t, s, "alice", "c1")
	b := dialTestClient(t, s, "bob", "c2")

	a.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/proj/a.scn", Data: []byte("x")})
	if resp := b.do(&wire.Request{Op: wire.OpWrite, Path: "/proj/a.scn", Data: []byte("y")}); resp.OK || resp.Err != wire.ErrPermission {
		t.Fatalf("bob write: %+v", resp)
	}
	// reading someone else's file is fine
	b.mustDo(&wire.Request{Op: wire.OpRead, Path: "/proj/a.scn"})

	// only the owner may change ACLs
	if resp := b.do(&wire.Request{Op: wire.OpSetACLs, Path: "/proj/a.scn", Name: "bob", Access: wire.AccessFull}); resp.OK {
		t.Fatalf("bob setacls accepted")
	}
	resp := a.mustDo(&wire.Request{Op: wire.OpSetACLs, Path: "/proj/a.scn", Name: "bob", Access: wire.AccessRead | wire.AccessWrite})
	if len(resp.ACLs) != 1 || resp.ACLs[0].Name != "bob" {
		t.Errorf("acls: %+v", resp.ACLs)
	}
	b.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/proj/a.scn", Data: []byte("y")})

	// explicit ACL replaces the creator default: alice lost write
	if resp := a.do(&wire.Request{Op: wire.OpWrite, Path: "/proj/a.scn", Data: []byte("z")}); resp.OK {
		t.Errorf("alice write after acl change accepted")
	}

	resp = b.mustDo(&wire.Request{Op: wire.OpGetACLs, Path: "/proj/a.scn"})
	if len(resp.ACLs) != 1 || resp.ACLs[0].Access != wire.AccessRead|wire.AccessWrite {
		t.Errorf("getacls: %+v", resp.ACLs)
	}
}

func TestHubLock(t *testing.T) {
	s := newTestHub(t, nil)
	a := dialTestClient(t, s, "alice", "c1")
	b := dialTestClient(t, s, "bob", "c2")

	a.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/f.scn", Data: []byte("x")})
	a.mustDo(&wire.Request{Op: wire.OpSetACLs, Path: "/f.scn", Name: "*", Access: wire.AccessFull})
	a.mustDo(&wire.Request{Op: wire.OpLock, Path: "/f.scn"})

	if resp := b.do(&wire.Request{Op: wire.OpWrite, Path: "/f.scn", Data: []byte("y")}); resp.OK || resp.Err != wire.ErrLocked {
		t.Errorf("locked write: %+v", resp)
	}
	if resp := b.do(&wire.Request{Op: wire.OpLock, Path: "/f.scn"}); resp.OK || resp.Err != wire.ErrLocked {
		t.Errorf("second lock: %+v", resp)
	}
	if resp := b.do(&wire.Request{Op: wire.OpUnlock, Path: "/f.scn"}); resp.OK || resp.Err != wire.ErrPermission {
		t.Errorf("non-holder unlock: %+v", resp)
	}

	resp := a.mustDo(&wire.Request{Op: wire.OpStat, Path: "/f.scn"})
	if resp.Entry.Flags&wire.FlagLocked == 0 {
		t.Errorf("lock flag missing: %v", resp.Entry.Flags)
	}

	// the holder may still write
	a.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/f.scn", Data: []byte("z")})
	a.mustDo(&wire.Request{Op: wire.OpUnlock, Path: "/f.scn"})
	b.mustDo(&wire.Request{Op: wire.OpLock, Path: "/f.scn"})
}

func TestHubCheckpoints(t *testing.T) {
	s := newTestHub(t, nil)
	c := dialTestClient(t, s, "alice", "c1")

	c.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/f.scn", Data: []byte("v1"), Comment: "first"})
	c.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/f.scn", Data: []byte("v2")})

	resp := c.mustDo(&wire.Request{Op: wire.OpCheckpoints, Path: "/f.scn"})
	if len(resp.Checkpoints) != 1 || resp.Checkpoints[0].Comment != "first" || resp.Checkpoints[0].ID != 1 {
		t.Fatalf("checkpoints: %+v", resp.Checkpoints)
	}

	resp = c.mustDo(&wire.Request{Op: wire.OpCheckpoint, Path: "/f.scn", Comment: "second"})
	if len(resp.Checkpoints) != 1 || resp.Checkpoints[0].ID != 2 {
		t.Fatalf("checkpoint: %+v", resp.Checkpoints)
	}

	c.mustDo(&wire.Request{Op: wire.OpRestore, Path: "/f.scn", CheckpointID: 1})
	resp = c.mustDo(&wire.Request{Op: wire.OpRead, Path: "/f.scn"})
	if string(resp.Data) != "v1" {
		t.Errorf("restored: %q", resp.Data)
	}
	// restore records a safety checkpoint of the pre-restore head
	resp = c.mustDo(&wire.Request{Op: wire.OpCheckpoints, Path: "/f.scn"})
	if len(resp.Checkpoints) != 3 || resp.Checkpoints[2].Comment != "before restore" {
		t.Errorf("after restore: %+v", resp.Checkpoints)
	}
}

func TestHubSubscribe(t *testing.T) {
	s := newTestHub(t, nil)
	a := dialTestClient(t, s, "alice", "c1")
	b := dialTestClient(t, s, "bob", "c2")

	b.mustDo(&wire.Request{Op: wire.OpSubscribe, Path: "/dir"})
	a.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/dir/f.scn", Data: []byte("x")})
	ev := b.waitEvent(func(ev *wire.Event) bool { return ev.Event == wire.EventStat && ev.Path == "/dir/f.scn" })
	if ev.Status != wire.StatusCreated || ev.Entry == nil || ev.Entry.Version != 1 {
		t.Errorf("created event: %+v", ev)
	}
	a.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/dir/f.scn", Data: []byte("y")})
	ev = b.waitEvent(func(ev *wire.Event) bool { return ev.Event == wire.EventStat && ev.Status == wire.StatusUpdated })
	if ev.Entry.Version != 2 {
		t.Errorf("updated event: %+v", ev)
	}
	a.mustDo(&wire.Request{Op: wire.OpDelete, Path: "/dir/f.scn"})
	b.waitEvent(func(ev *wire.Event) bool { return ev.Event == wire.EventStat && ev.Status == wire.StatusDeleted })

	b.mustDo(&wire.Request{Op: wire.OpUnsubscribe, Path: "/dir"})
	a.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/dir/g.scn", Data: []byte("x")})
	b.mustDo(&wire.Request{Op: wire.OpStat, Path: "/dir/g.scn"})
	for _, ev := range b.events {
		if ev.Event == wire.EventStat && ev.Path == "/dir/g.scn" {
			t.Errorf("event after unsubscribe: %+v", ev)
		}
	}
}

func TestHubChannel(t *testing.T) {
	s := newTestHub(t, nil)
	a := dialTestClient(t, s, "alice", "c1")
	b := dialTestClient(t, s, "bob", "c2")

	a.mustDo(&wire.Request{Op: wire.OpWrite, Path: "/proj/chat.channel", Data: nil})
	a.mustDo(&wire.Request{Op: wire.OpJoin, Path: "/proj/chat.channel"})
	b.mustDo(&wire.Request{Op: wire.OpJoin, Path: "/proj/chat.channel"})
	ev := a.waitEvent(func(ev *wire.Event) bool { return ev.Event == wire.EventChannel && ev.Kind == wire.KindJoin })
	if ev.From != "c2" || ev.User != "bob" {
		t.Errorf("join event: %+v", ev)
	}

	a.mustDo(&wire.Request{Op: wire.OpSend, Path: "/proj/chat.channel", Content: map[string]any{"text": "hi"}})
	ev = b.waitEvent(func(ev *wire.Event) bool { return ev.Event == wire.EventChannel && ev.Kind == wire.KindMessage })
	if ev.Content["text"] != "hi" || ev.From != "c1" {
		t.Errorf("message: %+v", ev)
	}
	// senders do not hear their own messages
	for _, ev := range a.events {
		if ev.Kind == wire.KindMessage {
			t.Errorf("echo to sender: %+v", ev)
		}
	}

	b.mustDo(&wire.Request{Op: wire.OpLeave, Path: "/proj/chat.channel"})
	a.waitEvent(func(ev *wire.Event) bool { return ev.Kind == wire.KindLeft && ev.From == "c2" })

	// deleting the path closes the channel
	b.mustDo(&wire.Request{Op: wire.OpJoin, Path: "/proj/chat.channel"})
	a.waitEvent(func(ev *wire.Event) bool { return ev.Kind == wire.KindJoin })
	a.mustDo(&wire.Request{Op: wire.OpDelete, Path: "/proj/chat.channel"})
	ev = b.waitEvent(func(ev *wire.Event) bool { return ev.Event == wire.EventChannel })
	if ev.Kind != wire.KindDeleted {
		t.Errorf("channel delete: %+v", ev)
	}
}

func TestHubLive(t *testing.T) {
	s := newTestHub(t, nil)
	a := dialTestClient(t, s, "alice", "c1")
	b := dialTestClient(t, s, "bob", "c2")

	resp := a.mustDo(&wire.Request{Op: wire.OpLiveOpen, Path: "/proj/root.live"})
	if resp.Seq != 0 {
		t.Fatalf("seq: %d", resp.Seq)
	}
	layer, err := scene.ReadLayer(bytes.NewReader(resp.Layer))
	if err != nil {
		t.Fatal(err)
	}
	if layer.HasSpecs() {
		t.Fatalf("fresh live layer not empty")
	}

	// others may open only after the owner grants access
	a.mustDo(&wire.Request{Op: wire.OpSetACLs, Path: "/proj", Name: "*", Access: wire.AccessFull})

	resp = a.mustDo(&wire.Request{Op: wire.OpLiveOps, Path: "/proj/root.live", Ops: []scene.Op{
		{Kind: scene.OpDefine, Path: "/World", Type: scene.TypeXform},
		{Kind: scene.OpDefine, Path: "/World/box", Type: scene.TypeCube},
		{Kind: scene.OpSetAttr, Path: "/World/box", Name: "size", Value: 50.0, Type: scene.TypeFloat},
	}})
	if resp.Seq != 1 {
		t.Fatalf("seq after ops: %d", resp.Seq)
	}

	resp = b.mustDo(&wire.Request{Op: wire.OpLiveOpen, Path: "/proj/root.live"})
	if resp.Seq != 1 {
		t.Fatalf("join seq: %d", resp.Seq)
	}
	layer, err = scene.ReadLayer(bytes.NewReader(resp.Layer))
	if err != nil {
		t.Fatal(err)
	}
	if s := layer.Spec(scene.Path("/World/box")); s == nil || s.Type != scene.TypeCube {
		t.Fatalf("joined layer: %v", layer.SpecPaths())
	}

	b.mustDo(&wire.Request{Op: wire.OpLiveOps, Path: "/proj/root.live", Ops: []scene.Op{
		{Kind: scene.OpSetAttr, Path: "/World/box", Name: "size", Value: 100.0, Type: scene.TypeFloat},
	}})
	ev := a.waitEvent(func(ev *wire.Event) bool { return ev.Event == wire.EventLive })
	if ev.Seq != 2 || len(ev.Ops) != 1 || ev.Ops[0].Value != 100.0 || ev.From != "c2" {
		t.Errorf("live event: %+v", ev)
	}
	// the sender gets no echo
	for _, e := range b.events {
		if e.Event == wire.EventLive {
			t.Errorf("echo to sender: %+v", e)
		}
	}

	if resp := b.do(&wire.Request{Op: wire.OpLiveOps, Path: "/elsewhere.live", Ops: nil}); resp.OK {
		t.Errorf("liveops without open accepted")
	}
}
