package live

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/scene"
)

var (
	ErrBadName       = errors.New("invalid session name")
	ErrVersion       = errors.New("unsupported session version")
	ErrNotAdmin      = errors.New("not the session admin")
	ErrNoSession     = errors.New("no active session")
	ErrStageMismatch = errors.New("session belongs to another stage")
)

// Channel message types. JOIN and GET_USERS are answered with HELLO so
// every participant learns who else is in the session.
const (
	MessageJoin          = "JOIN"
	MessageHello         = "HELLO"
	MessageGetUsers      = "GET_USERS"
	MessageLeft          = "LEFT"
	MessageMergeStarted  = "MERGE_STARTED"
	MessageMergeFinished = "MERGE_FINISHED"
	MessageCustom        = "CUSTOM"
)

// Member is a peer announced on the session channel.
type Member struct {
	User string
	App  string
}

// Message is a peer message delivered through the OnMessage hook.
type Message struct {
	From   string // peer client id
	Member Member
	Type   string
	Text   string // CUSTOM payload
}

// Session is one joined live session: the stage with the shared live
// layer installed as session layer and edit target, plus the message
// channel tracking who participates.
type Session struct {
	cli    *client.Client
	info   *Info
	config *SessionConfig
	stage  *scene.Stage

	// editMu serializes stage edits against the Update pump; see Lock.
	editMu sync.Mutex

	mu        sync.Mutex
	handle    *client.LiveHandle
	channel   *client.Channel
	members   map[string]Member
	onMessage func(Message)
	merged    bool
	left      bool
}

// List returns the session names under the stage's session root,
// sorted. A stage without sessions returns an empty list.
func List(ctx context.Context, cli *client.Client, stageURL string) ([]string, error) {
	inf := &Info{StageURL: stageURL}
	entries, err := cli.List(ctx, inf.SessionRootURL())
	if errors.Is(err, client.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidSessionName(e.Name) {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Create starts a new named session for the stage: writes the config
// with the caller as admin, opens the live layer and joins the
// channel. An existing session name fails with ErrAlreadyExists.
func Create(ctx context.Context, cli *client.Client, stage *scene.Stage, name string) (*Session, error) {
	inf, err := NewInfo(stage.Base(), name)
	if err != nil {
		return nil, err
	}
	if _, err := cli.Stat(ctx, inf.ConfigURL()); err == nil {
		return nil, fmt.Errorf("session %s: %w", name, client.ErrAlreadyExists)
	} else if !errors.Is(err, client.ErrNotFound) {
		return nil, err
	}
	cfg := &SessionConfig{
		Version:  ConfigVersion,
		Name:     name,
		Admin:    cli.User(),
		StageURL: stage.Base(),
		Mode:     "default",
	}
	b, err := cfg.marshal()
	if err != nil {
		return nil, err
	}
	if err := cli.WriteFile(ctx, inf.ConfigURL(), b, ""); err != nil {
		return nil, err
	}
	return start(ctx, cli, stage, inf, cfg)
}

// Join enters an existing session. The config must be readable, of a
// known version and made for the same stage.
func Join(ctx context.Context, cli *client.Client, stage *scene.Stage, name string) (*Session, error) {
	inf, err := NewInfo(stage.Base(), name)
	if err != nil {
		return nil, err
	}
	b, err := cli.ReadFile(ctx, inf.ConfigURL())
	if err != nil {
		return nil, err
	}
	cfg, err := parseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", name, err)
	}
	if cfg.StageURL != "" && cfg.StageURL != stage.Base() {
		return nil, fmt.Errorf("session %s is for %s: %w", name, cfg.StageURL, ErrStageMismatch)
	}
	return start(ctx, cli, stage, inf, cfg)
}

func start(ctx context.Context, cli *client.Client, stage *scene.Stage, inf *Info, cfg *SessionConfig) (*Session, error) {
	handle, err := cli.OpenLive(ctx, inf.LiveLayerURL())
	if err != nil {
		return nil, err
	}
	ch, err := cli.JoinChannel(ctx, inf.ChannelURL())
	if err != nil {
		handle.Close(ctx)
		return nil, err
	}
	stage.SetSessionLayer(handle.Layer())
	s := &Session{
		cli:     cli,
		info:    inf,
		config:  cfg,
		stage:   stage,
		handle:  handle,
		channel: ch,
		members: map[string]Member{},
	}
	if err := s.send(ctx, MessageJoin, nil); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Info() *Info            { return s.info }
func (s *Session) Config() *SessionConfig { return s.config }
func (s *Session) Stage() *scene.Stage    { return s.stage }

// Handle is the live layer handle backing the session.
func (s *Session) Handle() *client.LiveHandle { return s.handle }

// IsAdmin reports whether this client may merge the session.
func (s *Session) IsAdmin() bool { return s.cli.User() == s.config.Admin }

// Lock serializes stage edits against the Update pump. Hold it while
// editing the stage from a goroutine other than the one calling
// Update.
func (s *Session) Lock()   { s.editMu.Lock() }
func (s *Session) Unlock() { s.editMu.Unlock() }

// OnMessage registers a hook for peer messages; it runs during Update.
func (s *Session) OnMessage(fn func(Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// Members lists the peers currently known to the session, sorted by
// user name. The local client is not included.
func (s *Session) Members() []Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].User < members[j].User })
	return members
}

// Merged reports whether a peer started or finished merging the
// session. The app should stop editing, leave and reload the stage.
func (s *Session) Merged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merged
}

// SendMessage broadcasts freeform text to the other participants.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	return s.send(ctx, MessageCustom, map[string]any{"text": text})
}

// RequestUsers asks every participant to announce itself; replies
// arrive as HELLO messages and update Members.
func (s *Session) RequestUsers(ctx context.Context) error {
	return s.send(ctx, MessageGetUsers, nil)
}

func (s *Session) send(ctx context.Context, mtype string, extra map[string]any) error {
	content := map[string]any{"message_type": mtype, "app": s.cli.App()}
	for k, v := range extra {
		content[k] = v
	}
	return s.channel.Send(ctx, content)
}

// Update pumps one round: flushes queued local ops, applies remote
// ones and drains the session channel. Drive it from one goroutine,
// typically through NewUpdater.
func (s *Session) Update(ctx context.Context) error {
	s.editMu.Lock()
	err := s.cli.LiveProcess(ctx)
	s.editMu.Unlock()
	if err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-s.channel.Messages():
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		default:
			return nil
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev client.ChannelEvent) {
	if ev.From == s.cli.ID() {
		return
	}
	switch ev.Kind {
	case client.ChannelLeft, client.ChannelDeleted:
		s.dropMember(ev.From)
		return
	case client.ChannelJoin:
		// membership is tracked through JOIN/HELLO messages, which
		// carry the peer's app name
		return
	}
	mtype, _ := ev.Content["message_type"].(string)
	app, _ := ev.Content["app"].(string)
	text, _ := ev.Content["text"].(string)
	m := Member{User: ev.User, App: app}
	switch mtype {
	case MessageJoin, MessageHello, MessageGetUsers:
		s.mu.Lock()
		s.members[ev.From] = m
		s.mu.Unlock()
		if mtype != MessageHello {
			s.send(ctx, MessageHello, nil)
		}
	case MessageLeft:
		s.dropMember(ev.From)
	case MessageMergeStarted, MessageMergeFinished:
		s.mu.Lock()
		s.merged = true
		s.mu.Unlock()
	}
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil && mtype != "" {
		fn(Message{From: ev.From, Member: m, Type: mtype, Text: text})
	}
}

func (s *Session) dropMember(id string) {
	s.mu.Lock()
	delete(s.members, id)
	s.mu.Unlock()
}

// Leave announces LEFT, leaves the channel, closes the live handle and
// detaches the session layer so the stage edits its root layer again.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return nil
	}
	s.left = true
	s.mu.Unlock()
	s.send(ctx, MessageLeft, nil)
	err := s.channel.Leave(ctx)
	if cerr := s.handle.Close(ctx); err == nil {
		err = cerr
	}
	s.stage.SetSessionLayer(nil)
	return err
}

// HasRootOpinions lists the node paths the stage's root layer already
// has opinions about. Merging a session to a new layer can be masked
// by these, the root layer being stronger than any sublayer.
func HasRootOpinions(stage *scene.Stage) []scene.Path {
	return stage.Root.SpecPaths()
}

// MergeToRoot merges the session's edits into the stage's root layer
// and saves it with a checkpoint. Admin only; the session ends for the
// caller and peers are told through MERGE_STARTED/MERGE_FINISHED.
func (s *Session) MergeToRoot(ctx context.Context) error {
	return s.merge(ctx, true)
}

// MergeToNewLayer writes the session's edits to a fresh layer file
// next to the root stage (stem_session_NN.scn), prepends it to the
// root's sublayers and saves the root. Admin only.
func (s *Session) MergeToNewLayer(ctx context.Context) error {
	return s.merge(ctx, false)
}

func (s *Session) merge(ctx context.Context, toRoot bool) error {
	s.mu.Lock()
	left := s.left
	s.mu.Unlock()
	if left {
		return ErrNoSession
	}
	if !s.IsAdmin() {
		return fmt.Errorf("user %s: %w", s.cli.User(), ErrNotAdmin)
	}
	if err := s.send(ctx, MessageMergeStarted, nil); err != nil {
		return err
	}
	liveLayer := s.handle.Layer()
	if toRoot {
		liveLayer.MergeInto(s.stage.Root)
	} else {
		url, err := s.freeLayerURL(ctx)
		if err != nil {
			return err
		}
		sub := scene.NewLayer()
		liveLayer.MergeInto(sub)
		var buf bytes.Buffer
		if err := sub.WriteLayer(&buf); err != nil {
			return err
		}
		if err := s.cli.WriteFile(ctx, url, buf.Bytes(), ""); err != nil {
			return err
		}
		s.stage.Root.SubLayers = append([]string{client.BaseName(url)}, s.stage.Root.SubLayers...)
	}
	if err := s.cli.SaveStage(ctx, s.stage, "Merged session "+s.info.Name); err != nil {
		return err
	}
	// Reset the shared layer: peers are ending their sessions, the hub
	// reloads the file on the next open.
	liveLayer.Clear()
	var buf bytes.Buffer
	if err := liveLayer.WriteLayer(&buf); err != nil {
		return err
	}
	if err := s.cli.WriteFile(ctx, s.info.LiveLayerURL(), buf.Bytes(), ""); err != nil {
		return err
	}
	if err := s.send(ctx, MessageMergeFinished, nil); err != nil {
		return err
	}
	return s.Leave(ctx)
}

// freeLayerURL picks the first unused stem_session_NN.scn name next to
// the root stage.
func (s *Session) freeLayerURL(ctx context.Context) (string, error) {
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("%s_%s_%02d%s", s.info.stem(), s.info.Name, i, scene.LayerExt)
		url := client.CombineURL(s.stage.Base(), name)
		if _, err := s.cli.Stat(ctx, url); errors.Is(err, client.ErrNotFound) {
			return url, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free merge layer name for session %s", s.info.Name)
}
