package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/binzume/scenesync/wire"
)

// ChannelEvent is a message or membership change observed on a channel.
type ChannelEvent struct {
	Kind    string
	From    string
	User    string
	Content map[string]any
}

// Channel is a message channel keyed by a hub path. Events arrive on
// Messages(); slow consumers lose events rather than stall the
// connection.
type Channel struct {
	cli  *Client
	hc   *hubConn
	path string

	mu     sync.Mutex
	closed bool
	msgs   chan ChannelEvent
}

// JoinChannel joins the message channel at url, creating it on the hub
// if needed. Joining a channel twice returns the same Channel.
func (c *Client) JoinChannel(ctx context.Context, url string) (*Channel, error) {
	u, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	if !u.IsHub() {
		return nil, fmt.Errorf("join %s: %w", url, ErrNotSupported)
	}
	hc, err := c.hubFor(ctx, u)
	if err != nil {
		return nil, err
	}
	hc.mu.Lock()
	if ch := hc.channels[u.Path]; ch != nil {
		hc.mu.Unlock()
		return ch, nil
	}
	ch := &Channel{cli: c, hc: hc, path: u.Path, msgs: make(chan ChannelEvent, 64)}
	hc.channels[u.Path] = ch
	hc.mu.Unlock()
	if _, err := hc.request(ctx, &wire.Request{Op: wire.OpJoin, Path: u.Path}); err != nil {
		hc.mu.Lock()
		delete(hc.channels, u.Path)
		hc.mu.Unlock()
		ch.closeLocal()
		return nil, err
	}
	return ch, nil
}

// URL returns the channel's full URL.
func (ch *Channel) URL() string {
	return ch.hc.urlFor(ch.path)
}

// Messages returns the event stream. The channel is closed after
// Leave, connection loss, or deletion of the channel path.
func (ch *Channel) Messages() <-chan ChannelEvent {
	return ch.msgs
}

// Send broadcasts content to the other members. The sender does not
// receive its own message.
func (ch *Channel) Send(ctx context.Context, content map[string]any) error {
	_, err := ch.hc.request(ctx, &wire.Request{Op: wire.OpSend, Path: ch.path, Content: content})
	return err
}

// Leave notifies the hub and closes the event stream.
func (ch *Channel) Leave(ctx context.Context) error {
	ch.hc.mu.Lock()
	if ch.hc.channels[ch.path] == ch {
		delete(ch.hc.channels, ch.path)
	}
	ch.hc.mu.Unlock()
	_, err := ch.hc.request(ctx, &wire.Request{Op: wire.OpLeave, Path: ch.path})
	ch.closeLocal()
	return err
}

func (ch *Channel) deliver(ev ChannelEvent) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	select {
	case ch.msgs <- ev:
	default:
	}
}

func (ch *Channel) closeLocal() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.closed {
		ch.closed = true
		close(ch.msgs)
	}
}
