// scenecli is an interactive shell over the client package: browse a
// hub or the local filesystem, manage checkpoints, ACLs and locks, join
// message channels and keep a stage loaded with live updates applied
// between prompts. A command given on the command line runs once and
// exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/live"
	"github.com/binzume/scenesync/scene"
)

type shell struct {
	cli   *client.Client
	level *slog.LevelVar
	bases []string // base URL stack, current on top

	// mu guards the loaded stage and its live layer; the pump and the
	// stage commands both take it before touching either.
	mu      sync.Mutex
	stage   *scene.Stage
	stageLH *client.LiveHandle
	channel *client.Channel

	pumpMu   sync.Mutex
	pumpCond *sync.Cond
	liveWork bool
	pumpQuit bool
}

var errQuit = errors.New("quit")

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [command [args...]]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Without a command, starts an interactive shell. 'help' lists commands.\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	s := &shell{cli: client.New("scenecli"), level: level}
	s.pumpCond = sync.NewCond(&s.pumpMu)
	// Transport logs go through slog, so the log command's level applies
	// to them too; the wire traffic is logged at debug and stays hidden
	// until then.
	s.cli.OnLog(func(lv slog.Level, msg string) {
		slog.Log(context.Background(), lv, msg)
	})
	s.cli.OnLiveQueued(s.wakeLive)
	defer s.cli.Close()

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	s.bases = []string{wd}

	go s.livePump()
	defer s.stopPump()

	ctx := context.Background()
	if flag.NArg() > 0 {
		if err := s.exec(ctx, flag.Args()); err != nil && !errors.Is(err, errQuit) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		s.shutdown(ctx)
		return
	}

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		args := splitCommandLine(in.Text())
		if len(args) == 0 {
			continue
		}
		err := s.exec(ctx, args)
		if errors.Is(err, errQuit) {
			break
		}
		if err != nil {
			fmt.Println(err)
		}
	}
	s.shutdown(ctx)
}

func (s *shell) exec(ctx context.Context, args []string) error {
	cmd := findCommand(args[0])
	if cmd == nil {
		return fmt.Errorf("unknown command %q ('help' lists commands)", args[0])
	}
	if len(args)-1 < cmd.minArgs {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, s, args[1:])
}

// base is the current working URL.
func (s *shell) base() string {
	return s.bases[len(s.bases)-1]
}

// resolve turns a command argument into a full URL relative to the
// current base, which is always treated as a folder.
func (s *shell) resolve(arg string) string {
	return client.CombineURL(s.base()+"/", arg)
}

func (s *shell) wakeLive() {
	s.pumpMu.Lock()
	s.liveWork = true
	s.pumpMu.Unlock()
	s.pumpCond.Signal()
}

func (s *shell) stopPump() {
	s.pumpMu.Lock()
	s.pumpQuit = true
	s.pumpMu.Unlock()
	s.pumpCond.Signal()
}

// livePump applies remote live edits while the shell sits at the
// prompt. OnLiveQueued wakes it; the stage lock keeps it off the layer
// while a command uses it.
func (s *shell) livePump() {
	for {
		s.pumpMu.Lock()
		for !s.liveWork && !s.pumpQuit {
			s.pumpCond.Wait()
		}
		quit := s.pumpQuit
		s.liveWork = false
		s.pumpMu.Unlock()
		if quit {
			return
		}
		s.mu.Lock()
		err := s.cli.LiveProcess(context.Background())
		s.mu.Unlock()
		if err != nil {
			slog.Warn("live update failed", "error", err)
		}
	}
}

// watchChannel prints channel traffic as it arrives, between prompts.
func (s *shell) watchChannel(ch *client.Channel) {
	name := client.BaseName(ch.URL())
	go func() {
		for ev := range ch.Messages() {
			switch ev.Kind {
			case client.ChannelJoin:
				fmt.Printf("\n[%s] %s joined\n", name, ev.User)
			case client.ChannelLeft:
				fmt.Printf("\n[%s] %s left\n", name, ev.User)
			case client.ChannelDeleted:
				fmt.Printf("\n[%s] channel deleted\n", name)
			default:
				if mtype, _ := ev.Content["message_type"].(string); mtype == live.MessageCustom {
					text, _ := ev.Content["text"].(string)
					fmt.Printf("\n[%s] %s: %s\n", name, ev.User, text)
				} else {
					fmt.Printf("\n[%s] %s: %v\n", name, ev.User, ev.Content)
				}
			}
		}
	}()
}

// shutdown releases what quit leaves behind: the joined channel and the
// loaded stage's live handle.
func (s *shell) shutdown(ctx context.Context) {
	if s.channel != nil {
		s.channel.Leave(ctx)
		s.channel = nil
	}
	s.mu.Lock()
	lh := s.stageLH
	s.stage = nil
	s.stageLH = nil
	s.mu.Unlock()
	if lh != nil {
		lh.Close(ctx)
	}
}

func parseLogLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "verbose":
		return slog.LevelDebug - 4, true
	case "info":
		return slog.LevelInfo, true
	case "warning", "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
