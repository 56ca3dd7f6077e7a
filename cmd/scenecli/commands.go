package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/live"
	"github.com/binzume/scenesync/scene"
)

const timeFormat = "2006-01-02 15:04:05"

type command struct {
	name    string
	aliases []string
	minArgs int
	usage   string
	help    string
	run     func(ctx context.Context, s *shell, args []string) error
}

var commands []*command

// The table is filled in init so the help command can refer to it.
func init() {
	commands = []*command{
		{"help", nil, 0, "help", "list commands", cmdHelp},
		{"quit", []string{"exit"}, 0, "quit", "leave the shell", cmdQuit},
		{"log", nil, 1, "log <debug|verbose|info|warning|error>", "set the log level", cmdLog},
		{"list", []string{"ls", "dir"}, 0, "list [url]", "list a folder", cmdList},
		{"stat", nil, 1, "stat <url>", "show one entry", cmdStat},
		{"cd", nil, 0, "cd [url]", "change (or print) the base URL", cmdCd},
		{"pushd", []string{"push"}, 1, "pushd <url>", "push the base URL and change it", cmdPushd},
		{"popd", []string{"pop"}, 0, "popd", "return to the pushed base URL", cmdPopd},
		{"copy", []string{"cp"}, 2, "copy <src> <dst>", "copy a file", cmdCopy},
		{"move", []string{"mv"}, 2, "move <src> <dst>", "move or rename a file", cmdMove},
		{"del", []string{"delete", "rm"}, 1, "del <url>", "delete a file or folder", cmdDelete},
		{"mkdir", nil, 1, "mkdir <url>", "create a folder", cmdMkdir},
		{"cat", nil, 1, "cat <url>", "print a file", cmdCat},
		{"auth", nil, 0, "auth [user pass]", "show or set credentials", cmdAuth},
		{"lock", nil, 1, "lock <url>", "lock a file", cmdLock},
		{"unlock", nil, 1, "unlock <url>", "unlock a file", cmdUnlock},
		{"getacls", nil, 1, "getacls <url>", "list access control entries", cmdGetACLs},
		{"setacls", nil, 3, "setacls <url> <name> <rwa|->", "grant or revoke access", cmdSetACLs},
		{"checkpoint", nil, 1, "checkpoint <url> [comment]", "record a checkpoint", cmdCheckpoint},
		{"listCheckpoints", nil, 1, "listCheckpoints <url>", "list a file's checkpoints", cmdListCheckpoints},
		{"restoreCheckpoint", nil, 2, "restoreCheckpoint <url> <id>", "restore a checkpoint", cmdRestoreCheckpoint},
		{"load", nil, 1, "load <stage url>", "open a stage (.live attaches the shared layer)", cmdLoad},
		{"save", nil, 0, "save [comment]", "save the loaded stage", cmdSave},
		{"close", nil, 0, "close", "close the loaded stage", cmdClose},
		{"cver", nil, 0, "cver", "client library version", cmdCVer},
		{"sver", nil, 0, "sver", "hub version (current base)", cmdSVer},
		{"join", nil, 1, "join <channel url>", "join a message channel", cmdJoin},
		{"send", nil, 1, "send <text>", "send to the joined channel", cmdSend},
		{"leave", nil, 0, "leave", "leave the joined channel", cmdLeave},
		{"disconnect", nil, 0, "disconnect", "drop hub connections (next command redials)", cmdDisconnect},
	}
}

func findCommand(name string) *command {
	for _, c := range commands {
		if strings.EqualFold(c.name, name) {
			return c
		}
		for _, a := range c.aliases {
			if strings.EqualFold(a, name) {
				return c
			}
		}
	}
	return nil
}

func cmdHelp(ctx context.Context, s *shell, args []string) error {
	for _, c := range commands {
		name := c.usage
		if len(c.aliases) > 0 {
			name += " (" + strings.Join(c.aliases, ", ") + ")"
		}
		fmt.Printf("  %-44s %s\n", name, c.help)
	}
	return nil
}

func cmdQuit(ctx context.Context, s *shell, args []string) error {
	return errQuit
}

func cmdLog(ctx context.Context, s *shell, args []string) error {
	level, ok := parseLogLevel(args[0])
	if !ok {
		return fmt.Errorf("unknown log level %q", args[0])
	}
	s.level.Set(level)
	return nil
}

// formatFlags renders an entry's flag bits as a fixed-width word:
// folder, mount, read-only, writable, live, channel, checkpointed,
// locked.
func formatFlags(e *client.Entry) string {
	b := []byte("--------")
	set := func(i int, c byte, on bool) {
		if on {
			b[i] = c
		}
	}
	set(0, 'd', e.Flags&client.FlagFolder != 0)
	set(1, 'm', e.Flags&client.FlagMount != 0)
	set(2, 'r', e.Flags&client.FlagReadOnly != 0)
	set(3, 'w', e.Flags&client.FlagWritable != 0)
	set(4, 'l', e.Flags&client.FlagLive != 0)
	set(5, 'c', e.Flags&client.FlagChannel != 0)
	set(6, 'p', e.Flags&client.FlagCheckpointed != 0)
	set(7, 'k', e.Flags&client.FlagLocked != 0)
	return string(b)
}

func formatTime(ms int64) string {
	if ms == 0 {
		return strings.Repeat(" ", len(timeFormat))
	}
	return time.UnixMilli(ms).Format(timeFormat)
}

func printEntryLine(e *client.Entry) {
	name := e.Name
	if e.IsDir() {
		name += "/"
	}
	fmt.Printf("%s %9s  %s  %-10s %s\n", formatFlags(e), formatSize(e.Size), formatTime(e.ModifiedTime), e.ModifiedBy, name)
}

func cmdList(ctx context.Context, s *shell, args []string) error {
	url := s.base()
	if len(args) > 0 {
		url = s.resolve(args[0])
	}
	entries, err := s.cli.List(ctx, url)
	if err != nil {
		return err
	}
	for _, e := range entries {
		printEntryLine(e)
	}
	return nil
}

func cmdStat(ctx context.Context, s *shell, args []string) error {
	url := s.resolve(args[0])
	e, err := s.cli.Stat(ctx, url)
	if err != nil {
		return err
	}
	fmt.Println("path:    ", e.Path)
	fmt.Println("flags:   ", formatFlags(e))
	fmt.Println("size:    ", e.Size)
	if e.ModifiedTime != 0 {
		fmt.Println("modified:", formatTime(e.ModifiedTime), e.ModifiedBy)
	}
	if e.CreatedBy != "" {
		fmt.Println("created: ", e.CreatedBy)
	}
	if e.Version != 0 {
		fmt.Println("version: ", e.Version)
	}
	return nil
}

func cmdCd(ctx context.Context, s *shell, args []string) error {
	if len(args) == 0 {
		fmt.Println(s.base())
		return nil
	}
	url := s.resolve(args[0])
	e, err := s.cli.Stat(ctx, url)
	if err != nil {
		return err
	}
	if !e.IsDir() {
		return fmt.Errorf("%s: not a folder", url)
	}
	s.bases[len(s.bases)-1] = url
	fmt.Println(url)
	return nil
}

func cmdPushd(ctx context.Context, s *shell, args []string) error {
	url := s.resolve(args[0])
	e, err := s.cli.Stat(ctx, url)
	if err != nil {
		return err
	}
	if !e.IsDir() {
		return fmt.Errorf("%s: not a folder", url)
	}
	s.bases = append(s.bases, url)
	fmt.Println(url)
	return nil
}

func cmdPopd(ctx context.Context, s *shell, args []string) error {
	if len(s.bases) <= 1 {
		return fmt.Errorf("base URL stack is empty")
	}
	s.bases = s.bases[:len(s.bases)-1]
	fmt.Println(s.base())
	return nil
}

func cmdCopy(ctx context.Context, s *shell, args []string) error {
	return s.cli.Copy(ctx, s.resolve(args[0]), s.resolve(args[1]))
}

func cmdMove(ctx context.Context, s *shell, args []string) error {
	return s.cli.Move(ctx, s.resolve(args[0]), s.resolve(args[1]))
}

func cmdDelete(ctx context.Context, s *shell, args []string) error {
	return s.cli.Delete(ctx, s.resolve(args[0]))
}

func cmdMkdir(ctx context.Context, s *shell, args []string) error {
	return s.cli.CreateFolder(ctx, s.resolve(args[0]))
}

func cmdCat(ctx context.Context, s *shell, args []string) error {
	b, err := s.cli.ReadFile(ctx, s.resolve(args[0]))
	if err != nil {
		return err
	}
	fmt.Print(string(b))
	if len(b) > 0 && b[len(b)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func cmdAuth(ctx context.Context, s *shell, args []string) error {
	if len(args) == 0 {
		fmt.Println("user:", s.cli.User())
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: auth [user pass]")
	}
	s.cli.SetAuth(args[0], args[1])
	fmt.Println("credentials apply to new connections; 'disconnect' to redial")
	return nil
}

func cmdLock(ctx context.Context, s *shell, args []string) error {
	return s.cli.Lock(ctx, s.resolve(args[0]))
}

func cmdUnlock(ctx context.Context, s *shell, args []string) error {
	return s.cli.Unlock(ctx, s.resolve(args[0]))
}

func cmdGetACLs(ctx context.Context, s *shell, args []string) error {
	acls, err := s.cli.GetACLs(ctx, s.resolve(args[0]))
	if err != nil {
		return err
	}
	for _, a := range acls {
		fmt.Printf("  %s %s\n", a.Access, a.Name)
	}
	return nil
}

func cmdSetACLs(ctx context.Context, s *shell, args []string) error {
	return s.cli.SetACLs(ctx, s.resolve(args[0]), args[1], client.ParseAccess(args[2]))
}

func cmdCheckpoint(ctx context.Context, s *shell, args []string) error {
	comment := ""
	if len(args) > 1 {
		comment = strings.Join(args[1:], " ")
	}
	cp, err := s.cli.CreateCheckpoint(ctx, s.resolve(args[0]), comment)
	if err != nil {
		return err
	}
	fmt.Println("checkpoint", cp.ID)
	return nil
}

func cmdListCheckpoints(ctx context.Context, s *shell, args []string) error {
	cps, err := s.cli.ListCheckpoints(ctx, s.resolve(args[0]))
	if err != nil {
		return err
	}
	for _, cp := range cps {
		fmt.Printf("%4d  %s  %-10s %s\n", cp.ID, formatTime(cp.CreatedTime), cp.CreatedBy, cp.Comment)
	}
	return nil
}

func cmdRestoreCheckpoint(ctx context.Context, s *shell, args []string) error {
	id, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("checkpoint id %q: %w", args[1], err)
	}
	return s.cli.RestoreCheckpoint(ctx, s.resolve(args[0]), id)
}

func cmdLoad(ctx context.Context, s *shell, args []string) error {
	url := s.resolve(args[0])
	s.mu.Lock()
	defer s.mu.Unlock()
	if lh := s.stageLH; lh != nil {
		lh.Close(ctx)
	}
	s.stage, s.stageLH = nil, nil
	if client.IsHubURL(url) && strings.HasSuffix(url, scene.LiveExt) {
		lh, err := s.cli.OpenLive(ctx, url)
		if err != nil {
			return err
		}
		st, err := scene.NewStage(lh.Layer(), &scene.StageOptions{Base: url})
		if err != nil {
			lh.Close(ctx)
			return err
		}
		s.stage, s.stageLH = st, lh
	} else {
		st, err := s.cli.OpenStage(ctx, url)
		if err != nil {
			return err
		}
		s.stage = st
	}
	n := 0
	s.stage.Traverse(func(*scene.Node) bool { n++; return true })
	fmt.Printf("loaded %s (%d nodes)\n", url, n)
	return nil
}

func cmdSave(ctx context.Context, s *shell, args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == nil {
		return fmt.Errorf("no stage loaded")
	}
	if s.stageLH != nil {
		// A live stage replicates as it is edited; flush and be done.
		return s.cli.LiveProcess(ctx)
	}
	comment := ""
	if len(args) > 0 {
		comment = strings.Join(args, " ")
	}
	if err := s.cli.SaveStage(ctx, s.stage, comment); err != nil {
		return err
	}
	fmt.Println("saved", s.stage.Base())
	return nil
}

func cmdClose(ctx context.Context, s *shell, args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == nil {
		return fmt.Errorf("no stage loaded")
	}
	var err error
	if s.stageLH != nil {
		err = s.stageLH.Close(ctx)
	}
	s.stage, s.stageLH = nil, nil
	return err
}

func cmdCVer(ctx context.Context, s *shell, args []string) error {
	fmt.Println(client.Version)
	return nil
}

func cmdSVer(ctx context.Context, s *shell, args []string) error {
	base := s.base()
	if !client.IsHubURL(base) {
		return fmt.Errorf("%s: not a hub URL; cd to a %s:// URL first", base, client.URLScheme)
	}
	v, err := s.cli.ServerVersion(ctx, base)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func cmdJoin(ctx context.Context, s *shell, args []string) error {
	if s.channel != nil {
		s.channel.Leave(ctx)
		s.channel = nil
	}
	ch, err := s.cli.JoinChannel(ctx, s.resolve(args[0]))
	if err != nil {
		return err
	}
	s.channel = ch
	s.watchChannel(ch)
	fmt.Println("joined", ch.URL())
	return nil
}

func cmdSend(ctx context.Context, s *shell, args []string) error {
	if s.channel == nil {
		return fmt.Errorf("no channel joined")
	}
	text := strings.Join(args, " ")
	return s.channel.Send(ctx, map[string]any{
		"message_type": live.MessageCustom,
		"app":          s.cli.App(),
		"text":         text,
	})
}

func cmdLeave(ctx context.Context, s *shell, args []string) error {
	if s.channel == nil {
		return fmt.Errorf("no channel joined")
	}
	err := s.channel.Leave(ctx)
	s.channel = nil
	return err
}

func cmdDisconnect(ctx context.Context, s *shell, args []string) error {
	s.cli.Close()
	s.channel = nil
	s.mu.Lock()
	s.stageLH = nil // the connection teardown already stopped it
	s.mu.Unlock()
	fmt.Println("disconnected")
	return nil
}
