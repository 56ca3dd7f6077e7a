package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/live"
	"github.com/binzume/scenesync/scene"
)

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sync://host/path/stage.scn\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	stageURL := flag.Arg(0)
	if !client.IsHubURL(stageURL) {
		log.Fatalf("%s: live sessions need a %s:// stage URL", stageURL, client.URLScheme)
	}
	cli := client.New("livesession")
	defer cli.Close()
	ctx := context.Background()

	st, err := cli.OpenStage(ctx, stageURL)
	if err != nil {
		log.Fatal(err)
	}
	sess, err := pickSession(ctx, cli, st, stageURL)
	if err != nil {
		log.Fatal(err)
	}
	if sess == nil {
		return
	}
	if err := run(ctx, cli, st, sess); err != nil {
		log.Fatal(err)
	}
}

// pickSession lists the stage's sessions and lets the user join one or
// start a new one. Returns nil if the user quits instead.
func pickSession(ctx context.Context, cli *client.Client, st *scene.Stage, stageURL string) (*live.Session, error) {
	in := bufio.NewScanner(os.Stdin)
	for {
		names, err := live.List(ctx, cli, stageURL)
		if err != nil {
			return nil, err
		}
		for i, n := range names {
			fmt.Printf(" [%d] %s\n", i, n)
		}
		if len(names) > 0 {
			fmt.Printf("[0-%d] join, [n] new session, [q] quit: ", len(names)-1)
		} else {
			fmt.Print("[n] new session, [q] quit: ")
		}
		if !in.Scan() {
			return nil, nil
		}
		input := strings.TrimSpace(in.Text())
		switch input {
		case "q":
			return nil, nil
		case "n":
			fmt.Print("session name: ")
			if !in.Scan() {
				return nil, nil
			}
			name := strings.TrimSpace(in.Text())
			if !live.ValidSessionName(name) {
				fmt.Println("invalid name: a letter followed by letters, digits, '_' or '-'")
				continue
			}
			sess, err := live.Create(ctx, cli, st, name)
			if err != nil {
				fmt.Println(err)
				continue
			}
			return sess, nil
		default:
			i, err := strconv.Atoi(input)
			if err != nil || i < 0 || i >= len(names) {
				continue
			}
			sess, err := live.Join(ctx, cli, st, names[i])
			if err != nil {
				fmt.Println(err)
				continue
			}
			return sess, nil
		}
	}
}

func run(ctx context.Context, cli *client.Client, st *scene.Stage, sess *live.Session) error {
	fmt.Printf("joined session %s (admin: %s)\n", sess.Config().Name, sess.Config().Admin)
	fmt.Println("live layer:", sess.Handle().URL())
	sess.OnMessage(func(m live.Message) {
		switch m.Type {
		case live.MessageHello, live.MessageJoin:
			fmt.Printf("\n[session] %s %s (%s)\n", m.Type, m.Member.User, m.Member.App)
		case live.MessageLeft:
			fmt.Printf("\n[session] %s left\n", m.Member.User)
		case live.MessageCustom:
			fmt.Printf("\n[session] %s: %s\n", m.Member.User, m.Text)
		}
	})
	if err := sess.RequestUsers(ctx); err != nil {
		return err
	}

	merged := make(chan struct{}, 1)
	u := live.NewUpdater(func() {
		if err := sess.Update(ctx); err != nil {
			slog.Warn("session update failed", "error", err)
		}
		if sess.Merged() {
			select {
			case merged <- struct{}{}:
			default:
			}
		}
	})
	defer u.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			lines <- in.Text()
		}
	}()
	readLine := func(prompt string) (string, bool) {
		fmt.Print(prompt)
		select {
		case line, ok := <-lines:
			if !ok {
				return "", false
			}
			return strings.TrimSpace(line), true
		case <-merged:
			return "", false
		}
	}

	const help = "t:nudge node  r:rename node  o:owner  u:users  g:get users  c:show config  m:merge  q:quit"
	fmt.Println(help)
	for {
		line, ok := readLine("> ")
		if !ok {
			break
		}
		switch line {
		case "":
		case "t":
			nudge(st, sess)
		case "r":
			rename(st, sess, readLine)
		case "o":
			admin := sess.Config().Admin
			if sess.IsAdmin() {
				admin += " (you)"
			}
			fmt.Println("session admin:", admin)
		case "u":
			for _, m := range sess.Members() {
				fmt.Printf("  %s (%s)\n", m.User, m.App)
			}
		case "g":
			if err := sess.RequestUsers(ctx); err != nil {
				slog.Error("get users failed", "error", err)
			}
		case "c":
			b, err := cli.ReadFile(ctx, sess.Info().ConfigURL())
			if err != nil {
				slog.Error("read config failed", "error", err)
				continue
			}
			fmt.Print(string(b))
		case "m":
			done, err := merge(ctx, st, sess, readLine)
			if err != nil {
				fmt.Println(err)
			}
			if done {
				fmt.Println("session merged")
				return nil
			}
		case "q":
			return sess.Leave(ctx)
		default:
			fmt.Println(help)
		}
	}
	if sess.Merged() {
		fmt.Println("a peer merged this session; reload the stage to pick up the result")
	}
	return sess.Leave(ctx)
}

// nudge moves a mesh a small random amount through the live layer.
func nudge(st *scene.Stage, sess *live.Session) {
	sess.Lock()
	defer sess.Unlock()
	p, ok := pickTarget(st)
	if !ok {
		fmt.Println("no mesh to move in this stage")
		return
	}
	n, _ := st.GetNodeAtPath(p)
	t := n.LocalTransform()
	t.Translate.X += geom.Element(rand.Float64()*100 - 50)
	t.Translate.Z += geom.Element(rand.Float64()*100 - 50)
	if err := st.SetTransform(p, t); err != nil {
		slog.Error("nudge failed", "path", p, "error", err)
		return
	}
	fmt.Printf("moved %s to (%g, %g, %g)\n", p, t.Translate.X, t.Translate.Y, t.Translate.Z)
}

func pickTarget(st *scene.Stage) (scene.Path, bool) {
	if p := scene.MakePath("World", "box_0"); pathExists(st, p) {
		return p, true
	}
	var found scene.Path
	st.Traverse(func(n *scene.Node) bool {
		if found != "" {
			return false
		}
		switch n.Type() {
		case scene.TypeMesh, scene.TypeCube, scene.TypeCylinder:
			found = n.Path()
			return false
		}
		return true
	})
	return found, found != ""
}

func pathExists(st *scene.Stage, p scene.Path) bool {
	_, ok := st.GetNodeAtPath(p)
	return ok
}

// rename renames the first node defined in this session's live layer.
func rename(st *scene.Stage, sess *live.Session, readLine func(string) (string, bool)) {
	var target scene.Path
	layer := sess.Handle().Layer()
	for _, p := range layer.SpecPaths() {
		if s := layer.Spec(p); s != nil && s.Specifier == scene.SpecifierDef {
			target = p
			break
		}
	}
	if target == "" {
		fmt.Println("nothing defined in this session yet")
		return
	}
	input, ok := readLine(fmt.Sprintf("new name for %s: ", target))
	if !ok || input == "" {
		return
	}
	name := scene.ValidNodeName(input)
	sess.Lock()
	renamed, err := st.RenameNode(target, name)
	sess.Unlock()
	if err != nil {
		slog.Error("rename failed", "path", target, "error", err)
		return
	}
	fmt.Println("renamed to", renamed)
}

// merge runs the admin-side merge flow. It reports whether the session
// was merged.
func merge(ctx context.Context, st *scene.Stage, sess *live.Session, readLine func(string) (string, bool)) (bool, error) {
	if !sess.IsAdmin() {
		return false, fmt.Errorf("only the admin (%s) can merge this session", sess.Config().Admin)
	}
	if paths := live.HasRootOpinions(st); len(paths) > 0 {
		fmt.Println("warning: the root layer already has opinions that can mask a merged layer:")
		for _, p := range paths {
			fmt.Println("  ", p)
		}
	}
	input, ok := readLine("[n] merge to new layer, [r] merge to root layer, [c] cancel: ")
	if !ok {
		return false, nil
	}
	var err error
	switch input {
	case "n":
		sess.Lock()
		err = sess.MergeToNewLayer(ctx)
		sess.Unlock()
	case "r":
		sess.Lock()
		err = sess.MergeToRoot(ctx)
		sess.Unlock()
	default:
		return false, nil
	}
	return err == nil, err
}
