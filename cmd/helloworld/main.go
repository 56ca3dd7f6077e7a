package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/live"
	"github.com/binzume/scenesync/scene"
)

const defaultDest = "sync://localhost/Users/test"

func main() {
	existing := flag.String("e", "", "open this stage instead of creating one")
	assetsDir := flag.String("a", "", "local folder with material textures to upload")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [sync://host/folder]  (default %s)\n", os.Args[0], defaultDest)
		flag.PrintDefaults()
	}
	flag.Parse()
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cli := client.New("helloworld")
	defer cli.Close()
	ctx := context.Background()

	var st *scene.Stage
	var lh *client.LiveHandle
	var url string
	var err error
	if *existing != "" {
		url = *existing
		st, lh, err = openStage(ctx, cli, url)
	} else {
		dest := defaultDest
		if flag.NArg() > 0 {
			dest = flag.Arg(0)
		}
		url, st, err = createStage(ctx, cli, dest, *assetsDir)
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("stage:", url)
	if err := editLoop(ctx, cli, st, lh, url); err != nil {
		log.Fatal(err)
	}
}

// openStage opens url for editing; .live stages attach the shared
// layer so edits stream to the other participants.
func openStage(ctx context.Context, cli *client.Client, url string) (*scene.Stage, *client.LiveHandle, error) {
	if client.IsHubURL(url) && strings.HasSuffix(url, scene.LiveExt) {
		lh, err := cli.OpenLive(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		st, err := scene.NewStage(lh.Layer(), &scene.StageOptions{Base: url})
		return st, lh, err
	}
	st, err := cli.OpenStage(ctx, url)
	return st, nil, err
}

func editLoop(ctx context.Context, cli *client.Client, st *scene.Stage, lh *client.LiveHandle, url string) error {
	w, err := watchChannel(ctx, cli, url+".channel")
	if err != nil {
		return err
	}
	defer w.ch.Leave(ctx)

	boxPath := scene.MakePath("World", "box_0")
	animPath := scene.MakePath("World", "skelMeshGroup", "animation")
	angle := 0.0
	in := bufio.NewScanner(os.Stdin)
	const help = "t:move box  s:randomize arm pose  a:stream arm motion  m:send message  l:list users  q:save and quit"
	fmt.Println(help)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		switch strings.TrimSpace(in.Text()) {
		case "":
		case "t":
			angle += 15
			if err := orbitBox(st, boxPath, angle); err != nil {
				slog.Error("move failed", "error", err)
			}
			flush(ctx, cli)
		case "s":
			elbow := rand.Float64()*90 - 45
			wrist := rand.Float64()*90 - 45
			if err := setArmPose(st, animPath, elbow, wrist); err != nil {
				slog.Error("pose failed", "error", err)
			} else {
				fmt.Printf("arm pose: elbow %.1f wrist %.1f\n", elbow, wrist)
			}
			flush(ctx, cli)
		case "a":
			streamArmMotion(ctx, cli, st, animPath)
		case "m":
			fmt.Print("message: ")
			if in.Scan() && in.Text() != "" {
				if err := w.send(ctx, live.MessageCustom, map[string]any{"text": in.Text()}); err != nil {
					slog.Error("send failed", "error", err)
				}
			}
		case "l":
			w.send(ctx, live.MessageGetUsers, nil)
			for _, m := range w.list() {
				fmt.Printf("  %s (%s)\n", m.User, m.App)
			}
		case "q":
			return save(ctx, cli, st, lh)
		default:
			fmt.Println(help)
		}
	}
	return save(ctx, cli, st, lh)
}

// orbitBox walks the box around the origin, spinning it as it goes.
func orbitBox(st *scene.Stage, p scene.Path, angleDeg float64) error {
	const radius = 100
	rad := angleDeg * math.Pi / 180
	t := scene.NewTransform()
	t.Translate = geom.Vector3{X: geom.Element(radius * math.Cos(rad)), Z: geom.Element(radius * math.Sin(rad))}
	t.Rotate = geom.Vector3{Y: geom.Element(angleDeg)}
	return st.SetTransform(p, t)
}

// streamArmMotion wobbles the elbow for 60 frames at roughly 30 fps,
// flushing every frame so peers watch it move.
func streamArmMotion(ctx context.Context, cli *client.Client, st *scene.Stage, anim scene.Path) {
	const spinner = `/-\|`
	for i := 0; i < 60; i++ {
		y := geom.Element(30 * math.Sin(float64(i)/60*2*math.Pi))
		tr := []*geom.Vector3{{}, {X: armBoneSize, Y: y}, {X: armBoneSize}}
		if err := st.SetAttr(anim, scene.AttrSkelAnimTranslates, tr); err != nil {
			slog.Error("stream failed", "error", err)
			return
		}
		flush(ctx, cli)
		fmt.Printf("\r%c", spinner[i%len(spinner)])
		time.Sleep(33 * time.Millisecond)
	}
	fmt.Print("\r")
}

func flush(ctx context.Context, cli *client.Client) {
	if err := cli.LiveProcess(ctx); err != nil {
		slog.Warn("live update failed", "error", err)
	}
}

func save(ctx context.Context, cli *client.Client, st *scene.Stage, lh *client.LiveHandle) error {
	if lh != nil {
		flush(ctx, cli)
		return lh.Close(ctx)
	}
	if !st.Root.Dirty {
		return nil
	}
	return cli.SaveStage(ctx, st, "hello world edits")
}

// channelWatcher tracks who is on the stage channel and prints the
// traffic as it arrives.
type channelWatcher struct {
	cli *client.Client
	ch  *client.Channel

	mu      sync.Mutex
	members map[string]live.Member
}

func watchChannel(ctx context.Context, cli *client.Client, url string) (*channelWatcher, error) {
	ch, err := cli.JoinChannel(ctx, url)
	if err != nil {
		return nil, err
	}
	w := &channelWatcher{cli: cli, ch: ch, members: map[string]live.Member{}}
	if err := w.send(ctx, live.MessageJoin, nil); err != nil {
		return nil, err
	}
	go w.run(ctx)
	return w, nil
}

func (w *channelWatcher) send(ctx context.Context, mtype string, extra map[string]any) error {
	content := map[string]any{"message_type": mtype, "app": w.cli.App()}
	for k, v := range extra {
		content[k] = v
	}
	return w.ch.Send(ctx, content)
}

func (w *channelWatcher) run(ctx context.Context) {
	for ev := range w.ch.Messages() {
		switch ev.Kind {
		case client.ChannelLeft, client.ChannelDeleted:
			w.drop(ev.From, ev.User)
			continue
		case client.ChannelJoin:
			// peers announce themselves with a JOIN message
			continue
		}
		mtype, _ := ev.Content["message_type"].(string)
		app, _ := ev.Content["app"].(string)
		switch mtype {
		case live.MessageJoin, live.MessageHello, live.MessageGetUsers:
			w.mu.Lock()
			_, known := w.members[ev.From]
			w.members[ev.From] = live.Member{User: ev.User, App: app}
			w.mu.Unlock()
			if mtype != live.MessageHello {
				w.send(ctx, live.MessageHello, nil)
			}
			if !known {
				fmt.Printf("\n[channel] %s joined (%s)\n", ev.User, app)
			}
		case live.MessageLeft:
			w.drop(ev.From, ev.User)
		case live.MessageCustom:
			text, _ := ev.Content["text"].(string)
			fmt.Printf("\n[channel] %s: %s\n", ev.User, text)
		}
	}
}

func (w *channelWatcher) drop(id, user string) {
	w.mu.Lock()
	_, known := w.members[id]
	delete(w.members, id)
	w.mu.Unlock()
	if known {
		fmt.Printf("\n[channel] %s left\n", user)
	}
}

func (w *channelWatcher) list() []live.Member {
	w.mu.Lock()
	defer w.mu.Unlock()
	members := make([]live.Member, 0, len(w.members))
	for _, m := range w.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].User < members[j].User })
	return members
}
