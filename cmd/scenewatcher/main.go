package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/converter"
	"github.com/binzume/scenesync/scene"
)

const (
	pollPeriod    = 100 * time.Millisecond
	writeInterval = time.Second
)

// Follows a stage and keeps a YAML snapshot (and optionally a GLB) of
// it on disk. Live stages stream their edits; plain stages are
// re-read when the backend reports a change.
func main() {
	glbPath := flag.String("glb", "", "also export a .glb next to the snapshot")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s stage.scn|sync://host/path/stage.live out.yaml\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	url := flag.Arg(0)
	w := &watcher{cli: client.New("scenewatcher"), url: url, outPath: flag.Arg(1), glbPath: *glbPath}
	defer w.cli.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if client.IsHubURL(url) && strings.HasSuffix(url, scene.LiveExt) {
		lh, err := w.cli.OpenLive(ctx, url)
		if err != nil {
			log.Fatal(err)
		}
		st, err := scene.NewStage(lh.Layer(), &scene.StageOptions{Base: url})
		if err != nil {
			log.Fatal(err)
		}
		w.stage, w.live = st, lh
	} else {
		st, err := w.cli.OpenStage(ctx, url)
		if err != nil {
			log.Fatal(err)
		}
		w.stage = st
		unsub, err := w.cli.SubscribeStat(ctx, url, func(client.StatEvent) { w.changed.Store(true) })
		if err != nil {
			log.Fatal(err)
		}
		defer unsub()
	}
	fmt.Printf("watching %s -> %s (q to quit)\n", url, w.outPath)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx)
	}()

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		if strings.TrimSpace(in.Text()) == "q" {
			break
		}
	}
	cancel()
	<-done
}

type watcher struct {
	cli     *client.Client
	url     string
	outPath string
	glbPath string

	stage   *scene.Stage
	live    *client.LiveHandle
	changed atomic.Bool // set from stat callbacks, drained by run
}

// run owns the stage. It polls for changes and rewrites the outputs,
// at most once per writeInterval.
func (w *watcher) run(ctx context.Context) {
	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()
	pending := true
	var lastSeq uint64
	var lastWrite time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if w.live != nil {
			if err := w.cli.LiveProcess(ctx); err != nil {
				slog.Warn("live update failed", "error", err)
				continue
			}
			if seq := w.live.Seq(); seq != lastSeq {
				lastSeq = seq
				pending = true
			}
		} else if w.changed.Swap(false) {
			st, err := w.cli.OpenStage(ctx, w.url)
			if err != nil {
				slog.Warn("reload failed", "url", w.url, "error", err)
				continue
			}
			w.stage = st
			pending = true
		}
		if pending && time.Since(lastWrite) >= writeInterval {
			if err := w.export(); err != nil {
				slog.Error("export failed", "error", err)
			} else {
				fmt.Println("exported", w.outPath)
			}
			pending = false
			lastWrite = time.Now()
		}
	}
}

func (w *watcher) export() error {
	f, err := os.Create(w.outPath)
	if err != nil {
		return err
	}
	err = converter.WriteSnapshot(f, w.stage)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if w.glbPath != "" {
		// Textures resolve through the client so hub-hosted assets work.
		opt := &converter.GLTFOption{OpenTexture: func(name string) (io.ReadCloser, error) {
			b, err := w.cli.ReadFile(context.Background(), client.CombineURL(w.url, name))
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(b)), nil
		}}
		return converter.SaveGLB(w.stage, w.glbPath, opt)
	}
	return nil
}
