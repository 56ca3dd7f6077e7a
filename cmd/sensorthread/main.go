package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/scene"
)

const updatePeriod = 300 * time.Millisecond

// Simulates one sensor: pulses the display color of its box in the
// shared live stage written by simplesensor.
func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sync://host/path/SimpleSensorExample.live boxindex [seconds]\n", os.Args[0])
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
	index, err := strconv.Atoi(flag.Arg(1))
	if err != nil || index < 0 {
		log.Fatalf("bad box index %q", flag.Arg(1))
	}
	seconds := 20
	if flag.NArg() > 2 {
		seconds, err = strconv.Atoi(flag.Arg(2))
		if err != nil || seconds < 1 {
			log.Fatalf("bad run time %q", flag.Arg(2))
		}
	}

	cli := client.New("sensorthread")
	defer cli.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lh, err := cli.OpenLive(ctx, url)
	if err != nil {
		log.Fatal(err)
	}
	st, err := scene.NewStage(lh.Layer(), &scene.StageOptions{Base: url})
	if err != nil {
		log.Fatal(err)
	}
	boxPath := scene.MakePath("World", fmt.Sprintf("box_%d", index))
	if _, ok := st.GetNodeAtPath(boxPath); !ok {
		log.Fatalf("%s not found in %s (run simplesensor first)", boxPath, url)
	}
	fmt.Printf("updating %s for %ds\n", boxPath, seconds)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runSensor(ctx, cli, st, boxPath)
	}()

	time.Sleep(time.Duration(seconds) * time.Second)
	cancel()
	<-done
}

// runSensor owns the live layer: every write is followed by a flush so
// peers see the color pulse as it happens.
func runSensor(ctx context.Context, cli *client.Client, st *scene.Stage, boxPath scene.Path) {
	ticker := time.NewTicker(updatePeriod)
	defer ticker.Stop()
	step := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step = (step + 3) % 360
			v := math.Abs(math.Cos(float64(step) * math.Pi / 180))
			color := []*geom.Vector3{{
				X: geom.Element(0.463 * v),
				Y: geom.Element(0.725 * v),
				Z: 0,
			}}
			if err := st.SetAttr(boxPath, scene.AttrDisplayColor, color); err != nil {
				slog.Error("set color failed", "path", boxPath, "error", err)
				return
			}
			if err := cli.LiveProcess(ctx); err != nil {
				slog.Warn("live update failed", "error", err)
			}
		}
	}
}
