package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"strconv"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/scene"
)

const stageName = "SimpleSensorExample" + scene.LiveExt

// Writes the live stage the sensor threads attach to: a grid of gray
// boxes, one per sensor.
func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sync://host/path [boxcount]\n", os.Args[0])
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

	base := flag.Arg(0)
	boxCount := 4
	if flag.NArg() > 1 {
		n, err := strconv.Atoi(flag.Arg(1))
		if err != nil || n < 1 {
			log.Fatalf("bad box count %q", flag.Arg(1))
		}
		boxCount = n
	}
	if !client.IsHubURL(base) {
		log.Fatalf("%s: live stages need a %s:// URL", base, client.URLScheme)
	}

	cli := client.New("simplesensor")
	defer cli.Close()
	ctx := context.Background()

	url := client.CombineURL(base+"/", stageName)
	if err := cli.CreateFolder(ctx, base); err != nil && !errors.Is(err, client.ErrAlreadyExists) {
		log.Fatal(err)
	}
	// Drop the previous run so the layer starts empty.
	if err := cli.Delete(ctx, url); err != nil && !errors.Is(err, client.ErrNotFound) {
		log.Fatal(err)
	}
	lh, err := cli.OpenLive(ctx, url)
	if err != nil {
		log.Fatal(err)
	}
	st, err := scene.NewStage(lh.Layer(), &scene.StageOptions{Base: url})
	if err != nil {
		log.Fatal(err)
	}
	if err := buildStage(st, boxCount); err != nil {
		log.Fatal(err)
	}
	if err := cli.LiveProcess(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Println("created", url)
	for i := 0; i < boxCount; i++ {
		fmt.Printf("  /World/box_%d\n", i)
	}
}

func buildStage(st *scene.Stage, boxCount int) error {
	world := scene.MakePath("World")
	if _, err := st.DefineXform(world); err != nil {
		return err
	}
	st.SetDefaultNode("World")
	if _, err := st.DefineDomeLight(world.Child("DomeLight"), "", "", 1000); err != nil {
		return err
	}
	side := int(math.Ceil(math.Cbrt(float64(boxCount))))
	for i := 0; i < boxCount; i++ {
		p := world.Child(fmt.Sprintf("box_%d", i))
		if _, err := st.DefineCube(p, 50); err != nil {
			return err
		}
		t := scene.NewTransform()
		t.Translate = geom.Vector3{
			X: geom.Element(i%side) * 150,
			Y: geom.Element(i/side%side) * 150,
			Z: geom.Element(i/(side*side)) * 150,
		}
		if err := st.SetTransform(p, t); err != nil {
			return err
		}
		color := []*geom.Vector3{{X: 0.2, Y: 0.2, Z: 0.2}}
		if err := st.SetAttr(p, scene.AttrDisplayColor, color); err != nil {
			return err
		}
	}
	return nil
}
