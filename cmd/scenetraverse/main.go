package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/scene"
)

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s stage.scn|sync://host/path/stage.scn\n", os.Args[0])
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

	cli := client.New("scenetraverse")
	defer cli.Close()
	ctx := context.Background()
	url := flag.Arg(0)
	data, err := cli.ReadFile(ctx, url)
	if err != nil {
		log.Fatal(err)
	}
	root, err := scene.ReadLayer(bytes.NewReader(data))
	if err != nil {
		log.Fatal(err)
	}
	// Payloads load too; this tool shows the whole composition.
	st, err := scene.NewStage(root, &scene.StageOptions{
		Resolver:     cli.Resolver(ctx),
		Base:         url,
		LoadPayloads: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	printDocInfo(st.Root)
	for _, n := range st.PseudoRoot().Children() {
		printNode(n, 1)
	}
}

func printDocInfo(l *scene.Layer) {
	fmt.Printf("up-axis: %s\n", l.UpAxis)
	fmt.Printf("meters-per-unit: %g\n", l.MetersPerUnit)
	if l.DefaultNode != "" {
		fmt.Printf("default node: %s\n", l.DefaultNode)
	}
	if l.StartTimeCode != 0 || l.EndTimeCode != 0 {
		fmt.Printf("time range: %g .. %g (%g/s)\n", l.StartTimeCode, l.EndTimeCode, l.TimeCodesPerSecond)
	}
	fmt.Println()
}

func printNode(n *scene.Node, depth int) {
	line := strings.Repeat(" ", depth) + "[" + n.Type() + "] " + n.Name()
	if v, ok := n.Attr(scene.AttrTranslate); ok {
		if t, ok := v.(*geom.Vector3); ok {
			line += fmt.Sprintf("  translate=(%g, %g, %g)", t.X, t.Y, t.Z)
		}
	}
	if n.Type() == scene.TypeMesh || n.Type() == scene.TypeCube || n.Type() == scene.TypeCylinder {
		if v, ok := n.Attr(scene.AttrDisplayColor); ok {
			if c, ok := v.([]*geom.Vector3); ok && len(c) > 0 {
				line += fmt.Sprintf("  color=(%g, %g, %g)", c[0].X, c[0].Y, c[0].Z)
			}
		}
	}
	if !n.Active() {
		line += "  (inactive)"
	}
	fmt.Println(line)
	for _, c := range n.Children() {
		printNode(c, depth+1)
	}
}
