package converter

import (
	"io"

	"github.com/binzume/scenesync/scene"
	"gopkg.in/yaml.v2"
)

// Snapshot is a human readable dump of a composed stage, one entry per
// node in depth-first order. Inactive nodes are included and marked.
type Snapshot struct {
	UpAxis             string          `yaml:"upAxis"`
	MetersPerUnit      float64         `yaml:"metersPerUnit"`
	TimeCodesPerSecond float64         `yaml:"timeCodesPerSecond,omitempty"`
	StartTimeCode      float64         `yaml:"startTimeCode,omitempty"`
	EndTimeCode        float64         `yaml:"endTimeCode,omitempty"`
	DefaultNode        string          `yaml:"defaultNode,omitempty"`
	SubLayers          []string        `yaml:"subLayers,omitempty"`
	Nodes              []*SnapshotNode `yaml:"nodes"`
}

type SnapshotNode struct {
	Path       string          `yaml:"path"`
	Type       string          `yaml:"type,omitempty"`
	Kind       string          `yaml:"kind,omitempty"`
	Active     bool            `yaml:"active"`
	References []string        `yaml:"references,omitempty"`
	Attrs      []*SnapshotAttr `yaml:"attrs,omitempty"`
}

type SnapshotAttr struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type,omitempty"`
	Value   any    `yaml:"value,omitempty"`
	Samples int    `yaml:"samples,omitempty"`
}

// StageToSnapshot flattens the composed stage into a Snapshot.
func StageToSnapshot(st *scene.Stage) *Snapshot {
	root := st.Root
	snap := &Snapshot{
		UpAxis:             root.UpAxis,
		MetersPerUnit:      root.MetersPerUnit,
		TimeCodesPerSecond: root.TimeCodesPerSecond,
		StartTimeCode:      root.StartTimeCode,
		EndTimeCode:        root.EndTimeCode,
		DefaultNode:        root.DefaultNode,
		SubLayers:          root.SubLayers,
	}
	var walk func(n *scene.Node)
	walk = func(n *scene.Node) {
		for _, c := range n.Children() {
			snap.Nodes = append(snap.Nodes, snapshotNode(c))
			walk(c)
		}
	}
	walk(st.PseudoRoot())
	return snap
}

func snapshotNode(n *scene.Node) *SnapshotNode {
	sn := &SnapshotNode{
		Path:   string(n.Path()),
		Type:   n.Type(),
		Kind:   n.Kind(),
		Active: n.Active(),
	}
	for _, ref := range n.References() {
		sn.References = append(sn.References, ref.Asset)
	}
	for _, name := range n.AttrNames() {
		sa := &SnapshotAttr{Name: name, Samples: len(n.Samples(name))}
		if v, ok := n.Attr(name); ok {
			if t, err := scene.ValueTypeName(v); err == nil {
				sa.Type = t
			}
			if ev, err := scene.EncodeValue(v); err == nil {
				sa.Value = ev
			}
		}
		sn.Attrs = append(sn.Attrs, sa)
	}
	return sn
}

// WriteSnapshot writes the composed stage as a YAML snapshot.
func WriteSnapshot(w io.Writer, st *scene.Stage) error {
	e := yaml.NewEncoder(w)
	if err := e.Encode(StageToSnapshot(st)); err != nil {
		return err
	}
	return e.Close()
}
