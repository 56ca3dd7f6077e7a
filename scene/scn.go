package scene

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// LayerExt is the file extension for serialized layers. LiveExt marks
// layers that are streamed as op batches through a hub; the file
// content is the same format.
const (
	LayerExt = ".scn"
	LiveExt  = ".live"
)

// LayerVersion is the format version written by WriteLayer. Readers accept
// any minor revision of the same major version.
const LayerVersion = "1.0"

type formatJSON struct {
	Version string `json:"version"`
}

type layerJSON struct {
	Format             formatJSON `json:"scenesync"`
	UpAxis             string     `json:"upAxis,omitempty"`
	MetersPerUnit      float64    `json:"metersPerUnit,omitempty"`
	TimeCodesPerSecond float64    `json:"timeCodesPerSecond,omitempty"`
	StartTimeCode      float64    `json:"startTimeCode,omitempty"`
	EndTimeCode        float64    `json:"endTimeCode,omitempty"`
	DefaultNode        string     `json:"defaultNode,omitempty"`
	SubLayers          []string   `json:"subLayers,omitempty"`
	Deleted            []Path     `json:"deleted,omitempty"`
	Root               *specJSON  `json:"root"`
}

type specJSON struct {
	Name       string      `json:"name,omitempty"`
	Specifier  string      `json:"specifier,omitempty"` // "over", def when omitted
	Type       string      `json:"type,omitempty"`
	Kind       string      `json:"kind,omitempty"`
	Active     *bool       `json:"active,omitempty"`
	Attrs      []*attrJSON `json:"attrs,omitempty"`
	References []Reference `json:"references,omitempty"`
	Children   []*specJSON `json:"children,omitempty"`
}

type attrJSON struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Value   json.RawMessage `json:"value,omitempty"`
	Samples []sampleJSON    `json:"samples,omitempty"`
}

type sampleJSON struct {
	Time  float64         `json:"t"`
	Value json.RawMessage `json:"v"`
}

// WriteLayer serializes a layer. Node and attribute order follows
// authoring order, so writing an unmodified layer is deterministic.
func (l *Layer) WriteLayer(w io.Writer) error {
	root, err := specToJSON(l.Root)
	if err != nil {
		return err
	}
	doc := layerJSON{
		Format:             formatJSON{Version: LayerVersion},
		UpAxis:             l.UpAxis,
		MetersPerUnit:      l.MetersPerUnit,
		TimeCodesPerSecond: l.TimeCodesPerSecond,
		StartTimeCode:      l.StartTimeCode,
		EndTimeCode:        l.EndTimeCode,
		DefaultNode:        l.DefaultNode,
		SubLayers:          l.SubLayers,
		Deleted:            l.Deleted,
		Root:               root,
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadLayer parses a serialized layer. Documents of another major version
// are rejected.
func ReadLayer(r io.Reader) (*Layer, error) {
	var doc layerJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	if major, _, _ := strings.Cut(doc.Format.Version, "."); major != "1" {
		return nil, fmt.Errorf("unsupported layer version: %q", doc.Format.Version)
	}
	l := NewLayer()
	if doc.UpAxis != "" {
		l.UpAxis = doc.UpAxis
	}
	if doc.MetersPerUnit != 0 {
		l.MetersPerUnit = doc.MetersPerUnit
	}
	if doc.TimeCodesPerSecond != 0 {
		l.TimeCodesPerSecond = doc.TimeCodesPerSecond
	}
	l.StartTimeCode = doc.StartTimeCode
	l.EndTimeCode = doc.EndTimeCode
	l.DefaultNode = doc.DefaultNode
	l.SubLayers = doc.SubLayers
	l.Deleted = doc.Deleted
	if doc.Root != nil {
		root, err := specFromJSON(doc.Root)
		if err != nil {
			return nil, err
		}
		l.Root = root
	}
	return l, nil
}

func specToJSON(s *NodeSpec) (*specJSON, error) {
	j := &specJSON{
		Name:       s.Name,
		Type:       s.Type,
		Kind:       s.Kind,
		Active:     s.Active,
		References: s.References,
	}
	if s.Specifier == SpecifierOver {
		j.Specifier = "over"
	}
	for _, a := range s.Attrs {
		aj, err := attrToJSON(a)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", s.Name, err)
		}
		if aj != nil {
			j.Attrs = append(j.Attrs, aj)
		}
	}
	for _, c := range s.Children {
		cj, err := specToJSON(c)
		if err != nil {
			return nil, err
		}
		j.Children = append(j.Children, cj)
	}
	return j, nil
}

func attrToJSON(a *Attr) (*attrJSON, error) {
	sample := a.Value
	if sample == nil {
		if len(a.Samples) == 0 {
			return nil, nil
		}
		sample = a.Samples[0].Value
	}
	typ, err := ValueTypeName(sample)
	if err != nil {
		return nil, fmt.Errorf("attr %s: %w", a.Name, err)
	}
	j := &attrJSON{Name: a.Name, Type: typ}
	if a.Value != nil {
		if j.Value, err = MarshalValue(a.Value); err != nil {
			return nil, fmt.Errorf("attr %s: %w", a.Name, err)
		}
	}
	for _, ts := range a.Samples {
		raw, err := MarshalValue(ts.Value)
		if err != nil {
			return nil, fmt.Errorf("attr %s at %v: %w", a.Name, ts.Time, err)
		}
		j.Samples = append(j.Samples, sampleJSON{Time: ts.Time, Value: raw})
	}
	return j, nil
}

func specFromJSON(j *specJSON) (*NodeSpec, error) {
	s := &NodeSpec{
		Name:       j.Name,
		Type:       j.Type,
		Kind:       j.Kind,
		Active:     j.Active,
		References: j.References,
	}
	if j.Specifier == "over" {
		s.Specifier = SpecifierOver
	}
	for _, aj := range j.Attrs {
		a := &Attr{Name: aj.Name}
		if aj.Value != nil {
			v, err := DecodeValue(aj.Type, aj.Value)
			if err != nil {
				return nil, fmt.Errorf("node %s attr %s: %w", j.Name, aj.Name, err)
			}
			a.Value = v
		}
		for _, ts := range aj.Samples {
			v, err := DecodeValue(aj.Type, ts.Value)
			if err != nil {
				return nil, fmt.Errorf("node %s attr %s at %v: %w", j.Name, aj.Name, ts.Time, err)
			}
			a.setSample(ts.Time, v)
		}
		s.Attrs = append(s.Attrs, a)
	}
	for _, cj := range j.Children {
		c, err := specFromJSON(cj)
		if err != nil {
			return nil, err
		}
		s.Children = append(s.Children, c)
	}
	return s, nil
}
