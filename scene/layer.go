package scene

import (
	"fmt"
)

type Specifier int

const (
	SpecifierDef Specifier = iota
	SpecifierOver
)

func (s Specifier) String() string {
	if s == SpecifierOver {
		return "over"
	}
	return "def"
}

// Reference grafts another layer's default node under the referencing node.
// Payload references are the same thing, loaded on demand.
type Reference struct {
	Asset   string `json:"asset"`
	Payload bool   `json:"payload,omitempty"`
}

type TimeSample struct {
	Time  float64
	Value any
}

type Attr struct {
	Name    string
	Value   any
	Samples []TimeSample // sorted by Time
}

// ValueAt resolves the attribute at time t. Samples are held: the sample
// with the greatest time <= t wins; t before the first sample returns the
// first sample. An attribute with no samples returns its default value.
func (a *Attr) ValueAt(t float64) any {
	if len(a.Samples) == 0 {
		return a.Value
	}
	v := a.Samples[0].Value
	for _, s := range a.Samples {
		if s.Time > t {
			break
		}
		v = s.Value
	}
	return v
}

func (a *Attr) setSample(t float64, v any) {
	for i, s := range a.Samples {
		if s.Time == t {
			a.Samples[i].Value = v
			return
		}
		if s.Time > t {
			a.Samples = append(a.Samples[:i], append([]TimeSample{{t, v}}, a.Samples[i:]...)...)
			return
		}
	}
	a.Samples = append(a.Samples, TimeSample{t, v})
}

// NodeSpec is one layer's opinion about a node.
type NodeSpec struct {
	Name       string
	Specifier  Specifier
	Type       string
	Kind       string
	Active     *bool
	Attrs      []*Attr // authoring order
	References []Reference
	Children   []*NodeSpec // authoring order
}

func (s *NodeSpec) Child(name string) *NodeSpec {
	for _, c := range s.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *NodeSpec) Attr(name string) *Attr {
	for _, a := range s.Attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func (s *NodeSpec) SetAttr(name string, value any) *Attr {
	if a := s.Attr(name); a != nil {
		a.Value = value
		return a
	}
	a := &Attr{Name: name, Value: value}
	s.Attrs = append(s.Attrs, a)
	return a
}

func (s *NodeSpec) RemoveAttr(name string) {
	for i, a := range s.Attrs {
		if a.Name == name {
			s.Attrs = append(s.Attrs[:i], s.Attrs[i+1:]...)
			return
		}
	}
}

func (s *NodeSpec) removeChild(name string) *NodeSpec {
	for i, c := range s.Children {
		if c.Name == name {
			s.Children = append(s.Children[:i], s.Children[i+1:]...)
			return c
		}
	}
	return nil
}

func (s *NodeSpec) walk(path Path, fn func(Path, *NodeSpec)) {
	for _, c := range s.Children {
		p := path.Child(c.Name)
		fn(p, c)
		c.walk(p, fn)
	}
}

// Layer is a named tree of node specs plus document metadata.
type Layer struct {
	UpAxis             string
	MetersPerUnit      float64
	TimeCodesPerSecond float64
	StartTimeCode      float64
	EndTimeCode        float64
	DefaultNode        string
	SubLayers          []string // strongest first
	Root               *NodeSpec
	Deleted            []Path // tombstones hiding weaker-layer nodes

	Dirty    bool
	OnChange func(Op)
}

func NewLayer() *Layer {
	return &Layer{
		UpAxis:             "Y",
		MetersPerUnit:      0.01,
		TimeCodesPerSecond: 24,
		Root:               &NodeSpec{},
	}
}

func (l *Layer) Spec(path Path) *NodeSpec {
	s := l.Root
	for _, name := range path.Split() {
		if s = s.Child(name); s == nil {
			return nil
		}
	}
	return s
}

// ensureSpec creates the spec chain for path. Missing nodes are created
// with the given specifier. Defining also promotes existing over ancestors
// to def, so a defined node is always reachable through defined parents.
func (l *Layer) ensureSpec(path Path, specifier Specifier) *NodeSpec {
	s := l.Root
	for _, name := range path.Split() {
		c := s.Child(name)
		if c == nil {
			c = &NodeSpec{Name: name, Specifier: specifier}
			s.Children = append(s.Children, c)
		} else if specifier == SpecifierDef {
			c.Specifier = SpecifierDef
		}
		s = c
	}
	l.undelete(path)
	return s
}

func (l *Layer) undelete(path Path) {
	for i, p := range l.Deleted {
		if p == path {
			l.Deleted = append(l.Deleted[:i], l.Deleted[i+1:]...)
			return
		}
	}
}

func (l *Layer) deletedContains(path Path) bool {
	for _, p := range l.Deleted {
		if path.HasPrefix(p) {
			return true
		}
	}
	return false
}

// HasSpecs reports whether the layer holds any node opinions.
func (l *Layer) HasSpecs() bool {
	return len(l.Root.Children) > 0 || len(l.Deleted) > 0
}

// SpecPaths lists every authored node path, depth-first.
func (l *Layer) SpecPaths() []Path {
	var paths []Path
	l.Root.walk(RootPath, func(p Path, s *NodeSpec) {
		paths = append(paths, p)
	})
	return paths
}

func (l *Layer) Clear() {
	l.Root = &NodeSpec{}
	l.Deleted = nil
	l.Dirty = true
}

// ApplyOp applies one replicated mutation to the layer. It never fires
// OnChange; emitting is the caller's business.
func (l *Layer) ApplyOp(op Op) error {
	switch op.Kind {
	case OpDefine:
		s := l.ensureSpec(op.Path, SpecifierDef)
		if op.Type != "" {
			s.Type = op.Type
		}
	case OpOver:
		l.ensureSpec(op.Path, SpecifierOver)
	case OpDelete:
		if parent := l.Spec(op.Path.Parent()); parent != nil {
			parent.removeChild(op.Path.Name())
		}
		if !l.deletedContains(op.Path) {
			l.Deleted = append(l.Deleted, op.Path)
		}
		if l.DefaultNode != "" && op.Path == RootPath.Child(l.DefaultNode) {
			l.DefaultNode = ""
		}
	case OpRename:
		if !IsValidNodeName(op.Name) {
			return fmt.Errorf("rename %s: invalid name %q", op.Path, op.Name)
		}
		parent := l.Spec(op.Path.Parent())
		if parent == nil || parent.Child(op.Path.Name()) == nil {
			return fmt.Errorf("rename %s: node not found", op.Path)
		}
		if parent.Child(op.Name) != nil {
			return fmt.Errorf("rename %s: %q already exists", op.Path, op.Name)
		}
		parent.Child(op.Path.Name()).Name = op.Name
	case OpSetAttr:
		s := l.Spec(op.Path)
		if s == nil {
			s = l.ensureSpec(op.Path, SpecifierOver)
		}
		s.SetAttr(op.Name, op.Value)
	case OpSetTimeSample:
		if op.Time == nil {
			return fmt.Errorf("setTime %s.%s: no time", op.Path, op.Name)
		}
		s := l.Spec(op.Path)
		if s == nil {
			s = l.ensureSpec(op.Path, SpecifierOver)
		}
		a := s.Attr(op.Name)
		if a == nil {
			a = &Attr{Name: op.Name}
			s.Attrs = append(s.Attrs, a)
		}
		a.setSample(*op.Time, op.Value)
	case OpRemoveAttr:
		if s := l.Spec(op.Path); s != nil {
			s.RemoveAttr(op.Name)
		}
	case OpSetActive:
		active, ok := op.Value.(bool)
		if !ok {
			return fmt.Errorf("setActive %s: not a bool", op.Path)
		}
		s := l.Spec(op.Path)
		if s == nil {
			s = l.ensureSpec(op.Path, SpecifierOver)
		}
		s.Active = &active
	case OpSetKind:
		kind, ok := op.Value.(string)
		if !ok {
			return fmt.Errorf("setKind %s: not a string", op.Path)
		}
		s := l.Spec(op.Path)
		if s == nil {
			s = l.ensureSpec(op.Path, SpecifierOver)
		}
		s.Kind = kind
	case OpAddReference:
		if op.Ref == nil {
			return fmt.Errorf("addRef %s: no reference", op.Path)
		}
		s := l.Spec(op.Path)
		if s == nil {
			s = l.ensureSpec(op.Path, SpecifierOver)
		}
		for _, r := range s.References {
			if r == *op.Ref {
				return nil
			}
		}
		s.References = append(s.References, *op.Ref)
	default:
		return fmt.Errorf("unknown op %q", op.Kind)
	}
	return nil
}

// MergeInto copies every opinion of l into dst, l winning on conflicts.
// Document metadata is left alone.
func (l *Layer) MergeInto(dst *Layer) {
	for _, p := range l.Deleted {
		dst.ApplyOp(Op{Kind: OpDelete, Path: p})
	}
	l.Root.walk(RootPath, func(path Path, s *NodeSpec) {
		d := dst.ensureSpec(path, s.Specifier)
		if s.Type != "" {
			d.Type = s.Type
		}
		if s.Kind != "" {
			d.Kind = s.Kind
		}
		if s.Active != nil {
			active := *s.Active
			d.Active = &active
		}
		for _, a := range s.Attrs {
			da := d.SetAttr(a.Name, a.Value)
			for _, ts := range a.Samples {
				da.setSample(ts.Time, ts.Value)
			}
		}
	nextRef:
		for _, r := range s.References {
			for _, dr := range d.References {
				if dr == r {
					continue nextRef
				}
			}
			d.References = append(d.References, r)
		}
	})
	dst.Dirty = true
}
