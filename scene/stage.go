package scene

import (
	"fmt"
	"log/slog"
)

// Resolver loads a layer referenced from another layer. base is the asset
// name of the referencing layer; the returned string is the resolved asset
// name, used for cycle detection and as the base for nested references.
type Resolver interface {
	ResolveLayer(base, asset string) (*Layer, string, error)
}

type StageOptions struct {
	Session      *Layer
	Resolver     Resolver
	Base         string
	LoadPayloads bool
}

// Stage composes a root layer, its sublayers and an optional session layer
// into one node tree. The session layer is the strongest opinion and the
// default edit target when present.
type Stage struct {
	Root    *Layer
	Session *Layer

	opt        StageOptions
	layers     []*Layer // strongest first
	visited    map[string]bool
	editTarget *Layer
}

func NewStage(root *Layer, opt *StageOptions) (*Stage, error) {
	st := &Stage{Root: root, visited: map[string]bool{}}
	if opt != nil {
		st.opt = *opt
		st.Session = opt.Session
	}
	if st.opt.Base != "" {
		st.visited[st.opt.Base] = true
	}
	if st.Session != nil {
		st.layers = append(st.layers, st.Session)
	}
	if err := st.pushLayer(root, st.opt.Base); err != nil {
		return nil, err
	}
	return st, nil
}

// pushLayer appends a layer and, depth-first, its sublayers to the stack.
func (st *Stage) pushLayer(l *Layer, base string) error {
	st.layers = append(st.layers, l)
	for _, asset := range l.SubLayers {
		if st.opt.Resolver == nil {
			return fmt.Errorf("sublayer %s: no resolver", asset)
		}
		sub, name, err := st.opt.Resolver.ResolveLayer(base, asset)
		if err != nil {
			return fmt.Errorf("sublayer %s: %w", asset, err)
		}
		if st.visited[name] {
			return fmt.Errorf("sublayer %s: cyclic", asset)
		}
		st.visited[name] = true
		if err := st.pushLayer(sub, name); err != nil {
			return err
		}
	}
	return nil
}

// Base returns the name the root layer was resolved from.
func (st *Stage) Base() string {
	return st.opt.Base
}

// EditTarget returns the layer receiving edits: the session layer when the
// stage has one, the root layer otherwise.
func (st *Stage) EditTarget() *Layer {
	if st.editTarget != nil {
		return st.editTarget
	}
	if st.Session != nil {
		return st.Session
	}
	return st.Root
}

func (st *Stage) SetEditTarget(l *Layer) error {
	if l != st.Root && (st.Session == nil || l != st.Session) {
		return fmt.Errorf("edit target must be the root or session layer")
	}
	st.editTarget = l
	return nil
}

// SetSessionLayer installs (or, with nil, removes) the session layer. The
// new session layer becomes the default edit target.
func (st *Stage) SetSessionLayer(l *Layer) {
	if st.Session != nil && len(st.layers) > 0 && st.layers[0] == st.Session {
		st.layers = st.layers[1:]
	}
	if st.editTarget == st.Session {
		st.editTarget = nil
	}
	st.Session = l
	if l != nil {
		st.layers = append([]*Layer{l}, st.layers...)
	}
}

// Apply routes a mutation through the edit target and notifies OnChange.
// Every stage edit goes through here so that replaying the emitted ops on
// a copy of the layer reproduces it exactly.
func (st *Stage) Apply(op Op) error {
	l := st.EditTarget()
	if err := l.ApplyOp(op); err != nil {
		return err
	}
	l.Dirty = true
	if l.OnChange != nil {
		l.OnChange(op)
	}
	return nil
}

func (st *Stage) DefineNode(path Path, typ string) (*Node, error) {
	if !path.IsValid() || path.IsRoot() {
		return nil, fmt.Errorf("define %s: invalid path", path)
	}
	if err := st.Apply(Op{Kind: OpDefine, Path: path, Type: typ}); err != nil {
		return nil, err
	}
	n, _ := st.GetNodeAtPath(path)
	return n, nil
}

func (st *Stage) OverrideNode(path Path) error {
	if !path.IsValid() || path.IsRoot() {
		return fmt.Errorf("override %s: invalid path", path)
	}
	return st.Apply(Op{Kind: OpOver, Path: path})
}

func (st *Stage) RemoveNode(path Path) error {
	if !path.IsValid() || path.IsRoot() {
		return fmt.Errorf("remove %s: invalid path", path)
	}
	return st.Apply(Op{Kind: OpDelete, Path: path})
}

// RenameNode renames a node authored in the edit target and returns its
// new path. Nodes only defined in weaker layers cannot be renamed.
func (st *Stage) RenameNode(path Path, name string) (Path, error) {
	if err := st.Apply(Op{Kind: OpRename, Path: path, Name: name}); err != nil {
		return "", err
	}
	return path.Parent().Child(name), nil
}

func (st *Stage) SetAttr(path Path, name string, value any) error {
	typ, err := ValueTypeName(value)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", path, name, err)
	}
	return st.Apply(Op{Kind: OpSetAttr, Path: path, Type: typ, Name: name, Value: value})
}

func (st *Stage) SetAttrAt(path Path, name string, t float64, value any) error {
	typ, err := ValueTypeName(value)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", path, name, err)
	}
	return st.Apply(Op{Kind: OpSetTimeSample, Path: path, Type: typ, Name: name, Time: &t, Value: value})
}

func (st *Stage) RemoveAttr(path Path, name string) error {
	return st.Apply(Op{Kind: OpRemoveAttr, Path: path, Name: name})
}

func (st *Stage) SetActive(path Path, active bool) error {
	return st.Apply(Op{Kind: OpSetActive, Path: path, Value: active})
}

func (st *Stage) SetKind(path Path, kind string) error {
	return st.Apply(Op{Kind: OpSetKind, Path: path, Value: kind})
}

func (st *Stage) AddReference(path Path, ref Reference) error {
	return st.Apply(Op{Kind: OpAddReference, Path: path, Ref: &ref})
}

// Document metadata lives on the root layer and is not replicated as ops.

func (st *Stage) SetDefaultNode(name string) {
	st.Root.DefaultNode = name
	st.Root.Dirty = true
}

func (st *Stage) SetUpAxis(axis string) {
	st.Root.UpAxis = axis
	st.Root.Dirty = true
}

func (st *Stage) SetTimeRange(start, end float64) {
	st.Root.StartTimeCode = start
	st.Root.EndTimeCode = end
	st.Root.Dirty = true
}

func (st *Stage) SetTimeCodesPerSecond(tcps float64) {
	st.Root.TimeCodesPerSecond = tcps
	st.Root.Dirty = true
}

type specRef struct {
	layer *Layer
	spec  *NodeSpec
}

// Node is a composed view of one path across the layer stack. specs are
// strongest first; refs hold the composed targets of any references, which
// are weaker than all direct opinions.
type Node struct {
	stage *Stage
	path  Path
	specs []specRef
	refs  []*Node
}

func (st *Stage) PseudoRoot() *Node {
	n := &Node{stage: st, path: RootPath}
	for _, l := range st.layers {
		n.specs = append(n.specs, specRef{l, l.Root})
	}
	return n
}

func (st *Stage) GetNodeAtPath(path Path) (*Node, bool) {
	if path.IsRoot() {
		return st.PseudoRoot(), true
	}
	if !path.IsValid() {
		return nil, false
	}
	n := st.PseudoRoot()
	for _, name := range path.Split() {
		if n = n.Child(name); n == nil {
			return nil, false
		}
	}
	return n, true
}

// DefaultNode returns the node named by the root layer metadata, or the
// first root child when unset.
func (st *Stage) DefaultNode() (*Node, bool) {
	if st.Root.DefaultNode != "" {
		return st.GetNodeAtPath(RootPath.Child(st.Root.DefaultNode))
	}
	children := st.PseudoRoot().Children()
	if len(children) == 0 {
		return nil, false
	}
	return children[0], true
}

// Traverse visits every defined, active node in depth-first order. fn
// returning false prunes the subtree. Inactive nodes and their subtrees
// are skipped.
func (st *Stage) Traverse(fn func(*Node) bool) {
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children() {
			if !c.Active() {
				continue
			}
			if fn(c) {
				walk(c)
			}
		}
	}
	walk(st.PseudoRoot())
}

func (n *Node) Path() Path {
	return n.path
}

func (n *Node) Name() string {
	return n.path.Name()
}

// Type returns the strongest authored node type.
func (n *Node) Type() string {
	for _, sr := range n.specs {
		if sr.spec.Type != "" {
			return sr.spec.Type
		}
	}
	for _, r := range n.refs {
		if t := r.Type(); t != "" {
			return t
		}
	}
	return ""
}

func (n *Node) Kind() string {
	for _, sr := range n.specs {
		if sr.spec.Kind != "" {
			return sr.spec.Kind
		}
	}
	for _, r := range n.refs {
		if k := r.Kind(); k != "" {
			return k
		}
	}
	return ""
}

// Active reports the strongest active opinion, true when unauthored.
func (n *Node) Active() bool {
	for _, sr := range n.specs {
		if sr.spec.Active != nil {
			return *sr.spec.Active
		}
	}
	for _, r := range n.refs {
		return r.Active()
	}
	return true
}

// IsDefined reports whether some layer defines the node rather than just
// holding overrides for it.
func (n *Node) IsDefined() bool {
	for _, sr := range n.specs {
		if sr.spec.Specifier == SpecifierDef {
			return true
		}
	}
	return len(n.refs) > 0
}

func (n *Node) attr(name string) *Attr {
	for _, sr := range n.specs {
		if a := sr.spec.Attr(name); a != nil {
			return a
		}
	}
	for _, r := range n.refs {
		if a := r.attr(name); a != nil {
			return a
		}
	}
	return nil
}

// Attr returns the composed default value of an attribute. An attribute
// authored only as time samples yields its first sample.
func (n *Node) Attr(name string) (any, bool) {
	a := n.attr(name)
	if a == nil {
		return nil, false
	}
	if a.Value != nil {
		return a.Value, true
	}
	if len(a.Samples) > 0 {
		return a.Samples[0].Value, true
	}
	return nil, false
}

// AttrAt resolves an attribute at time t, falling back to the default
// value for attributes without samples.
func (n *Node) AttrAt(name string, t float64) (any, bool) {
	a := n.attr(name)
	if a == nil {
		return nil, false
	}
	if len(a.Samples) == 0 {
		return a.Value, a.Value != nil
	}
	return a.ValueAt(t), true
}

func (n *Node) Samples(name string) []TimeSample {
	if a := n.attr(name); a != nil {
		return a.Samples
	}
	return nil
}

func (n *Node) AttrNames() []string {
	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, sr := range n.specs {
		for _, a := range sr.spec.Attrs {
			add(a.Name)
		}
	}
	for _, r := range n.refs {
		for _, name := range r.AttrNames() {
			add(name)
		}
	}
	return names
}

func (n *Node) References() []Reference {
	var refs []Reference
	for _, sr := range n.specs {
		refs = append(refs, sr.spec.References...)
	}
	return refs
}

// Child composes the named child, or nil if no layer defines it or a
// stronger layer deleted it.
func (n *Node) Child(name string) *Node {
	cp := n.path.Child(name)
	var specs []specRef
	for _, sr := range n.specs {
		if c := sr.spec.Child(name); c != nil {
			specs = append(specs, specRef{sr.layer, c})
		} else if sr.layer.deletedContains(cp) {
			break
		}
	}
	var refs []*Node
	for _, r := range n.refs {
		if rc := r.Child(name); rc != nil {
			refs = append(refs, rc)
		}
	}
	if len(specs) == 0 && len(refs) == 0 {
		return nil
	}
	c := &Node{stage: n.stage, path: cp, specs: specs, refs: refs}
	if !c.IsDefined() {
		return nil
	}
	c.resolveReferences()
	return c
}

func (n *Node) Children() []*Node {
	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, sr := range n.specs {
		for _, c := range sr.spec.Children {
			add(c.Name)
		}
	}
	for _, r := range n.refs {
		for _, rc := range r.Children() {
			add(rc.Name())
		}
	}
	var children []*Node
	for _, name := range names {
		if c := n.Child(name); c != nil {
			children = append(children, c)
		}
	}
	return children
}

// resolveReferences composes reference targets as the node's weakest
// opinions. Non-payload references come before payloads; payloads are
// skipped entirely unless the stage loads them. Unresolvable references
// are logged and skipped so that the rest of the stage stays usable.
func (n *Node) resolveReferences() {
	st := n.stage
	for _, payload := range []bool{false, true} {
		if payload && !st.opt.LoadPayloads {
			break
		}
		for _, sr := range n.specs {
			for _, ref := range sr.spec.References {
				if ref.Payload != payload {
					continue
				}
				target := st.composeReference(ref)
				if target != nil {
					n.refs = append(n.refs, target)
				}
			}
		}
	}
}

func (st *Stage) composeReference(ref Reference) *Node {
	if st.opt.Resolver == nil {
		slog.Warn("cannot resolve reference without a resolver", "asset", ref.Asset)
		return nil
	}
	l, name, err := st.opt.Resolver.ResolveLayer(st.opt.Base, ref.Asset)
	if err != nil {
		slog.Warn("failed to resolve reference", "asset", ref.Asset, "error", err)
		return nil
	}
	if st.visited[name] {
		slog.Warn("cyclic reference", "asset", ref.Asset)
		return nil
	}
	sub, err := NewStage(l, &StageOptions{
		Resolver:     st.opt.Resolver,
		Base:         name,
		LoadPayloads: st.opt.LoadPayloads,
	})
	if err != nil {
		slog.Warn("failed to compose reference", "asset", ref.Asset, "error", err)
		return nil
	}
	for v := range st.visited {
		sub.visited[v] = true
	}
	target, ok := sub.DefaultNode()
	if !ok {
		slog.Warn("referenced layer has no default node", "asset", ref.Asset)
		return nil
	}
	return target
}
