package scene

import (
	"fmt"
	"strings"

	"github.com/binzume/scenesync/geom"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

type Issue struct {
	Rule       string
	Severity   string
	Path       Path
	Message    string
	Suggestion string
}

func (i *Issue) String() string {
	s := fmt.Sprintf("%s %s: [%s] %s", i.Severity, i.Path, i.Rule, i.Message)
	if i.Suggestion != "" {
		s += " (" + i.Suggestion + ")"
	}
	return s
}

// Validate checks the composed stage and its root layer: structural
// problems are errors, style problems are warnings.
func Validate(st *Stage) []*Issue {
	var issues []*Issue
	add := func(rule, severity string, p Path, format string, args ...any) *Issue {
		i := &Issue{Rule: rule, Severity: severity, Path: p, Message: fmt.Sprintf(format, args...)}
		issues = append(issues, i)
		return i
	}
	l := st.Root
	if l.DefaultNode != "" && l.Root.Child(l.DefaultNode) == nil {
		add("defaultNode", SeverityError, RootPath, "default node %q not found", l.DefaultNode).
			Suggestion = "define the node or clear defaultNode"
	}
	if l.StartTimeCode > l.EndTimeCode {
		add("timeRange", SeverityError, RootPath, "startTimeCode %v > endTimeCode %v", l.StartTimeCode, l.EndTimeCode)
	}
	for _, asset := range l.SubLayers {
		if asset == "" {
			add("reference", SeverityError, RootPath, "empty sublayer asset")
		}
	}
	checkChildren := func(p Path, s *NodeSpec) {
		seen := map[string]bool{}
		for _, c := range s.Children {
			if seen[c.Name] {
				add("duplicate", SeverityError, p.Child(c.Name), "duplicate node")
			}
			seen[c.Name] = true
		}
	}
	checkChildren(RootPath, l.Root)
	l.Root.walk(RootPath, func(p Path, s *NodeSpec) {
		if !IsValidNodeName(s.Name) {
			add("name", SeverityError, p, "invalid node name %q", s.Name)
		}
		checkChildren(p, s)
		for _, r := range s.References {
			if r.Asset == "" {
				add("reference", SeverityError, p, "reference with empty asset")
			}
		}
	})

	st.Traverse(func(n *Node) bool {
		switch n.Type() {
		case TypeMesh:
			issues = append(issues, validateMesh(n)...)
		case TypeSkeleton:
			issues = append(issues, validateSkeleton(n)...)
		}
		if v, ok := n.Attr(AttrMaterialBinding); ok {
			if target, exists := bindingTarget(st, v); !exists {
				add("binding", SeverityError, n.Path(), "material %v not found", v)
			} else if target.Type() != TypeMaterial {
				add("binding", SeverityError, n.Path(), "material:binding targets a %s", target.Type())
			}
		}
		if v, ok := n.Attr(AttrSkelAnimationSource); ok {
			issues = append(issues, validateAnimationSource(st, n, v)...)
		}
		return true
	})
	return issues
}

func bindingTarget(st *Stage, v any) (*Node, bool) {
	p, ok := v.(Path)
	if !ok {
		return nil, false
	}
	return st.GetNodeAtPath(p)
}

func attrInts(n *Node, name string) []int {
	v, _ := n.Attr(name)
	a, _ := v.([]int)
	return a
}

func attrStrings(n *Node, name string) []string {
	v, _ := n.Attr(name)
	a, _ := v.([]string)
	return a
}

func validateMesh(n *Node) []*Issue {
	var issues []*Issue
	p := n.Path()
	var points []*geom.Vector3
	if v, ok := n.Attr(AttrPoints); ok {
		points, _ = v.([]*geom.Vector3)
	}
	counts := attrInts(n, AttrFaceVertexCounts)
	indices := attrInts(n, AttrFaceVertexIndices)
	sum := 0
	for _, c := range counts {
		if c < 3 {
			issues = append(issues, &Issue{Rule: "mesh", Severity: SeverityError, Path: p,
				Message: fmt.Sprintf("face with %d vertices", c)})
		}
		sum += c
	}
	if sum != len(indices) {
		issues = append(issues, &Issue{Rule: "mesh", Severity: SeverityError, Path: p,
			Message: fmt.Sprintf("faceVertexCounts sum %d != %d indices", sum, len(indices))})
	}
	for _, i := range indices {
		if i < 0 || i >= len(points) {
			issues = append(issues, &Issue{Rule: "mesh", Severity: SeverityError, Path: p,
				Message: fmt.Sprintf("vertex index %d out of range", i)})
			break
		}
	}
	if _, ok := n.Attr(AttrExtent); !ok {
		issues = append(issues, &Issue{Rule: "mesh", Severity: SeverityWarning, Path: p,
			Message: "mesh without extent", Suggestion: "author extent from points"})
	}
	return issues
}

// validateSkeleton checks that every joint's parent joint is also listed
// ("Shoulder/Elbow" requires "Shoulder").
func validateSkeleton(n *Node) []*Issue {
	joints := attrStrings(n, AttrSkelJoints)
	listed := map[string]bool{}
	for _, j := range joints {
		listed[j] = true
	}
	var issues []*Issue
	for _, j := range joints {
		if i := strings.LastIndexByte(j, '/'); i >= 0 && !listed[j[:i]] {
			issues = append(issues, &Issue{Rule: "skeleton", Severity: SeverityError, Path: n.Path(),
				Message: fmt.Sprintf("joint %q has no parent joint %q", j, j[:i])})
		}
	}
	return issues
}

func validateAnimationSource(st *Stage, n *Node, v any) []*Issue {
	p, ok := v.(Path)
	if !ok {
		return []*Issue{{Rule: "animation", Severity: SeverityError, Path: n.Path(),
			Message: "skel:animationSource is not a path"}}
	}
	anim, ok := st.GetNodeAtPath(p)
	if !ok {
		return []*Issue{{Rule: "animation", Severity: SeverityError, Path: n.Path(),
			Message: fmt.Sprintf("animation source %v not found", p)}}
	}
	skel := n
	if n.Type() != TypeSkeleton {
		sp, ok := n.Attr(AttrSkelSkeleton)
		if !ok {
			return nil
		}
		if skel, ok = bindingTarget(st, sp); !ok {
			return nil
		}
	}
	known := map[string]bool{}
	for _, j := range attrStrings(skel, AttrSkelJoints) {
		known[j] = true
	}
	animJoints := attrStrings(anim, AttrSkelAnimJoints)
	var issues []*Issue
	for _, j := range animJoints {
		if !known[j] {
			issues = append(issues, &Issue{Rule: "animation", Severity: SeverityError, Path: n.Path(),
				Message: fmt.Sprintf("animation joint %q not in skeleton", j)})
		}
	}
	return issues
}
