package scene

import (
	"strings"
	"testing"

	"github.com/binzume/scenesync/geom"
)

func TestValidateOK(t *testing.T) {
	l := NewLayer()
	st, _ := NewStage(l, nil)
	st.DefineXform("/World")
	st.SetDefaultNode("World")
	if _, err := st.DefineMesh("/World/quad", &MeshData{
		Points:            []*geom.Vector3{{}, {X: 1}, {X: 1, Z: 1}, {Z: 1}},
		FaceVertexCounts:  []int{4},
		FaceVertexIndices: []int{0, 1, 2, 3},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineMaterial("/World/Looks/mat", &MaterialParams{Opacity: 1, Roughness: 0.5}); err != nil {
		t.Fatal(err)
	}
	st.BindMaterial("/World/quad", "/World/Looks/mat")
	ident := []*geom.Matrix4{geom.NewMatrix4(), geom.NewMatrix4()}
	if _, err := st.DefineSkeleton("/World/Skel", []string{"Shoulder", "Shoulder/Elbow"}, ident, ident); err != nil {
		t.Fatal(err)
	}
	st.DefineSkelAnimation("/World/Anim", []string{"Shoulder/Elbow"})
	st.SetAnimationSource("/World/Skel", "/World/Anim")

	if issues := Validate(st); len(issues) != 0 {
		t.Errorf("issues: %v", issues)
	}
}

func TestValidateBroken(t *testing.T) {
	l := NewLayer()
	l.DefaultNode = "Nothing"
	l.StartTimeCode = 10
	l.EndTimeCode = 0
	l.Root.Children = []*NodeSpec{
		{Name: "World", Specifier: SpecifierDef, Type: TypeXform, Children: []*NodeSpec{
			{Name: "box", Specifier: SpecifierDef, Type: TypeXform},
			{Name: "box", Specifier: SpecifierDef, Type: TypeXform},
			{Name: "1bad", Specifier: SpecifierDef, Type: TypeXform},
			{Name: "empty", Specifier: SpecifierDef, References: []Reference{{Asset: ""}}},
			{Name: "mesh", Specifier: SpecifierDef, Type: TypeMesh, Attrs: []*Attr{
				{Name: AttrPoints, Value: []*geom.Vector3{{}, {X: 1}}},
				{Name: AttrFaceVertexCounts, Value: []int{2, 3}},
				{Name: AttrFaceVertexIndices, Value: []int{0, 1, 5}},
			}},
			{Name: "bound", Specifier: SpecifierDef, Type: TypeXform, Attrs: []*Attr{
				{Name: AttrMaterialBinding, Value: Path("/Nope")},
			}},
			{Name: "bound2", Specifier: SpecifierDef, Type: TypeXform, Attrs: []*Attr{
				{Name: AttrMaterialBinding, Value: Path("/World")},
			}},
			{Name: "skel", Specifier: SpecifierDef, Type: TypeSkeleton, Attrs: []*Attr{
				{Name: AttrSkelJoints, Value: []string{"Shoulder/Elbow"}},
				{Name: AttrSkelAnimationSource, Value: Path("/World/anim")},
			}},
			{Name: "anim", Specifier: SpecifierDef, Type: TypeSkelAnimation, Attrs: []*Attr{
				{Name: AttrSkelAnimJoints, Value: []string{"Nope"}},
			}},
		}},
	}
	st, err := NewStage(l, nil)
	if err != nil {
		t.Fatal(err)
	}
	issues := Validate(st)
	var messages []string
	warnings := 0
	for _, i := range issues {
		messages = append(messages, i.String())
		if i.Severity == SeverityWarning {
			warnings++
		}
	}
	all := strings.Join(messages, "\n")
	for _, want := range []string{
		`default node "Nothing" not found`,
		"startTimeCode 10 > endTimeCode 0",
		"duplicate node",
		`invalid node name "1bad"`,
		"reference with empty asset",
		"face with 2 vertices",
		"faceVertexCounts sum 5 != 3 indices",
		"vertex index 5 out of range",
		"mesh without extent",
		"material /Nope not found",
		"material:binding targets a Xform",
		`joint "Shoulder/Elbow" has no parent joint "Shoulder"`,
		`animation joint "Nope" not in skeleton`,
	} {
		if !strings.Contains(all, want) {
			t.Errorf("missing issue %q in:\n%s", want, all)
		}
	}
	if warnings == 0 {
		t.Errorf("expected at least one warning")
	}
}
