package converter

import (
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/scene"
	"github.com/qmuntal/gltf"
)

func testStage(t *testing.T) *scene.Stage {
	st, err := scene.NewStage(scene.NewLayer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func quadMesh() *scene.MeshData {
	return &scene.MeshData{
		Points:            []*geom.Vector3{{}, {X: 1}, {X: 1, Y: 1}, {Y: 1}},
		FaceVertexCounts:  []int{4},
		FaceVertexIndices: []int{0, 1, 2, 3},
		UV:                []*geom.Vector2{{}, {X: 1}, {X: 1, Y: 1}, {Y: 1}},
	}
}

func TestStageToGLTF(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineXform("/World"); err != nil {
		t.Fatal(err)
	}
	tr := scene.NewTransform()
	tr.Translate = geom.Vector3{X: 1, Y: 2, Z: 3}
	if err := st.SetTransform("/World", tr); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineMesh("/World/quad", quadMesh()); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineMaterial("/World/Looks/red", &scene.MaterialParams{
		DiffuseColor: &geom.Vector3{X: 1}, Opacity: 1, Roughness: 0.4, Metallic: 0.1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.BindMaterial("/World/quad", "/World/Looks/red"); err != nil {
		t.Fatal(err)
	}

	doc, err := StageToGLTF(st, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(doc.Meshes) != 1 || len(doc.Meshes[0].Primitives) != 1 {
		t.Fatalf("meshes: %v", doc.Meshes)
	}
	prim := doc.Meshes[0].Primitives[0]
	if n := doc.Accessors[*prim.Indices].Count; n != 6 {
		t.Errorf("indices count: %v", n)
	}
	if n := doc.Accessors[prim.Attributes["POSITION"]].Count; n != 4 {
		t.Errorf("position count: %v", n)
	}
	if _, ok := prim.Attributes["TEXCOORD_0"]; !ok {
		t.Error("TEXCOORD_0 missing")
	}
	if _, ok := prim.Attributes["NORMAL"]; !ok {
		t.Error("NORMAL missing")
	}
	if prim.Material == nil || len(doc.Materials) != 1 {
		t.Fatalf("materials: %v", doc.Materials)
	}
	mat := doc.Materials[0]
	if mat.Name != "red" {
		t.Error("material name: ", mat.Name)
	}
	if *mat.PBRMetallicRoughness.BaseColorFactor != [4]float32{1, 0, 0, 1} {
		t.Error("baseColor: ", *mat.PBRMetallicRoughness.BaseColorFactor)
	}
	if *mat.PBRMetallicRoughness.RoughnessFactor != float32(0.4) {
		t.Error("roughness: ", *mat.PBRMetallicRoughness.RoughnessFactor)
	}
	if *mat.PBRMetallicRoughness.MetallicFactor != float32(0.1) {
		t.Error("metallic: ", *mat.PBRMetallicRoughness.MetallicFactor)
	}

	if doc.Nodes[0].Name != "World" || doc.Nodes[0].Translation != [3]float32{1, 2, 3} {
		t.Error("world node: ", doc.Nodes[0])
	}
	if doc.Nodes[1].Name != "quad" || doc.Nodes[1].Mesh == nil {
		t.Error("quad node: ", doc.Nodes[1])
	}

	// default metersPerUnit is 0.01, so a unit scale wrapper is added
	last := doc.Nodes[len(doc.Nodes)-1]
	if last.Name != "Root" || last.Scale != [3]float32{0.01, 0.01, 0.01} {
		t.Error("root wrapper: ", last)
	}
	if len(doc.Scenes[0].Nodes) != 1 || doc.Scenes[0].Nodes[0] != uint32(len(doc.Nodes)-1) {
		t.Error("scene roots: ", doc.Scenes[0].Nodes)
	}
}

func TestStageToGLTF_Cube(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineCube("/box", 50); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAttr("/box", scene.AttrDisplayColor, []*geom.Vector3{{Y: 1}}); err != nil {
		t.Fatal(err)
	}

	doc, err := StageToGLTF(st, &GLTFOption{Scale: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Nodes) != 1 || doc.Nodes[0].Mesh == nil {
		t.Fatalf("nodes: %v", doc.Nodes)
	}
	prim := doc.Meshes[0].Primitives[0]
	// 6 faces split by faceVarying normals
	if n := doc.Accessors[prim.Attributes["POSITION"]].Count; n != 24 {
		t.Errorf("position count: %v", n)
	}
	if n := doc.Accessors[*prim.Indices].Count; n != 36 {
		t.Errorf("indices count: %v", n)
	}
	if max := doc.Accessors[prim.Attributes["POSITION"]].Max; len(max) != 3 || max[0] != 25 {
		t.Errorf("position max: %v", max)
	}
	if prim.Material == nil || len(doc.Materials) != 1 {
		t.Fatalf("materials: %v", doc.Materials)
	}
	if *doc.Materials[0].PBRMetallicRoughness.BaseColorFactor != [4]float32{0, 1, 0, 1} {
		t.Error("displayColor: ", *doc.Materials[0].PBRMetallicRoughness.BaseColorFactor)
	}
	if len(doc.Scenes[0].Nodes) != 1 || doc.Scenes[0].Nodes[0] != 0 {
		t.Error("scene roots: ", doc.Scenes[0].Nodes)
	}
}

func TestStageToGLTF_Cylinder(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineCylinder("/pipe", 2, 10, "Y"); err != nil {
		t.Fatal(err)
	}
	doc, err := StageToGLTF(st, &GLTFOption{Scale: 1})
	if err != nil {
		t.Fatal(err)
	}
	prim := doc.Meshes[0].Primitives[0]
	// side rings with radial normals, cap rings with axis normals, two centers
	if n := doc.Accessors[prim.Attributes["POSITION"]].Count; n != uint32(cylinderSegments*4+2) {
		t.Errorf("position count: %v", n)
	}
	if n := doc.Accessors[*prim.Indices].Count; n != uint32(cylinderSegments*12) {
		t.Errorf("indices count: %v", n)
	}
	if max := doc.Accessors[prim.Attributes["POSITION"]].Max; len(max) != 3 || max[1] != 5 {
		t.Errorf("position max: %v", max)
	}
}

func TestStageToGLTF_Skin(t *testing.T) {
	st := testStage(t)
	bind := []*geom.Matrix4{geom.NewMatrix4(), geom.NewTranslateMatrix4(0, 1, 0)}
	rest := []*geom.Matrix4{geom.NewMatrix4(), geom.NewTranslateMatrix4(0, 1, 0)}
	if _, err := st.DefineSkeleton("/World/skel", []string{"root", "root/tip"}, bind, rest); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineMesh("/World/quad", quadMesh()); err != nil {
		t.Fatal(err)
	}
	if err := st.BindSkeleton("/World/quad", "/World/skel", []int{0, 0, 1, 1}, []float64{1, 1, 1, 1}, nil); err != nil {
		t.Fatal(err)
	}

	doc, err := StageToGLTF(st, &GLTFOption{Scale: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Skins) != 1 {
		t.Fatalf("skins: %v", doc.Skins)
	}
	skin := doc.Skins[0]
	if len(skin.Joints) != 2 {
		t.Fatalf("joints: %v", skin.Joints)
	}
	root, tip := doc.Nodes[skin.Joints[0]], doc.Nodes[skin.Joints[1]]
	if root.Name != "root" || tip.Name != "tip" {
		t.Error("joint names: ", root.Name, tip.Name)
	}
	if len(root.Children) != 1 || root.Children[0] != skin.Joints[1] {
		t.Error("joint hierarchy: ", root.Children)
	}
	if tip.Translation != [3]float32{0, 1, 0} {
		t.Error("rest transform: ", tip.Translation)
	}
	ibm := doc.Accessors[*skin.InverseBindMatrices]
	if ibm.Type != gltf.AccessorMat4 || ibm.Count != 2 {
		t.Error("inverse bind matrices: ", ibm.Type, ibm.Count)
	}
	var meshNode *gltf.Node
	for _, n := range doc.Nodes {
		if n.Name == "quad" {
			meshNode = n
		}
	}
	if meshNode == nil || meshNode.Skin == nil {
		t.Fatal("mesh skin not set")
	}
	prim := doc.Meshes[0].Primitives[0]
	if _, ok := prim.Attributes["JOINTS_0"]; !ok {
		t.Error("JOINTS_0 missing")
	}
	if _, ok := prim.Attributes["WEIGHTS_0"]; !ok {
		t.Error("WEIGHTS_0 missing")
	}
}

func TestStageToGLTF_Texture(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	f, err := os.Create(filepath.Join(dir, "tex.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	st := testStage(t)
	if _, err := st.DefineMesh("/World/quad", quadMesh()); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineMaterial("/World/Looks/wall", &scene.MaterialParams{
		Opacity: 1, Roughness: 0.5, DiffuseTexture: "tex.png",
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.BindMaterial("/World/quad", "/World/Looks/wall"); err != nil {
		t.Fatal(err)
	}

	doc, err := StageToGLTF(st, &GLTFOption{Scale: 1, TextureDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Images) != 1 || len(doc.Textures) != 1 || len(doc.Samplers) != 1 {
		t.Fatalf("textures: %v %v %v", doc.Images, doc.Textures, doc.Samplers)
	}
	if doc.Images[0].MimeType != "image/png" {
		t.Error("mime: ", doc.Images[0].MimeType)
	}
	bt := doc.Materials[0].PBRMetallicRoughness.BaseColorTexture
	if bt == nil || bt.Index != 0 {
		t.Fatal("baseColorTexture not set")
	}
	if doc.Buffers[0].ByteLength != uint32(len(doc.Buffers[0].Data)) {
		t.Error("buffer length mismatch")
	}
}

func TestStageToGLTF_MissingTexture(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineMesh("/World/quad", quadMesh()); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineMaterial("/World/Looks/wall", &scene.MaterialParams{
		Opacity: 1, DiffuseTexture: "missing.png",
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.BindMaterial("/World/quad", "/World/Looks/wall"); err != nil {
		t.Fatal(err)
	}

	doc, err := StageToGLTF(st, &GLTFOption{Scale: 1, TextureDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Materials) != 1 {
		t.Fatalf("materials: %v", doc.Materials)
	}
	if doc.Materials[0].PBRMetallicRoughness.BaseColorTexture != nil {
		t.Error("texture should be skipped")
	}
	if len(doc.Textures) != 0 || len(doc.Samplers) != 0 {
		t.Error("textures: ", doc.Textures)
	}
}

func TestStageToGLTF_ZUp(t *testing.T) {
	st := testStage(t)
	st.SetUpAxis("Z")
	if _, err := st.DefineCube("/box", 1); err != nil {
		t.Fatal(err)
	}
	doc, err := StageToGLTF(st, &GLTFOption{Scale: 1})
	if err != nil {
		t.Fatal(err)
	}
	root := doc.Nodes[len(doc.Nodes)-1]
	s := float32(math.Sqrt2 / 2)
	if root.Name != "Root" || root.Rotation != [4]float32{-s, 0, 0, s} {
		t.Error("up axis rotation: ", root.Rotation)
	}
}

func TestStageToGLTF_Inactive(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineCube("/visible", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineCube("/hidden", 1); err != nil {
		t.Fatal(err)
	}
	if err := st.SetActive("/hidden", false); err != nil {
		t.Fatal(err)
	}
	doc, err := StageToGLTF(st, &GLTFOption{Scale: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Nodes) != 1 || doc.Nodes[0].Name != "visible" {
		t.Errorf("nodes: %v", doc.Nodes)
	}
}

func TestStageToGLTF_Opacity(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineMesh("/World/quad", quadMesh()); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineMaterial("/World/Looks/glass", &scene.MaterialParams{
		DiffuseColor: &geom.Vector3{X: 1, Y: 1, Z: 1}, Opacity: 0.5, Roughness: 0.1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.BindMaterial("/World/quad", "/World/Looks/glass"); err != nil {
		t.Fatal(err)
	}
	doc, err := StageToGLTF(st, &GLTFOption{Scale: 1})
	if err != nil {
		t.Fatal(err)
	}
	mat := doc.Materials[0]
	if mat.AlphaMode != gltf.AlphaBlend {
		t.Error("alphaMode: ", mat.AlphaMode)
	}
	if (*mat.PBRMetallicRoughness.BaseColorFactor)[3] != 0.5 {
		t.Error("opacity: ", *mat.PBRMetallicRoughness.BaseColorFactor)
	}
}

func TestSaveGLB(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineCube("/box", 1); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "out.glb")
	if err := SaveGLB(st, path, nil); err != nil {
		t.Fatal(err)
	}
	doc, err := gltf.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Meshes) != 1 {
		t.Errorf("meshes: %v", doc.Meshes)
	}
}
