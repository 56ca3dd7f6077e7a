package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/scene"
)

const armBoneSize = 100

// createStage writes a fresh helloworld stage under dest and returns
// its URL. A stage left over from an earlier run is replaced.
func createStage(ctx context.Context, cli *client.Client, dest, assetsDir string) (string, *scene.Stage, error) {
	if err := cli.CreateFolder(ctx, dest); err != nil && !errors.Is(err, client.ErrAlreadyExists) {
		return "", nil, err
	}
	url := client.CombineURL(dest+"/", "helloworld"+scene.LayerExt)
	if err := cli.Delete(ctx, url); err != nil && !errors.Is(err, client.ErrNotFound) {
		return "", nil, err
	}
	st, err := cli.CreateStage(ctx, url)
	if err != nil {
		return "", nil, err
	}
	if assetsDir != "" {
		if err := uploadMaterials(ctx, cli, assetsDir, dest); err != nil {
			return "", nil, err
		}
	}
	if err := buildWorld(ctx, cli, st, dest); err != nil {
		return "", nil, err
	}
	if err := cli.SaveStage(ctx, st, "hello world scene"); err != nil {
		return "", nil, err
	}
	return url, st, nil
}

func buildWorld(ctx context.Context, cli *client.Client, st *scene.Stage, dest string) error {
	world := scene.MakePath("World")
	if _, err := st.DefineXform(world); err != nil {
		return err
	}
	if err := st.SetKind(world, scene.KindAssembly); err != nil {
		return err
	}
	st.SetDefaultNode("World")
	st.SetTimeCodesPerSecond(24)
	st.SetTimeRange(0, 48)

	if _, err := st.DefinePhysicsScene(world.Child("physicsScene"), &geom.Vector3{Y: -1}, 981); err != nil {
		return err
	}
	boxPath, err := addBox(st, world, 0)
	if err != nil {
		return err
	}
	if err := addMaterial(st, world, boxPath); err != nil {
		return err
	}
	if err := addDynamicCube(st, world); err != nil {
		return err
	}
	if err := addGroundQuad(st, world); err != nil {
		return err
	}
	if err := addCylinders(st, world); err != nil {
		return err
	}
	if err := addLights(st, world); err != nil {
		return err
	}
	if err := addCamera(st, world); err != nil {
		return err
	}
	if err := addSkelMesh(st, world); err != nil {
		return err
	}
	return addReferences(ctx, cli, st, world, dest)
}

// addBox authors a cube as an explicit mesh: 8 corners, 6 quads, and
// per-corner normal/uv indices into small value arrays.
func addBox(st *scene.Stage, world scene.Path, index int) (scene.Path, error) {
	p := world.Child(fmt.Sprintf("box_%d", index))
	h := geom.Element(50)
	points := []*geom.Vector3{
		{X: -h, Y: -h, Z: -h}, {X: h, Y: -h, Z: -h}, {X: h, Y: h, Z: -h}, {X: -h, Y: h, Z: -h},
		{X: -h, Y: -h, Z: h}, {X: h, Y: -h, Z: h}, {X: h, Y: h, Z: h}, {X: -h, Y: h, Z: h},
	}
	indices := []int{
		4, 5, 6, 7, // +Z
		1, 0, 3, 2, // -Z
		5, 1, 2, 6, // +X
		0, 4, 7, 3, // -X
		7, 6, 2, 3, // +Y
		0, 1, 5, 4, // -Y
	}
	normals := []*geom.Vector3{{Z: 1}, {Z: -1}, {X: 1}, {X: -1}, {Y: 1}, {Y: -1}}
	uv := []*geom.Vector2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	normalIdx := make([]int, 24)
	uvIdx := make([]int, 24)
	for i := range normalIdx {
		normalIdx[i] = i / 4
		uvIdx[i] = i % 4
	}
	if _, err := st.DefineNode(p, scene.TypeMesh); err != nil {
		return "", err
	}
	attrs := []struct {
		name  string
		value any
	}{
		{scene.AttrPoints, points},
		{scene.AttrFaceVertexCounts, []int{4, 4, 4, 4, 4, 4}},
		{scene.AttrFaceVertexIndices, indices},
		{scene.AttrNormals, normals},
		{scene.AttrNormalIndices, normalIdx},
		{scene.AttrNormalInterp, "faceVarying"},
		{scene.AttrUV, uv},
		{scene.AttrUVIndices, uvIdx},
		{scene.AttrUVInterp, "faceVarying"},
		{scene.AttrDisplayColor, []*geom.Vector3{{X: 0.463, Y: 0.725}}},
		{scene.AttrExtent, scene.ComputeExtent(points)},
	}
	for _, a := range attrs {
		if err := st.SetAttr(p, a.name, a.value); err != nil {
			return "", err
		}
	}
	if err := st.SetTransform(p, scene.NewTransform()); err != nil {
		return "", err
	}
	if err := st.EnableRigidBody(p, nil); err != nil {
		return "", err
	}
	return p, st.EnableCollision(p, "convexHull")
}

func addMaterial(st *scene.Stage, world, boxPath scene.Path) error {
	looks := world.Child("Looks")
	if _, err := st.DefineScope(looks); err != nil {
		return err
	}
	mat := looks.Child("Fieldstone")
	if _, err := st.DefineMaterial(mat, &scene.MaterialParams{
		DiffuseTint:    &geom.Vector3{X: 1, Y: 0.1, Z: 0},
		Opacity:        1,
		Roughness:      0.5,
		DiffuseTexture: "./Materials/Fieldstone/Fieldstone_BaseColor.png",
		ORMTexture:     "./Materials/Fieldstone/Fieldstone_ORM.png",
		NormalTexture:  "./Materials/Fieldstone/Fieldstone_N.png",
	}); err != nil {
		return err
	}
	return st.BindMaterial(boxPath, mat)
}

func addDynamicCube(st *scene.Stage, world scene.Path) error {
	p := world.Child("cube")
	if _, err := st.DefineCube(p, 100); err != nil {
		return err
	}
	t := scene.NewTransform()
	t.Translate = geom.Vector3{X: 65, Y: 300, Z: 65}
	if err := st.SetTransform(p, t); err != nil {
		return err
	}
	if err := st.EnableRigidBody(p, nil); err != nil {
		return err
	}
	return st.EnableCollision(p, "convexHull")
}

func addGroundQuad(st *scene.Stage, world scene.Path) error {
	h := geom.Element(500)
	mesh := &scene.MeshData{
		Points:            []*geom.Vector3{{X: -h, Z: -h}, {X: h, Z: -h}, {X: h, Z: h}, {X: -h, Z: h}},
		FaceVertexCounts:  []int{4},
		FaceVertexIndices: []int{0, 3, 2, 1},
		Normals:           []*geom.Vector3{{Y: 1}, {Y: 1}, {Y: 1}, {Y: 1}},
		DisplayColor:      []*geom.Vector3{{X: 0.1, Y: 0.1, Z: 0.1}},
	}
	p := world.Child("quad")
	if _, err := st.DefineMesh(p, mesh); err != nil {
		return err
	}
	return st.EnableCollision(p, "none")
}

// addCylinders names the group "1Cylinders", which is not a valid node
// name, to show the sanitizer at work.
func addCylinders(st *scene.Stage, world scene.Path) error {
	group := world.Child(scene.ValidNodeName("1Cylinders")) // _1Cylinders
	if _, err := st.DefineXform(group); err != nil {
		return err
	}
	if err := st.SetKind(group, scene.KindGroup); err != nil {
		return err
	}
	for i := 0; i < 5; i++ {
		p := group.Child(fmt.Sprintf("cylinder_%d", i))
		if _, err := st.DefineCylinder(p, 25, 100, "Y"); err != nil {
			return err
		}
		t := scene.NewTransform()
		t.Translate = geom.Vector3{X: geom.Element(i)*150 - 300, Y: 50, Z: 400}
		if err := st.SetTransform(p, t); err != nil {
			return err
		}
	}
	return nil
}

func addLights(st *scene.Stage, world scene.Path) error {
	sun := world.Child("DistantLight")
	if _, err := st.DefineDistantLight(sun, 0.53, &geom.Vector3{X: 1, Y: 1, Z: 0.745}, 500); err != nil {
		return err
	}
	t := scene.NewTransform()
	t.Rotate = geom.Vector3{X: 139, Y: 44, Z: 190}
	if err := st.SetTransform(sun, t); err != nil {
		return err
	}
	dome := world.Child("DomeLight")
	if _, err := st.DefineDomeLight(dome, "./Materials/kloofendal_48d_partly_cloudy.hdr", "latlong", 900); err != nil {
		return err
	}
	t = scene.NewTransform()
	t.Rotate = geom.Vector3{X: 270, Y: 270}
	return st.SetTransform(dome, t)
}

func addCamera(st *scene.Stage, world scene.Path) error {
	p := world.Child("Camera")
	if _, err := st.DefineCamera(p, scene.CameraParams{
		FocalLength:        35,
		FocusDistance:      1000,
		FStop:              0.5,
		HorizontalAperture: 15,
		VerticalAperture:   15,
	}); err != nil {
		return err
	}
	t := scene.NewTransform()
	t.Translate = geom.Vector3{Y: 250, Z: 1200}
	return st.SetTransform(p, t)
}

// addSkelMesh builds a three-joint arm: a skinned tube mesh, the
// skeleton, and a looping bend animation keyed at frames 0/23/47.
func addSkelMesh(st *scene.Stage, world scene.Path) error {
	group := world.Child("skelMeshGroup")
	if _, err := st.DefineNode(group, scene.TypeSkelRoot); err != nil {
		return err
	}
	t := scene.NewTransform()
	t.Translate = geom.Vector3{Y: 200, Z: -400}
	if err := st.SetTransform(group, t); err != nil {
		return err
	}

	joints := []string{"Shoulder", "Shoulder/Elbow", "Shoulder/Elbow/Wrist"}
	bind := []*geom.Matrix4{
		geom.NewMatrix4(),
		geom.NewTranslateMatrix4(armBoneSize, 0, 0),
		geom.NewTranslateMatrix4(armBoneSize*2, 0, 0),
	}
	rest := []*geom.Matrix4{
		geom.NewMatrix4(),
		geom.NewTranslateMatrix4(armBoneSize, 0, 0),
		geom.NewTranslateMatrix4(armBoneSize, 0, 0),
	}
	skel := group.Child("skeleton")
	if _, err := st.DefineSkeleton(skel, joints, bind, rest); err != nil {
		return err
	}

	mesh := group.Child("mesh")
	jointIndices, weights, err := defineArmMesh(st, mesh)
	if err != nil {
		return err
	}
	if err := st.BindSkeleton(mesh, skel, jointIndices, weights, nil); err != nil {
		return err
	}

	anim := group.Child("animation")
	if _, err := st.DefineSkelAnimation(anim, joints); err != nil {
		return err
	}
	translates := []*geom.Vector3{{}, {X: armBoneSize}, {X: armBoneSize}}
	if err := st.SetAttr(anim, scene.AttrSkelAnimTranslates, translates); err != nil {
		return err
	}
	ones := []*geom.Vector3{{X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}}
	if err := st.SetAttr(anim, scene.AttrSkelAnimScales, ones); err != nil {
		return err
	}
	if err := st.SetAnimationSource(skel, anim); err != nil {
		return err
	}
	return setArmPose(st, anim, 45, 20)
}

// defineArmMesh authors the tube: four rings of four points along +X,
// each ring weighted fully to the nearest joint.
func defineArmMesh(st *scene.Stage, p scene.Path) ([]int, []float64, error) {
	corners := [][2]geom.Element{{-25, -25}, {25, -25}, {25, 25}, {-25, 25}}
	ringJoints := []int{0, 1, 2, 2}
	var points, normals []*geom.Vector3
	var jointIndices []int
	var weights []float64
	for ring := 0; ring < 4; ring++ {
		for _, c := range corners {
			points = append(points, &geom.Vector3{X: geom.Element(ring) * armBoneSize, Y: c[0], Z: c[1]})
			n := &geom.Vector3{Y: c[0], Z: c[1]}
			normals = append(normals, n.Normalize())
			jointIndices = append(jointIndices, ringJoints[ring])
			weights = append(weights, 1)
		}
	}
	var counts, indices []int
	for ring := 0; ring < 3; ring++ {
		a, b := ring*4, ring*4+4
		for c := 0; c < 4; c++ {
			cn := (c + 1) % 4
			counts = append(counts, 4)
			indices = append(indices, a+c, a+cn, b+cn, b+c)
		}
	}
	counts = append(counts, 4, 4)
	indices = append(indices, 3, 2, 1, 0) // -X cap
	indices = append(indices, 12, 13, 14, 15)
	mesh := &scene.MeshData{
		Points:            points,
		FaceVertexCounts:  counts,
		FaceVertexIndices: indices,
		Normals:           normals,
	}
	if _, err := st.DefineMesh(p, mesh); err != nil {
		return nil, nil, err
	}
	return jointIndices, weights, nil
}

// setArmPose keys the elbow and wrist: straight at frame 0, bent to the
// given angles at frame 23, straight again at frame 47.
func setArmPose(st *scene.Stage, anim scene.Path, elbowDeg, wristDeg float64) error {
	rotZ := func(deg float64) *geom.Quaternion {
		return geom.NewEuler(0, 0, geom.Element(deg*math.Pi/180), geom.RotationOrderXYZ).ToQuaternion()
	}
	keys := []struct {
		t            float64
		elbow, wrist float64
	}{{0, 0, 0}, {23, elbowDeg, wristDeg}, {47, 0, 0}}
	for _, k := range keys {
		rot := []*geom.Quaternion{{W: 1}, rotZ(k.elbow), rotZ(k.wrist)}
		if err := st.SetAttrAt(anim, scene.AttrSkelAnimRotations, k.t, rot); err != nil {
			return err
		}
	}
	return nil
}

// addReferences writes a small box asset next to the stage and brings
// it in twice: once as a reference, once as a payload.
func addReferences(ctx context.Context, cli *client.Client, st *scene.Stage, world scene.Path, dest string) error {
	asset := "./Props/Box/box" + scene.LayerExt
	if err := writeBoxAsset(ctx, cli, dest); err != nil {
		return err
	}
	ref := world.Child("referenceXform")
	if _, err := st.DefineXform(ref); err != nil {
		return err
	}
	if err := st.AddReference(ref, scene.Reference{Asset: asset}); err != nil {
		return err
	}
	t := scene.NewTransform()
	t.Translate = geom.Vector3{X: 300, Y: 100}
	t.Rotate = geom.Vector3{Y: 45}
	if err := st.SetTransform(ref, t); err != nil {
		return err
	}
	if err := st.EnableRigidBody(ref, &geom.Vector3{Y: 1000}); err != nil {
		return err
	}

	pay := world.Child("payloadXform")
	if _, err := st.DefineXform(pay); err != nil {
		return err
	}
	if err := st.AddReference(pay, scene.Reference{Asset: asset, Payload: true}); err != nil {
		return err
	}
	t = scene.NewTransform()
	t.Translate = geom.Vector3{X: -300, Y: 100}
	if err := st.SetTransform(pay, t); err != nil {
		return err
	}
	return st.EnableRigidBody(pay, &geom.Vector3{X: -1000})
}

func writeBoxAsset(ctx context.Context, cli *client.Client, dest string) error {
	for _, p := range []string{"Props", "Props/Box"} {
		url := client.CombineURL(dest+"/", p)
		if err := cli.CreateFolder(ctx, url); err != nil && !errors.Is(err, client.ErrAlreadyExists) {
			return err
		}
	}
	layer := scene.NewLayer()
	bst, err := scene.NewStage(layer, nil)
	if err != nil {
		return err
	}
	boxPath := scene.MakePath("Box")
	if _, err := bst.DefineCube(boxPath, 100); err != nil {
		return err
	}
	if err := bst.SetAttr(boxPath, scene.AttrDisplayColor, []*geom.Vector3{{X: 0.463, Y: 0.725}}); err != nil {
		return err
	}
	bst.SetDefaultNode("Box")
	var buf bytes.Buffer
	if err := layer.WriteLayer(&buf); err != nil {
		return err
	}
	url := client.CombineURL(dest+"/", "Props/Box/box"+scene.LayerExt)
	return cli.WriteFile(ctx, url, buf.Bytes(), "box asset")
}

// uploadMaterials mirrors a local asset folder to <dest>/Materials.
func uploadMaterials(ctx context.Context, cli *client.Client, dir, dest string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		url := client.CombineURL(dest+"/", path.Join("Materials", filepath.ToSlash(rel)))
		if d.IsDir() {
			if err := cli.CreateFolder(ctx, url); err != nil && !errors.Is(err, client.ErrAlreadyExists) {
				return err
			}
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return cli.WriteFile(ctx, url, b, "")
	})
}
