package converter

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/scene"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"github.com/blezek/tga"
	_ "github.com/oov/psd"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

const cylinderSegments = 24

type GLTFOption struct {
	Scale      float32 // Default: root layer metersPerUnit
	ForceUnlit bool
	TimeCode   *float64 // nil: default time

	// Textures are read by name via OpenTexture, or from TextureDir when
	// OpenTexture is nil.
	TextureDir             string
	OpenTexture            func(name string) (io.ReadCloser, error)
	TextureReCompress      bool
	TextureBytesThreshold  int64 // 0: unlimited
	TextureResolutionLimit int   // 0: unlimited
	TextureScale           float32
}

type stageToGltf struct {
	*GLTFOption
	*gltf.Document
	stage     *scene.Stage
	textures  *textureCache
	materials map[scene.Path]*uint32
	colorMats map[[4]float32]*uint32
	skins     map[scene.Path]*skinCache
	useUnlit  bool
}

type textureCache struct {
	open     func(name string) (io.ReadCloser, error)
	textures map[string]*textureInfo
}

type textureInfo struct {
	name string
	id   *uint32
	data []byte
	img  image.Image
	err  error
}

type skinCache struct {
	skel   *scene.Node
	node   uint32   // the skeleton's own node
	joints []uint32 // node per joint, in authoring order
	id     *uint32
}

// meshAttrs is the raw mesh geometry with primvar interpolations resolved.
type meshAttrs struct {
	points       []*geom.Vector3
	counts       []int
	indices      []int
	normals      []*geom.Vector3
	normalIdx    []int
	normalInterp string
	uv           []*geom.Vector2
	uvIdx        []int
	uvInterp     string
}

func (c *textureCache) get(name string) *textureInfo {
	if t, ok := c.textures[name]; ok {
		return t
	}
	t := &textureInfo{name: name}
	c.textures[name] = t
	return t
}

func (c *textureCache) getData(name string) ([]byte, error) {
	t := c.get(name)
	if t.data != nil || t.err != nil {
		return t.data, t.err
	}
	r, err := c.open(t.name)
	if err != nil {
		t.err = err
		return nil, err
	}
	defer r.Close()
	t.data, t.err = io.ReadAll(r)
	return t.data, t.err
}

func (c *textureCache) getImage(name string) (image.Image, error) {
	t := c.get(name)
	if t.img != nil || t.err != nil {
		return t.img, t.err
	}
	data, err := c.getData(name)
	if err != nil {
		return nil, err
	}
	t.img, _, t.err = image.Decode(bytes.NewReader(data))
	if t.err != nil && strings.ToLower(path.Ext(t.name)) == ".tga" {
		// retry
		t.img, t.err = tga.Decode(bytes.NewReader(data))
	}
	return t.img, t.err
}

// StageToGLTF converts the composed stage into a glTF document. Meshes,
// Cube and Cylinder nodes become mesh primitives, material bindings become
// PBR materials and skeleton bindings become skins.
func StageToGLTF(st *scene.Stage, options *GLTFOption) (*gltf.Document, error) {
	return newStageToGltf(options).Convert(st)
}

// SaveGLB converts the stage and writes it as a binary glTF file.
func SaveGLB(st *scene.Stage, fpath string, options *GLTFOption) error {
	doc, err := StageToGLTF(st, options)
	if err != nil {
		return err
	}
	return gltf.SaveBinary(doc, fpath)
}

func newStageToGltf(options *GLTFOption) *stageToGltf {
	if options == nil {
		options = &GLTFOption{}
	}
	if options.TextureScale == 0 {
		options.TextureScale = 1.0
	}
	return &stageToGltf{
		GLTFOption: options,
		Document:   gltf.NewDocument(),
		materials:  map[scene.Path]*uint32{},
		colorMats:  map[[4]float32]*uint32{},
		skins:      map[scene.Path]*skinCache{},
	}
}

func (m *stageToGltf) Convert(st *scene.Stage) (*gltf.Document, error) {
	m.stage = st
	open := m.OpenTexture
	if open == nil {
		dir := m.TextureDir
		open = func(name string) (io.ReadCloser, error) {
			return os.Open(filepath.Join(dir, filepath.FromSlash(name)))
		}
	}
	m.textures = &textureCache{open: open, textures: map[string]*textureInfo{}}

	var rootNodes []uint32
	for _, c := range st.PseudoRoot().Children() {
		if !c.Active() {
			continue
		}
		if id, ok := m.addNode(c); ok {
			rootNodes = append(rootNodes, id)
		}
	}

	scale := m.Scale
	if scale == 0 {
		scale = 1
		if mpu := st.Root.MetersPerUnit; mpu > 0 {
			scale = float32(mpu)
		}
	}
	zUp := st.Root.UpAxis == "Z"
	if scale != 1 || zUp {
		// glTF is Y-up in meters. Apply the unit scale and up axis on a
		// wrapper node instead of rewriting every vertex.
		root := &gltf.Node{
			Name:     "Root",
			Rotation: [4]float32{0, 0, 0, 1},
			Scale:    [3]float32{scale, scale, scale},
			Children: rootNodes,
		}
		if zUp {
			s := float32(math.Sqrt2 / 2)
			root.Rotation = [4]float32{-s, 0, 0, s}
		}
		m.Nodes = append(m.Nodes, root)
		rootNodes = []uint32{uint32(len(m.Nodes) - 1)}
	}
	m.Scenes[0].Nodes = rootNodes

	if m.useUnlit {
		m.ExtensionsUsed = append(m.ExtensionsUsed, "KHR_materials_unlit")
	}
	if len(m.Document.Textures) > 0 {
		m.Document.Samplers = []*gltf.Sampler{{}}
	}
	return m.Document, nil
}

func (m *stageToGltf) attr(n *scene.Node, name string) (any, bool) {
	if m.TimeCode != nil {
		return n.AttrAt(name, *m.TimeCode)
	}
	return n.Attr(name)
}

func (m *stageToGltf) attrFloat(n *scene.Node, name string, def float64) float64 {
	if v, ok := m.attr(n, name); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func (m *stageToGltf) attrString(n *scene.Node, name string) string {
	if v, ok := m.attr(n, name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (m *stageToGltf) addNode(n *scene.Node) (uint32, bool) {
	switch n.Type() {
	case scene.TypeMaterial, scene.TypeSkelAnimation, scene.TypePhysicsScene:
		return 0, false
	}
	node := &gltf.Node{Name: n.Name()}
	var lm *geom.Matrix4
	if m.TimeCode != nil {
		lm = n.LocalMatrixAt(*m.TimeCode)
	} else {
		lm = n.LocalMatrix()
	}
	if *lm != *geom.NewMatrix4() {
		t, r, s := lm.Decompose()
		node.Translation = [3]float32{t.X, t.Y, t.Z}
		node.Rotation = [4]float32{r.X, r.Y, r.Z, r.W}
		node.Scale = [3]float32{s.X, s.Y, s.Z}
	}
	id := uint32(len(m.Nodes))
	m.Nodes = append(m.Nodes, node)

	switch n.Type() {
	case scene.TypeMesh:
		if md := m.readMeshAttrs(n); md != nil {
			m.attachMesh(node, n, md)
		}
	case scene.TypeCube:
		m.attachMesh(node, n, cubeMesh(float32(m.attrFloat(n, scene.AttrSize, 2))))
	case scene.TypeCylinder:
		r := float32(m.attrFloat(n, scene.AttrRadius, 1))
		h := float32(m.attrFloat(n, scene.AttrHeight, 2))
		axis := m.attrString(n, scene.AttrAxis)
		m.attachMesh(node, n, cylinderMesh(r, h, axis))
	case scene.TypeSkeleton:
		m.addJoints(n, id)
	}

	for _, c := range n.Children() {
		if !c.Active() {
			continue
		}
		if ci, ok := m.addNode(c); ok {
			node.Children = append(node.Children, ci)
		}
	}
	return id, true
}

func (m *stageToGltf) attachMesh(node *gltf.Node, n *scene.Node, md *meshAttrs) {
	if md == nil {
		return
	}
	mesh, skin := m.convertMesh(n, md)
	if mesh == nil {
		return
	}
	node.Mesh = gltf.Index(uint32(len(m.Document.Meshes)))
	m.Document.Meshes = append(m.Document.Meshes, mesh)
	node.Skin = skin
}

func (m *stageToGltf) readMeshAttrs(n *scene.Node) *meshAttrs {
	md := &meshAttrs{normalInterp: "vertex", uvInterp: "faceVarying"}
	if v, ok := m.attr(n, scene.AttrPoints); ok {
		md.points, _ = v.([]*geom.Vector3)
	}
	if len(md.points) == 0 {
		return nil
	}
	if v, ok := m.attr(n, scene.AttrFaceVertexCounts); ok {
		md.counts, _ = v.([]int)
	}
	if v, ok := m.attr(n, scene.AttrFaceVertexIndices); ok {
		md.indices, _ = v.([]int)
	}
	if v, ok := m.attr(n, scene.AttrNormals); ok {
		md.normals, _ = v.([]*geom.Vector3)
	}
	if v, ok := m.attr(n, scene.AttrNormalIndices); ok {
		md.normalIdx, _ = v.([]int)
	}
	if s := m.attrString(n, scene.AttrNormalInterp); s != "" {
		md.normalInterp = s
	}
	if v, ok := m.attr(n, scene.AttrUV); ok {
		md.uv, _ = v.([]*geom.Vector2)
	}
	if v, ok := m.attr(n, scene.AttrUVIndices); ok {
		md.uvIdx, _ = v.([]int)
	}
	if s := m.attrString(n, scene.AttrUVInterp); s != "" {
		md.uvInterp = s
	}
	return md
}

// valueIndex resolves a primvar value index for one face corner. corner is
// the flattened corner position, point the vertex index it references.
func valueIndex(idx []int, interp string, corner, point, n int) int {
	i := corner
	if interp == "vertex" {
		i = point
	}
	if len(idx) > 0 {
		if i < len(idx) {
			i = idx[i]
		} else {
			i = 0
		}
	}
	if i < 0 || i >= n {
		return 0
	}
	return i
}

func (md *meshAttrs) uvIndex(corner, point int) int {
	return valueIndex(md.uvIdx, md.uvInterp, corner, point, len(md.uv))
}

func (md *meshAttrs) normalIndex(corner, point int) int {
	return valueIndex(md.normalIdx, md.normalInterp, corner, point, len(md.normals))
}

func (m *stageToGltf) convertMesh(n *scene.Node, md *meshAttrs) (*gltf.Mesh, *uint32) {
	if v, ok := m.attr(n, scene.AttrSkelGeomBindform); ok {
		if mat, ok := v.(*geom.Matrix4); ok && *mat != *geom.NewMatrix4() {
			md.bakeTransform(mat)
		}
	}
	if len(md.normals) == 0 {
		md.normals = smoothNormals(md)
		md.normalIdx = nil
		md.normalInterp = "vertex"
	}

	joints0, weights0 := m.getWeights(n, len(md.points))
	useUV := len(md.uv) > 0

	type corner struct{ p, uv, n int }
	vertMap := map[corner]uint32{}
	var positions [][3]float32
	var texcood0 [][2]float32
	var normals [][3]float32
	var outJoints [][4]uint16
	var outWeights [][4]float32
	var indices []uint32

	vertexFor := func(c corner) uint32 {
		if v, ok := vertMap[c]; ok {
			return v
		}
		v := uint32(len(positions))
		vertMap[c] = v
		p := md.points[c.p]
		positions = append(positions, [3]float32{p.X, p.Y, p.Z})
		if useUV {
			uv := md.uv[c.uv]
			texcood0 = append(texcood0, [2]float32{uv.X, uv.Y})
		}
		nn := md.normals[c.n]
		normals = append(normals, [3]float32{nn.X, nn.Y, nn.Z})
		if joints0 != nil {
			outJoints = append(outJoints, joints0[c.p])
			outWeights = append(outWeights, weights0[c.p])
		}
		return v
	}

	offset := 0
	for _, count := range md.counts {
		if offset+count > len(md.indices) {
			break
		}
		if count >= 3 && validFace(md, offset, count) {
			corners := make([]corner, count)
			for i := 0; i < count; i++ {
				ci := offset + i
				pi := md.indices[ci]
				corners[i] = corner{p: pi, uv: md.uvIndex(ci, pi), n: md.normalIndex(ci, pi)}
			}
			if count == 3 {
				indices = append(indices, vertexFor(corners[0]), vertexFor(corners[1]), vertexFor(corners[2]))
			} else {
				poly := make([]*geom.Vector3, count)
				for i, c := range corners {
					poly[i] = md.points[c.p]
				}
				for _, t := range geom.Triangulate(poly) {
					indices = append(indices, vertexFor(corners[t[0]]), vertexFor(corners[t[1]]), vertexFor(corners[t[2]]))
				}
			}
		}
		offset += count
	}
	if len(indices) == 0 {
		return nil, nil
	}

	attributes := map[string]uint32{
		"POSITION": modeler.WritePosition(m.Document, positions),
		"NORMAL":   modeler.WriteNormal(m.Document, normals),
	}
	if useUV {
		attributes["TEXCOORD_0"] = modeler.WriteTextureCoord(m.Document, texcood0)
	}
	var skin *uint32
	if joints0 != nil {
		attributes["JOINTS_0"] = modeler.WriteJoints(m.Document, outJoints)
		attributes["WEIGHTS_0"] = modeler.WriteWeights(m.Document, outWeights)
		if v, ok := m.attr(n, scene.AttrSkelSkeleton); ok {
			if p, ok := v.(scene.Path); ok {
				skin = m.skinFor(p)
			}
		}
	}

	prim := &gltf.Primitive{
		Indices:    gltf.Index(modeler.WriteIndices(m.Document, indices)),
		Attributes: attributes,
		Material:   m.materialFor(n),
	}
	return &gltf.Mesh{Name: n.Name(), Primitives: []*gltf.Primitive{prim}}, skin
}

func validFace(md *meshAttrs, offset, count int) bool {
	for i := 0; i < count; i++ {
		if pi := md.indices[offset+i]; pi < 0 || pi >= len(md.points) {
			return false
		}
	}
	return true
}

func (md *meshAttrs) bakeTransform(mat *geom.Matrix4) {
	points := make([]*geom.Vector3, len(md.points))
	for i, p := range md.points {
		points[i] = mat.ApplyTo(p)
	}
	md.points = points
	if len(md.normals) > 0 {
		rot := *mat
		rot[12], rot[13], rot[14] = 0, 0, 0
		normals := make([]*geom.Vector3, len(md.normals))
		for i, nm := range md.normals {
			normals[i] = rot.ApplyTo(nm).Normalize()
		}
		md.normals = normals
	}
}

// smoothNormals accumulates Newell face normals per vertex.
func smoothNormals(md *meshAttrs) []*geom.Vector3 {
	normals := make([]*geom.Vector3, len(md.points))
	for i := range normals {
		normals[i] = &geom.Vector3{}
	}
	offset := 0
	for _, count := range md.counts {
		if offset+count > len(md.indices) {
			break
		}
		if count >= 3 && validFace(md, offset, count) {
			var fn geom.Vector3
			for i := 0; i < count; i++ {
				a := md.points[md.indices[offset+i]]
				b := md.points[md.indices[offset+(i+1)%count]]
				fn.X += (a.Y - b.Y) * (a.Z + b.Z)
				fn.Y += (a.Z - b.Z) * (a.X + b.X)
				fn.Z += (a.X - b.X) * (a.Y + b.Y)
			}
			for i := 0; i < count; i++ {
				v := normals[md.indices[offset+i]]
				*v = *v.Add(&fn)
			}
		}
		offset += count
	}
	for _, v := range normals {
		if v.LenSqr() > 0 {
			v.Normalize()
		} else {
			v.Y = 1
		}
	}
	return normals
}

// getWeights reads the skinning primvars and packs them into at most four
// influences per vertex.
func (m *stageToGltf) getWeights(n *scene.Node, points int) ([][4]uint16, [][4]float32) {
	vi, ok1 := m.attr(n, scene.AttrSkelJointIndices)
	vw, ok2 := m.attr(n, scene.AttrSkelJointWeights)
	if !ok1 || !ok2 {
		return nil, nil
	}
	ji, _ := vi.([]int)
	jw, _ := vw.([]float64)
	if points == 0 || len(ji) == 0 || len(ji) != len(jw) || len(ji)%points != 0 {
		slog.Warn("invalid joint weights", "node", n.Path(), "indices", len(ji), "weights", len(jw))
		return nil, nil
	}
	es := len(ji) / points
	joints := make([][4]uint16, points)
	weights := make([][4]float32, points)
	for p := 0; p < points; p++ {
		slot := 0
		for e := 0; e < es; e++ {
			w := float32(jw[p*es+e])
			if w <= 0 {
				continue
			}
			j := uint16(ji[p*es+e])
			if slot < 4 {
				joints[p][slot] = j
				weights[p][slot] = w
				slot++
				continue
			}
			// Overwrite the smallest weight.
			min := 0
			for i := 1; i < 4; i++ {
				if weights[p][i] < weights[p][min] {
					min = i
				}
			}
			if weights[p][min] < w {
				joints[p][min] = j
				weights[p][min] = w
			}
		}
		if es > 4 {
			var sum float32
			for _, w := range weights[p] {
				sum += w
			}
			if sum > 0 {
				for i := range weights[p] {
					weights[p][i] /= sum
				}
			}
		}
	}
	return joints, weights
}

func (m *stageToGltf) addJoints(n *scene.Node, skelNode uint32) {
	var joints []string
	var rest []*geom.Matrix4
	if v, ok := m.attr(n, scene.AttrSkelJoints); ok {
		joints, _ = v.([]string)
	}
	if v, ok := m.attr(n, scene.AttrSkelRestTransforms); ok {
		rest, _ = v.([]*geom.Matrix4)
	}
	sc := &skinCache{skel: n, node: skelNode}
	idx := map[string]uint32{}
	for i, jp := range joints {
		node := &gltf.Node{Name: jp, Rotation: [4]float32{0, 0, 0, 1}}
		if p := strings.LastIndex(jp, "/"); p >= 0 {
			node.Name = jp[p+1:]
		}
		if i < len(rest) && rest[i] != nil {
			t, r, s := rest[i].Decompose()
			node.Translation = [3]float32{t.X, t.Y, t.Z}
			node.Rotation = [4]float32{r.X, r.Y, r.Z, r.W}
			node.Scale = [3]float32{s.X, s.Y, s.Z}
		}
		id := uint32(len(m.Nodes))
		m.Nodes = append(m.Nodes, node)
		idx[jp] = id
		sc.joints = append(sc.joints, id)
		parent := skelNode
		if p := strings.LastIndex(jp, "/"); p >= 0 {
			if pid, ok := idx[jp[:p]]; ok {
				parent = pid
			}
		}
		m.Nodes[parent].Children = append(m.Nodes[parent].Children, id)
	}
	m.skins[n.Path()] = sc
}

func (m *stageToGltf) skinFor(p scene.Path) *uint32 {
	sc := m.skins[p]
	if sc == nil {
		slog.Warn("skeleton not found", "path", p)
		return nil
	}
	if sc.id != nil {
		return sc.id
	}
	var binds []*geom.Matrix4
	if v, ok := m.attr(sc.skel, scene.AttrSkelBindTransforms); ok {
		binds, _ = v.([]*geom.Matrix4)
	}
	invmats := make([]*geom.Matrix4, len(sc.joints))
	for i := range sc.joints {
		if i < len(binds) && binds[i] != nil {
			invmats[i] = binds[i].Inverse()
		} else {
			invmats[i] = geom.NewMatrix4()
		}
	}
	m.Skins = append(m.Skins, &gltf.Skin{
		Name:                p.Name(),
		Joints:              sc.joints,
		Skeleton:            gltf.Index(sc.node),
		InverseBindMatrices: gltf.Index(m.addMatrices(invmats)),
	})
	sc.id = gltf.Index(uint32(len(m.Skins) - 1))
	return sc.id
}

func (m *stageToGltf) addMatrices(mats []*geom.Matrix4) uint32 {
	a := make([][4]float32, len(mats)*4)
	for i, mat := range mats {
		var f [16]geom.Element
		mat.ToArray(f[:])
		copy(a[i*4+0][:], f[0:4])
		copy(a[i*4+1][:], f[4:8])
		copy(a[i*4+2][:], f[8:12])
		copy(a[i*4+3][:], f[12:16])
	}
	acc := modeler.WriteTangent(m.Document, a)
	m.Accessors[acc].Type = gltf.AccessorMat4
	m.Accessors[acc].Count /= 4
	m.BufferViews[*m.Accessors[acc].BufferView].ByteStride *= 4
	return acc
}

func (m *stageToGltf) materialFor(n *scene.Node) *uint32 {
	if v, ok := m.attr(n, scene.AttrMaterialBinding); ok {
		if p, ok := v.(scene.Path); ok {
			if id, ok := m.materials[p]; ok {
				return id
			}
			var id *uint32
			if mat, ok := m.stage.GetNodeAtPath(p); ok && mat.Type() == scene.TypeMaterial {
				mm := m.convertMaterial(mat)
				m.Document.Materials = append(m.Document.Materials, mm)
				id = gltf.Index(uint32(len(m.Document.Materials) - 1))
			} else {
				slog.Warn("material not found", "path", p)
			}
			m.materials[p] = id
			return id
		}
	}
	if v, ok := m.attr(n, scene.AttrDisplayColor); ok {
		if c, ok := v.([]*geom.Vector3); ok && len(c) > 0 {
			return m.colorMaterial([4]float32{c[0].X, c[0].Y, c[0].Z, 1})
		}
	}
	return nil
}

func (m *stageToGltf) colorMaterial(c [4]float32) *uint32 {
	if id, ok := m.colorMats[c]; ok {
		return id
	}
	color4 := c
	rf := float32(0.5)
	mf := float32(0)
	m.Document.Materials = append(m.Document.Materials, &gltf.Material{
		Name: "displayColor",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &color4,
			RoughnessFactor: &rf,
			MetallicFactor:  &mf,
		},
	})
	id := gltf.Index(uint32(len(m.Document.Materials) - 1))
	m.colorMats[c] = id
	return id
}

func (m *stageToGltf) convertMaterial(mat *scene.Node) *gltf.Material {
	var unlitMaterialExt = "KHR_materials_unlit"
	color4 := [4]float32{1, 1, 1, 1}
	if v, ok := m.attr(mat, scene.AttrDiffuseColor); ok {
		if c, ok := v.(*geom.Vector3); ok {
			color4[0], color4[1], color4[2] = c.X, c.Y, c.Z
		}
	}
	color4[3] = float32(m.attrFloat(mat, scene.AttrOpacity, 1))
	rf := float32(m.attrFloat(mat, scene.AttrRoughness, 0.5))
	mf := float32(m.attrFloat(mat, scene.AttrMetallic, 0))
	mm := &gltf.Material{
		Name: mat.Name(),
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &color4,
			RoughnessFactor: &rf,
			MetallicFactor:  &mf,
		},
	}
	texture := m.attrString(mat, scene.AttrDiffuseTexture)
	if color4[3] < 0.99 || m.hasAlpha(texture) {
		mm.AlphaMode = gltf.AlphaBlend
	}
	if m.ForceUnlit {
		mm.Extensions = map[string]interface{}{unlitMaterialExt: map[string]string{}}
		m.useUnlit = true
	}
	if texture != "" {
		if tex, err := m.addTexture(texture); err == nil {
			mm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{
				Index: *tex,
			}
		} else {
			slog.Warn("texture read failed", "texture", texture, "error", err)
		}
	}
	if normalTex := m.attrString(mat, scene.AttrNormalTexture); normalTex != "" {
		if tex, err := m.addTexture(normalTex); err == nil {
			mm.NormalTexture = &gltf.NormalTexture{
				Index: tex,
			}
		} else {
			slog.Warn("texture read failed", "texture", normalTex, "error", err)
		}
	}
	return mm
}

func (m *stageToGltf) hasAlpha(texture string) bool {
	if texture == "" || strings.HasSuffix(texture, ".jpg") || strings.HasSuffix(texture, ".bmp") {
		return false
	}
	img, err := m.textures.getImage(texture)
	if err != nil {
		return false
	}
	switch img.ColorModel() {
	case color.YCbCrModel, color.CMYKModel:
		return false
	case color.RGBAModel:
		return !img.(*image.RGBA).Opaque()
	}
	return false
}

func (m *stageToGltf) addTexture(texture string) (*uint32, error) {
	t := m.textures.get(texture)
	if t.id != nil {
		return t.id, nil
	}
	data, err := m.textures.getData(texture)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(path.Ext(texture))

	encode := m.TextureReCompress
	if m.TextureBytesThreshold > 0 && int64(len(data)) > m.TextureBytesThreshold {
		encode = true
	}

	var mimeType string
	if ext == ".jpg" || ext == ".jpeg" {
		mimeType = "image/jpeg"
	} else if ext == ".png" {
		mimeType = "image/png"
	} else {
		mimeType = "image/png"
		encode = true
	}

	var r io.Reader
	if encode {
		r2, err := m.scaleTexture(texture, mimeType)
		if err != nil {
			return nil, err
		}
		r = r2
	} else {
		r = bytes.NewReader(data)
	}
	img, err := modeler.WriteImage(m.Document, path.Base(texture), mimeType, r)
	if err != nil {
		return nil, err
	}
	m.Buffers[0].ByteLength = uint32(len(m.Buffers[0].Data)) // avoid AddImage bug
	m.Textures = append(m.Textures,
		&gltf.Texture{Sampler: gltf.Index(0), Source: gltf.Index(img)})

	t.id = gltf.Index(uint32(len(m.Textures)) - 1)

	return t.id, nil
}

func (m *stageToGltf) scaleTexture(texture string, mime string) (io.Reader, error) {
	img, err := m.textures.getImage(texture)
	if err != nil {
		return nil, err
	}
	rect := img.Bounds()

	scale := m.TextureScale
	if limit := m.TextureResolutionLimit; limit > 0 {
		sz := int(float32(rect.Dx()) * scale)
		if sz > limit {
			scale *= float32(limit) / float32(sz)
		}
	}

	if scale != 1.0 {
		dst := image.NewRGBA(image.Rect(0, 0, int(float32(rect.Dx())*scale), int(float32(rect.Dy())*scale)))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, rect, draw.Over, nil)
		img = dst
	}

	w := new(bytes.Buffer)
	if mime == "image/png" {
		err = png.Encode(w, img)
	} else {
		err = jpeg.Encode(w, img, nil)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func cubeMesh(size float32) *meshAttrs {
	h := size / 2
	return &meshAttrs{
		points: []*geom.Vector3{
			{X: -h, Y: -h, Z: -h}, {X: h, Y: -h, Z: -h}, {X: h, Y: h, Z: -h}, {X: -h, Y: h, Z: -h},
			{X: -h, Y: -h, Z: h}, {X: h, Y: -h, Z: h}, {X: h, Y: h, Z: h}, {X: -h, Y: h, Z: h},
		},
		counts: []int{4, 4, 4, 4, 4, 4},
		indices: []int{
			4, 5, 6, 7, // +Z
			1, 0, 3, 2, // -Z
			5, 1, 2, 6, // +X
			0, 4, 7, 3, // -X
			7, 6, 2, 3, // +Y
			0, 1, 5, 4, // -Y
		},
		normals: []*geom.Vector3{
			{Z: 1}, {Z: -1}, {X: 1}, {X: -1}, {Y: 1}, {Y: -1},
		},
		normalIdx: []int{
			0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
			3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5,
		},
		normalInterp: "faceVarying",
	}
}

func cylinderMesh(radius, height float32, axis string) *meshAttrs {
	n := cylinderSegments
	h := height / 2
	md := &meshAttrs{normalInterp: "faceVarying"}
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		c, s := float32(math.Cos(a)), float32(math.Sin(a))
		md.points = append(md.points, &geom.Vector3{X: radius * c, Y: -h, Z: radius * s})
		md.normals = append(md.normals, &geom.Vector3{X: c, Z: s})
	}
	for i := 0; i < n; i++ {
		p := *md.points[i]
		p.Y = h
		md.points = append(md.points, &p)
	}
	bc := len(md.points)
	md.points = append(md.points, &geom.Vector3{Y: -h}, &geom.Vector3{Y: h})
	up, down := n, n+1
	md.normals = append(md.normals, &geom.Vector3{Y: 1}, &geom.Vector3{Y: -1})

	for i := 0; i < n; i++ {
		j := (i + 1) % n
		md.counts = append(md.counts, 4)
		md.indices = append(md.indices, i, n+i, n+j, j)
		md.normalIdx = append(md.normalIdx, i, i, j, j)
	}
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		md.counts = append(md.counts, 3)
		md.indices = append(md.indices, bc+1, n+j, n+i)
		md.normalIdx = append(md.normalIdx, up, up, up)
	}
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		md.counts = append(md.counts, 3)
		md.indices = append(md.indices, bc, i, j)
		md.normalIdx = append(md.normalIdx, down, down, down)
	}

	var swap func(p *geom.Vector3)
	switch axis {
	case "X":
		swap = func(p *geom.Vector3) { p.X, p.Y, p.Z = p.Y, p.Z, p.X }
	case "Z":
		swap = func(p *geom.Vector3) { p.X, p.Y, p.Z = p.Z, p.X, p.Y }
	}
	if swap != nil {
		for _, p := range md.points {
			swap(p)
		}
		for _, p := range md.normals {
			swap(p)
		}
	}
	return md
}
