package scene

import (
	"github.com/binzume/scenesync/geom"
)

// Node types understood by the converters and the sample tools. A layer
// may carry any other type; these are just the shared vocabulary.
const (
	TypeXform         = "Xform"
	TypeScope         = "Scope"
	TypeMesh          = "Mesh"
	TypeCube          = "Cube"
	TypeCylinder      = "Cylinder"
	TypeCamera        = "Camera"
	TypeDistantLight  = "DistantLight"
	TypeDomeLight     = "DomeLight"
	TypeMaterial      = "Material"
	TypeSkelRoot      = "SkelRoot"
	TypeSkeleton      = "Skeleton"
	TypeSkelAnimation = "SkelAnimation"
	TypePhysicsScene  = "PhysicsScene"
)

const (
	KindComponent = "component"
	KindGroup     = "group"
	KindAssembly  = "assembly"
)

const (
	AttrPoints            = "points"
	AttrNormals           = "normals"
	AttrNormalIndices     = "normals:indices"
	AttrNormalInterp      = "normals:interpolation"
	AttrFaceVertexCounts  = "faceVertexCounts"
	AttrFaceVertexIndices = "faceVertexIndices"
	AttrUV                = "primvars:st"
	AttrUVIndices         = "primvars:st:indices"
	AttrUVInterp          = "primvars:st:interpolation"
	AttrDisplayColor      = "primvars:displayColor"
	AttrExtent            = "extent"
	AttrSize              = "size"   // Cube
	AttrRadius            = "radius" // Cylinder
	AttrHeight            = "height"
	AttrAxis              = "axis"

	AttrFocalLength        = "focalLength"
	AttrFocusDistance      = "focusDistance"
	AttrFStop              = "fStop"
	AttrHorizontalAperture = "horizontalAperture"
	AttrVerticalAperture   = "verticalAperture"

	AttrLightAngle         = "inputs:angle"
	AttrLightColor         = "inputs:color"
	AttrLightIntensity     = "inputs:intensity"
	AttrLightTexture       = "inputs:texture:file"
	AttrLightTextureFormat = "inputs:texture:format"

	AttrDiffuseColor   = "inputs:diffuseColor"
	AttrDiffuseTint    = "inputs:diffuseTint"
	AttrOpacity        = "inputs:opacity"
	AttrRoughness      = "inputs:roughness"
	AttrMetallic       = "inputs:metallic"
	AttrDiffuseTexture = "inputs:diffuseTexture"
	AttrORMTexture     = "inputs:ormTexture"
	AttrNormalTexture  = "inputs:normalTexture"

	AttrMaterialBinding = "material:binding"

	AttrSkelSkeleton        = "skel:skeleton"
	AttrSkelAnimationSource = "skel:animationSource"
	AttrSkelJoints          = "skel:joints"
	AttrSkelJointIndices    = "skel:jointIndices"
	AttrSkelJointWeights    = "skel:jointWeights"
	AttrSkelGeomBindform    = "skel:geomBindTransform"
	AttrSkelBindTransforms  = "skel:bindTransforms"
	AttrSkelRestTransforms  = "skel:restTransforms"
	AttrSkelAnimJoints      = "joints"
	AttrSkelAnimRotations   = "rotations"
	AttrSkelAnimTranslates  = "translations"
	AttrSkelAnimScales      = "scales"

	AttrGravityDirection = "physics:gravityDirection"
	AttrGravityMagnitude = "physics:gravityMagnitude"
	AttrRigidBodyEnabled = "physics:rigidBodyEnabled"
	AttrCollisionEnabled = "physics:collisionEnabled"
	AttrApproximation    = "physics:approximation"
	AttrVelocity         = "physics:velocity"
	AttrAngularVelocity  = "physics:angularVelocity"
)

type MeshData struct {
	Points            []*geom.Vector3
	FaceVertexCounts  []int
	FaceVertexIndices []int
	Normals           []*geom.Vector3 // vertex interpolation
	NormalIndices     []int
	UV                []*geom.Vector2 // faceVarying interpolation
	UVIndices         []int
	DisplayColor      []*geom.Vector3
}

// ComputeExtent returns the axis aligned bounds of points as [min, max].
func ComputeExtent(points []*geom.Vector3) []*geom.Vector3 {
	if len(points) == 0 {
		return []*geom.Vector3{{}, {}}
	}
	min := *points[0]
	max := *points[0]
	for _, p := range points[1:] {
		min = *min.Min(p)
		max = *max.Max(p)
	}
	return []*geom.Vector3{&min, &max}
}

func (st *Stage) DefineXform(path Path) (*Node, error) {
	return st.DefineNode(path, TypeXform)
}

func (st *Stage) DefineScope(path Path) (*Node, error) {
	return st.DefineNode(path, TypeScope)
}

// DefineMesh authors a polygon mesh with its extent.
func (st *Stage) DefineMesh(path Path, mesh *MeshData) (*Node, error) {
	n, err := st.DefineNode(path, TypeMesh)
	if err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrPoints, mesh.Points); err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrFaceVertexCounts, mesh.FaceVertexCounts); err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrFaceVertexIndices, mesh.FaceVertexIndices); err != nil {
		return nil, err
	}
	if len(mesh.Normals) > 0 {
		if err := st.SetAttr(path, AttrNormals, mesh.Normals); err != nil {
			return nil, err
		}
		if err := st.SetAttr(path, AttrNormalInterp, "vertex"); err != nil {
			return nil, err
		}
		if len(mesh.NormalIndices) > 0 {
			if err := st.SetAttr(path, AttrNormalIndices, mesh.NormalIndices); err != nil {
				return nil, err
			}
		}
	}
	if len(mesh.UV) > 0 {
		if err := st.SetAttr(path, AttrUV, mesh.UV); err != nil {
			return nil, err
		}
		if err := st.SetAttr(path, AttrUVInterp, "faceVarying"); err != nil {
			return nil, err
		}
		if len(mesh.UVIndices) > 0 {
			if err := st.SetAttr(path, AttrUVIndices, mesh.UVIndices); err != nil {
				return nil, err
			}
		}
	}
	if len(mesh.DisplayColor) > 0 {
		if err := st.SetAttr(path, AttrDisplayColor, mesh.DisplayColor); err != nil {
			return nil, err
		}
	}
	if err := st.SetAttr(path, AttrExtent, ComputeExtent(mesh.Points)); err != nil {
		return nil, err
	}
	return n, nil
}

func (st *Stage) DefineCube(path Path, size float64) (*Node, error) {
	n, err := st.DefineNode(path, TypeCube)
	if err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrSize, size); err != nil {
		return nil, err
	}
	h := geom.Element(size / 2)
	extent := []*geom.Vector3{{X: -h, Y: -h, Z: -h}, {X: h, Y: h, Z: h}}
	if err := st.SetAttr(path, AttrExtent, extent); err != nil {
		return nil, err
	}
	return n, nil
}

func (st *Stage) DefineCylinder(path Path, radius, height float64, axis string) (*Node, error) {
	n, err := st.DefineNode(path, TypeCylinder)
	if err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrRadius, radius); err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrHeight, height); err != nil {
		return nil, err
	}
	if axis == "" {
		axis = "Y"
	}
	if err := st.SetAttr(path, AttrAxis, axis); err != nil {
		return nil, err
	}
	r, h := geom.Element(radius), geom.Element(height/2)
	var extent []*geom.Vector3
	switch axis {
	case "X":
		extent = []*geom.Vector3{{X: -h, Y: -r, Z: -r}, {X: h, Y: r, Z: r}}
	case "Z":
		extent = []*geom.Vector3{{X: -r, Y: -r, Z: -h}, {X: r, Y: r, Z: h}}
	default:
		extent = []*geom.Vector3{{X: -r, Y: -h, Z: -r}, {X: r, Y: h, Z: r}}
	}
	if err := st.SetAttr(path, AttrExtent, extent); err != nil {
		return nil, err
	}
	return n, nil
}

type CameraParams struct {
	FocalLength        float64
	FocusDistance      float64
	FStop              float64
	HorizontalAperture float64
	VerticalAperture   float64
}

func (st *Stage) DefineCamera(path Path, p CameraParams) (*Node, error) {
	n, err := st.DefineNode(path, TypeCamera)
	if err != nil {
		return nil, err
	}
	for _, a := range []struct {
		name  string
		value float64
	}{
		{AttrFocalLength, p.FocalLength},
		{AttrFocusDistance, p.FocusDistance},
		{AttrFStop, p.FStop},
		{AttrHorizontalAperture, p.HorizontalAperture},
		{AttrVerticalAperture, p.VerticalAperture},
	} {
		if a.value == 0 {
			continue
		}
		if err := st.SetAttr(path, a.name, a.value); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (st *Stage) DefineDistantLight(path Path, angle float64, color *geom.Vector3, intensity float64) (*Node, error) {
	n, err := st.DefineNode(path, TypeDistantLight)
	if err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrLightAngle, angle); err != nil {
		return nil, err
	}
	if color != nil {
		c := *color
		if err := st.SetAttr(path, AttrLightColor, &c); err != nil {
			return nil, err
		}
	}
	if err := st.SetAttr(path, AttrLightIntensity, intensity); err != nil {
		return nil, err
	}
	return n, nil
}

func (st *Stage) DefineDomeLight(path Path, texture, format string, intensity float64) (*Node, error) {
	n, err := st.DefineNode(path, TypeDomeLight)
	if err != nil {
		return nil, err
	}
	if texture != "" {
		if err := st.SetAttr(path, AttrLightTexture, texture); err != nil {
			return nil, err
		}
		if format == "" {
			format = "latlong"
		}
		if err := st.SetAttr(path, AttrLightTextureFormat, format); err != nil {
			return nil, err
		}
	}
	if err := st.SetAttr(path, AttrLightIntensity, intensity); err != nil {
		return nil, err
	}
	return n, nil
}

// MaterialParams is a flat PBR description. Texture fields are asset
// paths relative to the layer.
type MaterialParams struct {
	DiffuseColor   *geom.Vector3
	DiffuseTint    *geom.Vector3
	Opacity        float64
	Roughness      float64
	Metallic       float64
	DiffuseTexture string
	ORMTexture     string
	NormalTexture  string
}

func (st *Stage) DefineMaterial(path Path, p *MaterialParams) (*Node, error) {
	n, err := st.DefineNode(path, TypeMaterial)
	if err != nil {
		return nil, err
	}
	if p.DiffuseColor != nil {
		c := *p.DiffuseColor
		if err := st.SetAttr(path, AttrDiffuseColor, &c); err != nil {
			return nil, err
		}
	}
	if p.DiffuseTint != nil {
		c := *p.DiffuseTint
		if err := st.SetAttr(path, AttrDiffuseTint, &c); err != nil {
			return nil, err
		}
	}
	for _, a := range []struct {
		name  string
		value float64
	}{{AttrOpacity, p.Opacity}, {AttrRoughness, p.Roughness}, {AttrMetallic, p.Metallic}} {
		if err := st.SetAttr(path, a.name, a.value); err != nil {
			return nil, err
		}
	}
	for _, a := range []struct {
		name  string
		value string
	}{{AttrDiffuseTexture, p.DiffuseTexture}, {AttrORMTexture, p.ORMTexture}, {AttrNormalTexture, p.NormalTexture}} {
		if a.value == "" {
			continue
		}
		if err := st.SetAttr(path, a.name, a.value); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (st *Stage) BindMaterial(path, material Path) error {
	return st.SetAttr(path, AttrMaterialBinding, material)
}

func (st *Stage) DefineSkeleton(path Path, joints []string, bind, rest []*geom.Matrix4) (*Node, error) {
	n, err := st.DefineNode(path, TypeSkeleton)
	if err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrSkelJoints, joints); err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrSkelBindTransforms, bind); err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrSkelRestTransforms, rest); err != nil {
		return nil, err
	}
	return n, nil
}

func (st *Stage) DefineSkelAnimation(path Path, joints []string) (*Node, error) {
	n, err := st.DefineNode(path, TypeSkelAnimation)
	if err != nil {
		return nil, err
	}
	if err := st.SetAttr(path, AttrSkelAnimJoints, joints); err != nil {
		return nil, err
	}
	return n, nil
}

// BindSkeleton attaches a mesh to a skeleton with per-vertex joint
// weights. geomBind may be nil for an identity bind transform.
func (st *Stage) BindSkeleton(path, skeleton Path, jointIndices []int, weights []float64, geomBind *geom.Matrix4) error {
	if err := st.SetAttr(path, AttrSkelSkeleton, skeleton); err != nil {
		return err
	}
	if len(jointIndices) > 0 {
		if err := st.SetAttr(path, AttrSkelJointIndices, jointIndices); err != nil {
			return err
		}
	}
	if len(weights) > 0 {
		if err := st.SetAttr(path, AttrSkelJointWeights, weights); err != nil {
			return err
		}
	}
	if geomBind == nil {
		geomBind = geom.NewMatrix4()
	}
	return st.SetAttr(path, AttrSkelGeomBindform, geomBind)
}

func (st *Stage) SetAnimationSource(path, animation Path) error {
	return st.SetAttr(path, AttrSkelAnimationSource, animation)
}

func (st *Stage) DefinePhysicsScene(path Path, gravity *geom.Vector3, magnitude float64) (*Node, error) {
	n, err := st.DefineNode(path, TypePhysicsScene)
	if err != nil {
		return nil, err
	}
	if gravity != nil {
		g := *gravity
		if err := st.SetAttr(path, AttrGravityDirection, &g); err != nil {
			return nil, err
		}
	}
	if err := st.SetAttr(path, AttrGravityMagnitude, magnitude); err != nil {
		return nil, err
	}
	return n, nil
}

func (st *Stage) EnableRigidBody(path Path, angularVelocity *geom.Vector3) error {
	if err := st.SetAttr(path, AttrRigidBodyEnabled, true); err != nil {
		return err
	}
	if angularVelocity != nil {
		v := *angularVelocity
		return st.SetAttr(path, AttrAngularVelocity, &v)
	}
	return nil
}

func (st *Stage) EnableCollision(path Path, approximation string) error {
	if err := st.SetAttr(path, AttrCollisionEnabled, true); err != nil {
		return err
	}
	if approximation == "" {
		approximation = "convexHull"
	}
	return st.SetAttr(path, AttrApproximation, approximation)
}

// Extent returns the authored extent, or the union of the children's
// extents for group nodes without one.
func (n *Node) Extent() []*geom.Vector3 {
	if v, ok := n.Attr(AttrExtent); ok {
		if e, ok := v.([]*geom.Vector3); ok && len(e) == 2 {
			return e
		}
	}
	var min, max *geom.Vector3
	for _, c := range n.Children() {
		e := c.Extent()
		if e == nil {
			continue
		}
		if min == nil {
			lo, hi := *e[0], *e[1]
			min, max = &lo, &hi
			continue
		}
		min = min.Min(e[0])
		max = max.Max(e[1])
	}
	if min == nil {
		return nil
	}
	return []*geom.Vector3{min, max}
}
