package imaging

import "errors"

// ErrNoSurface indicates the iso-surface extraction produced no triangles,
// typically because the component is too small to survive smoothing.
var ErrNoSurface = errors.New("imaging: no iso-surface extracted")

// Mesh is a triangle surface in patient space. Vertices are flat (x, y, z)
// millimeter triples, Faces flat index triples wound counter-clockwise when
// viewed from outside the surface.
type Mesh struct {
	Vertices []float32
	Faces    []int32
}

// VertexCount returns the number of welded vertices.
func (m *Mesh) VertexCount() int { return len(m.Vertices) / 3 }

// FaceCount returns the number of triangles.
func (m *Mesh) FaceCount() int { return len(m.Faces) / 3 }

// MeshConfig controls the mask-to-surface conversion.
type MeshConfig struct {
	PaddingVoxels  int
	SmoothingSigma float64
	IsoLevel       float64
}

// DefaultMeshConfig returns the standard extraction parameters: three voxels
// of padding so smoothing never clips the surface at the grid boundary, one
// voxel of gaussian smoothing, and the 0.5 iso level of the smoothed binary
// field.
func DefaultMeshConfig() MeshConfig {
	return MeshConfig{
		PaddingVoxels:  3,
		SmoothingSigma: 1.0,
		IsoLevel:       0.5,
	}
}

// MeshBuilder converts segmented stone masks into watertight surface meshes.
type MeshBuilder struct {
	cfg MeshConfig
}

// NewMeshBuilder creates a builder with the given extraction parameters.
func NewMeshBuilder(cfg MeshConfig) *MeshBuilder {
	if cfg.PaddingVoxels < 1 {
		cfg.PaddingVoxels = 1
	}
	if cfg.IsoLevel <= 0 || cfg.IsoLevel >= 1 {
		cfg.IsoLevel = 0.5
	}
	return &MeshBuilder{cfg: cfg}
}

// Build extracts the iso-surface of the mask. The binary occupancy field is
// zero-padded, gaussian-smoothed, and marched; because the padded border is
// all background and the field straddles the iso level around every occupied
// voxel, the result is a closed surface. Vertex coordinates are mapped back
// through the mask origin and voxel spacing into millimeters.
func (b *MeshBuilder) Build(mask *Mask, spacing [3]float64) (*Mesh, error) {
	pad := b.cfg.PaddingVoxels
	dims := [3]int{
		mask.Dims[0] + 2*pad,
		mask.Dims[1] + 2*pad,
		mask.Dims[2] + 2*pad,
	}
	field := make([]float64, dims[0]*dims[1]*dims[2])
	for z := 0; z < mask.Dims[0]; z++ {
		for y := 0; y < mask.Dims[1]; y++ {
			for x := 0; x < mask.Dims[2]; x++ {
				if mask.At(z, y, x) {
					field[((z+pad)*dims[1]+(y+pad))*dims[2]+(x+pad)] = 1.0
				}
			}
		}
	}
	field = smoothField(field, dims, b.cfg.SmoothingSigma)

	mesh := marchTetrahedra(field, dims, b.cfg.IsoLevel)
	if mesh.FaceCount() == 0 {
		return nil, ErrNoSurface
	}

	// Lattice coordinates to millimeters: undo the padding, offset by the
	// mask's position in the full volume, scale by voxel spacing. Spacing
	// and Origin are (z, y, x); vertices are stored (x, y, z).
	for i := 0; i < len(mesh.Vertices); i += 3 {
		x := float64(mesh.Vertices[i])
		y := float64(mesh.Vertices[i+1])
		z := float64(mesh.Vertices[i+2])
		mesh.Vertices[i] = float32((x - float64(pad) + float64(mask.Origin[2])) * spacing[2])
		mesh.Vertices[i+1] = float32((y - float64(pad) + float64(mask.Origin[1])) * spacing[1])
		mesh.Vertices[i+2] = float32((z - float64(pad) + float64(mask.Origin[0])) * spacing[0])
	}
	return mesh, nil
}

// Each cube cell is split into six tetrahedra sharing the main diagonal
// (corner 0 to corner 7). Corner bits: bit0 = x, bit1 = y, bit2 = z. Every
// tetrahedron face lying on a cube face uses that face's diagonal through
// the corners shared with the neighboring cube, so adjacent cubes triangulate
// their shared face identically and the extracted surface has no cracks.
var cubeTets = [6][4]int{
	{0, 1, 3, 7},
	{0, 1, 5, 7},
	{0, 2, 3, 7},
	{0, 2, 6, 7},
	{0, 4, 5, 7},
	{0, 4, 6, 7},
}

type edgeKey struct {
	lo, hi int64
}

type tetMarcher struct {
	field    []float64
	dims     [3]int
	iso      float64
	vertices []float32
	faces    []int32
	welded   map[edgeKey]int32
}

// marchTetrahedra extracts the iso-surface of a scalar field via tetrahedral
// decomposition. Surface vertices lie on lattice edges and are welded by the
// edge's corner pair, so coincident vertices from neighboring cells share an
// index and the mesh is watertight.
func marchTetrahedra(field []float64, dims [3]int, iso float64) *Mesh {
	m := &tetMarcher{
		field:  field,
		dims:   dims,
		iso:    iso,
		welded: make(map[edgeKey]int32),
	}
	nz, ny, nx := dims[0], dims[1], dims[2]
	var pos [8][3]float64
	var val [8]float64
	var id [8]int64
	for z := 0; z < nz-1; z++ {
		for y := 0; y < ny-1; y++ {
			for x := 0; x < nx-1; x++ {
				for c := 0; c < 8; c++ {
					cx, cy, cz := x+(c&1), y+((c>>1)&1), z+((c>>2)&1)
					pos[c] = [3]float64{float64(cx), float64(cy), float64(cz)}
					val[c] = field[(cz*ny+cy)*nx+cx]
					id[c] = int64((cz*ny+cy)*nx + cx)
				}
				for _, tet := range cubeTets {
					m.emitTet(
						[4][3]float64{pos[tet[0]], pos[tet[1]], pos[tet[2]], pos[tet[3]]},
						[4]float64{val[tet[0]], val[tet[1]], val[tet[2]], val[tet[3]]},
						[4]int64{id[tet[0]], id[tet[1]], id[tet[2]], id[tet[3]]},
					)
				}
			}
		}
	}
	return &Mesh{Vertices: m.vertices, Faces: m.faces}
}

// emitTet triangulates the iso-surface crossing of one tetrahedron. A corner
// is inside when its value reaches the iso level; one or three inside corners
// yield a single triangle, two yield a quad split in two. Winding is fixed
// afterward against an interior corner, so no per-case winding table is
// needed.
func (m *tetMarcher) emitTet(pos [4][3]float64, val [4]float64, id [4]int64) {
	var inside, outside []int
	for i := 0; i < 4; i++ {
		if val[i] >= m.iso {
			inside = append(inside, i)
		} else {
			outside = append(outside, i)
		}
	}

	switch len(inside) {
	case 0, 4:
		return
	case 1:
		a := inside[0]
		v0 := m.edgeVertex(pos, val, id, a, outside[0])
		v1 := m.edgeVertex(pos, val, id, a, outside[1])
		v2 := m.edgeVertex(pos, val, id, a, outside[2])
		m.emitTriangle(v0, v1, v2, pos[a])
	case 3:
		a := outside[0]
		v0 := m.edgeVertex(pos, val, id, inside[0], a)
		v1 := m.edgeVertex(pos, val, id, inside[1], a)
		v2 := m.edgeVertex(pos, val, id, inside[2], a)
		m.emitTriangle(v0, v1, v2, pos[inside[0]])
	case 2:
		a, b := inside[0], inside[1]
		c, d := outside[0], outside[1]
		ac := m.edgeVertex(pos, val, id, a, c)
		ad := m.edgeVertex(pos, val, id, a, d)
		bc := m.edgeVertex(pos, val, id, b, c)
		bd := m.edgeVertex(pos, val, id, b, d)
		m.emitTriangle(ac, ad, bd, pos[a])
		m.emitTriangle(ac, bd, bc, pos[a])
	}
}

// edgeVertex interpolates the iso crossing on the edge between tetrahedron
// corners i and j and returns its welded index. The parameter depends only on
// the two corner values, so every cell sharing the edge lands on the same
// point.
func (m *tetMarcher) edgeVertex(pos [4][3]float64, val [4]float64, id [4]int64, i, j int) int32 {
	key := edgeKey{lo: id[i], hi: id[j]}
	if key.lo > key.hi {
		key.lo, key.hi = key.hi, key.lo
	}
	if idx, ok := m.welded[key]; ok {
		return idx
	}
	t := (m.iso - val[i]) / (val[j] - val[i])
	idx := int32(len(m.vertices) / 3)
	m.vertices = append(m.vertices,
		float32(pos[i][0]+t*(pos[j][0]-pos[i][0])),
		float32(pos[i][1]+t*(pos[j][1]-pos[i][1])),
		float32(pos[i][2]+t*(pos[j][2]-pos[i][2])),
	)
	m.welded[key] = idx
	return idx
}

// emitTriangle appends the triangle wound so its normal points away from the
// given interior point. Degenerate triangles from iso crossings landing on a
// shared corner are dropped.
func (m *tetMarcher) emitTriangle(i0, i1, i2 int32, interior [3]float64) {
	if i0 == i1 || i1 == i2 || i0 == i2 {
		return
	}
	p0 := m.vertexAt(i0)
	p1 := m.vertexAt(i1)
	p2 := m.vertexAt(i2)

	e1 := [3]float64{p1[0] - p0[0], p1[1] - p0[1], p1[2] - p0[2]}
	e2 := [3]float64{p2[0] - p0[0], p2[1] - p0[1], p2[2] - p0[2]}
	n := [3]float64{
		e1[1]*e2[2] - e1[2]*e2[1],
		e1[2]*e2[0] - e1[0]*e2[2],
		e1[0]*e2[1] - e1[1]*e2[0],
	}
	out := [3]float64{
		(p0[0]+p1[0]+p2[0])/3 - interior[0],
		(p0[1]+p1[1]+p2[1])/3 - interior[1],
		(p0[2]+p1[2]+p2[2])/3 - interior[2],
	}
	if n[0]*out[0]+n[1]*out[1]+n[2]*out[2] < 0 {
		i1, i2 = i2, i1
	}
	m.faces = append(m.faces, i0, i1, i2)
}

func (m *tetMarcher) vertexAt(i int32) [3]float64 {
	return [3]float64{
		float64(m.vertices[3*i]),
		float64(m.vertices[3*i+1]),
		float64(m.vertices[3*i+2]),
	}
}
