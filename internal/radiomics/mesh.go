package radiomics

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// Vec3 is a point or direction in millimetres.
type Vec3 [3]float64

func (a Vec3) sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a Vec3) add(b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a Vec3) scale(k float64) Vec3 { return Vec3{a[0] * k, a[1] * k, a[2] * k} }
func (a Vec3) dot(b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func (a Vec3) cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func (a Vec3) norm() float64 { return math.Sqrt(a.dot(a)) }

// Triangle is an outward oriented mesh face.
type Triangle [3]Vec3

// Normal returns the unit outward normal, or zero for a degenerate face.
func (t Triangle) Normal() Vec3 {
	n := t[1].sub(t[0]).cross(t[2].sub(t[0]))
	l := n.norm()
	if l == 0 {
		return Vec3{}
	}
	return n.scale(1 / l)
}

// Area returns the face area in mm².
func (t Triangle) Area() float64 {
	return t[1].sub(t[0]).cross(t[2].sub(t[0])).norm() / 2
}

// Mesh is a closed triangle mesh of a region boundary.
type Mesh struct {
	Triangles []Triangle
}

// SurfaceArea returns the total face area in mm².
func (m *Mesh) SurfaceArea() float64 {
	var a float64
	for _, t := range m.Triangles {
		a += t.Area()
	}
	return a
}

// Volume returns the enclosed volume in mm³ by the divergence theorem:
// the sum of signed tetrahedra spanned by each face and a reference point.
// The reference is a mesh vertex, which keeps the terms small for meshes
// far from the patient origin.
func (m *Mesh) Volume() float64 {
	if len(m.Triangles) == 0 {
		return 0
	}
	ref := m.Triangles[0][0]
	var v float64
	for _, t := range m.Triangles {
		a, b, c := t[0].sub(ref), t[1].sub(ref), t[2].sub(ref)
		v += a.dot(b.cross(c))
	}
	return math.Abs(v / 6)
}

// WriteSTL writes the mesh as an ASCII STL solid.
func (m *Mesh) WriteSTL(w io.Writer, name string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "solid %s\n", name)
	for _, t := range m.Triangles {
		n := t.Normal()
		fmt.Fprintf(bw, "  facet normal %g %g %g\n", n[0], n[1], n[2])
		fmt.Fprintln(bw, "    outer loop")
		for _, p := range t {
			fmt.Fprintf(bw, "      vertex %g %g %g\n", p[0], p[1], p[2])
		}
		fmt.Fprintln(bw, "    endloop")
		fmt.Fprintln(bw, "  endfacet")
	}
	fmt.Fprintf(bw, "endsolid %s\n", name)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write STL: %w", err)
	}
	return nil
}

// Cube corner i sits at offset (i&1, i>>1&1, i>>2&1).
func cubeCorner(i int) [3]int { return [3]int{i & 1, i >> 1 & 1, i >> 2 & 1} }

// cubeEdges lists the twelve cube edges as corner pairs, low corner first.
var cubeEdges = func() [12][2]int {
	var edges [12][2]int
	n := 0
	for a := 0; a < 8; a++ {
		for _, bit := range [3]int{1, 2, 4} {
			if a&bit == 0 {
				edges[n] = [2]int{a, a | bit}
				n++
			}
		}
	}
	return edges
}()

func cubeEdge(a, b int) int {
	if a > b {
		a, b = b, a
	}
	for i, e := range cubeEdges {
		if e == [2]int{a, b} {
			return i
		}
	}
	panic("radiomics: corners do not share an edge")
}

// cubeFace is one side of the cube with its corners in cyclic order and
// its outward normal.
type cubeFace struct {
	corners [4]int
	normal  [3]int
}

var cubeFaces = func() [6]cubeFace {
	cycle := [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	var faces [6]cubeFace
	n := 0
	for axis := 0; axis < 3; axis++ {
		var other [2]int
		k := 0
		for a := 0; a < 3; a++ {
			if a != axis {
				other[k] = a
				k++
			}
		}
		for side := 0; side < 2; side++ {
			var f cubeFace
			f.normal[axis] = 2*side - 1
			for k, uv := range cycle {
				for c := 0; c < 8; c++ {
					p := cubeCorner(c)
					if p[axis] == side && p[other[0]] == uv[0] && p[other[1]] == uv[1] {
						f.corners[k] = c
					}
				}
			}
			faces[n] = f
			n++
		}
	}
	return faces
}()

// cubeCases holds, for each of the 256 inside/outside corner
// configurations, the surface triangles as triples of cut edges.
//
// The table is derived rather than typed in. On every face the cut edges
// are joined in pairs, each segment directed so that the inside corner
// lies on its right seen from outside the cube. A face with two inside
// corners on a diagonal cuts each of them off. The segments chain into
// closed loops that are fanned into triangles. The choice on a face
// depends only on its four corners, so neighbouring cubes agree and the
// surface is closed.
var cubeCases = func() [256][][3]int {
	var cases [256][][3]int
	for cfg := range cases {
		cases[cfg] = cubeTriangles(cfg)
	}
	return cases
}()

type cutEdge struct {
	edge  int
	inner int
}

func cubeTriangles(cfg int) [][3]int {
	in := func(c int) bool { return cfg>>c&1 == 1 }
	// Doubled coordinates keep edge midpoints integral.
	corner2 := func(c int) [3]int {
		p := cubeCorner(c)
		return [3]int{2 * p[0], 2 * p[1], 2 * p[2]}
	}
	mid2 := func(e int) [3]int {
		a, b := cubeCorner(cubeEdges[e][0]), cubeCorner(cubeEdges[e][1])
		return [3]int{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
	}

	next := [12]int{-1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
	for _, f := range cubeFaces {
		var cut [4]cutEdge
		n := 0
		for k := 0; k < 4; k++ {
			a, b := f.corners[k], f.corners[(k+1)%4]
			if in(a) == in(b) {
				continue
			}
			inner := a
			if !in(a) {
				inner = b
			}
			cut[n] = cutEdge{edge: cubeEdge(a, b), inner: inner}
			n++
		}

		var pairs [][2]cutEdge
		switch {
		case n == 2:
			pairs = [][2]cutEdge{{cut[0], cut[1]}}
		case n == 4 && in(f.corners[1]):
			pairs = [][2]cutEdge{{cut[0], cut[1]}, {cut[2], cut[3]}}
		case n == 4:
			pairs = [][2]cutEdge{{cut[1], cut[2]}, {cut[3], cut[0]}}
		}
		for _, pr := range pairs {
			p, q, c := mid2(pr[0].edge), mid2(pr[1].edge), corner2(pr[0].inner)
			d := [3]int{q[0] - p[0], q[1] - p[1], q[2] - p[2]}
			r := [3]int{c[0] - p[0], c[1] - p[1], c[2] - p[2]}
			side := (d[1]*r[2]-d[2]*r[1])*f.normal[0] +
				(d[2]*r[0]-d[0]*r[2])*f.normal[1] +
				(d[0]*r[1]-d[1]*r[0])*f.normal[2]
			if side < 0 {
				next[pr[0].edge] = pr[1].edge
			} else {
				next[pr[1].edge] = pr[0].edge
			}
		}
	}

	var tris [][3]int
	var seen [12]bool
	for s := range next {
		if next[s] < 0 || seen[s] {
			continue
		}
		loop := []int{s}
		seen[s] = true
		for e := next[s]; e != s; e = next[e] {
			loop = append(loop, e)
			seen[e] = true
		}
		for k := 1; k+1 < len(loop); k++ {
			tris = append(tris, [3]int{loop[0], loop[k], loop[k+1]})
		}
	}
	return tris
}

// BuildMesh meshes the boundary of label inside labels by marching cubes.
//
// Grid points are voxel centres. A point is inside when its voxel carries
// label; points outside the volume are outside. Only the cubes around bbox
// (padded by one voxel) are visited. Vertices sit at edge midpoints, the
// 0.5 iso-surface of the binary mask, and are placed in physical
// coordinates using the geometry of labels.
func BuildMesh(labels *volume.LabelMap, label uint32, bbox [6]int) *Mesh {
	g := labels.Geometry
	inside := func(x, y, z int) bool {
		return g.Contains(x, y, z) && labels.Data[g.Offset(x, y, z)] == label
	}
	point := func(x, y, z int) Vec3 {
		return Vec3{
			g.Origin[0] + float64(x)*g.Spacing[0],
			g.Origin[1] + float64(y)*g.Spacing[1],
			g.Origin[2] + float64(z)*g.Spacing[2],
		}
	}

	m := &Mesh{}
	var verts [12]Vec3
	for z := bbox[4] - 1; z <= bbox[5]; z++ {
		for y := bbox[2] - 1; y <= bbox[3]; y++ {
			for x := bbox[0] - 1; x <= bbox[1]; x++ {
				cfg := 0
				for c := 0; c < 8; c++ {
					d := cubeCorner(c)
					if inside(x+d[0], y+d[1], z+d[2]) {
						cfg |= 1 << c
					}
				}
				tris := cubeCases[cfg]
				if len(tris) == 0 {
					continue
				}

				for e, ends := range cubeEdges {
					a, b := cubeCorner(ends[0]), cubeCorner(ends[1])
					pa := point(x+a[0], y+a[1], z+a[2])
					pb := point(x+b[0], y+b[1], z+b[2])
					verts[e] = pa.add(pb).scale(0.5)
				}
				for _, t := range tris {
					m.Triangles = append(m.Triangles, Triangle{verts[t[0]], verts[t[1]], verts[t[2]]})
				}
			}
		}
	}
	return m
}
