package segment

import (
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/filter"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// Flooding states of a voxel.
const (
	stateFree uint8 = iota
	stateQueued
	stateDone
)

// MorphologicalWatershed partitions v into catchment basins.
//
// Parameters:
//   - v: Image to flood, usually the gradient magnitude of the lungs volume.
//   - level: Minimum depth of a basin. Minima shallower than level are
//     merged into their neighbours by an H-minima transform. level <= 0
//     keeps every regional minimum.
//   - markLines: When true, voxels where two basins meet are labelled 0.
//
// Returns a label map with basins numbered 1..N in raster order of their
// originating minimum.
func MorphologicalWatershed(v *volume.Volume, level float64, markLines bool) *volume.LabelMap {
	img := v
	if level > 0 {
		img = HMinima(v, level)
	}
	markers := RegionalMinima(img)

	// markers and img share v's geometry, so flooding cannot fail.
	labels, _ := WatershedFromMarkers(img, markers, markLines)
	return labels
}

// SeededWatershed partitions v like MorphologicalWatershed but forces the
// voxels of seed into one basin. Regional minima touching seed join it. The
// seed basin takes the label after the last minimum; the other basins keep
// their numbering. An empty seed gives the plain watershed.
//
// # Errors
//
//   - Returns error if seed and v have different sizes
func SeededWatershed(v *volume.Volume, seed *volume.LabelMap, level float64, markLines bool) (*volume.LabelMap, uint32, error) {
	if v.Size != seed.Size {
		return nil, 0, fmt.Errorf("seed size %v does not match volume size %v", seed.Size, v.Size)
	}
	img := v
	if level > 0 {
		img = HMinima(v, level)
	}
	markers := RegionalMinima(img)

	var last uint32
	touched := make(map[uint32]bool)
	for i, l := range markers.Data {
		if l > last {
			last = l
		}
		if l != 0 && seed.Data[i] != 0 {
			touched[l] = true
		}
	}
	seedLabel := last + 1
	for i, l := range markers.Data {
		if seed.Data[i] != 0 || touched[l] {
			markers.Data[i] = seedLabel
		}
	}

	labels, err := WatershedFromMarkers(img, markers, markLines)
	if err != nil {
		return nil, 0, err
	}
	return labels, seedLabel, nil
}

// HMinima suppresses every regional minimum of v whose depth is below h by
// reconstructing v+h by erosion over v.
func HMinima(v *volume.Volume, h float64) *volume.Volume {
	marker := volume.NewVolume(v.Geometry)
	for i, val := range v.Data {
		marker.Data[i] = val + float32(h)
	}
	return reconstructByErosion(marker, v)
}

// reconstructByErosion computes the geodesic reconstruction by erosion of
// marker over mask (marker >= mask everywhere). Each voxel ends at the
// lowest value it can reach from a marker through paths whose maximum mask
// value does not exceed it. Voxels are settled in increasing order, so each
// is finalized the first time it pops with its current value.
func reconstructByErosion(marker, mask *volume.Volume) *volume.Volume {
	g := mask.Geometry
	out := marker.Clone()
	done := make([]bool, len(out.Data))

	q := &voxelQueue{items: make([]queueItem, 0, len(out.Data))}
	for i, val := range out.Data {
		q.Push(i, val)
	}

	for q.Len() > 0 {
		off, priority := q.Pop()
		if done[off] || priority != out.Data[off] {
			continue
		}
		done[off] = true

		p := g.Coord(off)
		for _, d := range filter.FaceNeighbors {
			nx, ny, nz := p.X+d[0], p.Y+d[1], p.Z+d[2]
			if !g.Contains(nx, ny, nz) {
				continue
			}
			n := g.Offset(nx, ny, nz)
			if done[n] {
				continue
			}
			candidate := priority
			if mask.Data[n] > candidate {
				candidate = mask.Data[n]
			}
			if candidate < out.Data[n] {
				out.Data[n] = candidate
				q.Push(n, candidate)
			}
		}
	}
	return out
}

// RegionalMinima labels the face-connected plateaus of v that have no
// strictly lower neighbour. Labels start at 1 and follow the raster order of
// the first voxel of each plateau.
func RegionalMinima(v *volume.Volume) *volume.LabelMap {
	g := v.Geometry
	labels := volume.NewLabelMap(g)
	visited := make([]bool, len(v.Data))

	var next uint32
	plateau := make([]int, 0, 64)
	stack := make([]int, 0, 64)

	for start := range v.Data {
		if visited[start] {
			continue
		}
		value := v.Data[start]
		isMinimum := true

		plateau = plateau[:0]
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			off := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			plateau = append(plateau, off)

			p := g.Coord(off)
			for _, d := range filter.FaceNeighbors {
				nx, ny, nz := p.X+d[0], p.Y+d[1], p.Z+d[2]
				if !g.Contains(nx, ny, nz) {
					continue
				}
				n := g.Offset(nx, ny, nz)
				nv := v.Data[n]
				if nv < value {
					isMinimum = false
					continue
				}
				if nv == value && !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}

		if !isMinimum {
			continue
		}
		next++
		for _, off := range plateau {
			labels.Data[off] = next
		}
	}
	return labels
}

// WatershedFromMarkers floods v from the non-zero labels of markers.
//
// Unlabelled voxels are visited by increasing value, ties broken by the
// order in which they were reached. With markLines a voxel that touches two
// different basins when it is visited becomes a watershed line (label 0)
// and does not propagate. Without lines every reachable voxel takes the
// label that reached it first.
//
// # Errors
//
//   - Returns error if markers and v have different sizes
func WatershedFromMarkers(v *volume.Volume, markers *volume.LabelMap, markLines bool) (*volume.LabelMap, error) {
	if v.Size != markers.Size {
		return nil, fmt.Errorf("marker size %v does not match volume size %v", markers.Size, v.Size)
	}

	g := v.Geometry
	labels := markers.Clone()
	labels.Geometry = g
	state := make([]uint8, len(v.Data))
	q := &voxelQueue{}

	push := func(off int, floor float32, label uint32) {
		p := g.Coord(off)
		for _, d := range filter.FaceNeighbors {
			nx, ny, nz := p.X+d[0], p.Y+d[1], p.Z+d[2]
			if !g.Contains(nx, ny, nz) {
				continue
			}
			n := g.Offset(nx, ny, nz)
			if state[n] != stateFree {
				continue
			}
			state[n] = stateQueued
			if !markLines {
				labels.Data[n] = label
			}
			priority := v.Data[n]
			if priority < floor {
				priority = floor
			}
			q.Push(n, priority)
		}
	}

	for off, l := range markers.Data {
		if l != 0 {
			state[off] = stateDone
		}
	}
	for off, l := range markers.Data {
		if l != 0 {
			push(off, v.Data[off], l)
		}
	}

	for q.Len() > 0 {
		off, priority := q.Pop()
		label := labels.Data[off]
		if markLines {
			label = neighbourLabel(g, labels, state, off)
			if label == 0 {
				state[off] = stateDone
				continue
			}
			labels.Data[off] = label
		}
		state[off] = stateDone
		push(off, priority, label)
	}
	return labels, nil
}

// neighbourLabel returns the single basin label among the settled
// neighbours of off, or 0 when the neighbours belong to different basins.
func neighbourLabel(g volume.Geometry, labels *volume.LabelMap, state []uint8, off int) uint32 {
	var found uint32
	p := g.Coord(off)
	for _, d := range filter.FaceNeighbors {
		nx, ny, nz := p.X+d[0], p.Y+d[1], p.Z+d[2]
		if !g.Contains(nx, ny, nz) {
			continue
		}
		n := g.Offset(nx, ny, nz)
		if state[n] != stateDone {
			continue
		}
		l := labels.Data[n]
		if l == 0 {
			continue
		}
		if found == 0 {
			found = l
		} else if l != found {
			return 0
		}
	}
	return found
}
