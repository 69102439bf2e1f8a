package imaging

import "sort"

// labelComponents assigns a positive label to each 26-connected foreground
// component of the mask. Returns the per-voxel labels and the component count.
func labelComponents(m *Mask) ([]int32, int) {
	labels := make([]int32, len(m.Data))
	next := int32(0)

	queue := make([]int, 0, 256)
	for start, fg := range m.Data {
		if !fg || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		queue = append(queue[:0], start)

		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]

			z := idx / (m.Dims[1] * m.Dims[2])
			rem := idx % (m.Dims[1] * m.Dims[2])
			y := rem / m.Dims[2]
			x := rem % m.Dims[2]

			for dz := -1; dz <= 1; dz++ {
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dz == 0 && dy == 0 && dx == 0 {
							continue
						}
						nz, ny, nx := z+dz, y+dy, x+dx
						if nz < 0 || nz >= m.Dims[0] || ny < 0 || ny >= m.Dims[1] || nx < 0 || nx >= m.Dims[2] {
							continue
						}
						nidx := (nz*m.Dims[1]+ny)*m.Dims[2] + nx
						if m.Data[nidx] && labels[nidx] == 0 {
							labels[nidx] = next
							queue = append(queue, nidx)
						}
					}
				}
			}
		}
	}
	return labels, int(next)
}

// removeSmallComponents clears every connected component with fewer than
// minVoxels foreground voxels. The mask is modified in place.
func removeSmallComponents(m *Mask, minVoxels int) {
	if minVoxels <= 1 {
		return
	}
	labels, count := labelComponents(m)
	if count == 0 {
		return
	}
	sizes := make([]int, count+1)
	for _, l := range labels {
		if l > 0 {
			sizes[l]++
		}
	}
	for i, l := range labels {
		if l > 0 && sizes[l] < minVoxels {
			m.Data[i] = false
		}
	}
}

// componentMask extracts the single component with the given label as a
// cropped mask anchored in the source volume.
func componentMask(m *Mask, labels []int32, label int32) *Mask {
	out := NewMask(m.Dims, m.Origin)
	for i, l := range labels {
		if l == label {
			out.Data[i] = true
		}
	}
	return out.crop()
}

// componentAt returns the cropped component containing the seed voxel
// (mask-local coordinates), or nil when the seed is background.
func componentAt(m *Mask, seed [3]int) *Mask {
	if seed[0] < 0 || seed[0] >= m.Dims[0] ||
		seed[1] < 0 || seed[1] >= m.Dims[1] ||
		seed[2] < 0 || seed[2] >= m.Dims[2] {
		return nil
	}
	labels, _ := labelComponents(m)
	label := labels[(seed[0]*m.Dims[1]+seed[1])*m.Dims[2]+seed[2]]
	if label == 0 {
		return nil
	}
	return componentMask(m, labels, label)
}

// largestComponents returns up to n components ranked by voxel count,
// each cropped to its bounding box.
func largestComponents(m *Mask, n int) []*Mask {
	labels, count := labelComponents(m)
	if count == 0 || n <= 0 {
		return nil
	}
	sizes := make([]int, count+1)
	for _, l := range labels {
		if l > 0 {
			sizes[l]++
		}
	}

	order := make([]int32, 0, count)
	for l := int32(1); l <= int32(count); l++ {
		if sizes[l] > 0 {
			order = append(order, l)
		}
	}
	sort.Slice(order, func(i, j int) bool { return sizes[order[i]] > sizes[order[j]] })

	if len(order) > n {
		order = order[:n]
	}
	out := make([]*Mask, 0, len(order))
	for _, l := range order {
		if c := componentMask(m, labels, l); c != nil {
			out = append(out, c)
		}
	}
	return out
}
