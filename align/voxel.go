package align

import "math"

// VoxelDownsample thins a cloud by averaging all points that fall into the
// same cubic voxel of the given size. Normals, when present, are averaged
// and renormalized. A size of 0 or less returns the cloud unchanged.
func VoxelDownsample(cloud *PointCloud, size float64) *PointCloud {
	if size <= 0 || len(cloud.Points) == 0 {
		return cloud
	}

	type cell struct {
		pointSum  Vec3
		normalSum Vec3
		count     int
	}

	hasNormals := cloud.HasNormals()
	cells := make(map[[3]int32]*cell)
	order := make([][3]int32, 0)

	for i, p := range cloud.Points {
		key := [3]int32{
			int32(math.Floor(p.X / size)),
			int32(math.Floor(p.Y / size)),
			int32(math.Floor(p.Z / size)),
		}
		c, ok := cells[key]
		if !ok {
			c = &cell{}
			cells[key] = c
			order = append(order, key)
		}
		c.pointSum = c.pointSum.Add(p)
		if hasNormals {
			c.normalSum = c.normalSum.Add(cloud.Normals[i])
		}
		c.count++
	}

	out := &PointCloud{Points: make([]Vec3, 0, len(cells))}
	if hasNormals {
		out.Normals = make([]Vec3, 0, len(cells))
	}
	// Iterate in first-seen order so downsampling is deterministic.
	for _, key := range order {
		c := cells[key]
		out.Points = append(out.Points, c.pointSum.Scale(1/float64(c.count)))
		if hasNormals {
			out.Normals = append(out.Normals, c.normalSum.Normalize())
		}
	}
	return out
}
