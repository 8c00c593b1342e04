package align

import (
	"fmt"
	"math"
	"sort"
)

// EstimateNormals computes a unit normal for every point from the covariance
// of its k nearest neighbors, oriented toward the viewpoint (sensor origin).
// Point-to-plane registration requires target normals, so loaders call this
// when the input file carries positions only.
func EstimateNormals(cloud *PointCloud, k int, viewpoint Vec3) error {
	if len(cloud.Points) < 3 {
		return fmt.Errorf("need at least 3 points to estimate normals, have %d", len(cloud.Points))
	}
	if k < 3 {
		k = 3
	}
	if k > len(cloud.Points)-1 {
		k = len(cloud.Points) - 1
	}

	cloud.Normals = make([]Vec3, len(cloud.Points))
	neighbors := make([]int, 0, k)

	for i, p := range cloud.Points {
		neighbors = nearestIndices(cloud.Points, i, k, neighbors[:0])

		// Covariance of the neighborhood around its centroid.
		centroid := p
		for _, ni := range neighbors {
			centroid = centroid.Add(cloud.Points[ni])
		}
		centroid = centroid.Scale(1 / float64(len(neighbors)+1))

		var cov [3][3]float64
		accumulate := func(q Vec3) {
			d := q.Sub(centroid)
			cov[0][0] += d.X * d.X
			cov[0][1] += d.X * d.Y
			cov[0][2] += d.X * d.Z
			cov[1][1] += d.Y * d.Y
			cov[1][2] += d.Y * d.Z
			cov[2][2] += d.Z * d.Z
		}
		accumulate(p)
		for _, ni := range neighbors {
			accumulate(cloud.Points[ni])
		}
		cov[1][0] = cov[0][1]
		cov[2][0] = cov[0][2]
		cov[2][1] = cov[1][2]

		normal := smallestEigenvector(cov)

		// Orient toward the viewpoint so neighboring normals agree.
		if normal.Dot(viewpoint.Sub(p)) < 0 {
			normal = normal.Scale(-1)
		}
		cloud.Normals[i] = normal
	}
	return nil
}

// nearestIndices returns the indices of the k points closest to points[self],
// excluding self. Brute force; clouds are voxel-downsampled before this runs.
func nearestIndices(points []Vec3, self, k int, buf []int) []int {
	type cand struct {
		idx int
		d   float64
	}
	cands := make([]cand, 0, len(points)-1)
	p := points[self]
	for i, q := range points {
		if i == self {
			continue
		}
		dx := p.X - q.X
		dy := p.Y - q.Y
		dz := p.Z - q.Z
		cands = append(cands, cand{idx: i, d: dx*dx + dy*dy + dz*dz})
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].d < cands[b].d })
	if k > len(cands) {
		k = len(cands)
	}
	for i := 0; i < k; i++ {
		buf = append(buf, cands[i].idx)
	}
	return buf
}

// smallestEigenvector returns the unit eigenvector of the symmetric 3x3
// matrix m belonging to its smallest eigenvalue, computed with cyclic Jacobi
// rotations. For a neighborhood covariance this is the local plane normal.
func smallestEigenvector(m [3][3]float64) Vec3 {
	// v accumulates the rotations; starts as identity.
	v := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

	for sweep := 0; sweep < 32; sweep++ {
		off := m[0][1]*m[0][1] + m[0][2]*m[0][2] + m[1][2]*m[1][2]
		if off < 1e-18 {
			break
		}
		for p := 0; p < 2; p++ {
			for q := p + 1; q < 3; q++ {
				if math.Abs(m[p][q]) < 1e-20 {
					continue
				}
				theta := (m[q][q] - m[p][p]) / (2 * m[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for i := 0; i < 3; i++ {
					mip, miq := m[i][p], m[i][q]
					m[i][p] = c*mip - s*miq
					m[i][q] = s*mip + c*miq
				}
				for i := 0; i < 3; i++ {
					mpi, mqi := m[p][i], m[q][i]
					m[p][i] = c*mpi - s*mqi
					m[q][i] = s*mpi + c*mqi
				}
				for i := 0; i < 3; i++ {
					vip, viq := v[i][p], v[i][q]
					v[i][p] = c*vip - s*viq
					v[i][q] = s*vip + c*viq
				}
			}
		}
	}

	minCol := 0
	if m[1][1] < m[minCol][minCol] {
		minCol = 1
	}
	if m[2][2] < m[minCol][minCol] {
		minCol = 2
	}
	return Vec3{v[0][minCol], v[1][minCol], v[2][minCol]}.Normalize()
}
