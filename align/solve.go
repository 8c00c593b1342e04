package align

import (
	"fmt"
	"math"
)

// solve6x6 solves A*x = b for the 6x6 symmetric normal-equation system via
// Gaussian elimination with partial pivoting. A and b are modified in place.
func solve6x6(a *[6][6]float64, b *[6]float64) ([6]float64, error) {
	var x [6]float64

	for col := 0; col < 6; col++ {
		// Pivot on the largest magnitude in this column.
		pivot := col
		maxVal := math.Abs(a[col][col])
		for row := col + 1; row < 6; row++ {
			if v := math.Abs(a[row][col]); v > maxVal {
				maxVal = v
				pivot = row
			}
		}
		if maxVal < 1e-12 {
			return x, fmt.Errorf("singular normal-equation system at column %d", col)
		}
		if pivot != col {
			a[col], a[pivot] = a[pivot], a[col]
			b[col], b[pivot] = b[pivot], b[col]
		}

		// Eliminate below.
		for row := col + 1; row < 6; row++ {
			f := a[row][col] / a[col][col]
			if f == 0 {
				continue
			}
			for k := col; k < 6; k++ {
				a[row][k] -= f * a[col][k]
			}
			b[row] -= f * b[col]
		}
	}

	// Back substitution.
	for row := 5; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < 6; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}

	return x, nil
}
