package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// probFloor keeps log(p) finite when a probability underflows to zero.
const probFloor = 1e-12

// CrossEntropy returns the mean negative log likelihood of labels y under
// the row-wise probabilities p, and how many rows have their argmax at the
// true label.
func CrossEntropy(p *mat.Dense, y []int) (float64, int, error) {
	r, c := p.Dims()
	if r != len(y) {
		return 0, 0, fmt.Errorf("cross entropy: %d rows, %d labels", r, len(y))
	}
	var total float64
	correct := 0
	for i, label := range y {
		if label < 0 || label >= c {
			return 0, 0, fmt.Errorf("cross entropy: label %d out of range [0, %d)", label, c)
		}
		row := p.RawRowView(i)
		total -= math.Log(math.Max(row[label], probFloor))
		if floats.MaxIdx(row) == label {
			correct++
		}
	}
	return total / float64(r), correct, nil
}

// Argmax returns the index of the largest value in every row of p.
func Argmax(p *mat.Dense) []int {
	r, _ := p.Dims()
	out := make([]int, r)
	for i := range out {
		out[i] = floats.MaxIdx(p.RawRowView(i))
	}
	return out
}
