package scanrig

import "gonum.org/v1/gonum/mat"

// ChannelAssignment maps the physical channel positions of one output group
// onto logical signal columns of a caller-supplied sample matrix. Entry i
// is the 1-based logical column (X, Y, Z, blanking, phase, ...) that drives
// physical channel i of the group.
type ChannelAssignment []int

// Validate checks that every assignment index is in 1..ncols and that no
// logical column drives two physical channels.
func (a ChannelAssignment) Validate(ncols int) error {
	seen := make(map[int]bool, len(a))
	for i, col := range a {
		if col < 1 || col > ncols {
			return configErrorf("assignment[%d]=%d is outside the logical column range 1..%d", i, col, ncols)
		}
		if seen[col] {
			return configErrorf("assignment[%d]=%d duplicates an earlier entry", i, col)
		}
		seen[col] = true
	}
	return nil
}

// Resolve produces the sub-matrix of src whose column i is the logical
// column assignment[i] (1-based). It runs on the Queue write path once per
// output group, so it reuses dst when dst already has the right shape;
// pass dst=nil on the first call.
func Resolve(dst *mat.Dense, src *mat.Dense, assignment ChannelAssignment) (*mat.Dense, error) {
	nrows, ncols := src.Dims()
	if err := assignment.Validate(ncols); err != nil {
		return nil, err
	}
	k := len(assignment)
	if dst != nil {
		r, c := dst.Dims()
		if r != nrows || c != k {
			dst = nil
		}
	}
	if dst == nil {
		dst = mat.NewDense(nrows, k, nil)
	}
	for i, col := range assignment {
		for r := 0; r < nrows; r++ {
			dst.Set(r, i, src.At(r, col-1))
		}
	}
	return dst, nil
}
