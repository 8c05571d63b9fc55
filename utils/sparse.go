package utils

import (
	"fmt"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/james-bowman/sparse/blas"
	"gonum.org/v1/gonum/mat"
)

type DOK struct {
	M        *sparse.DOK
	readOnly bool
	name     string
}

func NewDOK(nr, nc int) (R DOK) {
	R = DOK{
		sparse.NewDOK(nr, nc),
		false,
		"unnamed - hint: pass a variable name to SetReadOnly()",
	}
	return
}

// Dims and At minimally satisfy the mat.Matrix interface.
func (m DOK) Dims() (r, c int)    { return m.M.Dims() }
func (m DOK) At(i, j int) float64 { return m.M.At(i, j) }
func (m DOK) T() mat.Matrix       { return mat.Transpose{Matrix: m} }

func (m DOK) Set(i, j int, val float64) {
	m.checkWritable()
	m.M.Set(i, j, val)
}

// Add accumulates into an existing entry, creating it when absent.
func (m DOK) Add(i, j int, val float64) {
	m.checkWritable()
	m.M.Set(i, j, m.M.At(i, j)+val)
}

func (m *DOK) SetReadOnly(name ...string) {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
}

func (m DOK) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

// ToCSR compresses the matrix. Column indices are sorted within each row.
func (m DOK) ToCSR() CSR {
	R := CSR{
		M:        m.M.ToCSR(),
		readOnly: m.readOnly,
		name:     m.name,
	}
	R.sortRows()
	return R
}

type CSR struct {
	M        *sparse.CSR
	readOnly bool
	name     string
}

// NewCSRFromRaw builds a CSR matrix from compressed row arrays.
func NewCSRFromRaw(nr, nc int, indptr, ind []int, data []float64) (R CSR, err error) {
	if len(indptr) != nr+1 {
		err = fmt.Errorf("row pointer length %d does not match %d rows", len(indptr), nr)
		return
	}
	if len(ind) != len(data) || indptr[nr] != len(data) {
		err = fmt.Errorf("inconsistent compressed arrays: nnz = %d, len(ind) = %d, len(data) = %d",
			indptr[nr], len(ind), len(data))
		return
	}
	for _, j := range ind {
		if j < 0 || j >= nc {
			err = fmt.Errorf("column index %d out of range [0,%d)", j, nc)
			return
		}
	}
	R = CSR{
		M:    sparse.NewCSR(nr, nc, indptr, ind, data),
		name: "unnamed - hint: pass a variable name to SetReadOnly()",
	}
	R.sortRows()
	return
}

// Dims and At minimally satisfy the mat.Matrix interface.
func (m CSR) Dims() (r, c int)              { return m.M.Dims() }
func (m CSR) At(i, j int) float64           { return m.Get(i, j) }
func (m CSR) T() mat.Matrix                 { return mat.Transpose{Matrix: m} }
func (m CSR) RawMatrix() *blas.SparseMatrix { return m.M.RawMatrix() }
func (m CSR) NNZ() int                      { return len(m.RawMatrix().Data) }
func (m CSR) Name() string                  { return m.name }

func (m *CSR) SetReadOnly(name ...string) {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
}

// Get scans row i for column j.
func (m CSR) Get(i, j int) float64 {
	raw := m.RawMatrix()
	for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
		if raw.Ind[k] == j {
			return raw.Data[k]
		}
	}
	return 0
}

// Set overwrites an existing entry; the sparsity pattern is fixed.
func (m CSR) Set(i, j int, val float64) {
	m.checkWritable()
	raw := m.RawMatrix()
	for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
		if raw.Ind[k] == j {
			raw.Data[k] = val
			return
		}
	}
	panic(fmt.Errorf("entry (%d,%d) is outside the sparsity pattern of %q", i, j, m.name))
}

// MulVec computes dst = m * x.
func (m CSR) MulVec(dst, x []float64) {
	var (
		raw    = m.RawMatrix()
		nr, nc = m.Dims()
	)
	if len(dst) != nr || len(x) != nc {
		panic(fmt.Errorf("dimension mismatch: matrix %dx%d, len(dst) = %d, len(x) = %d", nr, nc, len(dst), len(x)))
	}
	for i := 0; i < nr; i++ {
		var sum float64
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			sum += raw.Data[k] * x[raw.Ind[k]]
		}
		dst[i] = sum
	}
}

// MulVecTrans computes dst = m^T * x.
func (m CSR) MulVecTrans(dst, x []float64) {
	var (
		raw    = m.RawMatrix()
		nr, nc = m.Dims()
	)
	if len(dst) != nc || len(x) != nr {
		panic(fmt.Errorf("dimension mismatch: matrix %dx%d, len(dst) = %d, len(x) = %d", nr, nc, len(dst), len(x)))
	}
	for j := range dst {
		dst[j] = 0
	}
	for i := 0; i < nr; i++ {
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			dst[raw.Ind[k]] += raw.Data[k] * x[i]
		}
	}
}

func (m CSR) Transpose() CSR {
	var (
		raw    = m.RawMatrix()
		nr, nc = m.Dims()
		T      = NewDOK(nc, nr)
	)
	for i := 0; i < nr; i++ {
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			T.Set(raw.Ind[k], i, raw.Data[k])
		}
	}
	T.name = m.name + "^T"
	return T.ToCSR()
}

// ScaleRowsCols returns diag(r) * m * diag(c). Either scale may be nil.
func (m CSR) ScaleRowsCols(r, c []float64) CSR {
	var (
		raw    = m.RawMatrix()
		nr, _  = m.Dims()
		indptr = make([]int, len(raw.Indptr))
		ind    = make([]int, len(raw.Ind))
		data   = make([]float64, len(raw.Data))
	)
	copy(indptr, raw.Indptr)
	copy(ind, raw.Ind)
	for i := 0; i < nr; i++ {
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			v := raw.Data[k]
			if r != nil {
				v *= r[i]
			}
			if c != nil {
				v *= c[raw.Ind[k]]
			}
			data[k] = v
		}
	}
	nR, nC := m.Dims()
	return CSR{
		M:    sparse.NewCSR(nR, nC, indptr, ind, data),
		name: m.name,
	}
}

func (m CSR) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

type rowEntries struct {
	ind  []int
	data []float64
}

func (r rowEntries) Len() int           { return len(r.ind) }
func (r rowEntries) Less(i, j int) bool { return r.ind[i] < r.ind[j] }
func (r rowEntries) Swap(i, j int) {
	r.ind[i], r.ind[j] = r.ind[j], r.ind[i]
	r.data[i], r.data[j] = r.data[j], r.data[i]
}

func (m CSR) sortRows() {
	var (
		raw   = m.RawMatrix()
		nr, _ = m.Dims()
	)
	for i := 0; i < nr; i++ {
		b, e := raw.Indptr[i], raw.Indptr[i+1]
		sort.Sort(rowEntries{raw.Ind[b:e], raw.Data[b:e]})
	}
}
