package utils

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
)

var ErrCorruptMatrix = errors.New("corrupt binary matrix")

// Binary matrix layout: int64 rows, cols, nnz, then int64 row pointers,
// int64 column indices and float64 values, all little endian.

func WriteMatrixBinary(fileName string, A CSR) (err error) {
	var (
		f   *os.File
		raw = A.RawMatrix()
	)
	if f, err = os.Create(fileName); err != nil {
		return
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	nr, nc := A.Dims()
	header := []int64{int64(nr), int64(nc), int64(len(raw.Data))}
	if err = binary.Write(w, binary.LittleEndian, header); err != nil {
		return
	}
	if err = binary.Write(w, binary.LittleEndian, toInt64(raw.Indptr[:nr+1])); err != nil {
		return
	}
	if err = binary.Write(w, binary.LittleEndian, toInt64(raw.Ind)); err != nil {
		return
	}
	if err = binary.Write(w, binary.LittleEndian, raw.Data); err != nil {
		return
	}
	return w.Flush()
}

func ReadMatrixBinary(fileName string) (A CSR, err error) {
	var f *os.File
	if f, err = os.Open(fileName); err != nil {
		return
	}
	defer f.Close()
	var fi os.FileInfo
	if fi, err = f.Stat(); err != nil {
		return
	}
	r := bufio.NewReader(f)
	header := make([]int64, 3)
	if err = binary.Read(r, binary.LittleEndian, header); err != nil {
		return
	}
	if err = checkMatrixHeader(header, fi.Size()); err != nil {
		err = fmt.Errorf("%w in %s", err, fileName)
		return
	}
	nr, nc, nnz := int(header[0]), int(header[1]), int(header[2])
	var (
		indptr = make([]int64, nr+1)
		ind    = make([]int64, nnz)
		data   = make([]float64, nnz)
	)
	if err = binary.Read(r, binary.LittleEndian, indptr); err != nil {
		return
	}
	if err = binary.Read(r, binary.LittleEndian, ind); err != nil {
		return
	}
	if err = binary.Read(r, binary.LittleEndian, data); err != nil {
		return
	}
	return NewCSRFromRaw(nr, nc, fromInt64(indptr), fromInt64(ind), data)
}

/*
checkMatrixHeader rejects a header whose counts are negative, hold more
entries than rows*cols, or disagree with the file size, before anything is
allocated from them.
*/
func checkMatrixHeader(header []int64, size int64) error {
	nr, nc, nnz := header[0], header[1], header[2]
	if nr < 0 || nc < 0 || nnz < 0 {
		return fmt.Errorf("%w: negative counts %v", ErrCorruptMatrix, header)
	}
	// (nnz-1)/nr >= nc is nnz > nr*nc without the overflow
	if nnz > 0 && (nr == 0 || nc == 0 || (nnz-1)/nr >= nc) {
		return fmt.Errorf("%w: %d entries in a %d x %d matrix", ErrCorruptMatrix, nnz, nr, nc)
	}
	words := size / 8
	if nr >= words || nnz > words {
		return fmt.Errorf("%w: %d rows and %d entries in a %d byte file", ErrCorruptMatrix, nr, nnz, size)
	}
	if want := 8 * (3 + nr + 1 + 2*nnz); want != size {
		return fmt.Errorf("%w: header needs %d bytes, file has %d", ErrCorruptMatrix, want, size)
	}
	return nil
}

// WriteMatrixASCII writes one "row col value" triplet per line.
func WriteMatrixASCII(fileName string, A CSR) (err error) {
	var (
		f      *os.File
		raw    = A.RawMatrix()
		nr, nc = A.Dims()
	)
	if f, err = os.Create(fileName); err != nil {
		return
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%% %s %d x %d, nnz = %d\n", A.Name(), nr, nc, len(raw.Data))
	for i := 0; i < nr; i++ {
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			fmt.Fprintf(w, "%d %d %.17g\n", i, raw.Ind[k], raw.Data[k])
		}
	}
	return w.Flush()
}

func WriteVectorBinary(fileName string, v []float64) (err error) {
	var f *os.File
	if f, err = os.Create(fileName); err != nil {
		return
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if len(v) == 0 {
		// gonum refuses to marshal an empty vector
		return binary.Write(f, binary.LittleEndian, int64(0))
	}
	_, err = mat.NewVecDense(len(v), v).MarshalBinaryTo(f)
	return
}

func ReadVectorBinary(fileName string) (v []float64, err error) {
	var data []byte
	if data, err = os.ReadFile(fileName); err != nil {
		return
	}
	if len(data) == 8 {
		return []float64{}, nil
	}
	var vec mat.VecDense
	if err = vec.UnmarshalBinary(data); err != nil {
		return
	}
	v = make([]float64, vec.Len())
	for i := range v {
		v[i] = vec.AtVec(i)
	}
	return
}

func WriteVectorASCII(fileName string, v []float64) (err error) {
	var f *os.File
	if f, err = os.Create(fileName); err != nil {
		return
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return writeVectorASCII(f, v)
}

func writeVectorASCII(out io.Writer, v []float64) error {
	w := bufio.NewWriter(out)
	for _, val := range v {
		fmt.Fprintf(w, "%.17g\n", val)
	}
	return w.Flush()
}

func toInt64(a []int) (b []int64) {
	b = make([]int64, len(a))
	for i, v := range a {
		b[i] = int64(v)
	}
	return
}

func fromInt64(a []int64) (b []int) {
	b = make([]int, len(a))
	for i, v := range a {
		b[i] = int(v)
	}
	return
}
