package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// headerSize is the int32 count followed by the int32 dim.
const headerSize = 8

// Representative is the persisted summary of an identity: one or more
// vectors of a single dimension.
type Representative struct {
	Vectors [][]float32
}

// NewSingle wraps one vector as a representative of count 1.
func NewSingle(v []float32) Representative {
	return Representative{Vectors: [][]float32{v}}
}

func (r Representative) Count() int { return len(r.Vectors) }

// Dim returns the shared vector dimension, 0 for an empty representative.
func (r Representative) Dim() int {
	if len(r.Vectors) == 0 {
		return 0
	}
	return len(r.Vectors[0])
}

// IsSingle reports whether the representative holds exactly one vector.
func (r Representative) IsSingle() bool { return len(r.Vectors) == 1 }

// Single returns the only vector of a count-1 representative.
func (r Representative) Single() ([]float32, bool) {
	if !r.IsSingle() {
		return nil, false
	}
	return r.Vectors[0], true
}

// Validate checks count >= 1, dim >= 1 and that every vector has the same length.
func (r Representative) Validate() error {
	if len(r.Vectors) == 0 {
		return fmt.Errorf("%w: no vectors", ErrShapeMismatch)
	}
	dim := len(r.Vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero dimension", ErrShapeMismatch)
	}
	for i, v := range r.Vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dim %d, want %d", ErrShapeMismatch, i, len(v), dim)
		}
	}
	return nil
}

// MarshalBinary lays out int32 count, int32 dim and count*dim float32
// values, all little-endian.
func (r Representative) MarshalBinary() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	count, dim := r.Count(), r.Dim()
	if int64(count) > math.MaxInt32 || int64(dim) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %dx%d does not fit the header", ErrShapeMismatch, count, dim)
	}

	buf := make([]byte, headerSize+4*count*dim)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(count)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(dim)))
	off := headerSize
	for _, v := range r.Vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(x))
			off += 4
		}
	}
	return buf, nil
}

// UnmarshalRepresentative parses the layout written by MarshalBinary.
// The payload length must equal the size declared by the header.
func UnmarshalRepresentative(data []byte) (Representative, error) {
	if len(data) < headerSize {
		return Representative{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}
	count := int32(binary.LittleEndian.Uint32(data[0:4]))
	dim := int32(binary.LittleEndian.Uint32(data[4:8]))
	if count < 1 || dim < 1 {
		return Representative{}, fmt.Errorf("%w: header declares %dx%d", ErrShapeMismatch, count, dim)
	}

	want := int64(count) * int64(dim) * 4
	if got := int64(len(data) - headerSize); got != want {
		return Representative{}, fmt.Errorf("%w: header declares %dx%d (%d bytes), payload has %d",
			ErrShapeMismatch, count, dim, want, got)
	}

	vectors := make([][]float32, count)
	off := headerSize
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vectors[i] = v
	}
	return Representative{Vectors: vectors}, nil
}
