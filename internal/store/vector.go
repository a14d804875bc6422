package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector packs v as little-endian IEEE 754 float32 values without a
// length prefix. A nil or empty vector encodes to NULL.
func EncodeVector(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b := make([]byte, len(v)*4)
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil, fmt.Errorf("vector component %d is not finite", i)
		}
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b, nil
}

// DecodeVector reverses EncodeVector; the dimension is the blob size / 4.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
