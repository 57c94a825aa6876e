// Package encoding packs embedding vectors into the BLOB layout used by the
// lore store: a little-endian int32 element count followed by each value as a
// little-endian IEEE 754 float32. The layout must stay stable for the life of
// a database file; decoding with a different layout silently corrupts every
// similarity comparison.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned for nil vectors or undecodable blobs.
var ErrInvalidVector = errors.New("invalid vector")

const maxVectorLen = math.MaxInt32

// EncodeVector packs a float32 vector into its binary storage form.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > maxVectorLen {
		return nil, fmt.Errorf("vector too large: %d elements", len(vector))
	}

	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf, uint32(int32(len(vector))))
	for i, val := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(val))
	}
	return buf, nil
}

// DecodeVector unpacks a blob produced by EncodeVector. The round trip is
// bit-for-bit exact.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	length := int32(binary.LittleEndian.Uint32(data))
	if length < 0 {
		return nil, ErrInvalidVector
	}
	if len(data)-4 < int(length)*4 {
		return nil, fmt.Errorf("%w: blob holds %d bytes, need %d", ErrInvalidVector, len(data)-4, length*4)
	}

	vector := make([]float32, length)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vector, nil
}

// ValidateVector rejects empty vectors and vectors carrying NaN or Inf
// values, which would poison cosine scoring.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for i, val := range vector {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidVector, i)
		}
	}
	return nil
}
