// Package encoding converts dense vectors to and from the little-endian
// byte blobs persisted in the vector store's SQLite rows.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned for nil, empty, or NaN/Inf-containing vectors.
var ErrInvalidVector = errors.New("encoding: invalid vector")

// EncodeVector serializes a float32 vector as a length-prefixed,
// little-endian byte blob.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}

	buf := new(bytes.Buffer)
	if len(vector) > math.MaxInt32 {
		return nil, fmt.Errorf("encoding: vector too large: %d elements", len(vector))
	}
	if err := binary.Write(buf, binary.LittleEndian, int32(len(vector))); err != nil {
		return nil, fmt.Errorf("encoding: write length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("encoding: write values: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVector deserializes a blob produced by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	r := bytes.NewReader(data)
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("encoding: read length: %w", err)
	}
	if length < 0 {
		return nil, ErrInvalidVector
	}
	if length == 0 {
		return []float32{}, nil
	}
	if r.Len() < int(length)*4 {
		return nil, ErrInvalidVector
	}

	vec := make([]float32, length)
	if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("encoding: read values: %w", err)
	}
	return vec, nil
}

// ValidateVector rejects nil, empty, and NaN/Inf-containing vectors.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, v := range vector {
		f := float64(v)
		if f != f || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
