package encoding

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{name: "simple vector", vector: []float32{1.0, 2.0, 3.0}},
		{name: "empty vector", vector: []float32{}},
		{name: "single element", vector: []float32{42.0}},
		{name: "negative and fractional", vector: []float32{-0.5, 1e-7, -3.25e6}},
		{name: "extremes", vector: []float32{math.MaxFloat32, -math.MaxFloat32, math.SmallestNonzeroFloat32}},
		{name: "large vector", vector: make([]float32, 1536)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range tt.vector {
				if tt.vector[i] == 0 {
					tt.vector[i] = float32(i) * 0.1
				}
			}

			encoded, err := EncodeVector(tt.vector)
			if err != nil {
				t.Fatalf("EncodeVector() error = %v", err)
			}
			if want := 4 + 4*len(tt.vector); len(encoded) != want {
				t.Errorf("encoded length = %d, want %d", len(encoded), want)
			}

			decoded, err := DecodeVector(encoded)
			if err != nil {
				t.Fatalf("DecodeVector() error = %v", err)
			}
			if len(decoded) != len(tt.vector) {
				t.Fatalf("decoded length = %d, want %d", len(decoded), len(tt.vector))
			}
			for i := range decoded {
				if math.Float32bits(decoded[i]) != math.Float32bits(tt.vector[i]) {
					t.Errorf("element %d = %v, want %v (bit-exact)", i, decoded[i], tt.vector[i])
				}
			}
		})
	}
}

func TestEncodeVectorNil(t *testing.T) {
	if _, err := EncodeVector(nil); err == nil {
		t.Error("expected error for nil vector")
	}
}

func TestDecodeVectorInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "nil", data: nil},
		{name: "too short", data: []byte{1, 0}},
		{name: "truncated payload", data: []byte{2, 0, 0, 0, 1, 2, 3, 4}},
		{name: "negative length", data: []byte{0xff, 0xff, 0xff, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeVector(tt.data); err == nil {
				t.Error("expected error for invalid blob")
			}
		})
	}
}

func TestValidateVector(t *testing.T) {
	if err := ValidateVector([]float32{1, 2, 3}); err != nil {
		t.Errorf("ValidateVector() error = %v for finite vector", err)
	}
	if err := ValidateVector(nil); err == nil {
		t.Error("expected error for nil vector")
	}
	if err := ValidateVector([]float32{1, float32(math.NaN())}); err == nil {
		t.Error("expected error for NaN")
	}
	if err := ValidateVector([]float32{float32(math.Inf(1))}); err == nil {
		t.Error("expected error for Inf")
	}
}
