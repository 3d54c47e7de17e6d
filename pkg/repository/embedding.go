package repository

import "math"

// embeddingBytes and embeddingFromBytes convert between []float32 and
// the little-endian BYTEA encoding stored alongside documents,
// entities, and claims. No vector extension or index is used:
// ClaimRepository.FindSimilar decodes the stored bytes and computes
// cosine similarity in Go.
func embeddingBytes(v []float32) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4+0] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func embeddingFromBytes(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
