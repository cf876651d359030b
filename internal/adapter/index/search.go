package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"aembot/internal/domain"
)

// maxScanCandidates bounds the number of fragments loaded per search.
const maxScanCandidates = 10000

// Search implements domain.FragmentIndex. The query is embedded and
// compared against every stored fragment; the top limit fragments by
// cosine similarity are returned in descending score order.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]domain.Fragment, error) {
	if limit <= 0 {
		limit = 4
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", domain.ErrIndexSearch, err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embed query: no vector returned", domain.ErrIndexSearch)
	}
	queryVec := vecs[0]

	rows, err := s.db.QueryContext(ctx,
		"SELECT content, source, embedding FROM fragments LIMIT ?",
		maxScanCandidates,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: scan fragments: %v", domain.ErrIndexSearch, err)
	}
	defer rows.Close()

	var candidates []domain.Fragment
	for rows.Next() {
		var (
			frag domain.Fragment
			blob []byte
		)
		if err := rows.Scan(&frag.Content, &frag.Source, &blob); err != nil {
			continue
		}

		emb := bytesToFloat32(blob)
		sim := cosineSimilarity(queryVec, emb)
		if sim <= 0 {
			continue
		}

		frag.Score = sim
		candidates = append(candidates, frag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan fragments: %v", domain.ErrIndexSearch, err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(float64(result)) || math.IsInf(float64(result), 0) {
		return 0
	}
	return result
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
