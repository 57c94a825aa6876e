package lore

import (
	"context"
	"math"
	"sort"
	"strings"
)

// ScoredRecord pairs a record with its cosine similarity to a query.
type ScoredRecord struct {
	Record *Record
	Score  float64
}

// Relevant embeds the query, scores it against every stored embedding, and
// returns the content of the topK most similar records, best first.
func (s *Store) Relevant(ctx context.Context, query string, topK int) ([]string, error) {
	scored, err := s.RelevantRecords(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	contents := make([]string, len(scored))
	for i, sr := range scored {
		contents[i] = sr.Record.Content
	}
	return contents, nil
}

// RelevantRecords is Relevant with scores and full records, for callers that
// need more than the content strings. Records whose stored vector is missing,
// undecodable, of mismatched dimension, or zero-norm are skipped with a
// warning rather than poisoning the ranking.
func (s *Store) RelevantRecords(ctx context.Context, query string, topK int) ([]ScoredRecord, error) {
	if s.isClosed() {
		return nil, wrapError("relevant", ErrStoreClosed)
	}
	if topK <= 0 {
		return nil, nil
	}

	queryVector, err := s.embedder.Embed(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, wrapError("relevant", err)
	}

	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredRecord, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			s.logger.Warn("record has no usable embedding, excluded from ranking", "id", rec.ID, "title", rec.Title)
			continue
		}
		score, ok := cosineSimilarity(queryVector, rec.Embedding)
		if !ok {
			s.logger.Warn("record has degenerate embedding, excluded from ranking", "id", rec.ID, "title", rec.Title)
			continue
		}
		scored = append(scored, ScoredRecord{Record: rec, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// cosineSimilarity computes dot(a, b) / (|a| * |b|) with float64
// accumulation. The second return is false for mismatched dimensions and for
// zero-norm vectors, where the quotient is undefined.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
