package vectorstore

import (
	"sort"

	"github.com/agenttic/agenttic/pkg/domain"
)

// rrfK dampens the weight of lower ranks; 60 is the conventional value.
const rrfK = 60

// fuseRRF merges two rankings by reciprocal rank fusion: each chunk
// scores sum(1/(rrfK+rank)) over the lists it appears in. Stable for
// equal scores via chunk id, so results are deterministic.
func fuseRRF(dense, sparse []domain.ScoredChunk, topK int) []domain.ScoredChunk {
	type fused struct {
		chunk domain.Chunk
		score float64
	}
	byID := make(map[string]*fused)

	accumulate := func(list []domain.ScoredChunk) {
		for rank, sc := range list {
			contribution := 1.0 / float64(rrfK+rank+1)
			if f, ok := byID[sc.Chunk.ChunkID]; ok {
				f.score += contribution
			} else {
				byID[sc.Chunk.ChunkID] = &fused{chunk: sc.Chunk, score: contribution}
			}
		}
	}
	accumulate(dense)
	accumulate(sparse)

	merged := make([]domain.ScoredChunk, 0, len(byID))
	for _, f := range byID {
		merged = append(merged, domain.ScoredChunk{Chunk: f.chunk, Score: f.score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Chunk.ChunkID < merged[j].Chunk.ChunkID
	})

	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}
