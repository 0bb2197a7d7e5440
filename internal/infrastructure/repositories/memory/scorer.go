package memory

import (
	"context"
	"hash/fnv"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
)

// PairScorer is a deterministic stand-in for the recommendation service's
// compatibility scoring. Same pair, same score, regardless of order.
type PairScorer struct{}

func NewPairScorer() ports.Scorer {
	return &PairScorer{}
}

func (s *PairScorer) Score(ctx context.Context, a, b domain.UserID) (float64, error) {
	lo, hi := string(a), string(b)
	if lo > hi {
		lo, hi = hi, lo
	}

	h := fnv.New32a()
	h.Write([]byte(lo))
	h.Write([]byte{0})
	h.Write([]byte(hi))

	// Map onto [50, 100) so the UI always has something flattering to show.
	return 50 + float64(h.Sum32()%5000)/100, nil
}
