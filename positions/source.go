package positions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SOURCES - Per-protocol LP position discovery
// ═══════════════════════════════════════════════════════════════════════════════
//
// Sources are fetched concurrently each cycle. One source failing costs its
// positions for the cycle, nothing more; the cycle aborts only when every
// source fails, because hedging against a guessed exposure is worse than
// waiting one interval.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Source discovers LP positions for a wallet on one protocol.
type Source interface {
	Name() string
	Fetch(ctx context.Context, wallet string) ([]types.Position, error)
}

// Result is one source's outcome for a cycle.
type Result struct {
	Source    string
	Positions []types.Position
	Err       error
}

// FetchAll queries every source concurrently and merges what succeeded.
// Returns an error only when all sources failed.
func FetchAll(ctx context.Context, wallet string, sources []Source) ([]types.Position, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no position sources configured")
	}

	results := make(chan Result, len(sources))
	for _, src := range sources {
		go func(s Source) {
			positions, err := s.Fetch(ctx, wallet)
			results <- Result{Source: s.Name(), Positions: positions, Err: err}
		}(src)
	}

	var merged []types.Position
	failures := 0
	for range sources {
		r := <-results
		if r.Err != nil {
			failures++
			log.Error().Err(r.Err).Str("source", r.Source).Msg("Position source failed")
			continue
		}
		log.Debug().
			Str("source", r.Source).
			Int("positions", len(r.Positions)).
			Msg("Positions fetched")
		merged = append(merged, r.Positions...)
	}

	if failures == len(sources) {
		return nil, fmt.Errorf("all %d position sources failed", len(sources))
	}

	return merged, nil
}
