package archive

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nettoneko/hoolamike/pkg/herrors"
)

// costEstimator ranks root archives by predicted extraction cost so Preheat
// can schedule non-7z archives first (spec §4.2: "7z is dominant-slow").
type costEstimator func(hash string) (FormatTag, int64, error)

// Preheat warms the cache for the given root archive hashes in chunks no
// larger than diskBudgetBytes, running up to concurrency extractions at
// once (spec §4.2's `preheat` contract). Archives are grouped cheapest
// first; each chunk's handles remain resident until the caller's Evict
// calls release them once the consuming phase finishes.
func (c *Cache) Preheat(ctx context.Context, hashes []string, diskBudgetBytes int64, concurrency int, estimate costEstimator) error {
	type candidate struct {
		hash   string
		format FormatTag
		size   int64
	}

	candidates := make([]candidate, 0, len(hashes))
	for _, hash := range hashes {
		format, size, err := estimate(hash)
		if err != nil {
			return herrors.ArchiveMissError(err, "unable to estimate cost for %q", hash)
		}
		candidates = append(candidates, candidate{hash, format, size})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		iSlow, jSlow := candidates[i].format == Format7z, candidates[j].format == Format7z
		if iSlow != jSlow {
			return !iSlow // non-7z first
		}
		return candidates[i].size < candidates[j].size
	})

	for start := 0; start < len(candidates); {
		var chunk []candidate
		var chunkBytes int64
		for start < len(candidates) {
			next := candidates[start]
			if len(chunk) > 0 && chunkBytes+next.size > diskBudgetBytes {
				break
			}
			chunk = append(chunk, next)
			chunkBytes += next.size
			start++
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(concurrency)
		for _, cand := range chunk {
			hash := cand.hash
			group.Go(func() error {
				_, err := c.resolve(groupCtx, hash, nil)
				return err
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
	}

	return nil
}
