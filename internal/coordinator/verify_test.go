package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/storage/memory"
)

// scriptedVerifier behaves differently per position.
type scriptedVerifier struct {
	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

func (v *scriptedVerifier) Verify(ctx context.Context, task crawler.VerifyTask) (*crawler.VerifyResult, error) {
	v.calls.Add(1)
	n := v.active.Add(1)
	defer v.active.Add(-1)
	for {
		peak := v.peak.Load()
		if n <= peak || v.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	switch task.Position {
	case 1:
		return &crawler.VerifyResult{URL: "https://example.com/1", Rank: 2}, nil
	case 2:
		return nil, nil
	case 3:
		return nil, errors.New("fetch failed")
	case 4:
		panic("verifier exploded")
	case 5:
		<-ctx.Done()
		return nil, ctx.Err()
	default:
		time.Sleep(10 * time.Millisecond)
		return &crawler.VerifyResult{URL: "https://example.com/other", Rank: int(task.Position)}, nil
	}
}

func TestVerify_CollectsEveryOutcome(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	verifier := &scriptedVerifier{}
	c := newCoordinator(t, Config{TargetPages: 1, VerifyTimeout: 200 * time.Millisecond}, Dependencies{
		Frontier: store,
		Index:    store,
		Verifier: verifier,
	})

	start := time.Now()
	results := c.Verify(context.Background(), []int64{1, 2, 3, 4, 5}, []string{"alpha"}, true)
	require.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, results, 5)
	require.Equal(t, &crawler.VerifyResult{URL: "https://example.com/1", Rank: 2}, results[0])
	for _, r := range results[1:] {
		require.Nil(t, r)
	}
	require.Equal(t, int32(5), verifier.calls.Load())
}

func TestVerify_RespectsParallelismLimit(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	verifier := &scriptedVerifier{}
	c := newCoordinator(t, Config{TargetPages: 1, VerifyTimeout: 5 * time.Second, VerifyParallelism: 2}, Dependencies{
		Frontier: store,
		Index:    store,
		Verifier: verifier,
	})

	positions := []int64{10, 11, 12, 13, 14, 15}
	results := c.Verify(context.Background(), positions, []string{"alpha"}, false)

	require.Len(t, results, len(positions))
	for i, r := range results {
		require.NotNil(t, r)
		require.Equal(t, int(positions[i]), r.Rank)
	}
	require.LessOrEqual(t, verifier.peak.Load(), int32(2))
}

func TestVerify_EmptyAndUnconfigured(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	c := newCoordinator(t, Config{TargetPages: 1}, Dependencies{Frontier: store, Index: store})

	require.Empty(t, c.Verify(context.Background(), nil, []string{"alpha"}, false))
	require.Equal(t, []*crawler.VerifyResult{nil, nil}, c.Verify(context.Background(), []int64{1, 2}, []string{"alpha"}, false))
}

func TestVerify_CallerCancellation(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	c := newCoordinator(t, Config{TargetPages: 1}, Dependencies{
		Frontier: store,
		Index:    store,
		Verifier: &scriptedVerifier{},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	results := c.Verify(ctx, []int64{1, 5}, []string{"alpha"}, false)
	require.Len(t, results, 2)
	require.Nil(t, results[1])
}
