package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScanner struct {
	result  RankedResult
	entered chan struct{}
	release chan struct{}
}

func (s *stubScanner) Run(ctx context.Context, _ []Network, _ FilterConfig) RankedResult {
	if s.entered != nil {
		close(s.entered)
		<-s.release
	}
	return s.result
}

type stubNotifier struct {
	name    string
	err     error
	mu      sync.Mutex
	reports []string
}

func (n *stubNotifier) Name() string { return n.name }

func (n *stubNotifier) Notify(_ context.Context, report string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return n.err
}

type memDedup struct {
	keys map[string]bool
}

func (d *memDedup) AlreadySent(_ context.Context, key string) bool { return d.keys[key] }
func (d *memDedup) Record(_ context.Context, key string)           { d.keys[key] = true }

type stubPublisher struct {
	runs []*Run
	err  error
}

func (p *stubPublisher) Publish(_ context.Context, run *Run) error {
	p.runs = append(p.runs, run)
	return p.err
}

func serviceConfig() ServiceConfig {
	return ServiceConfig{
		Networks: []Network{{Name: "arbitrum", Chain: "Arbitrum"}},
		Filter:   FilterConfig{MinTVLUSD: 300_000, MinAPRPct: 8, TopN: 15},
		Report:   ReportOptions{Limit: 10},
	}
}

func sampleResult() RankedResult {
	return RankedResult{"arbitrum": {aggPool("WETH-USDC", "Arbitrum", 12)}}
}

func TestRunOnceNotifiesAndPublishes(t *testing.T) {
	n := &stubNotifier{name: "telegram"}
	pub := &stubPublisher{}
	svc := NewService(&stubScanner{result: sampleResult()}, serviceConfig(), testLogger(),
		WithNotifier(n), WithPublisher(pub))

	run, err := svc.RunOnce(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.True(t, run.Notified)
	assert.False(t, run.Deduplicated)
	require.Len(t, n.reports, 1)
	assert.Contains(t, n.reports[0], "WETH-USDC")
	require.Len(t, pub.runs, 1)
	assert.Equal(t, run.ID, pub.runs[0].ID)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestRunOnceDeduplicatesIdenticalResults(t *testing.T) {
	n := &stubNotifier{name: "telegram"}
	d := &memDedup{keys: map[string]bool{}}
	svc := NewService(&stubScanner{result: sampleResult()}, serviceConfig(), testLogger(),
		WithNotifier(n), WithDeduper(d))

	first, err := svc.RunOnce(context.Background(), RunOptions{})
	require.NoError(t, err)
	second, err := svc.RunOnce(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.True(t, first.Notified)
	assert.True(t, second.Deduplicated)
	assert.False(t, second.Notified)
	assert.Len(t, n.reports, 1)

	forced, err := svc.RunOnce(context.Background(), RunOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, forced.Notified)
	assert.Len(t, n.reports, 2)
}

func TestRunOnceNotifyFailure(t *testing.T) {
	good := &stubNotifier{name: "good"}
	bad := &stubNotifier{name: "bad", err: errors.New("chat not found")}
	d := &memDedup{keys: map[string]bool{}}
	pub := &stubPublisher{}
	svc := NewService(&stubScanner{result: sampleResult()}, serviceConfig(), testLogger(),
		WithNotifier(good), WithNotifier(bad), WithDeduper(d), WithPublisher(pub))

	run, err := svc.RunOnce(context.Background(), RunOptions{})

	require.Error(t, err)
	assert.ErrorContains(t, err, "notify bad")
	require.NotNil(t, run)
	assert.True(t, run.Notified)
	assert.Empty(t, d.keys, "failed delivery must not be recorded")
	assert.Len(t, pub.runs, 1)
}

func TestRunOncePublishFailureIsNotFatal(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	svc := NewService(&stubScanner{result: sampleResult()}, serviceConfig(), testLogger(), WithPublisher(pub))

	_, err := svc.RunOnce(context.Background(), RunOptions{})

	assert.NoError(t, err)
}

func TestRunOnceRejectsConcurrentRun(t *testing.T) {
	sc := &stubScanner{
		result:  sampleResult(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewService(sc, serviceConfig(), testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunOnce(context.Background(), RunOptions{})
		done <- err
	}()

	<-sc.entered
	_, err := svc.RunOnce(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(sc.release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestResultKey(t *testing.T) {
	networks := []Network{{Name: "arbitrum"}, {Name: "bsc"}}
	base := RankedResult{"arbitrum": {{PairLabel: "A-B", APRPct: 10.2, TVLUSD: 1000.4}}}

	same := RankedResult{"arbitrum": {{PairLabel: "A-B", APRPct: 10.4, TVLUSD: 1000.1}}}
	changed := RankedResult{"arbitrum": {{PairLabel: "A-B", APRPct: 11, TVLUSD: 1000}}}
	moved := RankedResult{"bsc": {{PairLabel: "A-B", APRPct: 10, TVLUSD: 1000}}}

	assert.Equal(t, ResultKey(base, networks), ResultKey(same, networks))
	assert.NotEqual(t, ResultKey(base, networks), ResultKey(changed, networks))
	assert.NotEqual(t, ResultKey(base, networks), ResultKey(moved, networks))
}
