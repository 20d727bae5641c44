package cranker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	rbroker "futarchy-core/internal/broker/redis"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine/enginetest"
	"futarchy-core/internal/events"
	"futarchy-core/internal/proposal"
)

// runTo runs one pass per slot from the current slot to end.
func runTo(t *testing.T, f *enginetest.Fixture, c *Cranker, end uint64) Report {
	t.Helper()
	var total Report
	for slot := f.Clock.Slot() + 1; slot <= end; slot++ {
		f.Clock.Set(slot)
		rep, err := c.RunOnce(f.Ctx)
		require.NoError(t, err)
		total.Cranked += rep.Cranked
		total.Finalized += rep.Finalized
		total.Passed += rep.Passed
		total.Executed += rep.Executed
		total.Errors += rep.Errors
	}
	return total
}

func TestCranker_FinalizesAndExecutesPassedProposal(t *testing.T) {
	f := enginetest.New(t, zaptest.NewLogger(t))
	m := f.Markets(1)
	p := f.Propose(m, proposal.MemoInstruction("gm"))
	f.BuyPass(m, p, 300_000)

	c := New(f.Engine, Config{AutoExecute: true}, zaptest.NewLogger(t))
	total := runTo(t, f, c, p.SlotEnqueued+enginetest.Window)

	assert.Equal(t, 1, total.Finalized)
	assert.Equal(t, 1, total.Passed)
	assert.Equal(t, 1, total.Executed)
	assert.Zero(t, total.Errors)
	assert.Equal(t, 2*(enginetest.Window-1), total.Cranked, "both pools every slot after the swap")

	got, err := f.Engine.GetProposal(f.Ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalExecuted, got.State)

	finalized := f.Events.Named(events.NameFinalizeProposal)
	require.Len(t, finalized, 1)
	assert.Equal(t, DefaultActor, finalized[0].Actor)

	pending, err := f.Engine.PendingProposals(f.Ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rep, err := c.RunOnce(f.Ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Pending)
}

func TestCranker_FailedProposalIsNotExecuted(t *testing.T) {
	f := enginetest.New(t, zaptest.NewLogger(t))
	m := f.Markets(1)
	p := f.Propose(m, proposal.MemoInstruction("no"))

	c := New(f.Engine, Config{AutoExecute: true}, zaptest.NewLogger(t))
	total := runTo(t, f, c, p.SlotEnqueued+enginetest.Window)

	assert.Equal(t, 1, total.Finalized)
	assert.Zero(t, total.Passed)
	assert.Zero(t, total.Executed)

	got, err := f.Engine.GetProposal(f.Ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalFailed, got.State)
}

func TestCranker_PassedWithoutAutoExecuteStaysPassed(t *testing.T) {
	f := enginetest.New(t, zaptest.NewLogger(t))
	m := f.Markets(1)
	p := f.Propose(m, proposal.MemoInstruction("later"))
	f.BuyPass(m, p, 300_000)

	c := New(f.Engine, Config{}, zaptest.NewLogger(t))
	total := runTo(t, f, c, p.SlotEnqueued+enginetest.Window)
	assert.Equal(t, 1, total.Passed)
	assert.Zero(t, total.Executed)

	got, err := f.Engine.GetProposal(f.Ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPassed, got.State)
}

func TestCranker_WaitsForVotingPeriod(t *testing.T) {
	f := enginetest.New(t, zaptest.NewLogger(t))
	m := f.Markets(1)
	p := f.Propose(m, proposal.MemoInstruction("wait"))

	c := New(f.Engine, Config{}, zaptest.NewLogger(t))
	total := runTo(t, f, c, p.SlotEnqueued+enginetest.Window-1)
	assert.Zero(t, total.Finalized)
	assert.Positive(t, total.Cranked)

	got, err := f.Engine.GetProposal(f.Ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPending, got.State)
}

type heldLocker struct{ calls int }

func (l *heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.calls++
	return nil, rbroker.ErrLockHeld
}

type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, errors.New("redis down")
}

func TestCranker_LockHeldSkipsPass(t *testing.T) {
	f := enginetest.New(t, zaptest.NewLogger(t))
	m := f.Markets(1)
	p := f.Propose(m, proposal.MemoInstruction("x"))

	l := &heldLocker{}
	c := New(f.Engine, Config{}, zaptest.NewLogger(t), WithLocker(l))
	f.Clock.Set(p.SlotEnqueued + 5)

	rep, err := c.RunOnce(f.Ctx)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Zero(t, rep.Cranked)
	assert.Equal(t, 1, l.calls)
	assert.Empty(t, f.Events.Named(events.NameCrankTwap))

	_, err = New(f.Engine, Config{}, zaptest.NewLogger(t), WithLocker(brokenLocker{})).RunOnce(f.Ctx)
	assert.Error(t, err)
}

func TestCranker_RunStopsOnCancel(t *testing.T) {
	f := enginetest.New(t, zaptest.NewLogger(t))
	c := New(f.Engine, Config{Interval: 5 * time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
