package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
)

var (
	testAmm  = domain.AddressFromSeed("amm")
	testUser = domain.AddressFromSeed("user")
)

func swapRecord(t *testing.T, seq uint64, updated bool) domain.EventRecord {
	t.Helper()
	rec, err := Seal(&SwapEvent{
		Common:        Common{Slot: 10 + seq, UnixTimestamp: 1700000000, User: testUser, SeqNum: seq},
		Amm:           testAmm,
		SwapType:      domain.SwapBuy,
		InputAmount:   100,
		OutputAmount:  98,
		OracleUpdated: updated,
		Post: PoolState{
			BaseReserve:  1000,
			QuoteReserve: 2000,
			LpSupply:     1000,
			Oracle: OracleState{
				LastUpdatedSlot: 10 + seq,
				LastPrice:       fixedpoint.NewU128(2_000_000_000_000),
				LastObservation: fixedpoint.NewU128(1_010_000_000_000),
				Aggregator:      fixedpoint.NewU128(5),
			},
		},
	})
	require.NoError(t, err)
	return rec
}

func TestSealDecode(t *testing.T) {
	rec := swapRecord(t, 3, true)
	assert.Equal(t, NameSwap, rec.Name)
	assert.Equal(t, testAmm, rec.Principal)
	assert.Equal(t, uint64(3), rec.SeqNum)
	assert.Equal(t, uint64(13), rec.Slot)
	assert.Equal(t, testUser, rec.Actor)
	assert.Contains(t, string(rec.Payload), `"last_price":"2000000000000"`)
	assert.Contains(t, string(rec.Payload), `"swap_type":"BUY"`)

	e, err := Decode(rec)
	require.NoError(t, err)
	swap, ok := e.(*SwapEvent)
	require.True(t, ok, "decoded %T", e)
	assert.Equal(t, uint64(98), swap.OutputAmount)
	assert.Equal(t, testUser, swap.User)
	assert.Equal(t, "1010000000000", swap.Post.Oracle.LastObservation.String())

	_, err = Decode(domain.EventRecord{Name: "NopeEvent"})
	assert.Error(t, err)
}

func TestSealDecode_VaultEvents(t *testing.T) {
	vault := domain.AddressFromSeed("vault")
	rec, err := Seal(&RedeemTokensEvent{
		Common: Common{SeqNum: 1},
		VaultChange: VaultChange{
			Vault:                        vault,
			Amount:                       17,
			PostUserConditionalBalances:  []uint64{0, 0},
			PostConditionalTokenSupplies: []uint64{10, 20},
		},
		PayoutNumerators: []uint32{3, 7},
	})
	require.NoError(t, err)
	assert.Equal(t, vault, rec.Principal)

	e, err := Decode(rec)
	require.NoError(t, err)
	redeem := e.(*RedeemTokensEvent)
	assert.Equal(t, uint64(17), redeem.Amount)
	assert.Equal(t, []uint32{3, 7}, redeem.PayoutNumerators)
}

func TestNames_AllDecodable(t *testing.T) {
	require.Len(t, factories, len(Names()))
	for _, name := range Names() {
		newEvent, ok := factories[name]
		require.True(t, ok, name)
		assert.Equal(t, name, newEvent().Name())
	}
}

func TestObservations(t *testing.T) {
	crank, err := Seal(&CrankTwapEvent{
		Common:  Common{SeqNum: 4},
		Amm:     testAmm,
		Updated: true,
		Post:    PoolState{Oracle: OracleState{LastUpdatedSlot: 20}},
	})
	require.NoError(t, err)
	noop, err := Seal(&CrankTwapEvent{Common: Common{SeqNum: 5}, Amm: testAmm})
	require.NoError(t, err)
	other, err := Seal(&InitializeQuestionEvent{Question: domain.AddressFromSeed("q")})
	require.NoError(t, err)

	obs, err := Observations([]domain.EventRecord{swapRecord(t, 1, true), swapRecord(t, 2, false), crank, noop, other})
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "swap", obs[0].Source)
	assert.Equal(t, uint64(11), obs[0].Slot)
	assert.Equal(t, uint64(1000), obs[0].BaseReserve)
	assert.Equal(t, "2000000000000", obs[0].Price.String())
	assert.Equal(t, "crank", obs[1].Source)
	assert.Equal(t, uint64(4), obs[1].SeqNum)
}

// flakySink fails its first n publishes.
type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []domain.EventRecord
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Publish(_ context.Context, batch []domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("unavailable")
	}
	s.got = append(s.got, batch...)
	return nil
}

// blockingSink never delivers until released.
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Publish(ctx context.Context, _ []domain.EventRecord) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := NewRecorder()
	flaky := &flakySink{failures: 2}
	d := NewDispatcher(DispatcherConfig{QueueSize: 4, MaxRetries: 3, RetryBackoff: time.Millisecond}, zaptest.NewLogger(t), rec, flaky)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	for i := uint64(1); i <= 10; i++ {
		d.Emit([]domain.EventRecord{swapRecord(t, i, true)})
	}
	d.Emit(nil)
	d.Close()
	d.Emit([]domain.EventRecord{swapRecord(t, 99, true)})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain")
	}

	got := rec.Records()
	require.Len(t, got, 10)
	for i, r := range got {
		assert.Equal(t, uint64(i+1), r.SeqNum)
	}
	assert.Len(t, flaky.got, 10, "retries recover transient failures")
}

func TestDispatcher_FullQueueBlocksEmit(t *testing.T) {
	rec := NewRecorder()
	slow := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{QueueSize: 1, RetryBackoff: time.Millisecond}, zaptest.NewLogger(t), slow, rec)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	const n = 8
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for i := uint64(1); i <= n; i++ {
			d.Emit([]domain.EventRecord{swapRecord(t, i, true)})
		}
	}()

	select {
	case <-emitted:
		t.Fatal("emit should block while the slow sink holds the queue")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Less(t, len(rec.Records()), n)

	close(slow.release)
	select {
	case <-emitted:
	case <-time.After(5 * time.Second):
		t.Fatal("emit did not resume")
	}
	d.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain")
	}

	got := rec.Records()
	require.Len(t, got, n, "nothing dropped")
	for i, r := range got {
		assert.Equal(t, uint64(i+1), r.SeqNum)
	}
}

func TestDispatcher_SlowSinkDoesNotBlockOthers(t *testing.T) {
	rec := NewRecorder()
	slow := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{QueueSize: 16, RetryBackoff: time.Millisecond}, zaptest.NewLogger(t), slow, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Emit([]domain.EventRecord{swapRecord(t, 1, true)})
	d.Emit([]domain.EventRecord{swapRecord(t, 2, true)})

	require.Eventually(t, func() bool { return len(rec.Records()) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	close(slow.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
