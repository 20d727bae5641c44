package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine"
	"futarchy-core/internal/engine/enginetest"
	"futarchy-core/internal/events"
	"futarchy-core/internal/proposal"
	"futarchy-core/internal/storage"
	"futarchy-core/internal/storage/memory"
	"futarchy-core/internal/token"
	"futarchy-core/internal/vault"
)

type harness struct {
	t      *testing.T
	f      *enginetest.Fixture
	events *memory.EventStore
	h      http.Handler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := enginetest.New(t, logger)
	store := memory.NewEventStore()
	srv := New(cfg, Deps{
		Engine:       f.Engine,
		Events:       store,
		Observations: memory.NewObservationStore(),
	}, logger)
	return &harness{t: t, f: f, events: store, h: srv.Handler()}
}

// flushEvents copies recorded events into the event store.
func (h *harness) flushEvents() {
	h.t.Helper()
	require.NoError(h.t, events.NewStoreSink(h.events).Publish(context.Background(), h.f.Events.Records()))
	h.f.Events.Reset()
}

func (h *harness) do(method, path string, actor *domain.Address, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req.Header.Set(ActorHeader, actor.String())
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("get amm: %w", storage.ErrNotFound), http.StatusNotFound},
		{token.ErrMintNotFound, http.StatusNotFound},
		{engine.ErrAlreadyExists, http.StatusConflict},
		{proposal.ErrProposalAlreadyFinalized, http.StatusConflict},
		{proposal.ErrNoProposalReplay, http.StatusConflict},
		{amm.ErrSwapSlippageExceeded, http.StatusUnprocessableEntity},
		{proposal.ErrProposalTooYoung, http.StatusUnprocessableEntity},
		{vault.ErrCantRedeemConditionalTokens, http.StatusUnprocessableEntity},
		{amm.ErrZeroSwapAmount, http.StatusBadRequest},
		{vault.ErrInsufficientConditionalTokens, http.StatusBadRequest},
		{proposal.ErrMissingAccount, http.StatusBadRequest},
		{errBadRequest, http.StatusBadRequest},
		{pkgerrors.WithStack(amm.ErrSwapInvariant), http.StatusInternalServerError},
		{engine.ErrWriteFailed, http.StatusInternalServerError},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestServer_HealthAndStatus(t *testing.T) {
	h := newHarness(t, Config{})

	rec := h.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	h.f.Clock.Set(77)
	rec = h.do(http.MethodGet, "/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[statusResponse](t, rec)
	assert.Equal(t, uint64(77), st.Slot)
	assert.Zero(t, st.PendingProposals)
	assert.False(t, st.DevFaucet)
}

func TestServer_RequestErrors(t *testing.T) {
	h := newHarness(t, Config{})

	t.Run("missing actor", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/api/mints", nil, engine.CreateMintParams{Decimals: 6})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), ActorHeader)
	})

	t.Run("bad path address", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/api/amms/not-base58-0OIl", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown amm", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/api/amms/"+domain.AddressFromSeed("nope").String(), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		actor := enginetest.Authority
		rec := h.do(http.MethodPost, "/api/mints", &actor, map[string]any{"decimals": 6, "supply": 5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate mint", func(t *testing.T) {
		actor := enginetest.Authority
		rec := h.do(http.MethodPost, "/api/mints", &actor, engine.CreateMintParams{Address: enginetest.MetaMint, Decimals: 6})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestServer_Ledger(t *testing.T) {
	h := newHarness(t, Config{})
	authority := enginetest.Authority
	owner := domain.AddressFromSeed("holder")

	rec := h.do(http.MethodPost, "/api/mints", &authority, engine.CreateMintParams{Decimals: 9})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m := decodeBody[token.Mint](t, rec)
	assert.Equal(t, authority, m.Authority)
	assert.Equal(t, uint8(9), m.Decimals)

	rec = h.do(http.MethodPost, "/api/mints/"+m.Address.String()+"/mint_to", &authority, mintToRequest{Owner: owner, Amount: 500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(500), decodeBody[map[string]uint64](t, rec)["balance"])

	// Only the authority mints.
	rec = h.do(http.MethodPost, "/api/mints/"+m.Address.String()+"/mint_to", &owner, mintToRequest{Owner: owner, Amount: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/mints/"+m.Address.String()+"/transfer", &owner, transferRequest{To: authority, Amount: 200})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(300), decodeBody[map[string]uint64](t, rec)["balance"])

	rec = h.do(http.MethodGet, "/api/accounts/"+owner.String()+"/balances", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bals := decodeBody[[]token.Balance](t, rec)
	require.Len(t, bals, 1)
	assert.Equal(t, uint64(300), bals[0].Amount)

	rec = h.do(http.MethodGet, "/api/mints/"+m.Address.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(500), decodeBody[token.Mint](t, rec).Supply)
}

func TestServer_Faucet(t *testing.T) {
	owner := domain.AddressFromSeed("dev")

	off := newHarness(t, Config{})
	rec := off.do(http.MethodPost, "/api/faucet", nil, faucetRequest{Mint: enginetest.UsdcMint, Owner: owner, Amount: 10})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	on := newHarness(t, Config{DevFaucet: true})
	rec = on.do(http.MethodPost, "/api/faucet", nil, faucetRequest{Mint: enginetest.UsdcMint, Owner: owner, Amount: 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(10), on.f.Engine.Balance(owner, enginetest.UsdcMint))
}

func TestServer_Swap(t *testing.T) {
	h := newHarness(t, Config{})
	m := h.f.Markets(1)
	trader := enginetest.Proposer
	path := "/api/amms/" + m.PassAmm.Address.String()

	rec := h.do(http.MethodPost, path+"/swap", &trader, engine.SwapParams{SwapType: domain.SwapBuy, InputAmount: 10_000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[amm.SwapResult](t, rec)
	assert.Equal(t, uint64(10_000), res.InputAmount)
	assert.Positive(t, res.OutputAmount)

	rec = h.do(http.MethodPost, path+"/swap", &trader, engine.SwapParams{
		SwapType:        domain.SwapSell,
		InputAmount:     10_000,
		OutputAmountMin: 1 << 62,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodPost, path+"/swap", &trader, engine.SwapParams{SwapType: domain.SwapBuy})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[map[string]any](t, rec)
	assert.Contains(t, view, "spot_price")
	assert.Contains(t, view, "base_reserve_units")

	h.flushEvents()
	rec = h.do(http.MethodGet, "/api/events/"+m.PassAmm.Address.String()+"?name="+events.NameSwap, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recs := decodeBody[[]domain.EventRecord](t, rec)
	require.Len(t, recs, 1)
	assert.Equal(t, trader, recs[0].Actor)

	rec = h.do(http.MethodGet, "/api/events/"+m.PassAmm.Address.String()+"?after=1&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recs = decodeBody[[]domain.EventRecord](t, rec)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(2), recs[0].SeqNum)
}

func TestServer_Liquidity(t *testing.T) {
	h := newHarness(t, Config{})
	m := h.f.Markets(2)
	lp := enginetest.Proposer
	path := "/api/amms/" + m.FailAmm.Address.String()

	rec := h.do(http.MethodPost, path+"/add_liquidity", &lp, amm.AddLiquidityArgs{MaxBaseAmount: 1000, MaxQuoteAmount: 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decodeBody[amm.LiquidityResult](t, rec)
	assert.Equal(t, uint64(1000), added.LpAmount)

	rec = h.do(http.MethodPost, path+"/remove_liquidity", &lp, removeLiquidityRequest{WithdrawBps: 20_000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, path+"/remove_liquidity", &lp, removeLiquidityRequest{WithdrawBps: 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Positive(t, decodeBody[amm.LiquidityResult](t, rec).BaseAmount)
}

func TestServer_QuestionsAndVaults(t *testing.T) {
	h := newHarness(t, Config{})
	oracle := domain.AddressFromSeed("oracle")
	user := enginetest.Proposer

	rec := h.do(http.MethodPost, "/api/questions", &user, engine.InitializeQuestionParams{
		QuestionID:  domain.QuestionID{9},
		Oracle:      oracle,
		NumOutcomes: 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	q := decodeBody[domain.Question](t, rec)

	rec = h.do(http.MethodPost, "/api/vaults", &user, initializeVaultRequest{Question: q.Address, UnderlyingMint: enginetest.UsdcMint})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decodeBody[domain.ConditionalVault](t, rec)
	vpath := "/api/vaults/" + v.Address.String()

	rec = h.do(http.MethodPost, vpath+"/split", &user, amountRequest{Amount: 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []uint64{1000, 1000}, decodeBody[vault.Result](t, rec).ConditionalBalances)

	rec = h.do(http.MethodPost, vpath+"/merge", &user, amountRequest{Amount: 400})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []uint64{600, 600}, decodeBody[vault.Result](t, rec).ConditionalBalances)

	rec = h.do(http.MethodPost, vpath+"/redeem", &user, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	qpath := "/api/questions/" + q.Address.String()
	rec = h.do(http.MethodPost, qpath+"/resolve", &user, resolveRequest{PayoutNumerators: []uint32{1, 0}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, qpath+"/resolve", &oracle, resolveRequest{PayoutNumerators: []uint32{1, 0}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, qpath+"/resolve", &oracle, resolveRequest{PayoutNumerators: []uint32{0, 1}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	before := h.f.Engine.Balance(user, enginetest.UsdcMint)
	rec = h.do(http.MethodPost, vpath+"/redeem", &user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, before+600, h.f.Engine.Balance(user, enginetest.UsdcMint))

	rec = h.do(http.MethodGet, qpath+"/vaults", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.ConditionalVault](t, rec), 1)

	rec = h.do(http.MethodGet, qpath, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody[map[string]any](t, rec), "status")
}

func TestServer_Proposal(t *testing.T) {
	h := newHarness(t, Config{})
	m := h.f.Markets(3)
	p := h.f.Propose(m, proposal.MemoInstruction("hello"))
	anyone := domain.AddressFromSeed("anyone")
	ppath := "/api/proposals/" + p.Address.String()

	rec := h.do(http.MethodGet, "/api/proposals", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]engine.ProposalView](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, p.Address, pending[0].Address)

	rec = h.do(http.MethodGet, "/api/daos/"+h.f.Dao.Address.String()+"/proposals", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]engine.ProposalView](t, rec), 1)

	rec = h.do(http.MethodPost, ppath+"/finalize", &anyone, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodPost, ppath+"/execute", &anyone, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// No trades: both TWAPs stay at the initial observation and it fails.
	for slot := p.SlotEnqueued + 1; slot <= p.SlotEnqueued+enginetest.Window; slot++ {
		h.f.Clock.Set(slot)
		for _, a := range []domain.Address{m.PassAmm.Address, m.FailAmm.Address} {
			rec = h.do(http.MethodPost, "/api/amms/"+a.String()+"/crank", &anyone, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}
	}

	rec = h.do(http.MethodPost, ppath+"/finalize", &anyone, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[proposal.FinalizeResult](t, rec)
	assert.Equal(t, domain.ProposalFailed, res.State)

	rec = h.do(http.MethodPost, ppath+"/finalize", &anyone, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodGet, ppath, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ProposalFailed, decodeBody[engine.ProposalView](t, rec).State)

	rec = h.do(http.MethodGet, "/status", nil, nil)
	assert.Zero(t, decodeBody[statusResponse](t, rec).PendingProposals)
}

func TestServer_Daos(t *testing.T) {
	h := newHarness(t, Config{})
	actor := enginetest.Authority

	rec := h.do(http.MethodPost, "/api/daos", &actor, engine.InitializeDaoParams{
		TokenMint: enginetest.MetaMint,
		UsdcMint:  enginetest.UsdcMint,
		Nonce:     7,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decodeBody[domain.Dao](t, rec)

	rec = h.do(http.MethodGet, "/api/daos/"+d.Address.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/daos", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Dao](t, rec), 2)

	rec = h.do(http.MethodGet, "/api/daos/"+domain.AddressFromSeed("ghost").String()+"/proposals", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
