package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/crypto"
	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
	"github.com/praxismarkets/futarchyd/internal/platform/custody"
)

// ---------------------------------------------------------------------------
// in-memory stores
// ---------------------------------------------------------------------------

type memMarketStore struct {
	rows map[string]domain.Market
	// failUpdates makes the next N Update calls fail, for persist tests.
	failUpdates int
	updates     int
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{rows: make(map[string]domain.Market)}
}

func (s *memMarketStore) Create(_ context.Context, m domain.Market) error {
	if _, ok := s.rows[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[m.ID] = m
	return nil
}

func (s *memMarketStore) Update(_ context.Context, m domain.Market) error {
	if s.failUpdates > 0 {
		s.failUpdates--
		return errors.New("injected market update failure")
	}
	if _, ok := s.rows[m.ID]; !ok {
		return domain.ErrNotFound
	}
	s.updates++
	s.rows[m.ID] = m
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.rows[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	for _, m := range s.rows {
		if m.Slug == slug {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *memMarketStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(s.rows))
	for _, m := range s.rows {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarketStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.rows)), nil
}

type memProposalStore struct {
	rows  map[string]domain.Proposal
	conds map[string][]domain.ConditionalState
	// failConds makes the next N SaveConditionals calls fail.
	failConds int
}

func newMemProposalStore() *memProposalStore {
	return &memProposalStore{
		rows:  make(map[string]domain.Proposal),
		conds: make(map[string][]domain.ConditionalState),
	}
}

func (s *memProposalStore) Create(_ context.Context, p domain.Proposal) error {
	if _, ok := s.rows[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[p.ID] = p
	return nil
}

func (s *memProposalStore) Update(_ context.Context, p domain.Proposal) error {
	if _, ok := s.rows[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rows[p.ID] = p
	return nil
}

func (s *memProposalStore) GetByID(_ context.Context, id string) (domain.Proposal, error) {
	p, ok := s.rows[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memProposalStore) GetOpenByMarket(_ context.Context, marketID string) (domain.Proposal, error) {
	for _, p := range s.rows {
		if p.MarketID == marketID && p.State == domain.ProposalStateOpen {
			return p, nil
		}
	}
	return domain.Proposal{}, domain.ErrNotFound
}

func (s *memProposalStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Proposal, error) {
	out := make([]domain.Proposal, 0, len(s.rows))
	for _, p := range s.rows {
		out = append(out, p)
	}
	return out, nil
}

func (s *memProposalStore) ListByState(_ context.Context, state domain.ProposalState, _ domain.ListOpts) ([]domain.Proposal, error) {
	var out []domain.Proposal
	for _, p := range s.rows {
		if p.State == state {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memProposalStore) SaveConditionals(_ context.Context, states []domain.ConditionalState) error {
	if s.failConds > 0 {
		s.failConds--
		return errors.New("injected conditional save failure")
	}
	for _, st := range states {
		replaced := false
		existing := s.conds[st.ProposalID]
		for i := range existing {
			if existing[i].Outcome == st.Outcome {
				existing[i] = st
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, st)
		}
		s.conds[st.ProposalID] = existing
	}
	return nil
}

func (s *memProposalStore) ListConditionals(_ context.Context, proposalID string) ([]domain.ConditionalState, error) {
	return s.conds[proposalID], nil
}

func (s *memProposalStore) DeleteConditionals(_ context.Context, proposalID string) error {
	delete(s.conds, proposalID)
	return nil
}

type memPositionStore struct {
	rows map[string]domain.LPPosition
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{rows: make(map[string]domain.LPPosition)}
}

func (s *memPositionStore) Create(_ context.Context, pos domain.LPPosition) error {
	if _, ok := s.rows[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[pos.ID] = pos
	return nil
}

func (s *memPositionStore) Update(_ context.Context, pos domain.LPPosition) error {
	if _, ok := s.rows[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rows[pos.ID] = pos
	return nil
}

func (s *memPositionStore) Delete(_ context.Context, id string) error {
	if _, ok := s.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *memPositionStore) GetByID(_ context.Context, id string) (domain.LPPosition, error) {
	pos, ok := s.rows[id]
	if !ok {
		return domain.LPPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.LPPosition, error) {
	var out []domain.LPPosition
	for _, pos := range s.rows {
		if pos.MarketID == marketID {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memPositionStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.LPPosition, error) {
	var out []domain.LPPosition
	for _, pos := range s.rows {
		if pos.Owner == owner {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memPositionStore) MoveBucket(_ context.Context, marketID, proposalID string, from, to domain.Bucket) (int64, error) {
	var moved int64
	for id, pos := range s.rows {
		if pos.MarketID != marketID || pos.Bucket != from {
			continue
		}
		if pos.LockedProposalID == nil || *pos.LockedProposalID != proposalID {
			continue
		}
		pos.Bucket = to
		s.rows[id] = pos
		moved++
	}
	return moved, nil
}

type ledgerKey struct {
	marketID string
	account  string
	outcome  int
	side     domain.Side
}

type memLedgerStore struct {
	rows map[ledgerKey]domain.BalanceEntry
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{rows: make(map[ledgerKey]domain.BalanceEntry)}
}

func (s *memLedgerStore) UpsertBatch(_ context.Context, entries []domain.BalanceEntry) error {
	for _, e := range entries {
		s.rows[ledgerKey{e.MarketID, e.Account, e.Outcome, e.Side}] = e
	}
	return nil
}

func (s *memLedgerStore) Get(_ context.Context, marketID, account string, outcome int, side domain.Side) (domain.BalanceEntry, error) {
	e, ok := s.rows[ledgerKey{marketID, account, outcome, side}]
	if !ok {
		return domain.BalanceEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *memLedgerStore) ListByAccount(_ context.Context, marketID, account string) ([]domain.BalanceEntry, error) {
	var out []domain.BalanceEntry
	for _, e := range s.rows {
		if e.MarketID == marketID && e.Account == account {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memLedgerStore) DeleteByProposal(_ context.Context, proposalID string) error {
	for k, e := range s.rows {
		if e.ProposalID == proposalID {
			delete(s.rows, k)
		}
	}
	return nil
}

type memTradeStore struct {
	rows []domain.Trade
	// failInserts makes the next N Insert calls fail.
	failInserts int
}

func newMemTradeStore() *memTradeStore { return &memTradeStore{} }

func (s *memTradeStore) Insert(_ context.Context, t domain.Trade) error {
	if s.failInserts > 0 {
		s.failInserts--
		return errors.New("injected trade insert failure")
	}
	s.rows = append(s.rows, t)
	return nil
}

func (s *memTradeStore) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.rows {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListByTrader(_ context.Context, trader string, _ domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.rows {
		if t.Trader == trader {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) GetLastTimestamp(_ context.Context, marketID string) (time.Time, error) {
	var last time.Time
	for _, t := range s.rows {
		if t.MarketID == marketID && t.CreatedAt.After(last) {
			last = t.CreatedAt
		}
	}
	if last.IsZero() {
		return time.Time{}, domain.ErrNotFound
	}
	return last, nil
}

type memClaimStore struct {
	rows map[string]domain.WithdrawalClaim
}

func newMemClaimStore() *memClaimStore {
	return &memClaimStore{rows: make(map[string]domain.WithdrawalClaim)}
}

func (s *memClaimStore) Create(_ context.Context, c domain.WithdrawalClaim) error {
	if _, ok := s.rows[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[c.ID] = c
	return nil
}

func (s *memClaimStore) GetByID(_ context.Context, id string) (domain.WithdrawalClaim, error) {
	c, ok := s.rows[id]
	if !ok {
		return domain.WithdrawalClaim{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memClaimStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.WithdrawalClaim, error) {
	var out []domain.WithdrawalClaim
	for _, c := range s.rows {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

type memArbStore struct {
	rows  map[string]domain.ArbOpportunity
	order []string
}

func newMemArbStore() *memArbStore {
	return &memArbStore{rows: make(map[string]domain.ArbOpportunity)}
}

func (s *memArbStore) Insert(_ context.Context, opp domain.ArbOpportunity) error {
	if _, ok := s.rows[opp.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[opp.ID] = opp
	s.order = append(s.order, opp.ID)
	return nil
}

func (s *memArbStore) MarkExecuted(_ context.Context, id string) error {
	opp, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	opp.Executed = true
	s.rows[id] = opp
	return nil
}

func (s *memArbStore) ListRecent(_ context.Context, limit int) ([]domain.ArbOpportunity, error) {
	var out []domain.ArbOpportunity
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.rows[s.order[i]])
	}
	return out, nil
}

type memArbExecStore struct {
	rows  map[string]domain.ArbExecution
	order []string
}

func newMemArbExecStore() *memArbExecStore {
	return &memArbExecStore{rows: make(map[string]domain.ArbExecution)}
}

func (s *memArbExecStore) Create(_ context.Context, exec domain.ArbExecution) error {
	if _, ok := s.rows[exec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[exec.ID] = exec
	s.order = append(s.order, exec.ID)
	return nil
}

func (s *memArbExecStore) GetByID(_ context.Context, id string) (domain.ArbExecution, error) {
	exec, ok := s.rows[id]
	if !ok {
		return domain.ArbExecution{}, domain.ErrNotFound
	}
	return exec, nil
}

func (s *memArbExecStore) ListRecent(_ context.Context, limit int) ([]domain.ArbExecution, error) {
	var out []domain.ArbExecution
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.rows[s.order[i]])
	}
	return out, nil
}

func (s *memArbExecStore) SumProfit(_ context.Context, since time.Time) (uint64, error) {
	var total uint64
	for _, exec := range s.rows {
		if exec.Status == domain.ArbExecCommitted && !exec.StartedAt.Before(since) {
			total += exec.Profit
		}
	}
	return total, nil
}

type memAuditStore struct {
	entries []domain.AuditEntry
}

func newMemAuditStore() *memAuditStore { return &memAuditStore{} }

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func (s *memAuditStore) has(event string) bool {
	for _, e := range s.entries {
		if e.Event == event {
			return true
		}
	}
	return false
}

type memPolicyStore struct {
	presets map[string]domain.PolicyConfig
}

func newMemPolicyStore() *memPolicyStore {
	return &memPolicyStore{presets: make(map[string]domain.PolicyConfig)}
}

func (s *memPolicyStore) Get(_ context.Context, name string) (domain.PolicyConfig, error) {
	p, ok := s.presets[name]
	if !ok {
		return domain.PolicyConfig{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPolicyStore) Upsert(_ context.Context, cfg domain.PolicyConfig) error {
	s.presets[cfg.Name] = cfg
	return nil
}

func (s *memPolicyStore) List(_ context.Context) ([]domain.PolicyConfig, error) {
	out := make([]domain.PolicyConfig, 0, len(s.presets))
	for _, p := range s.presets {
		out = append(out, p)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// in-memory caches, bus, locks, archive
// ---------------------------------------------------------------------------

type memMarketCache struct {
	rows map[string]domain.Market
}

func newMemMarketCache() *memMarketCache {
	return &memMarketCache{rows: make(map[string]domain.Market)}
}

func (c *memMarketCache) Set(_ context.Context, m domain.Market) error {
	c.rows[m.ID] = m
	return nil
}

func (c *memMarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	m, ok := c.rows[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memMarketCache) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	for _, m := range c.rows {
		if m.Slug == slug {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (c *memMarketCache) Invalidate(_ context.Context, id string) error {
	delete(c.rows, id)
	return nil
}

type memPriceCache struct {
	rows map[string]domain.PricePoint
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{rows: make(map[string]domain.PricePoint)}
}

func (c *memPriceCache) SetPrice(_ context.Context, p domain.PricePoint) error {
	c.rows[p.MarketID+"/"+p.Venue] = p
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, marketID, venue string) (domain.PricePoint, error) {
	p, ok := c.rows[marketID+"/"+venue]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *memPriceCache) GetMarketPrices(_ context.Context, marketID string, outcomes int) (domain.MarketPrices, error) {
	spot, ok := c.rows[marketID+"/"+domain.PriceKeySpot]
	if !ok {
		return domain.MarketPrices{}, domain.ErrNotFound
	}
	mp := domain.MarketPrices{MarketID: marketID, Spot: spot, AsOf: spot.AsOf}
	for o := 0; o < outcomes; o++ {
		if p, ok := c.rows[marketID+"/o"+itoa(o)]; ok {
			mp.Conditional = append(mp.Conditional, p)
		}
	}
	return mp, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [8]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

type memProposalCache struct {
	rows map[string]domain.Proposal
	open map[string]string // marketID -> proposalID
}

func newMemProposalCache() *memProposalCache {
	return &memProposalCache{rows: make(map[string]domain.Proposal), open: make(map[string]string)}
}

func (c *memProposalCache) Set(_ context.Context, p domain.Proposal) error {
	c.rows[p.ID] = p
	if p.State == domain.ProposalStateOpen {
		c.open[p.MarketID] = p.ID
	}
	return nil
}

func (c *memProposalCache) Get(_ context.Context, id string) (domain.Proposal, error) {
	p, ok := c.rows[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *memProposalCache) GetOpenByMarket(_ context.Context, marketID string) (domain.Proposal, error) {
	id, ok := c.open[marketID]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return c.Get(context.Background(), id)
}

func (c *memProposalCache) Invalidate(_ context.Context, id string) error {
	p, ok := c.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(c.rows, id)
	if c.open[p.MarketID] == id {
		delete(c.open, p.MarketID)
	}
	return nil
}

type fakeBus struct {
	published map[string][][]byte
	streams   map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte), streams: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, stream string, _ string, count int) ([]domain.StreamMessage, error) {
	msgs := b.streams[stream]
	if count > 0 && len(msgs) > count {
		msgs = msgs[:count]
	}
	out := make([]domain.StreamMessage, 0, len(msgs))
	for i, m := range msgs {
		out = append(out, domain.StreamMessage{ID: itoa(i + 1), Payload: m})
	}
	return out, nil
}

// events decodes every VenueEvent published on a channel.
func (b *fakeBus) events(t *testing.T, channel string) []domain.VenueEvent {
	t.Helper()
	out := make([]domain.VenueEvent, 0, len(b.published[channel]))
	for _, raw := range b.published[channel] {
		var evt domain.VenueEvent
		require.NoError(t, json.Unmarshal(raw, &evt))
		out = append(out, evt)
	}
	return out
}

// eventsOfType filters the channel's events by type.
func (b *fakeBus) eventsOfType(t *testing.T, channel string, typ domain.EventType) []domain.VenueEvent {
	t.Helper()
	var out []domain.VenueEvent
	for _, evt := range b.events(t, channel) {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

type fakeLocks struct {
	held     map[string]bool
	acquired []string
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: make(map[string]bool)} }

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func() { delete(l.held, key) }, nil
}

type fakeArchive struct {
	reports map[string]domain.SettlementReport
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{reports: make(map[string]domain.SettlementReport)}
}

func (a *fakeArchive) Put(_ context.Context, report domain.SettlementReport) (string, error) {
	key := report.MarketID + "/" + report.ProposalID
	if _, ok := a.reports[key]; ok {
		return "", domain.ErrAlreadyExists
	}
	a.reports[key] = report
	return "settlements/" + key + ".json.gz", nil
}

func (a *fakeArchive) Get(_ context.Context, marketID, proposalID string) (domain.SettlementReport, error) {
	report, ok := a.reports[marketID+"/"+proposalID]
	if !ok {
		return domain.SettlementReport{}, domain.ErrNotFound
	}
	return report, nil
}

func (a *fakeArchive) List(_ context.Context, marketID string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for key := range a.reports {
		if strings.HasPrefix(key, marketID+"/") {
			out = append(out, domain.BlobInfo{Path: "settlements/" + key + ".json.gz"})
		}
	}
	return out, nil
}

type fakeNotifier struct {
	sent     []string
	alerts   []string
	failNext bool
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, _ string) error {
	if n.failNext {
		n.failNext = false
		return errors.New("injected notify failure")
	}
	n.sent = append(n.sent, event+":"+title)
	return nil
}

func (n *fakeNotifier) NotifyAll(_ context.Context, title, _ string) error {
	if n.failNext {
		n.failNext = false
		return errors.New("injected notify failure")
	}
	n.alerts = append(n.alerts, title)
	return nil
}

type fakeSigner struct {
	fail bool
}

func (s *fakeSigner) SignVoucher(_ crypto.VoucherPayload) (string, error) {
	if s.fail {
		return "", errors.New("injected signing failure")
	}
	return "0xfeedsig", nil
}

func (s *fakeSigner) Address() common.Address { return common.Address{} }

type fakeBridge struct {
	payouts []custody.PayoutRequest
}

func (b *fakeBridge) RequestPayout(_ context.Context, req custody.PayoutRequest) (custody.Payout, error) {
	b.payouts = append(b.payouts, req)
	return custody.Payout{ClaimID: req.ClaimID, Status: custody.PayoutPending}, nil
}

// ---------------------------------------------------------------------------
// fixture
// ---------------------------------------------------------------------------

type fixture struct {
	ctx context.Context

	markets   *memMarketStore
	proposals *memProposalStore
	positions *memPositionStore
	ledger    *memLedgerStore
	trades    *memTradeStore
	claims    *memClaimStore
	arbs      *memArbStore
	execs     *memArbExecStore
	audit     *memAuditStore

	marketCache *memMarketCache
	priceCache  *memPriceCache
	propCache   *memProposalCache
	bus         *fakeBus
	locks       *fakeLocks
	archive     *fakeArchive

	venue     *VenueService
	priceSvc  *PriceService
	tradeSvc  *TradeService
	liqSvc    *LiquidityService
	wdSvc     *WithdrawalService
	ledgerSvc *LedgerService
	propSvc   *ProposalService
	settleSvc *SettlementService
	crankSvc  *CrankService
	arbSvc    *ArbService
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		ctx:         context.Background(),
		markets:     newMemMarketStore(),
		proposals:   newMemProposalStore(),
		positions:   newMemPositionStore(),
		ledger:      newMemLedgerStore(),
		trades:      newMemTradeStore(),
		claims:      newMemClaimStore(),
		arbs:        newMemArbStore(),
		execs:       newMemArbExecStore(),
		audit:       newMemAuditStore(),
		marketCache: newMemMarketCache(),
		priceCache:  newMemPriceCache(),
		propCache:   newMemProposalCache(),
		bus:         newFakeBus(),
		locks:       newFakeLocks(),
		archive:     newFakeArchive(),
	}

	// Always-due TWAP and no crank spacing keep tests free of clock games.
	twap := engine.TwapConfig{MaxObservationChange: 5 * engine.PriceScale}
	f.venue = NewVenueService(f.markets, f.proposals, f.ledger, f.marketCache, f.audit, twap, 0, logger)
	f.priceSvc = NewPriceService(f.priceCache, f.venue, f.proposals, f.bus, logger)
	f.tradeSvc = NewTradeService(f.venue, f.trades, f.priceSvc, f.bus, f.audit, logger)
	f.liqSvc = NewLiquidityService(f.venue, f.positions, f.bus, f.audit, logger)
	f.wdSvc = NewWithdrawalService(f.venue, f.positions, f.claims, f.bus, f.audit, logger)
	f.ledgerSvc = NewLedgerService(f.venue, f.ledger, f.proposals, f.trades, f.priceSvc, f.bus, f.audit, logger)
	f.propSvc = NewProposalService(f.venue, f.proposals, f.ledger, f.propCache, f.bus, f.audit, logger)
	f.settleSvc = NewSettlementService(f.audit, logger).WithArchive(f.archive)
	f.crankSvc = NewCrankService(
		f.venue, f.ledgerSvc, f.settleSvc, f.priceSvc,
		f.proposals, f.positions, f.propCache, f.locks, f.bus, f.audit,
		time.Second, 0, logger,
	)
	f.arbSvc = NewArbService(f.venue, f.arbs, f.execs, f.trades, f.bus, f.audit, 1_000, logger)
	return f
}

func (f *fixture) createMarket(t *testing.T) domain.Market {
	t.Helper()
	m, err := f.venue.CreateMarket(f.ctx, CreateMarketInput{
		Slug:         "prax-usd",
		AssetSymbol:  "PRAX",
		StableSymbol: "USD",
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) seedLiquidity(t *testing.T, marketID, owner string, asset, stable uint64) domain.LPPosition {
	t.Helper()
	pos, err := f.liqSvc.AddLiquidity(f.ctx, AddLiquidityInput{
		MarketID: marketID,
		Owner:    owner,
		AssetIn:  asset,
		StableIn: stable,
	})
	require.NoError(t, err)
	return pos
}

func (f *fixture) openProposal(t *testing.T, marketID string, outcomes int) domain.Proposal {
	t.Helper()
	prop, err := f.propSvc.Open(f.ctx, OpenProposalInput{
		MarketID:     marketID,
		Title:        "raise the protocol fee",
		OutcomeCount: outcomes,
	})
	require.NoError(t, err)
	return prop
}
