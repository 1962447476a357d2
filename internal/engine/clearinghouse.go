package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"optionclear/internal/domain"
	"optionclear/internal/event"
	"optionclear/internal/infra"
	"optionclear/internal/ledger"
	"optionclear/internal/oracle"
	"optionclear/internal/registry"
	"optionclear/internal/settlement"

	"github.com/shopspring/decimal"
)

// Clearinghouse is the single entry surface for every state-changing
// call. Calls are globally serialized (the host-ledger execution
// model); all state mutation completes before the one external value
// transfer, and a reentrancy guard armed around that transfer rejects
// any callback into the clearinghouse instead of deadlocking on it.
type Clearinghouse struct {
	mu           sync.Mutex  // serializes all state-changing calls
	transferring atomic.Bool // armed only during the external transfer

	owner  string
	paused bool
	params domain.ClearingParams

	ledger   *ledger.Ledger
	gate     *oracle.PriceGate
	registry *registry.Registry
	settle   *settlement.Engine
	dist     *settlement.Distributor

	gateway domain.FundsGateway
	store   domain.StateStore
	bus     *event.Bus
	metrics *infra.Metrics

	clock func() time.Time
}

// NewClearinghouse wires the components. gateway, store, bus and
// metrics may be nil (tests run without them).
func NewClearinghouse(owner string, params domain.ClearingParams, gateway domain.FundsGateway,
	store domain.StateStore, bus *event.Bus, metrics *infra.Metrics) (*Clearinghouse, error) {

	if err := params.Validate(); err != nil {
		return nil, err
	}

	c := &Clearinghouse{
		owner:   owner,
		params:  params,
		gateway: gateway,
		store:   store,
		bus:     bus,
		metrics: metrics,
		clock:   time.Now,
	}

	c.ledger = ledger.NewLedger()
	c.gate = oracle.NewPriceGate(nil, c.onPricePublished)
	c.dist = settlement.NewDistributor()
	c.settle = settlement.NewEngine(c.ledger, c.gate, c.dist, &c.params)
	c.registry = registry.NewRegistry(c.ledger, c.settle, &c.params)
	return c, nil
}

// SetClock overrides the time source. Time otherwise comes from each
// call's own execution context, never from a clock the core drives.
func (c *Clearinghouse) SetClock(clock func() time.Time) {
	c.clock = clock
}

// begin takes the serialized-call lock. If the guard is armed we are
// being re-entered from inside the external transfer: reject.
func (c *Clearinghouse) begin(op string) (func(), error) {
	if c.transferring.Load() {
		return nil, domain.Reject(op, domain.ErrReentrantCall)
	}
	c.mu.Lock()
	return c.mu.Unlock, nil
}

func (c *Clearinghouse) guardPause(op string) error {
	if c.paused {
		return domain.RejectRetriable(op, domain.ErrPaused)
	}
	return nil
}

// ======================================================================================
// Funds
// ======================================================================================

// Deposit credits external funds into the owner's available balance.
func (c *Clearinghouse) Deposit(owner, asset string, amount decimal.Decimal) error {
	done, err := c.begin("deposit")
	if err != nil {
		return err
	}
	defer done()
	if err := c.guardPause("deposit"); err != nil {
		return err
	}

	if err := c.ledger.Deposit(owner, asset, amount); err != nil {
		return domain.Reject("deposit", err)
	}
	c.persistAccount(owner, asset)
	c.emit(&event.TransferEvent{Type: event.TypeDeposited, Owner: owner, Asset: asset, Amount: amount})
	return nil
}

// Withdraw debits the owner's available balance and performs the
// external transfer. Allowed while paused: users can always pull their
// own available funds. The transfer must succeed or the debit reverts.
func (c *Clearinghouse) Withdraw(owner, asset string, amount decimal.Decimal) (string, error) {
	done, err := c.begin("withdraw")
	if err != nil {
		return "", err
	}
	defer done()

	if err := c.ledger.Withdraw(owner, asset, amount); err != nil {
		return "", domain.Reject("withdraw", err)
	}
	c.persistAccount(owner, asset)

	receipt := ""
	if c.gateway != nil {
		c.transferring.Store(true)
		receipt, err = c.gateway.TransferOut(owner, asset, amount)
		c.transferring.Store(false)
		if err != nil {
			// Revert: the whole call fails, the balance is restored.
			c.ledger.Credit(owner, asset, amount)
			c.persistAccount(owner, asset)
			return "", domain.RejectRetriable("withdraw", fmt.Errorf("external transfer: %w", err))
		}
	}

	c.emit(&event.TransferEvent{Type: event.TypeWithdrawn, Owner: owner, Asset: asset, Amount: amount, Receipt: receipt})
	return receipt, nil
}

// ======================================================================================
// Option lifecycle
// ======================================================================================

// CreateOption locks the writer's collateral and registers a new
// ACTIVE option, returning its id.
func (c *Clearinghouse) CreateOption(writer string, terms domain.OptionTerms) (uint64, error) {
	done, err := c.begin("create")
	if err != nil {
		return 0, err
	}
	defer done()
	if err := c.guardPause("create"); err != nil {
		return 0, err
	}

	o, err := c.registry.Create(writer, terms, c.clock())
	if err != nil {
		return 0, domain.Reject("create", err)
	}

	c.persistOption(o)
	c.persistAccount(writer, o.CollateralAsset)
	c.countOption(event.TypeOptionCreated)
	c.emit(&event.OptionEvent{Type: event.TypeOptionCreated, OptionID: o.ID, Writer: o.Writer})
	return o.ID, nil
}

// MatchOption sells an option to buyer for payment (the remitted
// value). Returns the overpayment refunded to the buyer.
func (c *Clearinghouse) MatchOption(id uint64, buyer string, payment decimal.Decimal) (decimal.Decimal, error) {
	done, err := c.begin("match")
	if err != nil {
		return decimal.Zero, err
	}
	defer done()
	if err := c.guardPause("match"); err != nil {
		return decimal.Zero, err
	}

	o, refund, err := c.registry.Match(id, buyer, payment, c.clock())
	if err != nil {
		return decimal.Zero, domain.Reject("match", err)
	}

	c.persistOption(o)
	c.persistAccount(buyer, c.params.QuoteAsset)
	c.persistAccount(o.Writer, c.params.QuoteAsset)
	c.persistAccount(c.params.Treasury, c.params.QuoteAsset)
	c.persistAccount(settlement.ReferralPoolAccount, c.params.QuoteAsset)
	c.countOption(event.TypeOptionMatched)
	c.emit(&event.OptionEvent{Type: event.TypeOptionMatched, OptionID: o.ID, Writer: o.Writer, Holder: o.Holder})
	return refund, nil
}

// CancelOption retires an unmatched option and releases its collateral.
func (c *Clearinghouse) CancelOption(id uint64, caller string) error {
	done, err := c.begin("cancel")
	if err != nil {
		return err
	}
	defer done()
	if err := c.guardPause("cancel"); err != nil {
		return err
	}

	o, err := c.registry.Cancel(id, caller)
	if err != nil {
		return domain.Reject("cancel", err)
	}

	c.persistOption(o)
	c.persistAccount(o.Writer, o.CollateralAsset)
	c.countOption(event.TypeOptionCancelled)
	c.emit(&event.OptionEvent{Type: event.TypeOptionCancelled, OptionID: o.ID, Writer: o.Writer})
	return nil
}

// ExerciseOption settles an option for its holder against a validated
// price. Returns the payoff in quote-asset value terms.
func (c *Clearinghouse) ExerciseOption(id uint64, caller string) (decimal.Decimal, error) {
	done, err := c.begin("exercise")
	if err != nil {
		return decimal.Zero, err
	}
	defer done()
	if err := c.guardPause("exercise"); err != nil {
		return decimal.Zero, err
	}

	start := time.Now()
	o, payoff, err := c.registry.Exercise(id, caller, c.clock())
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordSettlementError()
		}
		return decimal.Zero, c.rejectExercise(err)
	}

	c.persistOption(o)
	c.persistAccount(o.Writer, o.CollateralAsset)
	c.persistAccount(o.Holder, o.CollateralAsset)
	if c.metrics != nil {
		c.metrics.RecordExercise(time.Since(start).Nanoseconds())
	}
	c.emit(&event.OptionEvent{Type: event.TypeOptionExercised, OptionID: o.ID, Writer: o.Writer, Holder: o.Holder, Payoff: payoff})
	return payoff, nil
}

func (c *Clearinghouse) rejectExercise(err error) error {
	// A stale quote clears up as soon as a publisher refreshes it.
	if errors.Is(err, domain.ErrStalePrice) {
		return domain.RejectRetriable("exercise", err)
	}
	return domain.Reject("exercise", err)
}

// BatchExpire transitions every due id to EXPIRED with a full
// collateral release. Public: anyone may crank it, and re-invoking it
// on the same ids is a no-op.
func (c *Clearinghouse) BatchExpire(ids []uint64) (int, error) {
	done, err := c.begin("batch-expire")
	if err != nil {
		return 0, err
	}
	defer done()
	if err := c.guardPause("batch-expire"); err != nil {
		return 0, err
	}

	expired, err := c.registry.BatchExpire(ids, c.clock())
	for _, o := range expired {
		c.persistOption(o)
		c.persistAccount(o.Writer, o.CollateralAsset)
		c.countOption(event.TypeOptionExpired)
		c.emit(&event.OptionEvent{Type: event.TypeOptionExpired, OptionID: o.ID, Writer: o.Writer})
	}
	if err != nil {
		return len(expired), domain.Reject("batch-expire", err)
	}
	return len(expired), nil
}

// ExpireDue finds and expires everything past its exercise window.
// This is the crank's entry point.
func (c *Clearinghouse) ExpireDue() (int, error) {
	done, err := c.begin("expire-due")
	if err != nil {
		return 0, err
	}
	defer done()
	if err := c.guardPause("expire-due"); err != nil {
		return 0, err
	}

	now := c.clock()
	expired, err := c.registry.BatchExpire(c.registry.Expirable(now), now)
	for _, o := range expired {
		c.persistOption(o)
		c.persistAccount(o.Writer, o.CollateralAsset)
		c.countOption(event.TypeOptionExpired)
		c.emit(&event.OptionEvent{Type: event.TypeOptionExpired, OptionID: o.ID, Writer: o.Writer})
	}
	if err != nil {
		return len(expired), domain.Reject("expire-due", err)
	}
	return len(expired), nil
}

// ======================================================================================
// Bids
// ======================================================================================

// PlaceBid reserves the bidder's quote funds behind a standing offer.
func (c *Clearinghouse) PlaceBid(id uint64, bidder string, amount decimal.Decimal) error {
	done, err := c.begin("place-bid")
	if err != nil {
		return err
	}
	defer done()
	if err := c.guardPause("place-bid"); err != nil {
		return err
	}

	if _, err := c.registry.PlaceBid(id, bidder, amount, c.clock()); err != nil {
		return domain.Reject("place-bid", err)
	}
	c.persistAccount(bidder, c.params.QuoteAsset)
	return nil
}

// CancelBid withdraws a standing bid, releasing its reservation.
// Pause-gated: a release turns locked funds back into withdrawable
// balance, which an emergency pause must not allow.
func (c *Clearinghouse) CancelBid(id uint64, bidder string) error {
	done, err := c.begin("cancel-bid")
	if err != nil {
		return err
	}
	defer done()
	if err := c.guardPause("cancel-bid"); err != nil {
		return err
	}

	if err := c.registry.CancelBid(id, bidder); err != nil {
		return domain.Reject("cancel-bid", err)
	}
	c.persistAccount(bidder, c.params.QuoteAsset)
	return nil
}

// AcceptBid lets the writer sell to a standing bid.
func (c *Clearinghouse) AcceptBid(id uint64, caller, bidder string) (decimal.Decimal, error) {
	done, err := c.begin("accept-bid")
	if err != nil {
		return decimal.Zero, err
	}
	defer done()
	if err := c.guardPause("accept-bid"); err != nil {
		return decimal.Zero, err
	}

	o, refund, err := c.registry.AcceptBid(id, caller, bidder, c.clock())
	if err != nil {
		return decimal.Zero, domain.Reject("accept-bid", err)
	}

	c.persistOption(o)
	c.persistAccount(bidder, c.params.QuoteAsset)
	c.persistAccount(o.Writer, c.params.QuoteAsset)
	c.persistAccount(c.params.Treasury, c.params.QuoteAsset)
	c.persistAccount(settlement.ReferralPoolAccount, c.params.QuoteAsset)
	c.countOption(event.TypeOptionMatched)
	c.emit(&event.OptionEvent{Type: event.TypeOptionMatched, OptionID: o.ID, Writer: o.Writer, Holder: o.Holder})
	return refund, nil
}

// ======================================================================================
// Prices and referrals
// ======================================================================================

// PublishPrice records a new quote for an asset, timestamped with the
// call's execution time.
func (c *Clearinghouse) PublishPrice(publisher, asset string, price decimal.Decimal) error {
	done, err := c.begin("publish-price")
	if err != nil {
		return err
	}
	defer done()
	if err := c.guardPause("publish-price"); err != nil {
		return err
	}

	now := c.clock()
	if err := c.gate.Publish(publisher, asset, price, now); err != nil {
		return domain.Reject("publish-price", err)
	}
	if c.store != nil {
		if q, ok := c.gate.Read(asset); ok {
			if err := c.store.SaveQuote(&q); err != nil {
				panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
			}
		}
	}
	if c.metrics != nil {
		c.metrics.RecordQuote()
	}
	return nil
}

// RegisterReferrer binds the caller to a referrer, once.
func (c *Clearinghouse) RegisterReferrer(account, referrer string) error {
	done, err := c.begin("register-referrer")
	if err != nil {
		return err
	}
	defer done()
	if err := c.guardPause("register-referrer"); err != nil {
		return err
	}

	if err := c.dist.RegisterReferrer(account, referrer); err != nil {
		return domain.Reject("register-referrer", err)
	}
	return nil
}

// ClaimReferral moves the caller's accrued referral credit into their
// available balance.
func (c *Clearinghouse) ClaimReferral(referrer, asset string) (decimal.Decimal, error) {
	done, err := c.begin("claim-referral")
	if err != nil {
		return decimal.Zero, err
	}
	defer done()
	if err := c.guardPause("claim-referral"); err != nil {
		return decimal.Zero, err
	}

	amount, err := c.settle.ClaimReferral(referrer, asset)
	if err != nil {
		return decimal.Zero, domain.Reject("claim-referral", err)
	}
	c.persistAccount(referrer, asset)
	return amount, nil
}

// ======================================================================================
// Reads
// ======================================================================================

// GetOption returns a copy of the option record.
func (c *Clearinghouse) GetOption(id uint64) (domain.Option, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.registry.Get(id)
	if err != nil {
		return domain.Option{}, err
	}
	return *o, nil
}

// Options returns a snapshot of all option records.
func (c *Clearinghouse) Options() []domain.Option {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Options()
}

// Account returns a copy of the (owner, asset) collateral account.
func (c *Clearinghouse) Account(owner, asset string) domain.CollateralAccount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.ledger.Account(owner, asset)
}

// ReadPrice returns the latest raw quote for an asset, if any.
func (c *Clearinghouse) ReadPrice(asset string) (domain.PriceQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate.Read(asset)
}

// Bids returns the standing bids for an option.
func (c *Clearinghouse) Bids(id uint64) []domain.Bid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Bids(id)
}

// Claimable returns a referrer's unclaimed credit.
func (c *Clearinghouse) Claimable(referrer, asset string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dist.Claimable(referrer, asset)
}

// Params returns a copy of the live platform parameters.
func (c *Clearinghouse) Params() domain.ClearingParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Paused reports the emergency-pause state.
func (c *Clearinghouse) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// ======================================================================================
// Internals
// ======================================================================================

func (c *Clearinghouse) onPricePublished(ev *event.PricePublishedEvent) {
	if c.bus != nil {
		// The bus copies nothing, so hand over a fresh event and let
		// the pooled one go back.
		out := &event.PricePublishedEvent{Asset: ev.Asset, Price: ev.Price, Publisher: ev.Publisher}
		out.At = ev.At
		c.bus.Publish(out)
	}
	event.ReleasePricePublishedEvent(ev)
}

func (c *Clearinghouse) emit(ev event.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func (c *Clearinghouse) countOption(eventType string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordOption(eventType)
}

func (c *Clearinghouse) persistOption(o *domain.Option) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveOption(o); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
	}
}

func (c *Clearinghouse) persistAccount(owner, asset string) {
	if c.store == nil {
		return
	}
	a := c.ledger.Account(owner, asset)
	if err := c.store.SaveAccount(a); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
	}
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (c *Clearinghouse) DumpState(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		Options  []domain.Option            `json:"options"`
		Accounts []domain.CollateralAccount `json:"accounts"`
		Quotes   []domain.PriceQuote        `json:"quotes"`
		Paused   bool                       `json:"paused"`
	}{
		Options:  c.registry.Options(),
		Accounts: c.ledger.Snapshot(),
		Quotes:   c.gate.Snapshot(),
		Paused:   c.paused,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
