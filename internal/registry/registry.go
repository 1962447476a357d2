package registry

import (
	"fmt"
	"sort"
	"time"

	"optionclear/internal/domain"
	"optionclear/internal/ledger"

	"github.com/shopspring/decimal"
)

// Settler is the settlement engine as the registry sees it: the only
// component permitted to pair an option transition with a ledger
// release/transfer.
type Settler interface {
	// SettleMatch routes the buyer's premium payment and returns the
	// overpayment refunded to the buyer.
	SettleMatch(o *domain.Option, buyer string, payment decimal.Decimal) (refund decimal.Decimal, err error)

	// SettleExercise reads a validated price, computes the payoff and
	// moves the collateral. Returns the payoff in quote-asset value
	// terms (zero for an out-of-the-money exercise).
	SettleExercise(o *domain.Option, now time.Time) (payoff decimal.Decimal, err error)
}

type bidKey struct {
	optionID uint64
	bidder   string
}

// Registry owns option state: a flat table of records indexed by id
// plus a bid side-table keyed (optionID, bidder). Options transition
// ACTIVE -> {EXERCISED, EXPIRED, CANCELLED}; every terminal transition
// happens exactly once and pairs with exactly one collateral
// release/seize.
type Registry struct {
	nextID  uint64
	options map[uint64]*domain.Option
	bids    map[bidKey]*domain.Bid

	ledger  *ledger.Ledger
	settler Settler
	params  *domain.ClearingParams
}

// NewRegistry creates a registry bound to the ledger, settlement engine
// and platform parameters.
func NewRegistry(l *ledger.Ledger, s Settler, params *domain.ClearingParams) *Registry {
	return &Registry{
		nextID:  1,
		options: make(map[uint64]*domain.Option),
		bids:    make(map[bidKey]*domain.Bid),
		ledger:  l,
		settler: s,
		params:  params,
	}
}

// Get returns the option record for id.
func (r *Registry) Get(id uint64) (*domain.Option, error) {
	o, ok := r.options[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", domain.ErrOptionNotFound, id)
	}
	return o, nil
}

// Create validates terms, locks the writer's collateral and stores a
// new ACTIVE option. The lock is the last mutation, so a failed
// validation touches nothing.
func (r *Registry) Create(writer string, terms domain.OptionTerms, now time.Time) (*domain.Option, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}

	listing, ok := r.params.ListedAsset(terms.Underlying)
	if !ok {
		return nil, fmt.Errorf("%w: asset %q not listed", domain.ErrInvalidTerms, terms.Underlying)
	}
	if terms.Premium.LessThan(listing.MinPremium) {
		return nil, fmt.Errorf("%w: premium %s below minimum %s",
			domain.ErrInvalidTerms, terms.Premium, listing.MinPremium)
	}

	lifetime := terms.Expiry.Sub(now)
	if lifetime < r.params.MinDuration || lifetime > r.params.MaxDuration {
		return nil, fmt.Errorf("%w: expiry %s outside [%s, %s] from now",
			domain.ErrInvalidTerms, terms.Expiry.Format(time.RFC3339),
			r.params.MinDuration, r.params.MaxDuration)
	}

	window := terms.ExerciseWindow
	if window == 0 {
		window = r.params.DefaultExerciseWindow
	}

	asset, required := terms.RequiredCollateral(r.params.QuoteAsset)
	if err := r.ledger.Lock(writer, asset, required); err != nil {
		return nil, err
	}

	o := &domain.Option{
		ID:               r.nextID,
		Writer:           writer,
		Underlying:       terms.Underlying,
		Strike:           terms.Strike,
		Premium:          terms.Premium,
		Amount:           terms.Amount,
		Kind:             terms.Kind,
		Style:            terms.Style,
		CreatedAt:        now,
		Expiry:           terms.Expiry,
		ExerciseWindow:   window,
		State:            domain.StateActive,
		CollateralAsset:  asset,
		CollateralLocked: required,
	}
	r.options[o.ID] = o
	r.nextID++
	return o, nil
}

// Match sells the option to buyer for payment. The settlement engine
// splits the premium and refunds any overpayment; the holder is set
// only after the money has moved.
func (r *Registry) Match(id uint64, buyer string, payment decimal.Decimal, now time.Time) (*domain.Option, decimal.Decimal, error) {
	o, err := r.Get(id)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := r.matchable(o, buyer, now); err != nil {
		return nil, decimal.Zero, err
	}
	if payment.LessThan(o.Premium) {
		return nil, decimal.Zero, fmt.Errorf("%w: sent %s, premium %s",
			domain.ErrInsufficientPayment, payment, o.Premium)
	}

	refund, err := r.settler.SettleMatch(o, buyer, payment)
	if err != nil {
		return nil, decimal.Zero, err
	}

	o.Holder = buyer
	r.refundBids(id, "")
	return o, refund, nil
}

func (r *Registry) matchable(o *domain.Option, buyer string, now time.Time) error {
	if o.State != domain.StateActive {
		return fmt.Errorf("%w: option %d is %s", domain.ErrInvalidStateTransition, o.ID, o.State)
	}
	if o.IsMatched() {
		return fmt.Errorf("%w: option %d", domain.ErrAlreadyMatched, o.ID)
	}
	if !now.Before(o.Expiry) {
		return fmt.Errorf("%w: option %d", domain.ErrOptionExpired, o.ID)
	}
	if buyer == o.Writer {
		return fmt.Errorf("%w: writer cannot buy own option", domain.ErrInvalidTerms)
	}
	return nil
}

// Cancel retires an unmatched option and releases the writer's
// collateral. Writer only.
func (r *Registry) Cancel(id uint64, caller string) (*domain.Option, error) {
	o, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if caller != o.Writer {
		return nil, fmt.Errorf("%w: only the writer can cancel", domain.ErrNotAuthorized)
	}
	if o.State != domain.StateActive {
		return nil, fmt.Errorf("%w: option %d is %s", domain.ErrInvalidStateTransition, o.ID, o.State)
	}
	if o.IsMatched() {
		return nil, fmt.Errorf("%w: option %d", domain.ErrAlreadyMatched, o.ID)
	}

	if err := r.ledger.Release(o.Writer, o.CollateralAsset, o.CollateralLocked); err != nil {
		return nil, err
	}
	o.CollateralLocked = decimal.Zero
	o.State = domain.StateCancelled
	r.refundBids(id, "")
	return o, nil
}

// Exercise settles the option for its holder. Settlement reads the
// price gate, computes the payoff and moves the collateral; only then
// does the option transition, so a failed settlement leaves it ACTIVE.
func (r *Registry) Exercise(id uint64, caller string, now time.Time) (*domain.Option, decimal.Decimal, error) {
	o, err := r.Get(id)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if o.State != domain.StateActive {
		return nil, decimal.Zero, fmt.Errorf("%w: option %d is %s", domain.ErrInvalidStateTransition, o.ID, o.State)
	}
	if !o.IsMatched() || caller != o.Holder {
		return nil, decimal.Zero, fmt.Errorf("%w: only the holder can exercise", domain.ErrNotAuthorized)
	}
	if !o.InExerciseWindow(now) {
		return nil, decimal.Zero, fmt.Errorf("%w: option %d outside exercise window", domain.ErrInvalidStateTransition, o.ID)
	}

	payoff, err := r.settler.SettleExercise(o, now)
	if err != nil {
		return nil, decimal.Zero, err
	}

	o.CollateralLocked = decimal.Zero
	o.State = domain.StateExercised
	return o, payoff, nil
}

// BatchExpire transitions every ACTIVE id past its exercise window to
// EXPIRED, releasing the writer's collateral with zero payoff. Unknown
// or already-terminal ids are skipped, so overlapping crank calls are
// harmless.
func (r *Registry) BatchExpire(ids []uint64, now time.Time) ([]*domain.Option, error) {
	var expired []*domain.Option
	for _, id := range ids {
		o, ok := r.options[id]
		if !ok || o.State != domain.StateActive {
			continue // no-op, not an error: the crank may re-submit
		}
		if !o.ExpiredBeyondWindow(now) {
			continue
		}
		if err := r.ledger.Release(o.Writer, o.CollateralAsset, o.CollateralLocked); err != nil {
			return expired, err
		}
		o.CollateralLocked = decimal.Zero
		o.State = domain.StateExpired
		r.refundBids(id, "")
		expired = append(expired, o)
	}
	return expired, nil
}

// Expirable returns the ids of ACTIVE options past their exercise
// window at now, sorted for deterministic crank batches.
func (r *Registry) Expirable(now time.Time) []uint64 {
	var ids []uint64
	for id, o := range r.options {
		if o.State == domain.StateActive && o.ExpiredBeyondWindow(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Options returns a snapshot copy of all option records sorted by id.
func (r *Registry) Options() []domain.Option {
	result := make([]domain.Option, 0, len(r.options))
	for _, o := range r.options {
		result = append(result, *o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Restore loads a persisted option. Boot-time only.
func (r *Registry) Restore(o domain.Option) {
	copied := o
	r.options[o.ID] = &copied
	if o.ID >= r.nextID {
		r.nextID = o.ID + 1
	}
}
