package registry

import (
	"errors"
	"testing"
	"time"

	"optionclear/internal/domain"
	"optionclear/internal/ledger"
	"optionclear/internal/oracle"
	"optionclear/internal/settlement"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func testParams() *domain.ClearingParams {
	return &domain.ClearingParams{
		QuoteAsset:            "USDT",
		Treasury:              "treasury",
		FeeRateBps:            100,
		ReferralRateBps:       2000,
		PriceValidity:         time.Hour,
		MinDuration:           time.Hour,
		MaxDuration:           30 * 24 * time.Hour,
		DefaultExerciseWindow: 24 * time.Hour,
		Assets: map[string]domain.AssetListing{
			"BTC": {Symbol: "BTC", MinPremium: dec("0.5")},
		},
	}
}

type fixture struct {
	reg    *Registry
	ledger *ledger.Ledger
	gate   *oracle.PriceGate
}

func newFixture() *fixture {
	params := testParams()
	l := ledger.NewLedger()
	gate := oracle.NewPriceGate([]string{"oracle-1"}, nil)
	engine := settlement.NewEngine(l, gate, settlement.NewDistributor(), params)
	return &fixture{
		reg:    NewRegistry(l, engine, params),
		ledger: l,
		gate:   gate,
	}
}

func callTerms() domain.OptionTerms {
	return domain.OptionTerms{
		Underlying: "BTC",
		Strike:     dec("100"),
		Premium:    dec("1"),
		Amount:     dec("10"),
		Kind:       domain.KindCall,
		Style:      domain.StyleAmerican,
		Expiry:     testNow.Add(7 * 24 * time.Hour),
	}
}

func TestCreate(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("10"))

	o, err := fx.reg.Create("writer", callTerms(), testNow)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if o.ID != 1 || o.State != domain.StateActive || o.IsMatched() {
		t.Errorf("option = %+v", o)
	}
	if o.ExerciseWindow != 24*time.Hour {
		t.Errorf("window = %s, want platform default 24h", o.ExerciseWindow)
	}

	a := fx.ledger.Account("writer", "BTC")
	if !a.Locked.Equal(dec("10")) || !a.Available.IsZero() {
		t.Errorf("collateral not locked: available=%s locked=%s", a.Available, a.Locked)
	}
}

func TestCreateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.OptionTerms)
	}{
		{"unlisted asset", func(t *domain.OptionTerms) { t.Underlying = "DOGE" }},
		{"premium below listing minimum", func(t *domain.OptionTerms) { t.Premium = dec("0.1") }},
		{"expiry too soon", func(t *domain.OptionTerms) { t.Expiry = testNow.Add(time.Minute) }},
		{"expiry too far", func(t *domain.OptionTerms) { t.Expiry = testNow.Add(365 * 24 * time.Hour) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture()
			fx.ledger.Deposit("writer", "BTC", dec("10"))
			terms := callTerms()
			tc.mutate(&terms)

			_, err := fx.reg.Create("writer", terms, testNow)
			if !errors.Is(err, domain.ErrInvalidTerms) {
				t.Errorf("expected ErrInvalidTerms, got %v", err)
			}
			if !fx.ledger.Account("writer", "BTC").Locked.IsZero() {
				t.Error("failed create must not lock collateral")
			}
		})
	}

	t.Run("insufficient collateral", func(t *testing.T) {
		fx := newFixture()
		fx.ledger.Deposit("writer", "BTC", dec("3"))
		_, err := fx.reg.Create("writer", callTerms(), testNow)
		if !errors.Is(err, domain.ErrInsufficientCollateral) {
			t.Errorf("expected ErrInsufficientCollateral, got %v", err)
		}
	})
}

func TestMatch(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("10"))
	fx.ledger.Deposit("buyer", "USDT", dec("5"))

	o, _ := fx.reg.Create("writer", callTerms(), testNow)

	matched, refund, err := fx.reg.Match(o.ID, "buyer", dec("1.5"), testNow)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if matched.Holder != "buyer" {
		t.Errorf("holder = %q, want buyer", matched.Holder)
	}
	if !refund.Equal(dec("0.5")) {
		t.Errorf("refund = %s, want 0.5", refund)
	}
	// Only the premium left the buyer.
	if got := fx.ledger.Account("buyer", "USDT").Available; !got.Equal(dec("4")) {
		t.Errorf("buyer balance = %s, want 4", got)
	}

	t.Run("second match rejected", func(t *testing.T) {
		fx.ledger.Deposit("other", "USDT", dec("5"))
		_, _, err := fx.reg.Match(o.ID, "other", dec("1"), testNow)
		if !errors.Is(err, domain.ErrAlreadyMatched) {
			t.Errorf("expected ErrAlreadyMatched, got %v", err)
		}
	})
}

func TestMatchRejections(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("10"))
	fx.ledger.Deposit("buyer", "USDT", dec("5"))
	o, _ := fx.reg.Create("writer", callTerms(), testNow)

	t.Run("unknown option", func(t *testing.T) {
		_, _, err := fx.reg.Match(999, "buyer", dec("1"), testNow)
		if !errors.Is(err, domain.ErrOptionNotFound) {
			t.Errorf("expected ErrOptionNotFound, got %v", err)
		}
	})

	t.Run("payment below premium", func(t *testing.T) {
		_, _, err := fx.reg.Match(o.ID, "buyer", dec("0.5"), testNow)
		if !errors.Is(err, domain.ErrInsufficientPayment) {
			t.Errorf("expected ErrInsufficientPayment, got %v", err)
		}
	})

	t.Run("writer cannot buy own option", func(t *testing.T) {
		fx.ledger.Deposit("writer", "USDT", dec("5"))
		_, _, err := fx.reg.Match(o.ID, "writer", dec("1"), testNow)
		if !errors.Is(err, domain.ErrInvalidTerms) {
			t.Errorf("expected ErrInvalidTerms, got %v", err)
		}
	})

	t.Run("expired option", func(t *testing.T) {
		_, _, err := fx.reg.Match(o.ID, "buyer", dec("1"), o.Expiry)
		if !errors.Is(err, domain.ErrOptionExpired) {
			t.Errorf("expected ErrOptionExpired, got %v", err)
		}
	})

	t.Run("buyer cannot cover payment", func(t *testing.T) {
		_, _, err := fx.reg.Match(o.ID, "pauper", dec("1"), testNow)
		if !errors.Is(err, domain.ErrInsufficientPayment) {
			t.Errorf("expected ErrInsufficientPayment, got %v", err)
		}
		if fx.reg.options[o.ID].IsMatched() {
			t.Error("failed match must not set a holder")
		}
	})
}

func TestCancel(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("10"))
	o, _ := fx.reg.Create("writer", callTerms(), testNow)

	t.Run("non-writer rejected", func(t *testing.T) {
		_, err := fx.reg.Cancel(o.ID, "mallory")
		if !errors.Is(err, domain.ErrNotAuthorized) {
			t.Errorf("expected ErrNotAuthorized, got %v", err)
		}
	})

	cancelled, err := fx.reg.Cancel(o.ID, "writer")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.State != domain.StateCancelled || !cancelled.CollateralLocked.IsZero() {
		t.Errorf("option = %+v", cancelled)
	}
	if got := fx.ledger.Account("writer", "BTC").Available; !got.Equal(dec("10")) {
		t.Errorf("collateral not released, available = %s", got)
	}

	t.Run("terminal option cannot cancel again", func(t *testing.T) {
		_, err := fx.reg.Cancel(o.ID, "writer")
		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Errorf("expected ErrInvalidStateTransition, got %v", err)
		}
	})

	t.Run("matched option cannot cancel", func(t *testing.T) {
		fx.ledger.Deposit("writer", "BTC", dec("10"))
		fx.ledger.Deposit("buyer", "USDT", dec("5"))
		o2, _ := fx.reg.Create("writer", callTerms(), testNow)
		fx.reg.Match(o2.ID, "buyer", dec("1"), testNow)

		_, err := fx.reg.Cancel(o2.ID, "writer")
		if !errors.Is(err, domain.ErrAlreadyMatched) {
			t.Errorf("expected ErrAlreadyMatched, got %v", err)
		}
	})
}

func TestExercise(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("10"))
	fx.ledger.Deposit("buyer", "USDT", dec("5"))
	fx.gate.Publish("oracle-1", "BTC", dec("150"), testNow)

	o, _ := fx.reg.Create("writer", callTerms(), testNow)
	fx.reg.Match(o.ID, "buyer", dec("1"), testNow)

	t.Run("only the holder may exercise", func(t *testing.T) {
		_, _, err := fx.reg.Exercise(o.ID, "writer", testNow)
		if !errors.Is(err, domain.ErrNotAuthorized) {
			t.Errorf("expected ErrNotAuthorized, got %v", err)
		}
	})

	exercised, payoff, err := fx.reg.Exercise(o.ID, "buyer", testNow)
	if err != nil {
		t.Fatalf("Exercise failed: %v", err)
	}
	if exercised.State != domain.StateExercised || !exercised.CollateralLocked.IsZero() {
		t.Errorf("option = %+v", exercised)
	}
	if !payoff.Equal(dec("500")) {
		t.Errorf("payoff = %s, want 500", payoff)
	}

	t.Run("terminal option cannot exercise again", func(t *testing.T) {
		_, _, err := fx.reg.Exercise(o.ID, "buyer", testNow)
		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Errorf("expected ErrInvalidStateTransition, got %v", err)
		}
	})
}

func TestExerciseFailureLeavesActive(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("10"))
	fx.ledger.Deposit("buyer", "USDT", dec("5"))
	observed := testNow.Add(-2 * time.Hour)
	fx.gate.Publish("oracle-1", "BTC", dec("150"), observed)

	o, _ := fx.reg.Create("writer", callTerms(), testNow)
	fx.reg.Match(o.ID, "buyer", dec("1"), testNow)

	_, _, err := fx.reg.Exercise(o.ID, "buyer", testNow)
	if !errors.Is(err, domain.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	if got, _ := fx.reg.Get(o.ID); got.State != domain.StateActive {
		t.Errorf("state = %s, want ACTIVE after failed settlement", got.State)
	}
	if !fx.ledger.Account("writer", "BTC").Locked.Equal(dec("10")) {
		t.Error("collateral must stay locked after failed settlement")
	}
}

func TestBatchExpire(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("20"))

	o1, _ := fx.reg.Create("writer", callTerms(), testNow)
	o2, _ := fx.reg.Create("writer", callTerms(), testNow)

	past := o1.Expiry.Add(o1.ExerciseWindow + time.Second)

	ids := fx.reg.Expirable(past)
	if len(ids) != 2 || ids[0] != o1.ID || ids[1] != o2.ID {
		t.Fatalf("expirable = %v", ids)
	}

	expired, err := fx.reg.BatchExpire(ids, past)
	if err != nil {
		t.Fatalf("BatchExpire failed: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expired %d options, want 2", len(expired))
	}
	for _, o := range expired {
		if o.State != domain.StateExpired || !o.CollateralLocked.IsZero() {
			t.Errorf("option %d = %+v", o.ID, o)
		}
	}
	if got := fx.ledger.Account("writer", "BTC").Available; !got.Equal(dec("20")) {
		t.Errorf("collateral not released, available = %s", got)
	}

	t.Run("re-submission is a no-op", func(t *testing.T) {
		again, err := fx.reg.BatchExpire(ids, past)
		if err != nil {
			t.Fatalf("repeat BatchExpire failed: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("repeat batch expired %d options, want 0", len(again))
		}
	})

	t.Run("unknown ids skipped", func(t *testing.T) {
		out, err := fx.reg.BatchExpire([]uint64{999}, past)
		if err != nil || len(out) != 0 {
			t.Errorf("got %v, %v", out, err)
		}
	})

	t.Run("not-yet-expired ids skipped", func(t *testing.T) {
		fx.ledger.Deposit("writer", "BTC", dec("10"))
		o3, _ := fx.reg.Create("writer", callTerms(), testNow)
		out, err := fx.reg.BatchExpire([]uint64{o3.ID}, testNow)
		if err != nil || len(out) != 0 {
			t.Errorf("got %v, %v", out, err)
		}
	})
}

func TestBids(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("10"))
	fx.ledger.Deposit("bidder", "USDT", dec("10"))
	o, _ := fx.reg.Create("writer", callTerms(), testNow)

	b, err := fx.reg.PlaceBid(o.ID, "bidder", dec("1.2"), testNow)
	if err != nil {
		t.Fatalf("PlaceBid failed: %v", err)
	}
	if !b.Amount.Equal(dec("1.2")) {
		t.Errorf("bid = %+v", b)
	}
	if got := fx.ledger.Account("bidder", "USDT").Locked; !got.Equal(dec("1.2")) {
		t.Errorf("reservation = %s, want 1.2", got)
	}

	t.Run("repeat bid replaces reservation", func(t *testing.T) {
		if _, err := fx.reg.PlaceBid(o.ID, "bidder", dec("2"), testNow); err != nil {
			t.Fatalf("PlaceBid failed: %v", err)
		}
		if got := fx.ledger.Account("bidder", "USDT").Locked; !got.Equal(dec("2")) {
			t.Errorf("reservation = %s, want 2", got)
		}
		if bids := fx.reg.Bids(o.ID); len(bids) != 1 {
			t.Errorf("bids = %+v", bids)
		}
	})

	t.Run("failed replacement keeps prior bid standing", func(t *testing.T) {
		_, err := fx.reg.PlaceBid(o.ID, "bidder", dec("100"), testNow)
		if !errors.Is(err, domain.ErrInsufficientCollateral) {
			t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
		}
		if got := fx.ledger.Account("bidder", "USDT").Locked; !got.Equal(dec("2")) {
			t.Errorf("reservation = %s, want prior 2 untouched", got)
		}
		bids := fx.reg.Bids(o.ID)
		if len(bids) != 1 || !bids[0].Amount.Equal(dec("2")) {
			t.Errorf("bids = %+v, want the prior bid intact", bids)
		}
	})

	t.Run("bid below premium rejected", func(t *testing.T) {
		_, err := fx.reg.PlaceBid(o.ID, "bidder", dec("0.5"), testNow)
		if !errors.Is(err, domain.ErrInsufficientPayment) {
			t.Errorf("expected ErrInsufficientPayment, got %v", err)
		}
	})

	t.Run("cancel bid releases reservation", func(t *testing.T) {
		if err := fx.reg.CancelBid(o.ID, "bidder"); err != nil {
			t.Fatalf("CancelBid failed: %v", err)
		}
		if !fx.ledger.Account("bidder", "USDT").Locked.IsZero() {
			t.Error("reservation not released")
		}
		if err := fx.reg.CancelBid(o.ID, "bidder"); !errors.Is(err, domain.ErrBidNotFound) {
			t.Errorf("expected ErrBidNotFound, got %v", err)
		}
	})
}

func TestAcceptBid(t *testing.T) {
	fx := newFixture()
	fx.ledger.Deposit("writer", "BTC", dec("10"))
	fx.ledger.Deposit("bidder", "USDT", dec("10"))
	fx.ledger.Deposit("loser", "USDT", dec("10"))
	o, _ := fx.reg.Create("writer", callTerms(), testNow)

	fx.reg.PlaceBid(o.ID, "bidder", dec("1.5"), testNow)
	fx.reg.PlaceBid(o.ID, "loser", dec("1.1"), testNow)

	t.Run("only the writer may accept", func(t *testing.T) {
		_, _, err := fx.reg.AcceptBid(o.ID, "mallory", "bidder", testNow)
		if !errors.Is(err, domain.ErrNotAuthorized) {
			t.Errorf("expected ErrNotAuthorized, got %v", err)
		}
	})

	t.Run("unknown bid rejected", func(t *testing.T) {
		_, _, err := fx.reg.AcceptBid(o.ID, "writer", "nobody", testNow)
		if !errors.Is(err, domain.ErrBidNotFound) {
			t.Errorf("expected ErrBidNotFound, got %v", err)
		}
	})

	matched, refund, err := fx.reg.AcceptBid(o.ID, "writer", "bidder", testNow)
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	if matched.Holder != "bidder" {
		t.Errorf("holder = %q, want bidder", matched.Holder)
	}
	if !refund.Equal(dec("0.5")) {
		t.Errorf("refund = %s, want 0.5", refund)
	}

	// Winning bidder paid only the premium; the loser's reservation came back.
	if got := fx.ledger.Account("bidder", "USDT").Available; !got.Equal(dec("9")) {
		t.Errorf("bidder balance = %s, want 9", got)
	}
	loser := fx.ledger.Account("loser", "USDT")
	if !loser.Available.Equal(dec("10")) || !loser.Locked.IsZero() {
		t.Errorf("loser balance: available=%s locked=%s", loser.Available, loser.Locked)
	}
	if bids := fx.reg.Bids(o.ID); len(bids) != 0 {
		t.Errorf("stale bids remain: %+v", bids)
	}
}
