package ledger

import (
	"errors"
	"testing"

	"optionclear/internal/domain"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLedgerAccountLifecycle(t *testing.T) {
	l := NewLedger()

	if err := l.Deposit("alice", "BTC", dec("10")); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := l.Lock("alice", "BTC", dec("6")); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	a := l.Account("alice", "BTC")
	if !a.Available.Equal(dec("4")) || !a.Locked.Equal(dec("6")) {
		t.Errorf("after lock: available=%s locked=%s", a.Available, a.Locked)
	}

	t.Run("withdraw respects locked funds", func(t *testing.T) {
		if err := l.Withdraw("alice", "BTC", dec("5")); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Errorf("expected ErrInsufficientBalance, got %v", err)
		}
	})

	t.Run("release restores available", func(t *testing.T) {
		if err := l.Release("alice", "BTC", dec("6")); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if !a.Available.Equal(dec("10")) || !a.Locked.IsZero() {
			t.Errorf("after release: available=%s locked=%s", a.Available, a.Locked)
		}
	})
}

func TestLedgerSeize(t *testing.T) {
	l := NewLedger()
	l.Deposit("writer", "BTC", dec("10"))
	l.Lock("writer", "BTC", dec("10"))

	if err := l.Seize("writer", "BTC", dec("3"), "holder"); err != nil {
		t.Fatalf("Seize failed: %v", err)
	}
	if !l.Account("writer", "BTC").Locked.Equal(dec("7")) {
		t.Errorf("writer locked = %s, want 7", l.Account("writer", "BTC").Locked)
	}
	if !l.Account("holder", "BTC").Available.Equal(dec("3")) {
		t.Errorf("holder available = %s, want 3", l.Account("holder", "BTC").Available)
	}

	t.Run("seize beyond locked fails", func(t *testing.T) {
		err := l.Seize("writer", "BTC", dec("8"), "holder")
		if !errors.Is(err, domain.ErrInsufficientContractBalance) {
			t.Errorf("expected ErrInsufficientContractBalance, got %v", err)
		}
	})
}

func TestLedgerTransfer(t *testing.T) {
	l := NewLedger()
	l.Deposit("buyer", "USDT", dec("100"))

	if err := l.Transfer("buyer", "writer", "USDT", dec("40")); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !l.Account("buyer", "USDT").Available.Equal(dec("60")) {
		t.Errorf("buyer = %s, want 60", l.Account("buyer", "USDT").Available)
	}
	if !l.Account("writer", "USDT").Available.Equal(dec("40")) {
		t.Errorf("writer = %s, want 40", l.Account("writer", "USDT").Available)
	}

	t.Run("zero transfer is a no-op", func(t *testing.T) {
		if err := l.Transfer("buyer", "writer", "USDT", decimal.Zero); err != nil {
			t.Errorf("zero transfer failed: %v", err)
		}
	})

	t.Run("overdraft rejected", func(t *testing.T) {
		err := l.Transfer("buyer", "writer", "USDT", dec("1000"))
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Errorf("expected ErrInsufficientBalance, got %v", err)
		}
	})
}

// Internal moves must never change the per-asset total; only deposits
// and withdrawals do.
func TestLedgerConservation(t *testing.T) {
	l := NewLedger()
	l.Deposit("writer", "BTC", dec("10"))
	l.Deposit("buyer", "USDT", dec("500"))
	l.Deposit("writer", "USDT", dec("50"))

	before := l.TotalsByAsset()

	l.Lock("writer", "BTC", dec("10"))
	l.Transfer("buyer", "writer", "USDT", dec("100"))
	l.Seize("writer", "BTC", dec("4"), "buyer")
	l.Release("writer", "BTC", dec("6"))

	after := l.TotalsByAsset()
	for asset, total := range before {
		if !after[asset].Equal(total) {
			t.Errorf("%s total drifted: %s -> %s", asset, total, after[asset])
		}
	}

	l.Withdraw("buyer", "USDT", dec("400"))
	if !l.TotalsByAsset()["USDT"].Equal(dec("150")) {
		t.Errorf("USDT total after withdraw = %s, want 150", l.TotalsByAsset()["USDT"])
	}
}

func TestLedgerSnapshotRestore(t *testing.T) {
	l := NewLedger()
	l.Deposit("alice", "BTC", dec("5"))
	l.Lock("alice", "BTC", dec("2"))

	restored := NewLedger()
	for _, a := range l.Snapshot() {
		if err := restored.Restore(a); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
	}

	a := restored.Account("alice", "BTC")
	if !a.Available.Equal(dec("3")) || !a.Locked.Equal(dec("2")) {
		t.Errorf("restored: available=%s locked=%s", a.Available, a.Locked)
	}

	t.Run("corrupt account rejected", func(t *testing.T) {
		bad := domain.CollateralAccount{Owner: "x", Asset: "BTC", Available: dec("-1")}
		if err := restored.Restore(bad); !errors.Is(err, domain.ErrInvalidTerms) {
			t.Errorf("expected ErrInvalidTerms, got %v", err)
		}
	})
}
