package custody

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"trustescrow/core/state"
	"trustescrow/storage"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestNormalizeSource(t *testing.T) {
	cases := map[string]string{
		" usdc ":    "USDC",
		"erc20.x-1": "ERC20.X-1",
		"fee_unit":  "FEE_UNIT",
	}
	for in, want := range cases {
		got, err := NormalizeSource(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("normalize %q: expected %q, got %q", in, want, got)
		}
	}
	for _, bad := range []string{"", "   ", "usd c", "a/b", string(bytes.Repeat([]byte("A"), 33))} {
		if _, err := NormalizeSource(bad); !errors.Is(err, ErrInvalidSource) {
			t.Fatalf("expected ErrInvalidSource for %q, got %v", bad, err)
		}
	}
}

func TestVaultPullPush(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	vault := NewVault(newTestAddress(0xAA))
	buyer := newTestAddress(0x01)
	merchant := newTestAddress(0x02)

	err := mgr.Update(func(st state.Store) error {
		if err := vault.Credit(st, buyer, "usdc", big.NewInt(500)); err != nil {
			return err
		}
		if err := vault.Pull(st, buyer, "USDC", big.NewInt(200)); err != nil {
			return err
		}
		return vault.Push(st, merchant, "usdc", big.NewInt(150))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = mgr.View(func(st state.Store) error {
		for owner, want := range map[[20]byte]int64{buyer: 300, merchant: 150, vault.Address(): 50} {
			bal, err := vault.Balance(st, owner, "USDC")
			if err != nil {
				return err
			}
			if bal.Cmp(big.NewInt(want)) != 0 {
				t.Fatalf("owner %x: expected balance %d, got %s", owner[:2], want, bal)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestVaultPullInsufficientBalance(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	vault := NewVault(newTestAddress(0xAA))
	buyer := newTestAddress(0x01)

	err := mgr.Update(func(st state.Store) error {
		if err := vault.Credit(st, buyer, "USDC", big.NewInt(10)); err != nil {
			return err
		}
		return vault.Pull(st, buyer, "USDC", big.NewInt(11))
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestVaultRejectsInvalidAmounts(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	vault := NewVault(newTestAddress(0xAA))
	buyer := newTestAddress(0x01)

	err := mgr.Update(func(st state.Store) error {
		return vault.Pull(st, buyer, "USDC", big.NewInt(-1))
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	err = mgr.Update(func(st state.Store) error {
		return vault.Credit(st, buyer, "USDC", nil)
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil amount, got %v", err)
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	err = mgr.Update(func(st state.Store) error {
		return vault.Credit(st, buyer, "USDC", tooBig)
	})
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}

func TestVaultCreditOverflow(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	vault := NewVault(newTestAddress(0xAA))
	buyer := newTestAddress(0x01)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	err := mgr.Update(func(st state.Store) error {
		if err := vault.Credit(st, buyer, "USDC", max); err != nil {
			return err
		}
		return vault.Credit(st, buyer, "USDC", big.NewInt(1))
	})
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}

func TestApplyAllocationsOnce(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	vault := NewVault(newTestAddress(0xAA))
	buyer := newTestAddress(0x01)
	allocations := []Allocation{{Owner: buyer, Source: "usdc", Amount: big.NewInt(75)}}

	for i, want := range []bool{true, false} {
		var applied bool
		err := mgr.Update(func(st state.Store) error {
			var err error
			applied, err = vault.ApplyAllocations(st, allocations)
			return err
		})
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if applied != want {
			t.Fatalf("apply %d: expected applied=%v, got %v", i, want, applied)
		}
	}

	err := mgr.View(func(st state.Store) error {
		bal, err := vault.Balance(st, buyer, "USDC")
		if err != nil {
			return err
		}
		if bal.Int64() != 75 {
			t.Fatalf("expected balance 75, got %s", bal)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestApplyAllocationsRejectsZeroOwner(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	vault := NewVault(newTestAddress(0xAA))
	err := mgr.Update(func(st state.Store) error {
		_, err := vault.ApplyAllocations(st, []Allocation{{Source: "USDC", Amount: big.NewInt(1)}})
		return err
	})
	if err == nil {
		t.Fatalf("expected error for zero owner")
	}
}

func TestVaultRejectsSelfTransfer(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	vault := NewVault(newTestAddress(0xAA))
	if err := mgr.Update(func(st state.Store) error {
		return vault.Credit(st, vault.Address(), "USDC", big.NewInt(500))
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	for name, transfer := range map[string]func(state.Store) error{
		"pull": func(st state.Store) error { return vault.Pull(st, vault.Address(), "USDC", big.NewInt(500)) },
		"push": func(st state.Store) error { return vault.Push(st, vault.Address(), "USDC", big.NewInt(500)) },
		"zero": func(st state.Store) error { return vault.Pull(st, vault.Address(), "USDC", big.NewInt(0)) },
	} {
		if err := mgr.Update(transfer); !errors.Is(err, ErrSelfTransfer) {
			t.Fatalf("%s: expected ErrSelfTransfer, got %v", name, err)
		}
	}
}
