package escrow

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"trustescrow/native/reputation"
)

const opKinds = 6

type counters struct {
	total           uint64
	successful      uint64
	disputed        uint64
	chargebacked    uint64
	totalAmt        *big.Int
	successfulAmt   *big.Int
	disputedAmt     *big.Int
	chargebackedAmt *big.Int
}

func snapshotCounters(rep *reputation.MerchantReputation) counters {
	if rep == nil {
		zero := big.NewInt(0)
		return counters{totalAmt: zero, successfulAmt: zero, disputedAmt: zero, chargebackedAmt: zero}
	}
	return counters{
		total:           rep.TotalTransactions,
		successful:      rep.SuccessfulTransactions,
		disputed:        rep.DisputedTransactions,
		chargebacked:    rep.ChargebackedTransactions,
		totalAmt:        rep.TotalAmount,
		successfulAmt:   rep.SuccessfulAmount,
		disputedAmt:     rep.DisputedAmount,
		chargebackedAmt: rep.ChargebackedAmount,
	}
}

func (c counters) notAbove(next counters) bool {
	return c.total <= next.total &&
		c.successful <= next.successful &&
		c.disputed <= next.disputed &&
		c.chargebacked <= next.chargebacked &&
		c.totalAmt.Cmp(next.totalAmt) <= 0 &&
		c.successfulAmt.Cmp(next.successfulAmt) <= 0 &&
		c.disputedAmt.Cmp(next.disputedAmt) <= 0 &&
		c.chargebackedAmt.Cmp(next.chargebackedAmt) <= 0
}

// runOperations replays a generated operation sequence and reports whether
// every lifecycle invariant held after each step.
func runOperations(t *testing.T, steps []int) bool {
	h := newHarness(t)
	var ids [][32]byte
	seen := make(map[[32]byte]struct{})
	terminal := make(map[[32]byte]Status)

	standing, err := h.engine.Merchant(h.merchant)
	if err != nil {
		return false
	}
	prev := snapshotCounters(standing.Record)

	for _, step := range steps {
		kind, target := step%opKinds, step/opKinds
		var id [32]byte
		if len(ids) > 0 {
			id = ids[target%len(ids)]
		}
		switch kind {
		case 0:
			newID, err := h.engine.Deposit(h.buyer, h.merchant, "USDC", big.NewInt(int64(target%50+1)))
			if err == nil {
				if _, dup := seen[newID]; dup {
					return false
				}
				seen[newID] = struct{}{}
				ids = append(ids, newID)
			}
		case 1:
			_ = h.engine.AddProtection(id, h.buyer)
		case 2:
			_ = h.engine.Withdraw(id, h.merchant)
		case 3:
			_, _ = h.engine.Dispute(id, h.buyer)
		case 4:
			h.clock += DefaultEscrowPeriod / 2
		case 5:
			_, _ = h.engine.WithdrawProtocolFees(h.controller)
		}

		for _, txID := range ids {
			status, err := h.engine.CheckStatus(txID)
			if err != nil || status == StatusNotFound || status == StatusDisputed {
				return false
			}
			if final, ok := terminal[txID]; ok && final != status {
				return false
			}
			if status.Terminal() {
				terminal[txID] = status
			}
		}

		standing, err := h.engine.Merchant(h.merchant)
		if err != nil {
			return false
		}
		next := snapshotCounters(standing.Record)
		if !prev.notAbove(next) {
			return false
		}
		if standing.Record != nil && standing.Record.TotalAmount.Cmp(standing.Record.SuccessfulAmount) < 0 {
			return false
		}
		prev = next
	}
	return true
}

func TestEngineLifecycleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal states are final, ids are unique and counters never decrease", prop.ForAll(
		func(steps []int) bool {
			return runOperations(t, steps)
		},
		gen.SliceOfN(40, gen.IntRange(0, opKinds*100-1)),
	))

	properties.TestingRun(t)
}
