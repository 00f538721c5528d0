package reputation

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func propertyRecord(total, successful, disputed, chargebacked uint64, txs uint64, created, updated int64) *MerchantReputation {
	rep := NewMerchantReputation(newTestAddress(0x02), created)
	rep.TotalTransactions = txs
	rep.TotalAmount = new(big.Int).SetUint64(total)
	rep.SuccessfulAmount = new(big.Int).SetUint64(successful % (total + 1))
	rep.DisputedAmount = new(big.Int).SetUint64(disputed % (total + 1))
	rep.ChargebackedAmount = new(big.Int).SetUint64(chargebacked % (total + 1))
	rep.LastUpdateTimestamp = updated
	return rep
}

func TestScorerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	scorer := NewScorer(DefaultParams())
	now := int64(1_700_000_000)

	properties.Property("below the validity floor the score is always (0, false)", prop.ForAll(
		func(txs, total, successful, disputed, chargebacked uint64) bool {
			rep := propertyRecord(total, successful, disputed, chargebacked, txs, now-400*day, now)
			score, valid, err := scorer.Score(rep, now)
			return err == nil && score == 0 && !valid
		},
		gen.UInt64Range(0, DefaultMinTransactions-1),
		gen.UInt64Range(1, 1<<40),
		gen.UInt64(),
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.Property("valid scores are bounded by 120", prop.ForAll(
		func(total, successful, disputed, chargebacked uint64, age, idle int64) bool {
			rep := propertyRecord(total, successful, disputed, chargebacked, DefaultMinTransactions, now-age, now-idle)
			score, valid, err := scorer.Score(rep, now)
			return err == nil && valid && score <= 120
		},
		gen.UInt64Range(1, 1<<40),
		gen.UInt64(),
		gen.UInt64(),
		gen.UInt64(),
		gen.Int64Range(0, 2*DefaultAgeBonusWindow),
		gen.Int64Range(0, 2*DefaultDecayWindow),
	))

	properties.Property("scoring is deterministic", prop.ForAll(
		func(total, successful uint64, idle int64) bool {
			rep := propertyRecord(total, successful, 0, 0, DefaultMinTransactions, now-day, now-idle)
			first, err1 := scorer.Evaluate(rep, now)
			second, err2 := scorer.Evaluate(rep.Clone(), now)
			return err1 == nil && err2 == nil && first == second
		},
		gen.UInt64Range(1, 1<<40),
		gen.UInt64(),
		gen.Int64Range(0, 2*DefaultDecayWindow),
	))

	properties.Property("more inactivity never raises the score", prop.ForAll(
		func(total, successful uint64, idle, extra int64) bool {
			fresh := propertyRecord(total, successful, 0, 0, DefaultMinTransactions, now-DefaultAgeBonusWindow, now-idle)
			stale := propertyRecord(total, successful, 0, 0, DefaultMinTransactions, now-DefaultAgeBonusWindow, now-idle-extra)
			a, _, err1 := scorer.Score(fresh, now)
			b, _, err2 := scorer.Score(stale, now)
			return err1 == nil && err2 == nil && b <= a
		},
		gen.UInt64Range(1, 1<<40),
		gen.UInt64(),
		gen.Int64Range(0, DefaultDecayWindow),
		gen.Int64Range(0, DefaultDecayWindow),
	))

	properties.TestingRun(t)
}
