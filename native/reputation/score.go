package reputation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// DefaultMinTransactions is the validity floor: merchants with fewer
	// deposits are always scored (0, false).
	DefaultMinTransactions uint64 = 10
	// DefaultDecayWindow is the inactivity period (180 days, in seconds) over
	// which historical weight decays from 100% to 50%.
	DefaultDecayWindow int64 = 180 * 24 * 60 * 60
	// DefaultAgeBonusWindow is the account age (365 days, in seconds) at which
	// the age bonus reaches its cap.
	DefaultAgeBonusWindow int64 = 365 * 24 * 60 * 60

	fullWeight     = 100
	minDecayFactor = 50
	maxAgeBonus    = 20
)

// ErrArithmeticFault reports a division by zero or an overflow while scoring.
var ErrArithmeticFault = errors.New("reputation: arithmetic fault")

// Params tunes the scorer. Zero fields fall back to the defaults.
type Params struct {
	MinTransactions uint64
	DecayWindow     int64
	AgeBonusWindow  int64
}

// DefaultParams returns the protocol defaults.
func DefaultParams() Params {
	return Params{
		MinTransactions: DefaultMinTransactions,
		DecayWindow:     DefaultDecayWindow,
		AgeBonusWindow:  DefaultAgeBonusWindow,
	}
}

// Evaluation captures every intermediate value of a score computation.
type Evaluation struct {
	SuccessRate    uint64
	DisputeRate    uint64
	ChargebackRate uint64
	DecayFactor    uint64
	Base           uint64
	Decayed        uint64
	AgeBonus       uint64
	Reputation     uint64
	Valid          bool
}

// Scorer computes merchant trust scores. It holds no state besides its
// parameters and is safe for concurrent use.
type Scorer struct {
	params Params
}

// NewScorer constructs a scorer, substituting defaults for unset parameters.
func NewScorer(params Params) *Scorer {
	defaults := DefaultParams()
	if params.MinTransactions == 0 {
		params.MinTransactions = defaults.MinTransactions
	}
	if params.DecayWindow <= 0 {
		params.DecayWindow = defaults.DecayWindow
	}
	if params.AgeBonusWindow <= 0 {
		params.AgeBonusWindow = defaults.AgeBonusWindow
	}
	return &Scorer{params: params}
}

// Params returns the effective parameters.
func (s *Scorer) Params() Params { return s.params }

// Score returns the merchant's reputation and whether it clears the validity
// floor. A nil record scores (0, false).
func (s *Scorer) Score(rep *MerchantReputation, now int64) (uint64, bool, error) {
	eval, err := s.Evaluate(rep, now)
	if err != nil {
		return 0, false, err
	}
	return eval.Reputation, eval.Valid, nil
}

// Evaluate performs the full computation and returns its breakdown.
//
// Rates are integer percentages of TotalAmount. The base score subtracts the
// dispute rate and twice the chargeback rate from the success rate and is
// clamped at zero. It is then weighted by the inactivity decay and the age
// bonus is added on top.
func (s *Scorer) Evaluate(rep *MerchantReputation, now int64) (Evaluation, error) {
	if rep == nil || rep.TotalTransactions < s.params.MinTransactions {
		return Evaluation{}, nil
	}
	total, err := toUint256(rep.TotalAmount)
	if err != nil {
		return Evaluation{}, err
	}
	if total.IsZero() {
		return Evaluation{}, fmt.Errorf("%w: total amount is zero", ErrArithmeticFault)
	}
	successRate, err := percentage(rep.SuccessfulAmount, total)
	if err != nil {
		return Evaluation{}, err
	}
	disputeRate, err := percentage(rep.DisputedAmount, total)
	if err != nil {
		return Evaluation{}, err
	}
	chargebackRate, err := percentage(rep.ChargebackedAmount, total)
	if err != nil {
		return Evaluation{}, err
	}

	penalty, overflow := new(uint256.Int).MulOverflow(chargebackRate, uint256.NewInt(2))
	if overflow {
		return Evaluation{}, fmt.Errorf("%w: chargeback penalty", ErrArithmeticFault)
	}
	if _, overflow = penalty.AddOverflow(penalty, disputeRate); overflow {
		return Evaluation{}, fmt.Errorf("%w: penalty", ErrArithmeticFault)
	}
	base := new(uint256.Int)
	if successRate.Gt(penalty) {
		base.Sub(successRate, penalty)
	}

	decay := s.decayFactor(elapsed(rep.LastUpdateTimestamp, now))
	decayed, overflow := new(uint256.Int).MulOverflow(base, uint256.NewInt(decay))
	if overflow {
		return Evaluation{}, fmt.Errorf("%w: decay", ErrArithmeticFault)
	}
	decayed.Div(decayed, uint256.NewInt(fullWeight))

	bonus := s.ageBonus(elapsed(rep.CreationTimestamp, now))
	reputation, overflow := new(uint256.Int).AddOverflow(decayed, uint256.NewInt(bonus))
	if overflow || !reputation.IsUint64() || !successRate.IsUint64() || !disputeRate.IsUint64() || !chargebackRate.IsUint64() {
		return Evaluation{}, fmt.Errorf("%w: score exceeds 64 bits", ErrArithmeticFault)
	}

	return Evaluation{
		SuccessRate:    successRate.Uint64(),
		DisputeRate:    disputeRate.Uint64(),
		ChargebackRate: chargebackRate.Uint64(),
		DecayFactor:    decay,
		Base:           base.Uint64(),
		Decayed:        decayed.Uint64(),
		AgeBonus:       bonus,
		Reputation:     reputation.Uint64(),
		Valid:          true,
	}, nil
}

func (s *Scorer) decayFactor(sinceUpdate int64) uint64 {
	window := s.params.DecayWindow
	if sinceUpdate >= window {
		return minDecayFactor
	}
	// sinceUpdate < window, so the product cannot exceed window*50.
	return fullWeight - uint64(sinceUpdate)*(fullWeight-minDecayFactor)/uint64(window)
}

func (s *Scorer) ageBonus(age int64) uint64 {
	window := s.params.AgeBonusWindow
	if age >= window {
		return maxAgeBonus
	}
	return uint64(age) * maxAgeBonus / uint64(window)
}

// elapsed returns now-since, clamped at zero when the clock is behind the
// recorded timestamp.
func elapsed(since, now int64) int64 {
	if now <= since {
		return 0
	}
	return now - since
}

func percentage(part *big.Int, total *uint256.Int) (*uint256.Int, error) {
	value, err := toUint256(part)
	if err != nil {
		return nil, err
	}
	scaled, overflow := new(uint256.Int).MulOverflow(value, uint256.NewInt(fullWeight))
	if overflow {
		return nil, fmt.Errorf("%w: rate overflow", ErrArithmeticFault)
	}
	return scaled.Div(scaled, total), nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrArithmeticFault)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: amount exceeds 256 bits", ErrArithmeticFault)
	}
	return out, nil
}
