package escrow

import (
	"fmt"

	"trustescrow/native/reputation"
)

// Outcome is the arbiter's ruling on a dispute.
type Outcome string

const (
	// OutcomeChargeback returns the escrowed amount to the buyer.
	OutcomeChargeback Outcome = "chargeback"
	// OutcomeRelease releases the escrowed amount to the merchant.
	OutcomeRelease Outcome = "release"
)

// Resolution describes how a dispute was settled and the score that decided
// it.
type Resolution struct {
	TransactionID [32]byte
	Outcome       Outcome
	Status        Status
	Reputation    uint64
	Valid         bool
}

// Arbiter decides disputes from the merchant's reputation alone. A merchant
// keeps the funds only with a valid score at or above the threshold.
type Arbiter struct {
	scorer    *reputation.Scorer
	threshold uint64
}

// NewArbiter constructs an arbiter using scorer and the given threshold.
func NewArbiter(scorer *reputation.Scorer, threshold uint64) *Arbiter {
	if scorer == nil {
		scorer = reputation.NewScorer(reputation.DefaultParams())
	}
	return &Arbiter{scorer: scorer, threshold: threshold}
}

// Threshold returns the minimum score a merchant needs to win a dispute.
func (a *Arbiter) Threshold() uint64 { return a.threshold }

// Decide scores rep at now and returns the ruling together with the score.
func (a *Arbiter) Decide(rep *reputation.MerchantReputation, now int64) (Outcome, uint64, bool, error) {
	score, valid, err := a.scorer.Score(rep, now)
	if err != nil {
		return "", 0, false, err
	}
	if !valid || score < a.threshold {
		return OutcomeChargeback, score, valid, nil
	}
	return OutcomeRelease, score, valid, nil
}

// raise moves a protected transaction into the disputed state and counts the
// dispute against the merchant.
func (e *Engine) raise(op *operation, txn *Transaction) error {
	txn.Status = StatusDisputed
	if err := op.txs.update(txn); err != nil {
		return err
	}
	if _, err := op.ledger.RecordDispute(txn.Merchant, txn.Amount, op.now); err != nil {
		return err
	}
	op.emit(NewDisputedEvent(txn))
	return nil
}

// resolve scores the merchant, applies the ruling as a terminal transition and
// publishes the merchant's updated reputation.
func (e *Engine) resolve(op *operation, txn *Transaction) (*Resolution, error) {
	if txn.Status != StatusDisputed {
		return nil, fmt.Errorf("%w: cannot resolve %s transaction", ErrInvalidState, txn.Status)
	}
	rep, _, err := op.ledger.Get(txn.Merchant)
	if err != nil {
		return nil, err
	}
	outcome, score, valid, err := e.arbiter.Decide(rep, op.now)
	if err != nil {
		return nil, err
	}
	final := StatusWithdrawn
	if outcome == OutcomeChargeback {
		final = StatusChargebacked
	}
	if err := e.settle(op, txn, final); err != nil {
		return nil, err
	}
	if err := e.publishReputation(op, txn.Merchant); err != nil {
		return nil, err
	}
	return &Resolution{
		TransactionID: txn.ID,
		Outcome:       outcome,
		Status:        final,
		Reputation:    score,
		Valid:         valid,
	}, nil
}
