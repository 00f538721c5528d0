package escrow

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"trustescrow/core/events"
	"trustescrow/core/state"
	"trustescrow/core/types"
	"trustescrow/native/access"
	"trustescrow/native/custody"
	"trustescrow/native/reputation"
	"trustescrow/observability/logging"
)

const (
	// DefaultEscrowPeriod is the window, in seconds, during which the buyer
	// may dispute and the merchant may not withdraw.
	DefaultEscrowPeriod int64 = 3 * 24 * 60 * 60
	// DefaultReputationThreshold is the minimum valid score a merchant needs
	// to win a dispute.
	DefaultReputationThreshold uint64 = 50
	// DefaultFeeSource is the value source protection fees are charged in.
	DefaultFeeSource = "FEE"
	// MaxEscrowPeriod bounds the escrow period to one hundred years.
	MaxEscrowPeriod int64 = 100 * 365 * 24 * 60 * 60
)

// Params captures the protocol policy fixed at deployment.
type Params struct {
	EscrowPeriod        int64
	ProtectionFee       *big.Int
	FeeSource           string
	ReputationThreshold uint64
	Scoring             reputation.Params
}

// DefaultParams returns the protocol defaults with a protection fee of 10 fee
// units.
func DefaultParams() Params {
	return Params{
		EscrowPeriod:        DefaultEscrowPeriod,
		ProtectionFee:       big.NewInt(10),
		FeeSource:           DefaultFeeSource,
		ReputationThreshold: DefaultReputationThreshold,
		Scoring:             reputation.DefaultParams(),
	}
}

// Validate checks the parameters and returns a normalised copy.
func (p Params) Validate() (Params, error) {
	if p.EscrowPeriod <= 0 {
		return Params{}, fmt.Errorf("escrow: escrow period must be positive")
	}
	if p.EscrowPeriod > MaxEscrowPeriod {
		return Params{}, fmt.Errorf("escrow: escrow period exceeds %d seconds", MaxEscrowPeriod)
	}
	if p.ProtectionFee == nil || p.ProtectionFee.Sign() < 0 {
		return Params{}, fmt.Errorf("escrow: protection fee must be non-negative")
	}
	if p.ProtectionFee.BitLen() > 256 {
		return Params{}, fmt.Errorf("escrow: protection fee exceeds 256 bits")
	}
	source, err := custody.NormalizeSource(p.FeeSource)
	if err != nil {
		return Params{}, fmt.Errorf("escrow: fee source: %w", err)
	}
	p.FeeSource = source
	p.ProtectionFee = new(big.Int).Set(p.ProtectionFee)
	return p, nil
}

type stateManager interface {
	Update(fn func(state.Store) error) error
	View(fn func(state.Store) error) error
}

// Metrics receives per-operation telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveOperation(operation, code string, elapsed time.Duration)
	ObserveResolution(outcome Outcome, reputation uint64, valid bool)
}

// custodialAccount is implemented by custodians that hold escrowed value in
// an account of their own.
type custodialAccount interface {
	Address() [20]byte
}

// Engine is the escrow state machine. Every public mutation runs inside a
// single state transaction: either all of its writes and notifications are
// committed or none are.
type Engine struct {
	// commitMu spans commit and emission so records leave the engine in
	// journal order.
	commitMu sync.Mutex

	params    Params
	state     stateManager
	custodian custody.Custodian
	policy    *access.Policy
	arbiter   *Arbiter
	scorer    *reputation.Scorer
	emitter   events.Emitter
	metrics   Metrics
	logger    *slog.Logger
	nowFn     func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the wall clock.
func NewEngine(params Params) (*Engine, error) {
	validated, err := params.Validate()
	if err != nil {
		return nil, err
	}
	scorer := reputation.NewScorer(validated.Scoring)
	validated.Scoring = scorer.Params()
	return &Engine{
		params:  validated,
		scorer:  scorer,
		arbiter: NewArbiter(scorer, validated.ReputationThreshold),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// Params returns the effective protocol parameters.
func (e *Engine) Params() Params {
	p := e.params
	p.ProtectionFee = cloneBigInt(e.params.ProtectionFee)
	return p
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(st stateManager) { e.state = st }

// SetCustodian configures the component that moves value on behalf of the
// engine.
func (e *Engine) SetCustodian(c custody.Custodian) { e.custodian = c }

// SetAccessPolicy configures caller authorisation.
func (e *Engine) SetAccessPolicy(p *access.Policy) { e.policy = p }

// SetMetrics configures the telemetry sink. Passing nil disables metrics.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetLogger configures the structured logger. Passing nil restores the
// process default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.custodian == nil {
		return errNilCustodian
	}
	if e.policy == nil {
		return errNilPolicy
	}
	return nil
}

// operation carries the per-call transaction and the notifications it has
// produced so far.
type operation struct {
	store  state.Store
	txs    *txStore
	ledger *reputation.Ledger
	now    int64
	events []*types.Event
	attrs  []any
}

func (op *operation) emit(evt *types.Event) {
	op.events = append(op.events, evt)
}

func (op *operation) annotate(args ...any) {
	op.attrs = append(op.attrs, args...)
}

// execute runs fn in a writable state transaction. Notifications are journaled
// inside that transaction and handed to the emitter only after it commits.
func (e *Engine) execute(name string, fn func(op *operation) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	start := time.Now()
	var (
		records []events.Record
		attrs   []any
	)
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	err := e.state.Update(func(st state.Store) error {
		op := &operation{
			store:  st,
			txs:    newTxStore(st),
			ledger: reputation.NewLedger(st),
			now:    e.now(),
		}
		err := fn(op)
		attrs = op.attrs
		if err != nil {
			return err
		}
		journal := events.NewJournal(st)
		records = make([]events.Record, 0, len(op.events))
		for _, evt := range op.events {
			rec, err := journal.Append(evt, op.now)
			if err != nil {
				return fmt.Errorf("escrow: journal: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	code := ErrorCode(err)
	if e.metrics != nil {
		e.metrics.ObserveOperation(name, code, time.Since(start))
	}
	logAttrs := append([]any{logging.MaskField("operation", name)}, attrs...)
	if err != nil {
		e.logger.Warn("escrow operation aborted", append(logAttrs, logging.MaskField("code", code), slog.Any("error", err))...)
		return err
	}
	for _, rec := range records {
		e.emitter.Emit(rec)
	}
	e.logger.Info("escrow operation committed", append(logAttrs, slog.Int("events", len(records)))...)
	return nil
}

func (e *Engine) view(fn func(st state.Store) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.View(fn)
}

func (e *Engine) isCustodial(addr [20]byte) bool {
	holder, ok := e.custodian.(custodialAccount)
	return ok && holder.Address() == addr
}

func (e *Engine) pull(op *operation, from [20]byte, source string, amount *big.Int) error {
	if err := e.custodian.Pull(op.store, from, source, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (e *Engine) push(op *operation, to [20]byte, source string, amount *big.Int) error {
	if err := e.custodian.Push(op.store, to, source, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// Deposit moves amount of valueSource from buyer into custody and opens an
// unprotected escrow transaction paying merchant.
func (e *Engine) Deposit(buyer, merchant [20]byte, valueSource string, amount *big.Int) ([32]byte, error) {
	if buyer == ([20]byte{}) || merchant == ([20]byte{}) {
		return [32]byte{}, ErrInvalidAddress
	}
	if e.isCustodial(buyer) || e.isCustodial(merchant) {
		return [32]byte{}, fmt.Errorf("%w: custodial account cannot be a party", ErrInvalidAddress)
	}
	if amount == nil || amount.Sign() <= 0 || amount.BitLen() > 256 {
		return [32]byte{}, ErrInvalidAmount
	}
	source, err := custody.NormalizeSource(valueSource)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	amt := new(big.Int).Set(amount)
	var id [32]byte
	err = e.execute("deposit", func(op *operation) error {
		op.annotate(logging.MaskAddress("buyer", buyer), logging.MaskAddress("merchant", merchant))
		seq, err := op.txs.nextSequence()
		if err != nil {
			return err
		}
		if err := e.pull(op, buyer, source, amt); err != nil {
			return err
		}
		txn := &Transaction{
			ID:          transactionID(buyer, merchant, amt, op.now, source, seq),
			Buyer:       buyer,
			Merchant:    merchant,
			Amount:      amt,
			CreatedAt:   op.now,
			Status:      StatusNotProtected,
			ValueSource: source,
		}
		if err := op.txs.create(txn); err != nil {
			return err
		}
		if _, err := op.ledger.RecordDeposit(merchant, amt, op.now); err != nil {
			return err
		}
		op.annotate(logging.MaskField("txId", fmt.Sprintf("%x", txn.ID)))
		op.emit(NewTransactionCreatedEvent(txn))
		id = txn.ID
		return nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	return id, nil
}

// loadAuthorized loads the transaction and checks that caller is the party
// selected by party. Authorisation is decided before any status check.
func (e *Engine) loadAuthorized(op *operation, id [32]byte, caller [20]byte, party func(*Transaction) [20]byte) (*Transaction, error) {
	txn, err := op.txs.load(id)
	if err != nil {
		return nil, err
	}
	op.annotate(logging.MaskField("txId", fmt.Sprintf("%x", id)), logging.MaskAddress("merchant", txn.Merchant))
	if err := e.policy.RequireParty(caller, party(txn)); err != nil {
		return nil, err
	}
	return txn, nil
}

func buyerOf(t *Transaction) [20]byte    { return t.Buyer }
func merchantOf(t *Transaction) [20]byte { return t.Merchant }

// AddProtection charges the protection fee to the buyer and marks the
// transaction protected.
func (e *Engine) AddProtection(id [32]byte, caller [20]byte) error {
	return e.execute("add_protection", func(op *operation) error {
		txn, err := e.loadAuthorized(op, id, caller, buyerOf)
		if err != nil {
			return err
		}
		if txn.Status != StatusNotProtected {
			return fmt.Errorf("%w: cannot protect %s transaction", ErrInvalidState, txn.Status)
		}
		fee := e.params.ProtectionFee
		if fee.Sign() > 0 {
			if err := e.pull(op, txn.Buyer, e.params.FeeSource, fee); err != nil {
				return err
			}
			if err := op.txs.addFees(e.params.FeeSource, fee); err != nil {
				return err
			}
		}
		txn.Status = StatusProtected
		if err := op.txs.update(txn); err != nil {
			return err
		}
		op.emit(NewProtectionAddedEvent(txn, fee.String()))
		return nil
	})
}

// Withdraw releases the escrowed amount to the merchant once the escrow period
// has elapsed.
func (e *Engine) Withdraw(id [32]byte, caller [20]byte) error {
	return e.execute("withdraw", func(op *operation) error {
		txn, err := e.loadAuthorized(op, id, caller, merchantOf)
		if err != nil {
			return err
		}
		if txn.Status != StatusProtected {
			return fmt.Errorf("%w: cannot withdraw %s transaction", ErrInvalidState, txn.Status)
		}
		if op.now < e.releaseTime(txn) {
			return fmt.Errorf("%w: releasable at %d", ErrEscrowNotElapsed, e.releaseTime(txn))
		}
		if err := e.settle(op, txn, StatusWithdrawn); err != nil {
			return err
		}
		return e.publishReputation(op, txn.Merchant)
	})
}

// Dispute raises a dispute on behalf of the buyer and resolves it immediately.
func (e *Engine) Dispute(id [32]byte, caller [20]byte) (*Resolution, error) {
	var resolution *Resolution
	err := e.execute("dispute", func(op *operation) error {
		txn, err := e.loadAuthorized(op, id, caller, buyerOf)
		if err != nil {
			return err
		}
		if txn.Status != StatusProtected {
			return fmt.Errorf("%w: cannot dispute %s transaction", ErrInvalidState, txn.Status)
		}
		if op.now >= e.releaseTime(txn) {
			return fmt.Errorf("%w: window closed at %d", ErrEscrowElapsed, e.releaseTime(txn))
		}
		if err := e.raise(op, txn); err != nil {
			return err
		}
		resolution, err = e.resolve(op, txn)
		if err != nil {
			return err
		}
		op.annotate(logging.MaskField("outcome", string(resolution.Outcome)), slog.Uint64("reputation", resolution.Reputation))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ObserveResolution(resolution.Outcome, resolution.Reputation, resolution.Valid)
	}
	return resolution, nil
}

// CheckStatus returns the status of the transaction, or StatusNotFound when no
// record exists.
func (e *Engine) CheckStatus(id [32]byte) (Status, error) {
	status := StatusNotFound
	err := e.view(func(st state.Store) error {
		txn, ok, err := newTxStore(st).get(id)
		if err != nil || !ok {
			return err
		}
		status = txn.Status
		return nil
	})
	if err != nil {
		return StatusNotFound, err
	}
	return status, nil
}

// Transaction returns a copy of the stored transaction.
func (e *Engine) Transaction(id [32]byte) (*Transaction, error) {
	var txn *Transaction
	err := e.view(func(st state.Store) error {
		var err error
		txn, err = newTxStore(st).load(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// CalculateReputation scores the merchant at the current time. It never
// mutates state.
func (e *Engine) CalculateReputation(merchant [20]byte) (uint64, bool, error) {
	standing, err := e.Merchant(merchant)
	if err != nil {
		return 0, false, err
	}
	return standing.Evaluation.Reputation, standing.Evaluation.Valid, nil
}

// MerchantStanding pairs a merchant's accumulated statistics with the score
// breakdown computed from them.
type MerchantStanding struct {
	Record      *reputation.MerchantReputation
	Evaluation  reputation.Evaluation
	EvaluatedAt int64
}

// Merchant returns the merchant's statistics and current score. Record is nil
// for merchants that never received a deposit.
func (e *Engine) Merchant(merchant [20]byte) (*MerchantStanding, error) {
	if e == nil || e.scorer == nil {
		return nil, errNilState
	}
	standing := &MerchantStanding{EvaluatedAt: e.now()}
	err := e.view(func(st state.Store) error {
		rep, _, err := reputation.NewLedger(st).Get(merchant)
		if err != nil {
			return err
		}
		standing.Record = rep
		standing.Evaluation, err = e.scorer.Evaluate(rep, standing.EvaluatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return standing, nil
}

// ProtocolFees returns the protection fees accumulated since the last sweep.
func (e *Engine) ProtocolFees() (*big.Int, error) {
	var fees *big.Int
	err := e.view(func(st state.Store) error {
		var err error
		fees, err = newTxStore(st).fees(e.params.FeeSource)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fees, nil
}

// WithdrawProtocolFees transfers every accumulated protection fee to the
// protocol controller and returns the amount swept. Sweeping an empty balance
// succeeds without any state change.
func (e *Engine) WithdrawProtocolFees(caller [20]byte) (*big.Int, error) {
	swept := big.NewInt(0)
	err := e.execute("withdraw_fees", func(op *operation) error {
		if err := e.policy.RequireController(caller); err != nil {
			return err
		}
		fees, err := op.txs.fees(e.params.FeeSource)
		if err != nil {
			return err
		}
		if fees.Sign() == 0 {
			return nil
		}
		controller := e.policy.Controller()
		if err := e.push(op, controller, e.params.FeeSource, fees); err != nil {
			return err
		}
		if err := op.txs.resetFees(e.params.FeeSource); err != nil {
			return err
		}
		op.annotate(logging.MaskField("amount", fees.String()))
		op.emit(NewFeesWithdrawnEvent(controller, e.params.FeeSource, fees.String()))
		swept = fees
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}

// Events returns up to limit committed notifications starting at sequence
// from.
func (e *Engine) Events(from uint64, limit int) ([]events.Record, error) {
	var records []events.Record
	err := e.view(func(st state.Store) error {
		var err error
		records, err = events.NewJournal(st).Range(from, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// releaseTime saturates at math.MaxInt64 instead of wrapping.
func (e *Engine) releaseTime(txn *Transaction) int64 {
	if txn.CreatedAt > math.MaxInt64-e.params.EscrowPeriod {
		return math.MaxInt64
	}
	return txn.CreatedAt + e.params.EscrowPeriod
}

// settle performs a terminal transition and releases the escrowed amount to
// the winning party.
func (e *Engine) settle(op *operation, txn *Transaction, to Status) error {
	var (
		recipient [20]byte
		record    func([20]byte, *big.Int, int64) (*reputation.MerchantReputation, error)
		event     func(*Transaction) *types.Event
	)
	switch to {
	case StatusWithdrawn:
		recipient, record, event = txn.Merchant, op.ledger.RecordSuccess, NewWithdrawnEvent
	case StatusChargebacked:
		recipient, record, event = txn.Buyer, op.ledger.RecordChargeback, NewChargebackedEvent
	default:
		return errors.New("escrow: settle requires a terminal status")
	}
	txn.Status = to
	if err := op.txs.update(txn); err != nil {
		return err
	}
	if err := e.push(op, recipient, txn.ValueSource, txn.Amount); err != nil {
		return err
	}
	if _, err := record(txn.Merchant, txn.Amount, op.now); err != nil {
		return err
	}
	op.emit(event(txn))
	return nil
}

func (e *Engine) publishReputation(op *operation, merchant [20]byte) error {
	rep, _, err := op.ledger.Get(merchant)
	if err != nil {
		return err
	}
	score, valid, err := e.scorer.Score(rep, op.now)
	if err != nil {
		return err
	}
	op.emit(reputation.NewReputationUpdatedEvent(merchant, score, valid))
	return nil
}
