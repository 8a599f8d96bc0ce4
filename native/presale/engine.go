package presale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"gepspresale/core/events"
	"gepspresale/native/bank"
	nativecommon "gepspresale/native/common"
)

type denomination uint8

const (
	denomPayment denomination = iota
	denomTokens
)

// Engine owns the sale aggregate and serialises every mutation behind a single
// lock. Each mutating call works on a clone of the sale and swaps it in only
// after the ledger moves and the store commit succeed.
type Engine struct {
	mu        sync.Mutex
	params    Params
	sale      *Sale
	purchases map[common.Address]*Purchase

	ledger  bank.Ledger
	oracle  PriceOracle
	store   Store
	emitter events.Emitter
	pauses  nativecommon.PauseView
	logger  *slog.Logger
	nowFn   func() int64
}

// NewEngine constructs an engine for the supplied stages. The sale starts in
// the NotStarted phase with the treasury receiving proceeds and swept tokens.
func NewEngine(params Params, specs []StageSpec, treasury common.Address) (*Engine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}
	if isZeroAddress(treasury) {
		return nil, fmt.Errorf("%w: treasury", ErrInvalidAddress)
	}
	return &Engine{
		params:    params,
		sale:      newSale(specs, treasury),
		purchases: make(map[common.Address]*Purchase),
		store:     nopStore{},
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}, nil
}

// SetLedger configures the transfer primitive used for payments and claims.
func (e *Engine) SetLedger(ledger bank.Ledger) { e.ledger = ledger }

// SetOracle configures the price source for non-native currencies.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetStore configures the persistence backend. Nil disables persistence.
func (e *Engine) SetStore(store Store) {
	if store == nil {
		e.store = nopStore{}
		return
	}
	e.store = store
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		e.logger = slog.Default()
		return
	}
	e.logger = logger
}

// SetPauses wires the pause view consulted by buyer operations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// Restore replaces the in-memory state with the persisted snapshot, if any.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	snapshot, ok, err := e.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("presale: load snapshot: %w", err)
	}
	if !ok || snapshot == nil || snapshot.Sale == nil {
		return false, nil
	}
	if len(snapshot.Sale.Stages) == 0 {
		return false, fmt.Errorf("%w: snapshot has no stages", ErrInvalidSchedule)
	}
	sale := snapshot.Sale.Clone()
	if sale.TotalSold == nil {
		sale.TotalSold = big.NewInt(0)
	}
	if sale.TotalSwept == nil {
		sale.TotalSwept = big.NewInt(0)
	}
	purchases := make(map[common.Address]*Purchase, len(snapshot.Purchases))
	for _, p := range snapshot.Purchases {
		if p == nil {
			continue
		}
		purchases[p.Buyer] = p.Clone()
	}
	e.mu.Lock()
	e.sale = sale
	e.purchases = purchases
	e.mu.Unlock()
	return true, nil
}

// Start opens the sale at the current time. Callers must authorise the owner.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sale.Phase != PhaseNotStarted {
		return ErrAlreadyStarted
	}
	now := e.now()
	sale := e.sale.Clone()
	sale.start(now, e.params.stageSeconds())
	if err := e.commit(ctx, sale, nil, nil); err != nil {
		return err
	}
	e.logger.Info("presale started", "start", now, "stages", len(sale.Stages), "saleEnd", sale.EndTime())
	e.emit(events.PresaleStarted{StartTime: now, Stages: len(sale.Stages), SaleEnd: sale.EndTime()})
	return nil
}

// Buy spends paid base units of currency at the current stage price. The token
// amount is rounded down and must fit the current stage.
func (e *Engine) Buy(ctx context.Context, buyer common.Address, paid *big.Int, currency string) (*Receipt, error) {
	return e.purchase(ctx, buyer, paid, currency, denomPayment)
}

// BuyTokens purchases exactly tokens base units, charging the cost rounded up.
func (e *Engine) BuyTokens(ctx context.Context, buyer common.Address, tokens *big.Int, currency string) (*Receipt, error) {
	return e.purchase(ctx, buyer, tokens, currency, denomTokens)
}

func (e *Engine) purchase(ctx context.Context, buyer common.Address, amount *big.Int, symbol string, denom denomination) (*Receipt, error) {
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if isZeroAddress(buyer) {
		return nil, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	currency, err := e.currency(symbol)
	if err != nil {
		return nil, err
	}
	quote, err := e.resolveQuote(ctx, currency)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	sale := e.sale.Clone()
	pending := sale.AdvanceIfNeeded(now)
	if sale.Phase == PhaseNotStarted {
		return nil, ErrSaleNotStarted
	}
	if !e.admits(sale, now) {
		return nil, ErrSaleEnded
	}
	if err := validateQuote(currency, quote, now, e.params.maxQuoteAgeSeconds()); err != nil {
		return nil, err
	}
	stage := sale.Current()
	var tokens, cost *big.Int
	switch denom {
	case denomTokens:
		tokens = new(big.Int).Set(amount)
		cost = paymentForTokens(tokens, currency, quote, stage.Price, e.params.TokenDecimals)
	default:
		cost = new(big.Int).Set(amount)
		tokens = tokensForPayment(cost, currency, quote, stage.Price, e.params.TokenDecimals)
	}
	if tokens.Sign() <= 0 || cost.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := sale.Debit(stage.Index, tokens); err != nil {
		return nil, err
	}
	sale.TotalSold = new(big.Int).Add(sale.TotalSold, tokens)

	record := e.purchases[buyer].Clone()
	if record == nil {
		record = newPurchase(buyer)
	}
	record.Amount = new(big.Int).Add(record.Amount, tokens)
	record.Paid[currency.Symbol] = new(big.Int).Add(copyInt(record.Paid[currency.Symbol]), cost)
	record.Count++

	undo, err := e.collect(ctx, buyer, currency, cost)
	if err != nil {
		return nil, err
	}
	pending = append(pending, sale.AdvanceIfNeeded(now)...)
	if err := e.commit(ctx, sale, []*Purchase{record}, undo); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		ID:           uuid.NewString(),
		Buyer:        buyer,
		Currency:     currency.Symbol,
		Paid:         new(big.Int).Set(cost),
		Tokens:       new(big.Int).Set(tokens),
		Stage:        stage.Index,
		CurrentStage: sale.CurrentStage,
		SaleEnded:    sale.Phase == PhaseEnded,
		Timestamp:    now,
	}
	out := make([]events.Event, 0, len(pending)+1)
	var ended []events.Event
	for _, evt := range pending {
		if end, ok := evt.(events.PresaleEnded); ok {
			end.TotalSold = copyInt(sale.TotalSold)
			ended = append(ended, end)
			continue
		}
		out = append(out, evt)
	}
	out = append(out, events.PresalePurchased{
		ReceiptID: receipt.ID,
		Buyer:     buyer,
		Amount:    receipt.Tokens,
		Currency:  currency.Symbol,
		Paid:      receipt.Paid,
		Stage:     stage.Index,
	})
	e.logger.Debug("presale purchase", "receipt", receipt.ID, "buyer", buyer.Hex(), "tokens", tokens.String(), "currency", currency.Symbol, "paid", cost.String(), "stage", stage.Index)
	e.emit(append(out, ended...)...)
	return receipt, nil
}

// collect moves cost from the buyer to the treasury. Native assets are
// transferred directly; other assets are approved to the vault and pulled.
func (e *Engine) collect(ctx context.Context, buyer common.Address, currency Currency, cost *big.Int) (undoStack, error) {
	treasury := e.sale.Treasury
	if currency.Native {
		if err := e.ledger.Transfer(ctx, currency.Symbol, buyer, treasury, cost); err != nil {
			return nil, fmt.Errorf("presale: collect %s: %w", currency.Symbol, err)
		}
	} else {
		vault := e.params.Vault
		if err := e.ledger.Approve(ctx, currency.Symbol, buyer, vault, cost); err != nil {
			return nil, fmt.Errorf("presale: approve %s: %w", currency.Symbol, err)
		}
		if err := e.ledger.TransferFrom(ctx, currency.Symbol, vault, buyer, treasury, cost); err != nil {
			if revokeErr := e.ledger.Approve(context.WithoutCancel(ctx), currency.Symbol, buyer, vault, big.NewInt(0)); revokeErr != nil {
				e.logger.Error("presale allowance revoke failed", "buyer", buyer.Hex(), "currency", currency.Symbol, "error", revokeErr)
			}
			return nil, fmt.Errorf("presale: collect %s: %w", currency.Symbol, err)
		}
	}
	var undo undoStack
	undo.push("refund "+currency.Symbol, func(ctx context.Context) error {
		return e.ledger.Transfer(ctx, currency.Symbol, treasury, buyer, cost)
	})
	return undo, nil
}

// QuoteCost returns the payment needed to buy tokens at the current stage
// without mutating state.
func (e *Engine) QuoteCost(ctx context.Context, tokens *big.Int, symbol string) (*big.Int, error) {
	if tokens == nil || tokens.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	currency, err := e.currency(symbol)
	if err != nil {
		return nil, err
	}
	quote, err := e.resolveQuote(ctx, currency)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	sale := e.sale.Clone()
	sale.AdvanceIfNeeded(now)
	if sale.Phase == PhaseNotStarted {
		return nil, ErrSaleNotStarted
	}
	if !e.admits(sale, now) {
		return nil, ErrSaleEnded
	}
	if err := validateQuote(currency, quote, now, e.params.maxQuoteAgeSeconds()); err != nil {
		return nil, err
	}
	stage := sale.Current()
	if tokens.Cmp(stage.Available) > 0 {
		return nil, fmt.Errorf("%w: requested %s, stage %d has %s", ErrInsufficientAllocation, tokens, stage.Index, stage.Available)
	}
	return paymentForTokens(tokens, currency, quote, stage.Price, e.params.TokenDecimals), nil
}

// Claim releases the buyer's purchased balance once the claim window is open.
func (e *Engine) Claim(ctx context.Context, buyer common.Address) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if isZeroAddress(buyer) {
		return nil, ErrInvalidAddress
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	sale := e.sale.Clone()
	pending := sale.AdvanceIfNeeded(now)
	if sale.Phase != PhaseEnded || now < sale.EndTime()+e.params.claimDelaySeconds() {
		return nil, ErrClaimNotOpen
	}
	record := e.purchases[buyer].Clone()
	if record != nil && record.Claimed {
		return nil, ErrAlreadyClaimed
	}
	if record == nil || record.Amount.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	amount := new(big.Int).Set(record.Amount)
	token := e.params.TokenSymbol
	vault := e.params.Vault
	if err := e.ledger.Transfer(ctx, token, vault, buyer, amount); err != nil {
		return nil, fmt.Errorf("presale: release %s: %w", token, err)
	}
	var undo undoStack
	undo.push("reclaim "+token, func(ctx context.Context) error {
		return e.ledger.Transfer(ctx, token, buyer, vault, amount)
	})
	record.Claimed = true
	record.ClaimedAt = now
	if err := e.commit(ctx, sale, []*Purchase{record}, undo); err != nil {
		return nil, err
	}
	e.logger.Info("presale claim", "buyer", buyer.Hex(), "amount", amount.String())
	e.emit(append(pending, events.PresaleClaimed{Buyer: buyer, Amount: amount})...)
	return new(big.Int).Set(amount), nil
}

// SweepUnsold transfers every unsold token to the treasury and zeroes the
// stage balances. Callers must authorise the owner. Sweeping with nothing
// unsold succeeds and returns zero.
func (e *Engine) SweepUnsold(ctx context.Context) (*big.Int, error) {
	if e.ledger == nil {
		return nil, errNilLedger
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	sale := e.sale.Clone()
	pending := sale.AdvanceIfNeeded(now)
	if sale.Phase != PhaseEnded {
		return nil, ErrSaleNotEnded
	}
	unsold := sale.Unsold()
	if unsold.Sign() == 0 {
		if len(pending) > 0 {
			if err := e.commit(ctx, sale, nil, nil); err != nil {
				return nil, err
			}
			e.emit(pending...)
		}
		return unsold, nil
	}
	token := e.params.TokenSymbol
	vault := e.params.Vault
	treasury := sale.Treasury
	if err := e.ledger.Transfer(ctx, token, vault, treasury, unsold); err != nil {
		return nil, fmt.Errorf("presale: sweep %s: %w", token, err)
	}
	var undo undoStack
	undo.push("unsweep "+token, func(ctx context.Context) error {
		return e.ledger.Transfer(ctx, token, treasury, vault, unsold)
	})
	sale.clearAllocations()
	sale.TotalSwept = new(big.Int).Add(sale.TotalSwept, unsold)
	if err := e.commit(ctx, sale, nil, undo); err != nil {
		return nil, err
	}
	e.logger.Info("presale unsold swept", "treasury", treasury.Hex(), "amount", unsold.String())
	e.emit(append(pending, events.PresaleUnsoldSwept{Treasury: treasury, Amount: new(big.Int).Set(unsold)})...)
	return unsold, nil
}

// UpdateTreasury changes the address receiving proceeds and swept tokens.
// Callers must authorise the owner.
func (e *Engine) UpdateTreasury(ctx context.Context, treasury common.Address) error {
	if isZeroAddress(treasury) {
		return ErrInvalidAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sale := e.sale.Clone()
	pending := sale.AdvanceIfNeeded(e.now())
	previous := sale.Treasury
	sale.Treasury = treasury
	if err := e.commit(ctx, sale, nil, nil); err != nil {
		return err
	}
	e.emit(append(pending, events.PresaleTreasuryUpdated{Previous: previous, Current: treasury})...)
	return nil
}

// RegisterCurrency adds or replaces an accepted payment currency. Callers must
// authorise the owner.
func (e *Engine) RegisterCurrency(ctx context.Context, currency Currency) error {
	currency.Symbol = normalizeSymbol(currency.Symbol)
	currency.Feed = strings.TrimSpace(currency.Feed)
	if currency.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrUnsupportedCurrency)
	}
	if currency.Symbol == normalizeSymbol(e.params.TokenSymbol) {
		return fmt.Errorf("%w: %s is the sale token", ErrUnsupportedCurrency, currency.Symbol)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sale := e.sale.Clone()
	pending := sale.AdvanceIfNeeded(e.now())
	sale.Currencies[currency.Symbol] = currency
	if err := e.commit(ctx, sale, nil, nil); err != nil {
		return err
	}
	e.emit(append(pending, events.PresaleCurrencyRegistered{
		Symbol:   currency.Symbol,
		Feed:     currency.Feed,
		Decimals: currency.Decimals,
		Native:   currency.Native,
	})...)
	return nil
}

// Status projects the sale at the current time without committing any lazy
// stage advancement.
func (e *Engine) Status() Status {
	e.mu.Lock()
	sale := e.sale.Clone()
	e.mu.Unlock()
	sale.AdvanceIfNeeded(e.now())
	status := Status{
		Phase:        sale.Phase,
		CurrentStage: sale.CurrentStage,
		StartTime:    sale.StartTime,
		SaleEnd:      sale.EndTime(),
		Treasury:     sale.Treasury,
		TotalSold:    copyInt(sale.TotalSold),
		Unsold:       sale.Unsold(),
		Stages:       sale.Stages,
		Currencies:   sortedCurrencies(sale.Currencies),
	}
	if status.SaleEnd > 0 {
		status.ClaimOpensAt = status.SaleEnd + e.params.claimDelaySeconds()
	}
	return status
}

// Stage returns a projected copy of the stage at index.
func (e *Engine) Stage(index int) (*Stage, error) {
	status := e.Status()
	if index < 0 || index >= len(status.Stages) {
		return nil, fmt.Errorf("%w: stage %d out of range", ErrInvalidSchedule, index)
	}
	return status.Stages[index], nil
}

// PurchaseOf returns a copy of the buyer's purchase record.
func (e *Engine) PurchaseOf(buyer common.Address) (*Purchase, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.purchases[buyer]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// UnsoldAmount sums the committed remaining allocation across all stages.
func (e *Engine) UnsoldAmount() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sale.Unsold()
}

// SaleEndTime reports the projected end of the sale, zero before start.
func (e *Engine) SaleEndTime() int64 { return e.Status().SaleEnd }

// ClaimOpensAt reports when claims become possible, zero before start.
func (e *Engine) ClaimOpensAt() int64 { return e.Status().ClaimOpensAt }

// Snapshot returns a deep copy of the committed state.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := &Snapshot{Sale: e.sale.Clone(), Purchases: make([]*Purchase, 0, len(e.purchases))}
	for _, p := range e.purchases {
		out.Purchases = append(out.Purchases, p.Clone())
	}
	sort.Slice(out.Purchases, func(i, j int) bool {
		return out.Purchases[i].Buyer.Hex() < out.Purchases[j].Buyer.Hex()
	})
	return out
}

func (e *Engine) currency(symbol string) (Currency, error) {
	key := normalizeSymbol(symbol)
	e.mu.Lock()
	currency, ok := e.sale.Currencies[key]
	e.mu.Unlock()
	if !ok {
		return Currency{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, symbol)
	}
	return currency, nil
}

// resolveQuote is called without holding the engine lock.
func (e *Engine) resolveQuote(ctx context.Context, currency Currency) (Quote, error) {
	if currency.Native && currency.Feed == "" {
		return Quote{Rate: big.NewInt(1), UpdatedAt: e.now()}, nil
	}
	if e.oracle == nil {
		return Quote{}, errNilOracle
	}
	quote, err := e.oracle.Quote(ctx, currency)
	if err != nil {
		if errors.Is(err, ErrUnsupportedCurrency) {
			return Quote{}, err
		}
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrUnsupportedCurrency, currency.Symbol, err)
	}
	return quote, nil
}

// commit persists the new state and swaps it in. A failed persist unwinds the
// ledger moves recorded in undo.
func (e *Engine) commit(ctx context.Context, sale *Sale, touched []*Purchase, undo undoStack) error {
	if err := e.store.Commit(ctx, sale, touched); err != nil {
		undo.rollback(context.WithoutCancel(ctx), e.logger)
		return fmt.Errorf("presale: persist state: %w", err)
	}
	e.sale = sale
	for _, record := range touched {
		e.purchases[record.Buyer] = record
	}
	return nil
}

// admits reports whether sale, already advanced to now, takes purchases. An
// ended sale keeps filling its final stage until the claim window opens.
func (e *Engine) admits(sale *Sale, now int64) bool {
	if sale.Phase != PhaseEnded {
		return true
	}
	stage := sale.Current()
	if stage == nil || stage.Available.Sign() == 0 {
		return false
	}
	return now < sale.EndTime()+e.params.claimDelaySeconds()
}

func (e *Engine) emit(evts ...events.Event) {
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		e.emitter.Emit(evt)
	}
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

type undoStep struct {
	name string
	fn   func(context.Context) error
}

type undoStack []undoStep

func (u *undoStack) push(name string, fn func(context.Context) error) {
	*u = append(*u, undoStep{name: name, fn: fn})
}

func (u undoStack) rollback(ctx context.Context, logger *slog.Logger) {
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i].fn(ctx); err != nil {
			logger.Error("presale rollback step failed", "step", u[i].name, "error", err)
		}
	}
}

func sortedCurrencies(in map[string]Currency) []Currency {
	out := make([]Currency, 0, len(in))
	for _, currency := range in {
		out = append(out, currency)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
