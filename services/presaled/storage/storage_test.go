package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gepspresale/core/events"
	"gepspresale/native/bank"
	"gepspresale/native/presale"
	"gepspresale/services/presaled/config"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vault    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenDialector(sqlite.Open(MemoryDSN(uuid.NewString())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	ledger := openTestStore(t).Ledger()
	require.NoError(t, ledger.Credit(ctx, "bnb", alice, big.NewInt(100)))

	require.NoError(t, ledger.Transfer(ctx, "BNB", alice, treasury, big.NewInt(40)))
	bal, err := ledger.BalanceOf(ctx, "BNB", alice)
	require.NoError(t, err)
	require.Equal(t, "60", bal.String())
	bal, err = ledger.BalanceOf(ctx, "bnb", treasury)
	require.NoError(t, err)
	require.Equal(t, "40", bal.String())

	err = ledger.Transfer(ctx, "BNB", alice, treasury, big.NewInt(61))
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)
	bal, err = ledger.BalanceOf(ctx, "BNB", alice)
	require.NoError(t, err)
	require.Equal(t, "60", bal.String(), "failed transfer must not move funds")

	require.ErrorIs(t, ledger.Transfer(ctx, "", alice, treasury, big.NewInt(1)), bank.ErrInvalidAsset)
	require.ErrorIs(t, ledger.Transfer(ctx, "BNB", alice, treasury, big.NewInt(0)), bank.ErrInvalidAmount)
}

func TestLedgerApproveTransferFrom(t *testing.T) {
	ctx := context.Background()
	ledger := openTestStore(t).Ledger()
	require.NoError(t, ledger.Credit(ctx, "USDT", alice, big.NewInt(1_000)))

	err := ledger.TransferFrom(ctx, "USDT", vault, alice, treasury, big.NewInt(10))
	require.ErrorIs(t, err, bank.ErrInsufficientAllowance)

	require.NoError(t, ledger.Approve(ctx, "USDT", alice, vault, big.NewInt(300)))
	require.NoError(t, ledger.Approve(ctx, "USDT", alice, vault, big.NewInt(250)))
	allowance, err := ledger.Allowance(ctx, "USDT", alice, vault)
	require.NoError(t, err)
	require.Equal(t, "250", allowance.String())

	require.NoError(t, ledger.TransferFrom(ctx, "USDT", vault, alice, treasury, big.NewInt(100)))
	allowance, err = ledger.Allowance(ctx, "USDT", alice, vault)
	require.NoError(t, err)
	require.Equal(t, "150", allowance.String())

	err = ledger.TransferFrom(ctx, "USDT", vault, alice, treasury, big.NewInt(151))
	require.ErrorIs(t, err, bank.ErrInsufficientAllowance)

	require.NoError(t, ledger.TransferFrom(ctx, "USDT", vault, alice, treasury, big.NewInt(150)))
	allowance, err = ledger.Allowance(ctx, "USDT", alice, vault)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())

	require.NoError(t, ledger.Approve(ctx, "USDT", alice, vault, big.NewInt(5)))
	require.NoError(t, ledger.Approve(ctx, "USDT", alice, vault, big.NewInt(0)))
	allowance, err = ledger.Allowance(ctx, "USDT", alice, vault)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())
}

func TestLedgerOverflow(t *testing.T) {
	ctx := context.Background()
	ledger := openTestStore(t).Ledger()
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.NoError(t, ledger.Credit(ctx, "GEPS", vault, max))
	require.ErrorIs(t, ledger.Credit(ctx, "GEPS", vault, big.NewInt(1)), ErrOverflow)
	require.ErrorIs(t, ledger.Credit(ctx, "GEPS", vault, new(big.Int).Lsh(big.NewInt(1), 256)), ErrOverflow)
	bal, err := ledger.BalanceOf(ctx, "GEPS", vault)
	require.NoError(t, err)
	require.Equal(t, max.String(), bal.String())
}

func TestSeedGenesisOnce(t *testing.T) {
	ctx := context.Background()
	ledger := openTestStore(t).Ledger()
	entries := []config.GenesisEntry{
		{Address: vault.Hex(), Asset: "GEPS", Amount: "20000000"},
		{Address: alice.Hex(), Asset: "usdt", Amount: "5000000"},
	}
	applied, err := ledger.SeedGenesis(ctx, entries)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = ledger.SeedGenesis(ctx, entries)
	require.NoError(t, err)
	require.False(t, applied)

	bal, err := ledger.BalanceOf(ctx, "GEPS", vault)
	require.NoError(t, err)
	require.Equal(t, "20000000", bal.String())

	fresh := openTestStore(t).Ledger()
	_, err = fresh.SeedGenesis(ctx, []config.GenesisEntry{{Address: alice.Hex(), Asset: "BNB", Amount: "1.5"}})
	require.Error(t, err)
}

func TestJournalRecent(t *testing.T) {
	ctx := context.Background()
	journal := openTestStore(t).Journal(slog.New(slog.NewTextHandler(io.Discard, nil)))
	journal.Emit(events.PresaleStarted{StartTime: 10, Stages: 9, SaleEnd: 1090})
	journal.Emit(events.PresalePurchased{ReceiptID: "r1", Buyer: alice, Amount: big.NewInt(5), Currency: "BNB", Paid: big.NewInt(1)})
	journal.Emit(events.PresaleClaimed{Buyer: alice, Amount: big.NewInt(5)})
	journal.Emit(nil)

	entries, err := journal.Recent(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, events.TypePresalePurchased, entries[0].Type)
	require.Equal(t, events.TypePresaleClaimed, entries[1].Type)
	require.Equal(t, "BNB", entries[0].Attributes["currency"])

	entries, err = journal.Recent(ctx, 0, entries[0].ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, events.TypePresaleClaimed, entries[0].Type)
}

func TestReceiptsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	first := &presale.Receipt{ID: uuid.NewString(), Buyer: alice, Currency: "BNB", Paid: big.NewInt(7), Tokens: big.NewInt(700), Timestamp: 20}
	second := &presale.Receipt{ID: uuid.NewString(), Buyer: alice, Currency: "USDT", Paid: big.NewInt(9), Tokens: big.NewInt(900), Stage: 1, CurrentStage: 2, Timestamp: 30}
	require.NoError(t, store.SaveReceipt(ctx, second))
	require.NoError(t, store.SaveReceipt(ctx, first))
	require.Error(t, store.SaveReceipt(ctx, &presale.Receipt{ID: "not-a-uuid"}))

	receipts, err := store.Receipts(ctx, alice)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.Equal(t, first.ID, receipts[0].ID)
	require.Equal(t, "900", receipts[1].Tokens.String())
	require.Equal(t, 2, receipts[1].CurrentStage)

	none, err := store.Receipts(ctx, treasury)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestEngineSettlesAgainstSQLLedger(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ledger := store.Ledger()
	require.NoError(t, ledger.Credit(ctx, "GEPS", vault, big.NewInt(1_000)))
	require.NoError(t, ledger.Credit(ctx, "USDT", alice, big.NewInt(1_000_000)))

	params := presale.Params{TokenSymbol: "GEPS", StageDuration: 100 * time.Second, ClaimDelay: 300 * time.Second, Vault: vault}
	specs := []presale.StageSpec{{Price: decimal.RequireFromString("0.01"), Allocation: big.NewInt(1_000)}}
	engine, err := presale.NewEngine(params, specs, treasury)
	require.NoError(t, err)
	now := int64(1_000)
	engine.SetNowFunc(func() int64 { return now })
	oracle := presale.NewStaticOracle()
	oracle.Set("USDT", presale.Quote{Rate: big.NewInt(100_000_000), Decimals: 8, UpdatedAt: now})
	engine.SetOracle(oracle)
	engine.SetLedger(ledger)
	engine.SetEmitter(store.Journal(nil))
	require.NoError(t, engine.RegisterCurrency(ctx, presale.Currency{Symbol: "USDT", Decimals: 6, Feed: "usdt-usd"}))
	require.NoError(t, engine.Start(ctx))

	receipt, err := engine.Buy(ctx, alice, big.NewInt(500_000), "usdt")
	require.NoError(t, err)
	require.Equal(t, "50", receipt.Tokens.String())
	require.NoError(t, store.SaveReceipt(ctx, receipt))

	bal, err := ledger.BalanceOf(ctx, "USDT", treasury)
	require.NoError(t, err)
	require.Equal(t, "500000", bal.String())
	allowance, err := ledger.Allowance(ctx, "USDT", alice, vault)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())

	_, err = engine.Buy(ctx, alice, big.NewInt(600_000), "USDT")
	require.True(t, errors.Is(err, bank.ErrInsufficientBalance))
	allowance, err = ledger.Allowance(ctx, "USDT", alice, vault)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign(), "failed pull must revoke the approval")

	now += 500
	claimed, err := engine.Claim(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "50", claimed.String())
	bal, err = ledger.BalanceOf(ctx, "GEPS", alice)
	require.NoError(t, err)
	require.Equal(t, "50", bal.String())

	entries, err := store.Journal(nil).Recent(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, events.TypePresaleCurrencyReg, entries[0].Type)
	require.Equal(t, events.TypePresaleClaimed, entries[len(entries)-1].Type)
}
