package storage

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gepspresale/native/bank"
	"gepspresale/native/presale"
)

func testAddress(fill byte) common.Address {
	var addr common.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, common.AddressLength))
	return addr
}

func TestDatabaseBackends(t *testing.T) {
	mem, err := NewMemLevelDB()
	require.NoError(t, err)
	defer mem.Close()

	backends := map[string]Database{"memdb": NewMemDB(), "leveldb": mem}
	for name, db := range backends {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			batch := new(Batch)
			batch.Put([]byte("p/b"), []byte("2"))
			batch.Put([]byte("p/a"), []byte("1"))
			batch.Put([]byte("q/a"), []byte("x"))
			require.Equal(t, 3, batch.Len())
			require.NoError(t, db.Write(batch))

			var keys []string
			require.NoError(t, db.Iterate([]byte("p/"), func(key, value []byte) error {
				keys = append(keys, string(key)+"="+string(value))
				return nil
			}))
			require.Equal(t, []string{"p/a=1", "p/b=2"}, keys)

			require.NoError(t, db.Delete([]byte("p/a")))
			_, err = db.Get([]byte("p/a"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("key"), []byte("value")))
	require.NoError(t, db1.Close())

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}

func TestSnapshotStoreRestoresEngine(t *testing.T) {
	ctx := context.Background()
	db, err := NewMemLevelDB()
	require.NoError(t, err)
	defer db.Close()
	store := NewSnapshotStore(db)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	vault, treasury, buyer := testAddress(0xAA), testAddress(0xBB), testAddress(0x01)
	params := presale.Params{
		TokenSymbol:   "GEPS",
		StageDuration: time.Minute,
		ClaimDelay:    time.Minute,
		Vault:         vault,
	}
	specs := []presale.StageSpec{
		{Price: decimal.RequireFromString("0.5"), Allocation: big.NewInt(100)},
		{Price: decimal.RequireFromString("0.75"), Allocation: big.NewInt(100)},
	}
	now := int64(10_000)
	ledger := bank.NewMemLedger()
	require.NoError(t, ledger.Credit("BNB", buyer, big.NewInt(1_000)))

	engine, err := presale.NewEngine(params, specs, treasury)
	require.NoError(t, err)
	engine.SetLedger(ledger)
	engine.SetStore(store)
	engine.SetNowFunc(func() int64 { return now })
	require.NoError(t, engine.RegisterCurrency(ctx, presale.Currency{Symbol: "BNB", Native: true}))
	require.NoError(t, engine.Start(ctx))
	receipt, err := engine.Buy(ctx, buyer, big.NewInt(50), "BNB")
	require.NoError(t, err)
	require.Equal(t, int64(100), receipt.Tokens.Int64())
	require.Equal(t, 1, receipt.CurrentStage)

	restored, err := presale.NewEngine(params, specs, treasury)
	require.NoError(t, err)
	restored.SetStore(store)
	restored.SetNowFunc(func() int64 { return now })
	ok, err = restored.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	status := restored.Status()
	require.Equal(t, presale.PhaseActive, status.Phase)
	require.Equal(t, 1, status.CurrentStage)
	require.Equal(t, "0.75", status.Stages[1].Price.String())
	require.Equal(t, int64(100), status.Unsold.Int64())
	require.Len(t, status.Currencies, 1)

	record, ok := restored.PurchaseOf(buyer)
	require.True(t, ok)
	require.Equal(t, int64(100), record.Amount.Int64())
	require.Equal(t, int64(50), record.Paid["BNB"].Int64())
}
