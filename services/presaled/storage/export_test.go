package storage

import (
	"context"
	"encoding/csv"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"gepspresale/native/presale"
)

func TestExportReceipts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	dir := filepath.Join(t.TempDir(), "exports")

	empty, err := store.ExportReceipts(ctx, dir, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	require.Zero(t, empty.Rows)
	require.FileExists(t, empty.ParquetPath)

	receipt := &presale.Receipt{ID: uuid.NewString(), Buyer: alice, Currency: "USDT", Paid: big.NewInt(1_000_000), Tokens: big.NewInt(100), Timestamp: 42}
	require.NoError(t, store.SaveReceipt(ctx, receipt))

	out, err := store.ExportReceipts(ctx, dir, time.Unix(1_700_000_060, 0))
	require.NoError(t, err)
	require.Equal(t, 1, out.Rows)
	require.Equal(t, filepath.Join(dir, "receipts_20231114T221420Z.csv"), out.CSVPath)

	file, err := os.Open(out.CSVPath)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, receiptColumns, records[0])
	require.Equal(t, receipt.ID, records[1][0])
	require.Equal(t, alice.Hex(), records[1][1])
	require.Equal(t, "1000000", records[1][3])
	require.Equal(t, "42", records[1][8])

	raw, err := os.ReadFile(out.ParquetPath)
	require.NoError(t, err)
	require.Greater(t, len(raw), 8)
	require.Equal(t, "PAR1", string(raw[:4]))
	require.Equal(t, "PAR1", string(raw[len(raw)-4:]))

	_, err = store.ExportReceipts(ctx, "", time.Now())
	require.ErrorIs(t, err, ErrPathRequired)
}
