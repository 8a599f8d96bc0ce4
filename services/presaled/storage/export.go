package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Export describes the files written by ExportReceipts.
type Export struct {
	CSVPath     string `json:"csv"`
	ParquetPath string `json:"parquet"`
	Rows        int    `json:"rows"`
}

// ExportReceipts writes every stored receipt to a CSV and a Parquet file under
// dir, named after now. Both files are written even when there are no rows.
func (s *Store) ExportReceipts(ctx context.Context, dir string, now time.Time) (Export, error) {
	if dir == "" {
		return Export{}, ErrPathRequired
	}
	var rows []Receipt
	if err := s.db.WithContext(ctx).Order("timestamp ASC, created_at ASC").Find(&rows).Error; err != nil {
		return Export{}, fmt.Errorf("load receipts: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Export{}, fmt.Errorf("create export dir: %w", err)
	}
	base := filepath.Join(dir, "receipts_"+now.UTC().Format("20060102T150405Z"))
	out := Export{CSVPath: base + ".csv", ParquetPath: base + ".parquet", Rows: len(rows)}
	if err := writeReceiptsCSV(out.CSVPath, rows); err != nil {
		return Export{}, err
	}
	if err := writeReceiptsParquet(out.ParquetPath, rows); err != nil {
		return Export{}, err
	}
	return out, nil
}

var receiptColumns = []string{
	"id", "buyer", "currency", "paid", "tokens", "stage", "current_stage", "sale_ended", "timestamp", "recorded_at",
}

func writeReceiptsCSV(path string, rows []Receipt) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(receiptColumns); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ID.String(),
			row.Buyer,
			row.Currency,
			row.Paid,
			row.Tokens,
			strconv.Itoa(row.Stage),
			strconv.Itoa(row.CurrentStage),
			strconv.FormatBool(row.SaleEnded),
			strconv.FormatInt(row.Timestamp, 10),
			row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return file.Close()
}

// Amounts stay strings; 256-bit values do not fit any parquet integer type.
type receiptRow struct {
	ID           string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Buyer        string `parquet:"name=buyer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Currency     string `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Paid         string `parquet:"name=paid, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tokens       string `parquet:"name=tokens, type=BYTE_ARRAY, convertedtype=UTF8"`
	Stage        int32  `parquet:"name=stage, type=INT32"`
	CurrentStage int32  `parquet:"name=current_stage, type=INT32"`
	SaleEnded    bool   `parquet:"name=sale_ended, type=BOOLEAN"`
	Timestamp    int64  `parquet:"name=timestamp, type=INT64"`
	RecordedAt   string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeReceiptsParquet(path string, rows []Receipt) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(receiptRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		pr := &receiptRow{
			ID:           row.ID.String(),
			Buyer:        row.Buyer,
			Currency:     row.Currency,
			Paid:         row.Paid,
			Tokens:       row.Tokens,
			Stage:        int32(row.Stage),
			CurrentStage: int32(row.CurrentStage),
			SaleEnded:    row.SaleEnded,
			Timestamp:    row.Timestamp,
			RecordedAt:   row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet: %w", err)
	}
	return nil
}
