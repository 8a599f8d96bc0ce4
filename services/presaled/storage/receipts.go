package storage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"gepspresale/native/presale"
)

// SaveReceipt records a committed purchase.
func (s *Store) SaveReceipt(ctx context.Context, receipt *presale.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("receipt required")
	}
	id, err := uuid.Parse(receipt.ID)
	if err != nil {
		return fmt.Errorf("receipt id: %w", err)
	}
	row := Receipt{
		ID:           id,
		Buyer:        receipt.Buyer.Hex(),
		Currency:     receipt.Currency,
		Paid:         amountString(receipt.Paid),
		Tokens:       amountString(receipt.Tokens),
		Stage:        receipt.Stage,
		CurrentStage: receipt.CurrentStage,
		SaleEnded:    receipt.SaleEnded,
		Timestamp:    receipt.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Receipts lists the purchases of buyer, oldest first.
func (s *Store) Receipts(ctx context.Context, buyer common.Address) ([]presale.Receipt, error) {
	var rows []Receipt
	if err := s.db.WithContext(ctx).Where("buyer = ?", buyer.Hex()).Order("timestamp ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]presale.Receipt, 0, len(rows))
	for _, row := range rows {
		paid, ok := new(big.Int).SetString(row.Paid, 10)
		if !ok {
			return nil, fmt.Errorf("receipt %s: invalid paid %q", row.ID, row.Paid)
		}
		tokens, ok := new(big.Int).SetString(row.Tokens, 10)
		if !ok {
			return nil, fmt.Errorf("receipt %s: invalid tokens %q", row.ID, row.Tokens)
		}
		out = append(out, presale.Receipt{
			ID:           row.ID.String(),
			Buyer:        common.HexToAddress(row.Buyer),
			Currency:     row.Currency,
			Paid:         paid,
			Tokens:       tokens,
			Stage:        row.Stage,
			CurrentStage: row.CurrentStage,
			SaleEnded:    row.SaleEnded,
			Timestamp:    row.Timestamp,
		})
	}
	return out, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
