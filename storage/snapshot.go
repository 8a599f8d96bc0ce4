package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gepspresale/native/presale"
)

var (
	saleKey        = []byte("presale/sale")
	purchasePrefix = []byte("presale/purchase/")
)

// SnapshotStore persists presale state in a key-value database: the sale
// aggregate under one key and one record per buyer.
type SnapshotStore struct {
	db Database
}

// NewSnapshotStore wraps db.
func NewSnapshotStore(db Database) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func purchaseKey(p *presale.Purchase) []byte {
	return append(append([]byte(nil), purchasePrefix...), strings.ToLower(p.Buyer.Hex())...)
}

// Load implements presale.Store.
func (s *SnapshotStore) Load(ctx context.Context) (*presale.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	raw, err := s.db.Get(saleKey)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: read sale: %w", err)
	}
	snapshot := &presale.Snapshot{Sale: new(presale.Sale)}
	if err := json.Unmarshal(raw, snapshot.Sale); err != nil {
		return nil, false, fmt.Errorf("storage: decode sale: %w", err)
	}
	err = s.db.Iterate(purchasePrefix, func(key, value []byte) error {
		record := new(presale.Purchase)
		if err := json.Unmarshal(value, record); err != nil {
			return fmt.Errorf("storage: decode purchase %s: %w", key, err)
		}
		snapshot.Purchases = append(snapshot.Purchases, record)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return snapshot, true, nil
}

// Commit implements presale.Store. The sale and touched purchases are written
// in a single batch.
func (s *SnapshotStore) Commit(ctx context.Context, sale *presale.Sale, touched []*presale.Purchase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sale == nil {
		return errors.New("storage: sale required")
	}
	batch := new(Batch)
	raw, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("storage: encode sale: %w", err)
	}
	batch.Put(saleKey, raw)
	for _, record := range touched {
		if record == nil {
			continue
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("storage: encode purchase: %w", err)
		}
		batch.Put(purchaseKey(record), raw)
	}
	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("storage: write snapshot: %w", err)
	}
	return nil
}
