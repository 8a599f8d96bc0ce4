package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Balance is the ledger balance of one owner for one asset. Amounts are
// stored as base-unit decimal strings so postgres and sqlite agree on width.
type Balance struct {
	Asset     string `gorm:"primaryKey;size:16"`
	Owner     string `gorm:"primaryKey;size:42"`
	Amount    string `gorm:"not null"`
	UpdatedAt time.Time
}

// Allowance records how much a spender may pull from an owner.
type Allowance struct {
	Asset     string `gorm:"primaryKey;size:16"`
	Owner     string `gorm:"primaryKey;size:42"`
	Spender   string `gorm:"primaryKey;size:42"`
	Amount    string `gorm:"not null"`
	UpdatedAt time.Time
}

// JournalEvent is an append-only record of an emitted presale event.
type JournalEvent struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"size:64;index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// Receipt persists a committed purchase.
type Receipt struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Buyer        string    `gorm:"size:42;index"`
	Currency     string    `gorm:"size:16"`
	Paid         string    `gorm:"not null"`
	Tokens       string    `gorm:"not null"`
	Stage        int
	CurrentStage int
	SaleEnded    bool
	Timestamp    int64 `gorm:"index"`
	CreatedAt    time.Time
}

// Meta holds service level markers such as the genesis seed.
type Meta struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string
	CreatedAt time.Time
}

// AutoMigrate creates or updates every presaled table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Balance{}, &Allowance{}, &JournalEvent{}, &Receipt{}, &Meta{})
}
