package presale

import "context"

// Snapshot is the persisted form of the engine state.
type Snapshot struct {
	Sale      *Sale       `json:"sale"`
	Purchases []*Purchase `json:"purchases"`
}

// Store persists committed engine state. Commit receives the whole sale and
// only the purchase records touched by the operation.
type Store interface {
	Load(ctx context.Context) (*Snapshot, bool, error)
	Commit(ctx context.Context, sale *Sale, touched []*Purchase) error
}

type nopStore struct{}

func (nopStore) Load(context.Context) (*Snapshot, bool, error)    { return nil, false, nil }
func (nopStore) Commit(context.Context, *Sale, []*Purchase) error { return nil }
