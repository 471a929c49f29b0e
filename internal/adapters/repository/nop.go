package repository

import (
	"context"

	"github.com/okian/racefeed/internal/domain/model"
)

// NopStore is used when storage is disabled.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) EnsureSession(context.Context, string, string) (int64, error) { return 0, nil }

func (NopStore) EnsureLocation(context.Context, int64, string, string) (int64, error) {
	return 0, nil
}

func (NopStore) StoreRead(context.Context, model.TimingRecord, bool) error { return nil }

func (NopStore) Status(context.Context) Status { return Status{} }

func (NopStore) Sessions(context.Context, int) ([]model.Session, error) {
	return nil, ErrNotConnected
}

func (NopStore) Stats(context.Context) (Stats, error) { return Stats{}, ErrNotConnected }

func (NopStore) RecentReads(context.Context, int) ([]model.PersistedRead, error) {
	return nil, ErrNotConnected
}

func (NopStore) Close() error { return nil }
