// Package admin holds destructive operator actions. Nothing here is part
// of the normal ride flow.
package admin

import (
	"context"

	"go.uber.org/zap"

	"taxi/internal/store"
)

// Service performs administrative maintenance on the shared store.
type Service struct {
	store store.Store
	log   *zap.Logger
}

// NewService creates the admin service.
func NewService(st store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, log: logger}
}

// Reset deletes every call and transaction document. Presence records,
// rating aggregates, and ride history are deliberately left intact.
// Intended for test and demo environments only.
func (s *Service) Reset(ctx context.Context) error {
	s.log.Warn("resetting calls and transactions")

	if err := s.store.DeleteNode(ctx, store.NodeCalls); err != nil {
		return err
	}
	return s.store.DeleteNode(ctx, store.NodeTransactions)
}
