package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

// CursorStore defines the interface for storing and retrieving chain cursors.
// The cursor is the last fully processed position (block number or slot) for
// a chain.
type CursorStore interface {
	// GetCursor retrieves the last processed position for a chain
	GetCursor(ctx context.Context, chain string) (uint64, error)
	// SetCursor stores the last processed position for a chain
	SetCursor(ctx context.Context, chain string, position uint64) error
}

type cursorStore struct {
	db *gorm.DB
}

// NewCursorStore creates a new cursor store
func NewCursorStore(db *gorm.DB) CursorStore {
	return &cursorStore{db: db}
}

// GetCursor retrieves the last processed position for a chain
func (s *cursorStore) GetCursor(ctx context.Context, chain string) (uint64, error) {
	key := fmt.Sprintf("chain_cursor:%s", chain)

	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil // Return 0 if no cursor exists
		}
		return 0, fmt.Errorf("failed to get chain cursor: %w", err)
	}

	position, err := strconv.ParseUint(kv.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse chain cursor: %w", err)
	}

	return position, nil
}

// SetCursor stores the last processed position for a chain
func (s *cursorStore) SetCursor(ctx context.Context, chain string, position uint64) error {
	key := fmt.Sprintf("chain_cursor:%s", chain)
	value := strconv.FormatUint(position, 10)

	kv := schema.KeyValueStore{
		Key:   key,
		Value: value,
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set chain cursor: %w", err)
	}

	return nil
}
