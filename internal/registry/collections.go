package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/store"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

// CollectionEntry is one curated collection in the registry file
type CollectionEntry struct {
	Chain           string `json:"chain"`
	ContractAddress string `json:"contract_address"`
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	CreatorAddress  string `json:"creator_address"`
}

// CollectionRegistry holds the curated collections loaded from disk.
// Registering it replaces the auto-derived data of shadow collections and
// clears their shadow flag.
type CollectionRegistry struct {
	entries []CollectionEntry
}

// LoadCollections loads the curated collection registry from a JSON file
func LoadCollections(filePath string) (*CollectionRegistry, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec,G304 // This should be a trusted file
	if err != nil {
		return nil, fmt.Errorf("failed to read collections file: %w", err)
	}

	var entries []CollectionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse collections JSON: %w", err)
	}

	for i, entry := range entries {
		if !domain.IsValidChain(domain.Chain(entry.Chain)) {
			return nil, fmt.Errorf("collections entry %d: unsupported chain %q", i, entry.Chain)
		}
		if entry.ContractAddress == "" || entry.Slug == "" {
			return nil, fmt.Errorf("collections entry %d: contract_address and slug are required", i)
		}
	}

	return &CollectionRegistry{entries: entries}, nil
}

// Len returns the number of curated collections
func (r *CollectionRegistry) Len() int {
	return len(r.entries)
}

// Register upserts every curated collection into the store
func (r *CollectionRegistry) Register(ctx context.Context, st store.Store) error {
	for _, entry := range r.entries {
		collection := &schema.Collection{
			Chain:           domain.Chain(entry.Chain),
			ContractAddress: domain.NormalizeAddress(entry.ContractAddress),
			Slug:            entry.Slug,
			Name:            entry.Name,
			CreatorAddress:  domain.NormalizeAddress(entry.CreatorAddress),
		}
		if err := st.RegisterCollection(ctx, collection); err != nil {
			return fmt.Errorf("failed to register collection %s: %w", entry.Slug, err)
		}
	}
	return nil
}
