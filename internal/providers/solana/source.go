package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/source"
)

// eventLogPrefix marks structured marketplace events in program logs.
// The on-chain program serializes each event as one JSON object per line.
const eventLogPrefix = "Program log: EVENT:"

// signatureFetchLimit bounds how many signatures one fetch inspects
const signatureFetchLimit = 1000

const defaultRequestTimeout = 5 * time.Second

// Config holds the configuration for a Solana event source
type Config struct {
	ChainID        domain.Chain
	RPCURL         string
	ProgramID      string
	RequestTimeout time.Duration
}

type solanaSource struct {
	client adapter.HTTPClient
	config Config
}

// NewSource creates a Solana event source that polls the marketplace
// program's transaction history over JSON-RPC and extracts structured
// event logs. Position is the slot number.
func NewSource(client adapter.HTTPClient, cfg Config) source.EventSource {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &solanaSource{
		client: client,
		config: cfg,
	}
}

// Chain returns the chain this source reads from
func (s *solanaSource) Chain() domain.Chain {
	return s.config.ChainID
}

// Latest returns the current slot
func (s *solanaSource) Latest(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := s.rpcCall(ctx, "getSlot", []any{}, &slot); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	return slot, nil
}

type signatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Err       any    `json:"err"`
	BlockTime *int64 `json:"blockTime"`
}

type transactionResult struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      struct {
		Err         any      `json:"err"`
		LogMessages []string `json:"logMessages"`
	} `json:"meta"`
}

// Fetch reads program events from slot `from` up to the current head.
// Signatures are returned newest-first by the RPC and replayed oldest-first
// so batches are ordered by slot.
func (s *solanaSource) Fetch(ctx context.Context, from uint64) (*source.Batch, error) {
	latest, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}

	if from > latest {
		return &source.Batch{Position: from - 1}, nil
	}

	signatures, err := s.fetchSignatures(ctx, from)
	if err != nil {
		return nil, err
	}

	// Keep signatures inside the window, oldest first
	var window []signatureInfo
	for i := len(signatures) - 1; i >= 0; i-- {
		sig := signatures[i]
		if sig.Err != nil {
			continue
		}
		if sig.Slot < from || sig.Slot > latest {
			continue
		}
		window = append(window, sig)
	}

	events := make([]domain.MarketEvent, 0, len(window))
	for _, sig := range window {
		txEvents, err := s.fetchTransactionEvents(ctx, sig)
		if err != nil {
			return nil, err
		}
		events = append(events, txEvents...)
	}

	return &source.Batch{Events: events, Position: latest}, nil
}

// Close is a no-op; the source holds no persistent connection
func (s *solanaSource) Close() {}

// fetchSignatures pages backwards through the program's signature history
// until it has covered every slot down to `from`. The RPC returns pages
// newest-first, so paging stops once a page is short or its oldest entry
// falls below the window floor.
func (s *solanaSource) fetchSignatures(ctx context.Context, from uint64) ([]signatureInfo, error) {
	var signatures []signatureInfo
	before := ""
	for {
		opts := map[string]any{"limit": signatureFetchLimit}
		if before != "" {
			opts["before"] = before
		}
		var page []signatureInfo
		params := []any{s.config.ProgramID, opts}
		if err := s.rpcCall(ctx, "getSignaturesForAddress", params, &page); err != nil {
			return nil, fmt.Errorf("%w: failed to list signatures: %v", domain.ErrSourceUnavailable, err)
		}
		signatures = append(signatures, page...)
		if len(page) < signatureFetchLimit {
			return signatures, nil
		}
		oldest := page[len(page)-1]
		if oldest.Slot < from {
			return signatures, nil
		}
		before = oldest.Signature
	}
}

func (s *solanaSource) fetchTransactionEvents(ctx context.Context, sig signatureInfo) ([]domain.MarketEvent, error) {
	var tx transactionResult
	params := []any{
		sig.Signature,
		map[string]any{
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := s.rpcCall(ctx, "getTransaction", params, &tx); err != nil {
		return nil, fmt.Errorf("%w: failed to get transaction %s: %v", domain.ErrSourceUnavailable, sig.Signature, err)
	}

	// Failed transactions emit no authoritative events
	if tx.Meta.Err != nil {
		return nil, nil
	}

	var timestamp time.Time
	if tx.BlockTime != nil {
		timestamp = time.Unix(*tx.BlockTime, 0).UTC()
	} else if sig.BlockTime != nil {
		timestamp = time.Unix(*sig.BlockTime, 0).UTC()
	}

	var events []domain.MarketEvent
	var logIndex uint64
	for _, line := range tx.Meta.LogMessages {
		if !strings.HasPrefix(line, eventLogPrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, eventLogPrefix)

		event, err := s.parseEventLog(payload)
		if err != nil {
			logger.WarnCtx(ctx, "Skipping unparseable program event",
				zap.String("chain", string(s.config.ChainID)),
				zap.String("signature", sig.Signature),
				zap.Uint64("slot", sig.Slot),
				zap.Error(err))
			logIndex++
			continue
		}

		event.Chain = s.config.ChainID
		event.TxHash = sig.Signature
		event.LogIndex = logIndex
		event.Position = sig.Slot
		event.Timestamp = timestamp
		events = append(events, *event)
		logIndex++
	}

	return events, nil
}

// programEvent is the JSON shape the marketplace program logs per event
type programEvent struct {
	Kind        string          `json:"kind"`
	ListingID   string          `json:"listing_id"`
	ListingType string          `json:"listing_type"`
	Seller      string          `json:"seller"`
	Bidder      string          `json:"bidder"`
	Buyer       string          `json:"buyer"`
	Mint        string          `json:"mint"`
	TokenNumber string          `json:"token_number"`
	Amount      decimal.Decimal `json:"amount"`
	EndTime     int64           `json:"end_time"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Protocol    string          `json:"protocol"`
	SrcChain    string          `json:"src_chain"`
	DstChain    string          `json:"dst_chain"`
	Recipient   string          `json:"recipient"`
	BurnMint    bool            `json:"burn_mint"`
	MetadataURI string          `json:"metadata_uri"`
}

func (s *solanaSource) parseEventLog(payload string) (*domain.MarketEvent, error) {
	var pe programEvent
	if err := json.Unmarshal([]byte(payload), &pe); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}

	kind := domain.EventKind(pe.Kind)
	switch kind {
	case domain.EventKindListingCreated,
		domain.EventKindBidPlaced,
		domain.EventKindSaleSettled,
		domain.EventKindListingCancelled,
		domain.EventKindAuctionExtended,
		domain.EventKindTransfer,
		domain.EventKindBridgeInitiated,
		domain.EventKindBridgeCompleted:
	default:
		return nil, fmt.Errorf("unknown event kind: %q", pe.Kind)
	}

	event := &domain.MarketEvent{
		Kind:          kind,
		ListingID:     pe.ListingID,
		ListingType:   domain.ListingType(pe.ListingType),
		Seller:        pe.Seller,
		Bidder:        pe.Bidder,
		Buyer:         pe.Buyer,
		TokenContract: pe.Mint,
		TokenNumber:   pe.TokenNumber,
		Amount:        pe.Amount,
		FromAddress:   pe.From,
		ToAddress:     pe.To,
		Protocol:      domain.BridgeProtocol(pe.Protocol),
		SrcChain:      pe.SrcChain,
		DstChain:      pe.DstChain,
		Recipient:     pe.Recipient,
		BurnMint:      pe.BurnMint,
		MetadataURI:   pe.MetadataURI,
	}

	// A Solana NFT is its own mint, so the program may omit token_number
	if event.TokenNumber == "" && event.TokenContract != "" {
		event.TokenNumber = "0"
	}

	if pe.EndTime > 0 {
		event.NewEndTime = time.Unix(pe.EndTime, 0).UTC()
	}

	if kind == domain.EventKindBridgeInitiated && event.SrcChain == "" {
		event.SrcChain = string(s.config.ChainID)
	}
	if kind == domain.EventKindBridgeCompleted && event.DstChain == "" {
		event.DstChain = string(s.config.ChainID)
	}

	return event, nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcCall makes a JSON-RPC call and decodes the result into out
func (s *solanaSource) rpcCall(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	respBody, err := s.client.Post(timeoutCtx, s.config.RPCURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc %s failed: %w", method, err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("rpc %s returned invalid response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc %s error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("rpc %s returned unexpected result: %w", method, err)
	}
	return nil
}
