package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/block"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/source"
)

const defaultRequestTimeout = 5 * time.Second

// Config holds the configuration for an EVM event source
type Config struct {
	ChainID            domain.Chain
	MarketplaceAddress string
	BridgeAddress      string
	TokenAddress       string
	MaxBlockRange      uint64 // upper bound on blocks read per fetch
	RequestTimeout     time.Duration
}

// Event signatures for the marketplace and bridge contracts
var (
	// ListingCreated(bytes32 indexed listingId, address indexed seller, address indexed tokenContract, uint256 tokenId, uint8 listingType, uint256 price, uint64 endTime)
	listingCreatedSignature = crypto.Keccak256Hash([]byte("ListingCreated(bytes32,address,address,uint256,uint8,uint256,uint64)"))

	// BidPlaced(bytes32 indexed listingId, address indexed bidder, uint256 amount)
	bidPlacedSignature = crypto.Keccak256Hash([]byte("BidPlaced(bytes32,address,uint256)"))

	// SaleSettled(bytes32 indexed listingId, address indexed buyer, uint256 amount)
	saleSettledSignature = crypto.Keccak256Hash([]byte("SaleSettled(bytes32,address,uint256)"))

	// ListingCancelled(bytes32 indexed listingId)
	listingCancelledSignature = crypto.Keccak256Hash([]byte("ListingCancelled(bytes32)"))

	// AuctionExtended(bytes32 indexed listingId, uint64 newEndTime)
	auctionExtendedSignature = crypto.Keccak256Hash([]byte("AuctionExtended(bytes32,uint64)"))

	// ERC721 Transfer(address indexed from, address indexed to, uint256 indexed tokenId)
	transferSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	// BridgeInitiated(address indexed tokenContract, uint256 indexed tokenId, address indexed sender, uint256 dstChainId, uint8 protocol, bool burnMint)
	bridgeInitiatedSignature = crypto.Keccak256Hash([]byte("BridgeInitiated(address,uint256,address,uint256,uint8,bool)"))

	// BridgeCompleted(address indexed tokenContract, uint256 indexed tokenId, address indexed recipient, uint256 srcChainId, uint8 protocol)
	bridgeCompletedSignature = crypto.Keccak256Hash([]byte("BridgeCompleted(address,uint256,address,uint256,uint8)"))
)

type evmSource struct {
	client adapter.EthClient
	head   block.HeadProvider
	config Config
}

// NewSource creates an EVM event source that reads marketplace, bridge and
// token transfer events by polling FilterLogs over bounded block windows.
func NewSource(client adapter.EthClient, head block.HeadProvider, cfg Config) source.EventSource {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &evmSource{
		client: client,
		head:   head,
		config: cfg,
	}
}

// Chain returns the chain this source reads from
func (s *evmSource) Chain() domain.Chain {
	return s.config.ChainID
}

// Latest returns the current head block of the chain
func (s *evmSource) Latest(ctx context.Context) (uint64, error) {
	latest, err := s.head.LatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	return latest, nil
}

// Fetch reads events from block `from` up to at most MaxBlockRange blocks.
// Results are ordered by (block number, log index) so replays of the same
// window are deterministic.
func (s *evmSource) Fetch(ctx context.Context, from uint64) (*source.Batch, error) {
	latest, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}

	// Nothing new yet; leave the cursor where it is
	if from > latest {
		return &source.Batch{Position: from - 1}, nil
	}

	to := latest
	if s.config.MaxBlockRange > 0 && to > from+s.config.MaxBlockRange-1 {
		to = from + s.config.MaxBlockRange - 1
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: s.addresses(),
		Topics: [][]common.Hash{
			{
				listingCreatedSignature,
				bidPlacedSignature,
				saleSettledSignature,
				listingCancelledSignature,
				auctionExtendedSignature,
				transferSignature,
				bridgeInitiatedSignature,
				bridgeCompletedSignature,
			},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	logs, err := s.client.FilterLogs(timeoutCtx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to filter logs %d-%d: %v", domain.ErrSourceUnavailable, from, to, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	events := make([]domain.MarketEvent, 0, len(logs))
	for _, vLog := range logs {
		event, err := s.parseLog(ctx, vLog)
		if err != nil {
			if errors.Is(err, domain.ErrSourceUnavailable) {
				return nil, fmt.Errorf("failed to parse log %s:%d: %w",
					vLog.TxHash.Hex(), vLog.Index, err)
			}
			logger.WarnCtx(ctx, "Skipping unparseable log",
				zap.String("chain", string(s.config.ChainID)),
				zap.String("txHash", vLog.TxHash.Hex()),
				zap.Uint("logIndex", vLog.Index),
				zap.Error(err))
			continue
		}
		if event == nil {
			continue
		}
		events = append(events, *event)
	}

	return &source.Batch{Events: events, Position: to}, nil
}

// Close closes the underlying RPC connection
func (s *evmSource) Close() {
	s.client.Close()
}

func (s *evmSource) addresses() []common.Address {
	var addrs []common.Address
	for _, a := range []string{s.config.MarketplaceAddress, s.config.BridgeAddress, s.config.TokenAddress} {
		if a != "" {
			addrs = append(addrs, common.HexToAddress(a))
		}
	}
	return addrs
}

// parseLog converts an EVM log into a normalized market event. Logs with
// unknown signatures return (nil, nil) and are skipped.
func (s *evmSource) parseLog(ctx context.Context, vLog types.Log) (*domain.MarketEvent, error) {
	if len(vLog.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	// A timestamp lookup failure is an RPC problem, not a bad log; surface
	// it as a source outage so the window stays unconsumed and is retried.
	timestamp, err := s.head.BlockTimestamp(ctx, vLog.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve timestamp for block %d: %v",
			domain.ErrSourceUnavailable, vLog.BlockNumber, err)
	}

	event := &domain.MarketEvent{
		Chain:     s.config.ChainID,
		TxHash:    vLog.TxHash.Hex(),
		LogIndex:  uint64(vLog.Index),
		Position:  vLog.BlockNumber,
		Timestamp: timestamp,
	}

	switch vLog.Topics[0] {
	case listingCreatedSignature:
		// topics: listingId, seller, tokenContract; data: tokenId, listingType, price, endTime
		if len(vLog.Topics) != 4 {
			return nil, fmt.Errorf("invalid ListingCreated event: expected 4 topics, got %d", len(vLog.Topics))
		}
		if len(vLog.Data) < 128 {
			return nil, fmt.Errorf("invalid ListingCreated event: insufficient data")
		}

		event.Kind = domain.EventKindListingCreated
		event.ListingID = vLog.Topics[1].Hex()
		event.Seller = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[2].Bytes()).Hex())
		event.TokenContract = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[3].Bytes()).Hex())
		event.TokenNumber = new(big.Int).SetBytes(vLog.Data[0:32]).String()

		listingType, err := decodeListingType(new(big.Int).SetBytes(vLog.Data[32:64]).Uint64())
		if err != nil {
			return nil, err
		}
		event.ListingType = listingType
		event.Amount = weiToDecimal(new(big.Int).SetBytes(vLog.Data[64:96]))

		if endTime := new(big.Int).SetBytes(vLog.Data[96:128]).Int64(); endTime > 0 {
			event.NewEndTime = time.Unix(endTime, 0).UTC()
		}

	case bidPlacedSignature:
		// topics: listingId, bidder; data: amount
		if len(vLog.Topics) != 3 {
			return nil, fmt.Errorf("invalid BidPlaced event: expected 3 topics, got %d", len(vLog.Topics))
		}
		if len(vLog.Data) < 32 {
			return nil, fmt.Errorf("invalid BidPlaced event: insufficient data")
		}

		event.Kind = domain.EventKindBidPlaced
		event.ListingID = vLog.Topics[1].Hex()
		event.Bidder = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[2].Bytes()).Hex())
		event.Amount = weiToDecimal(new(big.Int).SetBytes(vLog.Data[0:32]))

	case saleSettledSignature:
		// topics: listingId, buyer; data: amount
		if len(vLog.Topics) != 3 {
			return nil, fmt.Errorf("invalid SaleSettled event: expected 3 topics, got %d", len(vLog.Topics))
		}
		if len(vLog.Data) < 32 {
			return nil, fmt.Errorf("invalid SaleSettled event: insufficient data")
		}

		event.Kind = domain.EventKindSaleSettled
		event.ListingID = vLog.Topics[1].Hex()
		event.Buyer = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[2].Bytes()).Hex())
		event.Amount = weiToDecimal(new(big.Int).SetBytes(vLog.Data[0:32]))

	case listingCancelledSignature:
		if len(vLog.Topics) != 2 {
			return nil, fmt.Errorf("invalid ListingCancelled event: expected 2 topics, got %d", len(vLog.Topics))
		}

		event.Kind = domain.EventKindListingCancelled
		event.ListingID = vLog.Topics[1].Hex()

	case auctionExtendedSignature:
		// topics: listingId; data: newEndTime
		if len(vLog.Topics) != 2 {
			return nil, fmt.Errorf("invalid AuctionExtended event: expected 2 topics, got %d", len(vLog.Topics))
		}
		if len(vLog.Data) < 32 {
			return nil, fmt.Errorf("invalid AuctionExtended event: insufficient data")
		}

		event.Kind = domain.EventKindAuctionExtended
		event.ListingID = vLog.Topics[1].Hex()
		event.NewEndTime = time.Unix(new(big.Int).SetBytes(vLog.Data[0:32]).Int64(), 0).UTC()

	case transferSignature:
		// ERC721 Transfer has 4 topics; the 3-topic ERC20 variant shares
		// the signature and is skipped
		if len(vLog.Topics) == 3 {
			return nil, nil
		}
		if len(vLog.Topics) != 4 {
			return nil, fmt.Errorf("invalid Transfer event: expected 3 or 4 topics, got %d", len(vLog.Topics))
		}

		event.Kind = domain.EventKindTransfer
		event.TokenContract = domain.NormalizeAddress(vLog.Address.Hex())
		event.FromAddress = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[1].Bytes()).Hex())
		event.ToAddress = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[2].Bytes()).Hex())
		event.TokenNumber = new(big.Int).SetBytes(vLog.Topics[3].Bytes()).String()

	case bridgeInitiatedSignature:
		// topics: tokenContract, tokenId, sender; data: dstChainId, protocol, burnMint
		if len(vLog.Topics) != 4 {
			return nil, fmt.Errorf("invalid BridgeInitiated event: expected 4 topics, got %d", len(vLog.Topics))
		}
		if len(vLog.Data) < 96 {
			return nil, fmt.Errorf("invalid BridgeInitiated event: insufficient data")
		}

		protocol, err := decodeBridgeProtocol(new(big.Int).SetBytes(vLog.Data[32:64]).Uint64())
		if err != nil {
			return nil, err
		}

		event.Kind = domain.EventKindBridgeInitiated
		event.TokenContract = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[1].Bytes()).Hex())
		event.TokenNumber = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).String()
		event.Seller = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[3].Bytes()).Hex())
		event.SrcChain = string(s.config.ChainID)
		event.DstChain = chainRef(new(big.Int).SetBytes(vLog.Data[0:32]).Uint64())
		event.Protocol = protocol
		event.BurnMint = new(big.Int).SetBytes(vLog.Data[64:96]).Sign() != 0

	case bridgeCompletedSignature:
		// topics: tokenContract, tokenId, recipient; data: srcChainId, protocol
		if len(vLog.Topics) != 4 {
			return nil, fmt.Errorf("invalid BridgeCompleted event: expected 4 topics, got %d", len(vLog.Topics))
		}
		if len(vLog.Data) < 64 {
			return nil, fmt.Errorf("invalid BridgeCompleted event: insufficient data")
		}

		protocol, err := decodeBridgeProtocol(new(big.Int).SetBytes(vLog.Data[32:64]).Uint64())
		if err != nil {
			return nil, err
		}

		event.Kind = domain.EventKindBridgeCompleted
		event.TokenContract = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[1].Bytes()).Hex())
		event.TokenNumber = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).String()
		event.Recipient = domain.NormalizeAddress(common.BytesToAddress(vLog.Topics[3].Bytes()).Hex())
		event.SrcChain = chainRef(new(big.Int).SetBytes(vLog.Data[0:32]).Uint64())
		event.DstChain = string(s.config.ChainID)
		event.Protocol = protocol

	default:
		return nil, nil
	}

	return event, nil
}

// weiToDecimal converts an 18-decimal integer amount to its decimal value
func weiToDecimal(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -18)
}

func decodeListingType(code uint64) (domain.ListingType, error) {
	switch code {
	case 0:
		return domain.ListingTypeFixed, nil
	case 1:
		return domain.ListingTypeEnglish, nil
	case 2:
		return domain.ListingTypeDutch, nil
	case 3:
		return domain.ListingTypeBundle, nil
	default:
		return "", fmt.Errorf("unknown listing type code: %d", code)
	}
}

func decodeBridgeProtocol(code uint64) (domain.BridgeProtocol, error) {
	switch code {
	case 0:
		return domain.BridgeProtocolLayerZero, nil
	case 1:
		return domain.BridgeProtocolWormhole, nil
	default:
		return "", fmt.Errorf("unknown bridge protocol code: %d", code)
	}
}

// chainRef maps a numeric bridge chain id to a CAIP-2 chain reference.
// Bridge contracts encode Solana as chain id 0.
func chainRef(id uint64) string {
	if id == 0 {
		return string(domain.ChainSolanaMainnet)
	}
	return fmt.Sprintf("eip155:%d", id)
}
