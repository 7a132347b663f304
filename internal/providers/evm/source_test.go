package evm_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/mocks"
	"github.com/omnimart/marketplace-indexer/internal/providers/evm"
	"github.com/omnimart/marketplace-indexer/internal/source"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

var (
	marketplaceAddr = "0x1111111111111111111111111111111111111111"
	tokenAddr       = "0x2222222222222222222222222222222222222222"
	sellerAddr      = "0x3333333333333333333333333333333333333333"
	bidderAddr      = "0x4444444444444444444444444444444444444444"

	blockTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

type testSourceMocks struct {
	ctrl   *gomock.Controller
	client *mocks.MockEthClient
	head   *mocks.MockHeadProvider
	source source.EventSource
}

func setupTest(t *testing.T, maxBlockRange uint64) *testSourceMocks {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	client := mocks.NewMockEthClient(ctrl)
	head := mocks.NewMockHeadProvider(ctrl)

	src := evm.NewSource(client, head, evm.Config{
		ChainID:            domain.ChainEthereumMainnet,
		MarketplaceAddress: marketplaceAddr,
		TokenAddress:       tokenAddr,
		MaxBlockRange:      maxBlockRange,
	})

	return &testSourceMocks{
		ctrl:   ctrl,
		client: client,
		head:   head,
		source: src,
	}
}

// word encodes a value as one 32-byte ABI data word
func word(v *big.Int) []byte {
	return common.BigToHash(v).Bytes()
}

func topicHash(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

func addressTopic(hexAddr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(hexAddr).Bytes())
}

func listingCreatedLog(blockNumber uint64, logIndex uint) types.Log {
	// 1.5 ETH in wei
	price, _ := new(big.Int).SetString("1500000000000000000", 10)
	endTime := big.NewInt(blockTime.Add(time.Hour).Unix())

	var data []byte
	data = append(data, word(big.NewInt(42))...)  // tokenId
	data = append(data, word(big.NewInt(1))...)   // listing type: English
	data = append(data, word(price)...)           // price
	data = append(data, word(endTime)...)         // endTime

	return types.Log{
		Address: common.HexToAddress(marketplaceAddr),
		Topics: []common.Hash{
			topicHash("ListingCreated(bytes32,address,address,uint256,uint8,uint256,uint64)"),
			common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001"),
			addressTopic(sellerAddr),
			addressTopic(tokenAddr),
		},
		Data:        data,
		BlockNumber: blockNumber,
		TxHash:      common.HexToHash("0xdead01"),
		Index:       logIndex,
	}
}

func bidPlacedLog(blockNumber uint64, logIndex uint) types.Log {
	amount, _ := new(big.Int).SetString("2000000000000000000", 10)

	return types.Log{
		Address: common.HexToAddress(marketplaceAddr),
		Topics: []common.Hash{
			topicHash("BidPlaced(bytes32,address,uint256)"),
			common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001"),
			addressTopic(bidderAddr),
		},
		Data:        word(amount),
		BlockNumber: blockNumber,
		TxHash:      common.HexToHash("0xdead02"),
		Index:       logIndex,
	}
}

func TestEVMSource_Fetch_DecodesListingCreated(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(110), nil)
	tm.head.EXPECT().BlockTimestamp(gomock.Any(), uint64(105)).Return(blockTime, nil)
	tm.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
			assert.Equal(t, uint64(100), query.FromBlock.Uint64())
			assert.Equal(t, uint64(110), query.ToBlock.Uint64())
			assert.Contains(t, query.Addresses, common.HexToAddress(marketplaceAddr))
			assert.Contains(t, query.Addresses, common.HexToAddress(tokenAddr))
			return []types.Log{listingCreatedLog(105, 3)}, nil
		})

	batch, err := tm.source.Fetch(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), batch.Position)
	require.Len(t, batch.Events, 1)

	event := batch.Events[0]
	assert.Equal(t, domain.EventKindListingCreated, event.Kind)
	assert.Equal(t, domain.ChainEthereumMainnet, event.Chain)
	assert.Equal(t, uint64(105), event.Position)
	assert.Equal(t, uint64(3), event.LogIndex)
	assert.Equal(t, blockTime, event.Timestamp)
	assert.Equal(t, sellerAddr, event.Seller)
	assert.Equal(t, tokenAddr, event.TokenContract)
	assert.Equal(t, "42", event.TokenNumber)
	assert.Equal(t, domain.ListingTypeEnglish, event.ListingType)
	assert.True(t, decimal.NewFromFloat(1.5).Equal(event.Amount), "amount = %s", event.Amount)
	assert.Equal(t, blockTime.Add(time.Hour), event.NewEndTime)
	assert.True(t, event.Valid())
}

func TestEVMSource_Fetch_SortsByBlockAndLogIndex(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(110), nil)
	tm.head.EXPECT().BlockTimestamp(gomock.Any(), gomock.Any()).Return(blockTime, nil).AnyTimes()
	tm.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).Return([]types.Log{
		bidPlacedLog(106, 0),
		bidPlacedLog(105, 7),
		bidPlacedLog(105, 2),
	}, nil)

	batch, err := tm.source.Fetch(ctx, 100)
	require.NoError(t, err)
	require.Len(t, batch.Events, 3)

	assert.Equal(t, uint64(105), batch.Events[0].Position)
	assert.Equal(t, uint64(2), batch.Events[0].LogIndex)
	assert.Equal(t, uint64(105), batch.Events[1].Position)
	assert.Equal(t, uint64(7), batch.Events[1].LogIndex)
	assert.Equal(t, uint64(106), batch.Events[2].Position)
}

func TestEVMSource_Fetch_CapsWindowAtMaxBlockRange(t *testing.T) {
	tm := setupTest(t, 50)
	ctx := context.Background()

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(1000), nil)
	tm.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
			assert.Equal(t, uint64(100), query.FromBlock.Uint64())
			assert.Equal(t, uint64(149), query.ToBlock.Uint64())
			return nil, nil
		})

	batch, err := tm.source.Fetch(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(149), batch.Position)
	assert.Empty(t, batch.Events)
}

func TestEVMSource_Fetch_AheadOfHead(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(99), nil)

	batch, err := tm.source.Fetch(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), batch.Position)
	assert.Empty(t, batch.Events)
}

func TestEVMSource_Fetch_FilterLogsFailure(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(110), nil)
	tm.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).Return(nil, errors.New("rpc timeout"))

	_, err := tm.source.Fetch(ctx, 100)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestEVMSource_Fetch_TimestampFailureLeavesWindowUnconsumed(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	// The log itself is valid; only the timestamp lookup fails. The window
	// must not be consumed, otherwise the event would be lost for good.
	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(110), nil)
	tm.head.EXPECT().BlockTimestamp(gomock.Any(), uint64(105)).
		Return(time.Time{}, errors.New("rpc timeout"))
	tm.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).
		Return([]types.Log{listingCreatedLog(105, 3)}, nil)

	batch, err := tm.source.Fetch(ctx, 100)
	assert.Nil(t, batch)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestEVMSource_Latest_HeadFailure(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(0), errors.New("rpc timeout"))

	_, err := tm.source.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestEVMSource_Fetch_SkipsUnknownAndMalformedLogs(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	unknown := types.Log{
		Address:     common.HexToAddress(marketplaceAddr),
		Topics:      []common.Hash{topicHash("SomethingElse(uint256)")},
		BlockNumber: 104,
		TxHash:      common.HexToHash("0xdead03"),
	}

	// BidPlaced missing its amount word
	truncated := bidPlacedLog(104, 1)
	truncated.Data = nil

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(110), nil)
	tm.head.EXPECT().BlockTimestamp(gomock.Any(), gomock.Any()).Return(blockTime, nil).AnyTimes()
	tm.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).Return([]types.Log{
		unknown,
		truncated,
		bidPlacedLog(105, 0),
	}, nil)

	batch, err := tm.source.Fetch(ctx, 100)
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, domain.EventKindBidPlaced, batch.Events[0].Kind)
	assert.Equal(t, bidderAddr, batch.Events[0].Bidder)
}

func TestEVMSource_Fetch_SkipsERC20Transfers(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	erc20 := types.Log{
		Address: common.HexToAddress(tokenAddr),
		Topics: []common.Hash{
			topicHash("Transfer(address,address,uint256)"),
			addressTopic(sellerAddr),
			addressTopic(bidderAddr),
		},
		Data:        word(big.NewInt(1)),
		BlockNumber: 105,
		TxHash:      common.HexToHash("0xdead04"),
	}

	erc721 := types.Log{
		Address: common.HexToAddress(tokenAddr),
		Topics: []common.Hash{
			topicHash("Transfer(address,address,uint256)"),
			addressTopic(sellerAddr),
			addressTopic(bidderAddr),
			common.BigToHash(big.NewInt(42)),
		},
		BlockNumber: 105,
		TxHash:      common.HexToHash("0xdead05"),
		Index:       1,
	}

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(110), nil)
	tm.head.EXPECT().BlockTimestamp(gomock.Any(), gomock.Any()).Return(blockTime, nil).AnyTimes()
	tm.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).Return([]types.Log{erc20, erc721}, nil)

	batch, err := tm.source.Fetch(ctx, 100)
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)

	event := batch.Events[0]
	assert.Equal(t, domain.EventKindTransfer, event.Kind)
	assert.Equal(t, tokenAddr, event.TokenContract)
	assert.Equal(t, sellerAddr, event.FromAddress)
	assert.Equal(t, bidderAddr, event.ToAddress)
	assert.Equal(t, "42", event.TokenNumber)
}

func TestEVMSource_Fetch_DecodesBridgeInitiated(t *testing.T) {
	tm := setupTest(t, 0)
	ctx := context.Background()

	var data []byte
	data = append(data, word(big.NewInt(42161))...) // dstChainId: Arbitrum
	data = append(data, word(big.NewInt(0))...)     // protocol: LayerZero
	data = append(data, word(big.NewInt(1))...)     // burnMint: true

	bridgeLog := types.Log{
		Address: common.HexToAddress(marketplaceAddr),
		Topics: []common.Hash{
			topicHash("BridgeInitiated(address,uint256,address,uint256,uint8,bool)"),
			addressTopic(tokenAddr),
			common.BigToHash(big.NewInt(42)),
			addressTopic(sellerAddr),
		},
		Data:        data,
		BlockNumber: 105,
		TxHash:      common.HexToHash("0xdead06"),
	}

	tm.head.EXPECT().LatestBlock(ctx).Return(uint64(110), nil)
	tm.head.EXPECT().BlockTimestamp(gomock.Any(), uint64(105)).Return(blockTime, nil)
	tm.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).Return([]types.Log{bridgeLog}, nil)

	batch, err := tm.source.Fetch(ctx, 100)
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)

	event := batch.Events[0]
	assert.Equal(t, domain.EventKindBridgeInitiated, event.Kind)
	assert.Equal(t, tokenAddr, event.TokenContract)
	assert.Equal(t, "42", event.TokenNumber)
	assert.Equal(t, sellerAddr, event.Seller)
	assert.Equal(t, string(domain.ChainEthereumMainnet), event.SrcChain)
	assert.Equal(t, string(domain.ChainArbitrumOne), event.DstChain)
	assert.Equal(t, domain.BridgeProtocolLayerZero, event.Protocol)
	assert.True(t, event.BurnMint)
	assert.True(t, event.Valid())
}
