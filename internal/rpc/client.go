package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	ethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rollupscan/batch-indexer/internal/events"
	"github.com/rollupscan/batch-indexer/pkg/config"
)

// HeadStream is one live header subscription.
type HeadStream struct {
	Headers <-chan *types.Header
	Sub     ethereum.Subscription
}

// LogStream is one live log subscription.
type LogStream struct {
	Logs <-chan types.Log
	Sub  ethereum.Subscription
}

// Client wraps the L1 and L2 RPC connections with the subscriptions and
// point queries the pipeline needs. It is safe for concurrent use.
type Client struct {
	l1      *ethclient.Client
	l2      *ethclient.Client
	inbox   common.Address
	wrapper common.Address
	retry   *config.RetryConfig
}

// NewClient connects to both chains. The L1 endpoint must support
// subscriptions (websocket).
func NewClient(ctx context.Context, cfg *config.IndexerConfig) (*Client, error) {
	l1, err := ethclient.DialContext(ctx, cfg.L1RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial L1 RPC: %w", err)
	}

	l2, err := ethclient.DialContext(ctx, cfg.L2RPCURL)
	if err != nil {
		l1.Close()
		return nil, fmt.Errorf("failed to dial L2 RPC: %w", err)
	}

	return &Client{
		l1:      l1,
		l2:      l2,
		inbox:   cfg.InboxAddr(),
		wrapper: cfg.WrapperAddr(),
		retry:   cfg.Retry,
	}, nil
}

// Close closes both RPC connections.
func (c *Client) Close() {
	c.l1.Close()
	c.l2.Close()
}

// SubscribeL1Heads subscribes to new L1 headers.
func (c *Client) SubscribeL1Heads(ctx context.Context) (HeadStream, error) {
	ch := make(chan *types.Header, 16)
	sub, err := c.l1.SubscribeNewHead(ctx, ch)
	if err != nil {
		return HeadStream{}, fmt.Errorf("failed to subscribe to L1 heads: %w", err)
	}
	return HeadStream{Headers: ch, Sub: sub}, nil
}

// SubscribeL2Heads subscribes to new L2 headers.
func (c *Client) SubscribeL2Heads(ctx context.Context) (HeadStream, error) {
	ch := make(chan *types.Header, 16)
	sub, err := c.l2.SubscribeNewHead(ctx, ch)
	if err != nil {
		return HeadStream{}, fmt.Errorf("failed to subscribe to L2 heads: %w", err)
	}
	return HeadStream{Headers: ch, Sub: sub}, nil
}

// SubscribeBatchProposed subscribes to BatchProposed logs from the inbox.
func (c *Client) SubscribeBatchProposed(ctx context.Context) (LogStream, error) {
	return c.subscribeLogs(ctx, c.inbox, events.BatchProposedTopic)
}

// SubscribeBatchesProved subscribes to BatchesProved logs from the inbox.
func (c *Client) SubscribeBatchesProved(ctx context.Context) (LogStream, error) {
	return c.subscribeLogs(ctx, c.inbox, events.BatchesProvedTopic)
}

// SubscribeBatchesVerified subscribes to BatchesVerified logs from the inbox.
func (c *Client) SubscribeBatchesVerified(ctx context.Context) (LogStream, error) {
	return c.subscribeLogs(ctx, c.inbox, events.BatchesVerifiedTopic)
}

// SubscribeForcedInclusions subscribes to ForcedInclusionProcessed logs.
// They come from the wrapper contract when one is configured, otherwise
// from the inbox itself.
func (c *Client) SubscribeForcedInclusions(ctx context.Context) (LogStream, error) {
	source := c.wrapper
	if source == (common.Address{}) {
		source = c.inbox
	}
	return c.subscribeLogs(ctx, source, events.ForcedInclusionProcessedTopic)
}

func (c *Client) subscribeLogs(ctx context.Context, addr common.Address, topic common.Hash) (LogStream, error) {
	ch := make(chan types.Log, 64)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{topic}},
	}

	sub, err := c.l1.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return LogStream{}, fmt.Errorf("failed to subscribe to logs (topic %s): %w", topic.Hex(), err)
	}
	return LogStream{Logs: ch, Sub: sub}, nil
}

// GetReceipt fetches an L1 transaction receipt.
// A missing receipt is not an error: it returns (nil, nil).
func (c *Client) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := retryWithBackoff(ctx, c.retry, "get_receipt", func() error {
		var innerErr error
		receipt, innerErr = c.l1.TransactionReceipt(ctx, txHash)
		if IsNotFound(innerErr) {
			receipt = nil
			return nil
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetL1BlockByNumber fetches a full L1 block including transactions.
func (c *Client) GetL1BlockByNumber(ctx context.Context, blockNum uint64) (*types.Block, error) {
	var block *types.Block
	err := retryWithBackoff(ctx, c.retry, "get_l1_block", func() error {
		var innerErr error
		block, innerErr = c.l1.BlockByNumber(ctx, new(big.Int).SetUint64(blockNum))
		return innerErr
	})
	return block, err
}

// GetL2BlockByNumber fetches a full L2 block including transactions.
func (c *Client) GetL2BlockByNumber(ctx context.Context, blockNum uint64) (*types.Block, error) {
	var block *types.Block
	err := retryWithBackoff(ctx, c.retry, "get_l2_block", func() error {
		var innerErr error
		block, innerErr = c.l2.BlockByNumber(ctx, new(big.Int).SetUint64(blockNum))
		return innerErr
	})
	return block, err
}

// GetL1LatestBlockNumber returns the current L1 chain height.
func (c *Client) GetL1LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.l1.BlockNumber(ctx)
}

// GetL2LatestBlockNumber returns the current L2 chain height.
func (c *Client) GetL2LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.l2.BlockNumber(ctx)
}

// GetL1BlockReceipts fetches all receipts of one L1 block.
func (c *Client) GetL1BlockReceipts(ctx context.Context, blockNum uint64) ([]*types.Receipt, error) {
	var receipts []*types.Receipt
	err := retryWithBackoff(ctx, c.retry, "get_l1_block_receipts", func() error {
		var innerErr error
		receipts, innerErr = c.l1.BlockReceipts(ctx,
			ethrpc.BlockNumberOrHashWithNumber(ethrpc.BlockNumber(blockNum))) //nolint:gosec
		return innerErr
	})
	return receipts, err
}

// GetL2BlockStats computes the gas, transaction and priority-fee statistics
// for one L2 block: gas used, transaction count, and the sum of effective
// priority fees per gas across all transactions.
func (c *Client) GetL2BlockStats(ctx context.Context, blockHash common.Hash, baseFee uint64) (gasUsed, txCount, sumPriorityFee uint64, err error) {
	var block *types.Block
	err = retryWithBackoff(ctx, c.retry, "get_l2_block_stats", func() error {
		var innerErr error
		block, innerErr = c.l2.BlockByHash(ctx, blockHash)
		return innerErr
	})
	if err != nil {
		return 0, 0, 0, err
	}

	baseFeeBig := new(big.Int).SetUint64(baseFee)
	sum := new(big.Int)
	for _, tx := range block.Transactions() {
		tip, _ := tx.EffectiveGasTip(baseFeeBig)
		if tip.Sign() > 0 {
			sum.Add(sum, tip)
		}
	}

	return block.GasUsed(), uint64(len(block.Transactions())), sum.Uint64(), nil
}
