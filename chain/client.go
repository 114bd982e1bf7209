package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Reader is the narrow view of blockchain RPC the ingestor needs. Errors
// are transient by contract: the caller retries the same range next tick.
type Reader interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

type Config struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	ContractAddress string        `mapstructure:"contract_address"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Confirmations   uint64        `mapstructure:"confirmations"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	StartBlock      uint64        `mapstructure:"start_block"`
}

// Client reads SoulRite logs from an Ethereum JSON-RPC endpoint.
type Client struct {
	ec       *ethclient.Client
	contract common.Address
	timeout  time.Duration
}

// Dial connects and verifies the endpoint serves the configured chain.
// Connection attempts are retried with exponential backoff so a node that
// is still starting up does not fail the whole process.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("chain.rpc_url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain.contract_address is not a hex address: %q", cfg.ContractAddress)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var ec *ethclient.Client
	dial := func() error {
		var err error
		ec, err = ethclient.DialContext(ctx, cfg.RPCURL)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	chainID, err := ec.ChainID(cctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Cmp(big.NewInt(cfg.ChainID)) != 0 {
		ec.Close()
		return nil, fmt.Errorf("wrong chain id: got %s, want %d", chainID, cfg.ChainID)
	}

	return &Client{
		ec:       ec,
		contract: common.HexToAddress(cfg.ContractAddress),
		timeout:  timeout,
	}, nil
}

func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{EventTopics()},
	}
	logs, err := c.ec.FilterLogs(cctx, q)
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d, %d]: %w", fromBlock, toBlock, err)
	}
	return logs, nil
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	n, err := c.ec.BlockNumber(cctx)
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return n, nil
}

func (c *Client) Close() {
	if c != nil && c.ec != nil {
		c.ec.Close()
	}
}
