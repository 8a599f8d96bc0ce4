package feeds

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"gepspresale/native/presale"
)

const aggregatorV3ABI = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[
 {"internalType":"uint80","name":"roundId","type":"uint80"},
 {"internalType":"int256","name":"answer","type":"int256"},
 {"internalType":"uint256","name":"startedAt","type":"uint256"},
 {"internalType":"uint256","name":"updatedAt","type":"uint256"},
 {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("feeds: parse aggregator abi: %v", err))
	}
	return parsed
}

// ContractCaller is the subset of the Ethereum RPC needed to read aggregator
// contracts. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialContractCaller opens an EVM RPC client for endpoint.
func DialContractCaller(ctx context.Context, endpoint string) (ContractCaller, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// Chainlink reads an AggregatorV3 price feed.
type Chainlink struct {
	caller     ContractCaller
	aggregator common.Address

	mu       sync.Mutex
	loaded   bool
	decimals uint8
}

// NewChainlink binds a reader to the aggregator contract.
func NewChainlink(caller ContractCaller, aggregator common.Address) (*Chainlink, error) {
	if caller == nil {
		return nil, errors.New("chainlink: contract caller required")
	}
	if aggregator == (common.Address{}) {
		return nil, errors.New("chainlink: aggregator address required")
	}
	return &Chainlink{caller: caller, aggregator: aggregator}, nil
}

// Quote implements presale.PriceOracle.
func (c *Chainlink) Quote(ctx context.Context, _ presale.Currency) (presale.Quote, error) {
	decimals, err := c.feedDecimals(ctx)
	if err != nil {
		return presale.Quote{}, err
	}
	out, err := c.call(ctx, "latestRoundData")
	if err != nil {
		return presale.Quote{}, err
	}
	if len(out) != 5 {
		return presale.Quote{}, fmt.Errorf("chainlink: unexpected latestRoundData arity %d", len(out))
	}
	answer, ok := out[1].(*big.Int)
	if !ok || answer == nil || answer.Sign() <= 0 {
		return presale.Quote{}, fmt.Errorf("chainlink: non-positive answer from %s", c.aggregator.Hex())
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok || updatedAt == nil || !updatedAt.IsInt64() {
		return presale.Quote{}, fmt.Errorf("chainlink: invalid updatedAt from %s", c.aggregator.Hex())
	}
	return presale.Quote{Rate: new(big.Int).Set(answer), Decimals: decimals, UpdatedAt: updatedAt.Int64()}, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.decimals, nil
	}
	out, err := c.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("chainlink: unexpected decimals arity %d", len(out))
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chainlink: unexpected decimals type %T", out[0])
	}
	c.decimals = dec
	c.loaded = true
	return dec, nil
}

func (c *Chainlink) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("chainlink: pack %s: %w", method, err)
	}
	to := c.aggregator
	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainlink: call %s: %w", method, err)
	}
	out, err := aggregatorABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chainlink: unpack %s: %w", method, err)
	}
	return out, nil
}
