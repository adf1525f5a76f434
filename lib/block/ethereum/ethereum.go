// Package ethereum implements the block.Chain interface for ethereum-type networks (mainnet, polygon, arbitrum, ...).
package ethereum

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tarancss/tokenmon/lib/block/types"
)

// Contract interfaces used by the monitor. Only the read methods are declared.
const (
	erc20JSON = `[
	{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`
	pairJSON = `[
	{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}
]`
	quoterJSON = `[
	{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"amountIn","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`
)

//nolint:gochecknoglobals // parsed once, read only
var (
	erc20ABI  = mustParse(erc20JSON)
	pairABI   = mustParse(pairJSON)
	quoterABI = mustParse(quoterJSON)
)

// maxFee is the largest value a uint24 fee tier can hold.
const maxFee = 1<<24 - 1

func mustParse(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}

	return a
}

// caller is the subset of ethclient.Client used to run read-only calls.
type caller interface {
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Ethereum implements a connection to an ethereum-type chain.
type Ethereum struct {
	c    caller
	node string
}

// Init returns a connection to an ethereum node, using secret (user:password) for Basic Authentication if
// informed. The HTTP transport connects lazily, so an unreachable node is only detected on the first call.
func Init(node, secret string) (*Ethereum, error) {
	rc, err := rpc.DialContext(context.Background(), node)
	if err != nil {
		return nil, fmt.Errorf("ethereum: cannot dial %s: %w", node, err)
	}

	if secret != "" {
		rc.SetHeader("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(secret)))
	}

	return &Ethereum{c: ethclient.NewClient(rc), node: node}, nil
}

// Node returns the url of the node.
func (e *Ethereum) Node() string {
	return e.node
}

// Close ends a connection.
func (e *Ethereum) Close() {
	e.c.Close()
}

// Name returns the name of an ERC20 token.
func (e *Ethereum) Name(ctx context.Context, token string) (string, error) {
	out, err := e.call(ctx, erc20ABI, token, "name")
	if err != nil {
		return "", err
	}

	name, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("ethereum: name of %s is %T: %w", token, out[0], types.ErrParse)
	}

	return name, nil
}

// Decimals returns the decimals of an ERC20 token.
func (e *Ethereum) Decimals(ctx context.Context, token string) (uint8, error) {
	out, err := e.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}

	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("ethereum: decimals of %s is %T: %w", token, out[0], types.ErrParse)
	}

	return dec, nil
}

// BalanceOf returns the raw token balance of wallet, in the token's smallest unit.
func (e *Ethereum) BalanceOf(ctx context.Context, token, wallet string) (*big.Int, error) {
	owner, err := address(wallet)
	if err != nil {
		return nil, err
	}

	out, err := e.call(ctx, erc20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}

	return bigOut(out, 0, "balanceOf")
}

// V2Reserves returns the reserves of a two-asset pool in storage order (token0, token1).
func (e *Ethereum) V2Reserves(ctx context.Context, pool string) (reserve0, reserve1 *big.Int, err error) {
	out, err := e.call(ctx, pairABI, pool, "getReserves")
	if err != nil {
		return nil, nil, err
	}

	if reserve0, err = bigOut(out, 0, "reserve0"); err != nil {
		return nil, nil, err
	}

	if reserve1, err = bigOut(out, 1, "reserve1"); err != nil {
		return nil, nil, err
	}

	return reserve0, reserve1, nil
}

// V3Quote asks a quoter how much of tokenOut a swap of amountIn tokenIn would return through the pool with the given
// fee tier. No sqrt price limit is applied.
func (e *Ethereum) V3Quote(ctx context.Context, quoter, tokenIn, tokenOut string, fee uint32,
	amountIn *big.Int) (*big.Int, error) {
	in, err := address(tokenIn)
	if err != nil {
		return nil, err
	}

	out, err := address(tokenOut)
	if err != nil {
		return nil, err
	}

	if fee > maxFee {
		return nil, fmt.Errorf("ethereum: fee %d: %w", fee, types.ErrOverflow)
	}

	res, err := e.call(ctx, quoterABI, quoter, "quoteExactInputSingle",
		in, out, new(big.Int).SetUint64(uint64(fee)), amountIn, new(big.Int))
	if err != nil {
		return nil, err
	}

	return bigOut(res, 0, "amountOut")
}

// call packs method and args, runs an eth_call against the contract at 'to' on the latest block and unpacks the
// result.
func (e *Ethereum) call(ctx context.Context, def abi.ABI, to, method string, args ...interface{}) ([]interface{}, error) {
	contract, err := address(to)
	if err != nil {
		return nil, err
	}

	data, err := def.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ethereum: pack %s: %v: %w", method, err, types.ErrParse)
	}

	raw, err := e.c.CallContract(ctx, geth.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ethereum: %s on %s: %v: %w", method, to, err, types.ErrProvider)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("ethereum: %s on %s: %v: %w", method, to, types.ErrNoResult, types.ErrParse)
	}

	out, err := def.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("ethereum: unpack %s from %s: %v: %w", method, to, err, types.ErrParse)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("ethereum: %s on %s: %v: %w", method, to, types.ErrNoResult, types.ErrParse)
	}

	return out, nil
}

func address(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("ethereum: %s: %v: %w", s, types.ErrBadAddress, types.ErrParse)
	}

	return common.HexToAddress(s), nil
}

func bigOut(out []interface{}, i int, field string) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("ethereum: %s missing: %w", field, types.ErrParse)
	}

	n, ok := out[i].(*big.Int)
	if !ok || n == nil {
		return nil, fmt.Errorf("ethereum: %s is %T: %w", field, out[i], types.ErrParse)
	}

	if n.Sign() < 0 {
		return nil, fmt.Errorf("ethereum: %s is negative: %w", field, types.ErrParse)
	}

	return n, nil
}
