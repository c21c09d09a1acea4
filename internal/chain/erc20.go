package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

func erc20Instance() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// BalanceOf reads an ERC20 balance in raw token units. A nil blockNumber reads
// the latest state.
func BalanceOf(ctx context.Context, caller Caller, token, owner common.Address, blockNumber *big.Int) (*big.Int, error) {
	values, err := call(ctx, caller, token, blockNumber, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf unexpected type %T", values[0])
	}
	return bal, nil
}

// Decimals reads the token's decimals.
func Decimals(ctx context.Context, caller Caller, token common.Address) (uint8, error) {
	values, err := call(ctx, caller, token, nil, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals unexpected type %T", values[0])
	}
	return decimals, nil
}

func call(ctx context.Context, caller Caller, token common.Address, blockNumber *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	erc20, err := erc20Instance()
	if err != nil {
		return nil, err
	}

	data, err := erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &token, Data: data}
	resp, err := caller.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := erc20.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s return size %d", method, len(values))
	}
	return values, nil
}
