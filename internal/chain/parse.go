package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseHash converts a 32 byte hex string into common.Hash. An empty input is
// the zero hash.
func ParseHash(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Hash{}, nil
	}
	data, err := hexutil.Decode(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash: %s", input)
	}
	if len(data) != 32 {
		return common.Hash{}, fmt.Errorf("invalid hash length: %s", input)
	}
	return common.BytesToHash(data), nil
}
