package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const aggregatorABI = `[
	{"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}]}
]`

// Oracle reads the price-feed health indicator from an aggregator contract.
type Oracle struct {
	client  *ethclient.Client
	abi     abi.ABI
	address common.Address
}

func NewOracle(client *ethclient.Client, address common.Address) (*Oracle, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	return &Oracle{client: client, abi: parsed, address: address}, nil
}

// LatestHealth returns the answeredInRound counter of the latest round.
// A value of exactly zero means the feed is stale.
func (o *Oracle) LatestHealth(ctx context.Context) (*big.Int, error) {
	data, err := o.abi.Pack("latestRoundData")
	if err != nil {
		return nil, fmt.Errorf("pack latestRoundData: %w", err)
	}
	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &o.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call latestRoundData: %w", err)
	}
	vals, err := o.abi.Unpack("latestRoundData", out)
	if err != nil || len(vals) != 5 {
		return nil, fmt.Errorf("unpack latestRoundData: %w", err)
	}
	return vals[4].(*big.Int), nil
}
