package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/hashlocklabs/slicefill/pkg/crypto"
)

// vaultABI covers the surface of the on-chain vault this service talks to:
// the workflow start event, the schedule parameter read, and the three
// writes that lock funds, begin the fill schedule, and reveal the secret.
const vaultABI = `[
	{"type":"event","name":"WorkflowStarted","anonymous":false,"inputs":[
		{"name":"orderId","type":"bytes32","indexed":true}]},
	{"type":"function","name":"scheduleParamsOf","stateMutability":"view","inputs":[
		{"name":"orderId","type":"bytes32"}],"outputs":[
		{"name":"sliceSize","type":"uint256"},
		{"name":"totalAmount","type":"uint256"},
		{"name":"startTime","type":"uint256"},
		{"name":"deltaTime","type":"uint256"}]},
	{"type":"function","name":"lockFunds","stateMutability":"nonpayable","inputs":[
		{"name":"hashLock","type":"bytes32"},
		{"name":"refundTime","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"beginSchedule","stateMutability":"nonpayable","inputs":[
		{"name":"orderId","type":"bytes32"},
		{"name":"duration","type":"uint256"},
		{"name":"sliceSize","type":"uint256"},
		{"name":"deltaTime","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"revealSecret","stateMutability":"nonpayable","inputs":[
		{"name":"secret","type":"bytes32"}],"outputs":[]}
]`

// txGasLimit is a fixed budget for vault writes. Fee estimation is out of
// scope for this service.
const txGasLimit = 300_000

// ScheduleParams are the deterministic slice-schedule parameters fixed at
// order creation, read once from the vault.
type ScheduleParams struct {
	SliceSize   *big.Int
	TotalAmount *big.Int
	StartTime   uint64
	DeltaTime   uint64
}

// NumSlices returns how many slices the schedule spans, rounding up.
func (p ScheduleParams) NumSlices() uint64 {
	if p.SliceSize == nil || p.SliceSize.Sign() <= 0 {
		return 0
	}
	n := new(big.Int).Add(p.TotalAmount, new(big.Int).Sub(p.SliceSize, big.NewInt(1)))
	return n.Div(n, p.SliceSize).Uint64()
}

// Vault wraps the on-chain vault contract. Writes are signed locally,
// submitted, and awaited until mined.
type Vault struct {
	client         *ethclient.Client
	abi            abi.ABI
	address        common.Address
	signer         *crypto.Signer
	chainID        *big.Int
	confirmTimeout time.Duration
	log            *zap.SugaredLogger
}

func NewVault(client *ethclient.Client, address common.Address, signer *crypto.Signer, chainID *big.Int, confirmTimeout time.Duration, log *zap.SugaredLogger) (*Vault, error) {
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Vault{
		client:         client,
		abi:            parsed,
		address:        address,
		signer:         signer,
		chainID:        chainID,
		confirmTimeout: confirmTimeout,
		log:            log,
	}, nil
}

// ScheduleParamsOf reads the schedule parameters for orderID. A plain
// eth_call; safe to retry, kept to a single attempt by the caller.
func (v *Vault) ScheduleParamsOf(ctx context.Context, orderID common.Hash) (ScheduleParams, error) {
	data, err := v.abi.Pack("scheduleParamsOf", orderID)
	if err != nil {
		return ScheduleParams{}, fmt.Errorf("pack scheduleParamsOf: %w", err)
	}
	out, err := v.client.CallContract(ctx, ethereum.CallMsg{To: &v.address, Data: data}, nil)
	if err != nil {
		return ScheduleParams{}, fmt.Errorf("call scheduleParamsOf: %w", err)
	}
	vals, err := v.abi.Unpack("scheduleParamsOf", out)
	if err != nil || len(vals) != 4 {
		return ScheduleParams{}, fmt.Errorf("unpack scheduleParamsOf: %w", err)
	}

	params := ScheduleParams{
		SliceSize:   vals[0].(*big.Int),
		TotalAmount: vals[1].(*big.Int),
		StartTime:   vals[2].(*big.Int).Uint64(),
		DeltaTime:   vals[3].(*big.Int).Uint64(),
	}
	if params.SliceSize.Sign() <= 0 || params.TotalAmount.Sign() <= 0 {
		return ScheduleParams{}, fmt.Errorf("vault returned empty schedule for %s", orderID.Hex())
	}
	return params, nil
}

// LockFunds places the hash-time lock on the vault's funds and waits for
// the transaction to be mined.
func (v *Vault) LockFunds(ctx context.Context, hashLock common.Hash, refundTime uint64) error {
	return v.transact(ctx, "lockFunds", hashLock, new(big.Int).SetUint64(refundTime))
}

// BeginSchedule records on-chain that the fill schedule has started.
// The vault re-emits WorkflowStarted for this order; the coordinator
// ignores the duplicate.
func (v *Vault) BeginSchedule(ctx context.Context, orderID common.Hash, duration, sliceSize, deltaTime *big.Int) error {
	return v.transact(ctx, "beginSchedule", orderID, duration, sliceSize, deltaTime)
}

// RevealSecret discloses the lock secret on-chain, releasing the funds.
func (v *Vault) RevealSecret(ctx context.Context, secret [32]byte) error {
	return v.transact(ctx, "revealSecret", secret)
}

func (v *Vault) transact(ctx context.Context, method string, args ...interface{}) error {
	data, err := v.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	from := v.signer.Address()
	nonce, err := v.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := v.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, v.address, big.NewInt(0), txGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(v.chainID), v.signer.PrivateKey())
	if err != nil {
		return fmt.Errorf("sign %s tx: %w", method, err)
	}
	if err := v.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send %s tx: %w", method, err)
	}

	v.log.Infow("tx_submitted", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)

	waitCtx, cancel := context.WithTimeout(ctx, v.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, v.client, signed)
	if err != nil {
		return fmt.Errorf("wait %s tx: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s tx %s reverted", method, signed.Hash().Hex())
	}

	v.log.Infow("tx_confirmed", "method", method, "tx", signed.Hash().Hex(), "block", receipt.BlockNumber)
	return nil
}
