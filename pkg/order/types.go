package order

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle state of one tracked order. Transitions are owned
// exclusively by the coordinator.
type State uint8

const (
	Created State = iota
	Locking
	OrderPosted
	Streaming
	Completing
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Locking:
		return "locking"
	case OrderPosted:
		return "order_posted"
	case Streaming:
		return "streaming"
	case Completing:
		return "completing"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Descriptor is a canonical, partially-fillable, predicate-gated order.
// MakerTraits packs fill permissions, expiration and nonce; Extension
// carries the opaque guard calldata evaluated on every fill attempt.
type Descriptor struct {
	Salt         *big.Int
	Maker        common.Address
	Receiver     common.Address
	MakerAsset   common.Address
	TakerAsset   common.Address
	MakingAmount *big.Int
	TakingAmount *big.Int
	MakerTraits  *big.Int
	Extension    []byte
}

// FillEvent is one partial-fill notification from the feed. Ordering is
// feed-delivery order, not ledger order; duplicates must be tolerated by
// the consumer.
type FillEvent struct {
	OrderID      common.Hash `json:"orderId"`
	FilledAmount *big.Int    `json:"filledAmount"`
	Timestamp    time.Time   `json:"timestamp"`
}
