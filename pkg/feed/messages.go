package feed

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashlocklabs/slicefill/pkg/order"
)

// EventType tags feed messages. Only FILL is consumed today; unknown tags
// fail closed rather than being silently ignored.
type EventType string

const EventFill EventType = "FILL"

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// controlMessage is the client→server subscribe/unsubscribe frame.
type controlMessage struct {
	Action     string      `json:"action"`
	EventTypes []EventType `json:"eventTypes"`
	OrderIDs   []string    `json:"orderIds"`
}

// envelope is the server→client frame. Fields beyond eventType are only
// meaningful for the tag they belong to.
type envelope struct {
	EventType    EventType   `json:"eventType"`
	OrderID      string      `json:"orderId"`
	FilledAmount json.Number `json:"filledAmount"`
	Timestamp    int64       `json:"timestamp"`
}

// decodeFill parses a feed frame into a FillEvent. Frames carrying an
// unknown event type or a malformed amount are an error.
func decodeFill(raw []byte, received time.Time) (order.FillEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return order.FillEvent{}, fmt.Errorf("malformed feed frame: %w", err)
	}

	switch env.EventType {
	case EventFill:
	default:
		return order.FillEvent{}, fmt.Errorf("unknown feed event type %q", env.EventType)
	}

	amount, ok := new(big.Int).SetString(env.FilledAmount.String(), 10)
	if !ok || amount.Sign() <= 0 {
		return order.FillEvent{}, fmt.Errorf("bad fill amount %q", env.FilledAmount)
	}

	ts := received
	if env.Timestamp > 0 {
		ts = time.UnixMilli(env.Timestamp)
	}

	return order.FillEvent{
		OrderID:      common.HexToHash(env.OrderID),
		FilledAmount: amount,
		Timestamp:    ts,
	}, nil
}
