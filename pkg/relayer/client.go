package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/hashlocklabs/slicefill/pkg/order"
)

// Client talks to the order-matching service. Submit failure is fatal to an
// order's lifecycle; cancel is expected to be invoked redundantly and the
// service idempotent on an already-cancelled order.
type Client struct {
	base string
	http *http.Client
	log  *zap.SugaredLogger
}

func NewClient(base string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Ack is the matching service's response to a submission.
type Ack struct {
	Success   bool   `json:"success"`
	OrderHash string `json:"orderHash"`
	ErrorMsg  string `json:"errorMsg"`
}

type orderJSON struct {
	Salt         string `json:"salt"`
	Maker        string `json:"maker"`
	Receiver     string `json:"receiver"`
	MakerAsset   string `json:"makerAsset"`
	TakerAsset   string `json:"takerAsset"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	MakerTraits  string `json:"makerTraits"`
	Extension    string `json:"extension"`
}

type submitRequest struct {
	Order     orderJSON `json:"order"`
	Signature string    `json:"signature"`
}

type cancelRequest struct {
	OrderID string `json:"orderId"`
}

// Submit posts a signed order. A transport error or a non-success ack is
// returned as an error.
func (c *Client) Submit(ctx context.Context, d *order.Descriptor, sig []byte) (Ack, error) {
	req := submitRequest{
		Order: orderJSON{
			Salt:         d.Salt.String(),
			Maker:        d.Maker.Hex(),
			Receiver:     d.Receiver.Hex(),
			MakerAsset:   d.MakerAsset.Hex(),
			TakerAsset:   d.TakerAsset.Hex(),
			MakingAmount: d.MakingAmount.String(),
			TakingAmount: d.TakingAmount.String(),
			MakerTraits:  "0x" + d.MakerTraits.Text(16),
			Extension:    hexutil.Encode(d.Extension),
		},
		Signature: hexutil.Encode(sig),
	}

	var ack Ack
	if err := c.post(ctx, "/orders", req, &ack); err != nil {
		return Ack{}, fmt.Errorf("submit order: %w", err)
	}
	if !ack.Success {
		return ack, fmt.Errorf("submit order rejected: %s", ack.ErrorMsg)
	}
	return ack, nil
}

// Cancel requests cancellation of a resting order. Callers treat failures
// as best-effort; the service is idempotent on already-cancelled orders.
func (c *Client) Cancel(ctx context.Context, orderID common.Hash) error {
	var ack Ack
	if err := c.post(ctx, "/orders/cancel", cancelRequest{OrderID: orderID.Hex()}, &ack); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("cancel order rejected: %s", ack.ErrorMsg)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
