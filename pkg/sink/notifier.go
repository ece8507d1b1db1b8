package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashlocklabs/slicefill/pkg/order"
)

// Notifier forwards fill notifications to the downstream sink. Delivery is
// best-effort: the caller logs failures and moves on, and must never block
// fill application on this call.
type Notifier struct {
	url  string
	http *http.Client
}

func NewNotifier(url string) *Notifier {
	return &Notifier{
		url:  url,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

type fillNotification struct {
	ID        string    `json:"id"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *Notifier) Notify(ctx context.Context, ev order.FillEvent) error {
	payload, err := json.Marshal(fillNotification{
		ID:        ev.OrderID.Hex(),
		Amount:    ev.FilledAmount.String(),
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal fill notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url+"/fill", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("post fill notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("fill notification rejected: status %d", resp.StatusCode)
	}
	return nil
}
