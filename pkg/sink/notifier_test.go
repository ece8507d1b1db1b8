package sink

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashlocklabs/slicefill/pkg/order"
)

func TestNotifyPostsFill(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123).UTC()
	ev := order.FillEvent{
		OrderID:      common.HexToHash("0xabcd"),
		FilledAmount: big.NewInt(20),
		Timestamp:    ts,
	}

	var got fillNotification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fill" {
			t.Errorf("path = %s, want /fill", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewNotifier(srv.URL).Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.ID != ev.OrderID.Hex() {
		t.Errorf("id = %s, want %s", got.ID, ev.OrderID.Hex())
	}
	if got.Amount != "20" {
		t.Errorf("amount = %s, want 20", got.Amount)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestNotifyRejectedStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "full", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	ev := order.FillEvent{
		OrderID:      common.HexToHash("0x01"),
		FilledAmount: big.NewInt(1),
		Timestamp:    time.Now(),
	}
	if err := NewNotifier(srv.URL).Notify(context.Background(), ev); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestNotifyUnreachableSink(t *testing.T) {
	ev := order.FillEvent{
		OrderID:      common.HexToHash("0x01"),
		FilledAmount: big.NewInt(1),
		Timestamp:    time.Now(),
	}
	if err := NewNotifier("http://127.0.0.1:1").Notify(context.Background(), ev); err == nil {
		t.Fatal("expected error for unreachable sink")
	}
}
