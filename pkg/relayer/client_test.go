package relayer

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/hashlocklabs/slicefill/pkg/order"
)

func testDescriptor(t *testing.T) *order.Descriptor {
	t.Helper()
	pred, err := order.EncodePredicate(common.HexToHash("0x01"), big.NewInt(20))
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}
	d, err := order.Build(order.BuildParams{
		Maker:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Receiver:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		MakerAsset:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		TakerAsset:   common.HexToAddress("0x4444444444444444444444444444444444444444"),
		MakingAmount: big.NewInt(100),
		TakingAmount: big.NewInt(100),
		Expiration:   time.Now().Add(time.Hour),
		Predicate:    pred,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return d
}

func TestSubmitPostsSignedOrder(t *testing.T) {
	d := testDescriptor(t)
	sig := make([]byte, 65)
	sig[64] = 27

	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Errorf("path = %s, want /orders", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Ack{Success: true, OrderHash: "0xbeef"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop().Sugar())
	ack, err := client.Submit(context.Background(), d, sig)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.OrderHash != "0xbeef" {
		t.Errorf("order hash = %s, want 0xbeef", ack.OrderHash)
	}

	if got.Order.Maker != d.Maker.Hex() {
		t.Errorf("maker = %s, want %s", got.Order.Maker, d.Maker.Hex())
	}
	if got.Order.MakingAmount != "100" || got.Order.TakingAmount != "100" {
		t.Errorf("amounts = %s/%s, want 100/100", got.Order.MakingAmount, got.Order.TakingAmount)
	}
	if !strings.HasPrefix(got.Order.MakerTraits, "0x") {
		t.Errorf("maker traits not hex encoded: %s", got.Order.MakerTraits)
	}
	if !strings.HasPrefix(got.Order.Extension, "0x") || len(got.Order.Extension) != 2+2*len(d.Extension) {
		t.Errorf("extension not hex encoded: %s", got.Order.Extension)
	}
	if len(got.Signature) != 2+2*65 {
		t.Errorf("signature length = %d", len(got.Signature))
	}
}

func TestSubmitRejectedAckIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Ack{Success: false, ErrorMsg: "predicate reverted"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop().Sugar())
	_, err := client.Submit(context.Background(), testDescriptor(t), make([]byte, 65))
	if err == nil {
		t.Fatal("expected error for rejected ack")
	}
	if !strings.Contains(err.Error(), "predicate reverted") {
		t.Errorf("error does not carry the rejection reason: %v", err)
	}
}

func TestSubmitHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop().Sugar())
	_, err := client.Submit(context.Background(), testDescriptor(t), make([]byte, 65))
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error does not carry the status: %v", err)
	}
}

func TestCancel(t *testing.T) {
	orderID := common.HexToHash("0xabcd")

	var got cancelRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/cancel" {
			t.Errorf("path = %s, want /orders/cancel", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Ack{Success: true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop().Sugar())
	if err := client.Cancel(context.Background(), orderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.OrderID != orderID.Hex() {
		t.Errorf("order id = %s, want %s", got.OrderID, orderID.Hex())
	}
}

func TestCancelRejectedAckIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Ack{Success: false, ErrorMsg: "unknown order"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop().Sugar())
	if err := client.Cancel(context.Background(), common.HexToHash("0x01")); err == nil {
		t.Fatal("expected error for rejected cancel")
	}
}
