package vault

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestGenerateAndReveal(t *testing.T) {
	v := New()
	orderID := common.HexToHash("0x01")

	lock, err := v.Generate(orderID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if lock == (common.Hash{}) {
		t.Fatal("zero hash lock")
	}

	secret, err := v.Reveal(orderID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if HashLock(secret) != lock {
		t.Errorf("hash lock mismatch: H(secret)=%s lock=%s", HashLock(secret).Hex(), lock.Hex())
	}
}

func TestRevealAtMostOnce(t *testing.T) {
	v := New()
	orderID := common.HexToHash("0x02")

	if _, err := v.Generate(orderID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := v.Reveal(orderID); err != nil {
		t.Fatalf("first reveal: %v", err)
	}

	_, err := v.Reveal(orderID)
	if !errors.Is(err, ErrAlreadyRevealed) {
		t.Errorf("second reveal: got %v, want ErrAlreadyRevealed", err)
	}
}

func TestRevealUnknownOrder(t *testing.T) {
	v := New()
	_, err := v.Reveal(common.HexToHash("0x99"))
	if !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("got %v, want ErrUnknownOrder", err)
	}
}

func TestGenerateTwiceRejected(t *testing.T) {
	v := New()
	orderID := common.HexToHash("0x03")

	if _, err := v.Generate(orderID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := v.Generate(orderID); err == nil {
		t.Error("second generate should fail: it would invalidate the on-chain lock")
	}
}

func TestDropForgetsSecret(t *testing.T) {
	v := New()
	orderID := common.HexToHash("0x04")

	if _, err := v.Generate(orderID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	v.Drop(orderID)

	if _, err := v.Reveal(orderID); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("reveal after drop: got %v, want ErrUnknownOrder", err)
	}
}

func TestSecretsAreUnique(t *testing.T) {
	v := New()
	a, _ := v.Generate(common.HexToHash("0x0a"))
	b, _ := v.Generate(common.HexToHash("0x0b"))
	if a == b {
		t.Error("two orders produced the same hash lock")
	}
}
