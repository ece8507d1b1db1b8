package order

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashlocklabs/slicefill/pkg/crypto"
)

func testSigner() *TypedDataSigner {
	return NewTypedDataSigner(SettlementDomain(
		big.NewInt(1337),
		common.HexToAddress("0x5555555555555555555555555555555555555555"),
	))
}

func TestHashDeterministic(t *testing.T) {
	d, err := Build(validParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ts := testSigner()
	h1, err := ts.Hash(d)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := ts.Hash(d)
	if h1 != h2 {
		t.Error("same descriptor hashed to different digests")
	}
}

func TestHashBindsDescriptorFields(t *testing.T) {
	ts := testSigner()
	d1, _ := Build(validParams())
	h1, _ := ts.Hash(d1)

	// A different salt must move the digest: the digest is the canonical
	// order identifier and two orders must never collide.
	d2 := *d1
	d2.Salt = new(big.Int).Add(d1.Salt, big.NewInt(1))
	h2, _ := ts.Hash(&d2)
	if h1 == h2 {
		t.Error("digest did not change with salt")
	}

	d3 := *d1
	d3.Extension = append([]byte(nil), d1.Extension...)
	d3.Extension[len(d3.Extension)-1] ^= 0x01
	h3, _ := ts.Hash(&d3)
	if h1 == h3 {
		t.Error("digest did not change with predicate extension")
	}
}

func TestHashBindsDomain(t *testing.T) {
	d, _ := Build(validParams())

	h1, _ := testSigner().Hash(d)
	other := NewTypedDataSigner(SettlementDomain(
		big.NewInt(1),
		common.HexToAddress("0x5555555555555555555555555555555555555555"),
	))
	h2, _ := other.Hash(d)
	if h1 == h2 {
		t.Error("digest did not change with chain id")
	}
}

func TestSignAndRecoverDescriptor(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	d, _ := Build(validParams())
	ts := testSigner()

	sig, digest, err := ts.Sign(signer, d)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Errorf("signature length = %d, want 65", len(sig))
	}
	if digest == (common.Hash{}) {
		t.Error("zero digest")
	}

	recovered, err := ts.Recover(d, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestSigningJSON(t *testing.T) {
	d, _ := Build(validParams())
	raw, err := testSigner().SigningJSON(d)
	if err != nil {
		t.Fatalf("signing json: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("empty typed data json")
	}
}
