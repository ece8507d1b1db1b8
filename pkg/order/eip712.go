package order

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/hashlocklabs/slicefill/pkg/crypto"
)

// Domain is the EIP-712 domain separator for order signing. It binds
// signatures to one chain and one settlement contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// SettlementDomain returns the domain for the sliced-order settlement
// contract the relayer submits against.
func SettlementDomain(chainID *big.Int, settlement common.Address) Domain {
	return Domain{
		Name:              "Sliced Order Settlement",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: settlement,
	}
}

// TypedDataSigner hashes and signs order descriptors as EIP-712 typed data.
type TypedDataSigner struct {
	domain Domain
}

func NewTypedDataSigner(domain Domain) *TypedDataSigner {
	return &TypedDataSigner{domain: domain}
}

func (t *TypedDataSigner) typedData(d *Descriptor) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "receiver", Type: "address"},
				{Name: "makerAsset", Type: "address"},
				{Name: "takerAsset", Type: "address"},
				{Name: "makingAmount", Type: "uint256"},
				{Name: "takingAmount", Type: "uint256"},
				{Name: "makerTraits", Type: "uint256"},
				{Name: "extension", Type: "bytes"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              t.domain.Name,
			Version:           t.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(t.domain.ChainID),
			VerifyingContract: t.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":         d.Salt.String(),
			"maker":        d.Maker.Hex(),
			"receiver":     d.Receiver.Hex(),
			"makerAsset":   d.MakerAsset.Hex(),
			"takerAsset":   d.TakerAsset.Hex(),
			"makingAmount": d.MakingAmount.String(),
			"takingAmount": d.TakingAmount.String(),
			"makerTraits":  d.MakerTraits.String(),
			"extension":    hexutil.Encode(d.Extension),
		},
	}
}

// Hash computes the EIP-712 digest of a descriptor. The digest doubles as
// the canonical order hash the relayer keys cancellations on.
func (t *TypedDataSigner) Hash(d *Descriptor) (common.Hash, error) {
	typedData := t.typedData(d)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash order: %w", err)
	}

	// digest = keccak256("\x19\x01" || domainSeparator || structHash)
	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return ethcrypto.Keccak256Hash(raw), nil
}

// Sign returns the 65-byte signature over the descriptor digest plus the
// digest itself.
func (t *TypedDataSigner) Sign(signer *crypto.Signer, d *Descriptor) ([]byte, common.Hash, error) {
	digest, err := t.Hash(d)
	if err != nil {
		return nil, common.Hash{}, err
	}
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("sign order: %w", err)
	}
	return sig, digest, nil
}

// Recover returns the address that signed the descriptor.
func (t *TypedDataSigner) Recover(d *Descriptor, sig []byte) (common.Address, error) {
	digest, err := t.Hash(d)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.RecoverAddress(digest.Bytes(), sig)
}

// SigningJSON renders the typed data in the eth_signTypedData_v4 shape for
// external wallets or debugging.
func (t *TypedDataSigner) SigningJSON(d *Descriptor) ([]byte, error) {
	return json.MarshalIndent(t.typedData(d), "", "  ")
}
