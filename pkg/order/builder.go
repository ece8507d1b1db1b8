package order

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Maker-traits bit layout. A uint256 packs the fill permissions plus the
// expiration and nonce windows:
//
//	bit 255          NO_PARTIAL_FILLS   (must stay clear for sliced orders)
//	bit 254          ALLOW_MULTIPLE_FILLS
//	bit 249          HAS_EXTENSION
//	bits 80..119     expiration (unix seconds, 40 bits)
//	bits 120..159    nonce (40 bits)
const (
	noPartialFillsBit     = 255
	allowMultipleFillsBit = 254
	hasExtensionBit       = 249
	expirationOffset      = 80
	nonceOffset           = 120
)

var (
	ErrZeroAmount  = errors.New("order amount must be positive")
	ErrZeroAsset   = errors.New("asset address must not be zero")
	ErrPastExpiry  = errors.New("expiration must be in the future")
	ErrNoPredicate = errors.New("predicate calldata must not be empty")
)

// BuildParams are the inputs to Build. SliceSize is only consumed by
// EncodePredicate; it is listed here so callers validate it in one place.
type BuildParams struct {
	Maker        common.Address
	Receiver     common.Address
	MakerAsset   common.Address
	TakerAsset   common.Address
	MakingAmount *big.Int
	TakingAmount *big.Int
	Expiration   time.Time
	Predicate    []byte
}

// Build assembles a partially-fillable order descriptor. Construction is
// pure; malformed inputs are rejected here, before any network call.
func Build(p BuildParams) (*Descriptor, error) {
	if p.MakingAmount == nil || p.MakingAmount.Sign() <= 0 {
		return nil, fmt.Errorf("making amount: %w", ErrZeroAmount)
	}
	if p.TakingAmount == nil || p.TakingAmount.Sign() <= 0 {
		return nil, fmt.Errorf("taking amount: %w", ErrZeroAmount)
	}
	if p.MakerAsset == (common.Address{}) || p.TakerAsset == (common.Address{}) {
		return nil, ErrZeroAsset
	}
	if !p.Expiration.After(time.Now()) {
		return nil, ErrPastExpiry
	}
	if len(p.Predicate) == 0 {
		return nil, ErrNoPredicate
	}

	nonce, err := randomUint40()
	if err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}
	salt, err := randomSalt()
	if err != nil {
		return nil, fmt.Errorf("draw salt: %w", err)
	}

	return &Descriptor{
		Salt:         salt,
		Maker:        p.Maker,
		Receiver:     p.Receiver,
		MakerAsset:   p.MakerAsset,
		TakerAsset:   p.TakerAsset,
		MakingAmount: new(big.Int).Set(p.MakingAmount),
		TakingAmount: new(big.Int).Set(p.TakingAmount),
		MakerTraits:  buildTraits(uint64(p.Expiration.Unix()), nonce, true),
		Extension:    append([]byte(nil), p.Predicate...),
	}, nil
}

// EncodePredicate produces the guard calldata carried in the extension:
// the 4-byte selector of isValidFill(bytes32,uint256) followed by the
// ABI-encoded order identifier and slice size.
func EncodePredicate(orderID common.Hash, sliceSize *big.Int) ([]byte, error) {
	if sliceSize == nil || sliceSize.Sign() <= 0 {
		return nil, fmt.Errorf("slice size: %w", ErrZeroAmount)
	}

	selector := crypto.Keccak256([]byte("isValidFill(bytes32,uint256)"))[:4]
	calldata := make([]byte, 0, 4+64)
	calldata = append(calldata, selector...)
	calldata = append(calldata, orderID.Bytes()...)
	calldata = append(calldata, common.LeftPadBytes(sliceSize.Bytes(), 32)...)
	return calldata, nil
}

func buildTraits(expiration, nonce uint64, hasExtension bool) *big.Int {
	traits := new(big.Int)
	// bit 255 stays clear: partial fills allowed.
	traits.SetBit(traits, allowMultipleFillsBit, 1)
	if hasExtension {
		traits.SetBit(traits, hasExtensionBit, 1)
	}

	exp := new(big.Int).SetUint64(expiration & (1<<40 - 1))
	traits.Or(traits, exp.Lsh(exp, expirationOffset))

	n := new(big.Int).SetUint64(nonce & (1<<40 - 1))
	traits.Or(traits, n.Lsh(n, nonceOffset))

	return traits
}

// TraitsAllowPartialFill reports whether the NO_PARTIAL_FILLS flag is clear.
func TraitsAllowPartialFill(traits *big.Int) bool {
	return traits.Bit(noPartialFillsBit) == 0
}

// TraitsAllowMultipleFills reports whether the ALLOW_MULTIPLE_FILLS flag is set.
func TraitsAllowMultipleFills(traits *big.Int) bool {
	return traits.Bit(allowMultipleFillsBit) == 1
}

// TraitsExpiration unpacks the 40-bit expiration window.
func TraitsExpiration(traits *big.Int) uint64 {
	exp := new(big.Int).Rsh(traits, expirationOffset)
	return exp.Uint64() & (1<<40 - 1)
}

// TraitsNonce unpacks the 40-bit nonce window.
func TraitsNonce(traits *big.Int) uint64 {
	n := new(big.Int).Rsh(traits, nonceOffset)
	return n.Uint64() & (1<<40 - 1)
}

func randomUint40() (uint64, error) {
	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	var n uint64
	for _, b := range buf {
		n = n<<8 | uint64(b)
	}
	return n, nil
}

func randomSalt() (*big.Int, error) {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf[:]), nil
}
