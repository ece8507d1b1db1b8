package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	ErrAlreadyRevealed = errors.New("secret already revealed")
	ErrUnknownOrder    = errors.New("no secret for order")
)

// Vault holds the one-time secrets backing each order's hash lock.
// A secret is generated once per order, never transmitted, and released
// exactly once. Access is guarded because fill callbacks, the watchdog and
// the lifecycle goroutines all reach the vault.
type Vault struct {
	mu      sync.Mutex
	secrets map[common.Hash]*entry
}

type entry struct {
	secret   [32]byte
	revealed bool
}

func New() *Vault {
	return &Vault{secrets: make(map[common.Hash]*entry)}
}

// Generate draws a fresh 32-byte secret for orderID and returns its
// Keccak-256 commitment. Generating twice for the same order is an error:
// a second secret would invalidate the lock already placed on-chain.
func (v *Vault) Generate(orderID common.Hash) (common.Hash, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.secrets[orderID]; ok {
		return common.Hash{}, fmt.Errorf("secret for order %s already exists", orderID.Hex())
	}

	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return common.Hash{}, fmt.Errorf("draw secret: %w", err)
	}

	v.secrets[orderID] = &entry{secret: secret}
	return hashLock(secret), nil
}

// Reveal releases the secret for orderID at most once. The caller is
// responsible for only invoking this once every slice has been filled.
func (v *Vault) Reveal(orderID common.Hash) ([32]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.secrets[orderID]
	if !ok {
		return [32]byte{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID.Hex())
	}
	if e.revealed {
		return [32]byte{}, fmt.Errorf("%w: %s", ErrAlreadyRevealed, orderID.Hex())
	}
	e.revealed = true
	return e.secret, nil
}

// Drop forgets the secret for orderID without revealing it. Used on
// cancellation, where incomplete slices must not unlock funds.
func (v *Vault) Drop(orderID common.Hash) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.secrets, orderID)
}

// HashLock recomputes the commitment for a known secret.
func HashLock(secret [32]byte) common.Hash {
	return hashLock(secret)
}

func hashLock(secret [32]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(secret[:])
	return common.BytesToHash(h.Sum(nil))
}
