package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// startedTopic is the log topic of WorkflowStarted(bytes32 indexed orderId).
var startedTopic = ethcrypto.Keccak256Hash([]byte("WorkflowStarted(bytes32)"))

// Watcher observes the vault for workflow start events.
type Watcher struct {
	client *ethclient.Client
	vault  common.Address
	log    *zap.SugaredLogger
}

func NewWatcher(client *ethclient.Client, vault common.Address, log *zap.SugaredLogger) *Watcher {
	return &Watcher{client: client, vault: vault, log: log}
}

// SubscribeStarts subscribes by address+topic filter and delivers the order
// identifier of every WorkflowStarted event. The returned channel is closed
// when ctx ends or the subscription fails; the caller decides whether a
// closed channel is fatal.
func (w *Watcher) SubscribeStarts(ctx context.Context) (<-chan common.Hash, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.vault},
		Topics:    [][]common.Hash{{startedTopic}},
	}

	logs := make(chan types.Log, 16)
	sub, err := w.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, err
	}

	out := make(chan common.Hash, 16)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				w.log.Errorw("start_subscription_failed", "err", err)
				return
			case lg := <-logs:
				if lg.Removed || len(lg.Topics) < 2 {
					continue
				}
				select {
				case out <- lg.Topics[1]:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
