package coordinator

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/hashlocklabs/slicefill/pkg/crypto"
	"github.com/hashlocklabs/slicefill/pkg/ledger"
	"github.com/hashlocklabs/slicefill/pkg/order"
	"github.com/hashlocklabs/slicefill/pkg/relayer"
	"github.com/hashlocklabs/slicefill/pkg/storage"
)

// Ledger is the on-chain surface the coordinator drives. Implemented by
// ledger.Vault; faked in tests.
type Ledger interface {
	ScheduleParamsOf(ctx context.Context, orderID common.Hash) (ledger.ScheduleParams, error)
	LockFunds(ctx context.Context, hashLock common.Hash, refundTime uint64) error
	BeginSchedule(ctx context.Context, orderID common.Hash, duration, sliceSize, deltaTime *big.Int) error
	RevealSecret(ctx context.Context, secret [32]byte) error
}

// Submitter posts and cancels orders at the matching service.
type Submitter interface {
	Submit(ctx context.Context, d *order.Descriptor, sig []byte) (relayer.Ack, error)
	Cancel(ctx context.Context, orderID common.Hash) error
}

// Unsubscriber closes one fill subscription.
type Unsubscriber interface {
	Unsubscribe()
}

// FillFeed opens fill subscriptions. onFill runs in delivery order for one
// order; onStall fires once if the feed is lost for good.
type FillFeed interface {
	Subscribe(ctx context.Context, orderID common.Hash, onFill func(order.FillEvent), onStall func(error)) (Unsubscriber, error)
}

// SecretStore is the hash-lock secret vault.
type SecretStore interface {
	Generate(orderID common.Hash) (common.Hash, error)
	Reveal(orderID common.Hash) ([32]byte, error)
	Drop(orderID common.Hash)
}

// Notifier forwards fill notifications downstream, best-effort.
type Notifier interface {
	Notify(ctx context.Context, ev order.FillEvent) error
}

// Config fixes the descriptor fields shared by every order this service
// posts. Receiver is the vault itself: filled funds settle into the lock.
type Config struct {
	Maker      common.Address
	Receiver   common.Address
	MakerAsset common.Address
	TakerAsset common.Address
	Expiry     time.Duration
	Grace      time.Duration
}

// Coordinator owns per-order state and drives every lifecycle transition.
// One goroutine serializes the ledger-driven steps of each order; fill
// callbacks and the watchdog synchronize on the table mutex. A failure in
// one order never touches the watchdog, the start listener, or any other
// order.
type Coordinator struct {
	cfg      Config
	ledger   Ledger
	secrets  SecretStore
	signer   *crypto.Signer
	typed    *order.TypedDataSigner
	relayer  Submitter
	feed     FillFeed
	notifier Notifier
	journal  storage.Journal
	log      *zap.SugaredLogger

	// ctx bounds side calls (reveal, cancel, notify) issued outside a
	// lifecycle goroutine, e.g. from fill callbacks or the watchdog.
	ctx context.Context

	mu     sync.Mutex
	orders map[common.Hash]*tracked
}

// tracked is the mutable state of one in-flight order. remaining and state
// are only touched under Coordinator.mu; the lifecycle goroutine is the
// sole writer until Streaming, after which fills and the watchdog contend.
type tracked struct {
	id        common.Hash
	params    ledger.ScheduleParams
	total     *big.Int
	remaining *big.Int
	state     order.State
	// restingHash keys cancellations at the matching service: the EIP-712
	// digest of the submitted descriptor.
	restingHash common.Hash
	sub         Unsubscriber
	// terminal marks that a terminal transition has been claimed. Exactly
	// one of completion, cancellation or failure wins.
	terminal bool
}

func New(ctx context.Context, cfg Config, led Ledger, secrets SecretStore, signer *crypto.Signer, typed *order.TypedDataSigner, sub Submitter, feed FillFeed, notifier Notifier, journal storage.Journal, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		ledger:   led,
		secrets:  secrets,
		signer:   signer,
		typed:    typed,
		relayer:  sub,
		feed:     feed,
		notifier: notifier,
		journal:  journal,
		log:      log,
		ctx:      ctx,
		orders:   make(map[common.Hash]*tracked),
	}
}

// HandleStart reacts to one WorkflowStarted signal. A signal for an already
// tracked order is a no-op: beginSchedule re-emits the event, and the start
// listener may deliver duplicates. Processing is at most once per detected
// signal; there is no retry.
func (c *Coordinator) HandleStart(orderID common.Hash) {
	c.mu.Lock()
	if _, ok := c.orders[orderID]; ok {
		c.mu.Unlock()
		c.log.Infow("start_ignored", "order_id", orderID.Hex(), "reason", "already_tracked")
		return
	}
	t := &tracked{id: orderID, state: order.Created}
	c.orders[orderID] = t
	c.mu.Unlock()

	c.journal.Record(orderID, order.Created, "start signal")
	c.log.Infow("order_tracked", "order_id", orderID.Hex())

	go c.runLifecycle(t)
}

func (c *Coordinator) runLifecycle(t *tracked) {
	if err := c.advance(t); err != nil {
		stage := "unknown"
		if le, ok := err.(*LifecycleError); ok {
			stage = le.Stage
		}
		c.log.Errorw("order_failed", "order_id", t.id.Hex(), "stage", stage, "err", err)
		c.fail(t)
	}
}

// advance walks one order from Created to Streaming. Steps for the same
// order are strictly sequential; any error is fatal to this order only.
func (c *Coordinator) advance(t *tracked) error {
	ctx := c.ctx

	// Single parameter read. On failure the order is dropped whole; no
	// partial state is kept.
	params, err := c.ledger.ScheduleParamsOf(ctx, t.id)
	if err != nil {
		return fatal(StageFetchParams, err)
	}

	c.mu.Lock()
	if t.terminal {
		c.mu.Unlock()
		return nil
	}
	t.params = params
	t.total = new(big.Int).Set(params.TotalAmount)
	t.remaining = new(big.Int).Set(params.TotalAmount)
	t.state = order.Locking
	c.mu.Unlock()
	c.journal.Record(t.id, order.Locking, "")

	hashLock, err := c.secrets.Generate(t.id)
	if err != nil {
		return fatal(StageLockFunds, err)
	}
	refundTime := params.StartTime + params.NumSlices()*params.DeltaTime + uint64(c.cfg.Grace/time.Second)
	if err := c.ledger.LockFunds(ctx, hashLock, refundTime); err != nil {
		return fatal(StageLockFunds, err)
	}

	// Only after lock confirmation is the descriptor built and signed.
	predicate, err := order.EncodePredicate(t.id, params.SliceSize)
	if err != nil {
		return fatal(StageBuildOrder, err)
	}
	desc, err := order.Build(order.BuildParams{
		Maker:      c.cfg.Maker,
		Receiver:   c.cfg.Receiver,
		MakerAsset: c.cfg.MakerAsset,
		TakerAsset: c.cfg.TakerAsset,
		// The guard predicate prices each slice at fill time; the
		// descriptor carries the full schedule amount at par.
		MakingAmount: params.TotalAmount,
		TakingAmount: params.TotalAmount,
		Expiration:   time.Now().Add(c.cfg.Expiry),
		Predicate:    predicate,
	})
	if err != nil {
		return fatal(StageBuildOrder, err)
	}
	sig, digest, err := c.typed.Sign(c.signer, desc)
	if err != nil {
		return fatal(StageBuildOrder, err)
	}

	ack, err := c.relayer.Submit(ctx, desc, sig)
	if err != nil {
		return fatal(StageSubmitOrder, err)
	}
	restingHash := digest
	if ack.OrderHash != "" {
		restingHash = common.HexToHash(ack.OrderHash)
	}

	c.mu.Lock()
	if t.terminal {
		c.mu.Unlock()
		return nil
	}
	t.restingHash = restingHash
	t.state = order.OrderPosted
	c.mu.Unlock()
	c.journal.Record(t.id, order.OrderPosted, "")
	c.log.Infow("order_posted", "order_id", t.id.Hex(), "resting_hash", restingHash.Hex())

	numSlices := new(big.Int).SetUint64(params.NumSlices())
	delta := new(big.Int).SetUint64(params.DeltaTime)
	duration := new(big.Int).Mul(numSlices, delta)
	if err := c.ledger.BeginSchedule(ctx, t.id, duration, params.SliceSize, delta); err != nil {
		return fatal(StageBeginSchedule, err)
	}

	sub, err := c.feed.Subscribe(ctx, t.id,
		func(ev order.FillEvent) { c.applyFill(ev) },
		func(err error) { c.stall(t.id, err) },
	)
	if err != nil {
		return fatal(StageSubscribeFeed, err)
	}

	c.mu.Lock()
	if t.terminal {
		c.mu.Unlock()
		go sub.Unsubscribe()
		return nil
	}
	t.sub = sub
	t.state = order.Streaming
	c.mu.Unlock()
	c.journal.Record(t.id, order.Streaming, "")
	c.log.Infow("streaming_fills", "order_id", t.id.Hex(),
		"total", params.TotalAmount.String(), "slice", params.SliceSize.String())
	return nil
}

// applyFill runs on the feed read loop, so fills for one order arrive here
// in delivery order. The remaining-amount check and the claim of the
// completing transition are atomic: a fill and the watchdog can never both
// take this order to a terminal state.
func (c *Coordinator) applyFill(ev order.FillEvent) {
	c.mu.Lock()
	t, ok := c.orders[ev.OrderID]
	if !ok || t.terminal || t.remaining == nil {
		c.mu.Unlock()
		c.log.Debugw("late_fill_ignored", "order_id", ev.OrderID.Hex())
		return
	}

	t.remaining.Sub(t.remaining, ev.FilledAmount)
	done := t.remaining.Sign() <= 0
	if t.remaining.Sign() < 0 {
		// Over-fill reported by the feed: the feed is authoritative for
		// "done", not for exact amount reconciliation. Clamp.
		c.log.Warnw("overfill_clamped", "order_id", ev.OrderID.Hex(),
			"excess", new(big.Int).Neg(t.remaining).String())
		t.remaining.SetInt64(0)
	}
	if done {
		t.terminal = true
		t.state = order.Completing
	}
	remaining := t.remaining.String()
	c.mu.Unlock()

	c.log.Infow("fill_applied", "order_id", ev.OrderID.Hex(),
		"filled", ev.FilledAmount.String(), "remaining", remaining)

	go c.bestEffort("notify_fill", ev.OrderID, func() error {
		return c.notifier.Notify(c.ctx, ev)
	})

	if done {
		c.complete(t)
	}
}

// complete runs the terminal sequence for a fully filled order: reveal the
// secret, cancel the resting order, close the subscription. All three are
// attempted even if one fails; each failure is logged on its own. There is
// no retry loop here; the watchdog and manual intervention are the
// backstop for partial completion.
func (c *Coordinator) complete(t *tracked) {
	c.journal.Record(t.id, order.Completing, "")
	c.log.Infow("order_completing", "order_id", t.id.Hex())

	secret, err := c.secrets.Reveal(t.id)
	if err != nil {
		c.log.Errorw("secret_reveal_skipped", "order_id", t.id.Hex(), "err", err)
	} else if err := c.ledger.RevealSecret(c.ctx, secret); err != nil {
		c.log.Errorw("secret_reveal_failed", "order_id", t.id.Hex(), "err", err)
	} else {
		c.log.Infow("secret_revealed", "order_id", t.id.Hex())
	}

	c.bestEffort("cancel_resting_order", t.id, func() error {
		return c.relayer.Cancel(c.ctx, t.restingHash)
	})

	if t.sub != nil {
		// Unsubscribe waits for the feed read loop to exit, and completion
		// may be running on it.
		go t.sub.Unsubscribe()
	}

	c.evict(t, order.Completed, "")
}

// CancelAll claims the terminal transition for every live order and cancels
// it at the matching service. No secret is revealed: incomplete slices must
// not unlock funds. Orders already completing are left to finish; exactly
// one terminal action runs per order.
func (c *Coordinator) CancelAll(reason string) {
	c.mu.Lock()
	var victims []*tracked
	for id, t := range c.orders {
		if t.terminal {
			continue
		}
		t.terminal = true
		t.state = order.Cancelled
		victims = append(victims, t)
		delete(c.orders, id)
	}
	c.mu.Unlock()

	if len(victims) == 0 {
		return
	}
	c.log.Warnw("cancelling_all_orders", "reason", reason, "count", len(victims))

	for _, t := range victims {
		c.secrets.Drop(t.id)
		c.bestEffort("cancel_resting_order", t.id, func() error {
			return c.relayer.Cancel(c.ctx, t.restingHash)
		})
		if t.sub != nil {
			go t.sub.Unsubscribe()
		}
		c.journal.Record(t.id, order.Cancelled, reason)
		c.log.Infow("order_cancelled", "order_id", t.id.Hex(), "reason", reason)
	}
}

// stall marks an order whose fill feed is gone. The order stays tracked —
// stalled, never completed — until the watchdog or an operator cancels it.
func (c *Coordinator) stall(orderID common.Hash, err error) {
	c.mu.Lock()
	t, ok := c.orders[orderID]
	stalled := ok && !t.terminal
	c.mu.Unlock()

	if !stalled {
		return
	}
	c.journal.Record(orderID, order.Streaming, "feed stalled")
	c.log.Errorw("order_stalled", "order_id", orderID.Hex(), "err", err)
}

func (c *Coordinator) fail(t *tracked) {
	c.mu.Lock()
	if t.terminal {
		c.mu.Unlock()
		return
	}
	t.terminal = true
	t.state = order.Failed
	delete(c.orders, t.id)
	c.mu.Unlock()

	c.secrets.Drop(t.id)
	if t.sub != nil {
		go t.sub.Unsubscribe()
	}
	c.journal.Record(t.id, order.Failed, "")
}

func (c *Coordinator) evict(t *tracked, final order.State, note string) {
	c.mu.Lock()
	t.state = final
	delete(c.orders, t.id)
	c.mu.Unlock()
	c.journal.Record(t.id, final, note)
	c.log.Infow("order_evicted", "order_id", t.id.Hex(), "state", final.String())
}

// bestEffort is the one log-and-continue path for side calls whose failure
// must not disturb an order's lifecycle: sink notifications, redundant
// cancellations, unsubscribes.
func (c *Coordinator) bestEffort(op string, orderID common.Hash, fn func() error) {
	if err := fn(); err != nil {
		c.log.Warnw(op+"_failed", "order_id", orderID.Hex(), "policy", "best_effort", "err", err)
	}
}

// OrderStatus is a read-only view for the status API.
type OrderStatus struct {
	ID        string `json:"orderId"`
	State     string `json:"state"`
	Remaining string `json:"remaining"`
	Total     string `json:"total"`
}

// Snapshot lists all tracked orders.
func (c *Coordinator) Snapshot() []OrderStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]OrderStatus, 0, len(c.orders))
	for _, t := range c.orders {
		st := OrderStatus{ID: t.id.Hex(), State: t.state.String()}
		if t.remaining != nil {
			st.Remaining = t.remaining.String()
			st.Total = t.total.String()
		}
		out = append(out, st)
	}
	return out
}

// Tracked returns the number of in-flight orders.
func (c *Coordinator) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orders)
}
