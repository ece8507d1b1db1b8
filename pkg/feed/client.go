package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hashlocklabs/slicefill/pkg/order"
	"github.com/hashlocklabs/slicefill/pkg/util"
)

// Options configure the fill-feed client. Zero backoff values fall back to
// 1s/30s.
type Options struct {
	URL          string
	ReconnectMax int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

// Client maintains one websocket subscription per order identifier and
// delivers fill events in feed-delivery order. On disconnect it reconnects
// with capped exponential backoff; once the attempt budget is exhausted the
// order is stalled, never completed.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	clock  util.Clock
	log    *zap.SugaredLogger
}

func NewClient(opts Options, clock util.Clock, log *zap.SugaredLogger) *Client {
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		clock:  clock,
		log:    log,
	}
}

// Subscription is the unsubscribe handle returned by Subscribe.
type Subscription struct {
	orderID common.Hash
	cancel  context.CancelFunc
	done    chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// Unsubscribe sends the unsubscribe control message, closes the connection
// and waits for the read loop to exit. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.WriteJSON(controlMessage{
			Action:     actionUnsubscribe,
			EventTypes: []EventType{EventFill},
			OrderIDs:   []string{s.orderID.Hex()},
		})
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Subscription) swapConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()
}

// Subscribe opens the feed connection for orderID, performs the subscribe
// handshake and starts the read loop. onFill runs synchronously on the read
// loop, so fills for one order are applied in delivery order. onStall fires
// once if the connection is lost for good.
func (c *Client) Subscribe(ctx context.Context, orderID common.Hash, onFill func(order.FillEvent), onStall func(error)) (*Subscription, error) {
	conn, err := c.dial(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", orderID.Hex(), err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		orderID: orderID,
		cancel:  cancel,
		done:    make(chan struct{}),
		conn:    conn,
	}
	go c.run(subCtx, sub, onFill, onStall)
	return sub, nil
}

func (c *Client) dial(ctx context.Context, orderID common.Hash) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	msg := controlMessage{
		Action:     actionSubscribe,
		EventTypes: []EventType{EventFill},
		OrderIDs:   []string{orderID.Hex()},
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context, sub *Subscription, onFill func(order.FillEvent), onStall func(error)) {
	defer close(sub.done)

	for {
		c.readUntilClosed(ctx, sub, onFill)
		if ctx.Err() != nil {
			return
		}

		conn, err := c.reconnect(ctx, sub.orderID)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Errorw("feed_stalled", "order_id", sub.orderID.Hex(), "err", err)
				onStall(err)
			}
			return
		}
		sub.swapConn(conn)
	}
}

func (c *Client) readUntilClosed(ctx context.Context, sub *Subscription, onFill func(order.FillEvent)) {
	sub.mu.Lock()
	conn := sub.conn
	sub.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warnw("feed_read_failed", "order_id", sub.orderID.Hex(), "err", err)
			}
			return
		}

		fill, err := decodeFill(raw, c.clock.Now())
		if err != nil {
			c.log.Errorw("feed_frame_rejected", "order_id", sub.orderID.Hex(), "err", err)
			continue
		}
		if fill.OrderID != sub.orderID {
			continue
		}
		onFill(fill)
	}
}

func (c *Client) reconnect(ctx context.Context, orderID common.Hash) (*websocket.Conn, error) {
	backoff := c.opts.BackoffMin
	for attempt := 1; attempt <= c.opts.ReconnectMax; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(backoff):
		}

		conn, err := c.dial(ctx, orderID)
		if err == nil {
			c.log.Infow("feed_reconnected", "order_id", orderID.Hex(), "attempt", attempt)
			return conn, nil
		}
		c.log.Warnw("feed_reconnect_failed", "order_id", orderID.Hex(), "attempt", attempt, "err", err)

		backoff *= 2
		if backoff > c.opts.BackoffMax {
			backoff = c.opts.BackoffMax
		}
	}
	return nil, fmt.Errorf("feed unreachable after %d reconnect attempts", c.opts.ReconnectMax)
}
