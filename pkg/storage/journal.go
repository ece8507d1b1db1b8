package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hashlocklabs/slicefill/pkg/order"
)

// Journal is an append-only record of order state transitions. It exists so
// a restart can tell which orders were in flight when the process died;
// in-flight orders are reported, not resumed.
type Journal interface {
	Record(orderID common.Hash, state order.State, note string)
	// Orphans returns the orders whose last recorded state was non-terminal
	// when the journal was opened.
	Orphans() []common.Hash
	Close() error
}

type NopJournal struct{}

func (NopJournal) Record(common.Hash, order.State, string) {}
func (NopJournal) Orphans() []common.Hash                  { return nil }
func (NopJournal) Close() error                            { return nil }

// PebbleJournal persists transitions under o:<orderID>:<seq>. Writes are
// best-effort; a failed append never interrupts an order's lifecycle.
type PebbleJournal struct {
	db      *pebble.DB
	seq     atomic.Uint64
	orphans []common.Hash
	onError func(error)
}

type transition struct {
	State string    `json:"state"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// OpenPebbleJournal opens (or creates) the journal at path. onError receives
// append failures; pass a log hook, not nil.
func OpenPebbleJournal(path string, onError func(error)) (*PebbleJournal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &PebbleJournal{db: db, onError: onError}
	if err := j.scan(); err != nil {
		db.Close()
		return nil, err
	}
	j.seq.Store(uint64(time.Now().UnixNano()))
	return j, nil
}

func journalKey(orderID common.Hash, seq uint64) []byte {
	key := make([]byte, 0, 2+32+8)
	key = append(key, 'o', ':')
	key = append(key, orderID.Bytes()...)
	key = binary.BigEndian.AppendUint64(key, seq)
	return key
}

// scan walks all records and collects orders whose newest state is not
// terminal. Keys sort by order id then sequence, so the last record seen for
// an id is its latest state.
func (j *PebbleJournal) scan() error {
	prefix := []byte("o:")
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: []byte("o;"),
	})
	if err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	defer iter.Close()

	var (
		current common.Hash
		last    transition
		have    bool
	)
	flush := func() {
		if have && !terminalName(last.State) {
			j.orphans = append(j.orphans, current)
		}
	}

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != 2+32+8 {
			continue
		}
		id := common.BytesToHash(key[2 : 2+32])
		if have && id != current {
			flush()
			have = false
		}
		var tr transition
		if err := json.Unmarshal(iter.Value(), &tr); err != nil {
			continue
		}
		current, last, have = id, tr, true
	}
	flush()
	return nil
}

func terminalName(state string) bool {
	switch state {
	case order.Completed.String(), order.Cancelled.String(), order.Failed.String():
		return true
	}
	return false
}

func (j *PebbleJournal) Record(orderID common.Hash, state order.State, note string) {
	val, err := json.Marshal(transition{State: state.String(), Note: note, At: time.Now()})
	if err != nil {
		j.onError(fmt.Errorf("encode transition: %w", err))
		return
	}

	sync := pebble.NoSync
	if state.Terminal() {
		sync = pebble.Sync
	}
	if err := j.db.Set(journalKey(orderID, j.seq.Add(1)), val, sync); err != nil {
		j.onError(fmt.Errorf("append transition: %w", err))
	}
}

func (j *PebbleJournal) Orphans() []common.Hash {
	return append([]common.Hash(nil), j.orphans...)
}

func (j *PebbleJournal) Close() error { return j.db.Close() }

var (
	_ Journal = (*PebbleJournal)(nil)
	_ Journal = NopJournal{}
)
