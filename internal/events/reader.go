// Package events implements the Market Events Reader: it
// replays a scripted stream of book pressure at tick boundaries, mutating
// the order books directly as the market rather than as a session.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/competitor"
)

// Type is a script event's operation.
type Type uint8

const (
	InsertBidLevel Type = iota
	InsertAskLevel
	Trade
	RemoveLevel
)

var ErrBadEventType = errors.New("events: unknown event type")

// ParseType maps the script's operation column to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "INSERT_BID_LEVEL":
		return InsertBidLevel, nil
	case "INSERT_ASK_LEVEL":
		return InsertAskLevel, nil
	case "TRADE":
		return Trade, nil
	case "REMOVE_LEVEL":
		return RemoveLevel, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadEventType, s)
	}
}

func (t Type) String() string {
	switch t {
	case InsertBidLevel:
		return "INSERT_BID_LEVEL"
	case InsertAskLevel:
		return "INSERT_ASK_LEVEL"
	case Trade:
		return "TRADE"
	default:
		return "REMOVE_LEVEL"
	}
}

// Event is one scripted market event. The script must already be sorted by tick.
type Event struct {
	Tick       uint64
	Instrument common.Instrument
	Type       Type
	Price      int64
	Volume     uint32
}

// Reader replays the script against the shared books. Its fills settle
// through the Competitor Manager so a competitor whose resting order a
// script trade lifts is paid out exactly as if a peer had traded with it.
type Reader struct {
	events []Event
	next   int

	books   map[common.Instrument]*book.Book
	manager *competitor.Manager

	// onComplete observers fire once, when the last event has been
	// applied, in registration order.
	onComplete []func()
	completed  bool
}

// NewReader builds a Reader over an already-loaded, tick-sorted script.
func NewReader(script []Event, books map[common.Instrument]*book.Book, manager *competitor.Manager) *Reader {
	return &Reader{events: script, books: books, manager: manager}
}

// OnComplete registers an observer invoked once when the script is
// exhausted.
func (r *Reader) OnComplete(fn func()) {
	r.onComplete = append(r.onComplete, fn)
}

// Remaining is how many script events have yet to be applied.
func (r *Reader) Remaining() int {
	return len(r.events) - r.next
}

// OnTick applies every event whose scheduled tick is at or before the
// current tick, then signals completion if the script ran dry.
func (r *Reader) OnTick(now time.Time, tickNumber uint64) {
	for r.next < len(r.events) && r.events[r.next].Tick <= tickNumber {
		r.apply(now, r.events[r.next])
		r.next++
	}
	if r.next == len(r.events) && !r.completed {
		r.completed = true
		log.Info().Uint64("tick", tickNumber).Msg("events: script exhausted")
		for _, fn := range r.onComplete {
			fn()
		}
	}
}

func (r *Reader) apply(now time.Time, ev Event) {
	b, ok := r.books[ev.Instrument]
	if !ok {
		log.Warn().Stringer("instrument", ev.Instrument).Msg("events: no book for instrument")
		return
	}
	switch ev.Type {
	case InsertBidLevel:
		b.SetLevel(common.Buy, ev.Price, ev.Volume)
	case InsertAskLevel:
		b.SetLevel(common.Sell, ev.Price, ev.Volume)
	case Trade:
		fills := b.Trade(r.aggressorSide(b, ev.Price), ev.Price, ev.Volume)
		r.manager.Settle(now, ev.Instrument, fills)
	case RemoveLevel:
		r.removeLevel(b, ev.Price)
	}
}

// aggressorSide infers which way a script TRADE sweeps: a price at or
// below the best bid is a sell hitting bids; anything else lifts asks.
// The script format carries no side column, so the trade's relationship
// to the standing book is the only signal (decision recorded in
// DESIGN.md).
func (r *Reader) aggressorSide(b *book.Book, price int64) common.Side {
	if bid, ok := b.BestBid(); ok && price <= bid {
		return common.Sell
	}
	return common.Buy
}

// removeLevel clears the level at price from whichever side holds it, and
// notifies the owners of any competitor orders swept away with it.
func (r *Reader) removeLevel(b *book.Book, price int64) {
	cancelled := b.RemoveLevel(common.Buy, price)
	cancelled = append(cancelled, b.RemoveLevel(common.Sell, price)...)
	r.manager.NotifyCancelled(cancelled)
}
