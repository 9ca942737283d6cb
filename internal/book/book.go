// Package book implements the price-time-priority limit order book and its
// matching algorithm. Two instances exist
// per match: one for the FUTURE, one for the ETF.
package book

import (
	"errors"
	"sort"
	"time"

	"github.com/tidwall/btree"

	"skoll/internal/common"
)

var (
	ErrBadTickSize   = errors.New("price is not a multiple of the instrument tick size")
	ErrOrderUnknown  = errors.New("order is not resting on this book")
	ErrAmendIncrease = errors.New("amend may only reduce volume")
)

// levels is the btree-backed price index shared by both sides; the
// comparator decides whether it serves bids (descending) or asks
// (ascending).
type levels = btree.BTreeG[*Level]

// Book is one instrument's limit order book: bids and asks, each a
// price-indexed set of FIFO levels, plus the trade-tick buffer accumulated
// since the last drain.
type Book struct {
	Instrument common.Instrument
	TickSize   int64

	bids *levels // best bid first (descending price)
	asks *levels // best ask first (ascending price)

	nextSeq uint64

	// buyTicks/sellTicks bucket (price -> aggregate volume) fills taken by
	// an incoming order on that side, since the last drain.
	buyTicks  map[int64]uint32
	sellTicks map[int64]uint32

	// onTrade fires once per fill recorded, letting the Information
	// Publisher schedule its coalesced drain task.
	onTrade []func()
}

// OnTrade registers an observer invoked synchronously every time the book
// records a new trade tick, in registration order.
func (b *Book) OnTrade(fn func()) {
	b.onTrade = append(b.onTrade, fn)
}

// New constructs an empty book for the given instrument and tick size.
func New(instrument common.Instrument, tickSize int64) *Book {
	return &Book{
		Instrument: instrument,
		TickSize:   tickSize,
		bids: btree.NewBTreeG(func(a, b *Level) bool {
			return a.Price > b.Price // descending: best bid first
		}),
		asks: btree.NewBTreeG(func(a, b *Level) bool {
			return a.Price < b.Price // ascending: best ask first
		}),
		buyTicks:  make(map[int64]uint32),
		sellTicks: make(map[int64]uint32),
	}
}

func (b *Book) levelsFor(side common.Side) *levels {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// validTick reports whether price is a positive multiple of the book's
// tick size.
func (b *Book) validTick(price int64) bool {
	return price > 0 && b.TickSize > 0 && price%b.TickSize == 0
}

// Insert attempts to match order against resting liquidity on the
// opposite side, then rests any remainder if its lifespan allows it.
// The order's RemainingVolume is mutated in place; returned fills
// describe each execution in the order they occurred.
func (b *Book) Insert(order *common.Order) ([]common.Fill, error) {
	if !b.validTick(order.Price) {
		return nil, ErrBadTickSize
	}

	fills := b.match(order)

	if order.RemainingVolume > 0 {
		switch order.Lifespan {
		case common.GoodForDay:
			b.rest(order)
		case common.FillAndKill:
			order.RemainingVolume = 0
		}
	}
	return fills, nil
}

// match walks the opposite side in best-first, then strict-FIFO order,
// consuming resting liquidity while prices cross.
func (b *Book) match(order *common.Order) []common.Fill {
	opp := b.levelsFor(order.Side.Opposite())
	now := time.Now()
	var fills []common.Fill

	for order.RemainingVolume > 0 {
		level, ok := opp.Min()
		if !ok {
			break
		}
		if order.Side == common.Buy && level.Price > order.Price {
			break
		}
		if order.Side == common.Sell && level.Price < order.Price {
			break
		}

		levelFills := b.consumeLevel(level, order, now)
		fills = append(fills, levelFills...)
		if level.empty() {
			opp.Delete(level)
		}
	}
	return fills
}

// consumeLevel walks one price level's resting orders in strict FIFO,
// filling order against them until either the level or the order runs out
// of volume. Shared by match, which may walk many levels, and
// MatchTopOfBook, which may only ever touch one.
func (b *Book) consumeLevel(level *Level, order *common.Order, now time.Time) []common.Fill {
	var fills []common.Fill
	consumed := 0
	for _, resting := range level.Orders {
		if order.RemainingVolume == 0 {
			break
		}
		qty := min(order.RemainingVolume, resting.RemainingVolume)
		resting.RemainingVolume -= qty
		order.RemainingVolume -= qty

		fills = append(fills, common.Fill{
			Instrument: b.Instrument,
			Maker:      resting,
			Taker:      order,
			Price:      resting.Price, // maker's price: price improvement to the taker
			Volume:     qty,
			Timestamp:  now,
		})
		b.recordTick(order.Side, resting.Price, qty)

		if resting.RemainingVolume == 0 {
			consumed++
		}
	}
	level.removeFront(consumed)
	return fills
}

// MatchTopOfBook matches order against only the single best opposing
// level, then cancels any remainder: the restricted variant a HEDGE
// request uses so it can never walk deeper than the top of the FUTURE
// book. The order never rests regardless of lifespan.
func (b *Book) MatchTopOfBook(order *common.Order) ([]common.Fill, error) {
	if !b.validTick(order.Price) {
		return nil, ErrBadTickSize
	}
	opp := b.levelsFor(order.Side.Opposite())
	var fills []common.Fill
	if level, ok := opp.Min(); ok {
		crosses := (order.Side == common.Buy && level.Price <= order.Price) ||
			(order.Side == common.Sell && level.Price >= order.Price)
		if crosses {
			fills = b.consumeLevel(level, order, time.Now())
			if level.empty() {
				opp.Delete(level)
			}
		}
	}
	order.RemainingVolume = 0
	return fills, nil
}

// recordTick aggregates a fill's (price, volume) into the trade-tick
// bucket for the taker's side.
func (b *Book) recordTick(side common.Side, price int64, volume uint32) {
	if side == common.Buy {
		b.buyTicks[price] += volume
	} else {
		b.sellTicks[price] += volume
	}
	for _, fn := range b.onTrade {
		fn()
	}
}

// rest appends order to the tail of its price level, creating the level if
// absent, and assigns its insertion sequence.
func (b *Book) rest(order *common.Order) {
	levels := b.levelsFor(order.Side)
	b.nextSeq++
	order.Sequence = b.nextSeq

	level, ok := levels.Get(newLevel(order.Price))
	if !ok {
		level = newLevel(order.Price)
		levels.Set(level)
	}
	level.Orders = append(level.Orders, order)
}

// Amend reduces an order's original volume in place. It may never
// increase volume or change price. If the new volume would drive
// remaining to zero or below, the order is cancelled.
func (b *Book) Amend(order *common.Order, newVolume uint32) error {
	if newVolume > order.OriginalVolume {
		return ErrAmendIncrease
	}
	filled := order.OriginalVolume - order.RemainingVolume
	if newVolume <= filled {
		order.OriginalVolume = newVolume
		return b.Cancel(order)
	}
	order.OriginalVolume = newVolume
	order.RemainingVolume = newVolume - filled
	return nil
}

// Cancel unlinks order from its resting level and marks it terminal.
func (b *Book) Cancel(order *common.Order) error {
	if order.RemainingVolume == 0 && order.Sequence == 0 {
		return ErrOrderUnknown
	}
	order.RemainingVolume = 0

	levels := b.levelsFor(order.Side)
	level, ok := levels.Get(newLevel(order.Price))
	if !ok {
		return nil
	}
	for i, o := range level.Orders {
		if o == order {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			break
		}
	}
	if level.empty() {
		levels.Delete(level)
	}
	return nil
}

// TopLevels fills the five best prices and aggregate volumes per side,
// padding with zeroes for missing levels.
func (b *Book) TopLevels() (askPrices, askVols [common.TopLevelCount]int64, bidPrices, bidVols [common.TopLevelCount]int64) {
	aggregate(b.asks, &askPrices, &askVols)
	aggregate(b.bids, &bidPrices, &bidVols)
	return
}

func aggregate(lv *levels, prices, vols *[common.TopLevelCount]int64) {
	i := 0
	lv.Scan(func(l *Level) bool {
		if i >= common.TopLevelCount {
			return false
		}
		var vol int64
		for _, o := range l.Orders {
			vol += int64(o.RemainingVolume)
		}
		prices[i] = l.Price
		vols[i] = vol
		i++
		return true
	})
}

// DrainTradeTicks returns the aggregated per-price volumes of trades
// since the last drain and clears the buffer. any reports whether there
// was activity to publish.
func (b *Book) DrainTradeTicks() (askPrices, askVols, bidPrices, bidVols [common.TopLevelCount]int64, any bool) {
	any = len(b.buyTicks) > 0 || len(b.sellTicks) > 0
	fillFromBucket(b.sellTicks, &askPrices, &askVols, true)
	fillFromBucket(b.buyTicks, &bidPrices, &bidVols, false)
	b.buyTicks = make(map[int64]uint32)
	b.sellTicks = make(map[int64]uint32)
	return
}

// fillFromBucket writes the bucket's (price, volume) pairs into the fixed
// arrays in price order (ascending for the ask bucket, descending for the
// bid bucket), matching the book's own side convention. Sorting keeps
// publication deterministic despite Go's randomised map iteration order.
func fillFromBucket(bucket map[int64]uint32, prices, vols *[common.TopLevelCount]int64, ascending bool) {
	keys := make([]int64, 0, len(bucket))
	for price := range bucket {
		keys = append(keys, price)
	}
	sort.Slice(keys, func(i, j int) bool {
		if ascending {
			return keys[i] < keys[j]
		}
		return keys[i] > keys[j]
	})
	for i, price := range keys {
		if i >= common.TopLevelCount {
			break
		}
		prices[i] = price
		vols[i] = int64(bucket[price])
	}
}

// BestBid returns the best (highest) resting bid price, and false if the
// bid side is empty.
func (b *Book) BestBid() (int64, bool) {
	l, ok := b.bids.Min()
	if !ok {
		return 0, false
	}
	return l.Price, true
}

// BestAsk returns the best (lowest) resting ask price, and false if the
// ask side is empty.
func (b *Book) BestAsk() (int64, bool) {
	l, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return l.Price, true
}

// Midpoint returns the midpoint of best bid and best ask, and false if
// either side is empty. Callers computing the ETF clamp band treat a
// missing midpoint as an open band.
func (b *Book) Midpoint() (int64, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return 0, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}
