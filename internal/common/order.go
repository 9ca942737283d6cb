package common

import "fmt"

// Order is a single resting or in-flight instruction, alive only while it
// rests on a book or is mid-insert. Prices and
// volumes are integer; RemainingVolume reaching zero is terminal.
type Order struct {
	ClientOrderID   uint32
	Instrument      Instrument
	Side            Side
	Price           int64 // integer cents, tick-size aligned
	OriginalVolume  uint32
	RemainingVolume uint32
	Lifespan        Lifespan

	// SessionID identifies the owning session without coupling the book
	// package to the competitor package.
	SessionID string

	// Sequence is the book's insertion sequence, assigned when the order
	// first rests. It is the sole time-priority tie-breaker, never
	// object identity and never map iteration order.
	Sequence uint64

	// Fees is this order's own cumulative maker/taker fee across all its
	// fills, reported back on ORDER_STATUS.
	Fees int64
}

// Alive reports whether the order still has quantity left to trade.
func (o *Order) Alive() bool {
	return o.RemainingVolume > 0
}

func (o *Order) String() string {
	return fmt.Sprintf(
		"Order{id=%d %s %s price=%d remaining=%d/%d lifespan=%s owner=%s seq=%d}",
		o.ClientOrderID, o.Instrument, o.Side, o.Price, o.RemainingVolume,
		o.OriginalVolume, o.Lifespan, o.SessionID, o.Sequence,
	)
}
