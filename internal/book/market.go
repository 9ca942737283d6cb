package book

import "skoll/internal/common"

// The Market Events Reader mutates books directly as "the
// market" rather than as a session: it bypasses risk checks and fees, and
// its synthetic liquidity is owned by MarketOwner so downstream fee/account
// logic can recognise and skip it.

// SetLevel replaces (or creates) the market's own resting liquidity at a
// price with the given volume, used for INSERT_BID_LEVEL/INSERT_ASK_LEVEL
// script events. Existing competitor orders at the same price keep their
// time priority; the market's synthetic order is always appended behind
// them, or its volume adjusted in place if one is already resting there.
func (b *Book) SetLevel(side common.Side, price int64, volume uint32) {
	levels := b.levelsFor(side)
	level, ok := levels.Get(newLevel(price))
	if !ok {
		level = newLevel(price)
		levels.Set(level)
	}
	for _, o := range level.Orders {
		if o.SessionID == MarketOwner {
			o.OriginalVolume = volume
			o.RemainingVolume = volume
			return
		}
	}
	b.nextSeq++
	level.Orders = append(level.Orders, &common.Order{
		Instrument:      b.Instrument,
		Side:            side,
		Price:           price,
		OriginalVolume:  volume,
		RemainingVolume: volume,
		Lifespan:        common.GoodForDay,
		SessionID:       MarketOwner,
		Sequence:        b.nextSeq,
	})
}

// RemoveLevel deletes a price level entirely, used for REMOVE_LEVEL script
// events. It returns any competitor orders that were resting there so the
// caller can notify their owning sessions.
func (b *Book) RemoveLevel(side common.Side, price int64) []*common.Order {
	levels := b.levelsFor(side)
	level, ok := levels.Get(newLevel(price))
	if !ok {
		return nil
	}
	var cancelled []*common.Order
	for _, o := range level.Orders {
		o.RemainingVolume = 0
		if o.SessionID != MarketOwner {
			cancelled = append(cancelled, o)
		}
	}
	levels.Delete(level)
	return cancelled
}

// Trade simulates the market lifting or hitting resting liquidity at
// exactly the given price and volume, used for TRADE script events. It is
// modelled as an immediate-or-cancel synthetic order so it reuses the same
// matching algorithm as a competitor insert.
func (b *Book) Trade(side common.Side, price int64, volume uint32) []common.Fill {
	order := &common.Order{
		Instrument:      b.Instrument,
		Side:            side,
		Price:           price,
		OriginalVolume:  volume,
		RemainingVolume: volume,
		Lifespan:        common.FillAndKill,
		SessionID:       MarketOwner,
	}
	fills, _ := b.Insert(order)
	return fills
}

// Items returns every resting level on both sides in book order, for
// tests and diagnostics.
func (b *Book) Items() (asks, bids []*Level) {
	b.asks.Scan(func(l *Level) bool { asks = append(asks, l); return true })
	b.bids.Scan(func(l *Level) bool { bids = append(bids, l); return true })
	return
}
