// Package information implements the market-data publisher: the UDP
// multicast/broadcast datagram feed of book snapshots and trade-ticks.
package information

import (
	"net"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/wire"
)

// Publisher owns the datagram socket and fans out ORDER_BOOK_UPDATE and
// TRADE_TICKS messages.
type Publisher struct {
	conn  net.Conn
	books map[common.Instrument]*book.Book

	// instruments is the fixed publication order; map iteration would
	// publish in a different order every tick.
	instruments []common.Instrument

	seq          map[common.Instrument]uint32
	pendingDrain map[common.Instrument]bool
}

// Dial connects a UDP socket to the configured multicast/broadcast
// address. Joining a multicast group on a specific interface is left to
// the deployment; plain net.Dial covers broadcast and loopback setups.
func Dial(addr string, books map[common.Instrument]*book.Book) (*Publisher, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		conn:         conn,
		books:        books,
		seq:          make(map[common.Instrument]uint32),
		pendingDrain: make(map[common.Instrument]bool),
	}
	for instrument, b := range books {
		instrument := instrument
		p.instruments = append(p.instruments, instrument)
		b.OnTrade(func() { p.pendingDrain[instrument] = true })
	}
	sort.Slice(p.instruments, func(i, j int) bool { return p.instruments[i] < p.instruments[j] })
	return p, nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}

// OnTick publishes a top-of-book snapshot for every instrument, then
// drains any book whose coalesced trade flag is set. The flag clears
// before the drain so a trade landing mid-publication re-arms it.
func (p *Publisher) OnTick(now time.Time, tickNumber uint64) {
	for _, instrument := range p.instruments {
		b := p.books[instrument]
		p.publishSnapshot(b, instrument, tickNumber)
		if p.pendingDrain[instrument] {
			p.pendingDrain[instrument] = false
			p.publishTradeTicks(b, instrument)
		}
	}
}

func (p *Publisher) publishSnapshot(b *book.Book, instrument common.Instrument, tickNumber uint64) {
	askPrices, askVols, bidPrices, bidVols := b.TopLevels()
	frame := wire.EncodeOrderBookUpdate(wire.OrderBookUpdate{
		Instrument: instrument,
		TickNumber: uint32(tickNumber),
		AskPrices:  toU32Array(askPrices),
		AskVolumes: toU32Array(askVols),
		BidPrices:  toU32Array(bidPrices),
		BidVolumes: toU32Array(bidVols),
	})
	if _, err := p.conn.Write(frame); err != nil {
		log.Warn().Err(err).Str("instrument", instrument.String()).Msg("information: snapshot send failed")
	}
}

func (p *Publisher) publishTradeTicks(b *book.Book, instrument common.Instrument) {
	askPrices, askVols, bidPrices, bidVols, any := b.DrainTradeTicks()
	if !any {
		return
	}
	p.seq[instrument]++
	frame := wire.EncodeTradeTicks(wire.TradeTicks{
		Instrument:     instrument,
		SequenceNumber: p.seq[instrument],
		AskPrices:      toU32Array(askPrices),
		AskVolumes:     toU32Array(askVols),
		BidPrices:      toU32Array(bidPrices),
		BidVolumes:     toU32Array(bidVols),
	})
	if _, err := p.conn.Write(frame); err != nil {
		log.Warn().Err(err).Str("instrument", instrument.String()).Msg("information: trade-ticks send failed")
	}
}

func toU32Array(src [common.TopLevelCount]int64) [common.TopLevelCount]uint32 {
	var out [common.TopLevelCount]uint32
	for i, v := range src {
		out[i] = uint32(v)
	}
	return out
}
