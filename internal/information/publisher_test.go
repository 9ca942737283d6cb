package information

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/wire"
)

// --- Setup & Helpers --------------------------------------------------------

func startTestPublisher(t *testing.T) (*Publisher, net.PacketConn, map[common.Instrument]*book.Book) {
	t.Helper()
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	books := map[common.Instrument]*book.Book{
		common.Future: book.New(common.Future, 100),
		common.ETF:    book.New(common.ETF, 100),
	}
	p, err := Dial(listener.LocalAddr().String(), books)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, listener, books
}

func readDatagram(t *testing.T, listener net.PacketConn) (wire.InfoMessageType, []byte) {
	t.Helper()
	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := listener.ReadFrom(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, wire.HeaderSize)
	return wire.InfoMessageType(buf[2]), buf[wire.HeaderSize:n]
}

func fillAndSeed(t *testing.T, b *book.Book) {
	t.Helper()
	b.SetLevel(common.Sell, 10000, 10)
	b.SetLevel(common.Buy, 9900, 5)
}

// --- Tests ------------------------------------------------------------------

func TestOnTick_PublishesSnapshotPerInstrument(t *testing.T) {
	p, listener, books := startTestPublisher(t)
	fillAndSeed(t, books[common.ETF])

	p.OnTick(time.Now(), 7)

	// FUTURE first, then ETF: fixed instrument order.
	msgType, body := readDatagram(t, listener)
	require.Equal(t, wire.MsgOrderBookUpdate, msgType)
	update, err := wire.DecodeOrderBookUpdate(body)
	require.NoError(t, err)
	assert.Equal(t, common.Future, update.Instrument)
	assert.Equal(t, uint32(7), update.TickNumber)

	msgType, body = readDatagram(t, listener)
	require.Equal(t, wire.MsgOrderBookUpdate, msgType)
	update, err = wire.DecodeOrderBookUpdate(body)
	require.NoError(t, err)
	assert.Equal(t, common.ETF, update.Instrument)
	assert.Equal(t, uint32(10000), update.AskPrices[0])
	assert.Equal(t, uint32(10), update.AskVolumes[0])
	assert.Equal(t, uint32(9900), update.BidPrices[0])
}

func TestOnTick_TradeTicksAreEdgeTriggeredAndSequenced(t *testing.T) {
	p, listener, books := startTestPublisher(t)
	etf := books[common.ETF]
	fillAndSeed(t, etf)

	// No trades yet: only the two snapshots go out.
	p.OnTick(time.Now(), 0)
	readDatagram(t, listener)
	readDatagram(t, listener)

	etf.Trade(common.Buy, 10000, 3)
	p.OnTick(time.Now(), 1)

	readDatagram(t, listener) // FUTURE snapshot
	readDatagram(t, listener) // ETF snapshot
	msgType, body := readDatagram(t, listener)
	require.Equal(t, wire.MsgTradeTicks, msgType)
	ticks, err := wire.DecodeTradeTicks(body)
	require.NoError(t, err)
	assert.Equal(t, common.ETF, ticks.Instrument)
	assert.Equal(t, uint32(1), ticks.SequenceNumber)
	assert.Equal(t, uint32(10000), ticks.BidPrices[0])
	assert.Equal(t, uint32(3), ticks.BidVolumes[0])

	// Sequence numbers are per-instrument and gapless.
	etf.Trade(common.Buy, 10000, 2)
	p.OnTick(time.Now(), 2)
	readDatagram(t, listener)
	readDatagram(t, listener)
	_, body = readDatagram(t, listener)
	ticks, err = wire.DecodeTradeTicks(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ticks.SequenceNumber)
}
