package competitor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/limiter"
	"skoll/internal/wire"
)

// --- Setup & Helpers --------------------------------------------------------

const testTick = 100

// frameSink captures outbound frames for inspection.
type frameSink struct {
	frames [][]byte
}

func (s *frameSink) Enqueue(frame []byte) { s.frames = append(s.frames, frame) }

// decoded splits captured frames into typed messages.
type decoded struct {
	filled    []wire.OrderFilled
	statuses  []wire.OrderStatus
	positions []wire.PositionChange
	errors    []wire.ErrorReport
}

func (s *frameSink) decode(t *testing.T) decoded {
	t.Helper()
	var d decoded
	for _, frame := range s.frames {
		_, msgType, err := wire.ParseHeader(frame)
		require.NoError(t, err)
		body := frame[wire.HeaderSize:]
		switch msgType {
		case wire.MsgOrderFilled:
			m, err := wire.DecodeOrderFilled(body)
			require.NoError(t, err)
			d.filled = append(d.filled, m)
		case wire.MsgOrderStatus:
			m, err := wire.DecodeOrderStatus(body)
			require.NoError(t, err)
			d.statuses = append(d.statuses, m)
		case wire.MsgPositionChange:
			m, err := wire.DecodePositionChange(body)
			require.NoError(t, err)
			d.positions = append(d.positions, m)
		case wire.MsgError:
			m, err := wire.DecodeErrorReport(body)
			require.NoError(t, err)
			d.errors = append(d.errors, m)
		}
	}
	return d
}

type matchLog struct {
	records []MatchRecord
}

func (l *matchLog) Record(r MatchRecord) { l.records = append(l.records, r) }

type exchange struct {
	manager    *Manager
	etfBook    *book.Book
	futureBook *book.Book
	log        *matchLog
	now        time.Time
}

func testLimits() Limits {
	return Limits{
		ActiveOrderCount: 10,
		ActiveVolume:     1000,
		Position:         1000,
		EtfClamp:         decimal.NewFromFloat(1.0),
	}
}

func newExchange(t *testing.T, limits Limits) *exchange {
	t.Helper()
	etf := book.New(common.ETF, testTick)
	future := book.New(common.Future, testTick)
	fees := Fees{
		Maker: decimal.NewFromFloat(-0.0001),
		Taker: decimal.NewFromFloat(0.0002),
	}
	log := &matchLog{}
	roster := map[string]string{"T1": "s1", "T2": "s2"}
	mgr := NewManager(roster, etf, future, limits, fees,
		func() *limiter.Limiter { return limiter.New(5, time.Second) }, log)
	return &exchange{
		manager:    mgr,
		etfBook:    etf,
		futureBook: future,
		log:        log,
		now:        time.Unix(1000, 0),
	}
}

func (e *exchange) login(t *testing.T, team string) (*Competitor, *frameSink) {
	t.Helper()
	sink := &frameSink{}
	c, err := e.manager.Login(e.now, "sess-"+team, team, "s"+team[1:], sink)
	require.NoError(t, err)
	return c, sink
}

func body(frame []byte) []byte { return frame[wire.HeaderSize:] }

func (e *exchange) insert(t *testing.T, c *Competitor, id uint32, side common.Side, price, volume uint32, lifespan common.Lifespan) bool {
	t.Helper()
	frame := wire.EncodeInsertOrder(wire.InsertOrder{
		ClientOrderID: id,
		Instrument:    common.ETF,
		Side:          side,
		Price:         price,
		Volume:        volume,
		Lifespan:      lifespan,
	})
	_, closed := c.HandleMessage(e.now, wire.MsgInsertOrder, body(frame))
	return closed
}

// --- End-to-end scenarios ---------------------------------------------------

// Simple match: a buy lifts the scripted ask at its own price.
func TestScenario_SimpleMatch(t *testing.T) {
	e := newExchange(t, testLimits())
	e.etfBook.SetLevel(common.Sell, 10000, 10)
	e.etfBook.SetLevel(common.Sell, 10100, 5)

	c, sink := e.login(t, "T1")
	e.insert(t, c, 1, common.Buy, 10000, 3, common.GoodForDay)

	d := sink.decode(t)
	require.Len(t, d.filled, 1)
	assert.Equal(t, wire.OrderFilled{ClientOrderID: 1, Price: 10000, Volume: 3}, d.filled[0])

	assert.Equal(t, int64(3), c.Account.Position(common.ETF))
	assert.Equal(t, int64(6), c.Account.Fees) // ceil(30000 × 0.0002)

	askPrices, askVols, _, _ := e.etfBook.TopLevels()
	assert.Equal(t, int64(10000), askPrices[0])
	assert.Equal(t, int64(7), askVols[0])
	assert.Equal(t, int64(10100), askPrices[1])
	assert.Equal(t, int64(5), askVols[1])

	require.Len(t, e.log.records, 1)
	assert.Equal(t, "T1", e.log.records[0].TakerTeam)
	assert.Equal(t, "", e.log.records[0].MakerTeam)
}

// Price improvement goes to the taker: a scripted sell at 10000 executes
// against T1's resting 10100 bid at the maker's price, and T1 collects
// the floor-rounded rebate.
func TestScenario_PriceImprovementGoesToTaker(t *testing.T) {
	e := newExchange(t, testLimits())
	c, sink := e.login(t, "T1")
	e.insert(t, c, 1, common.Buy, 10100, 1, common.GoodForDay)

	fills := e.etfBook.Trade(common.Sell, 10000, 1)
	e.manager.Settle(e.now, common.ETF, fills)

	require.Len(t, e.log.records, 1)
	assert.Equal(t, int64(10100), e.log.records[0].Price)
	assert.Equal(t, int64(-1), e.log.records[0].MakerFee) // floor(10100 × 0.0001) rebated

	d := sink.decode(t)
	require.Len(t, d.filled, 1)
	assert.Equal(t, uint32(10100), d.filled[0].Price)
	assert.Equal(t, int64(-1), c.Account.Fees)
}

// A FILL_AND_KILL remainder cancels instead of resting.
func TestScenario_FillAndKillRemainderCancels(t *testing.T) {
	e := newExchange(t, testLimits())
	e.etfBook.SetLevel(common.Sell, 10000, 2)

	c, sink := e.login(t, "T1")
	e.insert(t, c, 2, common.Buy, 10100, 5, common.FillAndKill)

	d := sink.decode(t)
	require.Len(t, d.filled, 1)
	assert.Equal(t, uint32(2), d.filled[0].Volume)
	require.NotEmpty(t, d.statuses)
	last := d.statuses[len(d.statuses)-1]
	assert.Equal(t, uint32(2), last.FillVolume)
	assert.Equal(t, uint32(0), last.RemainingVolume)

	_, bids := e.etfBook.Items()
	assert.Empty(t, bids)
	assert.Equal(t, 0, c.activeOrderCount)
}

// Position limit uses the worst-case projection over resting orders.
func TestScenario_PositionLimitBlocks(t *testing.T) {
	limits := testLimits()
	limits.Position = 10
	e := newExchange(t, limits)

	c, sink := e.login(t, "T1")
	e.insert(t, c, 2, common.Buy, 9900, 3, common.GoodForDay) // resting buy of 3
	// Establish position 8 directly; the projection then sees the worst
	// case 8 + 3 resting + 1 new = 12.
	c.Account.ApplyTrade(common.ETF, common.Buy, 10000, 8, false, decimal.Zero)

	countBefore := c.activeOrderCount
	volumeBefore := c.activeVolume

	// Projected worst case: 8 + 3 + 1 = 12 > 10.
	e.insert(t, c, 3, common.Buy, 9900, 1, common.GoodForDay)

	d := sink.decode(t)
	require.NotEmpty(t, d.errors)
	assert.Equal(t, ReasonPositionLimitExceeded, d.errors[len(d.errors)-1].Reason)
	assert.Equal(t, uint32(3), d.errors[len(d.errors)-1].ClientOrderID)
	assert.Equal(t, countBefore, c.activeOrderCount)
	assert.Equal(t, volumeBefore, c.activeVolume)
}

// The sixth message inside one window closes the session.
func TestScenario_FrequencyLimitClosesSession(t *testing.T) {
	e := newExchange(t, testLimits())
	c, _ := e.login(t, "T1")

	for i := uint32(1); i <= 5; i++ {
		closed := e.insert(t, c, i, common.Buy, 9900, 1, common.GoodForDay)
		require.False(t, closed, "message %d must be admitted", i)
	}
	closed := e.insert(t, c, 6, common.Buy, 9900, 1, common.GoodForDay)
	assert.True(t, closed)

	// Force-cancellation on close sweeps the accepted orders off the book.
	e.manager.OnSessionClosed(c)
	_, bids := e.etfBook.Items()
	assert.Empty(t, bids)
	assert.Equal(t, common.Closed, c.State)
}

// Clamp band around the FUTURE midpoint rejects out-of-band prices.
func TestScenario_ClampRejection(t *testing.T) {
	limits := testLimits()
	limits.EtfClamp = decimal.NewFromFloat(0.02)
	e := newExchange(t, limits)
	e.futureBook.SetLevel(common.Buy, 9900, 10)
	e.futureBook.SetLevel(common.Sell, 10100, 10) // mid 10000, band [9800, 10200]

	c, sink := e.login(t, "T1")
	e.insert(t, c, 1, common.Buy, 10300, 1, common.GoodForDay)

	d := sink.decode(t)
	require.Len(t, d.errors, 1)
	assert.Equal(t, ReasonOrderRejectedClamp, d.errors[0].Reason)

	_, bids := e.etfBook.Items()
	assert.Empty(t, bids)

	// In-band boundary price is accepted.
	e.insert(t, c, 2, common.Buy, 10200, 1, common.GoodForDay)
	d = sink.decode(t)
	require.Len(t, d.errors, 1)
}

func TestScenario_ClampOpenWhenNoFutureMid(t *testing.T) {
	limits := testLimits()
	limits.EtfClamp = decimal.NewFromFloat(0.02)
	e := newExchange(t, limits)

	c, sink := e.login(t, "T1")
	e.insert(t, c, 1, common.Buy, 999900, 1, common.GoodForDay)

	d := sink.decode(t)
	assert.Empty(t, d.errors)
}

// --- Request-level rejections -----------------------------------------------

func TestInsert_Rejections(t *testing.T) {
	e := newExchange(t, Limits{
		ActiveOrderCount: 2,
		ActiveVolume:     10,
		Position:         1000,
		EtfClamp:         decimal.NewFromFloat(1.0),
	})
	c, sink := e.login(t, "T1")

	e.insert(t, c, 1, common.Buy, 9900, 5, common.GoodForDay)
	e.insert(t, c, 1, common.Buy, 9900, 1, common.GoodForDay) // duplicate id
	e.insert(t, c, 2, common.Buy, 9950, 1, common.GoodForDay) // off-tick
	e.insert(t, c, 3, common.Buy, 9900, 0, common.GoodForDay) // zero volume
	e.insert(t, c, 4, common.Buy, 9900, 6, common.GoodForDay) // volume 5+6 > 10
	e.now = e.now.Add(time.Second)                            // stay under the 5-per-second message limit
	e.insert(t, c, 5, common.Buy, 9800, 5, common.GoodForDay)
	e.insert(t, c, 6, common.Buy, 9700, 1, common.GoodForDay) // third active order

	d := sink.decode(t)
	reasons := make([]string, len(d.errors))
	for i, er := range d.errors {
		reasons[i] = er.Reason
	}
	assert.Equal(t, []string{
		ReasonDuplicateOrder,
		ReasonBadTickSize,
		ReasonBadVolume,
		ReasonActiveVolumeExceeded,
		ReasonActiveOrderCountExceeded,
	}, reasons)
	assert.Equal(t, 2, c.activeOrderCount)
	assert.Equal(t, uint32(10), c.activeVolume)
}

func TestInsert_RejectsFutureInstrument(t *testing.T) {
	e := newExchange(t, testLimits())
	c, sink := e.login(t, "T1")

	frame := wire.EncodeInsertOrder(wire.InsertOrder{
		ClientOrderID: 1,
		Instrument:    common.Future,
		Side:          common.Buy,
		Price:         10000,
		Volume:        1,
		Lifespan:      common.GoodForDay,
	})
	c.HandleMessage(e.now, wire.MsgInsertOrder, body(frame))

	d := sink.decode(t)
	require.Len(t, d.errors, 1)
	assert.Equal(t, ReasonBadInstrument, d.errors[0].Reason)
}

func TestAmend_ReducesActiveVolume(t *testing.T) {
	e := newExchange(t, testLimits())
	c, sink := e.login(t, "T1")
	e.insert(t, c, 1, common.Buy, 9900, 10, common.GoodForDay)

	frame := wire.EncodeAmendOrder(wire.AmendOrder{ClientOrderID: 1, NewVolume: 4})
	c.HandleMessage(e.now, wire.MsgAmendOrder, body(frame))

	assert.Equal(t, uint32(4), c.activeVolume)
	d := sink.decode(t)
	require.NotEmpty(t, d.statuses)
	assert.Equal(t, uint32(4), d.statuses[len(d.statuses)-1].RemainingVolume)
}

func TestAmend_UnknownOrderRejected(t *testing.T) {
	e := newExchange(t, testLimits())
	c, sink := e.login(t, "T1")

	frame := wire.EncodeAmendOrder(wire.AmendOrder{ClientOrderID: 42, NewVolume: 4})
	c.HandleMessage(e.now, wire.MsgAmendOrder, body(frame))

	d := sink.decode(t)
	require.Len(t, d.errors, 1)
	assert.Equal(t, ReasonUnknownOrder, d.errors[0].Reason)
}

func TestCancel_TerminatesOrder(t *testing.T) {
	e := newExchange(t, testLimits())
	c, sink := e.login(t, "T1")
	e.insert(t, c, 1, common.Buy, 9900, 10, common.GoodForDay)

	frame := wire.EncodeCancelOrder(wire.CancelOrder{ClientOrderID: 1})
	c.HandleMessage(e.now, wire.MsgCancelOrder, body(frame))

	assert.Equal(t, 0, c.activeOrderCount)
	d := sink.decode(t)
	require.NotEmpty(t, d.statuses)
	assert.Equal(t, uint32(0), d.statuses[len(d.statuses)-1].RemainingVolume)

	// The id frees for reuse only after the next tick's GC.
	e.insert(t, c, 1, common.Buy, 9900, 1, common.GoodForDay)
	d = sink.decode(t)
	require.Len(t, d.errors, 1)
	assert.Equal(t, ReasonDuplicateOrder, d.errors[0].Reason)

	c.BeginTick()
	e.insert(t, c, 1, common.Buy, 9900, 1, common.GoodForDay)
	assert.Equal(t, 1, c.activeOrderCount)
}

func TestProtocolViolationsCloseSession(t *testing.T) {
	e := newExchange(t, testLimits())

	c, _ := e.login(t, "T1")
	reason, closed := c.HandleMessage(e.now, wire.MsgOrderFilled, nil)
	assert.True(t, closed)
	assert.Equal(t, ReasonUnknownMessage, reason)

	e.manager.OnSessionClosed(c)
	c2, _ := e.login(t, "T1")
	reason, closed = c2.HandleMessage(e.now, wire.MsgInsertOrder, []byte{1, 2})
	assert.True(t, closed)
	assert.Equal(t, ReasonMalformedFrame, reason)
}

// --- Hedging ----------------------------------------------------------------

func TestHedge_OffsetsEtfPosition(t *testing.T) {
	e := newExchange(t, testLimits())
	e.etfBook.SetLevel(common.Sell, 10000, 5)
	e.futureBook.SetLevel(common.Buy, 10000, 50)

	c, sink := e.login(t, "T1")
	e.insert(t, c, 1, common.Buy, 10000, 5, common.GoodForDay)
	require.Equal(t, int64(5), c.Account.Position(common.ETF))

	frame := wire.EncodeHedgeOrder(wire.HedgeOrder{
		ClientOrderID: 2,
		Instrument:    common.Future,
		Side:          common.Sell,
		Price:         10000,
		Volume:        5,
	})
	c.HandleMessage(e.now, wire.MsgHedgeOrder, body(frame))

	assert.Equal(t, int64(5), c.Account.Position(common.ETF))
	assert.Equal(t, int64(-5), c.Account.Position(common.Future))

	d := sink.decode(t)
	var futurePositions []int32
	for _, p := range d.positions {
		if p.Instrument == common.Future {
			futurePositions = append(futurePositions, p.Position)
		}
	}
	assert.Equal(t, []int32{-5}, futurePositions)
}

func TestHedge_RejectsEtfInstrument(t *testing.T) {
	e := newExchange(t, testLimits())
	c, sink := e.login(t, "T1")

	frame := wire.EncodeHedgeOrder(wire.HedgeOrder{
		ClientOrderID: 1,
		Instrument:    common.ETF,
		Side:          common.Sell,
		Price:         10000,
		Volume:        5,
	})
	c.HandleMessage(e.now, wire.MsgHedgeOrder, body(frame))

	d := sink.decode(t)
	require.Len(t, d.errors, 1)
	assert.Equal(t, ReasonBadInstrument, d.errors[0].Reason)
}

// --- Self-trade & cross-session settlement ----------------------------------

func TestSelfTradeIsPermitted(t *testing.T) {
	e := newExchange(t, testLimits())
	c, sink := e.login(t, "T1")

	e.insert(t, c, 1, common.Sell, 10000, 5, common.GoodForDay)
	e.insert(t, c, 2, common.Buy, 10000, 5, common.GoodForDay)

	d := sink.decode(t)
	require.Len(t, d.filled, 2) // both legs notified
	assert.Equal(t, int64(0), c.Account.Position(common.ETF))
	require.Len(t, e.log.records, 1)
	assert.Equal(t, "T1", e.log.records[0].MakerTeam)
	assert.Equal(t, "T1", e.log.records[0].TakerTeam)
}

func TestCrossSessionMatchSettlesBothAccounts(t *testing.T) {
	e := newExchange(t, testLimits())
	maker, _ := e.login(t, "T1")
	taker, _ := e.login(t, "T2")

	e.insert(t, maker, 1, common.Sell, 10000, 5, common.GoodForDay)
	e.insert(t, taker, 1, common.Buy, 10000, 5, common.GoodForDay)

	assert.Equal(t, int64(-5), maker.Account.Position(common.ETF))
	assert.Equal(t, int64(5), taker.Account.Position(common.ETF))
	assert.Equal(t, int64(50000), maker.Account.Cash)
	assert.Equal(t, int64(-50000), taker.Account.Cash)

	require.Len(t, e.log.records, 1)
	assert.Equal(t, "T1", e.log.records[0].MakerTeam)
	assert.Equal(t, "T2", e.log.records[0].TakerTeam)
	// maker_fee + taker_fee reproduces from (price, volume, rates):
	// floor/ceil of 50000 × 0.0001 / 0.0002.
	assert.Equal(t, int64(-5), e.log.records[0].MakerFee)
	assert.Equal(t, int64(10), e.log.records[0].TakerFee)
}

// --- Manager ----------------------------------------------------------------

func TestLogin_RejectsBadCredentialsAndDuplicates(t *testing.T) {
	e := newExchange(t, testLimits())

	_, err := e.manager.Login(e.now, "x", "T1", "wrong", &frameSink{})
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = e.manager.Login(e.now, "x", "Unknown", "s1", &frameSink{})
	assert.ErrorIs(t, err, ErrBadCredentials)

	e.login(t, "T1")
	_, err = e.manager.Login(e.now, "y", "T1", "s1", &frameSink{})
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestOnSessionClosed_FreesTeamSlot(t *testing.T) {
	e := newExchange(t, testLimits())
	c, _ := e.login(t, "T1")

	e.manager.OnSessionClosed(c)
	_, err := e.manager.Login(e.now, "z", "T1", "s1", &frameSink{})
	assert.NoError(t, err)
}

func TestFinalize_RanksByProfitThenLoginOrder(t *testing.T) {
	e := newExchange(t, testLimits())
	e.etfBook.SetLevel(common.Sell, 10000, 100)

	first, _ := e.login(t, "T1")
	second, _ := e.login(t, "T2")

	// Equal profits fall back to login order.
	tied := e.manager.Finalize()
	require.Len(t, tied, 2)
	assert.Equal(t, "T1", tied[0].TeamName)
	assert.Equal(t, "T2", tied[1].TeamName)

	// T2 trades and is marked at a higher price: positive mark-to-market.
	e.insert(t, second, 1, common.Buy, 10000, 10, common.GoodForDay)
	e.manager.MarkToMarket(common.ETF, 10100)

	rankings := e.manager.Finalize()
	require.Len(t, rankings, 2)
	assert.Equal(t, "T2", rankings[0].TeamName)
	assert.Equal(t, int64(10), rankings[0].FinalPosition)
	assert.Equal(t, 1, rankings[0].Trades)
	assert.Equal(t, "T1", rankings[1].TeamName)

	// T1 never traded, so its profit is still zero.
	assert.Equal(t, int64(0), first.Account.Profit())
}

func TestFinalize_KeepsDisconnectedTeams(t *testing.T) {
	e := newExchange(t, testLimits())
	c, _ := e.login(t, "T1")
	e.manager.OnSessionClosed(c)

	rankings := e.manager.Finalize()
	require.Len(t, rankings, 1)
	assert.Equal(t, "T1", rankings[0].TeamName)
}
