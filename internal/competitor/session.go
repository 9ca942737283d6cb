// Package competitor implements the per-trader session state machine
// and its registry: order table, risk
// checks, hedge placement, wire framing, login/ranking.
package competitor

import (
	"time"

	"github.com/shopspring/decimal"

	"skoll/internal/account"
	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/limiter"
	"skoll/internal/wire"
)

// OutboundSink is the session-owned buffer of frames waiting to be
// written by the transport.
type OutboundSink interface {
	Enqueue(frame []byte)
}

// Limits mirrors config.Limits, expressed in the book/account package's
// own integer and decimal types so this package doesn't import config.
type Limits struct {
	ActiveOrderCount int
	ActiveVolume     uint32
	Position         int64
	EtfClamp         decimal.Decimal
}

// Fees holds the maker/taker rates applied to every ETF and FUTURE trade.
type Fees struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Competitor is one authenticated trader's session. Orders are shared by
// pointer with the book that holds them; the table maps client order ids
// to the same objects.
type Competitor struct {
	TeamName  string
	SessionID string
	State     common.LoginState
	Account   *account.Account
	Out       OutboundSink

	loggedInAt time.Time
	loginSeq   uint64

	orders    map[uint32]*common.Order
	pendingGC []uint32

	activeOrderCount int
	activeVolume     uint32

	trades int
	errors int

	limiter *limiter.Limiter
	limits  Limits
	fees    Fees

	etfBook    *book.Book
	futureBook *book.Book
	manager    *Manager
}

func newCompetitor(name, sessionID string, now time.Time, seq uint64, etfBook, futureBook *book.Book, limits Limits, fees Fees, rate *limiter.Limiter, out OutboundSink, mgr *Manager) *Competitor {
	return &Competitor{
		TeamName:   name,
		SessionID:  sessionID,
		State:      common.Active,
		Account:    account.New(),
		Out:        out,
		loggedInAt: now,
		loginSeq:   seq,
		orders:     make(map[uint32]*common.Order),
		limiter:    rate,
		limits:     limits,
		fees:       fees,
		etfBook:    etfBook,
		futureBook: futureBook,
		manager:    mgr,
	}
}

// BeginTick runs the order-table garbage collection: orders that went
// terminal during the previous tick's message handling are dropped now,
// one tick later, freeing their client_order_id for reuse. Call once per
// tick before dispatching that tick's messages.
func (c *Competitor) BeginTick() {
	for _, id := range c.pendingGC {
		delete(c.orders, id)
	}
	c.pendingGC = c.pendingGC[:0]
}

func (c *Competitor) stageGC(clientOrderID uint32) {
	c.pendingGC = append(c.pendingGC, clientOrderID)
}

// HandleMessage dispatches one inbound Execution-protocol frame. It
// assumes the session is already ACTIVE; LOGIN and pre-login framing are
// handled by the Execution Server and Manager. The return reports whether
// the message forced the session closed, and why: the frequency limit, an
// unknown message type, or a malformed body.
func (c *Competitor) HandleMessage(now time.Time, msgType wire.MessageType, body []byte) (closeReason string, closed bool) {
	if !c.limiter.TryAdmit(now) {
		return ReasonMessageRateExceeded, true
	}
	var err error
	switch msgType {
	case wire.MsgInsertOrder:
		var m wire.InsertOrder
		if m, err = wire.DecodeInsertOrder(body); err == nil {
			c.handleInsert(now, m)
		}
	case wire.MsgAmendOrder:
		var m wire.AmendOrder
		if m, err = wire.DecodeAmendOrder(body); err == nil {
			c.handleAmend(m)
		}
	case wire.MsgCancelOrder:
		var m wire.CancelOrder
		if m, err = wire.DecodeCancelOrder(body); err == nil {
			c.handleCancel(m)
		}
	case wire.MsgHedgeOrder:
		var m wire.HedgeOrder
		if m, err = wire.DecodeHedgeOrder(body); err == nil {
			c.handleHedge(now, m)
		}
	default:
		return ReasonUnknownMessage, true
	}
	if err != nil {
		return ReasonMalformedFrame, true
	}
	return "", false
}

func (c *Competitor) handleInsert(now time.Time, m wire.InsertOrder) {
	if _, exists := c.orders[m.ClientOrderID]; exists {
		c.reject(m.ClientOrderID, ReasonDuplicateOrder)
		return
	}
	if m.Instrument != common.ETF {
		c.reject(m.ClientOrderID, ReasonBadInstrument)
		return
	}
	if m.Volume == 0 {
		c.reject(m.ClientOrderID, ReasonBadVolume)
		return
	}
	price := int64(m.Price)
	if price <= 0 || c.etfBook.TickSize <= 0 || price%c.etfBook.TickSize != 0 {
		c.reject(m.ClientOrderID, ReasonBadTickSize)
		return
	}
	if c.activeOrderCount+1 > c.limits.ActiveOrderCount {
		c.reject(m.ClientOrderID, ReasonActiveOrderCountExceeded)
		return
	}
	if uint64(c.activeVolume)+uint64(m.Volume) > uint64(c.limits.ActiveVolume) {
		c.reject(m.ClientOrderID, ReasonActiveVolumeExceeded)
		return
	}
	side := common.Side(m.Side)
	if !c.withinPositionLimit(side, int64(m.Volume)) {
		c.reject(m.ClientOrderID, ReasonPositionLimitExceeded)
		return
	}
	if !c.withinClampBand(price) {
		c.reject(m.ClientOrderID, ReasonOrderRejectedClamp)
		return
	}

	order := &common.Order{
		ClientOrderID:   m.ClientOrderID,
		Instrument:      common.ETF,
		Side:            side,
		Price:           price,
		OriginalVolume:  m.Volume,
		RemainingVolume: m.Volume,
		Lifespan:        common.Lifespan(m.Lifespan),
		SessionID:       c.SessionID,
	}
	fills, err := c.etfBook.Insert(order)
	if err != nil {
		c.reject(m.ClientOrderID, ReasonBadTickSize)
		return
	}
	if order.Lifespan == common.FillAndKill {
		// The book kills a FILL_AND_KILL remainder by zeroing
		// RemainingVolume; shrink OriginalVolume to what traded so
		// ORDER_STATUS reports the real fill volume.
		order.OriginalVolume = filledVolume(fills)
	}
	c.orders[m.ClientOrderID] = order
	c.recount()
	c.manager.settle(now, common.ETF, fills)
	if !order.Alive() {
		c.stageGC(order.ClientOrderID)
	}
}

func (c *Competitor) handleAmend(m wire.AmendOrder) {
	order, ok := c.orders[m.ClientOrderID]
	if !ok || !order.Alive() {
		c.reject(m.ClientOrderID, ReasonUnknownOrder)
		return
	}
	if err := c.etfBook.Amend(order, m.NewVolume); err != nil {
		c.reject(m.ClientOrderID, ReasonAmendWouldIncrease)
		return
	}
	c.recount()
	c.sendStatus(order)
	if !order.Alive() {
		c.stageGC(order.ClientOrderID)
	}
}

func (c *Competitor) handleCancel(m wire.CancelOrder) {
	order, ok := c.orders[m.ClientOrderID]
	if !ok || !order.Alive() {
		c.reject(m.ClientOrderID, ReasonUnknownOrder)
		return
	}
	_ = c.etfBook.Cancel(order)
	c.recount()
	c.sendStatus(order)
	c.stageGC(order.ClientOrderID)
}

// handleHedge places an immediate-or-cancel order against the FUTURE
// book. It never rests, never occupies the order table, and only ever
// consumes the top of the opposing book.
func (c *Competitor) handleHedge(now time.Time, m wire.HedgeOrder) {
	if m.Instrument != common.Future {
		c.reject(m.ClientOrderID, ReasonBadInstrument)
		return
	}
	if m.Volume == 0 {
		c.reject(m.ClientOrderID, ReasonBadVolume)
		return
	}
	price := int64(m.Price)
	if price <= 0 || c.futureBook.TickSize <= 0 || price%c.futureBook.TickSize != 0 {
		c.reject(m.ClientOrderID, ReasonBadTickSize)
		return
	}
	order := &common.Order{
		ClientOrderID:   m.ClientOrderID,
		Instrument:      common.Future,
		Side:            common.Side(m.Side),
		Price:           price,
		OriginalVolume:  m.Volume,
		RemainingVolume: m.Volume,
		Lifespan:        common.FillAndKill,
		SessionID:       c.SessionID,
	}
	fills, err := c.futureBook.MatchTopOfBook(order)
	if err != nil {
		c.reject(m.ClientOrderID, ReasonBadTickSize)
		return
	}
	// The unfilled remainder is cancelled; report only what traded.
	order.OriginalVolume = filledVolume(fills)
	c.manager.settle(now, common.Future, fills)
	c.sendStatus(order)
}

// filledVolume sums the volume of fills, all of which share one taker.
func filledVolume(fills []common.Fill) uint32 {
	var total uint32
	for _, f := range fills {
		total += f.Volume
	}
	return total
}

// withinPositionLimit projects the worst-case resulting ETF position: the
// current position, plus every resting buy's remaining volume (they may
// all fill), minus every resting sell's remaining volume, plus/minus this
// candidate order by side.
func (c *Competitor) withinPositionLimit(side common.Side, volume int64) bool {
	projected := c.Account.Position(common.ETF)
	for _, o := range c.orders {
		if !o.Alive() || o.Instrument != common.ETF {
			continue
		}
		if o.Side == common.Buy {
			projected += int64(o.RemainingVolume)
		} else {
			projected -= int64(o.RemainingVolume)
		}
	}
	if side == common.Buy {
		projected += volume
	} else {
		projected -= volume
	}
	return projected >= -c.limits.Position && projected <= c.limits.Position
}

// withinClampBand reports whether price lies in
// [mid×(1−clamp), mid×(1+clamp)] rounded to the ETF tick size, evaluated
// against the current FUTURE midpoint. An absent FUTURE mid (either side
// of the FUTURE book empty) leaves the band open, so any tick-valid price
// is accepted.
func (c *Competitor) withinClampBand(price int64) bool {
	mid, ok := c.futureBook.Midpoint()
	if !ok {
		return true
	}
	lo, hi := clampBand(mid, c.limits.EtfClamp, c.etfBook.TickSize)
	return price >= lo && price <= hi
}

func clampBand(mid int64, clamp decimal.Decimal, tickSize int64) (lo, hi int64) {
	one := decimal.NewFromInt(1)
	midDec := decimal.NewFromInt(mid)
	lo = roundToTick(midDec.Mul(one.Sub(clamp)), tickSize)
	hi = roundToTick(midDec.Mul(one.Add(clamp)), tickSize)
	return
}

func roundToTick(value decimal.Decimal, tickSize int64) int64 {
	if tickSize <= 0 {
		return value.Round(0).IntPart()
	}
	tick := decimal.NewFromInt(tickSize)
	return value.Div(tick).Round(0).Mul(tick).IntPart()
}

// recount recomputes active-order-count and active-volume from the order
// table rather than tracking them incrementally, so the session invariant
// can never drift out from under a bug in some other code path.
func (c *Competitor) recount() {
	count := 0
	var volume uint32
	for _, o := range c.orders {
		if o.Alive() && o.Instrument == common.ETF {
			count++
			volume += o.RemainingVolume
		}
	}
	c.activeOrderCount = count
	c.activeVolume = volume
}

func (c *Competitor) sendFilled(clientOrderID uint32, price int64, volume uint32) {
	c.Out.Enqueue(wire.EncodeOrderFilled(wire.OrderFilled{
		ClientOrderID: clientOrderID,
		Price:         uint32(price),
		Volume:        volume,
	}))
}

func (c *Competitor) sendStatus(o *common.Order) {
	c.Out.Enqueue(wire.EncodeOrderStatus(wire.OrderStatus{
		ClientOrderID:   o.ClientOrderID,
		FillVolume:      o.OriginalVolume - o.RemainingVolume,
		RemainingVolume: o.RemainingVolume,
		Fees:            int32(o.Fees),
	}))
}

func (c *Competitor) sendPosition(instrument common.Instrument) {
	c.Out.Enqueue(wire.EncodePositionChange(wire.PositionChange{
		Instrument: instrument,
		Position:   int32(c.Account.Position(instrument)),
	}))
}

func (c *Competitor) reject(clientOrderID uint32, reason string) {
	c.errors++
	c.Out.Enqueue(wire.EncodeErrorReport(wire.ErrorReport{
		ClientOrderID: clientOrderID,
		Reason:        reason,
	}))
}

// forceCancelAll unlinks every resting order on both books, used on
// session close.
func (c *Competitor) forceCancelAll() {
	for _, o := range c.orders {
		if !o.Alive() {
			continue
		}
		if o.Instrument == common.ETF {
			_ = c.etfBook.Cancel(o)
		} else {
			_ = c.futureBook.Cancel(o)
		}
		c.sendStatus(o)
	}
	c.recount()
}
