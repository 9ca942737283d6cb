package competitor

import (
	"errors"
	"sort"
	"time"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/limiter"
)

var (
	ErrBadCredentials = errors.New("competitor: bad credentials")
	ErrAlreadyActive  = errors.New("competitor: team already logged in")
)

// MatchRecord is one row of the Match Event Log, handed to an external writer.
type MatchRecord struct {
	Timestamp  time.Time
	Instrument common.Instrument
	MakerTeam  string // empty when the maker was the market itself
	TakerTeam  string
	Price      int64
	Volume     uint32
	MakerFee   int64
	TakerFee   int64
}

// MatchSink receives one MatchRecord per fill, in the exact order matches
// occur.
type MatchSink interface {
	Record(MatchRecord)
}

// Ranking is one row of the score-board.
type Ranking struct {
	TeamName      string
	Profit        int64
	FinalPosition int64
	Trades        int
	Errors        int
}

// RateLimitFactory builds a fresh per-session Limiter using the
// configured limit/interval, already scaled by the Timer's speed factor.
type RateLimitFactory func() *limiter.Limiter

// Manager is the Competitor Manager: the roster of known
// teams, the registry of active sessions, and final ranking.
type Manager struct {
	roster map[string]string // team -> secret, from configuration

	byTeam    map[string]*Competitor
	bySession map[string]*Competitor

	// ranked keeps every team that ever logged in (latest session wins)
	// so a competitor that disconnected mid-match still appears on the
	// final score-board.
	ranked map[string]*Competitor

	etfBook    *book.Book
	futureBook *book.Book
	limits     Limits
	fees       Fees
	newLimiter RateLimitFactory
	sink       MatchSink

	loginSeq uint64
}

// NewManager builds a Competitor Manager bound to the two shared books.
// sink may be nil (no match-event log).
func NewManager(roster map[string]string, etfBook, futureBook *book.Book, limits Limits, fees Fees, newLimiter RateLimitFactory, sink MatchSink) *Manager {
	return &Manager{
		roster:     roster,
		byTeam:     make(map[string]*Competitor),
		bySession:  make(map[string]*Competitor),
		ranked:     make(map[string]*Competitor),
		etfBook:    etfBook,
		futureBook: futureBook,
		limits:     limits,
		fees:       fees,
		newLimiter: newLimiter,
		sink:       sink,
	}
}

// Login validates team name and secret against the roster and, on
// success, binds a fresh Competitor with a zeroed Account. sessionID is supplied by the caller (the Execution Server's
// own connection id) so inbound frames tagged with it route to the right
// Competitor without a second identifier scheme.
func (m *Manager) Login(now time.Time, sessionID, teamName, secret string, out OutboundSink) (*Competitor, error) {
	want, known := m.roster[teamName]
	if !known || want != secret {
		return nil, ErrBadCredentials
	}
	if _, active := m.byTeam[teamName]; active {
		return nil, ErrAlreadyActive
	}
	m.loginSeq++
	c := newCompetitor(teamName, sessionID, now, m.loginSeq, m.etfBook, m.futureBook, m.limits, m.fees, m.newLimiter(), out, m)
	m.byTeam[teamName] = c
	m.bySession[c.SessionID] = c
	m.ranked[teamName] = c
	return c, nil
}

// BySessionID looks up the Competitor owning a session id, for the
// Execution Server to route already-authenticated frames.
func (m *Manager) BySessionID(sessionID string) (*Competitor, bool) {
	c, ok := m.bySession[sessionID]
	return c, ok
}

// OnSessionClosed force-cancels every resting order the session owns and
// frees its team slot. Idempotent.
func (m *Manager) OnSessionClosed(c *Competitor) {
	if c.State == common.Closed {
		return
	}
	c.State = common.Closed
	c.forceCancelAll()
	delete(m.byTeam, c.TeamName)
	delete(m.bySession, c.SessionID)
}

// Competitors returns every currently-active session, for the tick loop
// to drive BeginTick and for shutdown to force-close them all.
func (m *Manager) Competitors() []*Competitor {
	out := make([]*Competitor, 0, len(m.bySession))
	for _, c := range m.bySession {
		out = append(out, c)
	}
	return out
}

// settle applies account effects and sends outbound notifications for
// each fill, in fill order, then logs a MatchRecord.
// Fills against the market's own synthetic orders (book.MarketOwner) have
// no owning Competitor and are settled only on the real side.
func (m *Manager) settle(now time.Time, instrument common.Instrument, fills []common.Fill) {
	for _, f := range fills {
		var makerTeam, takerTeam string
		var makerFee, takerFee int64

		if maker := m.bySession[f.Maker.SessionID]; maker != nil {
			makerFee = maker.Account.ApplyTrade(instrument, f.Maker.Side, f.Price, int64(f.Volume), true, m.fees.Maker)
			f.Maker.Fees += makerFee
			maker.trades++
			maker.sendFilled(f.Maker.ClientOrderID, f.Price, f.Volume)
			maker.sendStatus(f.Maker)
			maker.sendPosition(instrument)
			maker.recount()
			makerTeam = maker.TeamName
		}
		if taker := m.bySession[f.Taker.SessionID]; taker != nil {
			takerFee = taker.Account.ApplyTrade(instrument, f.Taker.Side, f.Price, int64(f.Volume), false, m.fees.Taker)
			f.Taker.Fees += takerFee
			taker.trades++
			taker.sendFilled(f.Taker.ClientOrderID, f.Price, f.Volume)
			taker.sendStatus(f.Taker)
			taker.sendPosition(instrument)
			taker.recount()
			takerTeam = taker.TeamName
		}

		if m.sink != nil {
			m.sink.Record(MatchRecord{
				Timestamp:  f.Timestamp,
				Instrument: instrument,
				MakerTeam:  makerTeam,
				TakerTeam:  takerTeam,
				Price:      f.Price,
				Volume:     f.Volume,
				MakerFee:   makerFee,
				TakerFee:   takerFee,
			})
		}
	}
}

// Settle applies account effects for fills produced outside a session's
// own insert path: the Market Events Reader's script trades, which bypass
// risk checks and fees for the market itself but still pay out (and
// charge) the competitor side normally.
func (m *Manager) Settle(now time.Time, instrument common.Instrument, fills []common.Fill) {
	m.settle(now, instrument, fills)
}

// MarkToMarket marks every active account against the given instrument's
// latest midpoint price, called once per tick.
func (m *Manager) MarkToMarket(instrument common.Instrument, price int64) {
	for _, c := range m.bySession {
		c.Account.MarkToMarket(instrument, price)
	}
}

// NotifyCancelled reports orders force-cancelled from outside the owning
// session, as when a REMOVE_LEVEL script event sweeps competitor liquidity
// off a level. Each owner gets an ORDER_STATUS showing the order
// terminal.
func (m *Manager) NotifyCancelled(orders []*common.Order) {
	for _, o := range orders {
		c, ok := m.bySession[o.SessionID]
		if !ok {
			continue
		}
		c.sendStatus(o)
		c.stageGC(o.ClientOrderID)
		c.recount()
	}
}

// Finalize collects each team's profit, breaking ties by earlier login,
// and returns the final ranking. It does not
// write the score-board itself; that is an external writer's job.
func (m *Manager) Finalize() []Ranking {
	rankings := make([]Ranking, 0, len(m.ranked))
	seqByTeam := make(map[string]uint64, len(m.ranked))
	for _, c := range m.ranked {
		rankings = append(rankings, Ranking{
			TeamName:      c.TeamName,
			Profit:        c.Account.Profit(),
			FinalPosition: c.Account.Position(common.ETF),
			Trades:        c.trades,
			Errors:        c.errors,
		})
		seqByTeam[c.TeamName] = c.loginSeq
	}
	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].Profit != rankings[j].Profit {
			return rankings[i].Profit > rankings[j].Profit
		}
		return seqByTeam[rankings[i].TeamName] < seqByTeam[rankings[j].TeamName]
	})
	return rankings
}
