// Package controller wires the match lifecycle together: start the
// endpoints, hold the market open delay while competitors connect, drive
// the per-tick sequence, and run the controlled shutdown once the
// market-events script is exhausted.
package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/competitor"
	"skoll/internal/events"
	"skoll/internal/execution"
	"skoll/internal/information"
	"skoll/internal/timer"
	"skoll/internal/writers"
)

// MatchFeed fans one MatchRecord out to every attached sink in attach
// order: the match-events writer always, plus the optional heads-up
// display hook.
type MatchFeed struct {
	sinks []competitor.MatchSink
}

func NewMatchFeed() *MatchFeed {
	return &MatchFeed{}
}

// Attach adds a sink. Not safe after the match starts.
func (f *MatchFeed) Attach(s competitor.MatchSink) {
	f.sinks = append(f.sinks, s)
}

// Record implements competitor.MatchSink.
func (f *MatchFeed) Record(r competitor.MatchRecord) {
	for _, s := range f.sinks {
		s.Record(r)
	}
}

// SinkFunc adapts a plain function to competitor.MatchSink, for the HUD
// hook. The display itself is an external collaborator; only its feed
// lives here.
type SinkFunc func(competitor.MatchRecord)

func (f SinkFunc) Record(r competitor.MatchRecord) { f(r) }

// Controller owns the match lifecycle.
type Controller struct {
	marketOpenDelay time.Duration

	execServer  *execution.Server
	publisher   *information.Publisher
	reader      *events.Reader
	matchWriter *writers.MatchEventsWriter
	scoreWriter *writers.ScoreBoardWriter
	manager     *competitor.Manager
	tm          *timer.Timer
	books       map[common.Instrument]*book.Book
	feed        *MatchFeed

	done bool
}

// New wires the controller's observers onto the timer and the reader.
// The per-tick ordering is fixed here, in one place: done-check, market
// events replay, publication, inbound message delivery, mark-to-market.
func New(
	marketOpenDelay time.Duration,
	execServer *execution.Server,
	publisher *information.Publisher,
	reader *events.Reader,
	matchWriter *writers.MatchEventsWriter,
	scoreWriter *writers.ScoreBoardWriter,
	manager *competitor.Manager,
	tm *timer.Timer,
	books map[common.Instrument]*book.Book,
	feed *MatchFeed,
) *Controller {
	c := &Controller{
		marketOpenDelay: marketOpenDelay,
		execServer:      execServer,
		publisher:       publisher,
		reader:          reader,
		matchWriter:     matchWriter,
		scoreWriter:     scoreWriter,
		manager:         manager,
		tm:              tm,
		books:           books,
		feed:            feed,
	}
	reader.OnComplete(func() { c.done = true })
	tm.OnTick(c.onTick)
	tm.OnShutdown(c.onShutdown)
	return c
}

// SetHeadsUpDisplayHook attaches an optional observer of the match-event
// stream. Call before Run.
func (c *Controller) SetHeadsUpDisplayHook(fn func(competitor.MatchRecord)) {
	if fn != nil {
		c.feed.Attach(SinkFunc(fn))
	}
}

// Run starts the match and blocks until it has completely shut down:
// endpoints up, writers started, market open delay, then the timer loop
// until the script completes.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().Msg("controller: starting the match")

	c.execServer.Start()
	if err := c.matchWriter.Start(); err != nil {
		return err
	}

	// Give the autotraders time to connect and log in. This window is
	// wall-clock, not tick-scaled: no ticks exist yet to scale by.
	select {
	case <-time.After(c.marketOpenDelay):
	case <-ctx.Done():
		c.tm.Shutdown("interrupted before market open")
		c.onShutdown(time.Now(), "interrupted before market open")
		return c.matchWriter.Wait()
	}

	log.Info().Msg("controller: market open")
	if err := c.tm.Run(ctx); err != nil {
		return err
	}
	return c.matchWriter.Wait()
}

func (c *Controller) onTick(now time.Time, tickNumber uint64) {
	if c.done {
		c.tm.Shutdown("match complete")
		return
	}

	c.reader.OnTick(now, tickNumber)
	c.publisher.OnTick(now, tickNumber)

	for _, comp := range c.manager.Competitors() {
		comp.BeginTick()
	}
	c.execServer.Drain(now)

	for instrument, b := range c.books {
		if mid, ok := b.Midpoint(); ok {
			c.manager.MarkToMarket(instrument, mid)
		}
	}
}

// onShutdown is the controlled teardown: rank, write the score-board, flush the
// match-events log, then close every session and endpoint. Safe to run
// once only; the timer guarantees a single shutdown emission.
func (c *Controller) onShutdown(now time.Time, reason string) {
	log.Info().Str("reason", reason).Msg("controller: shutting down")

	rankings := c.manager.Finalize()
	if err := c.scoreWriter.Finish(rankings); err != nil {
		log.Error().Err(err).Msg("controller: score board write failed")
	}
	c.matchWriter.Finish()

	for _, comp := range c.manager.Competitors() {
		c.manager.OnSessionClosed(comp)
	}
	if err := c.execServer.Stop(); err != nil {
		log.Warn().Err(err).Msg("controller: execution server stop")
	}
	if err := c.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("controller: publisher close")
	}
}
