// Command exchange runs one bounded match of the two-instrument simulator:
// it loads the JSON configuration and the scripted market-data file, binds
// the execution and information endpoints, and drives the match to
// completion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/competitor"
	"skoll/internal/config"
	"skoll/internal/controller"
	"skoll/internal/events"
	"skoll/internal/execution"
	"skoll/internal/information"
	"skoll/internal/limiter"
	"skoll/internal/timer"
	"skoll/internal/writers"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	path := "exchange.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	if err := run(path); err != nil {
		log.Error().Err(err).Msg("match failed")
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	tickSize := int64(cfg.Instrument.TickSize)
	books := map[common.Instrument]*book.Book{
		common.Future: book.New(common.Future, tickSize),
		common.ETF:    book.New(common.ETF, tickSize),
	}

	script, err := events.Load(cfg.Engine.MarketDataFile)
	if err != nil {
		return err
	}

	tm := timer.New(secondsToDuration(cfg.Engine.TickInterval), cfg.Engine.Speed)

	limits := competitor.Limits{
		ActiveOrderCount: cfg.Limits.ActiveOrderCountLimit,
		ActiveVolume:     uint32(cfg.Limits.ActiveVolumeLimit),
		Position:         int64(cfg.Limits.PositionLimit),
		EtfClamp:         decimal.NewFromFloat(cfg.Instrument.EtfClamp),
	}
	fees := competitor.Fees{
		Maker: decimal.NewFromFloat(cfg.Fees.Maker),
		Taker: decimal.NewFromFloat(cfg.Fees.Taker),
	}
	// The frequency window is scaled the same way the tick interval is,
	// so simulated time matches real time under fast-forward.
	frequencyInterval := time.Duration(float64(secondsToDuration(cfg.Limits.MessageFrequencyInterval)) / cfg.Engine.Speed)
	newLimiter := func() *limiter.Limiter {
		return limiter.New(cfg.Limits.MessageFrequencyLimit, frequencyInterval)
	}

	matchWriter := writers.NewMatchEventsWriter(cfg.Engine.MatchEventsFile)
	scoreWriter := writers.NewScoreBoardWriter(cfg.Engine.ScoreBoardFile)
	feed := controller.NewMatchFeed()
	feed.Attach(matchWriter)

	manager := competitor.NewManager(cfg.Traders, books[common.ETF], books[common.Future], limits, fees, newLimiter, feed)
	reader := events.NewReader(script, books, manager)

	execServer, err := execution.Listen(fmt.Sprintf("%s:%d", cfg.Execution.Host, cfg.Execution.Port), manager)
	if err != nil {
		return fmt.Errorf("bind execution endpoint: %w", err)
	}
	publisher, err := information.Dial(fmt.Sprintf("%s:%d", cfg.Information.MulticastAddress, cfg.Information.Port), books)
	if err != nil {
		return fmt.Errorf("bind information endpoint: %w", err)
	}

	ctrl := controller.New(
		secondsToDuration(cfg.Engine.MarketOpenDelay),
		execServer, publisher, reader, matchWriter, scoreWriter, manager, tm, books, feed,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return ctrl.Run(ctx)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
