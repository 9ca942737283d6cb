// Package writers holds the CSV sinks the match produces: the
// match-events log and the final score-board. The match-events writer
// drains a buffered channel on a tomb-supervised goroutine so the event
// loop never blocks on disk I/O, and both signal task completion once
// their file is flushed.
package writers

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"

	"skoll/internal/competitor"
)

// MatchEventsWriter appends one CSV row per fill, in the exact order the
// fills occurred.
type MatchEventsWriter struct {
	path    string
	records chan competitor.MatchRecord
	tomb    tomb.Tomb

	started time.Time

	onTaskComplete []func()
}

// NewMatchEventsWriter builds a writer targeting path. Nothing touches
// the filesystem until Start.
func NewMatchEventsWriter(path string) *MatchEventsWriter {
	return &MatchEventsWriter{
		path:    path,
		records: make(chan competitor.MatchRecord, 1024),
	}
}

// OnTaskComplete registers an observer fired once the file is written and
// closed, in registration order.
func (w *MatchEventsWriter) OnTaskComplete(fn func()) {
	w.onTaskComplete = append(w.onTaskComplete, fn)
}

// Record implements competitor.MatchSink. Called from the event loop.
func (w *MatchEventsWriter) Record(r competitor.MatchRecord) {
	select {
	case w.records <- r:
	case <-w.tomb.Dying():
	}
}

// Start opens the output file and begins draining records. Timestamps in
// the log are seconds since Start, matching the simulated clock the rest
// of the match reports.
func (w *MatchEventsWriter) Start() error {
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("writers: create %s: %w", w.path, err)
	}
	w.started = time.Now()
	w.tomb.Go(func() error { return w.run(f) })
	return nil
}

// Finish stops accepting records, flushes everything already queued and
// fires the task-complete observers.
func (w *MatchEventsWriter) Finish() {
	w.tomb.Kill(nil)
}

// Wait blocks until the file has been flushed and closed.
func (w *MatchEventsWriter) Wait() error {
	return w.tomb.Wait()
}

func (w *MatchEventsWriter) run(f *os.File) error {
	defer f.Close()
	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"Time", "Instrument", "Maker", "Taker", "Price", "Volume", "MakerFee", "TakerFee"}); err != nil {
		return err
	}

	write := func(r competitor.MatchRecord) error {
		return cw.Write([]string{
			strconv.FormatFloat(r.Timestamp.Sub(w.started).Seconds(), 'f', 6, 64),
			r.Instrument.String(),
			r.MakerTeam,
			r.TakerTeam,
			strconv.FormatInt(r.Price, 10),
			strconv.FormatUint(uint64(r.Volume), 10),
			strconv.FormatInt(r.MakerFee, 10),
			strconv.FormatInt(r.TakerFee, 10),
		})
	}

	for {
		select {
		case r := <-w.records:
			if err := write(r); err != nil {
				return err
			}
		case <-w.tomb.Dying():
			// Drain whatever the event loop queued before Finish.
			for {
				select {
				case r := <-w.records:
					if err := write(r); err != nil {
						return err
					}
				default:
					cw.Flush()
					if err := cw.Error(); err != nil {
						return err
					}
					log.Info().Str("file", w.path).Msg("writers: match events flushed")
					for _, fn := range w.onTaskComplete {
						fn()
					}
					return nil
				}
			}
		}
	}
}
