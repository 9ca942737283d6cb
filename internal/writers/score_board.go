package writers

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"skoll/internal/competitor"
)

// ScoreBoardWriter writes the final ranking once, at match end. Unlike the match-events writer it has no
// streaming phase, so it writes synchronously from the shutdown path and
// fires its task-complete observers inline.
type ScoreBoardWriter struct {
	path string

	onTaskComplete []func()
}

func NewScoreBoardWriter(path string) *ScoreBoardWriter {
	return &ScoreBoardWriter{path: path}
}

// OnTaskComplete registers an observer fired once the score-board has
// been written, in registration order.
func (w *ScoreBoardWriter) OnTaskComplete(fn func()) {
	w.onTaskComplete = append(w.onTaskComplete, fn)
}

// Finish writes the ranking rows in order and flushes the file.
func (w *ScoreBoardWriter) Finish(rankings []competitor.Ranking) error {
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("writers: create %s: %w", w.path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"Team", "Profit", "FinalPosition", "Trades", "Errors"}); err != nil {
		return err
	}
	for _, r := range rankings {
		if err := cw.Write([]string{
			r.TeamName,
			strconv.FormatInt(r.Profit, 10),
			strconv.FormatInt(r.FinalPosition, 10),
			strconv.Itoa(r.Trades),
			strconv.Itoa(r.Errors),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	log.Info().Str("file", w.path).Int("teams", len(rankings)).Msg("writers: score board written")
	for _, fn := range w.onTaskComplete {
		fn()
	}
	return nil
}
