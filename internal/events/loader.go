package events

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"skoll/internal/common"
)

// Load reads a market-data CSV of (tick, instrument, operation, price,
// volume) rows, one event per line, sorted by tick. A leading header row is skipped; an out-of-order
// tick is a parse failure, since the reader's replay loop depends on the
// sort.
func Load(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("events: open %s: %w", path, err)
	}
	defer f.Close()
	script, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("events: parse %s: %w", path, err)
	}
	return script, nil
}

func parse(r io.Reader) ([]Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 5

	var script []Event
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 {
			if _, err := strconv.ParseUint(record[0], 10, 64); err != nil {
				continue // header row
			}
		}
		ev, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(script); n > 0 && ev.Tick < script[n-1].Tick {
			return nil, fmt.Errorf("line %d: tick %d out of order", line, ev.Tick)
		}
		script = append(script, ev)
	}
	return script, nil
}

func parseRecord(record []string) (Event, error) {
	tick, err := strconv.ParseUint(record[0], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("tick: %w", err)
	}
	instrument, err := parseInstrument(record[1])
	if err != nil {
		return Event{}, err
	}
	evType, err := ParseType(record[2])
	if err != nil {
		return Event{}, err
	}
	price, err := strconv.ParseInt(record[3], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("price: %w", err)
	}
	volume, err := strconv.ParseUint(record[4], 10, 32)
	if err != nil {
		return Event{}, fmt.Errorf("volume: %w", err)
	}
	return Event{
		Tick:       tick,
		Instrument: instrument,
		Type:       evType,
		Price:      price,
		Volume:     uint32(volume),
	}, nil
}

func parseInstrument(s string) (common.Instrument, error) {
	switch s {
	case "FUTURE", "0":
		return common.Future, nil
	case "ETF", "1":
		return common.ETF, nil
	default:
		return 0, fmt.Errorf("unknown instrument %q", s)
	}
}
