// Command autotrader is the illustrative sample strategy: a static
// order-book-imbalance (SOBI) trader that compares each side's
// volume-weighted average price against the midprice and quotes on the
// side the book is leaning away from. It speaks the real wire protocol
// over the execution TCP endpoint and the information UDP feed.
//
// The strategy is illustrative only: it demonstrates the protocol, not a
// profitable approach.
package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skoll/internal/common"
	"skoll/internal/wire"
)

const (
	lotSize       = 100
	positionLimit = 1000
	tickSize      = 100
)

type traderConfig struct {
	TeamName    string `json:"TeamName"`
	Secret      string `json:"Secret"`
	Execution   struct {
		Host string `json:"Host"`
		Port int    `json:"Port"`
	} `json:"Execution"`
	Information struct {
		ListenAddress string `json:"ListenAddress"`
		Port          int    `json:"Port"`
	} `json:"Information"`
}

type autoTrader struct {
	conn net.Conn

	nextOrderID uint32
	bidID       uint32
	bidPrice    int64
	askID       uint32
	askPrice    int64
	position    int64
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	path := "autotrader.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if err := run(path); err != nil {
		log.Error().Err(err).Msg("autotrader failed")
		os.Exit(1)
	}
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cfg traderConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", cfg.Execution.Host, cfg.Execution.Port))
	if err != nil {
		return fmt.Errorf("execution connection failed: %w", err)
	}
	defer conn.Close()

	info, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", cfg.Information.ListenAddress, cfg.Information.Port))
	if err != nil {
		return fmt.Errorf("information endpoint failed: %w", err)
	}
	defer info.Close()

	t := &autoTrader{conn: conn, nextOrderID: 1}
	if _, err := conn.Write(wire.EncodeLogin(wire.Login{TeamName: cfg.TeamName, Secret: cfg.Secret})); err != nil {
		return err
	}
	log.Info().Str("team", cfg.TeamName).Msg("logged in")

	go t.readExecution()

	buf := make([]byte, 2048)
	for {
		n, _, err := info.ReadFrom(buf)
		if err != nil {
			return err
		}
		if n < wire.HeaderSize {
			continue
		}
		if wire.InfoMessageType(buf[2]) != wire.MsgOrderBookUpdate {
			continue
		}
		update, err := wire.DecodeOrderBookUpdate(buf[wire.HeaderSize:n])
		if err != nil {
			continue
		}
		if update.Instrument == common.ETF {
			t.onBookUpdate(update)
		}
	}
}

// readExecution consumes server frames, tracking ETF POSITION_CHANGE
// reports so the quoting logic knows the live position.
func (t *autoTrader) readExecution() {
	header := make([]byte, wire.HeaderSize)
	for {
		if _, err := io.ReadFull(t.conn, header); err != nil {
			log.Warn().Err(err).Msg("execution stream closed")
			os.Exit(0)
		}
		length, msgType, err := wire.ParseHeader(header)
		if err != nil || int(length) < wire.HeaderSize {
			return
		}
		body := make([]byte, int(length)-wire.HeaderSize)
		if _, err := io.ReadFull(t.conn, body); err != nil {
			return
		}
		switch msgType {
		case wire.MsgPositionChange:
			if len(body) >= 5 && common.Instrument(body[0]) == common.ETF {
				t.position = int64(int32(binary.BigEndian.Uint32(body[1:5])))
			}
		case wire.MsgError:
			log.Warn().Str("frame", "ERROR").Msg("exchange rejected a request")
		}
	}
}

// onBookUpdate implements the SOBI signal: if the ask side's VWAP is
// further from the midprice than the bid side's, the book is ask-heavy
// and the price should drift up, so quote a bid; and vice versa.
func (t *autoTrader) onBookUpdate(u wire.OrderBookUpdate) {
	bidVWAP, bidOK := vwap(u.BidPrices, u.BidVolumes)
	askVWAP, askOK := vwap(u.AskPrices, u.AskVolumes)
	if !bidOK || !askOK || u.BidPrices[0] == 0 || u.AskPrices[0] == 0 {
		return
	}
	mid := (float64(u.BidPrices[0]) + float64(u.AskPrices[0])) / 2

	adjustment := -(t.position / lotSize) * tickSize
	newBid := int64(u.BidPrices[0]) + adjustment
	newAsk := int64(u.AskPrices[0]) + adjustment

	if t.bidID != 0 && newBid != t.bidPrice {
		t.cancel(t.bidID)
		t.bidID = 0
	}
	if t.askID != 0 && newAsk != t.askPrice {
		t.cancel(t.askID)
		t.askID = 0
	}

	askImbalance := abs(askVWAP - mid)
	bidImbalance := abs(bidVWAP - mid)

	if t.bidID == 0 && newBid > 0 && askImbalance > bidImbalance && t.position+lotSize < positionLimit-lotSize {
		t.bidID = t.nextOrderID
		t.nextOrderID++
		t.bidPrice = newBid
		t.insert(t.bidID, common.Buy, uint32(newBid))
	}
	if t.askID == 0 && newAsk > 0 && bidImbalance > askImbalance && t.position-lotSize > -positionLimit+lotSize {
		t.askID = t.nextOrderID
		t.nextOrderID++
		t.askPrice = newAsk
		t.insert(t.askID, common.Sell, uint32(newAsk))
	}
}

func (t *autoTrader) insert(id uint32, side common.Side, price uint32) {
	t.conn.Write(wire.EncodeInsertOrder(wire.InsertOrder{
		ClientOrderID: id,
		Instrument:    common.ETF,
		Side:          side,
		Price:         price,
		Volume:        lotSize,
		Lifespan:      common.GoodForDay,
	}))
}

func (t *autoTrader) cancel(id uint32) {
	t.conn.Write(wire.EncodeCancelOrder(wire.CancelOrder{ClientOrderID: id}))
}

func vwap(prices, volumes [common.TopLevelCount]uint32) (float64, bool) {
	var notional, total float64
	for i := range prices {
		notional += float64(prices[i]) * float64(volumes[i])
		total += float64(volumes[i])
	}
	if total == 0 {
		return 0, false
	}
	return notional / total, true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
