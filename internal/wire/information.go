package wire

import (
	"encoding/binary"

	"skoll/internal/common"
)

// InfoMessageType identifies an Information-protocol datagram.
type InfoMessageType uint8

const (
	MsgOrderBookUpdate InfoMessageType = iota
	MsgTradeTicks
)

const topLevels = common.TopLevelCount

// OrderBookUpdate is the periodic top-of-book snapshot.
type OrderBookUpdate struct {
	Instrument common.Instrument
	TickNumber uint32
	AskPrices  [topLevels]uint32
	AskVolumes [topLevels]uint32
	BidPrices  [topLevels]uint32
	BidVolumes [topLevels]uint32
}

// TradeTicks is the edge-triggered per-price trade aggregate.
type TradeTicks struct {
	Instrument     common.Instrument
	SequenceNumber uint32
	AskPrices      [topLevels]uint32
	AskVolumes     [topLevels]uint32
	BidPrices      [topLevels]uint32
	BidVolumes     [topLevels]uint32
}

const infoHeaderLen = 1 + 4 // u8 instrument, u32 tick/sequence number
const levelsBodyLen = 4 * topLevels * 4
const orderBookBodyLen = infoHeaderLen + levelsBodyLen
const tradeTicksBodyLen = infoHeaderLen + levelsBodyLen

func putLevels(buf []byte, asks, askVols, bids, bidVols [topLevels]uint32) {
	off := 0
	for _, arr := range [][topLevels]uint32{asks, askVols, bids, bidVols} {
		for _, v := range arr {
			binary.BigEndian.PutUint32(buf[off:off+4], v)
			off += 4
		}
	}
}

func getLevels(buf []byte) (asks, askVols, bids, bidVols [topLevels]uint32) {
	arrs := [][topLevels]uint32{{}, {}, {}, {}}
	off := 0
	for a := range arrs {
		for i := 0; i < topLevels; i++ {
			arrs[a][i] = binary.BigEndian.Uint32(buf[off : off+4])
			off += 4
		}
	}
	return arrs[0], arrs[1], arrs[2], arrs[3]
}

// EncodeOrderBookUpdate serialises an ORDER_BOOK_UPDATE datagram.
func EncodeOrderBookUpdate(m OrderBookUpdate) []byte {
	buf := make([]byte, HeaderSize+orderBookBodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(buf)))
	buf[2] = byte(MsgOrderBookUpdate)
	body := buf[HeaderSize:]
	body[0] = byte(m.Instrument)
	binary.BigEndian.PutUint32(body[1:5], m.TickNumber)
	putLevels(body[infoHeaderLen:], m.AskPrices, m.AskVolumes, m.BidPrices, m.BidVolumes)
	return buf
}

// DecodeOrderBookUpdate parses an ORDER_BOOK_UPDATE body (payload after
// the 3-byte header), for test clients and the sample autotrader.
func DecodeOrderBookUpdate(body []byte) (OrderBookUpdate, error) {
	if len(body) < orderBookBodyLen {
		return OrderBookUpdate{}, ErrFrameTooShort
	}
	m := OrderBookUpdate{
		Instrument: common.Instrument(body[0]),
		TickNumber: binary.BigEndian.Uint32(body[1:5]),
	}
	m.AskPrices, m.AskVolumes, m.BidPrices, m.BidVolumes = getLevels(body[infoHeaderLen:])
	return m, nil
}

// EncodeTradeTicks serialises a TRADE_TICKS datagram.
func EncodeTradeTicks(m TradeTicks) []byte {
	buf := make([]byte, HeaderSize+tradeTicksBodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(buf)))
	buf[2] = byte(MsgTradeTicks)
	body := buf[HeaderSize:]
	body[0] = byte(m.Instrument)
	binary.BigEndian.PutUint32(body[1:5], m.SequenceNumber)
	putLevels(body[infoHeaderLen:], m.AskPrices, m.AskVolumes, m.BidPrices, m.BidVolumes)
	return buf
}

// DecodeTradeTicks parses a TRADE_TICKS body.
func DecodeTradeTicks(body []byte) (TradeTicks, error) {
	if len(body) < tradeTicksBodyLen {
		return TradeTicks{}, ErrFrameTooShort
	}
	m := TradeTicks{
		Instrument:     common.Instrument(body[0]),
		SequenceNumber: binary.BigEndian.Uint32(body[1:5]),
	}
	m.AskPrices, m.AskVolumes, m.BidPrices, m.BidVolumes = getLevels(body[infoHeaderLen:])
	return m, nil
}
