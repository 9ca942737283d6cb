// Package wire implements the length-prefixed binary framing for both
// the execution (TCP) and information (UDP) protocols. All integers are
// big-endian; strings are zero-padded fixed-length buffers.
package wire

import (
	"encoding/binary"
	"errors"

	"skoll/internal/common"
)

// MessageType identifies an Execution-protocol frame body.
type MessageType uint8

const (
	MsgLogin MessageType = iota
	MsgInsertOrder
	MsgAmendOrder
	MsgCancelOrder
	MsgHedgeOrder
	MsgOrderFilled
	MsgOrderStatus
	MsgPositionChange
	MsgError
)

// HeaderSize is the length of the length-prefixed frame header: u16
// length, u8 message_type.
const HeaderSize = 3

const teamNameLen = 50
const secretLen = 50
const reasonLen = 50

var (
	ErrFrameTooShort  = errors.New("wire: frame shorter than its header declares")
	ErrUnknownMessage = errors.New("wire: unknown message type")
)

// Login is the client's LOGIN body.
type Login struct {
	TeamName string
	Secret   string
}

// InsertOrder is the client's INSERT_ORDER body.
type InsertOrder struct {
	ClientOrderID uint32
	Instrument    common.Instrument
	Side          common.Side
	Price         uint32
	Volume        uint32
	Lifespan      common.Lifespan
}

// AmendOrder is the client's AMEND_ORDER body.
type AmendOrder struct {
	ClientOrderID uint32
	NewVolume     uint32
}

// CancelOrder is the client's CANCEL_ORDER body.
type CancelOrder struct {
	ClientOrderID uint32
}

// HedgeOrder is the client's HEDGE_ORDER body.
type HedgeOrder struct {
	ClientOrderID uint32
	Instrument    common.Instrument
	Side          common.Side
	Price         uint32
	Volume        uint32
}

// OrderFilled is the server's ORDER_FILLED body.
type OrderFilled struct {
	ClientOrderID uint32
	Price         uint32
	Volume        uint32
}

// OrderStatus is the server's ORDER_STATUS body.
type OrderStatus struct {
	ClientOrderID   uint32
	FillVolume      uint32
	RemainingVolume uint32
	Fees            int32
}

// PositionChange is the server's POSITION_CHANGE body.
type PositionChange struct {
	Instrument common.Instrument
	Position   int32
}

// ErrorReport is the server's ERROR body.
type ErrorReport struct {
	ClientOrderID uint32
	Reason        string
}

func putFixedString(buf []byte, s string) {
	n := copy(buf, s)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

func getFixedString(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// Frame prepends the length+type header to a message body.
func Frame(msgType MessageType, body []byte) []byte {
	out := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(HeaderSize+len(body)))
	out[2] = byte(msgType)
	copy(out[HeaderSize:], body)
	return out
}

// ParseHeader reads the length and message type off the front of a frame.
func ParseHeader(frame []byte) (length uint16, msgType MessageType, err error) {
	if len(frame) < HeaderSize {
		return 0, 0, ErrFrameTooShort
	}
	return binary.BigEndian.Uint16(frame[0:2]), MessageType(frame[2]), nil
}

// EncodeLogin serialises a LOGIN frame.
func EncodeLogin(m Login) []byte {
	body := make([]byte, teamNameLen+secretLen)
	putFixedString(body[0:teamNameLen], m.TeamName)
	putFixedString(body[teamNameLen:], m.Secret)
	return Frame(MsgLogin, body)
}

// DecodeLogin parses a LOGIN body (frame payload after the header).
func DecodeLogin(body []byte) (Login, error) {
	if len(body) < teamNameLen+secretLen {
		return Login{}, ErrFrameTooShort
	}
	return Login{
		TeamName: getFixedString(body[0:teamNameLen]),
		Secret:   getFixedString(body[teamNameLen : teamNameLen+secretLen]),
	}, nil
}

const insertOrderBodyLen = 4 + 1 + 1 + 4 + 4 + 1

// EncodeInsertOrder serialises an INSERT_ORDER frame.
func EncodeInsertOrder(m InsertOrder) []byte {
	body := make([]byte, insertOrderBodyLen)
	binary.BigEndian.PutUint32(body[0:4], m.ClientOrderID)
	body[4] = byte(m.Instrument)
	body[5] = byte(m.Side)
	binary.BigEndian.PutUint32(body[6:10], m.Price)
	binary.BigEndian.PutUint32(body[10:14], m.Volume)
	body[14] = byte(m.Lifespan)
	return Frame(MsgInsertOrder, body)
}

// DecodeInsertOrder parses an INSERT_ORDER body.
func DecodeInsertOrder(body []byte) (InsertOrder, error) {
	if len(body) < insertOrderBodyLen {
		return InsertOrder{}, ErrFrameTooShort
	}
	return InsertOrder{
		ClientOrderID: binary.BigEndian.Uint32(body[0:4]),
		Instrument:    common.Instrument(body[4]),
		Side:          common.Side(body[5]),
		Price:         binary.BigEndian.Uint32(body[6:10]),
		Volume:        binary.BigEndian.Uint32(body[10:14]),
		Lifespan:      common.Lifespan(body[14]),
	}, nil
}

const amendOrderBodyLen = 4 + 4

// EncodeAmendOrder serialises an AMEND_ORDER frame.
func EncodeAmendOrder(m AmendOrder) []byte {
	body := make([]byte, amendOrderBodyLen)
	binary.BigEndian.PutUint32(body[0:4], m.ClientOrderID)
	binary.BigEndian.PutUint32(body[4:8], m.NewVolume)
	return Frame(MsgAmendOrder, body)
}

// DecodeAmendOrder parses an AMEND_ORDER body.
func DecodeAmendOrder(body []byte) (AmendOrder, error) {
	if len(body) < amendOrderBodyLen {
		return AmendOrder{}, ErrFrameTooShort
	}
	return AmendOrder{
		ClientOrderID: binary.BigEndian.Uint32(body[0:4]),
		NewVolume:     binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

const cancelOrderBodyLen = 4

// EncodeCancelOrder serialises a CANCEL_ORDER frame.
func EncodeCancelOrder(m CancelOrder) []byte {
	body := make([]byte, cancelOrderBodyLen)
	binary.BigEndian.PutUint32(body[0:4], m.ClientOrderID)
	return Frame(MsgCancelOrder, body)
}

// DecodeCancelOrder parses a CANCEL_ORDER body.
func DecodeCancelOrder(body []byte) (CancelOrder, error) {
	if len(body) < cancelOrderBodyLen {
		return CancelOrder{}, ErrFrameTooShort
	}
	return CancelOrder{ClientOrderID: binary.BigEndian.Uint32(body[0:4])}, nil
}

const hedgeOrderBodyLen = 4 + 1 + 1 + 4 + 4

// EncodeHedgeOrder serialises a HEDGE_ORDER frame.
func EncodeHedgeOrder(m HedgeOrder) []byte {
	body := make([]byte, hedgeOrderBodyLen)
	binary.BigEndian.PutUint32(body[0:4], m.ClientOrderID)
	body[4] = byte(m.Instrument)
	body[5] = byte(m.Side)
	binary.BigEndian.PutUint32(body[6:10], m.Price)
	binary.BigEndian.PutUint32(body[10:14], m.Volume)
	return Frame(MsgHedgeOrder, body)
}

// DecodeHedgeOrder parses a HEDGE_ORDER body.
func DecodeHedgeOrder(body []byte) (HedgeOrder, error) {
	if len(body) < hedgeOrderBodyLen {
		return HedgeOrder{}, ErrFrameTooShort
	}
	return HedgeOrder{
		ClientOrderID: binary.BigEndian.Uint32(body[0:4]),
		Instrument:    common.Instrument(body[4]),
		Side:          common.Side(body[5]),
		Price:         binary.BigEndian.Uint32(body[6:10]),
		Volume:        binary.BigEndian.Uint32(body[10:14]),
	}, nil
}

const orderFilledBodyLen = 4 + 4 + 4

// EncodeOrderFilled serialises an ORDER_FILLED frame.
func EncodeOrderFilled(m OrderFilled) []byte {
	body := make([]byte, orderFilledBodyLen)
	binary.BigEndian.PutUint32(body[0:4], m.ClientOrderID)
	binary.BigEndian.PutUint32(body[4:8], m.Price)
	binary.BigEndian.PutUint32(body[8:12], m.Volume)
	return Frame(MsgOrderFilled, body)
}

// DecodeOrderFilled parses an ORDER_FILLED body, for client-side use.
func DecodeOrderFilled(body []byte) (OrderFilled, error) {
	if len(body) < orderFilledBodyLen {
		return OrderFilled{}, ErrFrameTooShort
	}
	return OrderFilled{
		ClientOrderID: binary.BigEndian.Uint32(body[0:4]),
		Price:         binary.BigEndian.Uint32(body[4:8]),
		Volume:        binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

const orderStatusBodyLen = 4 + 4 + 4 + 4

// EncodeOrderStatus serialises an ORDER_STATUS frame.
func EncodeOrderStatus(m OrderStatus) []byte {
	body := make([]byte, orderStatusBodyLen)
	binary.BigEndian.PutUint32(body[0:4], m.ClientOrderID)
	binary.BigEndian.PutUint32(body[4:8], m.FillVolume)
	binary.BigEndian.PutUint32(body[8:12], m.RemainingVolume)
	binary.BigEndian.PutUint32(body[12:16], uint32(m.Fees))
	return Frame(MsgOrderStatus, body)
}

// DecodeOrderStatus parses an ORDER_STATUS body, for client-side use.
func DecodeOrderStatus(body []byte) (OrderStatus, error) {
	if len(body) < orderStatusBodyLen {
		return OrderStatus{}, ErrFrameTooShort
	}
	return OrderStatus{
		ClientOrderID:   binary.BigEndian.Uint32(body[0:4]),
		FillVolume:      binary.BigEndian.Uint32(body[4:8]),
		RemainingVolume: binary.BigEndian.Uint32(body[8:12]),
		Fees:            int32(binary.BigEndian.Uint32(body[12:16])),
	}, nil
}

const positionChangeBodyLen = 1 + 4

// EncodePositionChange serialises a POSITION_CHANGE frame.
func EncodePositionChange(m PositionChange) []byte {
	body := make([]byte, positionChangeBodyLen)
	body[0] = byte(m.Instrument)
	binary.BigEndian.PutUint32(body[1:5], uint32(m.Position))
	return Frame(MsgPositionChange, body)
}

// DecodePositionChange parses a POSITION_CHANGE body, for client-side use.
func DecodePositionChange(body []byte) (PositionChange, error) {
	if len(body) < positionChangeBodyLen {
		return PositionChange{}, ErrFrameTooShort
	}
	return PositionChange{
		Instrument: common.Instrument(body[0]),
		Position:   int32(binary.BigEndian.Uint32(body[1:5])),
	}, nil
}

const errorReportBodyLen = 4 + reasonLen

// EncodeErrorReport serialises an ERROR frame.
func EncodeErrorReport(m ErrorReport) []byte {
	body := make([]byte, errorReportBodyLen)
	binary.BigEndian.PutUint32(body[0:4], m.ClientOrderID)
	putFixedString(body[4:], m.Reason)
	return Frame(MsgError, body)
}

// DecodeErrorReport parses an ERROR body, for client-side use.
func DecodeErrorReport(body []byte) (ErrorReport, error) {
	if len(body) < errorReportBodyLen {
		return ErrorReport{}, ErrFrameTooShort
	}
	return ErrorReport{
		ClientOrderID: binary.BigEndian.Uint32(body[0:4]),
		Reason:        getFixedString(body[4:errorReportBodyLen]),
	}, nil
}
