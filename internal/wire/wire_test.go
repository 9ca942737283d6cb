package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/common"
)

func TestFrame_HeaderCarriesLengthAndType(t *testing.T) {
	frame := Frame(MsgCancelOrder, []byte{0, 0, 0, 7})

	length, msgType, err := ParseHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, uint16(HeaderSize+4), length)
	assert.Equal(t, MsgCancelOrder, msgType)
}

func TestParseHeader_TooShort(t *testing.T) {
	_, _, err := ParseHeader([]byte{0x00})
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestLogin_RoundTripPadsStrings(t *testing.T) {
	frame := EncodeLogin(Login{TeamName: "team", Secret: "hunter2"})
	require.Len(t, frame, HeaderSize+100)

	got, err := DecodeLogin(frame[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, Login{TeamName: "team", Secret: "hunter2"}, got)
}

func TestInsertOrder_RoundTrip(t *testing.T) {
	want := InsertOrder{
		ClientOrderID: 42,
		Instrument:    common.ETF,
		Side:          common.Sell,
		Price:         10100,
		Volume:        7,
		Lifespan:      common.FillAndKill,
	}
	frame := EncodeInsertOrder(want)

	got, err := DecodeInsertOrder(frame[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOrderStatus_NegativeFeesSurviveTransit(t *testing.T) {
	frame := EncodeOrderStatus(OrderStatus{ClientOrderID: 9, FillVolume: 3, RemainingVolume: 0, Fees: -12})

	got, err := DecodeOrderStatus(frame[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, int32(-12), got.Fees)
}

func TestPositionChange_NegativePositionSurvivesTransit(t *testing.T) {
	frame := EncodePositionChange(PositionChange{Instrument: common.Future, Position: -150})

	got, err := DecodePositionChange(frame[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, PositionChange{Instrument: common.Future, Position: -150}, got)
}

func TestErrorReport_ReasonTruncatesAtNul(t *testing.T) {
	frame := EncodeErrorReport(ErrorReport{ClientOrderID: 1, Reason: "OrderRejectedClamp"})

	got, err := DecodeErrorReport(frame[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, "OrderRejectedClamp", got.Reason)
}

func TestDecode_ShortBodiesRejected(t *testing.T) {
	_, err := DecodeInsertOrder([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrFrameTooShort)
	_, err = DecodeLogin([]byte{1})
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestOrderBookUpdate_RoundTrip(t *testing.T) {
	want := OrderBookUpdate{
		Instrument: common.ETF,
		TickNumber: 17,
		AskPrices:  [5]uint32{10000, 10100, 0, 0, 0},
		AskVolumes: [5]uint32{7, 5, 0, 0, 0},
		BidPrices:  [5]uint32{9900, 0, 0, 0, 0},
		BidVolumes: [5]uint32{3, 0, 0, 0, 0},
	}
	frame := EncodeOrderBookUpdate(want)

	length, _, err := ParseHeader(frame)
	require.NoError(t, err)
	require.Equal(t, int(length), len(frame))
	assert.Equal(t, InfoMessageType(frame[2]), MsgOrderBookUpdate)

	got, err := DecodeOrderBookUpdate(frame[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTradeTicks_RoundTrip(t *testing.T) {
	want := TradeTicks{
		Instrument:     common.Future,
		SequenceNumber: 1,
		BidPrices:      [5]uint32{10100, 10000, 0, 0, 0},
		BidVolumes:     [5]uint32{2, 10, 0, 0, 0},
	}
	frame := EncodeTradeTicks(want)

	got, err := DecodeTradeTicks(frame[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
