package common

import "time"

// Fill describes one execution produced by the matching algorithm: a
// maker order resting on the book and a taker order that crossed it.
// Both orders have already had RemainingVolume decremented by Volume.
type Fill struct {
	Instrument Instrument
	Maker      *Order
	Taker      *Order
	Price      int64
	Volume     uint32
	Timestamp  time.Time
}

func (f Fill) String() string {
	return f.Maker.String() + " <-x-> " + f.Taker.String()
}
