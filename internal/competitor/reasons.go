package competitor

// Rejection and close reasons sent back on the wire in ERROR frames.
const (
	ReasonDuplicateOrder           = "DuplicateOrderID"
	ReasonBadTickSize              = "BadTickSize"
	ReasonBadInstrument            = "BadInstrument"
	ReasonBadVolume                = "BadVolume"
	ReasonOrderRejectedClamp       = "OrderRejectedClamp"
	ReasonActiveOrderCountExceeded = "ActiveOrderCountExceeded"
	ReasonActiveVolumeExceeded     = "ActiveVolumeExceeded"
	ReasonPositionLimitExceeded    = "PositionLimitExceeded"
	ReasonUnknownOrder             = "UnknownOrder"
	ReasonAmendWouldIncrease       = "AmendWouldIncreaseVolume"
	ReasonMessageRateExceeded      = "MessageRateExceeded"
	ReasonUnknownMessage           = "UnknownMessageType"
	ReasonMalformedFrame           = "MalformedFrame"
	ReasonLoginTimeout             = "LoginTimeout"
	ReasonBadCredentials           = "BadCredentials"
	ReasonAlreadyActive            = "AlreadyActive"
)
