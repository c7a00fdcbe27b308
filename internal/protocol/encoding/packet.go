package encoding

import "time"

// Packet is any application value carried by a chain.
type Packet = any

// ParamPacket carries a raw parameter block, as used by function layers.
type ParamPacket interface {
	Param() []byte
	SetParam(param []byte) error
}

// PropertyCarrier receives the bytes of a property layer.
type PropertyCarrier interface {
	Property() []byte
	SetProperty(prop []byte)
}

// TimestampCarrier receives the value of a timestamp layer.
type TimestampCarrier interface {
	Timestamp() time.Time
	SetTimestamp(ts time.Time)
}
