package event

import (
	fpmath "PerpEngine/internal/math"
	"fmt"
)

// PriceTick is an oracle observation for one feed. It is not an
// instruction: ticks update the price cache and never enter the log.
type PriceTick struct {
	Oracle      string `json:"oracle"`
	Spot        uint64 `json:"spot"`
	EMA         uint64 `json:"ema"`
	Exponent    int32  `json:"exponent"`
	PublishTime int64  `json:"publish_time"` // unix seconds
	Sequence    int64  `json:"sequence"`     // monotonic per feed
}

func (p *PriceTick) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Oracle, p.Sequence)
}

// PriceReading is an oracle answer an instruction consumed. Readings are
// logged with the instruction so a replay sees the same prices.
type PriceReading struct {
	Oracle string             `json:"oracle"`
	Spot   fpmath.OraclePrice `json:"spot"`
	EMA    fpmath.OraclePrice `json:"ema"`
}
