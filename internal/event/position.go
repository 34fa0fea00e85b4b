package event

import (
	"PerpEngine/internal/state"

	"github.com/google/uuid"
)

// OpenPosition opens a leveraged position. Price is the worst acceptable
// entry price; Collateral and Size are in collateral and traded custody
// units respectively.
type OpenPosition struct {
	Header
	Owner             uuid.UUID  `json:"owner"`
	PoolID            string     `json:"pool_id"`
	CustodyID         string     `json:"custody_id"`
	CollateralCustody string     `json:"collateral_custody"`
	Side              state.Side `json:"side"`
	Price             uint64     `json:"price"`
	Collateral        uint64     `json:"collateral"`
	Size              uint64     `json:"size"`
}

func (*OpenPosition) EventType() EventType { return EventTypePositionOpened }

// ClosePosition fully closes a live position. Price is the worst
// acceptable exit price.
type ClosePosition struct {
	Header
	Owner     uuid.UUID  `json:"owner"`
	PoolID    string     `json:"pool_id"`
	CustodyID string     `json:"custody_id"`
	Side      state.Side `json:"side"`
	Price     uint64     `json:"price"`
}

func (*ClosePosition) EventType() EventType { return EventTypePositionClosed }

// LiquidatePosition closes a position that breached its leverage limit.
type LiquidatePosition struct {
	Header
	Liquidator uuid.UUID  `json:"liquidator"`
	Owner      uuid.UUID  `json:"owner"`
	PoolID     string     `json:"pool_id"`
	CustodyID  string     `json:"custody_id"`
	Side       state.Side `json:"side"`
}

func (*LiquidatePosition) EventType() EventType { return EventTypePositionLiquidated }
