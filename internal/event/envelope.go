package event

import (
	"github.com/google/uuid"
)

// EventType discriminates committed instructions in the log
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePerpetualsInitialized
	EventTypePoolAdded
	EventTypeCustodyAdded
	EventTypeCustodyConfigUpdated
	EventTypePermissionsUpdated
	EventTypeTokensDeposited
	EventTypeLiquidityDeposited
	EventTypeStakingPoolInitialized
	EventTypePositionOpened
	EventTypePositionClosed
	EventTypePositionLiquidated
	EventTypeStakeAdded
	EventTypeLiquidStakeRemoved
	EventTypeLockedStakeRemoved
	EventTypeStakesClaimed
	EventTypeStakingRoundResolved
	EventTypeLockedStakesResolved
)

var eventTypeNames = map[EventType]string{
	EventTypePerpetualsInitialized:  "PerpetualsInitialized",
	EventTypePoolAdded:              "PoolAdded",
	EventTypeCustodyAdded:           "CustodyAdded",
	EventTypeCustodyConfigUpdated:   "CustodyConfigUpdated",
	EventTypePermissionsUpdated:     "PermissionsUpdated",
	EventTypeTokensDeposited:        "TokensDeposited",
	EventTypeLiquidityDeposited:     "LiquidityDeposited",
	EventTypeStakingPoolInitialized: "StakingPoolInitialized",
	EventTypePositionOpened:         "PositionOpened",
	EventTypePositionClosed:         "PositionClosed",
	EventTypePositionLiquidated:     "PositionLiquidated",
	EventTypeStakeAdded:             "StakeAdded",
	EventTypeLiquidStakeRemoved:     "LiquidStakeRemoved",
	EventTypeLockedStakeRemoved:     "LockedStakeRemoved",
	EventTypeStakesClaimed:          "StakesClaimed",
	EventTypeStakingRoundResolved:   "StakingRoundResolved",
	EventTypeLockedStakesResolved:   "LockedStakesResolved",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) EventType {
	for et, n := range eventTypeNames {
		if n == name {
			return et
		}
	}
	return EventTypeUnknown
}

// EventEnvelope wraps every committed instruction in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from the submitter
	InstructionID uuid.UUID

	// Event type discriminator
	EventType EventType

	// Engine clock at execution, unix seconds
	Timestamp int64

	// JSON-encoded Outcome
	Payload []byte

	// SHA-256 of state AFTER applying this instruction
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte
}

// Instruction is the interface every state transition request implements
type Instruction interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// InstructionID returns the submitter-assigned ID
	InstructionID() uuid.UUID

	// EventType returns the discriminator of the committed result
	EventType() EventType
}

// Header carries the submitter-assigned instruction ID.
type Header struct {
	ID uuid.UUID `json:"id"`
}

func (h Header) IdempotencyKey() string {
	return h.ID.String()
}

func (h Header) InstructionID() uuid.UUID {
	return h.ID
}
