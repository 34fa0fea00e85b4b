package ingestion

import (
	"PerpEngine/internal/event"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformed marks a message that can never be executed. Such messages
// are acknowledged and dropped rather than redelivered.
var ErrMalformed = errors.New("malformed message")

// maxPriceDigits bounds how many fractional digits a feed may publish.
const maxPriceDigits = 18

// Subject prefixes of the inbound streams.
const (
	InstructionSubjectPrefix = "perp.instructions."
	OracleSubjectPrefix      = "perp.oracle."
)

type instructionKind struct {
	token     string
	eventType event.EventType
	newFn     func() event.Instruction
}

// instructionKinds maps subject tokens to instructions. The token is the
// last subject element: perp.instructions.open_position.
var instructionKinds = []instructionKind{
	{"init_perpetuals", event.EventTypePerpetualsInitialized, func() event.Instruction { return &event.InitPerpetuals{} }},
	{"add_pool", event.EventTypePoolAdded, func() event.Instruction { return &event.AddPool{} }},
	{"add_custody", event.EventTypeCustodyAdded, func() event.Instruction { return &event.AddCustody{} }},
	{"set_custody_config", event.EventTypeCustodyConfigUpdated, func() event.Instruction { return &event.SetCustodyConfig{} }},
	{"set_permissions", event.EventTypePermissionsUpdated, func() event.Instruction { return &event.SetPermissions{} }},
	{"deposit_tokens", event.EventTypeTokensDeposited, func() event.Instruction { return &event.DepositTokens{} }},
	{"deposit_liquidity", event.EventTypeLiquidityDeposited, func() event.Instruction { return &event.DepositLiquidity{} }},
	{"init_staking_pool", event.EventTypeStakingPoolInitialized, func() event.Instruction { return &event.InitStakingPool{} }},
	{"open_position", event.EventTypePositionOpened, func() event.Instruction { return &event.OpenPosition{} }},
	{"close_position", event.EventTypePositionClosed, func() event.Instruction { return &event.ClosePosition{} }},
	{"liquidate", event.EventTypePositionLiquidated, func() event.Instruction { return &event.LiquidatePosition{} }},
	{"add_stake", event.EventTypeStakeAdded, func() event.Instruction { return &event.AddStake{} }},
	{"remove_liquid_stake", event.EventTypeLiquidStakeRemoved, func() event.Instruction { return &event.RemoveLiquidStake{} }},
	{"remove_locked_stake", event.EventTypeLockedStakeRemoved, func() event.Instruction { return &event.RemoveLockedStake{} }},
	{"claim_stakes", event.EventTypeStakesClaimed, func() event.Instruction { return &event.ClaimStakes{} }},
	{"resolve_staking_round", event.EventTypeStakingRoundResolved, func() event.Instruction { return &event.ResolveStakingRound{} }},
	{"resolve_locked_stakes", event.EventTypeLockedStakesResolved, func() event.Instruction { return &event.ResolveLockedStakes{} }},
}

func kindByType(et event.EventType) (instructionKind, bool) {
	for _, k := range instructionKinds {
		if k.eventType == et {
			return k, true
		}
	}
	return instructionKind{}, false
}

// EventTypeForSubject resolves an inbound instruction subject.
func EventTypeForSubject(subject string) (event.EventType, error) {
	token, ok := strings.CutPrefix(subject, InstructionSubjectPrefix)
	if !ok {
		return event.EventTypeUnknown, fmt.Errorf("%w: %s is not an instruction subject", ErrMalformed, subject)
	}
	for _, k := range instructionKinds {
		if k.token == token {
			return k.eventType, nil
		}
	}
	return event.EventTypeUnknown, fmt.Errorf("%w: unknown instruction subject %s", ErrMalformed, subject)
}

// SubjectFor returns the inbound subject an instruction is submitted on.
func SubjectFor(et event.EventType) (string, error) {
	k, ok := kindByType(et)
	if !ok {
		return "", fmt.Errorf("%w: no subject for %s", ErrMalformed, et)
	}
	return InstructionSubjectPrefix + k.token, nil
}

// ParseInstruction decodes the JSON body of an instruction. Unknown fields
// are rejected so a producer typo cannot silently zero a parameter.
func ParseInstruction(et event.EventType, data []byte) (event.Instruction, error) {
	k, ok := kindByType(et)
	if !ok {
		return nil, fmt.Errorf("%w: unknown instruction type %s", ErrMalformed, et)
	}
	ins := k.newFn()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ins); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformed, et, err)
	}
	if err := validateInstruction(ins); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, et, err)
	}
	return ins, nil
}

// EncodeInstruction is the inverse of ParseInstruction.
func EncodeInstruction(ins event.Instruction) ([]byte, error) {
	return json.Marshal(ins)
}

// validateInstruction checks what the decoder cannot: every instruction is
// identified and every owner-scoped instruction names its owner. Business
// rules stay in the engine.
func validateInstruction(ins event.Instruction) error {
	if ins.InstructionID() == uuid.Nil {
		return errors.New("missing instruction id")
	}
	var owner uuid.UUID
	switch in := ins.(type) {
	case *event.DepositTokens:
		owner = in.Owner
	case *event.DepositLiquidity:
		owner = in.Owner
	case *event.OpenPosition:
		owner = in.Owner
	case *event.ClosePosition:
		owner = in.Owner
	case *event.LiquidatePosition:
		if in.Liquidator == uuid.Nil {
			return errors.New("missing liquidator")
		}
		owner = in.Owner
	case *event.AddStake:
		owner = in.Owner
	case *event.RemoveLiquidStake:
		owner = in.Owner
	case *event.RemoveLockedStake:
		owner = in.Owner
	case *event.ClaimStakes:
		owner = in.Owner
	case *event.ResolveLockedStakes:
		owner = in.Owner
	default:
		return nil
	}
	if owner == uuid.Nil {
		return errors.New("missing owner")
	}
	return nil
}

// ParsePriceTick decodes an oracle observation published on
// perp.oracle.<handle>. The handle in the subject wins over the body.
func ParsePriceTick(subject string, data []byte) (*event.PriceTick, error) {
	handle, ok := strings.CutPrefix(subject, OracleSubjectPrefix)
	if !ok || handle == "" {
		return nil, fmt.Errorf("%w: %s is not an oracle subject", ErrMalformed, subject)
	}
	var tick event.PriceTick
	if err := json.Unmarshal(data, &tick); err != nil {
		return nil, fmt.Errorf("%w: decode price tick: %v", ErrMalformed, err)
	}
	tick.Oracle = handle
	if tick.Spot == 0 {
		return nil, fmt.Errorf("%w: %s tick %d has zero spot", ErrMalformed, handle, tick.Sequence)
	}
	if tick.PublishTime <= 0 {
		return nil, fmt.Errorf("%w: %s tick %d has no publish time", ErrMalformed, handle, tick.Sequence)
	}
	if tick.Exponent > 0 || tick.Exponent < -maxPriceDigits {
		return nil, fmt.Errorf("%w: %s tick %d has exponent %d", ErrMalformed, handle, tick.Sequence, tick.Exponent)
	}
	return &tick, nil
}
