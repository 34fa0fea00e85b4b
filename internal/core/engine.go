package core

import (
	"PerpEngine/internal/collab"
	"PerpEngine/internal/event"
	"PerpEngine/internal/ledger"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/state"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrDuplicateInstruction is returned for an instruction whose key was
// already committed. Nothing is re-applied.
var ErrDuplicateInstruction = errors.New("duplicate instruction")

// ErrStateDiverged is returned when a replayed instruction does not
// reproduce the logged state hash.
var ErrStateDiverged = errors.New("replayed state diverged from log")

// Config tunes the engine.
type Config struct {
	// IdempotencyCapacity bounds the in-memory dedup LRU.
	IdempotencyCapacity int
	// PositionRent is the refundable deposit taken in RentMint for every
	// position record. Zero disables it.
	PositionRent uint64
	RentMint     string
}

func DefaultConfig() Config {
	return Config{
		IdempotencyCapacity: 1_000_000,
		RentMint:            "native",
	}
}

// Collaborators are the services the engine calls out to.
type Collaborators struct {
	Clock      collab.Clock
	Oracle     collab.Oracle
	Governance collab.Governance
	Automation collab.Automation
}

// Engine executes instructions one at a time against in-memory state.
// Every instruction commits completely or not at all.
type Engine struct {
	mu sync.RWMutex

	cfg         Config
	sequence    int64
	hasher      *StateHasher
	balances    *ledger.BalanceTracker
	journalGen  *ledger.JournalGenerator
	validator   *ledger.InvariantValidator
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	clock      collab.Clock
	oracle     collab.Oracle
	governance collab.Governance
	automation collab.Automation

	state *State

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one committed instruction handed to the persistence and
// projection workers.
type CoreOutput struct {
	Envelope    *event.EventEnvelope
	Batch       *ledger.Batch
	Outcome     *event.Outcome
	Instruction event.Instruction
	Prices      []event.PriceReading
}

func NewEngine(
	cfg Config,
	deps Collaborators,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	balances := ledger.NewBalanceTracker()
	if deps.Clock == nil {
		deps.Clock = collab.SystemClock{}
	}
	if deps.Governance == nil {
		deps.Governance = collab.NewMemoryGovernance()
	}
	if deps.Automation == nil {
		deps.Automation = collab.NewMemoryAutomation()
	}

	return &Engine{
		cfg:            cfg,
		hasher:         NewStateHasher(),
		balances:       balances,
		journalGen:     ledger.NewJournalGenerator(),
		validator:      ledger.NewInvariantValidator(balances),
		idempotency:    NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker, metrics),
		metrics:        metrics,
		logger:         logger,
		clock:          deps.Clock,
		oracle:         deps.Oracle,
		governance:     deps.Governance,
		automation:     deps.Automation,
		state:          newState(),
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Execute runs one instruction through the pipeline:
// dedup, stage, dispatch, fund check, side effects, apply, hash, emit.
func (e *Engine) Execute(ctx context.Context, ins event.Instruction) (*event.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(ctx, ins, e.clock.Now(), e.oracle, false)
}

// Replay re-executes a logged instruction at its original time against the
// prices it consumed, and checks that it reproduces the logged state hash.
func (e *Engine) Replay(ctx context.Context, ins event.Instruction, now int64, prices []event.PriceReading, want [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.execute(ctx, ins, now, recordedOracle(prices), true); err != nil {
		return err
	}
	if got := e.hasher.GetPrevHash(); got != want {
		return fmt.Errorf("%w: replay of %s at sequence %d hashed %x, log has %x",
			ErrStateDiverged, ins.IdempotencyKey(), e.sequence-1, got[:8], want[:8])
	}
	if e.metrics != nil {
		e.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, ins event.Instruction, now int64, oracle collab.Oracle, replay bool) (*event.Outcome, error) {
	start := time.Now()
	eventType := ins.EventType().String()
	idempotencyKey := ins.IdempotencyKey()

	var duplicate bool
	if replay {
		duplicate = e.idempotency.SeenRecently(eventType, idempotencyKey)
	} else {
		duplicate = e.idempotency.IsDuplicate(ctx, eventType, idempotencyKey)
	}
	if duplicate {
		e.reject(eventType, ErrDuplicateInstruction)
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicateInstruction, eventType, idempotencyKey)
	}

	t := e.begin(ctx, ins.InstructionID(), idempotencyKey, e.sequence, now, oracle)

	if err := e.dispatch(t, ins); err != nil {
		e.reject(eventType, err)
		return nil, err
	}

	// Fund check before any side effect leaves the engine.
	if err := e.validator.ValidateBatch(t.batch); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			err = fmt.Errorf("%w: %v", state.ErrInsufficientFunds, err)
		}
		e.reject(eventType, err)
		return nil, err
	}

	if err := e.runSideEffects(t); err != nil {
		e.reject(eventType, err)
		return nil, err
	}

	if !t.batch.IsEmpty() {
		if err := e.balances.ApplyBatch(t.batch); err != nil {
			panic(fmt.Sprintf("FATAL: checked batch failed to apply: %v", err))
		}
	}
	t.apply()

	if err := e.postCheckInvariants(t); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	hashStart := time.Now()
	digest := e.computeStateDigest(t)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(t.seq, digest)
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	outcome := t.outcome
	payload, err := json.Marshal(&outcome)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode outcome: %v", err))
	}

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:      t.seq,
			InstructionID: t.id,
			EventType:     ins.EventType(),
			Timestamp:     t.now,
			Payload:       payload,
			StateHash:     stateHash,
			PrevHash:      prevHash,
		},
		Batch:       t.batch,
		Outcome:     &outcome,
		Instruction: ins,
		Prices:      t.priceReadings(),
	}
	e.sequence++
	e.idempotency.MarkProcessed(eventType, idempotencyKey)
	for _, fn := range t.afterCommit {
		fn()
	}
	if !replay {
		e.emit(output)
	}

	if e.metrics != nil {
		e.metrics.InstructionsApplied.WithLabelValues(eventType).Inc()
		e.metrics.InstructionDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		for _, j := range t.batch.Journals {
			e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		for id, c := range t.custodies {
			e.metrics.CustodyOwned.WithLabelValues(id).Set(float64(c.Assets.Owned))
			e.metrics.CustodyLocked.WithLabelValues(id).Set(float64(c.Assets.Locked))
		}
	}
	e.logger.Debug().
		Int64("sequence", t.seq).
		Str("event_type", eventType).
		Str("instruction", idempotencyKey).
		Int("journals", len(t.batch.Journals)).
		Msg("instruction committed")

	return &outcome, nil
}

func (e *Engine) reject(eventType string, err error) {
	code := state.ErrorCode(err)
	if errors.Is(err, ErrDuplicateInstruction) {
		code = "duplicate"
	}
	if e.metrics != nil {
		e.metrics.InstructionsRejected.WithLabelValues(eventType, code).Inc()
	}
	e.logger.Warn().
		Err(err).
		Str("event_type", eventType).
		Str("code", code).
		Msg("instruction rejected")
}

// recordedOracle answers from the readings logged with an instruction.
type recordedOracle []event.PriceReading

func (r recordedOracle) GetPrices(_ context.Context, handle string, _ int64) (fpmath.OraclePrice, fpmath.OraclePrice, error) {
	for _, reading := range r {
		if reading.Oracle == handle {
			return reading.Spot, reading.EMA, nil
		}
	}
	return fpmath.OraclePrice{}, fpmath.OraclePrice{}, fmt.Errorf("%w: no logged reading for %s", state.ErrStaleOraclePrice, handle)
}

// runSideEffects applies governance and automation calls staged by the
// handler. They run after the fund check so a rejected instruction never
// reaches a collaborator. A failed governance call rolls back the calls
// already made, so the instruction leaves no voting power behind.
func (e *Engine) runSideEffects(t *txn) error {
	applied := make([]voteEffect, 0, len(t.votes))
	for _, v := range t.votes {
		if v.add {
			if err := e.governance.AddVotingPower(v.owner, v.amount); err != nil {
				e.revertVotes(applied)
				return fmt.Errorf("governance deposit for %s: %w", v.owner, err)
			}
			applied = append(applied, v)
			continue
		}
		revoked, err := e.governance.RemoveVotingPower(v.owner, v.amount)
		if err != nil {
			e.revertVotes(applied)
			return fmt.Errorf("governance revoke for %s: %w", v.owner, err)
		}
		applied = append(applied, voteEffect{owner: v.owner, amount: revoked})
	}
	for _, a := range t.automation {
		var err error
		if a.resume {
			if e.automation.IsPaused(a.owner, a.typ) {
				err = e.automation.Resume(a.owner, a.typ)
			}
		} else if !e.automation.IsPaused(a.owner, a.typ) {
			err = e.automation.Pause(a.owner, a.typ)
		}
		if err != nil {
			e.logger.Error().Err(err).Str("owner", a.owner.String()).Msg("automation update failed")
		}
	}
	return nil
}

// revertVotes undoes applied governance calls in reverse order.
func (e *Engine) revertVotes(applied []voteEffect) {
	for i := len(applied) - 1; i >= 0; i-- {
		v := applied[i]
		var err error
		if v.add {
			_, err = e.governance.RemoveVotingPower(v.owner, v.amount)
		} else if v.amount > 0 {
			err = e.governance.AddVotingPower(v.owner, v.amount)
		}
		if err != nil {
			e.logger.Error().Err(err).Str("owner", v.owner.String()).Uint64("amount", v.amount).
				Msg("governance rollback failed")
		}
	}
}

// emit hands the output to the workers. Persistence blocks so no committed
// instruction is lost; projections drop on a full channel and catch up
// from the event log.
func (e *Engine) emit(output CoreOutput) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

// postCheckInvariants verifies every touched custody after commit: its
// vault holds exactly owned + collateral + protocol fees, locked never
// exceeds owned, and the live positions account for every locked unit.
func (e *Engine) postCheckInvariants(t *txn) error {
	for _, id := range sortedKeys(t.custodies) {
		c := e.state.Custodies[id]
		if c.Assets.Locked > c.Assets.Owned {
			return fmt.Errorf("custody %s locked %d exceeds owned %d", id, c.Assets.Locked, c.Assets.Owned)
		}
		if sum := e.state.Positions.SumLocked(id); sum != c.Assets.Locked {
			return fmt.Errorf("custody %s locked %d but positions hold %d", id, c.Assets.Locked, sum)
		}
		expected := c.Assets.Owned + c.Assets.Collateral + c.Assets.ProtocolFees
		if err := e.validator.ValidateVaultBalance(ledger.CustodyVault(c.ID, c.Mint), expected); err != nil {
			return err
		}
	}
	return nil
}

// computeStateDigest covers every account the batch touched and every
// record the instruction staged, in a fixed order.
func (e *Engine) computeStateDigest(t *txn) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range t.batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, e.balances.GetBalance(key))
	}

	appendRecord := func(tag string, v interface{}) {
		b, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode %s for digest: %v", tag, err))
		}
		digest = append(digest, tag...)
		digest = append(digest, b...)
	}
	if t.perpetuals != nil {
		appendRecord("perpetuals", t.perpetuals)
	}
	if t.cortex != nil {
		appendRecord("cortex", t.cortex)
	}
	for _, id := range sortedKeys(t.pools) {
		appendRecord("pool", t.pools[id])
	}
	for _, id := range sortedKeys(t.custodies) {
		appendRecord("custody", t.custodies[id])
	}

	keys := make([]state.PositionKey, 0, len(t.positions))
	for key := range t.positions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return positionKeyLess(keys[i], keys[j]) })
	for _, key := range keys {
		if p := t.positions[key]; p != nil {
			digest = append(digest, p.CanonicalBytes()...)
			continue
		}
		digest = append(digest, key.Owner[:]...)
		digest = append(digest, "closed"...)
	}

	skeys := make([]stakingKey, 0, len(t.stakings))
	for key := range t.stakings {
		skeys = append(skeys, key)
	}
	sort.Slice(skeys, func(i, j int) bool { return stakingKeyLess(skeys[i], skeys[j]) })
	for _, key := range skeys {
		appendRecord("staking", t.stakings[key])
	}
	for _, typ := range []state.StakingType{state.StakingTypeLM, state.StakingTypeLP} {
		if p, ok := t.stakingPools[typ]; ok {
			appendRecord("staking_pool", p)
		}
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	u := uint64(v)
	return append(buf,
		byte(u),
		byte(u>>8),
		byte(u>>16),
		byte(u>>24),
		byte(u>>32),
		byte(u>>40),
		byte(u>>48),
		byte(u>>56),
	)
}

func positionKeyLess(a, b state.PositionKey) bool {
	if a.Owner != b.Owner {
		return a.Owner.String() < b.Owner.String()
	}
	if a.Pool != b.Pool {
		return a.Pool < b.Pool
	}
	if a.Custody != b.Custody {
		return a.Custody < b.Custody
	}
	return a.Side < b.Side
}

func stakingKeyLess(a, b stakingKey) bool {
	if a.Owner != b.Owner {
		return a.Owner.String() < b.Owner.String()
	}
	return a.Type < b.Type
}

// dispatch routes an instruction to its handler.
func (e *Engine) dispatch(t *txn, ins event.Instruction) error {
	switch in := ins.(type) {
	case *event.InitPerpetuals:
		return e.handleInitPerpetuals(t, in)
	case *event.AddPool:
		return e.handleAddPool(t, in)
	case *event.AddCustody:
		return e.handleAddCustody(t, in)
	case *event.SetCustodyConfig:
		return e.handleSetCustodyConfig(t, in)
	case *event.SetPermissions:
		return e.handleSetPermissions(t, in)
	case *event.DepositTokens:
		return e.handleDepositTokens(t, in)
	case *event.DepositLiquidity:
		return e.handleDepositLiquidity(t, in)
	case *event.InitStakingPool:
		return e.handleInitStakingPool(t, in)
	case *event.OpenPosition:
		return e.handleOpenPosition(t, in)
	case *event.ClosePosition:
		return e.handleClosePosition(t, in)
	case *event.LiquidatePosition:
		return e.handleLiquidatePosition(t, in)
	case *event.AddStake:
		return e.handleAddStake(t, in)
	case *event.RemoveLiquidStake:
		return e.handleRemoveLiquidStake(t, in)
	case *event.RemoveLockedStake:
		return e.handleRemoveLockedStake(t, in)
	case *event.ClaimStakes:
		return e.handleClaimStakes(t, in)
	case *event.ResolveStakingRound:
		return e.handleResolveStakingRound(t, in)
	case *event.ResolveLockedStakes:
		return e.handleResolveLockedStakes(t, in)
	default:
		return fmt.Errorf("%w: unknown instruction %T", state.ErrInvalidArgument, ins)
	}
}

// Sequence returns the next sequence to assign.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// StateHash returns the chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.GetPrevHash()
}

// View runs fn with read access to committed state and balances. fn must
// not retain or mutate anything it is given.
func (e *Engine) View(fn func(s *State, balances *ledger.BalanceTracker)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.state, e.balances)
}

// ViewAt is View that also passes the last committed sequence, or -1
// before the first commit.
func (e *Engine) ViewAt(fn func(asOf int64, s *State, balances *ledger.BalanceTracker)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.sequence-1, e.state, e.balances)
}

// WarmLRU loads recently committed idempotency keys.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}
