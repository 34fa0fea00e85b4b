package core

import (
	"PerpEngine/internal/collab"
	"PerpEngine/internal/event"
	"PerpEngine/internal/ledger"
	"PerpEngine/internal/state"
	"context"
	"fmt"

	"github.com/google/uuid"
)

type voteEffect struct {
	owner  uuid.UUID
	amount uint64
	add    bool
}

type automationEffect struct {
	owner  uuid.UUID
	typ    state.StakingType
	resume bool
}

// txn stages every record an instruction touches. Reads go through the
// overlay first; nothing reaches committed state unless the whole
// instruction succeeds.
type txn struct {
	ctx    context.Context
	engine *Engine
	id     uuid.UUID
	ref    string
	seq    int64
	now    int64

	perpetuals   *state.Perpetuals
	cortex       *state.Cortex
	pools        map[string]*state.Pool
	custodies    map[string]*state.Custody
	positions    map[state.PositionKey]*state.Position
	stakings     map[stakingKey]*state.Staking
	stakingPools map[state.StakingType]*state.StakingPool
	prices       map[string]state.Prices
	oracle       collab.Oracle
	readings     map[string]event.PriceReading

	batch       *ledger.Batch
	votes       []voteEffect
	automation  []automationEffect
	afterCommit []func()
	outcome     event.Outcome
}

func (e *Engine) begin(ctx context.Context, id uuid.UUID, ref string, seq, now int64, oracle collab.Oracle) *txn {
	return &txn{
		ctx:          ctx,
		engine:       e,
		id:           id,
		ref:          ref,
		seq:          seq,
		now:          now,
		pools:        make(map[string]*state.Pool),
		custodies:    make(map[string]*state.Custody),
		positions:    make(map[state.PositionKey]*state.Position),
		stakings:     make(map[stakingKey]*state.Staking),
		stakingPools: make(map[state.StakingType]*state.StakingPool),
		prices:       make(map[string]state.Prices),
		oracle:       oracle,
		readings:     make(map[string]event.PriceReading),
		batch:        e.journalGen.NewBatch(ref, seq, now),
	}
}

func (t *txn) committed() *State {
	return t.engine.state
}

func (t *txn) getPerpetuals() (*state.Perpetuals, error) {
	if t.perpetuals != nil {
		return t.perpetuals, nil
	}
	p := t.committed().Perpetuals
	if p == nil {
		return nil, fmt.Errorf("%w: perpetuals not initialized", state.ErrInstructionNotAllowed)
	}
	cp := *p
	t.perpetuals = &cp
	return t.perpetuals, nil
}

func (t *txn) getCortex() (*state.Cortex, error) {
	if t.cortex != nil {
		return t.cortex, nil
	}
	c := t.committed().Cortex
	if c == nil {
		return nil, fmt.Errorf("%w: cortex not initialized", state.ErrInstructionNotAllowed)
	}
	t.cortex = c.Clone()
	return t.cortex, nil
}

func (t *txn) getPool(id string) (*state.Pool, error) {
	if p, ok := t.pools[id]; ok {
		return p, nil
	}
	p, ok := t.committed().Pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrUnknownPool, id)
	}
	cp := p.Clone()
	t.pools[id] = cp
	return cp, nil
}

// getCustody returns the staged custody. The same ID always yields the
// same pointer, so a custody acting as its own collateral is updated once.
func (t *txn) getCustody(id string) (*state.Custody, error) {
	if c, ok := t.custodies[id]; ok {
		return c, nil
	}
	c, ok := t.committed().Custodies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrUnknownCustody, id)
	}
	cp := c.Clone()
	t.custodies[id] = cp
	return cp, nil
}

// poolCustody resolves a custody and checks it belongs to the pool.
func (t *txn) poolCustody(pool *state.Pool, id string) (*state.Custody, error) {
	if !pool.HasCustody(id) {
		return nil, fmt.Errorf("%w: %s is not in pool %s", state.ErrUnknownCustody, id, pool.ID)
	}
	return t.getCustody(id)
}

// custodyByMint finds the pool custody holding mint.
func (t *txn) custodyByMint(pool *state.Pool, mint string) (*state.Custody, error) {
	for _, id := range pool.Custodies {
		c, err := t.getCustody(id)
		if err != nil {
			return nil, err
		}
		if c.Mint == mint {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: pool %s has no custody for %s", state.ErrUnknownCustody, pool.ID, mint)
}

func (t *txn) getPosition(key state.PositionKey) *state.Position {
	if p, ok := t.positions[key]; ok {
		return p
	}
	p := t.committed().Positions.Get(key)
	if p == nil {
		return nil
	}
	cp := p.Clone()
	t.positions[key] = cp
	return cp
}

func (t *txn) putPosition(p *state.Position) {
	t.positions[p.Key()] = p
}

// deletePosition stages a removal; a nil entry deletes on commit.
func (t *txn) deletePosition(key state.PositionKey) {
	t.positions[key] = nil
}

// getStaking returns the staker's record, creating an empty one.
func (t *txn) getStaking(owner uuid.UUID, typ state.StakingType) *state.Staking {
	key := stakingKey{Owner: owner, Type: typ}
	if s, ok := t.stakings[key]; ok {
		return s
	}
	var s *state.Staking
	if c, ok := t.committed().Stakings[key]; ok {
		s = c.Clone()
	} else {
		s = state.NewStaking(owner, typ)
	}
	t.stakings[key] = s
	return s
}

func (t *txn) getStakingPool(typ state.StakingType) (*state.StakingPool, error) {
	if p, ok := t.stakingPools[typ]; ok {
		return p, nil
	}
	p, ok := t.committed().StakingPools[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s staking pool not initialized", state.ErrInstructionNotAllowed, typ)
	}
	cp := p.Clone()
	t.stakingPools[typ] = cp
	return cp, nil
}

// peekStakingPool returns the pool without staging it, or nil.
func (t *txn) peekStakingPool(typ state.StakingType) *state.StakingPool {
	if p, ok := t.stakingPools[typ]; ok {
		return p
	}
	return t.committed().StakingPools[typ]
}

func (t *txn) hasStakingPool(typ state.StakingType) bool {
	return t.peekStakingPool(typ) != nil
}

// pricesFor reads the custody's oracle once per instruction. With EMA
// valuation disabled the EMA slot carries the spot price.
func (t *txn) pricesFor(c *state.Custody) (state.Prices, error) {
	if p, ok := t.prices[c.ID]; ok {
		return p, nil
	}
	spot, ema, err := t.oracle.GetPrices(t.ctx, c.Oracle, t.now)
	if err != nil {
		return state.Prices{}, fmt.Errorf("oracle %s for custody %s: %w", c.Oracle, c.ID, err)
	}
	t.readings[c.Oracle] = event.PriceReading{Oracle: c.Oracle, Spot: spot, EMA: ema}
	if spot.IsZero() || ema.IsZero() {
		return state.Prices{}, fmt.Errorf("%w: custody %s", state.ErrInvalidOraclePrice, c.ID)
	}
	if !c.Pricing.UseEMA {
		ema = spot
	}
	p := state.Prices{Spot: spot, EMA: ema}
	t.prices[c.ID] = p
	return p, nil
}

// touchedCustodies returns every staged custody ordered by ID.
func (t *txn) touchedCustodies() []*state.Custody {
	out := make([]*state.Custody, 0, len(t.custodies))
	for _, id := range sortedKeys(t.custodies) {
		out = append(out, t.custodies[id])
	}
	return out
}

// priceReadings returns the oracle observations the instruction consumed,
// ordered by oracle handle.
func (t *txn) priceReadings() []event.PriceReading {
	if len(t.readings) == 0 {
		return nil
	}
	out := make([]event.PriceReading, 0, len(t.readings))
	for _, handle := range sortedKeys(t.readings) {
		out = append(out, t.readings[handle])
	}
	return out
}

// onCommit defers fn until the instruction has committed.
func (t *txn) onCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

func (t *txn) transfer(from, to ledger.AccountKey, amount uint64, reason string) {
	t.engine.journalGen.Transfer(t.batch, from, to, amount, reason)
}

func (t *txn) mint(to ledger.AccountKey, amount uint64, reason string) {
	t.engine.journalGen.Mint(t.batch, to, amount, reason)
}

func (t *txn) closeAccount(from, to ledger.AccountKey, reason string) {
	t.engine.journalGen.CloseAccount(t.batch, from, to, t.engine.balances.Amount(from), reason)
}

func (t *txn) addVotingPower(owner uuid.UUID, amount uint64) {
	if amount > 0 {
		t.votes = append(t.votes, voteEffect{owner: owner, amount: amount, add: true})
	}
}

func (t *txn) removeVotingPower(owner uuid.UUID, amount uint64) {
	if amount > 0 {
		t.votes = append(t.votes, voteEffect{owner: owner, amount: amount})
	}
}

func (t *txn) resumeAutomation(owner uuid.UUID, typ state.StakingType) {
	t.automation = append(t.automation, automationEffect{owner: owner, typ: typ, resume: true})
}

// pauseAutomationIfEmpty pauses the claim trigger once nothing is staked.
func (t *txn) pauseAutomationIfEmpty(s *state.Staking) {
	if s.IsEmpty() {
		t.automation = append(t.automation, automationEffect{owner: s.Owner, typ: s.Type})
	}
}

// apply swaps every staged record into committed state.
func (t *txn) apply() {
	s := t.committed()
	if t.perpetuals != nil {
		s.Perpetuals = t.perpetuals
	}
	if t.cortex != nil {
		s.Cortex = t.cortex
	}
	for id, p := range t.pools {
		s.Pools[id] = p
	}
	for id, c := range t.custodies {
		s.Custodies[id] = c
	}
	for key, p := range t.positions {
		if p == nil {
			s.Positions.Delete(key)
			continue
		}
		s.Positions.Put(p)
	}
	for key, st := range t.stakings {
		if st.IsEmpty() {
			delete(s.Stakings, key)
			continue
		}
		s.Stakings[key] = st
	}
	for typ, p := range t.stakingPools {
		s.StakingPools[typ] = p
	}
}
