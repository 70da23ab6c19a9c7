package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory maps. A single mutex makes every
// unit of work exclusive; mutations are staged and only merged on success.
// Used for tests and single-instance development (no persistence).
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	platform *model.PlatformState
	counter  *model.IDCounter
	vaults   map[common.Address]*model.UserVault
	calls    map[uint64]*model.TradeCall
	balances map[model.Account]uint64
	entries  []model.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		vaults:   make(map[common.Address]*model.UserVault),
		calls:    make(map[uint64]*model.TradeCall),
		balances: make(map[model.Account]uint64),
	}
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(s, false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newMemTx(s, true))
}

// memTx stages writes on top of the store's committed state.
type memTx struct {
	s        *MemoryStore
	readOnly bool

	platform *model.PlatformState
	counter  *model.IDCounter
	vaults   map[common.Address]*model.UserVault
	calls    map[uint64]*model.TradeCall
	balances map[model.Account]uint64
	entries  []model.LedgerEntry
}

func newMemTx(s *MemoryStore, readOnly bool) *memTx {
	return &memTx{
		s:        s,
		readOnly: readOnly,
		vaults:   make(map[common.Address]*model.UserVault),
		calls:    make(map[uint64]*model.TradeCall),
		balances: make(map[model.Account]uint64),
	}
}

func (t *memTx) commit() {
	s := t.s
	if t.platform != nil {
		s.platform = t.platform
	}
	if t.counter != nil {
		s.counter = t.counter
	}
	for k, v := range t.vaults {
		s.vaults[k] = v
	}
	for k, v := range t.calls {
		s.calls[k] = v
	}
	for k, v := range t.balances {
		s.balances[k] = v
	}
	s.entries = append(s.entries, t.entries...)
}

func (t *memTx) Platform() (*model.PlatformState, error) {
	p := t.platform
	if p == nil {
		p = t.s.platform
	}
	if p == nil {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) CreatePlatform(p *model.PlatformState) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if _, err := t.Platform(); err == nil {
		return ErrDuplicate
	}
	cp := *p
	t.platform = &cp
	return nil
}

func (t *memTx) Counter() (*model.IDCounter, error) {
	c := t.counter
	if c == nil {
		c = t.s.counter
	}
	if c == nil {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) SaveCounter(c *model.IDCounter) error {
	if t.readOnly {
		return ErrReadOnly
	}
	cp := *c
	t.counter = &cp
	return nil
}

func (t *memTx) Vault(owner common.Address) (*model.UserVault, error) {
	if v, ok := t.vaults[owner]; ok {
		return v.Clone(), nil
	}
	if v, ok := t.s.vaults[owner]; ok {
		return v.Clone(), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) SaveVault(v *model.UserVault) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.vaults[v.Owner] = v.Clone()
	return nil
}

func (t *memTx) TradeCall(id uint64) (*model.TradeCall, error) {
	if c, ok := t.calls[id]; ok {
		return c.Clone(), nil
	}
	if c, ok := t.s.calls[id]; ok {
		return c.Clone(), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateTradeCall(c *model.TradeCall) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if _, err := t.TradeCall(c.ID); err == nil {
		return ErrDuplicate
	}
	t.calls[c.ID] = c.Clone()
	return nil
}

func (t *memTx) SaveTradeCall(c *model.TradeCall) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if _, err := t.TradeCall(c.ID); err != nil {
		return err
	}
	t.calls[c.ID] = c.Clone()
	return nil
}

func (t *memTx) ListTradeCalls(f model.CallFilter) ([]*model.TradeCall, error) {
	f = f.Normalize()
	merged := make(map[uint64]*model.TradeCall, len(t.s.calls)+len(t.calls))
	for id, c := range t.s.calls {
		merged[id] = c
	}
	for id, c := range t.calls {
		merged[id] = c
	}

	ids := make([]uint64, 0, len(merged))
	for id, c := range merged {
		if f.Match(c) {
			ids = append(ids, id)
		}
	}
	// newest first
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	if f.Offset >= len(ids) {
		return []*model.TradeCall{}, nil
	}
	ids = ids[f.Offset:]
	if len(ids) > f.Limit {
		ids = ids[:f.Limit]
	}
	out := make([]*model.TradeCall, 0, len(ids))
	for _, id := range ids {
		out = append(out, merged[id].Clone())
	}
	return out, nil
}

func (t *memTx) MaxTradeCallID() (uint64, error) {
	var highest uint64
	for id := range t.s.calls {
		if id > highest {
			highest = id
		}
	}
	for id := range t.calls {
		if id > highest {
			highest = id
		}
	}
	return highest, nil
}

func (t *memTx) BalanceOf(account model.Account) (uint64, error) {
	if bal, ok := t.balances[account]; ok {
		return bal, nil
	}
	return t.s.balances[account], nil
}

func (t *memTx) Transfer(from, to model.Account, amount uint64, memo string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if amount == 0 || from == to {
		return nil
	}
	fromBal, _ := t.BalanceOf(from)
	toBal, _ := t.BalanceOf(to)
	nextFrom, nextTo, err := applyTransfer(from, fromBal, toBal, amount)
	if err != nil {
		return err
	}
	t.balances[from] = nextFrom
	t.balances[to] = nextTo
	t.record(from, to, amount, memo)
	return nil
}

func (t *memTx) Mint(to model.Account, amount uint64, memo string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if amount == 0 {
		return nil
	}
	bal, _ := t.BalanceOf(to)
	next, err := model.AddUint64(bal, amount)
	if err != nil {
		return err
	}
	t.balances[to] = next
	t.record("", to, amount, memo)
	return nil
}

func (t *memTx) record(from, to model.Account, amount uint64, memo string) {
	t.entries = append(t.entries, model.LedgerEntry{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Amount:    amount,
		Memo:      memo,
		CreatedAt: t.s.now(),
	})
}

func (t *memTx) Entries(account model.Account, limit int) ([]model.LedgerEntry, error) {
	limit = clampLimit(limit)
	all := append(append([]model.LedgerEntry{}, t.s.entries...), t.entries...)
	out := make([]model.LedgerEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		e := all[i]
		if e.From == account || e.To == account {
			out = append(out, e)
		}
	}
	return out, nil
}
