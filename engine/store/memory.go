// Package store provides an in-memory engine.TxStore implementation
// (for testing/dev). Transactions are simulated with a snapshot that is
// restored when the transactional function fails.
package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/warp/warehouse-engine/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type fundKey struct {
	Requester engine.RequesterID
	Product   engine.ProductID
}

type Memory struct {
	mu        sync.RWMutex
	products  map[engine.ProductID]*engine.Product
	funds     map[fundKey]*engine.FixedFund
	movements map[engine.MovementID]*engine.Movement
	inserted  map[engine.MovementID]int64 // insertion order, ties in CreatedAt
	sequences map[engine.Direction]*engine.FolioSequence
	settings  *engine.Settings
	nextSeq   int64

	// MaxFolioErr, when set, makes MaxNumericFolio fail. Lets tests drive
	// the best-effort reclaim path.
	MaxFolioErr error
}

func NewMemory() *Memory {
	return &Memory{
		products:  make(map[engine.ProductID]*engine.Product),
		funds:     make(map[fundKey]*engine.FixedFund),
		movements: make(map[engine.MovementID]*engine.Movement),
		inserted:  make(map[engine.MovementID]int64),
		sequences: make(map[engine.Direction]*engine.FolioSequence),
	}
}

// WithTx executes fn against a non-locking view while holding the write
// lock, snapshotting first and rolling back on error.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	products  map[engine.ProductID]*engine.Product
	funds     map[fundKey]*engine.FixedFund
	movements map[engine.MovementID]*engine.Movement
	inserted  map[engine.MovementID]int64
	sequences map[engine.Direction]*engine.FolioSequence
	settings  *engine.Settings
	nextSeq   int64
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		products:  make(map[engine.ProductID]*engine.Product, len(m.products)),
		funds:     make(map[fundKey]*engine.FixedFund, len(m.funds)),
		movements: make(map[engine.MovementID]*engine.Movement, len(m.movements)),
		inserted:  make(map[engine.MovementID]int64, len(m.inserted)),
		sequences: make(map[engine.Direction]*engine.FolioSequence, len(m.sequences)),
		nextSeq:   m.nextSeq,
	}
	for k, v := range m.products {
		cp := *v
		s.products[k] = &cp
	}
	for k, v := range m.funds {
		cp := *v
		s.funds[k] = &cp
	}
	for k, v := range m.movements {
		s.movements[k] = copyMovement(v)
	}
	for k, v := range m.inserted {
		s.inserted[k] = v
	}
	for k, v := range m.sequences {
		cp := *v
		s.sequences[k] = &cp
	}
	if m.settings != nil {
		cp := *m.settings
		s.settings = &cp
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.products = s.products
	m.funds = s.funds
	m.movements = s.movements
	m.inserted = s.inserted
	m.sequences = s.sequences
	m.settings = s.settings
	m.nextSeq = s.nextSeq
}

// txView exposes the unlocked internals to the transactional function.
// The parent's lock is held for the whole WithTx call.
type txView struct{ m *Memory }

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id engine.ProductID) (*engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProduct(id), nil
}

func (v *txView) GetProduct(_ context.Context, id engine.ProductID) (*engine.Product, error) {
	return v.m.getProduct(id), nil
}

func (m *Memory) getProduct(id engine.ProductID) *engine.Product {
	p, ok := m.products[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (m *Memory) ListProducts(_ context.Context) ([]engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProducts(), nil
}

func (v *txView) ListProducts(_ context.Context) ([]engine.Product, error) {
	return v.m.listProducts(), nil
}

func (m *Memory) listProducts() []engine.Product {
	out := make([]engine.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) AdjustStock(_ context.Context, id engine.ProductID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustStock(id, delta)
}

func (v *txView) AdjustStock(_ context.Context, id engine.ProductID, delta int64) error {
	return v.m.adjustStock(id, delta)
}

func (m *Memory) adjustStock(id engine.ProductID, delta int64) error {
	p, ok := m.products[id]
	if !ok {
		return engine.ErrProductNotFound
	}
	if p.Quantity+delta < 0 {
		return engine.ErrInsufficientStock
	}
	p.Quantity += delta
	return nil
}

func (m *Memory) SetProductStatus(_ context.Context, id engine.ProductID, status engine.ProductStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setProductStatus(id, status)
}

func (v *txView) SetProductStatus(_ context.Context, id engine.ProductID, status engine.ProductStatus) error {
	return v.m.setProductStatus(id, status)
}

func (m *Memory) setProductStatus(id engine.ProductID, status engine.ProductStatus) error {
	p, ok := m.products[id]
	if !ok {
		return engine.ErrProductNotFound
	}
	p.Status = status
	return nil
}

// SaveProduct seeds a catalog row (engine.CatalogStore).
func (m *Memory) SaveProduct(_ context.Context, p *engine.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

// =============================================================================
// FIXED FUNDS
// =============================================================================

func (m *Memory) GetFund(_ context.Context, requester engine.RequesterID, product engine.ProductID) (*engine.FixedFund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getFund(requester, product), nil
}

func (v *txView) GetFund(_ context.Context, requester engine.RequesterID, product engine.ProductID) (*engine.FixedFund, error) {
	return v.m.getFund(requester, product), nil
}

func (m *Memory) getFund(requester engine.RequesterID, product engine.ProductID) *engine.FixedFund {
	f, ok := m.funds[fundKey{requester, product}]
	if !ok {
		return nil
	}
	cp := *f
	return &cp
}

func (m *Memory) AdjustFund(_ context.Context, requester engine.RequesterID, product engine.ProductID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustFund(requester, product, delta)
}

func (v *txView) AdjustFund(_ context.Context, requester engine.RequesterID, product engine.ProductID, delta int64) error {
	return v.m.adjustFund(requester, product, delta)
}

func (m *Memory) adjustFund(requester engine.RequesterID, product engine.ProductID, delta int64) error {
	f, ok := m.funds[fundKey{requester, product}]
	if !ok {
		return engine.ErrInsufficientFund
	}
	if f.Available+delta < 0 {
		return engine.ErrInsufficientFund
	}
	f.Available += delta
	return nil
}

// SaveFund seeds a fund row (engine.CatalogStore).
func (m *Memory) SaveFund(_ context.Context, f *engine.FixedFund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.funds[fundKey{f.RequesterID, f.ProductID}] = &cp
	return nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (m *Memory) InsertMovement(_ context.Context, mov *engine.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertMovement(mov)
}

func (v *txView) InsertMovement(_ context.Context, mov *engine.Movement) error {
	return v.m.insertMovement(mov)
}

func (m *Memory) insertMovement(mov *engine.Movement) error {
	if len(mov.Lines) == 0 {
		return engine.ErrEmptyLines
	}
	m.nextSeq++
	m.movements[mov.ID] = copyMovement(mov)
	m.inserted[mov.ID] = m.nextSeq
	return nil
}

func (m *Memory) GetMovement(_ context.Context, id engine.MovementID) (*engine.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMovement(id), nil
}

func (v *txView) GetMovement(_ context.Context, id engine.MovementID) (*engine.Movement, error) {
	return v.m.getMovement(id), nil
}

func (m *Memory) getMovement(id engine.MovementID) *engine.Movement {
	mov, ok := m.movements[id]
	if !ok {
		return nil
	}
	out := copyMovement(mov)
	m.fillProductNames(out)
	return out
}

func (m *Memory) DeleteMovement(_ context.Context, id engine.MovementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteMovement(id)
}

func (v *txView) DeleteMovement(_ context.Context, id engine.MovementID) error {
	return v.m.deleteMovement(id)
}

func (m *Memory) deleteMovement(id engine.MovementID) error {
	if _, ok := m.movements[id]; !ok {
		return engine.ErrMovementNotFound
	}
	delete(m.movements, id)
	delete(m.inserted, id)
	return nil
}

func (m *Memory) ListByOrigin(_ context.Context, origin engine.OriginID) ([]engine.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByOrigin(origin), nil
}

func (v *txView) ListByOrigin(_ context.Context, origin engine.OriginID) ([]engine.Movement, error) {
	return v.m.listByOrigin(origin), nil
}

func (m *Memory) listByOrigin(origin engine.OriginID) []engine.Movement {
	var out []engine.Movement
	for _, mov := range m.movements {
		if mov.OriginID == origin {
			cp := copyMovement(mov)
			m.fillProductNames(cp)
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.inserted[out[i].ID] < m.inserted[out[j].ID]
	})
	return out
}

func (m *Memory) ListMovements(_ context.Context, direction engine.Direction) ([]engine.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMovements(direction), nil
}

func (v *txView) ListMovements(_ context.Context, direction engine.Direction) ([]engine.Movement, error) {
	return v.m.listMovements(direction), nil
}

func (m *Memory) listMovements(direction engine.Direction) []engine.Movement {
	var out []engine.Movement
	for _, mov := range m.movements {
		if mov.Direction == direction {
			out = append(out, *copyMovement(mov))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.inserted[out[i].ID] > m.inserted[out[j].ID]
	})
	return out
}

func (m *Memory) fillProductNames(mov *engine.Movement) {
	for i := range mov.Lines {
		if p, ok := m.products[mov.Lines[i].ProductID]; ok {
			mov.Lines[i].ProductName = p.Name
		}
	}
}

// =============================================================================
// FOLIO SEQUENCES
// =============================================================================

func (m *Memory) GetSequence(_ context.Context, direction engine.Direction) (*engine.FolioSequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSequence(direction), nil
}

func (v *txView) GetSequence(_ context.Context, direction engine.Direction) (*engine.FolioSequence, error) {
	return v.m.getSequence(direction), nil
}

func (m *Memory) getSequence(direction engine.Direction) *engine.FolioSequence {
	seq, ok := m.sequences[direction]
	if !ok {
		seq = &engine.FolioSequence{Direction: direction, Next: 1}
		m.sequences[direction] = seq
	}
	cp := *seq
	return &cp
}

func (m *Memory) SaveSequence(_ context.Context, seq *engine.FolioSequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSequence(seq)
}

func (v *txView) SaveSequence(_ context.Context, seq *engine.FolioSequence) error {
	return v.m.saveSequence(seq)
}

func (m *Memory) saveSequence(seq *engine.FolioSequence) error {
	cp := *seq
	m.sequences[seq.Direction] = &cp
	return nil
}

func (m *Memory) FolioExists(_ context.Context, direction engine.Direction, series, folio string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.folioExists(direction, series, folio), nil
}

func (v *txView) FolioExists(_ context.Context, direction engine.Direction, series, folio string) (bool, error) {
	return v.m.folioExists(direction, series, folio), nil
}

func (m *Memory) folioExists(direction engine.Direction, series, folio string) bool {
	for _, mov := range m.movements {
		if mov.Direction == direction && mov.Series == series && mov.Folio == folio {
			return true
		}
	}
	return false
}

func (m *Memory) MaxNumericFolio(_ context.Context, direction engine.Direction, series string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxNumericFolio(direction, series)
}

func (v *txView) MaxNumericFolio(_ context.Context, direction engine.Direction, series string) (int64, bool, error) {
	return v.m.maxNumericFolio(direction, series)
}

func (m *Memory) maxNumericFolio(direction engine.Direction, series string) (int64, bool, error) {
	if m.MaxFolioErr != nil {
		return 0, false, m.MaxFolioErr
	}
	var max int64
	found := false
	for _, mov := range m.movements {
		if mov.Direction != direction || mov.Series != series {
			continue
		}
		n, err := strconv.ParseInt(mov.Folio, 10, 64)
		if err != nil {
			continue // non-numeric folios are invisible to reclaim
		}
		if !found || n > max {
			max, found = n, true
		}
	}
	return max, found, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (m *Memory) GetSettings(_ context.Context) (engine.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSettings(), nil
}

func (v *txView) GetSettings(_ context.Context) (engine.Settings, error) {
	return v.m.getSettings(), nil
}

func (m *Memory) getSettings() engine.Settings {
	if m.settings == nil {
		return engine.DefaultSettings()
	}
	return *m.settings
}

func (m *Memory) SaveSettings(_ context.Context, s engine.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSettings(s)
}

func (v *txView) SaveSettings(_ context.Context, s engine.Settings) error {
	return v.m.saveSettings(s)
}

func (m *Memory) saveSettings(s engine.Settings) error {
	m.settings = &s
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func copyMovement(m *engine.Movement) *engine.Movement {
	cp := *m
	cp.Lines = make([]engine.Line, len(m.Lines))
	copy(cp.Lines, m.Lines)
	return &cp
}
