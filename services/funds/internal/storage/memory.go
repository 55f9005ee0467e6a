package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps all state in process. Units of work are serialized by one mutex
// and rolled back by restoring a snapshot, which gives the row-lock semantics of the
// Postgres store for a single process. It backs local runs without a database.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	wallets      map[uuid.UUID]ledger.Wallet
	walletByUser map[string]uuid.UUID
	entries      map[uuid.UUID][]ledger.Entry
	locks        map[string]ledger.FundsLock
	transactions map[string]ledger.Transaction
	outbox       []OutboxEvent
	nextOutboxID int64
	processed    map[string]ProcessedEvent
}

func NewMemory() *MemoryStore {
	return &MemoryStore{state: memState{
		wallets:      map[uuid.UUID]ledger.Wallet{},
		walletByUser: map[string]uuid.UUID{},
		entries:      map[uuid.UUID][]ledger.Entry{},
		locks:        map[string]ledger.FundsLock{},
		transactions: map[string]ledger.Transaction{},
		processed:    map[string]ProcessedEvent{},
	}}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	s.mu.Lock()
	snapshot := s.state.clone()
	tx := &memTx{state: &s.state}
	err := fn(withTx(ctx, tx), tx)
	if err != nil {
		s.state = snapshot
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	tx.run()
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.InTx(ctx, fn)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (m memState) clone() memState {
	out := memState{
		wallets:      make(map[uuid.UUID]ledger.Wallet, len(m.wallets)),
		walletByUser: make(map[string]uuid.UUID, len(m.walletByUser)),
		entries:      make(map[uuid.UUID][]ledger.Entry, len(m.entries)),
		locks:        make(map[string]ledger.FundsLock, len(m.locks)),
		transactions: make(map[string]ledger.Transaction, len(m.transactions)),
		outbox:       append([]OutboxEvent(nil), m.outbox...),
		nextOutboxID: m.nextOutboxID,
		processed:    make(map[string]ProcessedEvent, len(m.processed)),
	}
	for k, v := range m.wallets {
		out.wallets[k] = v
	}
	for k, v := range m.walletByUser {
		out.walletByUser[k] = v
	}
	for k, v := range m.entries {
		out.entries[k] = append([]ledger.Entry(nil), v...)
	}
	for k, v := range m.locks {
		out.locks[k] = v
	}
	for k, v := range m.transactions {
		out.transactions[k] = v
	}
	for k, v := range m.processed {
		out.processed[k] = v
	}
	return out
}

type memTx struct {
	hooks
	state *memState
}

func (t *memTx) InsertWallet(_ context.Context, w *ledger.Wallet) (bool, error) {
	if _, ok := t.state.walletByUser[w.UserID]; ok {
		return false, nil
	}
	t.state.wallets[w.ID] = *w
	t.state.walletByUser[w.UserID] = w.ID
	return true, nil
}

func (t *memTx) WalletByUserID(ctx context.Context, userID string, lock bool) (*ledger.Wallet, error) {
	id, ok := t.state.walletByUser[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	return t.WalletByID(ctx, id, lock)
}

func (t *memTx) WalletByID(_ context.Context, id uuid.UUID, _ bool) (*ledger.Wallet, error) {
	w, ok := t.state.wallets[id]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	return &w, nil
}

func (t *memTx) UpdateWalletBalances(_ context.Context, w *ledger.Wallet) error {
	current, ok := t.state.wallets[w.ID]
	if !ok {
		return ledger.ErrWalletNotFound
	}
	current.AvailableBalance = w.AvailableBalance
	current.LockedBalance = w.LockedBalance
	current.UpdatedAt = w.UpdatedAt
	t.state.wallets[w.ID] = current
	return nil
}

func (t *memTx) InsertEntry(_ context.Context, e *ledger.Entry) error {
	if _, ok := t.state.wallets[e.WalletID]; !ok {
		return ledger.ErrWalletNotFound
	}
	for _, existing := range t.state.entries[e.WalletID] {
		if existing.Sequence == e.Sequence {
			return &ledger.ChainError{WalletID: e.WalletID, Sequence: e.Sequence, Reason: "sequence already recorded"}
		}
	}
	t.state.entries[e.WalletID] = append(t.state.entries[e.WalletID], *e)
	return nil
}

func (t *memTx) LatestEntry(_ context.Context, walletID uuid.UUID) (*ledger.Entry, error) {
	entries := t.state.entries[walletID]
	if len(entries) == 0 {
		return nil, ledger.ErrEntryNotFound
	}
	e := entries[len(entries)-1]
	return &e, nil
}

func (t *memTx) LatestEntryAt(_ context.Context, walletID uuid.UUID, at time.Time) (*ledger.Entry, error) {
	entries := t.state.entries[walletID]
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].CreatedAt.After(at) {
			e := entries[i]
			return &e, nil
		}
	}
	return nil, ledger.ErrEntryNotFound
}

func (t *memTx) EntryByID(_ context.Context, id uuid.UUID) (*ledger.Entry, error) {
	for _, entries := range t.state.entries {
		for _, e := range entries {
			if e.ID == id {
				found := e
				return &found, nil
			}
		}
	}
	return nil, ledger.ErrEntryNotFound
}

func (t *memTx) ListEntries(_ context.Context, walletID uuid.UUID, offset, limit int) ([]ledger.Entry, error) {
	entries := t.state.entries[walletID]
	if offset < 0 || offset >= len(entries) {
		return nil, nil
	}
	var out []ledger.Entry
	for i := len(entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (t *memTx) CountEntries(_ context.Context, walletID uuid.UUID) (int64, error) {
	return int64(len(t.state.entries[walletID])), nil
}

func (t *memTx) EntriesAscending(_ context.Context, walletID uuid.UUID) ([]ledger.Entry, error) {
	return append([]ledger.Entry(nil), t.state.entries[walletID]...), nil
}

func (t *memTx) EntriesByReference(_ context.Context, referenceID string) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, entries := range t.state.entries {
		for _, e := range entries {
			if e.ReferenceID == referenceID {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memTx) EntriesByType(_ context.Context, walletID uuid.UUID, entryType ledger.EntryType) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range t.state.entries[walletID] {
		if e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) SumByType(_ context.Context, walletID uuid.UUID, entryType ledger.EntryType) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.state.entries[walletID] {
		if e.EntryType == entryType {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (t *memTx) InsertLock(_ context.Context, l *ledger.FundsLock) error {
	if _, ok := t.state.locks[l.OrderID]; ok {
		return &ledger.DuplicateLockError{OrderID: l.OrderID}
	}
	t.state.locks[l.OrderID] = *l
	return nil
}

func (t *memTx) LockByOrderID(_ context.Context, orderID string, _ bool) (*ledger.FundsLock, error) {
	l, ok := t.state.locks[orderID]
	if !ok {
		return nil, ledger.ErrLockNotFound
	}
	return &l, nil
}

func (t *memTx) UpdateLock(_ context.Context, l *ledger.FundsLock) error {
	current, ok := t.state.locks[l.OrderID]
	if !ok || current.ID != l.ID {
		return ledger.ErrLockNotFound
	}
	t.state.locks[l.OrderID] = *l
	return nil
}

func (t *memTx) LocksByWallet(_ context.Context, walletID uuid.UUID, status ledger.LockStatus) ([]ledger.FundsLock, error) {
	var out []ledger.FundsLock
	for _, l := range t.state.locks {
		if l.WalletID == walletID && (status == "" || l.Status == status) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *ledger.Transaction) error {
	if existing, ok := t.state.transactions[tr.ExternalReference]; ok {
		return &ledger.DuplicateTransactionError{Reference: tr.ExternalReference, Existing: &existing}
	}
	t.state.transactions[tr.ExternalReference] = *tr
	return nil
}

func (t *memTx) TransactionByReference(_ context.Context, reference string, _ bool) (*ledger.Transaction, error) {
	tr, ok := t.state.transactions[reference]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return &tr, nil
}

func (t *memTx) UpdateTransaction(_ context.Context, tr *ledger.Transaction) error {
	current, ok := t.state.transactions[tr.ExternalReference]
	if !ok || current.ID != tr.ID {
		return ledger.ErrTransactionNotFound
	}
	t.state.transactions[tr.ExternalReference] = *tr
	return nil
}

func (t *memTx) TransactionsByWallet(_ context.Context, walletID uuid.UUID, offset, limit int) ([]ledger.Transaction, error) {
	var all []ledger.Transaction
	for _, tr := range t.state.transactions {
		if tr.WalletID == walletID {
			all = append(all, tr)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ExternalReference > all[j].ExternalReference
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset < 0 || offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (t *memTx) CountTransactions(_ context.Context, walletID uuid.UUID) (int64, error) {
	var n int64
	for _, tr := range t.state.transactions {
		if tr.WalletID == walletID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertOutbox(_ context.Context, e *OutboxEvent) error {
	t.state.nextOutboxID++
	e.ID = t.state.nextOutboxID
	t.state.outbox = append(t.state.outbox, *e)
	return nil
}

func (t *memTx) PendingOutbox(_ context.Context, limit int) ([]OutboxEvent, error) {
	var out []OutboxEvent
	for _, e := range t.state.outbox {
		if len(out) >= limit {
			break
		}
		if !e.Published {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) MarkOutboxPublished(_ context.Context, id int64, at time.Time) error {
	for i := range t.state.outbox {
		if t.state.outbox[i].ID == id {
			t.state.outbox[i].Published = true
			published := at
			t.state.outbox[i].PublishedAt = &published
			return nil
		}
	}
	return nil
}

func (t *memTx) MarkOutboxFailed(_ context.Context, id int64, errMsg string) (int, error) {
	for i := range t.state.outbox {
		if t.state.outbox[i].ID == id {
			t.state.outbox[i].Attempts++
			t.state.outbox[i].LastError = errMsg
			return t.state.outbox[i].Attempts, nil
		}
	}
	return 0, nil
}

func (t *memTx) CountPendingOutbox(_ context.Context) (int64, error) {
	var count int64
	for _, e := range t.state.outbox {
		if !e.Published {
			count++
		}
	}
	return count, nil
}

func (t *memTx) IsProcessed(_ context.Context, key string) (bool, error) {
	_, ok := t.state.processed[key]
	return ok, nil
}

func (t *memTx) MarkProcessed(_ context.Context, key, consumer string, at time.Time) (bool, error) {
	if _, ok := t.state.processed[key]; ok {
		return false, nil
	}
	t.state.processed[key] = ProcessedEvent{Key: key, ConsumerName: consumer, ProcessedAt: at}
	return true, nil
}

// Outbox returns a copy of every captured outbox row.
func (s *MemoryStore) Outbox() []OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboxEvent(nil), s.state.outbox...)
}
