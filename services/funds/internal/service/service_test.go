package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/cache"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/outbox"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type fixture struct {
	store   *storage.MemoryStore
	ledger  *LedgerService
	wallets *WalletService
	locks   *FundsLockService
	txns    *TransactionService
}

func newFixture(t *testing.T, balances *cache.BalanceCache) *fixture {
	t.Helper()
	store := storage.NewMemory()
	writer := outbox.NewWriter(events.DefaultRoutes())
	ledgerSvc := NewLedgerService(store, writer, nil, nil)
	wallets := NewWalletService(store, ledgerSvc, writer, balances, "", nil, nil)
	locks := NewFundsLockService(store, wallets, writer, nil, nil)
	txns := NewTransactionService(store, wallets, nil, nil)
	return &fixture{store: store, ledger: ledgerSvc, wallets: wallets, locks: locks, txns: txns}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fundedWallet creates a wallet for userID with amount deposited.
func (f *fixture) fundedWallet(t *testing.T, userID, amount string) *ledger.Wallet {
	t.Helper()
	ctx := context.Background()
	w, _, err := f.wallets.CreateWallet(ctx, userID)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if amount != "" {
		if _, err := f.wallets.Credit(ctx, userID, dec(amount), "PAYMENT-seed-"+userID, ledger.ReferencePayment, "seed"); err != nil {
			t.Fatalf("seed credit: %v", err)
		}
	}
	return w
}

func (f *fixture) wallet(t *testing.T, userID string) *ledger.Wallet {
	t.Helper()
	w, err := f.wallets.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return w
}

func assertBalances(t *testing.T, w *ledger.Wallet, available, locked string) {
	t.Helper()
	if !w.AvailableBalance.Equal(dec(available)) || !w.LockedBalance.Equal(dec(locked)) {
		t.Fatalf("expected available=%s locked=%s, got %s", available, locked, w.Balances())
	}
}

func (f *fixture) assertIdentity(t *testing.T, userID string) {
	t.Helper()
	w := f.wallet(t, userID)
	latest, err := f.ledger.LatestEntry(context.Background(), w.ID)
	if errors.Is(err, ledger.ErrEntryNotFound) {
		if !w.TotalBalance().IsZero() {
			t.Fatalf("wallet without entries has total %s", w.TotalBalance())
		}
		return
	}
	if err != nil {
		t.Fatalf("latest entry: %v", err)
	}
	if !latest.BalanceAfter.Equal(w.TotalBalance()) {
		t.Fatalf("balance identity broken: latest balance_after %s, wallet total %s", latest.BalanceAfter, w.TotalBalance())
	}
}

func (f *fixture) outboxTypes() []string {
	var out []string
	for _, row := range f.store.Outbox() {
		out = append(out, row.EventType)
	}
	return out
}

func countType(types []string, want string) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func TestCreditFreshWalletRecordsDeposit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "")

	entry, err := f.wallets.Credit(ctx, "user-1", dec("500"), "PAYMENT-1", ledger.ReferencePayment, "deposit")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if entry.EntryType != ledger.EntryDeposit || entry.Sequence != 1 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.BalanceBefore.IsZero() || !entry.BalanceAfter.Equal(dec("500")) {
		t.Fatalf("expected 0 -> 500, got %s -> %s", entry.BalanceBefore, entry.BalanceAfter)
	}

	page, err := f.ledger.EntriesForWallet(ctx, w.ID, 0, 20)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if page.Total != 1 || len(page.Entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", page.Total)
	}
	assertBalances(t, f.wallet(t, "user-1"), "500", "0")
	f.assertIdentity(t, "user-1")

	types := f.outboxTypes()
	if countType(types, events.TypeFundsDeposited) != 1 || countType(types, events.TypeLedgerEntryRecorded) != 1 {
		t.Fatalf("expected FundsDeposited and LedgerEntryRecorded, got %v", types)
	}
}

func TestLockReleaseScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "1000")

	lock, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("300")})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if lock.Status != ledger.LockLocked || lock.Reason != DefaultLockReason {
		t.Fatalf("unexpected lock %+v", lock)
	}
	assertBalances(t, f.wallet(t, "user-1"), "700", "300")

	lockEntries, err := f.ledger.EntriesByType(ctx, w.ID, ledger.EntryLock)
	if err != nil {
		t.Fatalf("entries by type: %v", err)
	}
	if len(lockEntries) != 1 || !lockEntries[0].BalanceAfter.Equal(dec("1000")) {
		t.Fatalf("expected one LOCK entry with unchanged total, got %+v", lockEntries)
	}
	f.assertIdentity(t, "user-1")

	res, err := f.locks.Release(ctx, "O1", "cancel")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Outcome != ledger.OutcomeApplied || res.Lock.Status != ledger.LockReleased || res.Lock.ClosedAt == nil {
		t.Fatalf("unexpected release result %+v", res)
	}
	assertBalances(t, f.wallet(t, "user-1"), "1000", "0")

	before, _ := f.ledger.CountEntries(ctx, w.ID)
	res, err = f.locks.Release(ctx, "O1", "cancel again")
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if res.Outcome != ledger.OutcomeAlreadyTerminal {
		t.Fatalf("expected already terminal, got %s", res.Outcome)
	}
	after, _ := f.ledger.CountEntries(ctx, w.ID)
	if before != after {
		t.Fatalf("second release appended entries: %d -> %d", before, after)
	}
	assertBalances(t, f.wallet(t, "user-1"), "1000", "0")
	f.assertIdentity(t, "user-1")

	if n := countType(f.outboxTypes(), events.TypeFundsReleased); n != 1 {
		t.Fatalf("expected one FundsReleased, got %d", n)
	}
}

func TestLockInsufficientFundsLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "1000")
	if _, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("300")}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	entriesBefore, _ := f.ledger.CountEntries(ctx, w.ID)
	outboxBefore := len(f.store.Outbox())

	_, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O2", Amount: dec("1500")})
	var insufficient *ledger.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !insufficient.Requested.Equal(dec("1500")) || !insufficient.Available.Equal(dec("700")) {
		t.Fatalf("unexpected error detail %+v", insufficient)
	}

	assertBalances(t, f.wallet(t, "user-1"), "700", "300")
	entriesAfter, _ := f.ledger.CountEntries(ctx, w.ID)
	if entriesBefore != entriesAfter || len(f.store.Outbox()) != outboxBefore {
		t.Fatalf("rejected lock left side effects")
	}
	if _, err := f.locks.GetLockByOrderID(ctx, "O2"); !errors.Is(err, ledger.ErrLockNotFound) {
		t.Fatalf("expected no lock for O2, got %v", err)
	}
}

func TestDuplicateLockDoesNotMoveBalanceTwice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "1000")

	first, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("300")})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err = f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("300")})
	var dup *ledger.DuplicateLockError
	if !errors.As(err, &dup) {
		t.Fatalf("expected duplicate lock, got %v", err)
	}
	if dup.Existing == nil || dup.Existing.ID != first.ID {
		t.Fatalf("expected duplicate to carry existing lock")
	}

	assertBalances(t, f.wallet(t, "user-1"), "700", "300")
	locks, err := f.locks.LocksForUser(ctx, "user-1", "")
	if err != nil || len(locks) != 1 {
		t.Fatalf("expected one lock row, got %d (%v)", len(locks), err)
	}
	lockEntries, _ := f.ledger.EntriesByType(ctx, w.ID, ledger.EntryLock)
	if len(lockEntries) != 1 {
		t.Fatalf("expected one LOCK entry, got %d", len(lockEntries))
	}
}

func TestSettleConsumesLockedFunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "1000")
	if _, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("250.5")}); err != nil {
		t.Fatalf("lock: %v", err)
	}

	res, err := f.locks.Settle(ctx, "O1", "Trade executed: T1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Outcome != ledger.OutcomeApplied || res.Lock.Status != ledger.LockSettled {
		t.Fatalf("unexpected settle result %+v", res)
	}
	assertBalances(t, f.wallet(t, "user-1"), "749.5", "0")
	f.assertIdentity(t, "user-1")

	sum, err := f.ledger.SumByType(ctx, w.ID, ledger.EntrySettlement)
	if err != nil || !sum.Equal(dec("250.5")) {
		t.Fatalf("expected settlement sum 250.5, got %s (%v)", sum, err)
	}

	again, err := f.locks.Settle(ctx, "O1", "Trade executed: T1")
	if err != nil || again.Outcome != ledger.OutcomeAlreadyTerminal {
		t.Fatalf("expected idempotent settle, got %+v %v", again, err)
	}
	assertBalances(t, f.wallet(t, "user-1"), "749.5", "0")
	if n := countType(f.outboxTypes(), events.TypeFundsSettled); n != 1 {
		t.Fatalf("expected one FundsSettled, got %d", n)
	}
}

func TestConflictingTerminalTransitionIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fundedWallet(t, "user-1", "1000")
	if _, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("100")}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := f.locks.Settle(ctx, "O1", ""); err != nil {
		t.Fatalf("settle: %v", err)
	}

	res, err := f.locks.Release(ctx, "O1", "late cancel")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Outcome != ledger.OutcomeConflict || res.Lock.Status != ledger.LockSettled {
		t.Fatalf("expected conflict on settled lock, got %+v", res)
	}
	assertBalances(t, f.wallet(t, "user-1"), "900", "0")
	f.assertIdentity(t, "user-1")
}

func TestReleaseUnknownOrder(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.locks.Release(context.Background(), "missing", "x"); !errors.Is(err, ledger.ErrLockNotFound) {
		t.Fatalf("expected lock not found, got %v", err)
	}
}

func TestLockRequiresWallet(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.locks.Lock(context.Background(), LockRequest{UserID: "ghost", OrderID: "O1", Amount: dec("1")})
	if !errors.Is(err, ledger.ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestDebit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fundedWallet(t, "user-1", "100")

	if _, err := f.wallets.Debit(ctx, "user-1", dec("150"), "WD-1", ledger.ReferenceWithdrawal, "withdraw"); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	entry, err := f.wallets.Debit(ctx, "user-1", dec("40.1234"), "WD-2", ledger.ReferenceWithdrawal, "withdraw")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !entry.BalanceAfter.Equal(dec("59.8766")) {
		t.Fatalf("unexpected balance after %s", entry.BalanceAfter)
	}
	if _, err := f.wallets.Debit(ctx, "user-1", dec("0.00001"), "WD-3", ledger.ReferenceWithdrawal, ""); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for 5 dp, got %v", err)
	}
	f.assertIdentity(t, "user-1")
	if n := countType(f.outboxTypes(), events.TypeFundsWithdrawn); n != 1 {
		t.Fatalf("expected one FundsWithdrawn, got %d", n)
	}
}

func TestCreateWalletIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first, created, err := f.wallets.CreateWallet(ctx, "user-1")
	if err != nil || !created {
		t.Fatalf("expected created wallet, got %v %v", created, err)
	}
	if first.Currency != DefaultCurrency || first.Status != ledger.WalletActive {
		t.Fatalf("unexpected wallet defaults %+v", first)
	}
	second, created, err := f.wallets.CreateWallet(ctx, "user-1")
	if err != nil || created {
		t.Fatalf("expected existing wallet, got %v %v", created, err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same wallet id")
	}
}

func TestLedgerIsAppendOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "10")
	latest, err := f.ledger.LatestEntry(ctx, w.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	if err := f.ledger.DeleteEntry(ctx, latest.ID); !errors.Is(err, ledger.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported delete, got %v", err)
	}
	if err := f.ledger.UpdateEntry(ctx, latest.ID); !errors.Is(err, ledger.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported update, got %v", err)
	}
	if got, err := f.ledger.EntryByID(ctx, latest.ID); err != nil || got.ID != latest.ID {
		t.Fatalf("entry should still exist, got %v", err)
	}
}

func TestAppendRejectsBrokenChain(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "100")

	entry, _, err := ledger.NewEntry(w.ID, ledger.EntryDeposit, dec("5"), ledger.Balances{Available: dec("90")}, "", "", "")
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	if err := f.ledger.Append(ctx, &entry); !errors.Is(err, ledger.ErrBrokenChain) {
		t.Fatalf("expected broken chain, got %v", err)
	}
	count, _ := f.ledger.CountEntries(ctx, w.ID)
	if count != 1 {
		t.Fatalf("expected rejected append to leave one entry, got %d", count)
	}
}

func TestRebuildFidelity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "1000")
	steps := []func() error{
		func() error {
			_, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("300")})
			return err
		},
		func() error {
			_, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O2", Amount: dec("200")})
			return err
		},
		func() error { _, err := f.locks.Release(ctx, "O1", "cancel"); return err },
		func() error { _, err := f.locks.Settle(ctx, "O2", "trade"); return err },
		func() error {
			_, err := f.wallets.Debit(ctx, "user-1", dec("50"), "WD-1", ledger.ReferenceWithdrawal, "")
			return err
		},
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	report, err := f.ledger.RebuildWallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !report.Consistent || report.Entries != 6 {
		t.Fatalf("expected consistent replay of 6 entries, got %+v", report)
	}
	assertBalances(t, f.wallet(t, "user-1"), "750", "0")

	chain, err := f.ledger.VerifyChain(ctx, w.ID)
	if err != nil || !chain.Valid {
		t.Fatalf("expected valid chain, got %+v %v", chain, err)
	}
}

func TestRebuildFromLedgerCorrectsDrift(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fundedWallet(t, "user-1", "500")
	if _, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("100")}); err != nil {
		t.Fatalf("lock: %v", err)
	}

	err := f.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		w, err := tx.WalletByUserID(ctx, "user-1", true)
		if err != nil {
			return err
		}
		w.SetBalances(ledger.Balances{Available: dec("999"), Locked: dec("1")})
		return tx.UpdateWalletBalances(ctx, w)
	})
	if err != nil {
		t.Fatalf("corrupt projection: %v", err)
	}

	result, err := f.wallets.RebuildFromLedger(ctx, "user-1")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.Consistent {
		t.Fatalf("expected drift to be detected")
	}
	assertBalances(t, f.wallet(t, "user-1"), "400", "100")
	f.assertIdentity(t, "user-1")

	again, err := f.wallets.RebuildFromLedger(ctx, "user-1")
	if err != nil || !again.Consistent {
		t.Fatalf("expected consistent second rebuild, got %+v %v", again, err)
	}
}

func TestBalanceAtAndPaging(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "")

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.ledger.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	for i := 0; i < 25; i++ {
		if _, err := f.wallets.Credit(ctx, "user-1", dec("1"), "", ledger.ReferenceAdjustment, ""); err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
	}

	zero, err := f.ledger.BalanceAt(ctx, w.ID, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || !zero.IsZero() {
		t.Fatalf("expected zero before first entry, got %s %v", zero, err)
	}
	mid, err := f.ledger.BalanceAt(ctx, w.ID, time.Date(2024, 1, 1, 0, 10, 30, 0, time.UTC))
	if err != nil || !mid.Equal(dec("10")) {
		t.Fatalf("expected 10 after ten minutes, got %s %v", mid, err)
	}

	page, err := f.ledger.EntriesForWallet(ctx, w.ID, 1, 20)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.Total != 25 || len(page.Entries) != 5 {
		t.Fatalf("expected 5 of 25 on second page, got %d of %d", len(page.Entries), page.Total)
	}
	if page.Entries[0].Sequence != 5 {
		t.Fatalf("expected newest-first order, got sequence %d", page.Entries[0].Sequence)
	}

	capped, _ := f.ledger.EntriesForWallet(ctx, w.ID, 0, 1000)
	if capped.Size != MaxPageSize {
		t.Fatalf("expected size capped at %d, got %d", MaxPageSize, capped.Size)
	}
	if _, err := f.ledger.EntriesForWallet(ctx, uuid.New(), 0, 10); !errors.Is(err, ledger.ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestEntriesByReferenceID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fundedWallet(t, "user-1", "1000")
	if _, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("10")}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := f.locks.Release(ctx, "O1", "cancel"); err != nil {
		t.Fatalf("release: %v", err)
	}

	entries, err := f.ledger.EntriesByReferenceID(ctx, "O1")
	if err != nil {
		t.Fatalf("by reference: %v", err)
	}
	if len(entries) != 2 || entries[0].EntryType != ledger.EntryLock || entries[1].EntryType != ledger.EntryRelease {
		t.Fatalf("expected LOCK then RELEASE, got %+v", entries)
	}
	if entries[1].Description != "Funds released: cancel" {
		t.Fatalf("unexpected description %q", entries[1].Description)
	}
}

func TestLedgerEntryRecordedPayload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := events.WithCorrelationID(context.Background(), "saga-1")
	f.fundedWallet(t, "user-1", "")
	entry, err := f.wallets.Credit(ctx, "user-1", dec("12.5"), "PAYMENT-9", ledger.ReferencePayment, "deposit")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}

	var recorded events.LedgerEntryRecordedEvent
	for _, row := range f.store.Outbox() {
		if row.EventType == events.TypeLedgerEntryRecorded {
			if err := json.Unmarshal(row.Payload, &recorded); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if row.CorrelationID != "saga-1" {
				t.Fatalf("expected saga correlation id, got %q", row.CorrelationID)
			}
		}
	}
	if recorded.Entry.ID != entry.ID.String() || recorded.Entry.Amount != "12.5000" || recorded.UserID != "user-1" {
		t.Fatalf("unexpected recorded payload %+v", recorded)
	}
}

func TestBalanceSummaryUsesCache(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	f := newFixture(t, cache.NewBalanceCache(client, "test:", time.Minute))
	ctx := context.Background()
	f.fundedWallet(t, "user-1", "100")

	summary, err := f.wallets.BalanceSummary(ctx, "user-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Total().Equal(dec("100")) {
		t.Fatalf("unexpected total %s", summary.Total())
	}
	if !s.Exists("test:user-1") {
		t.Fatalf("expected summary cached")
	}

	if _, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("40")}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if s.Exists("test:user-1") {
		t.Fatalf("expected mutation to invalidate cache")
	}
	summary, err = f.wallets.BalanceSummary(ctx, "user-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Available.Equal(dec("60")) || !summary.Locked.Equal(dec("40")) {
		t.Fatalf("expected refreshed summary, got %+v", summary)
	}
}

func TestRejectOrderCapturesCompensation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fundedWallet(t, "user-1", "700")

	_, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O2", Amount: dec("1500")})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := f.locks.RejectOrder(ctx, "O2", "user-1", err); err != nil {
		t.Fatalf("reject: %v", err)
	}

	var rejected events.OrderRejectedEvent
	found := false
	for _, row := range f.store.Outbox() {
		if row.EventType == events.TypeOrderRejected {
			found = true
			if row.RoutingKey != "order.rejected" {
				t.Fatalf("unexpected routing key %q", row.RoutingKey)
			}
			if err := json.Unmarshal(row.Payload, &rejected); err != nil {
				t.Fatalf("decode: %v", err)
			}
		}
	}
	if !found {
		t.Fatalf("expected OrderRejected in outbox")
	}
	if rejected.Reason != "Insufficient funds: requested 1500.00, available 700.00" {
		t.Fatalf("unexpected reason %q", rejected.Reason)
	}
	if rejected.Requested != "1500.0000" || rejected.Available != "700.0000" {
		t.Fatalf("unexpected detail %+v", rejected)
	}
}

func TestMetricsRecordLockLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	store := storage.NewMemory()
	writer := outbox.NewWriter(events.DefaultRoutes())
	ledgerSvc := NewLedgerService(store, writer, nil, metrics)
	wallets := NewWalletService(store, ledgerSvc, writer, nil, "", nil, metrics)
	locks := NewFundsLockService(store, wallets, writer, nil, metrics)
	ctx := context.Background()

	w, _, err := wallets.CreateWallet(ctx, "user-1")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := wallets.Credit(ctx, "user-1", dec("100"), "PAYMENT-1", ledger.ReferencePayment, "seed"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: "O1", Amount: dec("40")}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := locks.Settle(ctx, "O1", ""); err != nil {
		t.Fatalf("settle: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var observed uint64
	for _, mf := range families {
		if mf.GetName() != "funds_lock_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			observed += m.GetHistogram().GetSampleCount()
		}
	}
	if observed != 1 {
		t.Fatalf("expected one lock duration observation, got %d", observed)
	}

	report, err := ledgerSvc.VerifyChain(ctx, w.ID)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !report.Valid || report.Entries != 3 {
		t.Fatalf("expected valid chain of 3 entries, got %+v", report)
	}
}

func TestConcurrentLocksNeverOverdraw(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.fundedWallet(t, "user-1", "1000")

	const attempts = 20
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		locked       []string
		insufficient int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			orderID := fmt.Sprintf("ORD-%02d", i)
			_, err := f.locks.Lock(ctx, LockRequest{UserID: "user-1", OrderID: orderID, Amount: dec("100")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				locked = append(locked, orderID)
			case errors.Is(err, ledger.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("lock %s: %v", orderID, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(locked) != 10 || insufficient != 10 {
		t.Fatalf("expected 10 locks and 10 refusals, got %d and %d", len(locked), insufficient)
	}
	current := f.wallet(t, "user-1")
	assertBalances(t, current, "0", "1000")
	if current.LockedBalance.GreaterThan(dec("1000")) {
		t.Fatalf("locked %s exceeds funded 1000", current.LockedBalance)
	}

	for _, orderID := range locked {
		wg.Add(2)
		go func(orderID string) {
			defer wg.Done()
			if _, err := f.locks.Release(ctx, orderID, ""); err != nil {
				t.Errorf("release %s: %v", orderID, err)
			}
		}(orderID)
		go func(orderID string) {
			defer wg.Done()
			if _, err := f.wallets.Credit(ctx, "user-1", dec("10"), "PAYMENT-"+orderID, ledger.ReferencePayment, "top up"); err != nil {
				t.Errorf("credit %s: %v", orderID, err)
			}
		}(orderID)
	}
	wg.Wait()

	assertBalances(t, f.wallet(t, "user-1"), "1100", "0")
	f.assertIdentity(t, "user-1")
	report, err := f.ledger.VerifyChain(ctx, w.ID)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !report.Valid || report.Entries != 31 {
		t.Fatalf("expected valid chain of 31 entries, got %+v", report)
	}
}

func TestEntriesForWalletRejectsOverflowingPage(t *testing.T) {
	f := newFixture(t, nil)
	w := f.fundedWallet(t, "user-1", "10")
	_, err := f.ledger.EntriesForWallet(context.Background(), w.ID, math.MaxInt/10+1, 10)
	if !errors.Is(err, ErrPageOutOfRange) {
		t.Fatalf("expected page out of range, got %v", err)
	}
}
