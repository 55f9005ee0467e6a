package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/libs/auth"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/cache"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WalletService interface {
	BalanceSummary(ctx context.Context, userID string) (cache.Balance, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, referenceID, referenceType, description string) (*ledger.Entry, error)
	RebuildFromLedger(ctx context.Context, userID string) (*service.Rebuild, error)
}

type LedgerService interface {
	EntriesForWallet(ctx context.Context, walletID uuid.UUID, page, size int) (service.Page, error)
	EntriesByReferenceID(ctx context.Context, referenceID string) ([]ledger.Entry, error)
	EntryByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error)
	BalanceAt(ctx context.Context, walletID uuid.UUID, at time.Time) (decimal.Decimal, error)
	SumByType(ctx context.Context, walletID uuid.UUID, entryType ledger.EntryType) (decimal.Decimal, error)
	VerifyChain(ctx context.Context, walletID uuid.UUID) (*service.ChainReport, error)
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	UpdateEntry(ctx context.Context, id uuid.UUID) error
}

type LockService interface {
	Lock(ctx context.Context, req service.LockRequest) (*ledger.FundsLock, error)
	Release(ctx context.Context, orderID, reason string) (*service.LockResult, error)
	Settle(ctx context.Context, orderID, reason string) (*service.LockResult, error)
	GetLockByOrderID(ctx context.Context, orderID string) (*ledger.FundsLock, error)
	LocksForUser(ctx context.Context, userID string, status ledger.LockStatus) ([]ledger.FundsLock, error)
}

type TransactionService interface {
	InitiateDeposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef, description string) (*ledger.Transaction, error)
	InitiateWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, description string) (*ledger.Transaction, error)
	ConfirmDeposit(ctx context.Context, reference string) (*service.TransactionResult, error)
	CompleteWithdrawal(ctx context.Context, reference string) (*service.TransactionResult, error)
	FailTransaction(ctx context.Context, reference, reason string) (*service.TransactionResult, error)
	CancelTransaction(ctx context.Context, reference, reason string) (*service.TransactionResult, error)
	GetTransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error)
	TransactionsForUser(ctx context.Context, userID string, page, size int) (service.TransactionPage, error)
}

type Handler struct {
	Wallets      WalletService
	Ledger       LedgerService
	Locks        LockService
	Transactions TransactionService
	Logger       *slog.Logger
}

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type walletResponse struct {
	WalletID  string `json:"wallet_id"`
	UserID    string `json:"user_id"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

type lockResponse struct {
	LockID    string  `json:"lock_id"`
	WalletID  string  `json:"wallet_id"`
	UserID    string  `json:"user_id"`
	OrderID   string  `json:"order_id"`
	Amount    string  `json:"amount"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	ClosedAt  *string `json:"closed_at,omitempty"`
}

type ledgerPageResponse struct {
	WalletID string               `json:"wallet_id"`
	Entries  []events.LedgerEntry `json:"entries"`
	Page     int                  `json:"page"`
	Size     int                  `json:"size"`
	Total    int64                `json:"total"`
}

type lockRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	OrderID  string `json:"order_id" binding:"required"`
	Amount   string `json:"amount" binding:"required,numeric"`
	Reason   string `json:"reason"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side" binding:"omitempty,oneof=BUY SELL"`
	Quantity string `json:"quantity" binding:"omitempty,numeric"`
	Price    string `json:"price" binding:"omitempty,numeric"`
}

type transactionResponse struct {
	TransactionID     string `json:"transaction_id"`
	WalletID          string `json:"wallet_id"`
	UserID            string `json:"user_id"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	Description       string `json:"description"`
	FailureReason     string `json:"failure_reason,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type transactionRequest struct {
	Type              string `json:"type" binding:"required,oneof=DEPOSIT WITHDRAWAL"`
	Amount            string `json:"amount" binding:"required,numeric"`
	ExternalReference string `json:"external_reference"`
	Description       string `json:"description"`
}

type closeRequest struct {
	Reason string `json:"reason"`
}

type withdrawalRequest struct {
	Amount      string `json:"amount" binding:"required,numeric"`
	ReferenceID string `json:"reference_id" binding:"required"`
	Description string `json:"description"`
}

func New(wallets WalletService, ledgerSvc LedgerService, locks LockService, transactions TransactionService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Wallets: wallets, Ledger: ledgerSvc, Locks: locks, Transactions: transactions, Logger: logger}
}

// Register mounts the query routes and the admin routes. Admin routes require a
// JWT carrying the admin role when jwtSecret is set.
func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	r.GET("/wallets/:userId", h.GetWallet)
	r.GET("/wallets/:userId/locks", h.ListLocks)
	r.GET("/locks/:orderId", h.GetLock)

	r.GET("/ledger/:walletId", h.GetLedger)
	r.GET("/ledger/:walletId/balance-at", h.BalanceAt)
	r.GET("/ledger/:walletId/sum", h.SumByType)
	r.GET("/ledger/:walletId/verify", h.VerifyChain)
	r.GET("/ledger/references/:referenceId", h.EntriesByReference)
	r.GET("/ledger/entries/:entryId", h.GetEntry)
	r.DELETE("/ledger/entries/:entryId", h.DeleteEntry)
	r.PUT("/ledger/entries/:entryId", h.UpdateEntry)

	admin := r.Group("/")
	if len(jwtSecret) > 0 {
		admin.Use(auth.Middleware(jwtSecret), auth.RequireRole(auth.RoleAdmin))
	}
	admin.POST("/wallets/:userId/rebuild", h.RebuildWallet)
	admin.POST("/wallets/:userId/withdrawals", h.Withdraw)
	admin.POST("/locks", h.LockFunds)
	admin.POST("/locks/:orderId/release", h.ReleaseLock)
	admin.POST("/locks/:orderId/settle", h.SettleLock)

	admin.POST("/wallets/:userId/transactions", h.InitiateTransaction)
	admin.GET("/wallets/:userId/transactions", h.ListTransactions)
	admin.GET("/transactions/:reference", h.GetTransaction)
	admin.POST("/transactions/:reference/confirm", h.ConfirmDeposit)
	admin.POST("/transactions/:reference/complete", h.CompleteWithdrawal)
	admin.POST("/transactions/:reference/fail", h.FailTransaction)
	admin.POST("/transactions/:reference/cancel", h.CancelTransaction)
}

func (h *Handler) GetWallet(c *gin.Context) {
	balance, err := h.Wallets.BalanceSummary(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeServiceError(c, "get wallet", err)
		return
	}
	c.JSON(http.StatusOK, walletResponse{
		WalletID:  balance.WalletID,
		UserID:    balance.UserID,
		Available: ledger.Format(balance.Available),
		Locked:    ledger.Format(balance.Locked),
		Total:     ledger.Format(balance.Total()),
		Currency:  balance.Currency,
		Status:    balance.Status,
		UpdatedAt: balance.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ListLocks(c *gin.Context) {
	var status ledger.LockStatus
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("status"))); raw != "" {
		parsed, ok := ledger.ParseLockStatus(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid status", nil)
			return
		}
		status = parsed
	}

	locks, err := h.Locks.LocksForUser(c.Request.Context(), c.Param("userId"), status)
	if err != nil {
		h.writeServiceError(c, "list locks", err)
		return
	}
	items := make([]lockResponse, 0, len(locks))
	for _, l := range locks {
		items = append(items, lockToResponse(l))
	}
	c.JSON(http.StatusOK, gin.H{"locks": items})
}

func (h *Handler) GetLock(c *gin.Context) {
	lock, err := h.Locks.GetLockByOrderID(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.writeServiceError(c, "get lock", err)
		return
	}
	c.JSON(http.StatusOK, lockToResponse(*lock))
}

func (h *Handler) GetLedger(c *gin.Context) {
	walletID, ok := uuidParam(c, "walletId")
	if !ok {
		return
	}
	page, ok := intQuery(c, "page", 0)
	if !ok {
		return
	}
	size, ok := intQuery(c, "size", service.DefaultPageSize)
	if !ok {
		return
	}

	result, err := h.Ledger.EntriesForWallet(c.Request.Context(), walletID, page, size)
	if err != nil {
		h.writeServiceError(c, "get ledger", err)
		return
	}
	c.JSON(http.StatusOK, ledgerPageResponse{
		WalletID: walletID.String(),
		Entries:  entryDTOs(result.Entries),
		Page:     result.Page,
		Size:     result.Size,
		Total:    result.Total,
	})
}

func (h *Handler) BalanceAt(c *gin.Context) {
	walletID, ok := uuidParam(c, "walletId")
	if !ok {
		return
	}
	at := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid at", nil)
			return
		}
		at = parsed
	}

	balance, err := h.Ledger.BalanceAt(c.Request.Context(), walletID, at)
	if err != nil {
		h.writeServiceError(c, "balance at", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id": walletID.String(),
		"at":        at.UTC().Format(time.RFC3339),
		"balance":   ledger.Format(balance),
	})
}

func (h *Handler) SumByType(c *gin.Context) {
	walletID, ok := uuidParam(c, "walletId")
	if !ok {
		return
	}
	entryType, err := ledger.ParseEntryType(strings.ToUpper(strings.TrimSpace(c.Query("type"))))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid type", nil)
		return
	}

	sum, err := h.Ledger.SumByType(c.Request.Context(), walletID, entryType)
	if err != nil {
		h.writeServiceError(c, "sum by type", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id":  walletID.String(),
		"entry_type": string(entryType),
		"sum":        ledger.Format(sum),
	})
}

func (h *Handler) VerifyChain(c *gin.Context) {
	walletID, ok := uuidParam(c, "walletId")
	if !ok {
		return
	}
	report, err := h.Ledger.VerifyChain(c.Request.Context(), walletID)
	if err != nil {
		h.writeServiceError(c, "verify chain", err)
		return
	}
	resp := gin.H{
		"wallet_id": walletID.String(),
		"entries":   report.Entries,
		"valid":     report.Valid,
	}
	if !report.Valid {
		resp["broken_at"] = report.BrokenAt
		resp["reason"] = report.Reason
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) EntriesByReference(c *gin.Context) {
	entries, err := h.Ledger.EntriesByReferenceID(c.Request.Context(), c.Param("referenceId"))
	if err != nil {
		h.writeServiceError(c, "entries by reference", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entryDTOs(entries)})
}

func (h *Handler) GetEntry(c *gin.Context) {
	id, ok := uuidParam(c, "entryId")
	if !ok {
		return
	}
	entry, err := h.Ledger.EntryByID(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "get entry", err)
		return
	}
	c.JSON(http.StatusOK, service.EntryDTO(*entry))
}

func (h *Handler) DeleteEntry(c *gin.Context) {
	id, _ := uuid.Parse(strings.TrimSpace(c.Param("entryId")))
	h.writeServiceError(c, "delete entry", h.Ledger.DeleteEntry(c.Request.Context(), id))
}

func (h *Handler) UpdateEntry(c *gin.Context) {
	id, _ := uuid.Parse(strings.TrimSpace(c.Param("entryId")))
	h.writeServiceError(c, "update entry", h.Ledger.UpdateEntry(c.Request.Context(), id))
}

func (h *Handler) RebuildWallet(c *gin.Context) {
	result, err := h.Wallets.RebuildFromLedger(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeServiceError(c, "rebuild wallet", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id":           result.WalletID.String(),
		"user_id":             result.UserID,
		"entries":             result.Entries,
		"consistent":          result.Consistent,
		"available":           ledger.Format(result.Replayed.Available),
		"locked":              ledger.Format(result.Replayed.Locked),
		"projected_available": ledger.Format(result.Projected.Available),
		"projected_locked":    ledger.Format(result.Projected.Locked),
	})
}

func (h *Handler) Withdraw(c *gin.Context) {
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Withdrawal"
	}

	entry, err := h.Wallets.Debit(c.Request.Context(), c.Param("userId"), amount, req.ReferenceID, ledger.ReferenceWithdrawal, description)
	if err != nil {
		h.writeServiceError(c, "withdraw", err)
		return
	}
	c.JSON(http.StatusOK, service.EntryDTO(*entry))
}

func (h *Handler) LockFunds(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	lock, err := h.Locks.Lock(c.Request.Context(), service.LockRequest{
		UserID:   req.UserID,
		OrderID:  req.OrderID,
		Amount:   amount,
		Reason:   req.Reason,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		h.writeServiceError(c, "lock funds", err)
		return
	}
	c.JSON(http.StatusCreated, lockToResponse(*lock))
}

func (h *Handler) ReleaseLock(c *gin.Context) {
	h.closeLock(c, "release", h.Locks.Release)
}

func (h *Handler) SettleLock(c *gin.Context) {
	h.closeLock(c, "settle", h.Locks.Settle)
}

func (h *Handler) closeLock(c *gin.Context, op string, fn func(ctx context.Context, orderID, reason string) (*service.LockResult, error)) {
	var req closeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}

	result, err := fn(c.Request.Context(), c.Param("orderId"), req.Reason)
	if err != nil {
		h.writeServiceError(c, op+" lock", err)
		return
	}
	if result.Outcome == ledger.OutcomeConflict {
		writeError(c, http.StatusConflict, "LOCK_CONFLICT", "lock already "+strings.ToLower(string(result.Lock.Status)), map[string]any{
			"order_id": result.Lock.OrderID,
			"status":   string(result.Lock.Status),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": string(result.Outcome),
		"lock":    lockToResponse(result.Lock),
	})
}

func (h *Handler) InitiateTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	ctx := c.Request.Context()
	var t *ledger.Transaction
	if ledger.TransactionType(req.Type) == ledger.TransactionDeposit {
		t, err = h.Transactions.InitiateDeposit(ctx, c.Param("userId"), amount, req.ExternalReference, req.Description)
	} else {
		t, err = h.Transactions.InitiateWithdrawal(ctx, c.Param("userId"), amount, req.Description)
	}
	if err != nil {
		h.writeServiceError(c, "initiate transaction", err)
		return
	}
	c.JSON(http.StatusCreated, transactionToResponse(*t))
}

func (h *Handler) ListTransactions(c *gin.Context) {
	page, ok := intQuery(c, "page", 0)
	if !ok {
		return
	}
	size, ok := intQuery(c, "size", service.DefaultPageSize)
	if !ok {
		return
	}
	result, err := h.Transactions.TransactionsForUser(c.Request.Context(), c.Param("userId"), page, size)
	if err != nil {
		h.writeServiceError(c, "list transactions", err)
		return
	}
	items := make([]transactionResponse, 0, len(result.Transactions))
	for _, t := range result.Transactions {
		items = append(items, transactionToResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": items,
		"page":         result.Page,
		"size":         result.Size,
		"total":        result.Total,
	})
}

func (h *Handler) GetTransaction(c *gin.Context) {
	t, err := h.Transactions.GetTransactionByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeServiceError(c, "get transaction", err)
		return
	}
	c.JSON(http.StatusOK, transactionToResponse(*t))
}

func (h *Handler) ConfirmDeposit(c *gin.Context) {
	h.closeTransaction(c, "confirm deposit", func(ctx context.Context, reference, _ string) (*service.TransactionResult, error) {
		return h.Transactions.ConfirmDeposit(ctx, reference)
	})
}

func (h *Handler) CompleteWithdrawal(c *gin.Context) {
	h.closeTransaction(c, "complete withdrawal", func(ctx context.Context, reference, _ string) (*service.TransactionResult, error) {
		return h.Transactions.CompleteWithdrawal(ctx, reference)
	})
}

func (h *Handler) FailTransaction(c *gin.Context) {
	h.closeTransaction(c, "fail transaction", h.Transactions.FailTransaction)
}

func (h *Handler) CancelTransaction(c *gin.Context) {
	h.closeTransaction(c, "cancel transaction", h.Transactions.CancelTransaction)
}

func (h *Handler) closeTransaction(c *gin.Context, op string, fn func(ctx context.Context, reference, reason string) (*service.TransactionResult, error)) {
	var req closeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}

	result, err := fn(c.Request.Context(), c.Param("reference"), req.Reason)
	if err != nil {
		h.writeServiceError(c, op, err)
		return
	}
	if result.Outcome == ledger.OutcomeConflict {
		writeError(c, http.StatusConflict, "TRANSACTION_CONFLICT", "transaction already "+strings.ToLower(string(result.Transaction.Status)), map[string]any{
			"reference": result.Transaction.ExternalReference,
			"status":    string(result.Transaction.Status),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":     string(result.Outcome),
		"transaction": transactionToResponse(result.Transaction),
	})
}

// writeServiceError maps domain errors onto the error body. Unknown errors are logged
// and reported as INTERNAL_ERROR.
func (h *Handler) writeServiceError(c *gin.Context, op string, err error) {
	var insufficient *ledger.InsufficientFundsError
	var duplicate *ledger.DuplicateLockError
	var duplicateTx *ledger.DuplicateTransactionError
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.As(err, &insufficient):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_FUNDS", "insufficient funds", map[string]any{
			"requested": ledger.Format(insufficient.Requested),
			"available": ledger.Format(insufficient.Available),
		})
	case errors.As(err, &duplicate):
		details := map[string]any{"order_id": duplicate.OrderID}
		if duplicate.Existing != nil {
			details["lock_id"] = duplicate.Existing.ID.String()
			details["status"] = string(duplicate.Existing.Status)
		}
		writeError(c, http.StatusConflict, "DUPLICATE_LOCK", "funds already locked for order", details)
	case errors.As(err, &duplicateTx):
		writeError(c, http.StatusConflict, "DUPLICATE_TRANSACTION", "transaction reference already exists", map[string]any{
			"reference": duplicateTx.Reference,
		})
	case errors.Is(err, ledger.ErrTransactionNotFound):
		writeError(c, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "transaction not found", nil)
	case errors.Is(err, ledger.ErrTransactionTypeMismatch):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, ledger.ErrUnsupportedOperation):
		writeError(c, http.StatusMethodNotAllowed, "UNSUPPORTED_OPERATION", err.Error(), nil)
	case errors.Is(err, ledger.ErrWalletNotFound):
		writeError(c, http.StatusNotFound, "WALLET_NOT_FOUND", "wallet not found", nil)
	case errors.Is(err, ledger.ErrLockNotFound):
		writeError(c, http.StatusNotFound, "LOCK_NOT_FOUND", "funds lock not found", nil)
	case errors.Is(err, ledger.ErrEntryNotFound):
		writeError(c, http.StatusNotFound, "ENTRY_NOT_FOUND", "ledger entry not found", nil)
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidEntryType), errors.Is(err, service.ErrPageOutOfRange):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	default:
		h.Logger.Error(op+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func writeError(c *gin.Context, status int, code, message string, details map[string]any) {
	c.JSON(status, errorResponse{Code: code, Message: message, Details: details})
}

func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", events.FormatValidationError(verrs), nil)
		return
	}
	writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid "+name, nil)
		return 0, false
	}
	return n, true
}

func lockToResponse(l ledger.FundsLock) lockResponse {
	resp := lockResponse{
		LockID:    l.ID.String(),
		WalletID:  l.WalletID.String(),
		UserID:    l.UserID,
		OrderID:   l.OrderID,
		Amount:    ledger.Format(l.Amount),
		Status:    string(l.Status),
		Reason:    l.Reason,
		CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: l.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if l.ClosedAt != nil {
		closed := l.ClosedAt.UTC().Format(time.RFC3339)
		resp.ClosedAt = &closed
	}
	return resp
}

func entryDTOs(entries []ledger.Entry) []events.LedgerEntry {
	out := make([]events.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, service.EntryDTO(e))
	}
	return out
}

func transactionToResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID:     t.ID.String(),
		WalletID:          t.WalletID.String(),
		UserID:            t.UserID,
		Type:              string(t.Type),
		Amount:            ledger.Format(t.Amount),
		Status:            string(t.Status),
		ExternalReference: t.ExternalReference,
		Description:       t.Description,
		FailureReason:     t.FailureReason,
		CreatedAt:         t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
