package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
)

// Error taxonomy shared by every store implementation and the service layer.
//
//   - ErrValidation: malformed or missing input; no side effects.
//   - ErrPrecondition: state rejects the operation (register not open, cash-out
//     over balance, ...); no side effects.
//   - ErrInsufficientStock: a precondition specific to inventory; carries the
//     available quantity in its wrapped message.
//   - ErrConflict: lost update detected; the whole operation is safe to retry.
//   - ErrConsistency: internal invariant broken (unbalanced journal, running
//     balance mismatch); never surfaced verbatim, never retried.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrPrecondition      = errors.New("precondition failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("concurrency conflict")
	ErrConsistency       = errors.New("consistency violation")
)

// Settlement is the atomic unit a POS sale commits as: the sale with items and
// payments, its journal postings, and (for cash tenders) the register
// transaction. Implementations persist everything or nothing: stock is
// checked and decremented, OUT movements recorded, the invoice number
// allocated, journals written, and the register balance advanced in a single
// transaction.
type Settlement struct {
	Sale       domain.Sale
	Journals   []domain.JournalEntry
	RegisterID string          // empty for non-cash tenders
	CashAmount decimal.Decimal // cash-tendered portion posted to the register
	PostedBy   string
}

// Refund is the atomic counterpart of a settlement: sale status/refunded
// amount update, reversing journals, optional restock (IN movements), and the
// register refund transaction for cash-tendered originals.
type Refund struct {
	SaleID     string
	Amount     decimal.Decimal
	Reason     string
	Journals   []domain.JournalEntry
	Restock    bool
	RegisterID string // empty when no register transaction is required
	PostedBy   string
}

type Repository interface {
	// Collaborator lookups.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetStockLevel(ctx context.Context, productID string, warehouseID string) (int, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)

	// Settlement flow.
	CreateSettlement(ctx context.Context, st Settlement) (*domain.Sale, error)
	CreateRefund(ctx context.Context, rf Refund) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, branchID string, page int, limit int) ([]domain.Sale, int, error)
	GetDailySummary(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.DailySummary, error)

	// Ledger (read-only outside settlements).
	ListJournalsByReference(ctx context.Context, referenceID string) ([]domain.JournalEntry, error)
	ListJournals(ctx context.Context, limit int) ([]domain.JournalEntry, error)

	// Cash registers.
	GetCashRegister(ctx context.Context, id string) (*domain.CashRegister, error)
	ListCashRegisters(ctx context.Context, branchID string) ([]domain.CashRegister, error)
	OpenRegister(ctx context.Context, id string, openingBalance decimal.Decimal, operator string, notes string, at time.Time) (*domain.CashRegister, error)
	CloseRegister(ctx context.Context, id string, actualAmount decimal.Decimal, operator string, notes string, at time.Time) (*domain.CashRegister, error)
	PostRegisterCashFlow(ctx context.Context, id string, txn domain.CashRegisterTransaction) (*domain.CashRegisterTransaction, error)
	ListRegisterTransactions(ctx context.Context, id string, sessionOnly bool, limit int) ([]domain.CashRegisterTransaction, error)

	// Stock movement history.
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	// Ambient.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// Auth credentials.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
