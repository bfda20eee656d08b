package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/store"
)

func TestSettlementCommitsAtomically(t *testing.T) {
	databaseURL := os.Getenv("TOKOLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TOKOLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	registerID := fmt.Sprintf("reg-it-%d", stamp)
	warehouseID := "wh-main"
	branchID := fmt.Sprintf("branch-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM journal_lines WHERE journal_id IN (SELECT id FROM journal_entries WHERE reference_id = $1)`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM journal_entries WHERE reference_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_register_transactions WHERE register_id = $1`, registerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_registers WHERE id = $1`, registerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE reference = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_payments WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_levels WHERE warehouse_id = $1 AND product_id = $2`, warehouseID, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoice_sequences WHERE branch_id = $1`, branchID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, selling_price, cost_price, active)
		VALUES ($1, $2, 'Produk Integrasi', 100, 70, true)
	`, productID, fmt.Sprintf("SKU-IT-%d", stamp)); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_levels (warehouse_id, product_id, qty, updated_at)
		VALUES ($1, $2, 10, now())
		ON CONFLICT (warehouse_id, product_id) DO UPDATE SET qty = 10, updated_at = now()
	`, warehouseID, productID); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_registers (id, name, branch_id, status, opening_balance, current_balance, opened_by, opened_at)
		VALUES ($1, 'Kasir Integrasi', $2, 'open', 500, 500, 'tester', now())
	`, registerID, branchID); err != nil {
		t.Fatalf("seed register: %v", err)
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:             saleID,
		BranchID:       branchID,
		CashRegisterID: registerID,
		Items: []domain.SaleItem{{
			ProductID:   productID,
			WarehouseID: warehouseID,
			Quantity:    2,
			UnitPrice:   decimal.NewFromInt(100),
			LineTotal:   decimal.NewFromInt(200),
		}},
		Payments: []domain.SalePayment{{
			Method:      domain.PaymentCash,
			Amount:      decimal.NewFromInt(210),
			AccountCode: domain.AccountCashOnHand,
		}},
		Subtotal:   decimal.NewFromInt(200),
		Tax:        decimal.NewFromInt(10),
		Total:      decimal.NewFromInt(210),
		PaidAmount: decimal.NewFromInt(210),
		Status:     domain.SaleCompleted,
		SaleType:   domain.SaleTypePOS,
		ServedBy:   "tester",
		CreatedBy:  "tester",
		CreatedAt:  now,
	}

	created, err := s.CreateSettlement(ctx, store.Settlement{
		Sale:       sale,
		Journals:   []domain.JournalEntry{ledger.SalePosting(sale, now)},
		RegisterID: registerID,
		CashAmount: decimal.NewFromInt(210),
		PostedBy:   "tester",
	})
	if err != nil {
		t.Fatalf("create settlement: %v", err)
	}
	if created.InvoiceNumber == "" {
		t.Fatalf("expected allocated invoice number")
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `
		SELECT qty FROM stock_levels WHERE warehouse_id = $1 AND product_id = $2
	`, warehouseID, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 8 {
		t.Fatalf("expected stock 8 after settlement, got %d", qty)
	}

	register, err := s.GetCashRegister(ctx, registerID)
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	if !register.CurrentBalance.Equal(decimal.NewFromInt(710)) {
		t.Fatalf("register balance = %s, want 710", register.CurrentBalance)
	}

	journals, err := s.ListJournalsByReference(ctx, saleID)
	if err != nil {
		t.Fatalf("list journals: %v", err)
	}
	if len(journals) != 1 {
		t.Fatalf("journals = %d, want 1", len(journals))
	}
	if err := ledger.Validate(journals[0]); err != nil {
		t.Fatalf("persisted journal unbalanced: %v", err)
	}

	// A second cart larger than the remaining stock must fail without side
	// effects.
	oversell := sale
	oversell.ID = saleID + "-oversell"
	oversell.Items[0].Quantity = 50
	_, err = s.CreateSettlement(ctx, store.Settlement{
		Sale:       oversell,
		Journals:   []domain.JournalEntry{ledger.SalePosting(oversell, now)},
		RegisterID: registerID,
		CashAmount: decimal.NewFromInt(210),
		PostedBy:   "tester",
	})
	if err == nil {
		t.Fatalf("expected insufficient stock error")
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT qty FROM stock_levels WHERE warehouse_id = $1 AND product_id = $2
	`, warehouseID, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 8 {
		t.Fatalf("failed settlement must not touch stock, got %d", qty)
	}
}
