package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, selling_price, cost_price, active
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.SellingPrice, &p.CostPrice, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, selling_price, cost_price, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.SellingPrice, &p.CostPrice, &p.Active); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) GetStockLevel(ctx context.Context, productID string, warehouseID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT qty FROM stock_levels
		WHERE warehouse_id = $1 AND product_id = $2
	`, warehouseID, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, group_discount_percent
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.GroupDiscountPercent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// CreateSettlement commits the whole sale in one serializable transaction:
// register check, stock check and decrement, invoice allocation, journal
// postings and the register cash movement. Serialization failures surface as
// ErrConflict so the caller can retry the entire settlement.
func (s *Store) CreateSettlement(ctx context.Context, st store.Settlement) (*domain.Sale, error) {
	sale := st.Sale
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: settlement missing sale or items", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var registerBalance decimal.Decimal
	if st.RegisterID != "" {
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT status, current_balance
			FROM cash_registers
			WHERE id = $1
			FOR UPDATE
		`, st.RegisterID).Scan(&status, &registerBalance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, st.RegisterID)
			}
			return nil, mapPgError(err)
		}
		if domain.RegisterStatus(status) != domain.RegisterOpen {
			return nil, fmt.Errorf("%w: cash register is not open", store.ErrPrecondition)
		}
	}

	// Lock and verify every stock row before any decrement.
	type need struct {
		warehouseID string
		productID   string
		qty         int
	}
	needed := make([]need, 0, len(sale.Items))
	aggregated := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be greater than zero", store.ErrValidation)
		}
		key := item.WarehouseID + "\x00" + item.ProductID
		if _, seen := aggregated[key]; !seen {
			needed = append(needed, need{warehouseID: item.WarehouseID, productID: item.ProductID})
		}
		aggregated[key] += item.Quantity
	}
	for i := range needed {
		needed[i].qty = aggregated[needed[i].warehouseID+"\x00"+needed[i].productID]
	}

	for _, n := range needed {
		var available int
		err := tx.QueryRowContext(ctx, `
			SELECT qty FROM stock_levels
			WHERE warehouse_id = $1 AND product_id = $2
			FOR UPDATE
		`, n.warehouseID, n.productID).Scan(&available)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: only 0 units of %s available in stock", store.ErrInsufficientStock, n.productID)
			}
			return nil, mapPgError(err)
		}
		if available < n.qty {
			return nil, fmt.Errorf("%w: only %d units of %s available in stock", store.ErrInsufficientStock, available, n.productID)
		}
	}

	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = sale.CreatedAt

	day := sale.CreatedAt.Format("20060102")
	var seq int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (branch_id, day, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (branch_id, day) DO UPDATE SET seq = invoice_sequences.seq + 1
		RETURNING seq
	`, sale.BranchID, day).Scan(&seq)
	if err != nil {
		return nil, mapPgError(err)
	}
	sale.InvoiceNumber = fmt.Sprintf("INV-%s-%04d", day, seq)

	for _, n := range needed {
		_, err := tx.ExecContext(ctx, `
			UPDATE stock_levels
			SET qty = qty - $1, updated_at = now()
			WHERE warehouse_id = $2 AND product_id = $3
		`, n.qty, n.warehouseID, n.productID)
		if err != nil {
			return nil, mapPgError(err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, product_id, warehouse_id, type, qty, reference, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, xid.New("mov"), n.productID, n.warehouseID, domain.StockOut, n.qty, sale.ID, sale.CreatedAt)
		if err != nil {
			return nil, mapPgError(err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, branch_id, customer_id, cash_register_id,
			subtotal, manual_discount, group_discount, tax, total,
			paid_amount, refunded_amount, status, sale_type,
			served_by, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, sale.ID, sale.InvoiceNumber, sale.BranchID, nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.CashRegisterID),
		sale.Subtotal, sale.ManualDiscount, sale.GroupDiscount, sale.Tax, sale.Total,
		sale.PaidAmount, decimal.Zero, sale.Status, sale.SaleType,
		sale.ServedBy, sale.CreatedBy, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, warehouse_id, qty, unit_price, discount, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, item.ProductID, item.WarehouseID, item.Quantity, item.UnitPrice, item.Discount, item.LineTotal)
		if err != nil {
			return nil, mapPgError(err)
		}
	}
	for _, payment := range sale.Payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_payments (sale_id, method, amount, account_code, reference)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, payment.Method, payment.Amount, payment.AccountCode, nullIfEmpty(payment.Reference))
		if err != nil {
			return nil, mapPgError(err)
		}
	}

	for _, journal := range st.Journals {
		if err := insertJournal(ctx, tx, journal, sale.ID, sale.CreatedAt); err != nil {
			return nil, err
		}
	}

	if st.RegisterID != "" && st.CashAmount.IsPositive() {
		registerBalance = registerBalance.Add(st.CashAmount)
		if err := updateRegisterBalance(ctx, tx, st.RegisterID, registerBalance); err != nil {
			return nil, err
		}
		if err := insertRegisterTxn(ctx, tx, domain.CashRegisterTransaction{
			ID:             xid.New("crt"),
			RegisterID:     st.RegisterID,
			Type:           domain.RegisterTxnSale,
			Amount:         st.CashAmount,
			RunningBalance: registerBalance,
			SaleID:         sale.ID,
			PostedBy:       st.PostedBy,
			Description:    "POS sale " + sale.InvoiceNumber,
			CreatedAt:      now,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPgError(err)
	}

	return &sale, nil
}

func (s *Store) CreateRefund(ctx context.Context, rf store.Refund) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sale domain.Sale
	var customerID, registerID sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT id, invoice_number, branch_id, customer_id, cash_register_id,
			subtotal, manual_discount, group_discount, tax, total,
			paid_amount, refunded_amount, status, sale_type,
			served_by, created_by, created_at, updated_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, rf.SaleID).Scan(&sale.ID, &sale.InvoiceNumber, &sale.BranchID, &customerID, &registerID,
		&sale.Subtotal, &sale.ManualDiscount, &sale.GroupDiscount, &sale.Tax, &sale.Total,
		&sale.PaidAmount, &sale.RefundedAmount, &sale.Status, &sale.SaleType,
		&sale.ServedBy, &sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, rf.SaleID)
		}
		return nil, mapPgError(err)
	}
	sale.CustomerID = customerID.String
	sale.CashRegisterID = registerID.String

	refundable := sale.Total.Sub(sale.RefundedAmount)
	if !rf.Amount.IsPositive() || rf.Amount.GreaterThan(refundable) {
		return nil, fmt.Errorf("%w: refund amount exceeds refundable remainder %s", store.ErrValidation, refundable)
	}

	items, err := loadSaleItems(ctx, tx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	payments, err := loadSalePayments(ctx, tx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Payments = payments

	var registerBalance decimal.Decimal
	if rf.RegisterID != "" {
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT status, current_balance
			FROM cash_registers
			WHERE id = $1
			FOR UPDATE
		`, rf.RegisterID).Scan(&status, &registerBalance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, rf.RegisterID)
			}
			return nil, mapPgError(err)
		}
		if domain.RegisterStatus(status) != domain.RegisterOpen {
			return nil, fmt.Errorf("%w: cash register is not open", store.ErrPrecondition)
		}
		if rf.Amount.GreaterThan(registerBalance) {
			return nil, fmt.Errorf("%w: refund exceeds current register balance", store.ErrPrecondition)
		}
	}

	now := time.Now().UTC()

	if rf.Restock {
		for _, item := range sale.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO stock_levels (warehouse_id, product_id, qty, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (warehouse_id, product_id) DO UPDATE SET qty = stock_levels.qty + $3, updated_at = now()
			`, item.WarehouseID, item.ProductID, item.Quantity)
			if err != nil {
				return nil, mapPgError(err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO stock_movements (id, product_id, warehouse_id, type, qty, reference, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, xid.New("mov"), item.ProductID, item.WarehouseID, domain.StockIn, item.Quantity, sale.ID, now)
			if err != nil {
				return nil, mapPgError(err)
			}
		}
	}

	for _, journal := range rf.Journals {
		if err := insertJournal(ctx, tx, journal, sale.ID, now); err != nil {
			return nil, err
		}
	}

	if rf.RegisterID != "" {
		registerBalance = registerBalance.Sub(rf.Amount)
		if err := updateRegisterBalance(ctx, tx, rf.RegisterID, registerBalance); err != nil {
			return nil, err
		}
		if err := insertRegisterTxn(ctx, tx, domain.CashRegisterTransaction{
			ID:             xid.New("crt"),
			RegisterID:     rf.RegisterID,
			Type:           domain.RegisterTxnRefund,
			Amount:         rf.Amount,
			RunningBalance: registerBalance,
			SaleID:         sale.ID,
			PostedBy:       rf.PostedBy,
			Description:    "refund " + rf.Reason,
			CreatedAt:      now,
		}); err != nil {
			return nil, err
		}
	}

	sale.RefundedAmount = sale.RefundedAmount.Add(rf.Amount)
	if sale.RefundedAmount.Equal(sale.Total) {
		sale.Status = domain.SaleRefunded
	} else {
		sale.Status = domain.SalePartialRefund
	}
	sale.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET refunded_amount = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, sale.ID, sale.RefundedAmount, sale.Status, sale.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPgError(err)
	}

	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID, registerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, branch_id, customer_id, cash_register_id,
			subtotal, manual_discount, group_discount, tax, total,
			paid_amount, refunded_amount, status, sale_type,
			served_by, created_by, created_at, updated_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.InvoiceNumber, &sale.BranchID, &customerID, &registerID,
		&sale.Subtotal, &sale.ManualDiscount, &sale.GroupDiscount, &sale.Tax, &sale.Total,
		&sale.PaidAmount, &sale.RefundedAmount, &sale.Status, &sale.SaleType,
		&sale.ServedBy, &sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.CashRegisterID = registerID.String

	items, err := loadSaleItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	payments, err := loadSalePayments(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	sale.Payments = payments

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, branchID string, page int, limit int) ([]domain.Sale, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM sales WHERE ($1 = '' OR branch_id = $1)
	`, branchID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_number, branch_id, customer_id, cash_register_id,
			subtotal, manual_discount, group_discount, tax, total,
			paid_amount, refunded_amount, status, sale_type,
			served_by, created_by, created_at, updated_at
		FROM sales
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, branchID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var customerID, registerID sql.NullString
		if err := rows.Scan(&sale.ID, &sale.InvoiceNumber, &sale.BranchID, &customerID, &registerID,
			&sale.Subtotal, &sale.ManualDiscount, &sale.GroupDiscount, &sale.Tax, &sale.Total,
			&sale.PaidAmount, &sale.RefundedAmount, &sale.Status, &sale.SaleType,
			&sale.ServedBy, &sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
			return nil, 0, err
		}
		sale.CustomerID = customerID.String
		sale.CashRegisterID = registerID.String
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return sales, total, nil
}

func (s *Store) GetDailySummary(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.DailySummary, error) {
	summary := domain.DailySummary{
		Date:         from.Format("2006-01-02"),
		BranchID:     branchID,
		TotalRevenue: decimal.Zero,
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(sum(total), 0)
		FROM sales
		WHERE ($1 = '' OR branch_id = $1)
		  AND created_at >= $2 AND created_at < $3
		  AND status <> 'cancelled'
	`, branchID, from, to).Scan(&summary.TotalSales, &summary.TotalRevenue)
	if err != nil {
		return domain.DailySummary{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.method, COALESCE(sum(p.amount), 0)
		FROM sale_payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE ($1 = '' OR s.branch_id = $1)
		  AND s.created_at >= $2 AND s.created_at < $3
		  AND s.status <> 'cancelled'
		GROUP BY p.method
	`, branchID, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var method domain.PaymentMethod
		var amount decimal.Decimal
		if err := rows.Scan(&method, &amount); err != nil {
			return domain.DailySummary{}, err
		}
		switch method {
		case domain.PaymentCash:
			summary.PaymentBreakdown.Cash = amount
		case domain.PaymentBank:
			summary.PaymentBreakdown.Bank = amount
		case domain.PaymentMobile:
			summary.PaymentBreakdown.Mobile = amount
		case domain.PaymentCard:
			summary.PaymentBreakdown.Card = amount
		}
	}
	if err := rows.Err(); err != nil {
		return domain.DailySummary{}, err
	}

	return summary, nil
}

func (s *Store) ListJournalsByReference(ctx context.Context, referenceID string) ([]domain.JournalEntry, error) {
	return s.queryJournals(ctx, `
		SELECT id, reference_type, reference_id, created_at
		FROM journal_entries
		WHERE reference_id = $1
		ORDER BY created_at ASC
	`, referenceID)
}

func (s *Store) ListJournals(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	return s.queryJournals(ctx, `
		SELECT id, reference_type, reference_id, created_at
		FROM journal_entries
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (s *Store) queryJournals(ctx context.Context, query string, arg any) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	journals := make([]domain.JournalEntry, 0, 16)
	for rows.Next() {
		var journal domain.JournalEntry
		if err := rows.Scan(&journal.ID, &journal.ReferenceType, &journal.ReferenceID, &journal.CreatedAt); err != nil {
			return nil, err
		}
		journals = append(journals, journal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range journals {
		lines, err := s.loadJournalLines(ctx, journals[i].ID)
		if err != nil {
			return nil, err
		}
		journals[i].Lines = lines
	}

	return journals, nil
}

func (s *Store) loadJournalLines(ctx context.Context, journalID string) ([]domain.JournalLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_code, debit, credit, narration
		FROM journal_lines
		WHERE journal_id = $1
		ORDER BY ordinal ASC
	`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.JournalLine, 0, 4)
	for rows.Next() {
		var line domain.JournalLine
		var narration sql.NullString
		if err := rows.Scan(&line.AccountCode, &line.Debit, &line.Credit, &narration); err != nil {
			return nil, err
		}
		line.Narration = narration.String
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) GetCashRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	register, err := scanRegister(s.db.QueryRowContext(ctx, `
		SELECT id, name, branch_id, status, opening_balance, current_balance,
			expected_amount, actual_amount, variance,
			opened_by, opened_at, closed_by, closed_at, notes
		FROM cash_registers
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return register, nil
}

func (s *Store) ListCashRegisters(ctx context.Context, branchID string) ([]domain.CashRegister, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, branch_id, status, opening_balance, current_balance,
			expected_amount, actual_amount, variance,
			opened_by, opened_at, closed_by, closed_at, notes
		FROM cash_registers
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY id
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	registers := make([]domain.CashRegister, 0, 8)
	for rows.Next() {
		register, err := scanRegister(rows)
		if err != nil {
			return nil, err
		}
		registers = append(registers, *register)
	}
	return registers, rows.Err()
}

func (s *Store) OpenRegister(ctx context.Context, id string, openingBalance decimal.Decimal, operator string, notes string, at time.Time) (*domain.CashRegister, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	if err := tx.QueryRowContext(ctx, `
		SELECT status FROM cash_registers WHERE id = $1 FOR UPDATE
	`, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, id)
		}
		return nil, mapPgError(err)
	}
	switch domain.RegisterStatus(status) {
	case domain.RegisterOpen:
		return nil, fmt.Errorf("%w: cash register is already open", store.ErrPrecondition)
	case domain.RegisterMaintenance:
		return nil, fmt.Errorf("%w: cash register is under maintenance", store.ErrPrecondition)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cash_registers
		SET status = 'open',
			opening_balance = $2,
			current_balance = $2,
			expected_amount = NULL,
			actual_amount = NULL,
			variance = NULL,
			opened_by = $3,
			opened_at = $4,
			closed_by = NULL,
			closed_at = NULL,
			notes = $5
		WHERE id = $1
	`, id, openingBalance, operator, at, notes)
	if err != nil {
		return nil, mapPgError(err)
	}

	if err := insertRegisterTxn(ctx, tx, domain.CashRegisterTransaction{
		ID:             xid.New("crt"),
		RegisterID:     id,
		Type:           domain.RegisterTxnOpeningBalance,
		Amount:         openingBalance,
		RunningBalance: openingBalance,
		PostedBy:       operator,
		Description:    "register opened",
		CreatedAt:      at,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPgError(err)
	}
	return s.GetCashRegister(ctx, id)
}

func (s *Store) CloseRegister(ctx context.Context, id string, actualAmount decimal.Decimal, operator string, notes string, at time.Time) (*domain.CashRegister, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var current decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
		SELECT status, current_balance FROM cash_registers WHERE id = $1 FOR UPDATE
	`, id).Scan(&status, &current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, id)
		}
		return nil, mapPgError(err)
	}
	if domain.RegisterStatus(status) != domain.RegisterOpen {
		return nil, fmt.Errorf("%w: cash register is not open", store.ErrPrecondition)
	}

	variance := actualAmount.Sub(current)
	_, err = tx.ExecContext(ctx, `
		UPDATE cash_registers
		SET status = 'closed',
			expected_amount = $2,
			actual_amount = $3,
			variance = $4,
			current_balance = $3,
			closed_by = $5,
			closed_at = $6,
			notes = CASE WHEN $7 <> '' THEN $7 ELSE notes END
		WHERE id = $1
	`, id, current, actualAmount, variance, operator, at, notes)
	if err != nil {
		return nil, mapPgError(err)
	}

	if err := insertRegisterTxn(ctx, tx, domain.CashRegisterTransaction{
		ID:             xid.New("crt"),
		RegisterID:     id,
		Type:           domain.RegisterTxnClosingBalance,
		Amount:         actualAmount,
		RunningBalance: actualAmount,
		PostedBy:       operator,
		Description:    "register closed",
		CreatedAt:      at,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPgError(err)
	}
	return s.GetCashRegister(ctx, id)
}

func (s *Store) PostRegisterCashFlow(ctx context.Context, id string, txn domain.CashRegisterTransaction) (*domain.CashRegisterTransaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var current decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
		SELECT status, current_balance FROM cash_registers WHERE id = $1 FOR UPDATE
	`, id).Scan(&status, &current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, id)
		}
		return nil, mapPgError(err)
	}
	if domain.RegisterStatus(status) != domain.RegisterOpen {
		return nil, fmt.Errorf("%w: cash register is not open", store.ErrPrecondition)
	}

	next := current.Add(txn.SignedAmount())
	if next.IsNegative() {
		return nil, fmt.Errorf("%w: amount exceeds current register balance %s", store.ErrPrecondition, current)
	}

	if err := updateRegisterBalance(ctx, tx, id, next); err != nil {
		return nil, err
	}

	txn.ID = xid.New("crt")
	txn.RegisterID = id
	txn.RunningBalance = next
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	if err := insertRegisterTxn(ctx, tx, txn); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPgError(err)
	}

	return &txn, nil
}

func (s *Store) ListRegisterTransactions(ctx context.Context, id string, sessionOnly bool, limit int) ([]domain.CashRegisterTransaction, error) {
	if _, err := s.GetCashRegister(ctx, id); err != nil {
		return nil, err
	}

	query := `
		SELECT id, register_id, type, direction, amount, running_balance, sale_id, posted_by, description, created_at
		FROM cash_register_transactions
		WHERE register_id = $1
		ORDER BY created_at ASC, id ASC
	`
	if sessionOnly {
		query = `
		SELECT id, register_id, type, direction, amount, running_balance, sale_id, posted_by, description, created_at
		FROM cash_register_transactions
		WHERE register_id = $1
		  AND created_at >= COALESCE((
			SELECT max(created_at) FROM cash_register_transactions
			WHERE register_id = $1 AND type = 'opening_balance'
		  ), '-infinity'::timestamptz)
		ORDER BY created_at ASC, id ASC
	`
	}

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.CashRegisterTransaction, 0, 32)
	for rows.Next() {
		var txn domain.CashRegisterTransaction
		var direction, saleID, description sql.NullString
		if err := rows.Scan(&txn.ID, &txn.RegisterID, &txn.Type, &direction, &txn.Amount,
			&txn.RunningBalance, &saleID, &txn.PostedBy, &description, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txn.Direction = domain.AdjustmentDirection(direction.String)
		txn.SaleID = saleID.String
		txn.Description = description.String
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(txns) > limit {
		txns = txns[len(txns)-limit:]
	}
	return txns, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, warehouse_id, type, qty, reference, created_at
		FROM stock_movements
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var movement domain.StockMovement
		var reference sql.NullString
		if err := rows.Scan(&movement.ID, &movement.ProductID, &movement.WarehouseID,
			&movement.Type, &movement.Quantity, &reference, &movement.CreatedAt); err != nil {
			return nil, err
		}
		movement.Reference = reference.String
		movements = append(movements, movement)
	}
	return movements, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_name, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorName, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_name, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
		  AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorName, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username taken", store.ErrValidation)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func insertJournal(ctx context.Context, tx execer, journal domain.JournalEntry, referenceID string, at time.Time) error {
	if journal.ID == "" {
		journal.ID = xid.New("jrn")
	}
	if journal.ReferenceID == "" {
		journal.ReferenceID = referenceID
	}
	if journal.CreatedAt.IsZero() {
		journal.CreatedAt = at
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO journal_entries (id, reference_type, reference_id, created_at)
		VALUES ($1,$2,$3,$4)
	`, journal.ID, journal.ReferenceType, journal.ReferenceID, journal.CreatedAt)
	if err != nil {
		return mapPgError(err)
	}

	for i, line := range journal.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO journal_lines (journal_id, ordinal, account_code, debit, credit, narration)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, journal.ID, i, line.AccountCode, line.Debit, line.Credit, nullIfEmpty(line.Narration))
		if err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

func insertRegisterTxn(ctx context.Context, tx execer, txn domain.CashRegisterTransaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cash_register_transactions (
			id, register_id, type, direction, amount, running_balance,
			sale_id, posted_by, description, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, txn.ID, txn.RegisterID, txn.Type, nullIfEmpty(string(txn.Direction)), txn.Amount, txn.RunningBalance,
		nullIfEmpty(txn.SaleID), txn.PostedBy, nullIfEmpty(txn.Description), txn.CreatedAt)
	return mapPgError(err)
}

func updateRegisterBalance(ctx context.Context, tx execer, id string, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE cash_registers SET current_balance = $2 WHERE id = $1
	`, id, balance)
	return mapPgError(err)
}

func loadSaleItems(ctx context.Context, q execer, saleID string) ([]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, warehouse_id, qty, unit_price, discount, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY product_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.WarehouseID, &item.Quantity,
			&item.UnitPrice, &item.Discount, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadSalePayments(ctx context.Context, q execer, saleID string) ([]domain.SalePayment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT method, amount, account_code, reference
		FROM sale_payments
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.SalePayment, 0, 2)
	for rows.Next() {
		var payment domain.SalePayment
		var reference sql.NullString
		if err := rows.Scan(&payment.Method, &payment.Amount, &payment.AccountCode, &reference); err != nil {
			return nil, err
		}
		payment.Reference = reference.String
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegister(row rowScanner) (*domain.CashRegister, error) {
	var register domain.CashRegister
	var expected, actual, variance decimal.NullDecimal
	var openedBy, closedBy, notes sql.NullString
	var openedAt, closedAt sql.NullTime

	err := row.Scan(&register.ID, &register.Name, &register.BranchID, &register.Status,
		&register.OpeningBalance, &register.CurrentBalance,
		&expected, &actual, &variance,
		&openedBy, &openedAt, &closedBy, &closedAt, &notes)
	if err != nil {
		return nil, err
	}

	if expected.Valid {
		register.ExpectedAmount = &expected.Decimal
	}
	if actual.Valid {
		register.ActualAmount = &actual.Decimal
	}
	if variance.Valid {
		register.Variance = &variance.Decimal
	}
	register.OpenedBy = openedBy.String
	register.ClosedBy = closedBy.String
	register.Notes = notes.String
	if openedAt.Valid {
		t := openedAt.Time
		register.OpenedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		register.ClosedAt = &t
	}
	return &register, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// mapPgError translates serialization and deadlock failures into ErrConflict
// so callers can retry the whole operation.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Code)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
