package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// Store is the in-memory repository used by tests and dev mode. A single
// mutex makes every settlement and register transition all-or-nothing: the
// whole critical section runs under the lock and mutates nothing until all
// checks have passed.
type Store struct {
	mu            sync.RWMutex
	products      map[string]domain.Product
	customers     map[string]domain.Customer
	stock         map[string]map[string]int // warehouse -> product -> qty
	salesByID     map[string]*domain.Sale
	saleOrder     []string
	journals      []domain.JournalEntry
	registers     map[string]domain.CashRegister
	registerTxns  map[string][]domain.CashRegisterTransaction
	movements     []domain.StockMovement
	auditLogs     []domain.AuditLog
	usersByName   map[string]domain.UserAccount
	invoiceSeqDay map[string]int
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
		{"accountant", envOr("SEED_ACCOUNTANT_PASSWORD", "ledger123"), "accountant"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-kopi", SKU: "SKU-KOPI-01", Name: "Kopi Gayo 250g", SellingPrice: decimal.NewFromInt(68000), CostPrice: decimal.NewFromInt(47000), Active: true},
		{ID: "prod-gula", SKU: "SKU-GULA-01", Name: "Gula 1kg", SellingPrice: decimal.NewFromInt(17400), CostPrice: decimal.NewFromInt(15200), Active: true},
		{ID: "prod-susu", SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", SellingPrice: decimal.NewFromInt(18900), CostPrice: decimal.NewFromInt(13700), Active: true},
		{ID: "prod-roti", SKU: "SKU-ROTI-01", Name: "Roti Tawar", SellingPrice: decimal.NewFromInt(17800), CostPrice: decimal.NewFromInt(12500), Active: true},
		{ID: "prod-teh", SKU: "SKU-TEH-01", Name: "Teh Celup", SellingPrice: decimal.NewFromInt(9800), CostPrice: decimal.NewFromInt(7200), Active: true},
		{ID: "prod-air", SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", SellingPrice: decimal.NewFromInt(3900), CostPrice: decimal.NewFromInt(3200), Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	stock := map[string]map[string]int{"wh-main": {}}
	for _, p := range products {
		productMap[p.ID] = p
		stock["wh-main"][p.ID] = 120
	}

	customers := map[string]domain.Customer{
		"cust-member": {ID: "cust-member", Name: "Member Setia", GroupDiscountPercent: decimal.NewFromInt(5)},
		"cust-baru":   {ID: "cust-baru", Name: "Pelanggan Baru", GroupDiscountPercent: decimal.Zero},
	}

	registers := map[string]domain.CashRegister{
		"reg-front": {ID: "reg-front", Name: "Kasir Depan", BranchID: "main-branch", Status: domain.RegisterClosed, OpeningBalance: decimal.Zero, CurrentBalance: decimal.Zero},
		"reg-back":  {ID: "reg-back", Name: "Kasir Belakang", BranchID: "main-branch", Status: domain.RegisterClosed, OpeningBalance: decimal.Zero, CurrentBalance: decimal.Zero},
		"reg-rusak": {ID: "reg-rusak", Name: "Kasir Servis", BranchID: "main-branch", Status: domain.RegisterMaintenance, OpeningBalance: decimal.Zero, CurrentBalance: decimal.Zero},
	}

	return &Store{
		products:      productMap,
		customers:     customers,
		stock:         stock,
		salesByID:     make(map[string]*domain.Sale),
		saleOrder:     make([]string, 0, 64),
		journals:      make([]domain.JournalEntry, 0, 64),
		registers:     registers,
		registerTxns:  make(map[string][]domain.CashRegisterTransaction),
		movements:     make([]domain.StockMovement, 0, 64),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		usersByName:   seedUsers(),
		invoiceSeqDay: make(map[string]int),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) GetStockLevel(_ context.Context, productID string, warehouseID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	warehouse, ok := s.stock[warehouseID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return warehouse[productID], nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := customer
	return &copied, nil
}

// nextInvoiceNumber allocates the per-branch, per-day sequential invoice
// number. Caller must hold the write lock.
func (s *Store) nextInvoiceNumber(branchID string, at time.Time) string {
	day := at.UTC().Format("20060102")
	key := branchID + ":" + day
	s.invoiceSeqDay[key]++
	return fmt.Sprintf("INV-%s-%04d", day, s.invoiceSeqDay[key])
}

func (s *Store) CreateSettlement(_ context.Context, st store.Settlement) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale := st.Sale
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: settlement missing sale or items", store.ErrValidation)
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, fmt.Errorf("%w: sale %s already exists", store.ErrConflict, sale.ID)
	}

	// Register precondition is re-verified inside the critical section so a
	// close racing with a settlement cannot slip a sale into a closed drawer.
	var register domain.CashRegister
	if st.RegisterID != "" {
		var ok bool
		register, ok = s.registers[st.RegisterID]
		if !ok {
			return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, st.RegisterID)
		}
		if register.Status != domain.RegisterOpen {
			return nil, fmt.Errorf("%w: cash register is not open", store.ErrPrecondition)
		}
	}

	// Availability check across the whole cart before any decrement.
	needed := make(map[string]map[string]int)
	for _, item := range sale.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be greater than zero", store.ErrValidation)
		}
		if needed[item.WarehouseID] == nil {
			needed[item.WarehouseID] = make(map[string]int)
		}
		needed[item.WarehouseID][item.ProductID] += item.Quantity
	}
	for warehouseID, byProduct := range needed {
		warehouse, ok := s.stock[warehouseID]
		if !ok {
			return nil, fmt.Errorf("%w: warehouse %s", store.ErrNotFound, warehouseID)
		}
		for productID, qty := range byProduct {
			if available := warehouse[productID]; available < qty {
				return nil, fmt.Errorf("%w: only %d units of %s available in stock", store.ErrInsufficientStock, available, productID)
			}
		}
	}

	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = sale.CreatedAt
	sale.InvoiceNumber = s.nextInvoiceNumber(sale.BranchID, sale.CreatedAt)

	// All checks passed; apply every effect.
	for warehouseID, byProduct := range needed {
		for productID, qty := range byProduct {
			s.stock[warehouseID][productID] -= qty
			s.movements = append(s.movements, domain.StockMovement{
				ID:          xid.New("mov"),
				ProductID:   productID,
				WarehouseID: warehouseID,
				Type:        domain.StockOut,
				Quantity:    qty,
				Reference:   sale.ID,
				CreatedAt:   sale.CreatedAt,
			})
		}
	}

	for _, journal := range st.Journals {
		journal.ReferenceID = sale.ID
		if journal.CreatedAt.IsZero() {
			journal.CreatedAt = sale.CreatedAt
		}
		s.journals = append(s.journals, cloneJournal(journal))
	}

	if st.RegisterID != "" && st.CashAmount.IsPositive() {
		register.CurrentBalance = register.CurrentBalance.Add(st.CashAmount)
		s.registers[st.RegisterID] = register
		s.registerTxns[st.RegisterID] = append(s.registerTxns[st.RegisterID], domain.CashRegisterTransaction{
			ID:             xid.New("crt"),
			RegisterID:     st.RegisterID,
			Type:           domain.RegisterTxnSale,
			Amount:         st.CashAmount,
			RunningBalance: register.CurrentBalance,
			SaleID:         sale.ID,
			PostedBy:       st.PostedBy,
			Description:    "POS sale " + sale.InvoiceNumber,
			CreatedAt:      now,
		})
	}

	stored := cloneSale(sale)
	s.salesByID[sale.ID] = stored
	s.saleOrder = append(s.saleOrder, sale.ID)

	return cloneSale(*stored), nil
}

func (s *Store) CreateRefund(_ context.Context, rf store.Refund) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[rf.SaleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, rf.SaleID)
	}
	refundable := sale.Total.Sub(sale.RefundedAmount)
	if !rf.Amount.IsPositive() || rf.Amount.GreaterThan(refundable) {
		return nil, fmt.Errorf("%w: refund amount exceeds refundable remainder %s", store.ErrValidation, refundable)
	}

	var register domain.CashRegister
	if rf.RegisterID != "" {
		register, ok = s.registers[rf.RegisterID]
		if !ok {
			return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, rf.RegisterID)
		}
		if register.Status != domain.RegisterOpen {
			return nil, fmt.Errorf("%w: cash register is not open", store.ErrPrecondition)
		}
		if rf.Amount.GreaterThan(register.CurrentBalance) {
			return nil, fmt.Errorf("%w: refund exceeds current register balance", store.ErrPrecondition)
		}
	}

	now := time.Now().UTC()

	if rf.Restock {
		for _, item := range sale.Items {
			if s.stock[item.WarehouseID] == nil {
				s.stock[item.WarehouseID] = make(map[string]int)
			}
			s.stock[item.WarehouseID][item.ProductID] += item.Quantity
			s.movements = append(s.movements, domain.StockMovement{
				ID:          xid.New("mov"),
				ProductID:   item.ProductID,
				WarehouseID: item.WarehouseID,
				Type:        domain.StockIn,
				Quantity:    item.Quantity,
				Reference:   sale.ID,
				CreatedAt:   now,
			})
		}
	}

	for _, journal := range rf.Journals {
		if journal.CreatedAt.IsZero() {
			journal.CreatedAt = now
		}
		s.journals = append(s.journals, cloneJournal(journal))
	}

	if rf.RegisterID != "" {
		register.CurrentBalance = register.CurrentBalance.Sub(rf.Amount)
		s.registers[rf.RegisterID] = register
		s.registerTxns[rf.RegisterID] = append(s.registerTxns[rf.RegisterID], domain.CashRegisterTransaction{
			ID:             xid.New("crt"),
			RegisterID:     rf.RegisterID,
			Type:           domain.RegisterTxnRefund,
			Amount:         rf.Amount,
			RunningBalance: register.CurrentBalance,
			SaleID:         sale.ID,
			PostedBy:       rf.PostedBy,
			Description:    strings.TrimSpace("refund " + rf.Reason),
			CreatedAt:      now,
		})
	}

	sale.RefundedAmount = sale.RefundedAmount.Add(rf.Amount)
	if sale.RefundedAmount.Equal(sale.Total) {
		sale.Status = domain.SaleRefunded
	} else {
		sale.Status = domain.SalePartialRefund
	}
	sale.UpdatedAt = now

	return cloneSale(*sale), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(*sale), nil
}

func (s *Store) ListSales(_ context.Context, branchID string, page int, limit int) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, len(s.saleOrder))
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		matched = append(matched, *cloneSale(*sale))
	}

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []domain.Sale{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) GetDailySummary(_ context.Context, branchID string, from time.Time, to time.Time) (domain.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.DailySummary{
		Date:         from.Format("2006-01-02"),
		BranchID:     branchID,
		TotalRevenue: decimal.Zero,
	}
	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		if sale.Status == domain.SaleCancelled {
			continue
		}
		summary.TotalSales++
		summary.TotalRevenue = summary.TotalRevenue.Add(sale.Total)
		for _, payment := range sale.Payments {
			switch payment.Method {
			case domain.PaymentCash:
				summary.PaymentBreakdown.Cash = summary.PaymentBreakdown.Cash.Add(payment.Amount)
			case domain.PaymentBank:
				summary.PaymentBreakdown.Bank = summary.PaymentBreakdown.Bank.Add(payment.Amount)
			case domain.PaymentMobile:
				summary.PaymentBreakdown.Mobile = summary.PaymentBreakdown.Mobile.Add(payment.Amount)
			case domain.PaymentCard:
				summary.PaymentBreakdown.Card = summary.PaymentBreakdown.Card.Add(payment.Amount)
			}
		}
	}
	return summary, nil
}

func (s *Store) ListJournalsByReference(_ context.Context, referenceID string) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.JournalEntry, 0, 4)
	for _, journal := range s.journals {
		if journal.ReferenceID == referenceID {
			out = append(out, cloneJournal(journal))
		}
	}
	return out, nil
}

func (s *Store) ListJournals(_ context.Context, limit int) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.JournalEntry, 0, limit)
	for i := len(s.journals) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneJournal(s.journals[i]))
	}
	return out, nil
}

func (s *Store) GetCashRegister(_ context.Context, id string) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	register, ok := s.registers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := register
	return &copied, nil
}

func (s *Store) ListCashRegisters(_ context.Context, branchID string) ([]domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	registers := make([]domain.CashRegister, 0, len(s.registers))
	for _, register := range s.registers {
		if branchID != "" && register.BranchID != branchID {
			continue
		}
		registers = append(registers, register)
	}
	sort.Slice(registers, func(i, j int) bool { return registers[i].ID < registers[j].ID })
	return registers, nil
}

func (s *Store) OpenRegister(_ context.Context, id string, openingBalance decimal.Decimal, operator string, notes string, at time.Time) (*domain.CashRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	register, ok := s.registers[id]
	if !ok {
		return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, id)
	}
	switch register.Status {
	case domain.RegisterOpen:
		return nil, fmt.Errorf("%w: cash register is already open", store.ErrPrecondition)
	case domain.RegisterMaintenance:
		return nil, fmt.Errorf("%w: cash register is under maintenance", store.ErrPrecondition)
	}

	openedAt := at
	register.Status = domain.RegisterOpen
	register.OpeningBalance = openingBalance
	register.CurrentBalance = openingBalance
	register.ExpectedAmount = nil
	register.ActualAmount = nil
	register.Variance = nil
	register.OpenedBy = operator
	register.OpenedAt = &openedAt
	register.ClosedBy = ""
	register.ClosedAt = nil
	register.Notes = notes
	s.registers[id] = register

	s.registerTxns[id] = append(s.registerTxns[id], domain.CashRegisterTransaction{
		ID:             xid.New("crt"),
		RegisterID:     id,
		Type:           domain.RegisterTxnOpeningBalance,
		Amount:         openingBalance,
		RunningBalance: openingBalance,
		PostedBy:       operator,
		Description:    "register opened",
		CreatedAt:      at,
	})

	copied := register
	return &copied, nil
}

func (s *Store) CloseRegister(_ context.Context, id string, actualAmount decimal.Decimal, operator string, notes string, at time.Time) (*domain.CashRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	register, ok := s.registers[id]
	if !ok {
		return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, id)
	}
	if register.Status != domain.RegisterOpen {
		return nil, fmt.Errorf("%w: cash register is not open", store.ErrPrecondition)
	}

	expected := register.CurrentBalance
	variance := actualAmount.Sub(expected)
	closedAt := at

	register.Status = domain.RegisterClosed
	register.ExpectedAmount = &expected
	register.ActualAmount = &actualAmount
	register.Variance = &variance
	register.ClosedBy = operator
	register.ClosedAt = &closedAt
	// The drawer now holds what was physically counted; the balance absorbs
	// the variance.
	register.CurrentBalance = actualAmount
	if notes != "" {
		register.Notes = notes
	}
	s.registers[id] = register

	s.registerTxns[id] = append(s.registerTxns[id], domain.CashRegisterTransaction{
		ID:             xid.New("crt"),
		RegisterID:     id,
		Type:           domain.RegisterTxnClosingBalance,
		Amount:         actualAmount,
		RunningBalance: actualAmount,
		PostedBy:       operator,
		Description:    "register closed",
		CreatedAt:      at,
	})

	copied := register
	return &copied, nil
}

func (s *Store) PostRegisterCashFlow(_ context.Context, id string, txn domain.CashRegisterTransaction) (*domain.CashRegisterTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	register, ok := s.registers[id]
	if !ok {
		return nil, fmt.Errorf("%w: cash register %s", store.ErrNotFound, id)
	}
	if register.Status != domain.RegisterOpen {
		return nil, fmt.Errorf("%w: cash register is not open", store.ErrPrecondition)
	}

	delta := txn.SignedAmount()
	next := register.CurrentBalance.Add(delta)
	if next.IsNegative() {
		return nil, fmt.Errorf("%w: amount exceeds current register balance %s", store.ErrPrecondition, register.CurrentBalance)
	}

	register.CurrentBalance = next
	s.registers[id] = register

	txn.ID = xid.New("crt")
	txn.RegisterID = id
	txn.RunningBalance = next
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	s.registerTxns[id] = append(s.registerTxns[id], txn)

	copied := txn
	return &copied, nil
}

func (s *Store) ListRegisterTransactions(_ context.Context, id string, sessionOnly bool, limit int) ([]domain.CashRegisterTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.registers[id]; !ok {
		return nil, store.ErrNotFound
	}

	txns := s.registerTxns[id]
	if sessionOnly {
		start := 0
		for i := len(txns) - 1; i >= 0; i-- {
			if txns[i].Type == domain.RegisterTxnOpeningBalance {
				start = i
				break
			}
		}
		txns = txns[start:]
	}
	if limit > 0 && len(txns) > limit {
		txns = txns[len(txns)-limit:]
	}
	return slices.Clone(txns), nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if productID != "" && s.movements[i].ProductID != productID {
			continue
		}
		out = append(out, s.movements[i])
	}
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		entry := s.auditLogs[i]
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByName[user.Username]; exists {
		return fmt.Errorf("%w: username taken", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByName[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByName))
	for _, user := range s.usersByName {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByName[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

func cloneSale(sale domain.Sale) *domain.Sale {
	copied := sale
	copied.Items = slices.Clone(sale.Items)
	copied.Payments = slices.Clone(sale.Payments)
	return &copied
}

func cloneJournal(journal domain.JournalEntry) domain.JournalEntry {
	copied := journal
	copied.Lines = slices.Clone(journal.Lines)
	return copied
}
