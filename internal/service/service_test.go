package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopSummaryCache{}, zerolog.Nop(), "main-branch", true, time.Minute)
	return svc, repo
}

func testContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func openRegister(t *testing.T, svc *Service, id string, float int64) {
	t.Helper()
	_, err := svc.OpenRegister(testContext(), domain.OpenRegisterRequest{
		CashRegisterID: id,
		OpeningBalance: decimal.NewFromInt(float),
	})
	if err != nil {
		t.Fatalf("open register %s: %v", id, err)
	}
}

func cashSaleRequest(registerID string, qty int, unitPrice int64, taxPct int64, paid int64) domain.CreateSaleRequest {
	return domain.CreateSaleRequest{
		Items: []domain.CartItemRequest{{
			ProductID:   "prod-kopi",
			WarehouseID: "wh-main",
			Quantity:    qty,
			UnitPrice:   decimal.NewFromInt(unitPrice),
		}},
		TaxPercentage:  decimal.NewFromInt(taxPct),
		PaymentMethod:  domain.PaymentCash,
		PaidAmount:     decimal.NewFromInt(paid),
		CashRegisterID: registerID,
	}
}

func TestCreatePOSSaleCash(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 500)

	sale, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 2, 100, 5, 210))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if sale.Status != domain.SaleCompleted {
		t.Fatalf("status = %s, want completed", sale.Status)
	}
	if !sale.Total.Equal(decimal.NewFromInt(210)) {
		t.Fatalf("total = %s, want 210", sale.Total)
	}
	if !sale.Due().IsZero() {
		t.Fatalf("due = %s, want 0", sale.Due())
	}
	if sale.InvoiceNumber == "" || sale.InvoiceNumber[:4] != "INV-" {
		t.Fatalf("invoice number = %q", sale.InvoiceNumber)
	}

	register, err := svc.GetRegister(ctx, "reg-front")
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	if !register.CurrentBalance.Equal(decimal.NewFromInt(710)) {
		t.Fatalf("register balance = %s, want 710", register.CurrentBalance)
	}

	level, err := repo.GetStockLevel(ctx, "prod-kopi", "wh-main")
	if err != nil {
		t.Fatalf("stock level: %v", err)
	}
	if level != 118 {
		t.Fatalf("stock = %d, want 118", level)
	}

	movements, err := svc.ListStockMovements(ctx, "prod-kopi", 10)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(movements) != 1 || movements[0].Type != domain.StockOut || movements[0].Quantity != 2 {
		t.Fatalf("unexpected movements: %+v", movements)
	}
}

func TestSaleJournalsBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 0)

	sale, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 2, 100, 5, 210))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	journals, err := svc.SaleJournals(ctx, sale.ID)
	if err != nil {
		t.Fatalf("sale journals: %v", err)
	}
	// Revenue posting plus cost posting, cost tracking on.
	if len(journals) != 2 {
		t.Fatalf("journals = %d, want 2", len(journals))
	}
	for _, journal := range journals {
		debit, credit := decimal.Zero, decimal.Zero
		for _, line := range journal.Lines {
			debit = debit.Add(line.Debit)
			credit = credit.Add(line.Credit)
		}
		if !debit.Equal(credit) {
			t.Fatalf("journal %s unbalanced: debit %s credit %s", journal.ID, debit, credit)
		}
	}
}

func TestCostTrackingDisabled(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopSummaryCache{}, zerolog.Nop(), "main-branch", false, time.Minute)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 0)

	sale, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 1, 100, 0, 100))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	journals, err := svc.SaleJournals(ctx, sale.ID)
	if err != nil {
		t.Fatalf("sale journals: %v", err)
	}
	if len(journals) != 1 {
		t.Fatalf("journals = %d, want only the revenue posting", len(journals))
	}
	if journals[0].ReferenceType != domain.RefSale {
		t.Fatalf("reference type = %s", journals[0].ReferenceType)
	}
}

func TestCashSaleRequiresRegister(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()

	_, err := svc.CreatePOSSale(ctx, cashSaleRequest("", 1, 100, 0, 100))
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	// Register exists but was never opened.
	_, err = svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 1, 100, 0, 100))
	if !errors.Is(err, store.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition error", err)
	}
}

func TestInsufficientStockLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 500)

	_, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 200, 100, 0, 20000))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}

	level, _ := repo.GetStockLevel(ctx, "prod-kopi", "wh-main")
	if level != 120 {
		t.Fatalf("stock = %d, want untouched 120", level)
	}
	register, _ := svc.GetRegister(ctx, "reg-front")
	if !register.CurrentBalance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("register balance = %s, want untouched 500", register.CurrentBalance)
	}
	list, err := svc.ListSales(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if list.Total != 0 {
		t.Fatalf("sales persisted after failed settlement: %d", list.Total)
	}
}

func TestGroupDiscountApplied(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()

	sale, err := svc.CreatePOSSale(ctx, domain.CreateSaleRequest{
		Items: []domain.CartItemRequest{{
			ProductID:   "prod-kopi",
			WarehouseID: "wh-main",
			Quantity:    1,
			UnitPrice:   decimal.NewFromInt(1000),
		}},
		CustomerID:    "cust-member",
		TaxPercentage: decimal.NewFromInt(10),
		PaymentMethod: domain.PaymentBank,
		PaidAmount:    decimal.NewFromInt(1045),
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	// 1000 + 10% tax = 1100, member group discount 5% of 1100 = 55.
	if !sale.GroupDiscount.Equal(decimal.NewFromInt(55)) {
		t.Fatalf("group discount = %s, want 55", sale.GroupDiscount)
	}
	if !sale.Total.Equal(decimal.NewFromInt(1045)) {
		t.Fatalf("total = %s, want 1045", sale.Total)
	}
}

func TestCashOutOverBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 100)

	_, err := svc.CashOut(ctx, "reg-front", domain.RegisterCashFlowRequest{
		Amount:      decimal.NewFromInt(500),
		Description: "bank deposit",
	})
	if !errors.Is(err, store.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition error", err)
	}

	register, _ := svc.GetRegister(ctx, "reg-front")
	if !register.CurrentBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("register balance = %s, want untouched 100", register.CurrentBalance)
	}
}

func TestAdjustBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 100)

	txn, err := svc.AdjustBalance(ctx, "reg-front", domain.AdjustBalanceRequest{
		Amount:         decimal.NewFromInt(25),
		AdjustmentType: domain.AdjustDecrease,
		Description:    "miscount correction",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if !txn.RunningBalance.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("running balance = %s, want 75", txn.RunningBalance)
	}

	_, err = svc.AdjustBalance(ctx, "reg-front", domain.AdjustBalanceRequest{
		Amount:         decimal.NewFromInt(100),
		AdjustmentType: domain.AdjustDecrease,
		Description:    "too far",
	})
	if !errors.Is(err, store.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition error on negative balance", err)
	}

	_, err = svc.AdjustBalance(ctx, "reg-front", domain.AdjustBalanceRequest{
		Amount:         decimal.NewFromInt(10),
		AdjustmentType: "sideways",
		Description:    "nope",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want validation error on bad direction", err)
	}
}

func TestRegisterLifecycleAndVariance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 500)

	if _, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 2, 100, 5, 210)); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	// Drawer is short by 10 at count time.
	register, err := svc.CloseRegister(ctx, domain.CloseRegisterRequest{
		CashRegisterID: "reg-front",
		ActualAmount:   decimal.NewFromInt(700),
	})
	if err != nil {
		t.Fatalf("close register: %v", err)
	}
	if register.ExpectedAmount == nil || !register.ExpectedAmount.Equal(decimal.NewFromInt(710)) {
		t.Fatalf("expected amount = %v, want 710", register.ExpectedAmount)
	}
	if register.Variance == nil || !register.Variance.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("variance = %v, want -10", register.Variance)
	}

	report, err := svc.VarianceReport(ctx, "reg-front")
	if err != nil {
		t.Fatalf("variance report: %v", err)
	}
	if !report.Closed {
		t.Fatalf("report should show closed session")
	}
	if !report.ExpectedBalance.Equal(decimal.NewFromInt(710)) {
		t.Fatalf("expected balance = %s, want 710", report.ExpectedBalance)
	}
	if report.Variance == nil || !report.Variance.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("report variance = %v, want -10", report.Variance)
	}
	if !report.Breakdown.CashIn.Sales.Equal(decimal.NewFromInt(210)) {
		t.Fatalf("sales bucket = %s, want 210", report.Breakdown.CashIn.Sales)
	}

	// Reopening starts a fresh session and clears the count fields.
	openRegister(t, svc, "reg-front", 300)
	register, _ = svc.GetRegister(ctx, "reg-front")
	if register.ExpectedAmount != nil || register.ActualAmount != nil || register.Variance != nil {
		t.Fatalf("close fields should be cleared on reopen: %+v", register)
	}
	if !register.CurrentBalance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("balance = %s, want fresh float 300", register.CurrentBalance)
	}

	report, _ = svc.VarianceReport(ctx, "reg-front")
	if report.Closed || report.CountedBalance != nil || report.Variance != nil {
		t.Fatalf("open session must not carry counted balance: %+v", report)
	}
	if !report.Breakdown.CashIn.Sales.IsZero() {
		t.Fatalf("fresh session should have no sales, got %s", report.Breakdown.CashIn.Sales)
	}
}

func TestOpenRegisterPreconditions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 100)

	_, err := svc.OpenRegister(ctx, domain.OpenRegisterRequest{
		CashRegisterID: "reg-front",
		OpeningBalance: decimal.NewFromInt(50),
	})
	if !errors.Is(err, store.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition on double open", err)
	}

	_, err = svc.OpenRegister(ctx, domain.OpenRegisterRequest{
		CashRegisterID: "reg-rusak",
		OpeningBalance: decimal.NewFromInt(50),
	})
	if !errors.Is(err, store.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition on maintenance register", err)
	}

	_, err = svc.CloseRegister(ctx, domain.CloseRegisterRequest{
		CashRegisterID: "reg-back",
		ActualAmount:   decimal.NewFromInt(0),
	})
	if !errors.Is(err, store.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition closing a closed register", err)
	}
}

func TestRefundFlow(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 500)

	sale, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 2, 100, 5, 210))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	refunded, err := svc.RefundSale(ctx, sale.ID, domain.RefundSaleRequest{
		Amount:         decimal.NewFromInt(210),
		Reason:         "customer returned goods",
		CashRegisterID: "reg-front",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != domain.SaleRefunded {
		t.Fatalf("status = %s, want refunded", refunded.Status)
	}

	register, _ := svc.GetRegister(ctx, "reg-front")
	if !register.CurrentBalance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("register balance = %s, want back to 500", register.CurrentBalance)
	}

	level, _ := repo.GetStockLevel(ctx, "prod-kopi", "wh-main")
	if level != 120 {
		t.Fatalf("stock = %d, want restocked 120", level)
	}

	journals, _ := svc.SaleJournals(ctx, sale.ID)
	// sale + cogs + refund + refund cogs
	if len(journals) != 4 {
		t.Fatalf("journals = %d, want 4", len(journals))
	}

	report, _ := svc.VarianceReport(ctx, "reg-front")
	if !report.Breakdown.CashOut.Refunds.Equal(decimal.NewFromInt(210)) {
		t.Fatalf("refund bucket = %s, want 210", report.Breakdown.CashOut.Refunds)
	}
	if !report.ExpectedBalance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance = %s, want 500", report.ExpectedBalance)
	}

	// The sale is exhausted; a second refund must be rejected.
	_, err = svc.RefundSale(ctx, sale.ID, domain.RefundSaleRequest{
		Amount:         decimal.NewFromInt(1),
		Reason:         "again",
		CashRegisterID: "reg-front",
	})
	if !errors.Is(err, store.ErrPrecondition) && !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want rejection of exhausted refund", err)
	}
}

func TestPartialRefundKeepsStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 500)

	sale, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 2, 100, 0, 200))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	refunded, err := svc.RefundSale(ctx, sale.ID, domain.RefundSaleRequest{
		Amount:         decimal.NewFromInt(50),
		Reason:         "price adjustment",
		CashRegisterID: "reg-front",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != domain.SalePartialRefund {
		t.Fatalf("status = %s, want partial_refund", refunded.Status)
	}

	level, _ := repo.GetStockLevel(ctx, "prod-kopi", "wh-main")
	if level != 118 {
		t.Fatalf("stock = %d, partial refund must not restock", level)
	}
}

func TestAdjustmentBucketsSplitByDirection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 500)

	if _, err := svc.AdjustBalance(ctx, "reg-front", domain.AdjustBalanceRequest{
		Amount:         decimal.NewFromInt(100),
		AdjustmentType: domain.AdjustIncrease,
		Description:    "found notes under the till",
	}); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if _, err := svc.AdjustBalance(ctx, "reg-front", domain.AdjustBalanceRequest{
		Amount:         decimal.NewFromInt(40),
		AdjustmentType: domain.AdjustDecrease,
		Description:    "torn note removed",
	}); err != nil {
		t.Fatalf("decrease: %v", err)
	}

	report, err := svc.VarianceReport(ctx, "reg-front")
	if err != nil {
		t.Fatalf("variance report: %v", err)
	}
	if !report.Breakdown.CashIn.Adjustments.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("inflow adjustments = %s, want 100", report.Breakdown.CashIn.Adjustments)
	}
	if !report.Breakdown.CashOut.Adjustments.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("outflow adjustments = %s, want 40", report.Breakdown.CashOut.Adjustments)
	}
	if !report.ExpectedBalance.Equal(decimal.NewFromInt(560)) {
		t.Fatalf("expected balance = %s, want 560", report.ExpectedBalance)
	}
}

func TestRegisterBalanceMatchesSignedSum(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 500)

	if _, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 1, 300, 0, 300)); err != nil {
		t.Fatalf("sale: %v", err)
	}
	if _, err := svc.CashIn(ctx, "reg-front", domain.RegisterCashFlowRequest{Amount: decimal.NewFromInt(100), Description: "change float"}); err != nil {
		t.Fatalf("cash in: %v", err)
	}
	if _, err := svc.CashOut(ctx, "reg-front", domain.RegisterCashFlowRequest{Amount: decimal.NewFromInt(250), Description: "bank drop"}); err != nil {
		t.Fatalf("cash out: %v", err)
	}

	txns, err := svc.ListRegisterTransactions(ctx, "reg-front", true, 100)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}

	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.SignedAmount())
	}
	register, _ := svc.GetRegister(ctx, "reg-front")
	if !register.CurrentBalance.Equal(sum) {
		t.Fatalf("balance %s != signed sum %s", register.CurrentBalance, sum)
	}
	if !register.CurrentBalance.Equal(decimal.NewFromInt(650)) {
		t.Fatalf("balance = %s, want 650", register.CurrentBalance)
	}
}

func TestConcurrentSettlementsNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)

	const workers = 40
	const perSale = 5 // seeded stock is 120, so at most 24 can succeed

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	invoices := make(map[string]bool)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := svc.CreatePOSSale(testContext(), domain.CreateSaleRequest{
				Items: []domain.CartItemRequest{{
					ProductID:   "prod-kopi",
					WarehouseID: "wh-main",
					Quantity:    perSale,
					UnitPrice:   decimal.NewFromInt(10),
				}},
				PaymentMethod: domain.PaymentBank,
				PaidAmount:    decimal.NewFromInt(50),
			})
			if err != nil {
				if !errors.Is(err, store.ErrInsufficientStock) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			succeeded++
			if invoices[sale.InvoiceNumber] {
				t.Errorf("duplicate invoice number %s", sale.InvoiceNumber)
			}
			invoices[sale.InvoiceNumber] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if succeeded != 24 {
		t.Fatalf("succeeded = %d, want exactly 24", succeeded)
	}
	level, _ := repo.GetStockLevel(context.Background(), "prod-kopi", "wh-main")
	if level != 0 {
		t.Fatalf("stock = %d, want 0 after selling out", level)
	}
}

func TestTodaySummary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 0)

	if _, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 1, 100, 0, 100)); err != nil {
		t.Fatalf("sale 1: %v", err)
	}
	if _, err := svc.CreatePOSSale(ctx, domain.CreateSaleRequest{
		Items:         []domain.CartItemRequest{{ProductID: "prod-gula", WarehouseID: "wh-main", Quantity: 1, UnitPrice: decimal.NewFromInt(50)}},
		PaymentMethod: domain.PaymentBank,
		PaidAmount:    decimal.NewFromInt(50),
	}); err != nil {
		t.Fatalf("sale 2: %v", err)
	}

	summary, err := svc.TodaySummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalSales != 2 {
		t.Fatalf("total sales = %d, want 2", summary.TotalSales)
	}
	if !summary.TotalRevenue.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("revenue = %s, want 150", summary.TotalRevenue)
	}
	if !summary.PaymentBreakdown.Cash.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("cash breakdown = %s, want 100", summary.PaymentBreakdown.Cash)
	}
	if !summary.PaymentBreakdown.Bank.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("bank breakdown = %s, want 50", summary.PaymentBreakdown.Bank)
	}
}

func TestBalancedSessionClosesWithZeroVariance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 1000)

	if _, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 1, 150, 0, 150)); err != nil {
		t.Fatalf("sale: %v", err)
	}
	if _, err := svc.CashOut(ctx, "reg-front", domain.RegisterCashFlowRequest{Amount: decimal.NewFromInt(50), Description: "bank drop"}); err != nil {
		t.Fatalf("cash out: %v", err)
	}

	register, err := svc.CloseRegister(ctx, domain.CloseRegisterRequest{
		CashRegisterID: "reg-front",
		ActualAmount:   decimal.NewFromInt(1100),
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if register.ExpectedAmount == nil || !register.ExpectedAmount.Equal(decimal.NewFromInt(1100)) {
		t.Fatalf("expected = %v, want 1100", register.ExpectedAmount)
	}
	if register.Variance == nil || !register.Variance.IsZero() {
		t.Fatalf("variance = %v, want 0", register.Variance)
	}
}

func TestZeroQuantityLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 100)

	_, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 0, 100, 0, 0))
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	level, _ := repo.GetStockLevel(ctx, "prod-kopi", "wh-main")
	if level != 120 {
		t.Fatalf("stock = %d, want untouched 120", level)
	}
	journals, _ := svc.JournalHistory(ctx, 50)
	if len(journals) != 0 {
		t.Fatalf("journals persisted after rejected sale: %d", len(journals))
	}
	txns, _ := svc.ListRegisterTransactions(ctx, "reg-front", true, 50)
	if len(txns) != 1 {
		t.Fatalf("register log = %d entries, want only the opening", len(txns))
	}
}

// recordingCache observes the summary cache traffic a settlement generates.
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string]*domain.DailySummary
	hits        int
	invalidated int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]*domain.DailySummary)}
}

func (c *recordingCache) Get(_ context.Context, key string) (*domain.DailySummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if summary, ok := c.entries[key]; ok {
		c.hits++
		return summary, true, nil
	}
	return nil, false, nil
}

func (c *recordingCache) Set(_ context.Context, key string, value *domain.DailySummary, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.invalidated++
	return nil
}

func TestSummaryCacheInvalidatedBySettlement(t *testing.T) {
	repo := memory.NewSeeded()
	rc := newRecordingCache()
	svc := New(repo, rc, zerolog.Nop(), "main-branch", true, time.Minute)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 0)

	if _, err := svc.TodaySummary(ctx); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if _, err := svc.TodaySummary(ctx); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if rc.hits != 1 {
		t.Fatalf("cache hits = %d, want second read served from cache", rc.hits)
	}

	if _, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 1, 100, 0, 100)); err != nil {
		t.Fatalf("sale: %v", err)
	}
	if rc.invalidated == 0 {
		t.Fatalf("settlement must invalidate the summary cache")
	}

	summary, err := svc.TodaySummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalSales != 1 {
		t.Fatalf("total sales = %d, want fresh value 1", summary.TotalSales)
	}
}

func TestAuditTrailWritten(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testContext()
	openRegister(t, svc, "reg-front", 100)

	if _, err := svc.CreatePOSSale(ctx, cashSaleRequest("reg-front", 1, 100, 0, 100)); err != nil {
		t.Fatalf("sale: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour), 50)
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}

	actions := make(map[string]bool)
	for _, entry := range logs {
		actions[entry.Action] = true
		if entry.ActorName != "cashier" {
			t.Fatalf("actor = %s, want cashier", entry.ActorName)
		}
	}
	if !actions["register.open"] || !actions["sale.create"] {
		t.Fatalf("missing audit actions: %v", actions)
	}
}
