package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/pricing"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

type actorContextKey struct{}

// WithActor attaches the authenticated operator to the context. Every write
// path reads it back for served_by, posted_by and audit attribution.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor
}

// Service implements the settlement flow on top of a Repository. It owns
// validation, pricing and journal construction; the repository owns atomic
// persistence.
type Service struct {
	repo         store.Repository
	summaryCache cache.SummaryCache
	log          zerolog.Logger
	branchID     string
	costTracking bool
	summaryTTL   time.Duration
}

func New(repo store.Repository, summaryCache cache.SummaryCache, log zerolog.Logger, branchID string, costTracking bool, summaryTTL time.Duration) *Service {
	if summaryCache == nil {
		summaryCache = cache.NoopSummaryCache{}
	}
	return &Service{
		repo:         repo,
		summaryCache: summaryCache,
		log:          log,
		branchID:     branchID,
		costTracking: costTracking,
		summaryTTL:   summaryTTL,
	}
}

// CreatePOSSale settles a cart in one pass: price it, build the journals,
// then hand the whole settlement to the repository to commit atomically.
func (s *Service) CreatePOSSale(ctx context.Context, req domain.CreateSaleRequest) (*domain.Sale, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	if req.PaymentMethod == domain.PaymentCash && req.CashRegisterID == "" {
		return nil, fmt.Errorf("%w: Cash register ID is required for cash payments", store.ErrValidation)
	}

	branchID := req.BranchID
	if branchID == "" {
		branchID = s.branchID
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	lines := make([]pricing.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		unitPrice := item.UnitPrice
		if !unitPrice.IsPositive() {
			unitPrice = product.SellingPrice
		}
		warehouseID := item.WarehouseID
		if warehouseID == "" {
			warehouseID = "wh-main"
		}
		lines = append(lines, pricing.CartLine{
			ProductID:   item.ProductID,
			WarehouseID: warehouseID,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			Discount:    item.Discount,
		})
	}

	groupDiscountPercent := decimal.Zero
	if req.CustomerID != "" {
		customer, err := s.repo.GetCustomer(ctx, req.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
		}
		groupDiscountPercent = customer.GroupDiscountPercent
	}

	quote, err := pricing.Price(pricing.Input{
		Lines:                lines,
		DiscountType:         req.DiscountType,
		DiscountValue:        req.Discount,
		TaxPercentage:        req.TaxPercentage,
		GroupDiscountPercent: groupDiscountPercent,
		PaidAmount:           req.PaidAmount,
	})
	if err != nil {
		return nil, err
	}

	actor := ActorFromContext(ctx)
	now := time.Now().UTC()

	items := make([]domain.SaleItem, 0, len(lines))
	for i, line := range lines {
		items = append(items, domain.SaleItem{
			ProductID:   line.ProductID,
			WarehouseID: line.WarehouseID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Discount:    line.Discount,
			LineTotal:   quote.LineTotals[i],
		})
	}

	accountCode := req.AccountCode
	if accountCode == "" {
		accountCode = req.PaymentMethod.DefaultAccountCode()
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		BranchID:       branchID,
		CustomerID:     req.CustomerID,
		CashRegisterID: req.CashRegisterID,
		Items:          items,
		Payments: []domain.SalePayment{{
			Method:      req.PaymentMethod,
			Amount:      req.PaidAmount,
			AccountCode: accountCode,
			Reference:   req.Reference,
		}},
		Subtotal:       quote.Subtotal,
		ManualDiscount: quote.ManualDiscount,
		GroupDiscount:  quote.GroupDiscount,
		Tax:            quote.Tax,
		Total:          quote.Total,
		PaidAmount:     req.PaidAmount,
		RefundedAmount: decimal.Zero,
		Status:         domain.SaleCompleted,
		SaleType:       domain.SaleTypePOS,
		ServedBy:       actor.Username,
		CreatedBy:      actor.Username,
		CreatedAt:      now,
	}

	journals := []domain.JournalEntry{ledger.SalePosting(sale, now)}
	if s.costTracking {
		if cogs, ok := ledger.COGSPosting(sale, products, now); ok {
			journals = append(journals, cogs)
		}
	}
	for _, journal := range journals {
		if err := ledger.Validate(journal); err != nil {
			s.log.Error().Err(err).Str("sale_id", sale.ID).Msg("refusing to settle with unbalanced journal")
			return nil, err
		}
	}

	settlement := store.Settlement{
		Sale:     sale,
		Journals: journals,
		PostedBy: actor.Username,
	}
	if req.PaymentMethod == domain.PaymentCash {
		settlement.RegisterID = req.CashRegisterID
		settlement.CashAmount = req.PaidAmount
	}

	created, err := s.repo.CreateSettlement(ctx, settlement)
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, branchID, created.CreatedAt)
	s.logAudit(ctx, branchID, "sale.create", "sale", created.ID,
		fmt.Sprintf("settled %s for %s via %s", created.InvoiceNumber, created.Total, req.PaymentMethod))

	return created, nil
}

// RefundSale reverses a settled sale, fully or partially. A full refund of a
// never-refunded sale restocks the goods and reverses cost of goods sold.
func (s *Service) RefundSale(ctx context.Context, saleID string, req domain.RefundSaleRequest) (*domain.Sale, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be greater than zero", store.ErrValidation)
	}
	if req.Reason == "" {
		return nil, fmt.Errorf("%w: refund reason is required", store.ErrValidation)
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	switch sale.Status {
	case domain.SaleCompleted, domain.SalePartialRefund:
	default:
		return nil, fmt.Errorf("%w: sale %s is %s and cannot be refunded", store.ErrPrecondition, saleID, sale.Status)
	}
	refundable := sale.Total.Sub(sale.RefundedAmount)
	if req.Amount.GreaterThan(refundable) {
		return nil, fmt.Errorf("%w: refund amount %s exceeds refundable %s", store.ErrValidation, req.Amount, refundable)
	}

	// Cash goes back through a drawer; everything else reverses against the
	// account the tender originally landed on.
	accountCode := domain.AccountCashOnHand
	registerID := req.CashRegisterID
	if registerID == "" {
		if len(sale.Payments) > 0 {
			accountCode = sale.Payments[0].AccountCode
			if sale.Payments[0].Method == domain.PaymentCash {
				return nil, fmt.Errorf("%w: cash register ID is required to refund a cash sale", store.ErrValidation)
			}
		}
	}

	actor := ActorFromContext(ctx)
	now := time.Now().UTC()
	fullRefund := sale.RefundedAmount.IsZero() && req.Amount.Equal(sale.Total)

	journals := []domain.JournalEntry{ledger.RefundPosting(*sale, req.Amount, accountCode, now)}
	if fullRefund && s.costTracking {
		ids := make([]string, 0, len(sale.Items))
		for _, item := range sale.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := s.repo.GetProductsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load products: %w", err)
		}
		if cogs, ok := ledger.RefundCOGSPosting(*sale, products, now); ok {
			journals = append(journals, cogs)
		}
	}
	for _, journal := range journals {
		if err := ledger.Validate(journal); err != nil {
			s.log.Error().Err(err).Str("sale_id", saleID).Msg("refusing to refund with unbalanced journal")
			return nil, err
		}
	}

	refunded, err := s.repo.CreateRefund(ctx, store.Refund{
		SaleID:     saleID,
		Amount:     req.Amount,
		Reason:     req.Reason,
		Journals:   journals,
		Restock:    fullRefund,
		RegisterID: registerID,
		PostedBy:   actor.Username,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, refunded.BranchID, refunded.CreatedAt)
	s.logAudit(ctx, refunded.BranchID, "sale.refund", "sale", saleID,
		fmt.Sprintf("refunded %s of %s: %s", req.Amount, refunded.InvoiceNumber, req.Reason))

	return refunded, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.repo.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, page int, limit int) (domain.SaleListResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	sales, total, err := s.repo.ListSales(ctx, s.branchID, page, limit)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales, Page: page, Limit: limit, Total: total}, nil
}

// SaleJournals returns every posting written against a sale, settlement and
// refunds alike.
func (s *Service) SaleJournals(ctx context.Context, saleID string) ([]domain.JournalEntry, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListJournalsByReference(ctx, saleID)
}

func (s *Service) JournalHistory(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListJournals(ctx, limit)
}

// TodaySummary serves the dashboard aggregate, cached for a short TTL.
func (s *Service) TodaySummary(ctx context.Context) (domain.DailySummary, error) {
	now := time.Now().UTC()
	key := s.summaryKey(s.branchID, now)

	if cached, ok, err := s.summaryCache.Get(ctx, key); err != nil {
		s.log.Warn().Err(err).Msg("summary cache read failed")
	} else if ok {
		return *cached, nil
	}

	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	summary, err := s.repo.GetDailySummary(ctx, s.branchID, from, from.Add(24*time.Hour))
	if err != nil {
		return domain.DailySummary{}, err
	}

	if err := s.summaryCache.Set(ctx, key, &summary, s.summaryTTL); err != nil {
		s.log.Warn().Err(err).Msg("summary cache write failed")
	}
	return summary, nil
}

func (s *Service) summaryKey(branchID string, at time.Time) string {
	return "summary:" + branchID + ":" + at.UTC().Format("2006-01-02")
}

func (s *Service) invalidateSummary(ctx context.Context, branchID string, at time.Time) {
	if err := s.summaryCache.Invalidate(ctx, s.summaryKey(branchID, at)); err != nil {
		s.log.Warn().Err(err).Msg("summary cache invalidation failed")
	}
}

func (s *Service) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	return s.repo.GetCashRegister(ctx, id)
}

func (s *Service) ListRegisters(ctx context.Context) ([]domain.CashRegister, error) {
	return s.repo.ListCashRegisters(ctx, s.branchID)
}

func (s *Service) OpenRegister(ctx context.Context, req domain.OpenRegisterRequest) (*domain.CashRegister, error) {
	if req.CashRegisterID == "" {
		return nil, fmt.Errorf("%w: cash register ID is required", store.ErrValidation)
	}
	if req.OpeningBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance must not be negative", store.ErrValidation)
	}

	actor := ActorFromContext(ctx)
	register, err := s.repo.OpenRegister(ctx, req.CashRegisterID, req.OpeningBalance, actor.Username, req.Notes, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, register.BranchID, "register.open", "cash_register", register.ID,
		fmt.Sprintf("opened with float %s", req.OpeningBalance))
	return register, nil
}

func (s *Service) CloseRegister(ctx context.Context, req domain.CloseRegisterRequest) (*domain.CashRegister, error) {
	if req.CashRegisterID == "" {
		return nil, fmt.Errorf("%w: cash register ID is required", store.ErrValidation)
	}
	if req.ActualAmount.IsNegative() {
		return nil, fmt.Errorf("%w: counted amount must not be negative", store.ErrValidation)
	}

	actor := ActorFromContext(ctx)
	register, err := s.repo.CloseRegister(ctx, req.CashRegisterID, req.ActualAmount, actor.Username, req.Notes, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	detail := fmt.Sprintf("closed, counted %s", req.ActualAmount)
	if register.Variance != nil && !register.Variance.IsZero() {
		detail = fmt.Sprintf("closed, counted %s, variance %s", req.ActualAmount, register.Variance)
		s.log.Warn().
			Str("register_id", register.ID).
			Str("variance", register.Variance.String()).
			Str("closed_by", actor.Username).
			Msg("register closed with variance")
	}
	s.logAudit(ctx, register.BranchID, "register.close", "cash_register", register.ID, detail)
	return register, nil
}

func (s *Service) CashIn(ctx context.Context, registerID string, req domain.RegisterCashFlowRequest) (*domain.CashRegisterTransaction, error) {
	return s.postCashFlow(ctx, registerID, domain.RegisterTxnCashIn, "", req.Amount, req.Description)
}

func (s *Service) CashOut(ctx context.Context, registerID string, req domain.RegisterCashFlowRequest) (*domain.CashRegisterTransaction, error) {
	return s.postCashFlow(ctx, registerID, domain.RegisterTxnCashOut, "", req.Amount, req.Description)
}

func (s *Service) AdjustBalance(ctx context.Context, registerID string, req domain.AdjustBalanceRequest) (*domain.CashRegisterTransaction, error) {
	if !req.AdjustmentType.Valid() {
		return nil, fmt.Errorf("%w: adjustment_type must be increase or decrease", store.ErrValidation)
	}
	if req.Description == "" {
		return nil, fmt.Errorf("%w: adjustment description is required", store.ErrValidation)
	}
	return s.postCashFlow(ctx, registerID, domain.RegisterTxnAdjustment, req.AdjustmentType, req.Amount, req.Description)
}

func (s *Service) postCashFlow(ctx context.Context, registerID string, txnType domain.RegisterTxnType, direction domain.AdjustmentDirection, amount decimal.Decimal, description string) (*domain.CashRegisterTransaction, error) {
	if registerID == "" {
		return nil, fmt.Errorf("%w: cash register ID is required", store.ErrValidation)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", store.ErrValidation)
	}

	actor := ActorFromContext(ctx)
	txn, err := s.repo.PostRegisterCashFlow(ctx, registerID, domain.CashRegisterTransaction{
		Type:        txnType,
		Direction:   direction,
		Amount:      amount,
		PostedBy:    actor.Username,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, s.branchID, "register."+string(txnType), "cash_register", registerID,
		fmt.Sprintf("%s %s: %s", txnType, amount, description))
	return txn, nil
}

func (s *Service) ListRegisterTransactions(ctx context.Context, registerID string, sessionOnly bool, limit int) ([]domain.CashRegisterTransaction, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListRegisterTransactions(ctx, registerID, sessionOnly, limit)
}

// VarianceReport reconciles the current or just-closed session: opening
// balance plus the signed sum of session transactions gives the expected
// balance; the counted amount and variance are present once closed.
func (s *Service) VarianceReport(ctx context.Context, registerID string) (domain.VarianceReport, error) {
	register, err := s.repo.GetCashRegister(ctx, registerID)
	if err != nil {
		return domain.VarianceReport{}, err
	}
	txns, err := s.repo.ListRegisterTransactions(ctx, registerID, true, 0)
	if err != nil {
		return domain.VarianceReport{}, err
	}

	report := domain.VarianceReport{
		RegisterID:     registerID,
		Closed:         register.Status == domain.RegisterClosed,
		OpeningBalance: register.OpeningBalance,
		OpenedAt:       register.OpenedAt,
		ClosedAt:       register.ClosedAt,
	}

	expected := register.OpeningBalance
	counts := make(map[domain.RegisterTxnType]*domain.TransactionCount)
	order := make([]domain.RegisterTxnType, 0, 8)
	for _, txn := range txns {
		if txn.Type != domain.RegisterTxnOpeningBalance {
			expected = expected.Add(txn.SignedAmount())
		}

		switch txn.Type {
		case domain.RegisterTxnSale:
			report.Breakdown.CashIn.Sales = report.Breakdown.CashIn.Sales.Add(txn.Amount)
		case domain.RegisterTxnCashIn:
			report.Breakdown.CashIn.CashIn = report.Breakdown.CashIn.CashIn.Add(txn.Amount)
		case domain.RegisterTxnRefund:
			report.Breakdown.CashOut.Refunds = report.Breakdown.CashOut.Refunds.Add(txn.Amount)
		case domain.RegisterTxnCashOut:
			report.Breakdown.CashOut.CashOut = report.Breakdown.CashOut.CashOut.Add(txn.Amount)
		case domain.RegisterTxnAdjustment:
			if txn.Direction == domain.AdjustDecrease {
				report.Breakdown.CashOut.Adjustments = report.Breakdown.CashOut.Adjustments.Add(txn.Amount)
			} else {
				report.Breakdown.CashIn.Adjustments = report.Breakdown.CashIn.Adjustments.Add(txn.Amount)
			}
		}

		count, ok := counts[txn.Type]
		if !ok {
			count = &domain.TransactionCount{Type: txn.Type}
			counts[txn.Type] = count
			order = append(order, txn.Type)
		}
		count.Count++
		count.Total = count.Total.Add(txn.Amount)
	}
	report.ExpectedBalance = expected

	for _, txnType := range order {
		report.TransactionsSummary = append(report.TransactionsSummary, *counts[txnType])
	}

	if report.Closed && register.ActualAmount != nil {
		counted := *register.ActualAmount
		variance := counted.Sub(expected)
		report.CountedBalance = &counted
		report.Variance = &variance
	}
	return report, nil
}

func (s *Service) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListStockMovements(ctx, productID, limit)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, s.branchID, from, to, limit)
}

// logAudit is best effort. A failed audit write is logged and never fails the
// business operation that triggered it.
func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		BranchID:   branchID,
		ActorName:  actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit log write failed")
	}
}
