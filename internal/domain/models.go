package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentBank   PaymentMethod = "bank"
	PaymentMobile PaymentMethod = "mobile"
	PaymentCard   PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentBank, PaymentMobile, PaymentCard:
		return true
	default:
		return false
	}
}

// DefaultAccountCode maps a tender method to the ledger account debited
// when no explicit account_code is supplied with the payment.
func (m PaymentMethod) DefaultAccountCode() string {
	switch m {
	case PaymentCash:
		return AccountCashOnHand
	case PaymentBank:
		return AccountBank
	case PaymentMobile:
		return AccountMobileWallet
	case PaymentCard:
		return AccountCardClearing
	default:
		return ""
	}
}

type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

func (d DiscountType) Valid() bool {
	return d == DiscountFixed || d == DiscountPercentage
}

type SaleStatus string

const (
	SaleDraft         SaleStatus = "draft"
	SalePending       SaleStatus = "pending"
	SaleCompleted     SaleStatus = "completed"
	SaleHeld          SaleStatus = "held"
	SaleRefunded      SaleStatus = "refunded"
	SalePartialRefund SaleStatus = "partial_refund"
	SaleCancelled     SaleStatus = "cancelled"
)

type SaleType string

const (
	SaleTypePOS     SaleType = "pos"
	SaleTypeRegular SaleType = "regular"
)

type RegisterStatus string

const (
	RegisterClosed      RegisterStatus = "closed"
	RegisterOpen        RegisterStatus = "open"
	RegisterMaintenance RegisterStatus = "maintenance"
)

type RegisterTxnType string

const (
	RegisterTxnOpeningBalance RegisterTxnType = "opening_balance"
	RegisterTxnSale           RegisterTxnType = "sale"
	RegisterTxnCashIn         RegisterTxnType = "cash_in"
	RegisterTxnCashOut        RegisterTxnType = "cash_out"
	RegisterTxnRefund         RegisterTxnType = "refund"
	RegisterTxnAdjustment     RegisterTxnType = "adjustment"
	RegisterTxnClosingBalance RegisterTxnType = "closing_balance"
)

type AdjustmentDirection string

const (
	AdjustIncrease AdjustmentDirection = "increase"
	AdjustDecrease AdjustmentDirection = "decrease"
)

func (d AdjustmentDirection) Valid() bool {
	return d == AdjustIncrease || d == AdjustDecrease
}

// Chart-of-accounts codes used by settlement and refund postings.
const (
	AccountCashOnHand   = "1001"
	AccountBank         = "1002"
	AccountMobileWallet = "1003"
	AccountCardClearing = "1004"
	AccountReceivable   = "1100"
	AccountInventory    = "1200"
	AccountTaxPayable   = "2100"
	AccountSalesRevenue = "4000"
	AccountCOGS         = "5000"
)

type JournalReference string

const (
	RefSale       JournalReference = "sale"
	RefSaleCOGS   JournalReference = "sale_cogs"
	RefRefund     JournalReference = "refund"
	RefRefundCOGS JournalReference = "refund_cogs"
)

type StockMovementType string

const (
	StockIn  StockMovementType = "IN"
	StockOut StockMovementType = "OUT"
)

type Product struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	Active       bool            `json:"active"`
}

type Customer struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	GroupDiscountPercent decimal.Decimal `json:"group_discount_percent"`
}

type SaleItem struct {
	ProductID   string          `json:"product_id"`
	WarehouseID string          `json:"warehouse_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type SalePayment struct {
	Method      PaymentMethod   `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	AccountCode string          `json:"account_code"`
	Reference   string          `json:"reference,omitempty"`
}

type Sale struct {
	ID             string          `json:"id"`
	InvoiceNumber  string          `json:"invoice_number"`
	BranchID       string          `json:"branch_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	CashRegisterID string          `json:"cash_register_id,omitempty"`
	Items          []SaleItem      `json:"items"`
	Payments       []SalePayment   `json:"payments"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ManualDiscount decimal.Decimal `json:"manual_discount"`
	GroupDiscount  decimal.Decimal `json:"group_discount"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Status         SaleStatus      `json:"status"`
	SaleType       SaleType        `json:"sale_type"`
	ServedBy       string          `json:"served_by"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Due is the outstanding balance of the sale. Positive means a credit sale.
func (s Sale) Due() decimal.Decimal {
	return s.Total.Sub(s.PaidAmount)
}

// CashTendered returns the cash portion of the sale's payments.
func (s Sale) CashTendered() decimal.Decimal {
	cash := decimal.Zero
	for _, p := range s.Payments {
		if p.Method == PaymentCash {
			cash = cash.Add(p.Amount)
		}
	}
	return cash
}

type CashRegister struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	BranchID       string           `json:"branch_id"`
	Status         RegisterStatus   `json:"status"`
	OpeningBalance decimal.Decimal  `json:"opening_balance"`
	CurrentBalance decimal.Decimal  `json:"current_balance"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty"`
	ActualAmount   *decimal.Decimal `json:"actual_amount,omitempty"`
	Variance       *decimal.Decimal `json:"variance,omitempty"`
	OpenedBy       string           `json:"opened_by,omitempty"`
	OpenedAt       *time.Time       `json:"opened_at,omitempty"`
	ClosedBy       string           `json:"closed_by,omitempty"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

type CashRegisterTransaction struct {
	ID             string              `json:"id"`
	RegisterID     string              `json:"register_id"`
	Type           RegisterTxnType     `json:"type"`
	Direction      AdjustmentDirection `json:"direction,omitempty"`
	Amount         decimal.Decimal     `json:"amount"`
	RunningBalance decimal.Decimal     `json:"running_balance"`
	SaleID         string              `json:"sale_id,omitempty"`
	PostedBy       string              `json:"posted_by"`
	Description    string              `json:"description,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// SignedAmount is the transaction's contribution to the register balance.
// Amounts are stored positive; direction is implied by type, except for
// adjustments which carry it explicitly. A closing_balance row records the
// counted amount and contributes nothing to the running balance.
func (t CashRegisterTransaction) SignedAmount() decimal.Decimal {
	switch t.Type {
	case RegisterTxnCashOut, RegisterTxnRefund:
		return t.Amount.Neg()
	case RegisterTxnAdjustment:
		if t.Direction == AdjustDecrease {
			return t.Amount.Neg()
		}
		return t.Amount
	case RegisterTxnClosingBalance:
		return decimal.Zero
	default:
		return t.Amount
	}
}

type JournalLine struct {
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Narration   string          `json:"narration,omitempty"`
}

type JournalEntry struct {
	ID            string           `json:"id"`
	ReferenceType JournalReference `json:"reference_type"`
	ReferenceID   string           `json:"reference_id"`
	Lines         []JournalLine    `json:"lines"`
	CreatedAt     time.Time        `json:"created_at"`
}

type StockMovement struct {
	ID          string            `json:"id"`
	ProductID   string            `json:"product_id"`
	WarehouseID string            `json:"warehouse_id"`
	Type        StockMovementType `json:"type"`
	Quantity    int               `json:"quantity"`
	Reference   string            `json:"reference,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	BranchID   string    `json:"branch_id"`
	ActorName  string    `json:"actor_name"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CartItemRequest struct {
	ProductID   string          `json:"product_id"`
	WarehouseID string          `json:"warehouse_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
}

type CreateSaleRequest struct {
	Items          []CartItemRequest `json:"items"`
	BranchID       string            `json:"branch_id"`
	CustomerID     string            `json:"customer_id,omitempty"`
	DiscountType   DiscountType      `json:"discount_type,omitempty"`
	Discount       decimal.Decimal   `json:"discount"`
	TaxPercentage  decimal.Decimal   `json:"tax_percentage"`
	PaymentMethod  PaymentMethod     `json:"payment_method"`
	PaidAmount     decimal.Decimal   `json:"paid_amount"`
	AccountCode    string            `json:"account_code,omitempty"`
	Reference      string            `json:"reference,omitempty"`
	CashRegisterID string            `json:"cash_register_id,omitempty"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int    `json:"total"`
}

type RefundSaleRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	CashRegisterID string          `json:"cash_register_id,omitempty"`
}

type OpenRegisterRequest struct {
	CashRegisterID string          `json:"cash_register_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Notes          string          `json:"notes,omitempty"`
}

type CloseRegisterRequest struct {
	CashRegisterID string          `json:"cash_register_id"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	Notes          string          `json:"notes,omitempty"`
}

type RegisterCashFlowRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

type AdjustBalanceRequest struct {
	Amount         decimal.Decimal     `json:"amount"`
	AdjustmentType AdjustmentDirection `json:"adjustment_type"`
	Description    string              `json:"description"`
}

type RegisterResponse struct {
	Register CashRegister `json:"register"`
}

type RegisterTransactionListResponse struct {
	Transactions []CashRegisterTransaction `json:"transactions"`
}

// VarianceBreakdown categorizes session cash flow by direction. Adjustments
// land on the side their direction moved the drawer, so an increase and a
// decrease in the same session stay visible separately.
type VarianceBreakdown struct {
	CashIn  VarianceInflows  `json:"cash_in"`
	CashOut VarianceOutflows `json:"cash_out"`
}

type VarianceInflows struct {
	Sales       decimal.Decimal `json:"sales"`
	CashIn      decimal.Decimal `json:"cash_in"`
	Adjustments decimal.Decimal `json:"adjustments"`
}

type VarianceOutflows struct {
	Refunds     decimal.Decimal `json:"refunds"`
	CashOut     decimal.Decimal `json:"cash_out"`
	Adjustments decimal.Decimal `json:"adjustments"`
}

type TransactionCount struct {
	Type  RegisterTxnType `json:"type"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type VarianceReport struct {
	RegisterID          string             `json:"register_id"`
	Closed              bool               `json:"closed"`
	OpeningBalance      decimal.Decimal    `json:"opening_balance"`
	ExpectedBalance     decimal.Decimal    `json:"expected_balance"`
	CountedBalance      *decimal.Decimal   `json:"counted_balance,omitempty"`
	Variance            *decimal.Decimal   `json:"variance,omitempty"`
	Breakdown           VarianceBreakdown  `json:"breakdown"`
	TransactionsSummary []TransactionCount `json:"transactions_summary"`
	OpenedAt            *time.Time         `json:"opened_at,omitempty"`
	ClosedAt            *time.Time         `json:"closed_at,omitempty"`
}

type PaymentBreakdown struct {
	Cash   decimal.Decimal `json:"cash"`
	Bank   decimal.Decimal `json:"bank"`
	Mobile decimal.Decimal `json:"mobile"`
	Card   decimal.Decimal `json:"card"`
}

type DailySummary struct {
	Date             string           `json:"date"`
	BranchID         string           `json:"branch_id"`
	TotalSales       int              `json:"total_sales"`
	TotalRevenue     decimal.Decimal  `json:"total_revenue"`
	PaymentBreakdown PaymentBreakdown `json:"payment_breakdown"`
}

type JournalListResponse struct {
	Journals []JournalEntry `json:"journals"`
}
