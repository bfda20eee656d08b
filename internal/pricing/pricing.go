package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

var oneHundred = decimal.NewFromInt(100)

// CartLine is one priced cart position. UnitPrice is the snapshot price the
// sale will carry; Discount is a fixed per-line amount subtracted from the
// line before anything else.
type CartLine struct {
	ProductID   string
	WarehouseID string
	Quantity    int
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
}

func (l CartLine) total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Sub(l.Discount)
}

// Input carries everything the engine needs. GroupDiscountPercent is 0 for
// walk-in customers or customers without a group.
type Input struct {
	Lines                []CartLine
	DiscountType         domain.DiscountType
	DiscountValue        decimal.Decimal
	TaxPercentage        decimal.Decimal
	GroupDiscountPercent decimal.Decimal
	PaidAmount           decimal.Decimal
}

// Quote is the fully computed price of a cart.
type Quote struct {
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	AmountWithTax  decimal.Decimal
	GroupDiscount  decimal.Decimal
	ManualDiscount decimal.Decimal
	TotalDiscount  decimal.Decimal
	Total          decimal.Decimal
	Due            decimal.Decimal
	LineTotals     []decimal.Decimal
}

// Price computes a Quote from a cart. It is a pure function: identical input
// always yields an identical quote.
//
// The step order is a business rule and must not be reordered:
//  1. subtotal (per-line discounts subtract here)
//  2. tax on the subtotal
//  3. group discount on the tax-inclusive amount
//  4. manual discount on the tax-inclusive amount
//
// Group and manual discounts are deliberately parallel, both computed on the
// tax-inclusive amount rather than one stacking on the remainder of the other.
func Price(in Input) (Quote, error) {
	if len(in.Lines) == 0 {
		return Quote{}, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if in.DiscountValue.IsNegative() {
		return Quote{}, fmt.Errorf("%w: discount value must not be negative", store.ErrValidation)
	}
	if in.DiscountType != "" && !in.DiscountType.Valid() {
		return Quote{}, fmt.Errorf("%w: unknown discount type %q", store.ErrValidation, in.DiscountType)
	}
	if in.TaxPercentage.IsNegative() || in.TaxPercentage.GreaterThan(oneHundred) {
		return Quote{}, fmt.Errorf("%w: tax percentage must be between 0 and 100", store.ErrValidation)
	}
	if in.GroupDiscountPercent.IsNegative() || in.GroupDiscountPercent.GreaterThan(oneHundred) {
		return Quote{}, fmt.Errorf("%w: group discount percent must be between 0 and 100", store.ErrValidation)
	}
	if in.PaidAmount.IsNegative() {
		return Quote{}, fmt.Errorf("%w: paid amount must not be negative", store.ErrValidation)
	}

	subtotal := decimal.Zero
	lineTotals := make([]decimal.Decimal, 0, len(in.Lines))
	for _, line := range in.Lines {
		if line.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: quantity must be greater than zero", store.ErrValidation)
		}
		if line.UnitPrice.IsNegative() {
			return Quote{}, fmt.Errorf("%w: unit price must not be negative", store.ErrValidation)
		}
		lineTotal := line.total()
		if line.Discount.IsNegative() || lineTotal.IsNegative() {
			return Quote{}, fmt.Errorf("%w: line discount exceeds line amount", store.ErrValidation)
		}
		lineTotals = append(lineTotals, lineTotal)
		subtotal = subtotal.Add(lineTotal)
	}

	tax := subtotal.Mul(in.TaxPercentage).Div(oneHundred).Round(2)
	amountWithTax := subtotal.Add(tax)

	groupDiscount := amountWithTax.Mul(in.GroupDiscountPercent).Div(oneHundred).Round(2)

	manualDiscount := decimal.Zero
	switch in.DiscountType {
	case domain.DiscountFixed:
		manualDiscount = in.DiscountValue
	case domain.DiscountPercentage:
		manualDiscount = amountWithTax.Mul(in.DiscountValue).Div(oneHundred).Round(2)
	}

	totalDiscount := groupDiscount.Add(manualDiscount)
	total := amountWithTax.Sub(totalDiscount)
	if total.IsNegative() {
		return Quote{}, fmt.Errorf("%w: discounts exceed the sale amount", store.ErrValidation)
	}
	if in.PaidAmount.GreaterThan(total) {
		return Quote{}, fmt.Errorf("%w: paid amount %s exceeds total %s", store.ErrValidation, in.PaidAmount, total)
	}

	return Quote{
		Subtotal:       subtotal,
		Tax:            tax,
		AmountWithTax:  amountWithTax,
		GroupDiscount:  groupDiscount,
		ManualDiscount: manualDiscount,
		TotalDiscount:  totalDiscount,
		Total:          total,
		Due:            total.Sub(in.PaidAmount),
		LineTotals:     lineTotals,
	}, nil
}
