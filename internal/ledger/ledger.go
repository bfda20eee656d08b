// Package ledger builds balanced journal postings for settlement events.
// Persistence is the store's job; this package only decides which accounts
// move and guarantees that debits equal credits before anything is written.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// Validate enforces the double-entry invariant on a single journal entry.
func Validate(entry domain.JournalEntry) error {
	if len(entry.Lines) == 0 {
		return fmt.Errorf("%w: journal %s has no lines", store.ErrConsistency, entry.ID)
	}

	debit := decimal.Zero
	credit := decimal.Zero
	for _, line := range entry.Lines {
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: journal %s has a negative line amount", store.ErrConsistency, entry.ID)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: journal %s debits %s != credits %s", store.ErrConsistency, entry.ID, debit, credit)
	}
	return nil
}

// SalePosting builds the revenue journal for a settled sale:
// debit each payment account for its amount, debit receivable for any due
// portion, credit revenue net of tax and discounts, credit tax payable.
func SalePosting(sale domain.Sale, at time.Time) domain.JournalEntry {
	lines := make([]domain.JournalLine, 0, len(sale.Payments)+3)
	for _, payment := range sale.Payments {
		lines = append(lines, domain.JournalLine{
			AccountCode: payment.AccountCode,
			Debit:       payment.Amount,
			Narration:   fmt.Sprintf("%s payment for %s", payment.Method, sale.InvoiceNumber),
		})
	}

	due := sale.Due()
	if due.IsPositive() {
		lines = append(lines, domain.JournalLine{
			AccountCode: domain.AccountReceivable,
			Debit:       due,
			Narration:   fmt.Sprintf("credit portion of %s", sale.InvoiceNumber),
		})
	}

	revenue := sale.Total.Sub(sale.Tax)
	lines = append(lines, domain.JournalLine{
		AccountCode: domain.AccountSalesRevenue,
		Credit:      revenue,
		Narration:   fmt.Sprintf("sales revenue for %s", sale.InvoiceNumber),
	})
	if sale.Tax.IsPositive() {
		lines = append(lines, domain.JournalLine{
			AccountCode: domain.AccountTaxPayable,
			Credit:      sale.Tax,
			Narration:   fmt.Sprintf("tax collected on %s", sale.InvoiceNumber),
		})
	}

	return domain.JournalEntry{
		ID:            xid.New("jrn"),
		ReferenceType: domain.RefSale,
		ReferenceID:   sale.ID,
		Lines:         lines,
		CreatedAt:     at,
	}
}

// COGSPosting builds the cost journal for a settled sale at historical
// purchase cost: debit COGS, credit the inventory asset. Returns false when
// the cart carries no recorded cost (nothing to post).
func COGSPosting(sale domain.Sale, products map[string]domain.Product, at time.Time) (domain.JournalEntry, bool) {
	cost := decimal.Zero
	for _, item := range sale.Items {
		product, ok := products[item.ProductID]
		if !ok {
			continue
		}
		cost = cost.Add(product.CostPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !cost.IsPositive() {
		return domain.JournalEntry{}, false
	}

	return domain.JournalEntry{
		ID:            xid.New("jrn"),
		ReferenceType: domain.RefSaleCOGS,
		ReferenceID:   sale.ID,
		Lines: []domain.JournalLine{
			{AccountCode: domain.AccountCOGS, Debit: cost, Narration: fmt.Sprintf("cost of goods for %s", sale.InvoiceNumber)},
			{AccountCode: domain.AccountInventory, Credit: cost, Narration: fmt.Sprintf("inventory relief for %s", sale.InvoiceNumber)},
		},
		CreatedAt: at,
	}, true
}

// RefundPosting reverses the revenue side of a sale for the refunded amount.
// Tax is reversed proportionally to the refund's share of the sale total.
func RefundPosting(sale domain.Sale, amount decimal.Decimal, accountCode string, at time.Time) domain.JournalEntry {
	taxShare := decimal.Zero
	if sale.Total.IsPositive() && sale.Tax.IsPositive() {
		taxShare = sale.Tax.Mul(amount).DivRound(sale.Total, 2)
	}
	revenueShare := amount.Sub(taxShare)

	lines := []domain.JournalLine{
		{AccountCode: domain.AccountSalesRevenue, Debit: revenueShare, Narration: fmt.Sprintf("refund against %s", sale.InvoiceNumber)},
	}
	if taxShare.IsPositive() {
		lines = append(lines, domain.JournalLine{
			AccountCode: domain.AccountTaxPayable,
			Debit:       taxShare,
			Narration:   fmt.Sprintf("tax reversal on %s", sale.InvoiceNumber),
		})
	}
	lines = append(lines, domain.JournalLine{
		AccountCode: accountCode,
		Credit:      amount,
		Narration:   fmt.Sprintf("refund paid out for %s", sale.InvoiceNumber),
	})

	return domain.JournalEntry{
		ID:            xid.New("jrn"),
		ReferenceType: domain.RefRefund,
		ReferenceID:   sale.ID,
		Lines:         lines,
		CreatedAt:     at,
	}
}

// RefundCOGSPosting returns goods to inventory at historical cost on a full
// refund with restock.
func RefundCOGSPosting(sale domain.Sale, products map[string]domain.Product, at time.Time) (domain.JournalEntry, bool) {
	cost := decimal.Zero
	for _, item := range sale.Items {
		product, ok := products[item.ProductID]
		if !ok {
			continue
		}
		cost = cost.Add(product.CostPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !cost.IsPositive() {
		return domain.JournalEntry{}, false
	}

	return domain.JournalEntry{
		ID:            xid.New("jrn"),
		ReferenceType: domain.RefRefundCOGS,
		ReferenceID:   sale.ID,
		Lines: []domain.JournalLine{
			{AccountCode: domain.AccountInventory, Debit: cost, Narration: fmt.Sprintf("restock from refund of %s", sale.InvoiceNumber)},
			{AccountCode: domain.AccountCOGS, Credit: cost, Narration: fmt.Sprintf("cost reversal for %s", sale.InvoiceNumber)},
		},
		CreatedAt: at,
	}, true
}
