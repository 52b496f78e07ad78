package orders

import (
	"time"

	"github.com/avelezcr/washpay-backend/pkg/types"
	"github.com/avelezcr/washpay-backend/pkg/voucher"
	"github.com/shopspring/decimal"
)

// Quote is the money breakdown computed for a draft order. All amounts are
// integer minor units.
type Quote struct {
	SubTotal         int64
	DiscountAmount   int64
	MembershipAmount int64
	TaxAmount        int64
	ExtraFee         int64
	GrandTotal       int64
	Voucher          *types.VoucherSnapshot
	Membership       *types.MembershipSnapshot
}

// PriceLine is one priced item going into a quote.
type PriceLine struct {
	Qty       int
	UnitPrice int64
}

// PricingInput carries everything the quote needs. Exactly one of Voucher or
// Membership applies; membership wins when both are present.
type PricingInput struct {
	Lines      []PriceLine
	TaxAmount  int64
	ExtraFee   int64
	Voucher    *voucher.Voucher
	Membership *types.MembershipSnapshot
	Now        time.Time
}

// ComputeQuote derives the order totals. A membership grant covers the whole
// order, forcing the grand total to zero. A voucher deducts its percentage of
// the subtotal, capped at the voucher's maximum deduction.
func ComputeQuote(input PricingInput) Quote {
	var subTotal int64
	for _, line := range input.Lines {
		subTotal += int64(line.Qty) * line.UnitPrice
	}

	quote := Quote{
		SubTotal:  subTotal,
		TaxAmount: input.TaxAmount,
		ExtraFee:  input.ExtraFee,
	}

	base := subTotal + input.TaxAmount + input.ExtraFee

	if input.Membership != nil {
		quote.MembershipAmount = base
		quote.GrandTotal = 0
		membership := *input.Membership
		quote.Membership = &membership
		return quote
	}

	if v := input.Voucher; v != nil && v.Usable(subTotal, input.Now) {
		quote.DiscountAmount = voucherDeduction(subTotal, v.Percentage, v.MaxDeductionValue)
		quote.Voucher = &types.VoucherSnapshot{
			VoucherID:    v.ID,
			Code:         v.Code,
			Percentage:   v.Percentage,
			MaxDeduction: v.MaxDeductionValue,
			Deducted:     quote.DiscountAmount,
		}
	}

	grand := base - quote.DiscountAmount
	if grand < 0 {
		grand = 0
	}
	quote.GrandTotal = grand
	return quote
}

// voucherDeduction rounds half-up on the percentage cut, then applies the cap.
func voucherDeduction(subTotal int64, percentage int, maxDeduction int64) int64 {
	cut := decimal.NewFromInt(subTotal).
		Mul(decimal.NewFromInt(int64(percentage))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	if maxDeduction > 0 && cut > maxDeduction {
		cut = maxDeduction
	}
	if cut < 0 {
		cut = 0
	}
	return cut
}

// SelectBestVoucher picks the voucher yielding the largest deduction for the
// given subtotal. Ties resolve to the earliest expiry so the customer burns
// the voucher that dies first.
func SelectBestVoucher(vouchers []voucher.Voucher, subTotal int64, now time.Time) *voucher.Voucher {
	var best *voucher.Voucher
	var bestCut int64
	for i := range vouchers {
		v := &vouchers[i]
		if !v.Usable(subTotal, now) {
			continue
		}
		cut := voucherDeduction(subTotal, v.Percentage, v.MaxDeductionValue)
		if cut == 0 {
			continue
		}
		switch {
		case best == nil, cut > bestCut:
			best, bestCut = v, cut
		case cut == bestCut && expiresBefore(v.ExpiresAt, best.ExpiresAt):
			best = v
		}
	}
	return best
}

func expiresBefore(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}
