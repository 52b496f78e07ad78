package orders

import (
	"testing"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/types"
	"github.com/avelezcr/washpay-backend/pkg/voucher"
)

func TestComputeQuoteNoDiscount(t *testing.T) {
	quote := ComputeQuote(PricingInput{
		Lines: []PriceLine{{Qty: 1, UnitPrice: 100000}},
		Now:   time.Now(),
	})
	if quote.SubTotal != 100000 {
		t.Fatalf("subtotal = %d, want 100000", quote.SubTotal)
	}
	if quote.GrandTotal != 100000 {
		t.Fatalf("grand total = %d, want 100000", quote.GrandTotal)
	}
}

func TestComputeQuotePercentageVoucherCapped(t *testing.T) {
	// 20% of 100000 is 20000, capped at 15000
	quote := ComputeQuote(PricingInput{
		Lines: []PriceLine{{Qty: 1, UnitPrice: 100000}},
		Voucher: &voucher.Voucher{
			ID:                "v-1",
			Code:              "SAVE20",
			Percentage:        20,
			MaxDeductionValue: 15000,
		},
		Now: time.Now(),
	})
	if quote.DiscountAmount != 15000 {
		t.Fatalf("discount = %d, want 15000", quote.DiscountAmount)
	}
	if quote.GrandTotal != 85000 {
		t.Fatalf("grand total = %d, want 85000", quote.GrandTotal)
	}
	if quote.Voucher == nil || quote.Voucher.Deducted != 15000 {
		t.Fatalf("voucher snapshot = %+v", quote.Voucher)
	}
}

func TestComputeQuoteGrandTotalNeverNegative(t *testing.T) {
	quote := ComputeQuote(PricingInput{
		Lines: []PriceLine{{Qty: 1, UnitPrice: 1000}},
		Voucher: &voucher.Voucher{
			ID:         "v-1",
			Percentage: 100,
			// no cap, plus extra fee below subtotal
			MaxDeductionValue: 0,
		},
		ExtraFee: 0,
		Now:      time.Now(),
	})
	if quote.GrandTotal != 0 {
		t.Fatalf("grand total = %d, want 0", quote.GrandTotal)
	}
}

func TestComputeQuoteMembershipForcesZero(t *testing.T) {
	quote := ComputeQuote(PricingInput{
		Lines:     []PriceLine{{Qty: 2, UnitPrice: 30000}},
		TaxAmount: 3000,
		Membership: &types.MembershipSnapshot{
			MembershipID: "m-1",
			Plan:         "unlimited",
		},
		Voucher: &voucher.Voucher{ID: "v-1", Percentage: 50},
		Now:     time.Now(),
	})
	if quote.GrandTotal != 0 {
		t.Fatalf("grand total = %d, want 0", quote.GrandTotal)
	}
	if quote.MembershipAmount != 63000 {
		t.Fatalf("membership amount = %d, want 63000", quote.MembershipAmount)
	}
	if quote.Voucher != nil {
		t.Fatal("membership order must not consume a voucher")
	}
	if quote.Membership == nil || quote.Membership.MembershipID != "m-1" {
		t.Fatalf("membership snapshot = %+v", quote.Membership)
	}
}

func TestComputeQuoteSkipsUnusableVoucher(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	quote := ComputeQuote(PricingInput{
		Lines: []PriceLine{{Qty: 1, UnitPrice: 50000}},
		Voucher: &voucher.Voucher{
			ID:         "v-expired",
			Percentage: 10,
			ExpiresAt:  &past,
		},
		Now: time.Now(),
	})
	if quote.DiscountAmount != 0 {
		t.Fatalf("discount = %d, want 0", quote.DiscountAmount)
	}
	if quote.Voucher != nil {
		t.Fatal("expired voucher must not be snapshotted")
	}
}

func TestSelectBestVoucherPicksLargestDeduction(t *testing.T) {
	now := time.Now()
	soon := now.Add(time.Hour)
	later := now.Add(48 * time.Hour)
	vouchers := []voucher.Voucher{
		{ID: "small", Percentage: 5, ExpiresAt: &later},
		{ID: "big", Percentage: 20, MaxDeductionValue: 15000, ExpiresAt: &later},
		{ID: "big-dying", Percentage: 20, MaxDeductionValue: 15000, ExpiresAt: &soon},
		{ID: "reserved", Percentage: 90, Reserved: true},
	}

	best := SelectBestVoucher(vouchers, 100000, now)
	if best == nil {
		t.Fatal("expected a voucher")
	}
	// both big vouchers cut 15000, the earlier expiry wins
	if best.ID != "big-dying" {
		t.Fatalf("best = %s, want big-dying", best.ID)
	}
}

func TestSelectBestVoucherNoneEligible(t *testing.T) {
	vouchers := []voucher.Voucher{
		{ID: "min-spend", Percentage: 10, MinSpend: 999999},
		{ID: "reserved", Percentage: 10, Reserved: true},
	}
	if best := SelectBestVoucher(vouchers, 1000, time.Now()); best != nil {
		t.Fatalf("expected nil, got %s", best.ID)
	}
}
