package types

// VoucherSnapshot freezes the voucher terms applied to an order at pricing
// time. The reservation may be rolled back later, the snapshot never changes.
type VoucherSnapshot struct {
	VoucherID    string `json:"voucher_id"`
	Code         string `json:"code"`
	Percentage   int    `json:"percentage"`
	MaxDeduction int64  `json:"max_deduction"`
	Deducted     int64  `json:"deducted"`
}

// MembershipSnapshot records the membership pricing override applied to an
// order, if any.
type MembershipSnapshot struct {
	MembershipID string `json:"membership_id"`
	Plan         string `json:"plan"`
	UnitPrice    int64  `json:"unit_price"`
}
