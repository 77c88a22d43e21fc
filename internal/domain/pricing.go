package domain

// PricingBreakdown is derived from (subtotal, region) on demand and never stored.
type PricingBreakdown struct {
	Subtotal               Money
	ShippingCost           Money
	TaxAmount              Money
	TotalPrice             Money
	FreeShippingEligible   bool
	RemoteSurchargeApplied bool
}
