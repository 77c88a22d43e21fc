package services

import (
	"fmt"

	domain "github.com/posterparlor/storefront/internal/domain"
)

// Pricing constants shared with the backend order service. Changing any of them
// without the matching server change makes every submitted total mismatch.
const (
	FreeShippingThreshold domain.Money = 250
	BaseShipping          domain.Money = 50
	RemoteSurcharge       domain.Money = 150
	TaxRatePercent        int64        = 18
)

// IndianStates lists the accepted values for the shipping state.
var IndianStates = []string{
	"Andhra Pradesh",
	"Arunachal Pradesh",
	"Assam",
	"Bihar",
	"Chhattisgarh",
	"Goa",
	"Gujarat",
	"Haryana",
	"Himachal Pradesh",
	"Jammu and Kashmir",
	"Jharkhand",
	"Karnataka",
	"Kerala",
	"Ladakh",
	"Madhya Pradesh",
	"Maharashtra",
	"Manipur",
	"Meghalaya",
	"Mizoram",
	"Nagaland",
	"Odisha",
	"Punjab",
	"Rajasthan",
	"Sikkim",
	"Tamil Nadu",
	"Telangana",
	"Tripura",
	"Uttar Pradesh",
	"Uttarakhand",
	"West Bengal",
	"Delhi",
}

var remoteRegions = map[string]struct{}{
	"Jammu and Kashmir": {},
	"Arunachal Pradesh": {},
	"Ladakh":            {},
}

// IsRemoteRegion reports whether deliveries to region carry the remote surcharge.
// Matching is exact on the canonical state name; anything else is non-remote.
func IsRemoteRegion(region string) bool {
	_, ok := remoteRegions[region]
	return ok
}

// IsKnownState reports whether state is one of IndianStates.
func IsKnownState(state string) bool {
	for _, candidate := range IndianStates {
		if candidate == state {
			return true
		}
	}
	return false
}

// CalculateShipping returns the flat fee (waived at the threshold) plus the remote surcharge.
func CalculateShipping(subtotal domain.Money, region string) domain.Money {
	shipping := BaseShipping
	if subtotal >= FreeShippingThreshold {
		shipping = 0
	}
	if IsRemoteRegion(region) {
		shipping += RemoteSurcharge
	}
	return shipping
}

// CalculateTax returns the GST on subtotal rounded half-up to whole rupees.
func CalculateTax(subtotal domain.Money) domain.Money {
	if subtotal <= 0 {
		return 0
	}
	return (subtotal*TaxRatePercent + 50) / 100
}

// Price computes the full breakdown for subtotal shipped to region.
// It is pure: identical inputs always produce identical output.
func Price(subtotal domain.Money, region string) domain.PricingBreakdown {
	shipping := CalculateShipping(subtotal, region)
	tax := CalculateTax(subtotal)
	return domain.PricingBreakdown{
		Subtotal:               subtotal,
		ShippingCost:           shipping,
		TaxAmount:              tax,
		TotalPrice:             subtotal + shipping + tax,
		FreeShippingEligible:   subtotal >= FreeShippingThreshold,
		RemoteSurchargeApplied: IsRemoteRegion(region),
	}
}

// ShippingMessage returns the free-shipping hint shown next to the cart total.
func ShippingMessage(subtotal domain.Money) string {
	if subtotal >= FreeShippingThreshold {
		return "You qualify for free shipping!"
	}
	return fmt.Sprintf("Add ₹%d more for free shipping", FreeShippingThreshold-subtotal)
}
