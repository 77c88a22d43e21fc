package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	domain "github.com/posterparlor/storefront/internal/domain"
)

var (
	indianPhonePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
	emailPattern       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	pincodePattern     = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	whitespacePattern  = regexp.MustCompile(`\s`)
)

// ValidationError maps checkout form fields to the message shown for each.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "checkout: invalid form"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "checkout: invalid form: " + strings.Join(parts, "; ")
}

// NormalisePhone strips whitespace from a phone number.
func NormalisePhone(phone string) string {
	return whitespacePattern.ReplaceAllString(phone, "")
}

// ValidateCheckoutForm applies the checkout field rules. It returns nil or a *ValidationError.
func ValidateCheckoutForm(form domain.CheckoutForm) error {
	fields := map[string]string{}

	if strings.TrimSpace(form.Name) == "" {
		fields["name"] = "Name is required"
	}
	if strings.TrimSpace(form.Phone) == "" {
		fields["phone"] = "Phone number is required"
	} else if !indianPhonePattern.MatchString(NormalisePhone(form.Phone)) {
		fields["phone"] = "Enter a valid 10-digit Indian phone number"
	}
	if form.Email != "" && !emailPattern.MatchString(form.Email) {
		fields["email"] = "Enter a valid email address"
	}
	if strings.TrimSpace(form.AddressLine1) == "" {
		fields["addressLine1"] = "Address is required"
	}
	if strings.TrimSpace(form.City) == "" {
		fields["city"] = "City is required"
	}
	if form.State == "" {
		fields["state"] = "State is required"
	}
	if strings.TrimSpace(form.Pincode) == "" {
		fields["pincode"] = "Pincode is required"
	} else if !pincodePattern.MatchString(form.Pincode) {
		fields["pincode"] = "Enter a valid 6-digit pincode"
	}
	if !form.PaymentMethod.Valid() {
		fields["paymentMethod"] = "Select a payment method"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
