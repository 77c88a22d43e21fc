package services

import (
	"errors"
	"strings"
	"testing"

	domain "github.com/posterparlor/storefront/internal/domain"
)

func validForm() domain.CheckoutForm {
	return domain.CheckoutForm{
		Name:          "Asha Rao",
		Email:         "asha@example.com",
		Phone:         "98765 43210",
		AddressLine1:  "1 MG Road",
		City:          "Pune",
		State:         "Maharashtra",
		Pincode:       "411001",
		PaymentMethod: domain.PaymentMethodCOD,
	}
}

func TestValidateCheckoutFormAcceptsValidForm(t *testing.T) {
	if err := ValidateCheckoutForm(validForm()); err != nil {
		t.Fatalf("expected valid form, got %v", err)
	}
	form := validForm()
	form.Email = ""
	if err := ValidateCheckoutForm(form); err != nil {
		t.Fatalf("email is optional, got %v", err)
	}
}

func TestValidateCheckoutFormFieldRules(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*domain.CheckoutForm)
		field   string
		message string
	}{
		{"missing name", func(f *domain.CheckoutForm) { f.Name = "  " }, "name", "Name is required"},
		{"missing phone", func(f *domain.CheckoutForm) { f.Phone = "" }, "phone", "Phone number is required"},
		{"short phone", func(f *domain.CheckoutForm) { f.Phone = "98765" }, "phone", "Enter a valid 10-digit Indian phone number"},
		{"phone bad prefix", func(f *domain.CheckoutForm) { f.Phone = "5876543210" }, "phone", "Enter a valid 10-digit Indian phone number"},
		{"bad email", func(f *domain.CheckoutForm) { f.Email = "asha@example" }, "email", "Enter a valid email address"},
		{"missing address", func(f *domain.CheckoutForm) { f.AddressLine1 = "" }, "addressLine1", "Address is required"},
		{"missing city", func(f *domain.CheckoutForm) { f.City = "" }, "city", "City is required"},
		{"missing state", func(f *domain.CheckoutForm) { f.State = "" }, "state", "State is required"},
		{"missing pincode", func(f *domain.CheckoutForm) { f.Pincode = "" }, "pincode", "Pincode is required"},
		{"leading zero pincode", func(f *domain.CheckoutForm) { f.Pincode = "011001" }, "pincode", "Enter a valid 6-digit pincode"},
		{"unknown method", func(f *domain.CheckoutForm) { f.PaymentMethod = "CARD" }, "paymentMethod", "Select a payment method"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := validForm()
			tc.mutate(&form)
			err := ValidateCheckoutForm(form)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if got := verr.Fields[tc.field]; got != tc.message {
				t.Fatalf("expected %s message %q, got %q", tc.field, tc.message, got)
			}
			if len(verr.Fields) != 1 {
				t.Fatalf("expected a single failing field, got %v", verr.Fields)
			}
		})
	}
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := ValidateCheckoutForm(domain.CheckoutForm{})
	if err == nil {
		t.Fatalf("expected error for empty form")
	}
	msg := err.Error()
	if strings.Index(msg, "addressLine1") > strings.Index(msg, "pincode") {
		t.Fatalf("expected fields in sorted order, got %q", msg)
	}
}

func TestNormalisePhone(t *testing.T) {
	if got := NormalisePhone(" 98765\t43210 "); got != "9876543210" {
		t.Fatalf("unexpected phone %q", got)
	}
}
