package format

import (
	"testing"
	"time"
)

func TestPrice(t *testing.T) {
	cases := map[int64]string{
		0:    "₹0",
		286:  "₹286",
		1499: "₹1,499",
		-50:  "-₹50",
	}
	for amount, want := range cases {
		if got := Price(amount); got != want {
			t.Fatalf("Price(%d) = %q, want %q", amount, got, want)
		}
	}
}

func TestPaise(t *testing.T) {
	if got := Paise(28600); got != "₹286" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Paise(28650); got != "₹286.5" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestOrderID(t *testing.T) {
	if got := OrderID("65f1c2a9b3e4d5f6a7b8c9d0"); got != "#A7B8C9D0" {
		t.Fatalf("unexpected %q", got)
	}
	if got := OrderID(" abc "); got != "#ABC" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestDate(t *testing.T) {
	if got := Date(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)); got != "4 Mar 2026" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Date(time.Time{}); got != "-" {
		t.Fatalf("unexpected %q", got)
	}
}
