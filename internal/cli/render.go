package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/format"
	"github.com/posterparlor/storefront/internal/services"
)

// Output formats accepted by --format.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

func validFormat(f string) bool {
	return f == FormatText || f == FormatJSON || f == FormatYAML
}

// render writes view as JSON or YAML, or calls text for the human format.
func render(w io.Writer, outputFormat string, view any, text func(io.Writer) error) error {
	switch outputFormat {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

type cartLineView struct {
	ProductID  string `json:"productId" yaml:"productId"`
	Title      string `json:"title" yaml:"title"`
	UnitPrice  int64  `json:"unitPrice" yaml:"unitPrice"`
	Quantity   int    `json:"quantity" yaml:"quantity"`
	StockLimit int    `json:"stockLimit" yaml:"stockLimit"`
	LineTotal  int64  `json:"lineTotal" yaml:"lineTotal"`
	Dimensions string `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Material   string `json:"material,omitempty" yaml:"material,omitempty"`
}

type cartView struct {
	Items      []cartLineView `json:"items" yaml:"items"`
	TotalItems int            `json:"totalItems" yaml:"totalItems"`
	Subtotal   int64          `json:"subtotal" yaml:"subtotal"`
}

func newCartView(snapshot services.CartSnapshot) cartView {
	view := cartView{
		Items:      make([]cartLineView, 0, len(snapshot.Items)),
		TotalItems: snapshot.Totals.TotalItems,
		Subtotal:   snapshot.Totals.Subtotal,
	}
	for _, item := range snapshot.Items {
		view.Items = append(view.Items, cartLineView{
			ProductID:  item.ProductID,
			Title:      item.Title,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			StockLimit: item.StockLimit,
			LineTotal:  item.LineTotal(),
			Dimensions: item.Variant.Dimensions,
			Material:   item.Variant.Material,
		})
	}
	return view
}

func (v cartView) text(w io.Writer) error {
	if len(v.Items) == 0 {
		_, err := fmt.Fprintln(w, "Your cart is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tQTY\tTOTAL")
	for _, line := range v.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			line.ProductID, line.Title, format.Price(line.UnitPrice), line.Quantity, line.StockLimit, format.Price(line.LineTotal))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d item(s), subtotal %s\n", v.TotalItems, format.Price(v.Subtotal))
	return err
}

type pricingView struct {
	Region                 string `json:"region" yaml:"region"`
	Subtotal               int64  `json:"subtotal" yaml:"subtotal"`
	ShippingCost           int64  `json:"shippingCost" yaml:"shippingCost"`
	TaxAmount              int64  `json:"taxAmount" yaml:"taxAmount"`
	TotalPrice             int64  `json:"totalPrice" yaml:"totalPrice"`
	FreeShippingEligible   bool   `json:"freeShippingEligible" yaml:"freeShippingEligible"`
	RemoteSurchargeApplied bool   `json:"remoteSurchargeApplied" yaml:"remoteSurchargeApplied"`
	Message                string `json:"message" yaml:"message"`
}

func newPricingView(region string, p domain.PricingBreakdown) pricingView {
	return pricingView{
		Region:                 region,
		Subtotal:               p.Subtotal,
		ShippingCost:           p.ShippingCost,
		TaxAmount:              p.TaxAmount,
		TotalPrice:             p.TotalPrice,
		FreeShippingEligible:   p.FreeShippingEligible,
		RemoteSurchargeApplied: p.RemoteSurchargeApplied,
		Message:                services.ShippingMessage(p.Subtotal),
	}
}

func (v pricingView) text(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Subtotal\t%s\n", format.Price(v.Subtotal))
	shipping := format.Price(v.ShippingCost)
	if v.ShippingCost == 0 {
		shipping = "FREE"
	}
	if v.RemoteSurchargeApplied {
		shipping += " (remote area)"
	}
	fmt.Fprintf(tw, "Shipping\t%s\n", shipping)
	fmt.Fprintf(tw, "GST (18%%)\t%s\n", format.Price(v.TaxAmount))
	fmt.Fprintf(tw, "Total\t%s\n", format.Price(v.TotalPrice))
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, v.Message)
	return err
}

type orderLineView struct {
	ProductID string `json:"productId" yaml:"productId"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Quantity  int    `json:"quantity" yaml:"quantity"`
	Price     int64  `json:"price" yaml:"price"`
}

type orderView struct {
	ID             string          `json:"id" yaml:"id"`
	Reference      string          `json:"reference" yaml:"reference"`
	Status         string          `json:"status" yaml:"status"`
	PaymentMethod  string          `json:"paymentMethod" yaml:"paymentMethod"`
	IsPaid         bool            `json:"isPaid" yaml:"isPaid"`
	Items          []orderLineView `json:"items" yaml:"items"`
	ShippingCost   int64           `json:"shippingCost" yaml:"shippingCost"`
	TaxAmount      int64           `json:"taxAmount" yaml:"taxAmount"`
	TotalPrice     int64           `json:"totalPrice" yaml:"totalPrice"`
	ShipTo         string          `json:"shipTo" yaml:"shipTo"`
	TrackingNumber string          `json:"trackingNumber,omitempty" yaml:"trackingNumber,omitempty"`
	CreatedAt      time.Time       `json:"createdAt" yaml:"createdAt"`
}

func newOrderView(o domain.Order) orderView {
	view := orderView{
		ID:             o.ID,
		Reference:      format.OrderID(o.ID),
		Status:         string(o.Status),
		PaymentMethod:  string(o.PaymentDetails.Method),
		IsPaid:         o.IsPaid,
		Items:          make([]orderLineView, 0, len(o.Items)),
		ShippingCost:   o.ShippingCost,
		TaxAmount:      o.TaxAmount,
		TotalPrice:     o.TotalPrice,
		ShipTo:         joinNonEmpty(", ", o.ShippingAddress.AddressLine1, o.ShippingAddress.City, o.ShippingAddress.State, o.ShippingAddress.Pincode),
		TrackingNumber: o.TrackingNumber,
		CreatedAt:      o.CreatedAt,
	}
	for _, item := range o.Items {
		line := orderLineView{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price}
		if item.Poster != nil {
			line.Title = item.Poster.Title
		}
		view.Items = append(view.Items, line)
	}
	return view
}

func (v orderView) paidLabel() string {
	if v.IsPaid {
		return "paid"
	}
	return "unpaid"
}

func (v orderView) text(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Order\t%s\n", v.Reference)
	fmt.Fprintf(tw, "Placed\t%s\n", format.Date(v.CreatedAt))
	fmt.Fprintf(tw, "Status\t%s\n", v.Status)
	fmt.Fprintf(tw, "Payment\t%s (%s)\n", v.PaymentMethod, v.paidLabel())
	fmt.Fprintf(tw, "Ship to\t%s\n", v.ShipTo)
	if v.TrackingNumber != "" {
		fmt.Fprintf(tw, "Tracking\t%s\n", v.TrackingNumber)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, line := range v.Items {
		title := line.Title
		if title == "" {
			title = line.ProductID
		}
		fmt.Fprintf(tw, "%s\tx%d\t%s\n", title, line.Quantity, format.Price(line.Price*int64(line.Quantity)))
	}
	fmt.Fprintf(tw, "Shipping\t\t%s\n", format.Price(v.ShippingCost))
	fmt.Fprintf(tw, "GST\t\t%s\n", format.Price(v.TaxAmount))
	fmt.Fprintf(tw, "Total\t\t%s\n", format.Price(v.TotalPrice))
	return tw.Flush()
}

type orderPageView struct {
	Orders      []orderView `json:"orders" yaml:"orders"`
	Page        int         `json:"page" yaml:"page"`
	TotalPages  int         `json:"totalPages" yaml:"totalPages"`
	TotalOrders int         `json:"totalOrders" yaml:"totalOrders"`
	HasNextPage bool        `json:"hasNextPage" yaml:"hasNextPage"`
}

func newOrderPageView(page domain.OrderPage) orderPageView {
	view := orderPageView{
		Orders:      make([]orderView, 0, len(page.Orders)),
		Page:        page.Pagination.CurrentPage,
		TotalPages:  page.Pagination.TotalPages,
		TotalOrders: page.Pagination.TotalOrders,
		HasNextPage: page.Pagination.HasNextPage,
	}
	for _, o := range page.Orders {
		view.Orders = append(view.Orders, newOrderView(o))
	}
	return view
}

func (v orderPageView) text(w io.Writer) error {
	if len(v.Orders) == 0 {
		_, err := fmt.Fprintln(w, "No orders yet")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tPLACED\tSTATUS\tPAYMENT\tTOTAL")
	for _, o := range v.Orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\n",
			o.Reference, format.Date(o.CreatedAt), o.Status, o.PaymentMethod, o.paidLabel(), format.Price(o.TotalPrice))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nPage %d of %d (%d orders)\n", v.Page, v.TotalPages, v.TotalOrders)
	return err
}

type userView struct {
	Authenticated bool   `json:"authenticated" yaml:"authenticated"`
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	Email         string `json:"email,omitempty" yaml:"email,omitempty"`
	Role          string `json:"role,omitempty" yaml:"role,omitempty"`
}

func newUserView(state domain.AuthSession) userView {
	view := userView{Authenticated: state.IsAuthenticated}
	if state.Profile != nil {
		view.ID = state.Profile.ID
		view.Name = state.Profile.Name
		view.Email = state.Profile.Email
		view.Role = state.Profile.Role
	}
	return view
}

func (v userView) text(w io.Writer) error {
	if !v.Authenticated {
		_, err := fmt.Fprintln(w, "Not signed in")
		return err
	}
	_, err := fmt.Fprintf(w, "Signed in as %s <%s>\n", v.Name, v.Email)
	return err
}

type checkoutView struct {
	State     string     `json:"state" yaml:"state"`
	Message   string     `json:"message" yaml:"message"`
	PaymentID string     `json:"paymentId,omitempty" yaml:"paymentId,omitempty"`
	Order     *orderView `json:"order,omitempty" yaml:"order,omitempty"`
}

func newCheckoutView(result services.CheckoutResult) checkoutView {
	view := checkoutView{State: string(result.State), Message: result.Message, PaymentID: result.PaymentID}
	if result.Order != nil {
		o := newOrderView(*result.Order)
		view.Order = &o
	}
	return view
}

func (v checkoutView) text(w io.Writer) error {
	fmt.Fprintln(w, v.Message)
	if v.Order != nil {
		fmt.Fprintf(w, "Order %s, total %s\n", v.Order.Reference, format.Price(v.Order.TotalPrice))
	}
	return nil
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
