package backend

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/posterparlor/storefront/internal/domain"
)

type customerDTO struct {
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone"`
	UserID string `json:"userId,omitempty"`
}

type lineDTO struct {
	PosterID string `json:"posterId"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type addressDTO struct {
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
}

type paymentDetailsDTO struct {
	Method   string `json:"method"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createOrderDTO struct {
	Customer        *customerDTO      `json:"customer,omitempty"`
	Items           []lineDTO         `json:"items"`
	ShippingAddress addressDTO        `json:"shippingAddress"`
	PaymentDetails  paymentDetailsDTO `json:"paymentDetails"`
	ShippingCost    int64             `json:"shippingCost"`
	TaxAmount       int64             `json:"taxAmount"`
	TotalPrice      int64             `json:"totalPrice"`
	Notes           string            `json:"notes,omitempty"`
}

type initiatePaymentDTO struct {
	Items           []lineDTO  `json:"items"`
	ShippingAddress addressDTO `json:"shippingAddress"`
	ShippingCost    int64      `json:"shippingCost"`
	TaxAmount       int64      `json:"taxAmount"`
	TotalPrice      int64      `json:"totalPrice"`
}

type initiatePaymentResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId"`
}

type verifyPaymentDTO struct {
	GatewayOrderID  string       `json:"razorpay_order_id"`
	PaymentID       string       `json:"razorpay_payment_id"`
	Signature       string       `json:"razorpay_signature"`
	Customer        *customerDTO `json:"customer,omitempty"`
	Items           []lineDTO    `json:"items"`
	ShippingAddress addressDTO   `json:"shippingAddress"`
	ShippingCost    int64        `json:"shippingCost"`
	TaxAmount       int64        `json:"taxAmount"`
	TotalPrice      int64        `json:"totalPrice"`
	Notes           string       `json:"notes,omitempty"`
}

type posterImageDTO struct {
	URL string `json:"url"`
}

type posterDTO struct {
	ID         string           `json:"_id"`
	Title      string           `json:"title"`
	Images     []posterImageDTO `json:"images"`
	Dimensions string           `json:"dimensions"`
	Material   string           `json:"material"`
	Category   string           `json:"category"`
}

// posterRef is either a bare poster id or the populated poster document.
type posterRef struct {
	ID     string
	Poster *posterDTO
}

func (p *posterRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc posterDTO
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return err
		}
		p.ID = doc.ID
		p.Poster = &doc
		return nil
	}
	return json.Unmarshal(trimmed, &p.ID)
}

type orderItemDTO struct {
	Poster   posterRef `json:"posterId"`
	Quantity int       `json:"quantity"`
	Price    int64     `json:"price"`
}

type orderDTO struct {
	ID              string            `json:"_id"`
	Customer        *customerDTO      `json:"customer"`
	Items           []orderItemDTO    `json:"items"`
	ShippingAddress addressDTO        `json:"shippingAddress"`
	PaymentDetails  paymentDetailsDTO `json:"paymentDetails"`
	Status          string            `json:"status"`
	IsPaid          bool              `json:"isPaid"`
	ShippingCost    int64             `json:"shippingCost"`
	TaxAmount       int64             `json:"taxAmount"`
	TotalPrice      int64             `json:"totalPrice"`
	Notes           string            `json:"notes"`
	TrackingNumber  string            `json:"trackingNumber"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

type paginationDTO struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalOrders int  `json:"totalOrders"`
	Limit       int  `json:"limit"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

type orderPageDTO struct {
	Orders     []orderDTO    `json:"orders"`
	Pagination paginationDTO `json:"pagination"`
}

type userDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type loginResponse struct {
	User        userDTO `json:"user"`
	AccessToken string  `json:"accessToken"`
}

func customerToDTO(c domain.Customer) *customerDTO {
	if c.Name == "" && c.Phone == "" && c.Email == "" && c.UserID == "" {
		return nil
	}
	return &customerDTO{Name: c.Name, Email: c.Email, Phone: c.Phone, UserID: c.UserID}
}

func linesToDTO(lines []domain.OrderLine) []lineDTO {
	out := make([]lineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineDTO{PosterID: l.ProductID, Quantity: l.Quantity, Price: l.Price})
	}
	return out
}

func addressToDTO(a domain.ShippingAddress) addressDTO {
	return addressDTO{AddressLine1: a.AddressLine1, City: a.City, State: a.State, Pincode: a.Pincode}
}

func draftToCreateDTO(d domain.OrderDraft) createOrderDTO {
	return createOrderDTO{
		Customer:        customerToDTO(d.Customer),
		Items:           linesToDTO(d.Items),
		ShippingAddress: addressToDTO(d.ShippingAddress),
		PaymentDetails: paymentDetailsDTO{
			Method:   string(d.PaymentMethod),
			Amount:   d.Pricing.TotalPrice,
			Currency: domain.CurrencyINR,
		},
		ShippingCost: d.Pricing.ShippingCost,
		TaxAmount:    d.Pricing.TaxAmount,
		TotalPrice:   d.Pricing.TotalPrice,
		Notes:        d.Notes,
	}
}

func draftToInitiateDTO(d domain.OrderDraft) initiatePaymentDTO {
	return initiatePaymentDTO{
		Items:           linesToDTO(d.Items),
		ShippingAddress: addressToDTO(d.ShippingAddress),
		ShippingCost:    d.Pricing.ShippingCost,
		TaxAmount:       d.Pricing.TaxAmount,
		TotalPrice:      d.Pricing.TotalPrice,
	}
}

func draftToVerifyDTO(r domain.PaymentReceipt, d domain.OrderDraft) verifyPaymentDTO {
	return verifyPaymentDTO{
		GatewayOrderID:  r.GatewayOrderID,
		PaymentID:       r.PaymentID,
		Signature:       r.Signature,
		Customer:        customerToDTO(d.Customer),
		Items:           linesToDTO(d.Items),
		ShippingAddress: addressToDTO(d.ShippingAddress),
		ShippingCost:    d.Pricing.ShippingCost,
		TaxAmount:       d.Pricing.TaxAmount,
		TotalPrice:      d.Pricing.TotalPrice,
		Notes:           d.Notes,
	}
}

func (o orderDTO) toDomain() domain.Order {
	order := domain.Order{
		ID: o.ID,
		ShippingAddress: domain.ShippingAddress{
			AddressLine1: o.ShippingAddress.AddressLine1,
			City:         o.ShippingAddress.City,
			State:        o.ShippingAddress.State,
			Pincode:      o.ShippingAddress.Pincode,
		},
		PaymentDetails: domain.PaymentDetails{
			Method:   domain.PaymentMethod(o.PaymentDetails.Method),
			Amount:   o.PaymentDetails.Amount,
			Currency: o.PaymentDetails.Currency,
		},
		Status:         domain.OrderStatus(o.Status),
		IsPaid:         o.IsPaid,
		ShippingCost:   o.ShippingCost,
		TaxAmount:      o.TaxAmount,
		TotalPrice:     o.TotalPrice,
		Notes:          o.Notes,
		TrackingNumber: o.TrackingNumber,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Customer != nil {
		order.Customer = &domain.Customer{
			Name:   o.Customer.Name,
			Email:  o.Customer.Email,
			Phone:  o.Customer.Phone,
			UserID: o.Customer.UserID,
		}
	}
	order.Items = make([]domain.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		line := domain.OrderItem{
			ProductID: item.Poster.ID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
		if p := item.Poster.Poster; p != nil {
			poster := &domain.Poster{
				ID:         p.ID,
				Title:      p.Title,
				Dimensions: p.Dimensions,
				Material:   p.Material,
				Category:   p.Category,
			}
			for _, img := range p.Images {
				poster.Images = append(poster.Images, img.URL)
			}
			line.Poster = poster
		}
		order.Items = append(order.Items, line)
	}
	return order
}

func (u userDTO) toDomain() domain.User {
	return domain.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}
