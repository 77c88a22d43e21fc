// Package fakebackend serves an in-memory implementation of the storefront backend
// contract. It backs package tests and the `storefront dev-backend` command.
package fakebackend

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"

	"github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/payments"
	"github.com/posterparlor/storefront/internal/platform/httpx"
	"github.com/posterparlor/storefront/internal/platform/idempotency"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
	maxBodyBytes  = 1 << 20
)

// Pricer recomputes the authoritative price of an order.
type Pricer func(subtotal domain.Money, region string) domain.PricingBreakdown

// Options configures a Server.
type Options struct {
	// GatewayKey is returned by /order/payment/key and initiate.
	GatewayKey string
	// GatewaySecret verifies sandbox receipt signatures.
	GatewaySecret string
	// TokenSecret signs issued access tokens.
	TokenSecret string
	// Pricer, when set, rejects orders whose totals disagree with it.
	Pricer Pricer
	Clock  func() time.Time
}

// Server is a chi-backed fake of the storefront API.
type Server struct {
	opts   Options
	router chi.Router
	idem   *idempotency.MemoryStore

	mu            sync.Mutex
	users         map[string]domain.User
	access        map[string]string
	refresh       map[string]string
	orders        []storedOrder
	gatewayOrders map[string]gatewayOrder
	calls         map[string]int
	failures      map[string]injectedFailure
	refreshBroken bool
	seq           int
}

type storedOrder struct {
	userID string
	order  map[string]any
}

type gatewayOrder struct {
	userID string
	amount int64
}

type injectedFailure struct {
	status  int
	code    string
	message string
}

// New builds a Server.
func New(opts Options) *Server {
	if opts.GatewayKey == "" {
		opts.GatewayKey = "rzp_test_fake"
	}
	if opts.GatewaySecret == "" {
		opts.GatewaySecret = "fake-gateway-secret"
	}
	if opts.TokenSecret == "" {
		opts.TokenSecret = "fake-token-secret"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Server{
		opts:          opts,
		idem:          idempotency.NewMemoryStore(),
		users:         make(map[string]domain.User),
		access:        make(map[string]string),
		refresh:       make(map[string]string),
		gatewayOrders: make(map[string]gatewayOrder),
		calls:         make(map[string]int),
		failures:      make(map[string]injectedFailure),
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.countCalls)
	r.Use(s.injectFailures)

	r.Route("/auth/google", func(rt chi.Router) {
		rt.Post("/login", s.login)
		rt.Post("/refresh", s.refreshSession)
		rt.Post("/logout", s.logout)
		rt.With(s.requireSession).Get("/me", s.me)
	})
	r.Route("/order", func(rt chi.Router) {
		rt.Use(s.requireSession)
		rt.Post("/", s.createOrder)
		rt.Get("/", s.listOrders)
		rt.Get("/payment/key", s.paymentKey)
		rt.Post("/payment/initiate", s.initiatePayment)
		rt.Post("/payment/verify", s.verifyPayment)
		rt.Get("/{orderID}", s.getOrder)
	})
	return r
}

// Calls returns how many times "METHOD /path" was requested.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

// ExpireSessions invalidates every issued access token; refresh tokens stay valid.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	s.access = make(map[string]string)
	s.mu.Unlock()
}

// BreakRefresh makes /auth/google/refresh fail with 401 until called with false.
func (s *Server) BreakRefresh(broken bool) {
	s.mu.Lock()
	s.refreshBroken = broken
	s.mu.Unlock()
}

// FailNext makes the next request to "METHOD /path" fail with the given status and message.
func (s *Server) FailNext(method, path string, status int, code, message string) {
	s.mu.Lock()
	s.failures[method+" "+path] = injectedFailure{status: status, code: code, message: message}
	s.mu.Unlock()
}

// SignReceipt returns the signature the server expects for a gateway payment.
func (s *Server) SignReceipt(gatewayOrderID, paymentID string) string {
	return payments.SignReceipt(s.opts.GatewaySecret, gatewayOrderID, paymentID)
}

// Orders returns the number of persisted orders.
func (s *Server) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimRight(r.URL.Path, "/")
		if path == "" {
			path = "/"
		}
		s.mu.Lock()
		s.calls[r.Method+" "+path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + strings.TrimRight(r.URL.Path, "/")
		s.mu.Lock()
		failure, ok := s.failures[key]
		delete(s.failures, key)
		s.mu.Unlock()
		if ok {
			httpx.WriteError(w, r, &httpx.APIError{Status: failure.status, Code: failure.code, Message: failure.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(accessCookie)
		if err != nil {
			writeErr(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		s.mu.Lock()
		userID, ok := s.access[cookie.Value]
		s.mu.Unlock()
		if !ok {
			writeErr(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDToken string `json:"idToken"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.IDToken) == "" {
		writeErr(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "idToken is required")
		return
	}
	user := userFromIDToken(body.IDToken)

	s.mu.Lock()
	s.users[user.ID] = user
	s.mu.Unlock()

	accessToken, err := s.issueSession(w, user)
	if err != nil {
		writeErr(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	httpx.WriteData(w, http.StatusOK, "Login successful", map[string]any{
		"user":        userPayload(user),
		"accessToken": accessToken,
	})
}

func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookie)
	s.mu.Lock()
	broken := s.refreshBroken
	var userID string
	var ok bool
	if err == nil {
		userID, ok = s.refresh[cookie.Value]
	}
	user := s.users[userID]
	s.mu.Unlock()

	if broken || !ok {
		writeErr(w, r, http.StatusUnauthorized, "REFRESH_FAILED", "Refresh token invalid or expired")
		return
	}
	accessToken, err := s.issueSession(w, user)
	if err != nil {
		writeErr(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	httpx.WriteData(w, http.StatusOK, "Token refreshed", map[string]any{"accessToken": accessToken})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if c, err := r.Cookie(accessCookie); err == nil {
		delete(s.access, c.Value)
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		delete(s.refresh, c.Value)
	}
	s.mu.Unlock()
	for _, name := range []string{accessCookie, refreshCookie} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	}
	httpx.WriteData(w, http.StatusOK, "Logged out", nil)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	user := s.users[userFrom(r.Context())]
	s.mu.Unlock()
	httpx.WriteData(w, http.StatusOK, "", userPayload(user))
}

// issueSession mints an access JWT plus an opaque refresh token and sets both cookies.
func (s *Server) issueSession(w http.ResponseWriter, user domain.User) (string, error) {
	now := s.opts.Clock()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"name":  user.Name,
		"email": user.Email,
		"role":  user.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(15 * time.Minute).Unix(),
		"jti":   newID(now),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.TokenSecret))
	if err != nil {
		return "", fmt.Errorf("fakebackend: sign token: %w", err)
	}
	refreshToken := newID(now)

	s.mu.Lock()
	s.access[accessToken] = user.ID
	s.refresh[refreshToken] = user.ID
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: accessCookie, Value: accessToken, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: refreshToken, Path: "/", HttpOnly: true})
	return accessToken, nil
}

type lineBody struct {
	PosterID string `json:"posterId"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type addressBody struct {
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
}

type orderBody struct {
	Customer        map[string]any `json:"customer"`
	Items           []lineBody     `json:"items"`
	ShippingAddress addressBody    `json:"shippingAddress"`
	PaymentDetails  struct {
		Method   string `json:"method"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"paymentDetails"`
	ShippingCost int64  `json:"shippingCost"`
	TaxAmount    int64  `json:"taxAmount"`
	TotalPrice   int64  `json:"totalPrice"`
	Notes        string `json:"notes"`

	GatewayOrderID string `json:"razorpay_order_id"`
	PaymentID      string `json:"razorpay_payment_id"`
	Signature      string `json:"razorpay_signature"`
}

func (b orderBody) subtotal() int64 {
	var total int64
	for _, item := range b.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// checkTotals validates the line items and, when a Pricer is configured, the totals.
func (s *Server) checkTotals(b orderBody) *httpx.APIError {
	var fields []httpx.FieldError
	if len(b.Items) == 0 {
		fields = append(fields, httpx.FieldError{Field: "items", Message: "at least one item is required"})
	}
	for i, item := range b.Items {
		if item.PosterID == "" || item.Quantity < 1 || item.Price < 0 {
			fields = append(fields, httpx.FieldError{Field: "items." + strconv.Itoa(i), Message: "invalid item"})
		}
	}
	if b.ShippingAddress.State == "" || b.ShippingAddress.Pincode == "" {
		fields = append(fields, httpx.FieldError{Field: "shippingAddress", Message: "address is incomplete"})
	}
	if len(fields) > 0 {
		return &httpx.APIError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "Validation failed", ValidationErrors: fields}
	}
	if s.opts.Pricer != nil {
		want := s.opts.Pricer(b.subtotal(), b.ShippingAddress.State)
		if want.ShippingCost != b.ShippingCost || want.TaxAmount != b.TaxAmount || want.TotalPrice != b.TotalPrice {
			return &httpx.APIError{Status: http.StatusBadRequest, Code: "PRICE_MISMATCH", Message: "Order total does not match"}
		}
	}
	return nil
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	raw, body, ok := s.readOrderBody(w, r)
	if !ok {
		return
	}
	if !domain.PaymentMethod(body.PaymentDetails.Method).Valid() {
		writeErr(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "paymentDetails.method is invalid")
		return
	}
	if apiErr := s.checkTotals(body); apiErr != nil {
		httpx.WriteError(w, r, apiErr)
		return
	}
	s.withIdempotency(w, r, raw, "Order placed", func() (int, any) {
		order := s.storeOrder(userFrom(r.Context()), body, body.PaymentDetails.Method, false)
		return http.StatusCreated, order
	})
}

func (s *Server) initiatePayment(w http.ResponseWriter, r *http.Request) {
	raw, body, ok := s.readOrderBody(w, r)
	if !ok {
		return
	}
	if apiErr := s.checkTotals(body); apiErr != nil {
		httpx.WriteError(w, r, apiErr)
		return
	}
	s.withIdempotency(w, r, raw, "Payment initiated", func() (int, any) {
		now := s.opts.Clock()
		gatewayID := "order_" + strings.ToLower(newID(now))
		amount := body.TotalPrice * 100

		s.mu.Lock()
		s.gatewayOrders[gatewayID] = gatewayOrder{userID: userFrom(r.Context()), amount: amount}
		s.mu.Unlock()

		return http.StatusOK, map[string]any{
			"orderId":  gatewayID,
			"amount":   amount,
			"currency": domain.CurrencyINR,
			"keyId":    s.opts.GatewayKey,
		}
	})
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	raw, body, ok := s.readOrderBody(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	gw, known := s.gatewayOrders[body.GatewayOrderID]
	s.mu.Unlock()
	if !known || gw.userID != userFrom(r.Context()) {
		writeErr(w, r, http.StatusBadRequest, "UNKNOWN_PAYMENT_ORDER", "Payment order not found")
		return
	}
	expected := s.SignReceipt(body.GatewayOrderID, body.PaymentID)
	if body.PaymentID == "" || !hmac.Equal([]byte(expected), []byte(body.Signature)) {
		writeErr(w, r, http.StatusBadRequest, "INVALID_SIGNATURE", "Payment verification failed")
		return
	}
	if apiErr := s.checkTotals(body); apiErr != nil {
		httpx.WriteError(w, r, apiErr)
		return
	}
	s.withIdempotency(w, r, raw, "Payment verified", func() (int, any) {
		s.mu.Lock()
		delete(s.gatewayOrders, body.GatewayOrderID)
		s.mu.Unlock()
		order := s.storeOrder(userFrom(r.Context()), body, string(domain.PaymentMethodOnline), true)
		return http.StatusOK, order
	})
}

func (s *Server) paymentKey(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(w, http.StatusOK, "", map[string]string{"keyId": s.opts.GatewayKey})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	page := positiveInt(r.URL.Query().Get("page"), 1)
	limit := positiveInt(r.URL.Query().Get("limit"), 10)
	userID := userFrom(r.Context())

	s.mu.Lock()
	mine := make([]map[string]any, 0)
	for i := len(s.orders) - 1; i >= 0; i-- {
		if s.orders[i].userID == userID {
			mine = append(mine, s.orders[i].order)
		}
	}
	s.mu.Unlock()

	total := len(mine)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	httpx.WriteData(w, http.StatusOK, "", map[string]any{
		"orders": mine[start:end],
		"pagination": map[string]any{
			"currentPage": page,
			"totalPages":  totalPages,
			"totalOrders": total,
			"limit":       limit,
			"hasNextPage": page < totalPages,
			"hasPrevPage": page > 1,
		},
	})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	userID := userFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.orders {
		if stored.order["_id"] != id {
			continue
		}
		if stored.userID != userID {
			writeErr(w, r, http.StatusForbidden, "FORBIDDEN", "You cannot view this order")
			return
		}
		httpx.WriteData(w, http.StatusOK, "", stored.order)
		return
	}
	writeErr(w, r, http.StatusNotFound, "NOT_FOUND", "Order not found")
}

func (s *Server) readOrderBody(w http.ResponseWriter, r *http.Request) ([]byte, orderBody, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "BAD_REQUEST", "unreadable body")
		return nil, orderBody{}, false
	}
	var body orderBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeErr(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body")
		return nil, orderBody{}, false
	}
	return raw, body, true
}

// withIdempotency replays the stored response when the Idempotency-Key was already completed.
// Reservations are scoped by key alone; the fingerprint covers method, path and body.
func (s *Server) withIdempotency(w http.ResponseWriter, r *http.Request, raw []byte, message string, handle func() (int, any)) {
	key := strings.TrimSpace(r.Header.Get(idempotency.Header))
	if key == "" {
		status, data := handle()
		httpx.WriteData(w, status, message, data)
		return
	}
	if !idempotency.Valid(key) {
		writeErr(w, r, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "Idempotency key is malformed")
		return
	}
	fingerprint := idempotency.Fingerprint(append([]byte(r.Method+" "+r.URL.Path+"\n"), raw...))
	reservation, err := s.idem.Reserve(r.Context(), key, fingerprint, s.opts.Clock(), idempotency.DefaultTTL)
	switch {
	case errors.Is(err, idempotency.ErrFingerprintMismatch):
		writeErr(w, r, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency key reused with a different request")
		return
	case err != nil:
		writeErr(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		w.Header().Set("Idempotent-Replayed", "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reservation.Record.ResponseStatus)
		_, _ = w.Write(reservation.Record.ResponseBody)
		return
	case idempotency.ReservationStatePending:
		writeErr(w, r, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "A request with this key is in progress")
		return
	}

	status, data := handle()
	payload, _ := json.Marshal(map[string]any{"success": true, "message": message, "data": data})
	_ = s.idem.Complete(r.Context(), key, fingerprint, status, payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(payload, '\n'))
}

func (s *Server) storeOrder(userID string, b orderBody, method string, paid bool) map[string]any {
	now := s.opts.Clock().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++

	items := make([]map[string]any, 0, len(b.Items))
	for _, item := range b.Items {
		items = append(items, map[string]any{
			"posterId": map[string]any{"_id": item.PosterID, "title": "Poster " + item.PosterID, "images": []any{}, "dimensions": "A3", "category": "general"},
			"quantity": item.Quantity,
			"price":    item.Price,
		})
	}
	customer := b.Customer
	if customer != nil {
		customer["userId"] = userID
	}
	order := map[string]any{
		"_id":             fmt.Sprintf("%024x", s.seq),
		"customer":        customer,
		"items":           items,
		"shippingAddress": b.ShippingAddress,
		"paymentDetails":  map[string]any{"method": method, "amount": b.TotalPrice, "currency": domain.CurrencyINR},
		"status":          string(domain.OrderStatusPending),
		"isPaid":          paid,
		"shippingCost":    b.ShippingCost,
		"taxAmount":       b.TaxAmount,
		"totalPrice":      b.TotalPrice,
		"notes":           b.Notes,
		"createdAt":       now.Format(time.RFC3339),
		"updatedAt":       now.Format(time.RFC3339),
	}
	s.orders = append(s.orders, storedOrder{userID: userID, order: order})
	return order
}

// OrderIDs lists persisted order identifiers in creation order.
func (s *Server) OrderIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orders))
	for _, o := range s.orders {
		ids = append(ids, o.order["_id"].(string))
	}
	return ids
}

// userFromIDToken derives a stable user from the token text: "email" or "email|Name".
func userFromIDToken(idToken string) domain.User {
	email, name, _ := strings.Cut(strings.TrimSpace(idToken), "|")
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return domain.User{
		ID:    hex.EncodeToString(sum[:12]),
		Name:  name,
		Email: email,
		Role:  "USER",
	}
}

func userPayload(u domain.User) map[string]string {
	return map[string]string{"id": u.ID, "name": u.Name, "email": u.Email, "role": u.Role}
}

func writeErr(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(w, r, &httpx.APIError{Status: status, Code: code, Message: message})
}

func decodeBody(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out)
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
