package idempotency

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Header is the request header carrying the idempotency key.
const Header = "Idempotency-Key"

// DefaultTTL is the default duration that idempotency records are retained.
const DefaultTTL = 24 * time.Hour

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// StatusPending indicates that a request has reserved the key but not yet persisted a response.
	StatusPending Status = "pending"
	// StatusCompleted indicates that the response for the key has been stored and can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve an idempotency key.
type ReservationState int

const (
	// ReservationStateNew means no existing reservation was found and the caller may continue processing.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a previous response was found and should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is currently processing this key.
	ReservationStatePending
)

// Reservation encapsulates the result of reserving a key, including the stored record if available.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record captures the persisted response for an idempotency key.
type Record struct {
	Key            string
	Fingerprint    string
	Status         Status
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Store persists idempotency reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, status int, body []byte) error
	Release(ctx context.Context, key, fingerprint string) error
}

var (
	// ErrFingerprintMismatch is returned when an idempotency key is reused with a different request fingerprint.
	ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")
	// ErrUnknownKey is returned when completing or releasing a key that was never reserved.
	ErrUnknownKey = errors.New("idempotency: key not reserved")
)

// Fingerprint hashes a request payload so reused keys can be matched to their original body.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Generator mints lexically sortable keys. The zero value is not usable; call NewGenerator.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	clock   func() time.Time
}

// NewGenerator returns a Generator using crypto/rand and the supplied clock.
func NewGenerator(clock func() time.Time) *Generator {
	if clock == nil {
		clock = time.Now
	}
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		clock:   clock,
	}
}

// NewKey returns a fresh ULID string.
func (g *Generator) NewKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.clock().UTC()), g.entropy).String()
}

// NewPrefixedKey returns prefix + "_" + a fresh ULID, lower-cased.
func (g *Generator) NewPrefixedKey(prefix string) string {
	key := strings.ToLower(g.NewKey())
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

// Scoped derives the key one endpoint sends from a key shared by a multi-step
// attempt. Servers scope reservations by key alone, so each step needs its own.
func Scoped(scope, key string) string {
	scope = strings.TrimSpace(scope)
	key = strings.TrimSpace(key)
	if scope == "" || key == "" {
		return key
	}
	return scope + "_" + key
}

// Valid reports whether key looks like a key produced by NewKey, NewPrefixedKey or Scoped.
func Valid(key string) bool {
	key = strings.TrimSpace(key)
	if i := strings.LastIndexByte(key, '_'); i >= 0 {
		if i == 0 {
			return false
		}
		key = key[i+1:]
	}
	_, err := ulid.ParseStrict(key)
	return err == nil
}
