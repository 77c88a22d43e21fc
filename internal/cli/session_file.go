package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	domain "github.com/posterparlor/storefront/internal/domain"
)

const sessionFileMode = 0o600

// SavedSession is what one CLI run hands to the next: the backend's session
// cookies and the profile shown by whoami.
type SavedSession struct {
	Cookies         []SavedCookie `json:"cookies"`
	User            *domain.User  `json:"user,omitempty"`
	AccessExpiresAt time.Time     `json:"accessExpiresAt,omitempty"`
	SavedAt         time.Time     `json:"savedAt"`
}

// SavedCookie is a cookie name and value.
type SavedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SessionFile reads and writes SavedSession at a fixed path.
type SessionFile struct {
	path string
}

// NewSessionFile returns a SessionFile for path.
func NewSessionFile(path string) (*SessionFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("session file: path is required")
	}
	return &SessionFile{path: path}, nil
}

// Load returns the saved session. A missing file is a signed-out session.
func (f *SessionFile) Load() (SavedSession, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return SavedSession{}, nil
	}
	if err != nil {
		return SavedSession{}, fmt.Errorf("session file: read: %w", err)
	}
	var saved SavedSession
	if err := json.Unmarshal(data, &saved); err != nil {
		return SavedSession{}, fmt.Errorf("session file: decode: %w", err)
	}
	return saved, nil
}

// Save replaces the file atomically.
func (f *SessionFile) Save(saved SavedSession) error {
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("session file: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session file: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("session file: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("session file: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session file: close: %w", err)
	}
	if err := os.Chmod(tmpName, sessionFileMode); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session file: chmod: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session file: replace: %w", err)
	}
	return nil
}

// Remove deletes the file; a missing file is not an error.
func (f *SessionFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session file: remove: %w", err)
	}
	return nil
}

func toSavedCookies(cookies []*http.Cookie) []SavedCookie {
	out := make([]SavedCookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, SavedCookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func fromSavedCookies(saved []SavedCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(saved))
	for _, c := range saved {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}
