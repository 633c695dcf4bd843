package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GuestUserID is the placeholder identity used when no session, cached
// token, or legacy identifier can be resolved. It lets anonymous play
// proceed instead of failing the whole game session.
const GuestUserID = "00000000-0000-0000-0000-000000000000"

// StoredSession is the locally persisted login state.
type StoredSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Email        string `json:"email"`
	UserID       string `json:"user_id"`
}

// Verifier checks an access token against the auth service.
// *SupabaseClient satisfies it.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (SupabaseUser, error)
}

// Resolver resolves the acting user's identifier. Resolution order: live
// session verification, then the cached session's recorded user ID, then a
// legacy identifier file, then GuestUserID.
type Resolver struct {
	dir      string
	verifier Verifier
}

func NewResolver(dir string, verifier Verifier) *Resolver {
	return &Resolver{dir: dir, verifier: verifier}
}

// DefaultDir is where the CLI keeps its session and cache files.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".odyssey")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// CurrentUserID never fails: identity degrades through the fallback chain
// down to the guest placeholder.
func (r *Resolver) CurrentUserID(ctx context.Context) string {
	sess, err := r.LoadSession()
	if err == nil {
		if r.verifier != nil {
			if user, err := r.verifier.VerifyAccessToken(ctx, sess.AccessToken); err == nil && user.ID != "" {
				return user.ID
			}
		}
		if sess.UserID != "" {
			return sess.UserID
		}
	}
	if legacy := r.legacyUserID(); legacy != "" {
		return legacy
	}
	return GuestUserID
}

func (r *Resolver) sessionPath() string {
	return filepath.Join(r.dir, "session.json")
}

func (r *Resolver) legacyPath() string {
	return filepath.Join(r.dir, "user_id")
}

func (r *Resolver) SaveSession(s StoredSession) error {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(r.sessionPath(), body, 0o600)
}

func (r *Resolver) LoadSession() (StoredSession, error) {
	body, err := os.ReadFile(r.sessionPath())
	if err != nil {
		return StoredSession{}, err
	}
	var s StoredSession
	if err := json.Unmarshal(body, &s); err != nil {
		return StoredSession{}, err
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return StoredSession{}, fmt.Errorf("no access token found in session")
	}
	return s, nil
}

func (r *Resolver) ClearSession() error {
	if _, err := os.Stat(r.sessionPath()); err != nil {
		return nil
	}
	return os.Remove(r.sessionPath())
}

func (r *Resolver) legacyUserID() string {
	body, err := os.ReadFile(r.legacyPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
