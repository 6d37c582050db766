// Package tokens provides access tokens for the publishing adapters. Acquiring and refreshing
// tokens happens elsewhere; this package only reads what was stored.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"golang.org/x/oauth2"
)

// Store returns the token for a platform, or nil with a nil error when none is stored.
type Store interface {
	GetToken(ctx context.Context, platform trailercast.Platform) (*oauth2.Token, error)
}

// Require fetches the token for platform and converts a missing or expired token into an
// *trailercast.AuthError.
func Require(ctx context.Context, s Store, platform trailercast.Platform) (*oauth2.Token, error) {
	if s == nil {
		return nil, &trailercast.AuthError{Platform: platform, Reason: "no token store configured"}
	}
	tok, err := s.GetToken(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s token: %w", platform, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, &trailercast.AuthError{Platform: platform}
	}
	if !tok.Valid() {
		return nil, &trailercast.AuthError{Platform: platform, Reason: "token expired at " + tok.Expiry.Format(time.RFC3339)}
	}
	return tok, nil
}

// FileStore reads "<dir>/<platform>_token.json" files in oauth2.Token JSON form.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the token file for platform.
func (s *FileStore) Path(platform trailercast.Platform) string {
	return filepath.Join(s.Dir, string(platform)+"_token.json")
}

// GetToken reads the token file for platform. A missing file is not an error.
func (s *FileStore) GetToken(_ context.Context, platform trailercast.Platform) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path(platform))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", s.Path(platform), err)
	}
	return &tok, nil
}

// SaveToken writes tok for platform with owner-only permissions.
func (s *FileStore) SaveToken(platform trailercast.Platform, tok *oauth2.Token) error {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(s.Path(platform), data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Static is an in-memory Store, mostly for tests and environment-provided tokens.
type Static struct {
	mu     sync.RWMutex
	tokens map[trailercast.Platform]*oauth2.Token
}

// NewStatic returns a Static store holding a non-expiring access token for each entry.
func NewStatic(accessTokens map[trailercast.Platform]string) *Static {
	s := &Static{tokens: make(map[trailercast.Platform]*oauth2.Token)}
	for p, at := range accessTokens {
		s.tokens[p] = &oauth2.Token{AccessToken: at, TokenType: "Bearer"}
	}
	return s
}

// Set stores tok for platform. A nil tok removes it.
func (s *Static) Set(platform trailercast.Platform, tok *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok == nil {
		delete(s.tokens, platform)
		return
	}
	s.tokens[platform] = tok
}

// GetToken returns the stored token or nil.
func (s *Static) GetToken(_ context.Context, platform trailercast.Platform) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[platform], nil
}
