// Package credentials persists and refreshes the {username, token} pair the
// rest of the lifecycle engine uses to authenticate against
// mods.factorio.com and the engine download endpoint.
//
// Grounded on original_source/src/credentials.rs: load/login/
// login_with_token/save/has_token/get, reworked into Go idiom (explicit
// *os.File atomic rename on save, context-scoped HTTP calls) the way the
// teacher's factorio.Updater does its own JSON config IO.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"factorio-instanced/internal/ferrors"
)

const authEndpoint = "https://auth.factorio.com/api-login"

// Credentials is the persisted {username, token} pair. Absence of a Store's
// backing file is equivalent to a logged-out state.
type Credentials struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// failureEnvelope is the structured error body the auth endpoint returns on
// a non-2xx response.
type failureEnvelope struct {
	ErrorCode string `json:"error"`
	Message   string `json:"message"`
}

// Store loads, caches, and persists Credentials at a fixed path.
type Store struct {
	path       string
	creds      *Credentials
	httpClient *http.Client
	authURL    string
}

// Load reads the JSON document at path if it exists, else starts in the
// logged-out state.
func Load(path string) (*Store, error) {
	s := &Store{path: path, httpClient: http.DefaultClient, authURL: authEndpoint}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading credentials %s: %w", path, err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing credentials %s: %w", path, err)
	}
	s.creds = &c
	return s, nil
}

// Login performs the factorio.com web authentication flow (no email
// authentication code), mirroring the original's login() -> login_with_email_code(..., "").
func (s *Store) Login(ctx context.Context, username, password string) error {
	return s.LoginWithEmailCode(ctx, username, password, "")
}

// LoginWithEmailCode POSTs to the auth endpoint with api_version=3 and
// require_game_ownership=true, optionally including a two-factor email
// code. On success the decoded {username, token} becomes the current
// state; on a non-2xx response the {error, message} envelope is parsed and
// wrapped as ErrCredentialsFailure.
func (s *Store) LoginWithEmailCode(ctx context.Context, username, password, emailCode string) error {
	form := url.Values{
		"username":               {username},
		"password":               {password},
		"api_version":            {"3"},
		"require_game_ownership": {"true"},
	}
	if emailCode != "" {
		form.Set("email_authentication_code", emailCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logging in: %w: %w", ferrors.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure failureEnvelope
		if decErr := json.NewDecoder(resp.Body).Decode(&failure); decErr != nil {
			return fmt.Errorf("login failed with status %d and unparseable body: %w", resp.StatusCode, ferrors.ErrCredentialsFailure)
		}
		return fmt.Errorf("login rejected (%s): %w", failure.Message, ferrors.ErrCredentialsFailure)
	}

	var c Credentials
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	s.creds = &c
	return nil
}

// LoginWithToken sets the credential state directly, without any network
// call.
func (s *Store) LoginWithToken(username, token string) {
	s.creds = &Credentials{Username: username, Token: token}
}

// Logout clears the in-memory credential state without touching the
// backing file; a subsequent Save() will then delete it.
func (s *Store) Logout() {
	s.creds = nil
}

// Save writes the current state to disk atomically (write to a temp file,
// then rename), or removes the backing file entirely if logged out.
func (s *Store) Save() error {
	if s.creds == nil {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing credentials %s: %w", s.path, err)
		}
		return nil
	}

	data, err := json.Marshal(s.creds)
	if err != nil {
		return fmt.Errorf("marshalling credentials: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials to %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming credentials into place: %w", err)
	}
	return nil
}

// HasToken reports whether credentials are currently set.
func (s *Store) HasToken() bool {
	return s.creds != nil
}

// Get returns the current credentials, or ErrNotAllowed if logged out.
func (s *Store) Get() (Credentials, error) {
	if s.creds == nil {
		return Credentials{}, fmt.Errorf("no credentials loaded: %w", ferrors.ErrNotAllowed)
	}
	return *s.creds, nil
}
