package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() on absent file returned error: %v", err)
	}
	if s.HasToken() {
		t.Fatal("fresh store over absent file should be logged out")
	}

	s.LoginWithToken("alice", "tok-123")
	if err := s.Save(); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	got, err := reloaded.Get()
	if err != nil {
		t.Fatalf("Get() after reload: %v", err)
	}
	if got.Username != "alice" || got.Token != "tok-123" {
		t.Errorf("Get() = %+v; want {alice tok-123}", got)
	}
}

func TestSaveLogoutDeletesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")

	s, _ := Load(path)
	s.LoginWithToken("bob", "tok")
	if err := s.Save(); err != nil {
		t.Fatalf("Save(): %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected credentials file to exist: %v", err)
	}

	s.Logout()
	if err := s.Save(); err != nil {
		t.Fatalf("Save() after logout: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected credentials file to be removed after logout+save, stat err = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reloading after delete: %v", err)
	}
	if reloaded.HasToken() {
		t.Error("reloaded store should be logged out")
	}
}

func TestGetWithoutCredentials(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "credentials.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Get(); err == nil {
		t.Fatal("Get() on logged-out store should fail")
	}
}

func TestLoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if r.FormValue("api_version") != "3" || r.FormValue("require_game_ownership") != "true" {
			t.Errorf("missing expected form fields: %v", r.Form)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Credentials{Username: "carol", Token: "abc"})
	}))
	defer srv.Close()

	s := &Store{path: filepath.Join(t.TempDir(), "c.json"), httpClient: srv.Client(), authURL: srv.URL}
	if err := s.Login(context.Background(), "carol", "hunter2"); err != nil {
		t.Fatalf("Login(): %v", err)
	}
	got, err := s.Get()
	if err != nil {
		t.Fatalf("Get() after login: %v", err)
	}
	if got.Username != "carol" || got.Token != "abc" {
		t.Errorf("Get() = %+v; want {carol abc}", got)
	}
}

func TestLoginWithEmailCodeIncludesField(t *testing.T) {
	var gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotCode = r.FormValue("email_authentication_code")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Credentials{Username: "dana", Token: "tok"})
	}))
	defer srv.Close()

	s := &Store{path: filepath.Join(t.TempDir(), "c.json"), httpClient: srv.Client(), authURL: srv.URL}
	if err := s.LoginWithEmailCode(context.Background(), "dana", "pw", "654321"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if gotCode != "654321" {
		t.Errorf("email_authentication_code = %q; want 654321", gotCode)
	}
	if got, _ := s.Get(); got.Username != "dana" {
		t.Errorf("store username = %q; want dana", got.Username)
	}
}

func TestLoginFailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "InvalidCredentials",
			"message": "username or password is invalid",
		})
	}))
	defer srv.Close()

	s := &Store{path: filepath.Join(t.TempDir(), "c.json"), httpClient: srv.Client(), authURL: srv.URL}
	err := s.Login(context.Background(), "eve", "wrong")
	if err == nil {
		t.Fatal("expected login failure")
	}
	if s.HasToken() {
		t.Error("failed login should not set credentials")
	}
}
