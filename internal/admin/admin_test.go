package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"SweetHouse/internal/storage"
)

func newGate(t *testing.T, kv storage.Storage, override bool) *Gate {
	t.Helper()
	g, err := NewGate(kv, "admin123", override, nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	return g
}

func TestGate_UnlockLock(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemArea(0).Session()
	g := newGate(t, kv, false)

	if g.Available(ctx) {
		t.Fatalf("available before unlock")
	}
	if err := g.Unlock(ctx, "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	if err := g.Unlock(ctx, "admin123"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if v, ok, _ := kv.Get(ctx, FlagKey); !ok || v != "1" {
		t.Fatalf("flag=%q ok=%v", v, ok)
	}
	if !g.Available(ctx) {
		t.Fatalf("not available after unlock")
	}

	if err := g.Lock(ctx); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if g.Available(ctx) {
		t.Fatalf("available after lock")
	}
}

func TestGate_SharedAcrossSessions(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemArea(0)

	a := newGate(t, area.Session(), false)
	b := newGate(t, area.Session(), false)

	if err := a.Unlock(ctx, "admin123"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !b.Available(ctx) {
		t.Fatalf("unlock not visible from another session")
	}
}

func TestGate_Override(t *testing.T) {
	g := newGate(t, storage.NewMemArea(0).Session(), true)
	if !g.Available(context.Background()) {
		t.Fatalf("override should make admin available")
	}
}

func TestTokenMaker(t *testing.T) {
	tm := NewTokenMaker("secret", time.Minute)

	tok, exp, err := tm.New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("exp=%v", exp)
	}
	c, err := tm.Parse(tok)
	if err != nil || c.Role != "admin" {
		t.Fatalf("claims=%+v err=%v", c, err)
	}

	if _, err := NewTokenMaker("other", time.Minute).Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret accepted: %v", err)
	}

	expired, _, _ := NewTokenMaker("secret", -time.Minute).New()
	if _, err := tm.Parse(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func newAdminTS(t *testing.T, override bool) (*httptest.Server, *Server) {
	t.Helper()

	s := &Server{
		Gate:   newGate(t, storage.NewMemArea(0).Session(), override),
		Tokens: NewTokenMaker("secret", time.Hour),
	}

	protected := chi.NewRouter()
	protected.Get("/secret", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := chi.NewRouter()
	r.Mount("/admin", s.Routes(protected))

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, s
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func getWithToken(t *testing.T, url, token string) int {
	t.Helper()
	return doWithToken(t, http.MethodGet, url, token)
}

func doWithToken(t *testing.T, method, url, token string) int {
	t.Helper()
	req, _ := http.NewRequest(method, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestHTTP_UnlockThenLockRevokes(t *testing.T) {
	ts, _ := newAdminTS(t, false)

	if code := getWithToken(t, ts.URL+"/admin/secret", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}

	resp := postJSON(t, ts.URL+"/admin/unlock", map[string]string{"password": "wrong"})
	var e struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&e)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized || e.Error != "Incorrect password" {
		t.Fatalf("wrong password: code=%d err=%q", resp.StatusCode, e.Error)
	}

	resp = postJSON(t, ts.URL+"/admin/unlock", map[string]string{"password": "admin123"})
	var u struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&u)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || u.AccessToken == "" {
		t.Fatalf("unlock: code=%d", resp.StatusCode)
	}

	if code := getWithToken(t, ts.URL+"/admin/secret", u.AccessToken); code != http.StatusOK {
		t.Fatalf("with token: %d", code)
	}

	if code := doWithToken(t, http.MethodPost, ts.URL+"/admin/lock", ""); code != http.StatusUnauthorized {
		t.Fatalf("lock without token: %d", code)
	}
	if code := getWithToken(t, ts.URL+"/admin/secret", u.AccessToken); code != http.StatusOK {
		t.Fatalf("anonymous lock took effect: %d", code)
	}

	if code := doWithToken(t, http.MethodPost, ts.URL+"/admin/lock", u.AccessToken); code != http.StatusNoContent {
		t.Fatalf("lock: %d", code)
	}
	if code := getWithToken(t, ts.URL+"/admin/secret", u.AccessToken); code != http.StatusForbidden {
		t.Fatalf("after lock: %d", code)
	}
}

func TestHTTP_OverrideSkipsToken(t *testing.T) {
	ts, _ := newAdminTS(t, true)
	if code := getWithToken(t, ts.URL+"/admin/secret", ""); code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
}

func TestHTTP_LoopbackBypass(t *testing.T) {
	ts, s := newAdminTS(t, false)
	s.AllowLoopback = true
	if code := getWithToken(t, ts.URL+"/admin/secret", ""); code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
}

func TestHTTP_UnlockIsRateLimited(t *testing.T) {
	ts, _ := newAdminTS(t, false)

	var last int
	for i := 0; i < unlockLimit+1; i++ {
		resp := postJSON(t, ts.URL+"/admin/unlock", map[string]string{"password": "wrong"})
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("last=%d", last)
	}
}
