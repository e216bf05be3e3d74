package admin

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"SweetHouse/pkg/kit"
)

const (
	unlockLimit  = 5
	unlockWindow = time.Minute
)

type Server struct {
	Gate   *Gate
	Tokens *TokenMaker
	Log    *zap.Logger

	// AllowLoopback opens the admin surface to requests from the local
	// machine without unlocking.
	AllowLoopback bool
}

type unlockReq struct {
	Password string `json:"password"`
}

type unlockResp struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type statusResp struct {
	Available bool `json:"available"`
	Unlocked  bool `json:"unlocked"`
}

// Routes serves unlock and status openly, and lock plus everything in
// protected behind Require. Unlock is rate limited per IP.
func (s *Server) Routes(protected http.Handler) http.Handler {
	r := chi.NewRouter()

	rl := kit.NewIPRateLimiter(unlockLimit, unlockWindow)
	r.With(rl.Middleware).Post("/unlock", s.unlock)
	r.With(s.Require).Post("/lock", s.lock)
	r.Get("/status", s.status)

	if protected != nil {
		r.With(s.Require).Mount("/", protected)
	}
	return r
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	if err := s.Gate.Unlock(r.Context(), req.Password); err != nil {
		if errors.Is(err, ErrIncorrectPassword) {
			kit.WriteError(w, r, http.StatusUnauthorized, "Incorrect password", nil)
			return
		}
		if s.Log != nil {
			s.Log.Error("admin unlock failed", zap.Error(err))
		}
		kit.WriteError(w, r, http.StatusServiceUnavailable, "storage unavailable", nil)
		return
	}

	tok, exp, err := s.Tokens.New()
	if err != nil {
		kit.WriteError(w, r, http.StatusInternalServerError, "token error", nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, unlockResp{AccessToken: tok, ExpiresAt: exp})
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	if err := s.Gate.Lock(r.Context()); err != nil {
		if s.Log != nil {
			s.Log.Error("admin lock failed", zap.Error(err))
		}
		kit.WriteError(w, r, http.StatusServiceUnavailable, "storage unavailable", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	unlocked, _ := s.Gate.Unlocked(r.Context())
	kit.WriteJSON(w, http.StatusOK, statusResp{
		Available: s.Gate.Available(r.Context()) || s.loopback(r),
		Unlocked:  unlocked,
	})
}

// Require lets a request through when the override is on, when it comes
// from loopback and that is allowed, or when it carries a valid admin
// token while the gate is unlocked. Locking the gate therefore revokes
// every issued token.
func (s *Server) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Gate.Overridden() || s.loopback(r) {
			next.ServeHTTP(w, r)
			return
		}

		tok, ok := kit.BearerToken(r)
		if !ok {
			kit.WriteError(w, r, http.StatusUnauthorized, "missing token", nil)
			return
		}
		if _, err := s.Tokens.Parse(tok); err != nil {
			kit.WriteError(w, r, http.StatusUnauthorized, "invalid token", nil)
			return
		}
		if !s.Gate.Available(r.Context()) {
			kit.WriteError(w, r, http.StatusForbidden, "admin locked", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loopback(r *http.Request) bool {
	if !s.AllowLoopback {
		return false
	}
	// forwarded headers are not trusted here
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
