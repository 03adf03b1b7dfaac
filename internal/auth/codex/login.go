package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth"
)

// LoginServer runs the local callback half of the PKCE flow.
type LoginServer struct {
	httpServer *http.Server
	listener   net.Listener
	cfg        *oauth2.Config
	verifier   string
	state      string
	tokenPath  string

	done chan loginResult
}

type loginResult struct {
	record *auth.TokenRecord
	err    error
}

// NewLoginServer binds the callback listener on bindHost.
func NewLoginServer(bindHost, tokenPath string) (*LoginServer, error) {
	s := &LoginServer{
		cfg:       NewOAuth2Config(DefaultClientID, DefaultIssuer),
		verifier:  oauth2.GenerateVerifier(),
		state:     auth.RandomState(),
		tokenPath: tokenPath,
		done:      make(chan loginResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/callback", s.handleCallback)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindHost, CallbackPort))
	if err != nil {
		return nil, err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

// AuthURL returns the authorization URL to open in the browser.
func (s *LoginServer) AuthURL() string {
	return s.cfg.AuthCodeURL(s.state,
		oauth2.S256ChallengeOption(s.verifier),
		oauth2.SetAuthURLParam("id_token_add_organizations", "true"),
	)
}

// Run serves the callback until a code arrives or ctx is cancelled, then
// returns the persisted token record.
func (s *LoginServer) Run(ctx context.Context) (*auth.TokenRecord, error) {
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.done <- loginResult{err: err}
		}
	}()
	defer s.shutdown()

	slog.Info("waiting for login callback", "port", CallbackPort)
	select {
	case res := <-s.done:
		return res.record, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *LoginServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
}

func (s *LoginServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("state") != s.state {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		s.done <- loginResult{err: fmt.Errorf("oauth state mismatch")}
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		s.done <- loginResult{err: fmt.Errorf("callback without authorization code")}
		return
	}

	record, err := s.exchange(r.Context(), code)
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		s.done <- loginResult{err: err}
		return
	}

	fmt.Fprintln(w, "Login complete. You can close this window.")
	s.done <- loginResult{record: record}
}

func (s *LoginServer) exchange(ctx context.Context, code string) (*auth.TokenRecord, error) {
	token, err := s.cfg.Exchange(ctx, code, oauth2.VerifierOption(s.verifier))
	if err != nil {
		return nil, auth.NewAuthError(Upstream, "exchange", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	record := &auth.TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Upstream:     Upstream,
		Email:        auth.JWTEmail(idToken),
	}
	if !token.Expiry.IsZero() {
		exp := token.Expiry
		record.ExpiresAt = &exp
	}
	if idToken != "" {
		record.Extra = map[string]json.RawMessage{}
		if b, err := json.Marshal(idToken); err == nil {
			record.Extra["id_token"] = b
		}
		if aid := DeriveAccountID(idToken); aid != "" {
			if b, err := json.Marshal(aid); err == nil {
				record.Extra["account_id"] = b
			}
		}
	}

	if err := auth.WriteTokenFile(s.tokenPath, record); err != nil {
		return nil, auth.NewAuthError(Upstream, "persist", err)
	}
	return record, nil
}
