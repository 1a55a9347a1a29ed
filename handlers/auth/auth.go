// Package auth signs users in through GitHub or an OIDC provider and issues
// the bearer tokens the API and the canvas bridge accept.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/microbiomeViz/Picture-library/config"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	stateCookie = "oauthstate"
	tokenTTL    = 7 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// AppClaims are the claims carried by issued tokens.
type AppClaims struct {
	jwt.RegisteredClaims
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl"`
	Name      string `json:"name"`
}

// User returns the identity described by the claims.
func (c *AppClaims) User() *core.User {
	return &core.User{
		Subject:   c.Subject,
		Login:     c.Login,
		Email:     c.Email,
		AvatarURL: c.AvatarURL,
		Name:      c.Name,
	}
}

type oidcClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	Sub               string `json:"sub"`
}

// provider completes a login round trip and returns the signed-in user.
type provider interface {
	name() string
	authCodeURL(state string) string
	exchange(ctx context.Context, code string) (*core.User, error)
}

type Authenticator struct {
	secret   []byte
	provider provider
	now      func() time.Time
}

// New configures the OIDC provider when an issuer is set, GitHub otherwise.
// Without either, login routes answer 500 but token checks still work.
func New(ctx context.Context, cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{secret: []byte(cfg.JWTSecret), now: time.Now}
	if len(a.secret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}

	switch {
	case cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "":
		logrus.Info("Initializing OIDC authentication provider.")
		p, err := newOIDCProvider(ctx, cfg)
		if err != nil {
			logrus.Errorf("Failed to create OIDC provider: %s", err.Error())
			break
		}
		a.provider = p
	case cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "":
		logrus.Info("Initializing GitHub authentication provider.")
		a.provider = &githubProvider{conf: &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}}
	default:
		logrus.Warn("No authentication provider configured.")
	}
	return a
}

// NewWithSecret returns an authenticator that only issues and checks tokens.
func NewWithSecret(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// IssueToken signs a token for user.
func (a *Authenticator) IssueToken(user *core.User) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := a.now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login:     user.Login,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		Name:      user.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken verifies a token and returns its claims.
func (a *Authenticator) ParseToken(tokenString string) (*AppClaims, error) {
	if len(a.secret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*AppClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Subject is ParseToken reduced to the user subject.
func (a *Authenticator) Subject(tokenString string) (string, error) {
	claims, err := a.ParseToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (a *Authenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if a.provider == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}
	state, err := newState()
	if err != nil {
		http.Error(w, "Failed to generate login state", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		Expires:  a.now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.provider.authCodeURL(state), http.StatusTemporaryRedirect)
}

func (a *Authenticator) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if a.provider == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}
	log := logrus.WithField("provider", a.provider.name())

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.FormValue("state") {
		log.Warn("Login state mismatch")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	code := r.FormValue("code")
	if code == "" {
		log.Error("no code in callback")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	user, err := a.provider.exchange(r.Context(), code)
	if err != nil {
		log.Errorf("login failed: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	token, err := a.IssueToken(user)
	if err != nil {
		log.Errorf("failed to create JWT: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	log.WithField("user_id", user.Subject).Info("User signed in")
	http.Redirect(w, r, "/?token="+url.QueryEscape(token), http.StatusTemporaryRedirect)
}

type githubProvider struct {
	conf    *oauth2.Config
	userURL string
}

func (p *githubProvider) name() string { return "github" }

func (p *githubProvider) authCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

func (p *githubProvider) exchange(ctx context.Context, code string) (*core.User, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange token: %w", err)
	}

	userURL := p.userURL
	if userURL == "" {
		userURL = "https://api.github.com/user"
	}
	resp, err := p.conf.Client(ctx, token).Get(userURL)
	if err != nil {
		return nil, fmt.Errorf("get user from github: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get user from github: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read github response body: %w", err)
	}
	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(body, &githubUser); err != nil {
		return nil, fmt.Errorf("unmarshal github user: %w", err)
	}

	return &core.User{
		Subject:   fmt.Sprintf("github:%d", githubUser.ID),
		Login:     githubUser.Login,
		AvatarURL: githubUser.AvatarURL,
		Name:      githubUser.Name,
	}, nil
}

type oidcProvider struct {
	conf     *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

func newOIDCProvider(ctx context.Context, cfg config.AuthConfig) (*oidcProvider, error) {
	if cfg.OIDCClientSecret == "" {
		return nil, errors.New("OIDC_CLIENT_SECRET is not set")
	}
	p, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, err
	}
	return &oidcProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			Endpoint:     p.Endpoint(),
		},
		verifier: p.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
	}, nil
}

func (p *oidcProvider) name() string { return "oidc" }

func (p *oidcProvider) authCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (p *oidcProvider) exchange(ctx context.Context, code string) (*core.User, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange token: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify ID token: %w", err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims from ID token: %w", err)
	}
	user := &core.User{
		Subject:   claims.Sub,
		Login:     claims.PreferredUsername,
		Email:     claims.Email,
		AvatarURL: claims.Picture,
		Name:      claims.Name,
	}
	if user.Login == "" && user.Email != "" {
		user.Login = user.Email
	}
	return user, nil
}
