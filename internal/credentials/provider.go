// Package credentials resolves the secrets transfers authenticate with.
//
// The hub token is read once per transfer at worker start, so a token changed
// in the config file applies to transfers that start afterwards.
package credentials

import (
	"context"
	"os"
	"strings"
)

// Provider yields the hub API token. ok is false when no token is available.
type Provider interface {
	Token(ctx context.Context) (token string, ok bool)
}

// TokenSource is anything that can hand out a configured token, such as
// *config.Store.
type TokenSource interface {
	HubToken() string
}

// Env reads the token from HF_API_TOKEN, then HF_TOKEN.
type Env struct{}

// Token implements Provider.
func (Env) Token(context.Context) (string, bool) {
	for _, name := range []string{"HF_API_TOKEN", "HF_TOKEN"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
	}
	return "", false
}

// Config reads the token from a TokenSource on every call.
type Config struct {
	Source TokenSource
}

// Token implements Provider.
func (c Config) Token(context.Context) (string, bool) {
	if c.Source == nil {
		return "", false
	}
	v := strings.TrimSpace(c.Source.HubToken())
	return v, v != ""
}

// Static returns a fixed token, e.g. from --token.
type Static string

// Token implements Provider.
func (s Static) Token(context.Context) (string, bool) {
	v := strings.TrimSpace(string(s))
	return v, v != ""
}

// Chain tries providers in order and returns the first token found.
type Chain []Provider

// Token implements Provider.
func (c Chain) Token(ctx context.Context) (string, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if tok, ok := p.Token(ctx); ok {
			return tok, true
		}
	}
	return "", false
}

// Default builds the standard lookup order: explicit flag, environment, config file.
func Default(flagToken string, source TokenSource) Provider {
	return Chain{Static(flagToken), Env{}, Config{Source: source}}
}

// Mask hides all but the last four characters of a secret for display.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
