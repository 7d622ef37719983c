// Package auth acquires CRM access tokens via the OAuth2 client-credentials
// flow against the tenant's identity provider. The rest of the codebase only
// sees a *http.Client that attaches and refreshes the bearer token itself.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Credentials identify the confidential client application.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	// Resource is the CRM organisation URL; it doubles as the token scope
	// root ("{resource}/.default").
	Resource string
}

// TokenURL returns the tenant's OAuth2 v2.0 token endpoint.
func (c Credentials) TokenURL() string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.TenantID)
}

// NewHTTPClient returns an http.Client that transparently acquires and
// refreshes access tokens for the CRM resource. timeout bounds each request
// end to end, token exchange included.
func NewHTTPClient(ctx context.Context, creds Credentials, timeout time.Duration) *http.Client {
	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL(),
		Scopes:       []string{strings.TrimRight(creds.Resource, "/") + "/.default"},
	}

	client := cfg.Client(ctx)
	client.Timeout = timeout
	return client
}
