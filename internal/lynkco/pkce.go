package lynkco

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// PKCE is a proof key pair for the authorization code flow.
type PKCE struct {
	Verifier  string
	Challenge string
}

func NewPKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{Verifier: verifier, Challenge: oauth2.S256ChallengeFromVerifier(verifier)}
}

// ParseRedirectURL returns the authorization code carried by the app redirect
// URL (msauth://...?code=...) that the browser lands on after login.
func ParseRedirectURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", newError(AuthenticationFailed, nil, "redirect URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", newError(AuthenticationFailed, err, "invalid redirect URL")
	}
	query := u.Query()
	if u.RawQuery == "" && u.Fragment != "" {
		query, _ = url.ParseQuery(u.Fragment)
	}
	if e := query.Get("error"); e != "" {
		return "", newError(AuthenticationFailed, nil, "login returned %s: %s", e, query.Get("error_description"))
	}
	code := query.Get("code")
	if code == "" {
		return "", newError(AuthenticationFailed, nil, "redirect URL has no code parameter")
	}
	return code, nil
}
