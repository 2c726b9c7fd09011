package lynkco

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Login_FullFlow(t *testing.T) {
	f := newFakeCloud(t)
	auth := NewAuthenticator(f.endpoints(), http.DefaultClient, nil)

	token, err := auth.Login(context.Background(), testEmail, testPassword, StaticMFA(testMFA))
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)
	assert.Equal(t, "refresh-1", token.RefreshToken)
}

func Test_Login_WrongPassword(t *testing.T) {
	f := newFakeCloud(t)
	auth := NewAuthenticator(f.endpoints(), http.DefaultClient, nil)

	_, err := auth.Login(context.Background(), testEmail, "wrong", StaticMFA(testMFA))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Contains(t, err.Error(), "Invalid username or password.")
}

func Test_Login_InvalidMFA(t *testing.T) {
	f := newFakeCloud(t)
	auth := NewAuthenticator(f.endpoints(), http.DefaultClient, nil)

	_, err := auth.Login(context.Background(), testEmail, testPassword, StaticMFA("000000"))
	assert.ErrorIs(t, err, ErrMFAInvalid)
}

func Test_Login_MFARequired(t *testing.T) {
	f := newFakeCloud(t)
	auth := NewAuthenticator(f.endpoints(), http.DefaultClient, nil)

	_, err := auth.Login(context.Background(), testEmail, testPassword, nil)
	assert.ErrorIs(t, err, ErrMFARequired)
}

func Test_Login_MFAFunc(t *testing.T) {
	f := newFakeCloud(t)
	auth := NewAuthenticator(f.endpoints(), http.DefaultClient, nil)
	prompted := false

	_, err := auth.Login(context.Background(), testEmail, testPassword, MFAFunc(func(ctx context.Context) (string, error) {
		prompted = true
		return " " + testMFA + "\n", nil
	}))
	require.NoError(t, err)
	assert.True(t, prompted)
}

func Test_Login_MissingCredentials(t *testing.T) {
	auth := NewAuthenticator(DefaultEndpoints(), http.DefaultClient, nil)
	_, err := auth.Login(context.Background(), "", "", nil)
	assert.Equal(t, AuthenticationFailed, TypeOf(err))
}

func Test_ExchangeRedirect(t *testing.T) {
	f := newFakeCloud(t)
	auth := NewAuthenticator(f.endpoints(), http.DefaultClient, nil)

	_, err := auth.ExchangeRedirect(context.Background(), ManualRedirectURI+"?code=manual-code", "")
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	token, err := auth.ExchangeRedirect(context.Background(), ManualRedirectURI+"?code=manual-code", NewPKCE().Verifier)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", token.RefreshToken)
}

func Test_ParseRedirectURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		code    string
		wantErr bool
	}{
		{name: "app redirect", raw: RedirectURI + "?code=abc&state=x", code: "abc"},
		{name: "manual redirect", raw: "  " + ManualRedirectURI + "?code=def  ", code: "def"},
		{name: "error", raw: RedirectURI + "?error=access_denied&error_description=cancelled", wantErr: true},
		{name: "no code", raw: RedirectURI + "?state=x", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			code, err := ParseRedirectURL(test.raw)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.code, code)
		})
	}
}

func Test_ManualLoginURL(t *testing.T) {
	pkce := NewPKCE()
	assert.NotEqual(t, pkce.Verifier, pkce.Challenge)

	u, err := url.Parse(DefaultEndpoints().ManualLoginURL(pkce))
	require.NoError(t, err)
	query := u.Query()
	assert.Equal(t, "/lynkcoprod.onmicrosoft.com/b2c_1a_signin_mfa/oauth2/v2.0/authorize", u.Path)
	assert.Equal(t, ManualClientID, query.Get("client_id"))
	assert.Equal(t, ManualRedirectURI, query.Get("redirect_uri"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Equal(t, pkce.Challenge, query.Get("code_challenge"))
	assert.Contains(t, query.Get("scope"), "offline_access")
	assert.Empty(t, query.Get("state"))
}
