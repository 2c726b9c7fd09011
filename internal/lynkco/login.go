package lynkco

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
)

// MFAProvider supplies the one-time code sent to the user during login.
type MFAProvider interface {
	MFACode(ctx context.Context) (string, error)
}

// MFAFunc adapts a function to MFAProvider.
type MFAFunc func(ctx context.Context) (string, error)

func (f MFAFunc) MFACode(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticMFA returns a fixed code, typically taken from the configuration.
type StaticMFA string

func (s StaticMFA) MFACode(context.Context) (string, error) {
	if s == "" {
		return "", newError(MFARequired, nil, "an MFA code is required to log in")
	}
	return string(s), nil
}

// Authenticator runs the identity provider login: authorize, self-asserted
// credentials, combined sign-in confirmation, MFA and code exchange.
type Authenticator struct {
	endpoints Endpoints
	logger    *zap.Logger
	newClient func() *http.Client
	exchange  *http.Client
}

func NewAuthenticator(endpoints Endpoints, exchange *http.Client, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		endpoints: endpoints,
		logger:    logger,
		exchange:  exchange,
		newClient: func() *http.Client {
			return httpclient.New(
				httpclient.WithCookieJar(),
				httpclient.WithoutRedirects(),
				httpclient.WithUserAgent(browserUserAgent),
				httpclient.WithLogger(logger),
			)
		},
	}
}

type loginSession struct {
	client     *http.Client
	pkce       PKCE
	pageViewID string
	trans      string
	csrf       string
}

// Login performs the full interactive login and returns the OAuth tokens.
func (a *Authenticator) Login(ctx context.Context, email, password string, mfa MFAProvider) (*oauth2.Token, error) {
	if email == "" || password == "" {
		return nil, newError(AuthenticationFailed, nil, "email and password are required")
	}
	session := &loginSession{client: a.newClient(), pkce: NewPKCE()}
	if err := a.authorize(ctx, session); err != nil {
		return nil, err
	}
	if err := a.selfAsserted(ctx, session, url.Values{
		"request_type": {"RESPONSE"},
		"signInName":   {email},
		"password":     {password},
	}, AuthenticationFailed); err != nil {
		return nil, err
	}
	if err := a.combinedSignin(ctx, session); err != nil {
		return nil, err
	}
	if mfa == nil {
		mfa = StaticMFA("")
	}
	code, err := mfa.MFACode(ctx)
	if err != nil {
		if TypeOf(err) == UnknownError {
			return nil, newError(MFARequired, err, "failed to obtain MFA code")
		}
		return nil, err
	}
	if err := a.selfAsserted(ctx, session, url.Values{
		"request_type":     {"RESPONSE"},
		"verificationCode": {strings.TrimSpace(code)},
	}, MFAInvalid); err != nil {
		return nil, err
	}
	authCode, err := a.confirmMFA(ctx, session)
	if err != nil {
		return nil, err
	}
	return a.Exchange(ctx, ClientID, authCode, session.pkce.Verifier)
}

// Exchange trades an authorization code for tokens at the token endpoint.
func (a *Authenticator) Exchange(ctx context.Context, clientID, code, verifier string) (*oauth2.Token, error) {
	config := a.endpoints.oauthConfig(clientID, redirectFor(clientID))
	if a.exchange != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.exchange)
	}
	token, err := config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, newError(AuthenticationFailed, err, "token exchange failed")
	}
	if token.RefreshToken == "" {
		return nil, newError(AuthenticationFailed, nil, "token exchange returned no refresh token")
	}
	return token, nil
}

// ExchangeRedirect completes the manual flow from the pasted redirect URL.
func (a *Authenticator) ExchangeRedirect(ctx context.Context, redirectURL, verifier string) (*oauth2.Token, error) {
	if verifier == "" {
		return nil, newError(AuthenticationRequired, nil, "no pending login found, restart the login flow")
	}
	code, err := ParseRedirectURL(redirectURL)
	if err != nil {
		return nil, err
	}
	return a.Exchange(ctx, ManualClientID, code, verifier)
}

func (a *Authenticator) authorize(ctx context.Context, s *loginSession) error {
	authURL := a.endpoints.oauthConfig(ClientID, RedirectURI).AuthCodeURL("", oauth2.S256ChallengeOption(s.pkce.Verifier))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return newError(UnknownError, err, "creating authorize request")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	resp, err := s.client.Do(req)
	if err != nil {
		return newError(NetworkError, err, "authorize request failed")
	}
	httpclient.DrainAndClose(resp.Body, 64*1024)
	if resp.StatusCode != http.StatusOK {
		return &APIError{Type: AuthenticationFailed, Message: "authorization failed", Status: resp.StatusCode}
	}
	s.pageViewID = resp.Header.Get("x-ms-gateway-requestid")
	if s.pageViewID == "" {
		return newError(AuthenticationFailed, nil, "authorization failed, page view id missing")
	}
	if err := a.readCookies(s); err != nil {
		return err
	}
	return nil
}

func (a *Authenticator) readCookies(s *loginSession) error {
	base, err := url.Parse(a.endpoints.LoginBase)
	if err != nil {
		return newError(UnknownError, err, "invalid login base URL")
	}
	for _, cookie := range s.client.Jar.Cookies(base) {
		switch cookie.Name {
		case "x-ms-cpim-trans":
			s.trans = cookie.Value
		case "x-ms-cpim-csrf":
			s.csrf = cookie.Value
		}
	}
	if s.trans == "" || s.csrf == "" {
		return newError(AuthenticationFailed, nil, "authorization failed, missing cookies")
	}
	return nil
}

func (s *loginSession) tx() string {
	return "StateProperties=" + s.trans
}

type selfAssertedResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// selfAsserted posts a form to the SelfAsserted endpoint. The identity
// provider answers 200 with a JSON status, so a non-200 status inside the
// body is reported as failType.
func (a *Authenticator) selfAsserted(ctx context.Context, s *loginSession, form url.Values, failType ErrorType) error {
	query := url.Values{"p": {policy}, "tx": {s.tx()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoints.login("SelfAsserted")+"?"+query.Encode(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return newError(UnknownError, err, "creating self asserted request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-csrf-token", s.csrf)
	resp, err := s.client.Do(req)
	if err != nil {
		return newError(NetworkError, err, "self asserted request failed")
	}
	if resp.StatusCode != http.StatusOK {
		httpclient.DrainAndClose(resp.Body, 1024)
		return &APIError{Type: failType, Message: "self asserted request rejected", Status: resp.StatusCode}
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	var body selfAssertedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Status != "" && body.Status != "200" {
		return newError(failType, nil, "%s", body.Message)
	}
	a.logger.Debug("Self asserted request accepted")
	return nil
}

func (a *Authenticator) diags(pageViewID, pageID string) string {
	data, _ := json.Marshal(map[string]interface{}{
		"pageViewId": pageViewID,
		"pageId":     pageID,
		"trace":      map[string]interface{}{},
	})
	return string(data)
}

func (a *Authenticator) combinedSignin(ctx context.Context, s *loginSession) error {
	query := url.Values{
		"rememberMe": {"false"},
		"csrf_token": {s.csrf},
		"tx":         {s.tx()},
		"p":          {policy},
		"diags":      {a.diags(s.pageViewID, "CombinedSigninAndSignup")},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.endpoints.login("api/CombinedSigninAndSignup/confirmed")+"?"+query.Encode(), nil)
	if err != nil {
		return newError(UnknownError, err, "creating combined sign-in request")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	resp, err := s.client.Do(req)
	if err != nil {
		return newError(NetworkError, err, "combined sign-in request failed")
	}
	httpclient.DrainAndClose(resp.Body, 64*1024)
	if resp.StatusCode != http.StatusOK {
		return &APIError{Type: AuthenticationFailed, Message: "combined sign-in confirmation failed", Status: resp.StatusCode}
	}
	pageViewID := resp.Header.Get("x-ms-gateway-requestid")
	if pageViewID == "" {
		return newError(AuthenticationFailed, nil, "new page view id not found in the response headers")
	}
	s.pageViewID = pageViewID
	// The MFA page may rotate the CSRF cookie.
	return a.readCookies(s)
}

func (a *Authenticator) confirmMFA(ctx context.Context, s *loginSession) (string, error) {
	query := url.Values{
		"csrf_token": {s.csrf},
		"tx":         {s.tx()},
		"p":          {policy},
		"diags":      {a.diags(s.pageViewID, "SelfAsserted")},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.endpoints.login("api/SelfAsserted/confirmed")+"?"+query.Encode(), nil)
	if err != nil {
		return "", newError(UnknownError, err, "creating MFA confirmation request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", newError(NetworkError, err, "MFA confirmation request failed")
	}
	httpclient.DrainAndClose(resp.Body, 64*1024)
	location := resp.Header.Get("Location")
	if resp.StatusCode < 300 || resp.StatusCode >= 400 || location == "" {
		return "", &APIError{Type: MFAExpired, Message: "MFA confirmation did not redirect", Status: resp.StatusCode}
	}
	return ParseRedirectURL(location)
}
