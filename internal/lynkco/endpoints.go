package lynkco

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	// ClientID is the identity provider client of the mobile app.
	ClientID    = "813902c0-0579-43f3-a767-6601c2f5fdbe"
	RedirectURI = "msauth.com.lynkco.prod.lynkco-app://auth"

	// ManualClientID and ManualRedirectURI are used for the browser based
	// login where the user pastes the final redirect URL back.
	ManualClientID    = "c3e13a0c-8ba7-4ea5-9a21-ecd75830b9e9"
	ManualRedirectURI = "msauth://prod.lynkco.app.crisp.prod/2jmj7l5rSw0yVb%2FvlWAYkK%2FYBwk%3D"

	scopeBase = "https://lynkcoprod.onmicrosoft.com/mobile-app-web-api/mobile"
	policy    = "B2C_1A_signin_mfa"

	appUserAgent     = "LynkCo/3016 CFNetwork/1492.0.1 Darwin/23.3.0"
	browserUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Mobile/15E148 Safari/604.1"
)

var scopes = []string{scopeBase + ".read", scopeBase + ".write", "profile", "offline_access"}

// Endpoints holds every base URL the binding talks to.
type Endpoints struct {
	LoginBase       string
	Token           string
	DeviceLogin     string
	DelegatedDriver string
	VehicleData     string
	VehicleShadow   string
	RemoteControl   string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		LoginBase:       "https://login.lynkco.com/lynkcoprod.onmicrosoft.com/b2c_1a_signin_mfa/",
		Token:           "https://login.lynkco.com/dc6c7c0c-5ba7-414a-a7d1-d62ca1f73d13/b2c_1a_signin_mfa/oauth2/v2.0/token",
		DeviceLogin:     "https://iam-service-prod.westeurope.cloudapp.azure.com/validate-session",
		DelegatedDriver: "https://delegated-driver-tls.aion.connectedcar.cloud",
		VehicleData:     "https://vehicle-data-tls.aion.connectedcar.cloud",
		VehicleShadow:   "https://vehicle-shadow-tls.aion.connectedcar.cloud",
		RemoteControl:   "https://remote-vehicle-status-tls.aion.connectedcar.cloud",
	}
}

func (e Endpoints) login(path string) string {
	return strings.TrimSuffix(e.LoginBase, "/") + "/" + path
}

func (e Endpoints) drivers(vin string) string {
	return strings.TrimSuffix(e.DelegatedDriver, "/") +
		"/delegated-driver/api/delegateddriver/v1/vehicle/" + url.PathEscape(vin) + "/drivers"
}

func (e Endpoints) record(vin, userID string) string {
	return strings.TrimSuffix(e.VehicleData, "/") +
		"/remote-vehicle-data/v1/vehicles/" + url.PathEscape(vin) + "/record?userId=" + url.QueryEscape(userID)
}

func (e Endpoints) shadow(vin string) string {
	return strings.TrimSuffix(e.VehicleShadow, "/") + "/vehicle-shadow/v1/vehicles/" + url.PathEscape(vin) + "/shadow"
}

func (e Endpoints) remoteControl(vin string) string {
	return strings.TrimSuffix(e.RemoteControl, "/") + "/remote-control/vehicle/telematics/" + url.PathEscape(vin)
}

// oauthConfig describes the authorization server for one client/redirect pair.
func (e Endpoints) oauthConfig(clientID, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   e.login("oauth2/v2.0/authorize"),
			TokenURL:  e.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      scopes,
	}
}

// ManualLoginURL is the authorize URL a user opens in a browser to log in
// (including MFA) when no interactive login is possible.
func (e Endpoints) ManualLoginURL(pkce PKCE) string {
	return e.oauthConfig(ManualClientID, ManualRedirectURI).AuthCodeURL("", oauth2.S256ChallengeOption(pkce.Verifier))
}

// redirectFor returns the redirect URI registered for clientID.
func redirectFor(clientID string) string {
	if clientID == ManualClientID {
		return ManualRedirectURI
	}
	return RedirectURI
}
