package verisure

import (
	"regexp"
	"strconv"
	"strings"
)

type graphQLRequest struct {
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
	Query         string                 `json:"query"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type installationsResponse struct {
	Data struct {
		Account struct {
			Installations []Installation `json:"installations"`
		} `json:"account"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type Installation struct {
	GIID  string `json:"giid"`
	Alias string `json:"alias"`
}

type userTrackingsResponse struct {
	Data struct {
		Installation struct {
			UserTrackings []UserTracking `json:"userTrackings"`
		} `json:"installation"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type UserTracking struct {
	IsCallingUser            bool   `json:"isCallingUser"`
	WebAccount               string `json:"webAccount"`
	Status                   string `json:"status"`
	XbnContactID             string `json:"xbnContactId"`
	CurrentLocationName      string `json:"currentLocationName"`
	DeviceID                 string `json:"deviceId"`
	Name                     string `json:"name"`
	CurrentLocationTimestamp string `json:"currentLocationTimestamp"`
	DeviceName               string `json:"deviceName"`
	CurrentLocationID        string `json:"currentLocationId"`
}

// UserPresence is the tracking state of one user at one installation.
type UserPresence struct {
	SiteID   int64
	SiteName string
	Tracking UserTracking
}

// DeviceID identifies the presence by web account and installation.
func (p *UserPresence) DeviceID() string {
	return NormalizeDeviceID(p.Tracking.WebAccount + strconv.FormatInt(p.SiteID, 10))
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// NormalizeDeviceID strips everything but letters and digits and lower cases
// the rest, so ids compare case-insensitively.
func NormalizeDeviceID(id string) string {
	return strings.ToLower(nonAlphanumeric.ReplaceAllString(id, ""))
}
