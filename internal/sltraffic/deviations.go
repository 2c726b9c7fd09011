package sltraffic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
)

const DefaultDeviationsURL = "https://api.sl.se/api2/deviations.json"

// Deviations is the deviations.json response. Message is only set when the
// request was rejected, for example because of an invalid key.
type Deviations struct {
	StatusCode    int             `json:"StatusCode"`
	Message       json.RawMessage `json:"Message"`
	ExecutionTime int             `json:"ExecutionTime"`
	ResponseData  []Deviation     `json:"ResponseData"`
}

type Deviation struct {
	Created                 string `json:"Created"`
	MainNews                bool   `json:"MainNews"`
	SortOrder               int    `json:"SortOrder"`
	Header                  string `json:"Header"`
	Details                 string `json:"Details"`
	Scope                   string `json:"Scope"`
	ScopeElements           string `json:"ScopeElements"`
	DevMessageVersionNumber int    `json:"DevMessageVersionNumber"`
	FromDateTime            string `json:"FromDateTime"`
	UpToDateTime            string `json:"UpToDateTime"`
	Updated                 string `json:"Updated"`
}

// HasMessage reports whether the response carries an error message.
func (d Deviations) HasMessage() bool {
	message := strings.TrimSpace(string(d.Message))
	return message != "" && message != "null"
}

// Text renders every deviation as "För <scope> gäller <header>. ".
func (d Deviations) Text() string {
	var b strings.Builder
	for _, deviation := range d.ResponseData {
		b.WriteString("För ")
		b.WriteString(deviation.Scope)
		b.WriteString(" gäller ")
		b.WriteString(deviation.Header)
		b.WriteString(". ")
	}
	return b.String()
}

func fetchDeviations(ctx context.Context, client *http.Client, baseURL, key, lineNumbers string) (Deviations, error) {
	var out Deviations
	query := url.Values{"key": {key}, "lineNumber": {lineNumbers}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return out, errors.Wrap(err, "creating deviations request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return out, errors.Wrap(err, "deviations request failed")
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	if resp.StatusCode != http.StatusOK {
		return out, errors.Newf("deviations returned %d: %s", resp.StatusCode, httpclient.ReadErrorBody(resp.Body, 512))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, errors.Wrap(err, "decoding deviations")
	}
	return out, nil
}
