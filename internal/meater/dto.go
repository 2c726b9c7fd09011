package meater

import (
	"time"

	"github.com/guregu/null"
)

type response struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	response
	Data struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	} `json:"data"`
}

type devicesResponse struct {
	response
	Data struct {
		Devices []Device `json:"devices"`
	} `json:"data"`
}

// Device is one MEATER probe as reported by the cloud.
type Device struct {
	ID          string      `json:"id"`
	Temperature Temperature `json:"temperature"`
	Cook        *Cook       `json:"cook"`
	UpdatedAt   null.Int    `json:"updated_at"`
}

type Temperature struct {
	Internal null.Float `json:"internal"`
	Ambient  null.Float `json:"ambient"`
}

type Cook struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	State       string          `json:"state"`
	Temperature CookTemperature `json:"temperature"`
	Time        CookTime        `json:"time"`
}

type CookTemperature struct {
	Target null.Float `json:"target"`
	Peak   null.Float `json:"peak"`
}

// CookTime is in seconds. Remaining is -1 while the probe is still estimating.
type CookTime struct {
	Elapsed   null.Int `json:"elapsed"`
	Remaining null.Int `json:"remaining"`
}

// LastConnection is the time the probe last reported, if known.
func (d Device) LastConnection() (time.Time, bool) {
	if !d.UpdatedAt.Valid || d.UpdatedAt.Int64 <= 0 {
		return time.Time{}, false
	}
	return time.Unix(d.UpdatedAt.Int64, 0), true
}
