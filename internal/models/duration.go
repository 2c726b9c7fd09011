package models

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// Duration wraps time.Duration so config files can use "5m" style values.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value) * time.Second
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", value)
		}
		return nil
	default:
		return errors.Newf("invalid duration type %T", v)
	}
}

// OrDefault returns fallback when the duration was not configured.
func (d Duration) OrDefault(fallback time.Duration) time.Duration {
	if d.Duration <= 0 {
		return fallback
	}
	return d.Duration
}
