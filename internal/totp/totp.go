// Package totp validates time-based one-time-password tokens against a
// base32-encoded shared secret, the Go counterpart of the original server's
// liboath-backed /api/totp endpoint.
package totp

import (
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

// Validate reports whether code is a valid TOTP value for secretBase32 at
// the current time, using a 30-second step and no look-around skew, matching
// the original's oath_totp_validate(..., now, period, 0, 0, token) call.
func Validate(secretBase32, code string, period uint) (bool, error) {
	if secretBase32 == "" {
		return false, fmt.Errorf("totp: empty secret")
	}
	if period == 0 {
		period = 30
	}
	ok, err := totp.ValidateCustom(code, secretBase32, time.Now(), totp.ValidateOpts{
		Period:    period,
		Skew:      0,
		Digits:    6,
		Algorithm: 0, // default SHA1, matching liboath's default
	})
	if err != nil {
		return false, fmt.Errorf("totp: %w", err)
	}
	return ok, nil
}
