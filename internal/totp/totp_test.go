package totp

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func TestValidateAcceptsCurrentCode(t *testing.T) {
	code, err := totp.GenerateCodeCustom(testSecret, time.Now(), totp.ValidateOpts{
		Period: 30,
		Skew:   0,
		Digits: 6,
	})
	require.NoError(t, err)

	ok, err := Validate(testSecret, code, 30)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidateRejectsWrongCode(t *testing.T) {
	ok, err := Validate(testSecret, "000000", 30)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateRejectsEmptySecret(t *testing.T) {
	_, err := Validate("", "123456", 30)
	require.Error(t, err)
}

func TestValidateDefaultsPeriodToThirty(t *testing.T) {
	code, err := totp.GenerateCodeCustom(testSecret, time.Now(), totp.ValidateOpts{
		Period: 30,
		Digits: 6,
	})
	require.NoError(t, err)

	ok, err := Validate(testSecret, code, 0)
	require.NoError(t, err)
	require.True(t, ok)
}
