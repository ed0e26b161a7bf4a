package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CPP_PORT", "CPP_POOL_SIZE", "CPP_HTTP_LOG", "CPP_LOGIN_LOG",
		"CPP_JWT_EXP", "CPP_JWT_SECRET", "CPP_ENABLE_AUDIT", "CPP_ALLOW_ORIGINS",
		"CPP_ACCEPT_BURST", "CPP_MAX_PAYLOAD", "AUDITDB", "LOGINDB",
	} {
		os.Unsetenv(name)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultPort, s.Port)
	require.Equal(t, defaultPoolSize, s.PoolSize)
	require.False(t, s.HTTPLog)
	require.False(t, s.LoginLog)
	require.Equal(t, defaultJWTExpSecs, s.JWTExpiration)
	require.Empty(t, s.JWTSecret)
	require.False(t, s.EnableAudit)
	require.Empty(t, s.AllowOrigins)
	require.Equal(t, defaultMaxPayload, s.MaxPayload)
}

func TestLoadMaxPayloadOverride(t *testing.T) {
	clearEnv(t)
	os.Setenv("CPP_MAX_PAYLOAD", "4096")
	defer os.Unsetenv("CPP_MAX_PAYLOAD")
	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4096, s.MaxPayload)
}

func TestLoadLenientNumericFallback(t *testing.T) {
	clearEnv(t)
	os.Setenv("CPP_PORT", "not-a-number")
	defer os.Unsetenv("CPP_PORT")
	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultPort, s.Port)
}

func TestLoadAllowOrigins(t *testing.T) {
	clearEnv(t)
	os.Setenv("CPP_ALLOW_ORIGINS", "https://a.test, https://b.test")
	defer os.Unsetenv("CPP_ALLOW_ORIGINS")
	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test", "https://b.test"}, s.AllowOrigins)
}

func TestLoadDatabases(t *testing.T) {
	clearEnv(t)
	os.Setenv("AUDITDB", "postgres://audit")
	defer os.Unsetenv("AUDITDB")
	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://audit", s.Databases["AUDITDB"])
	require.NotContains(t, s.Databases, "LOGINDB")
}

func TestLoadEncryptedValueMissingKeyErrors(t *testing.T) {
	clearEnv(t)
	os.Setenv("AUDITDB", "secret.enc")
	defer os.Unsetenv("AUDITDB")
	_, err := Load()
	require.Error(t, err)
}
