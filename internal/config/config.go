// Package config reads the server's environment-variable configuration
// into a single read-once immutable snapshot.
package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Snapshot is the immutable configuration record read once at startup.
// Nothing in the server mutates it after Load returns.
type Snapshot struct {
	Port          int
	PoolSize      int
	HTTPLog       bool
	LoginLog      bool
	JWTExpiration int
	JWTSecret     string
	EnableAudit   bool
	AllowOrigins  []string
	AcceptBurst   int // 0 means unlimited
	MaxPayload    int // bytes; request bodies larger than this get 413

	// Databases maps a logical database name (e.g. "AUDITDB", "LOGINDB") to
	// its connection string, decrypted already if it was stored in a .enc file.
	Databases map[string]string
}

const (
	defaultPort        = 8080
	defaultPoolSize    = 4
	defaultJWTExpSecs  = 600
	defaultMaxPayload  = 8 * 1024 * 1024
	privateKeyFileName = "private.pem"
)

// knownDatabases lists the env var names treated as per-database connection
// strings: the ones the built-in endpoints rely on. Load reads only these
// names; no other environment variable becomes a database entry.
var knownDatabases = []string{"AUDITDB", "LOGINDB"}

// Load reads the CPP_* environment variables (optionally preloaded from a
// .env file in the working directory, values already in the process
// environment always win) and returns the frozen Snapshot.
func Load() (Snapshot, error) {
	_ = godotenv.Load() // best effort; absence of .env is not an error

	s := Snapshot{
		Port:          readInt("CPP_PORT", defaultPort),
		PoolSize:      readInt("CPP_POOL_SIZE", defaultPoolSize),
		HTTPLog:       readBool("CPP_HTTP_LOG"),
		LoginLog:      readBool("CPP_LOGIN_LOG"),
		JWTExpiration: readInt("CPP_JWT_EXP", defaultJWTExpSecs),
		EnableAudit:   readBool("CPP_ENABLE_AUDIT"),
		AcceptBurst:   readInt("CPP_ACCEPT_BURST", 0),
		MaxPayload:    readInt("CPP_MAX_PAYLOAD", defaultMaxPayload),
		Databases:     make(map[string]string),
	}

	jwtSecret, err := readStr("CPP_JWT_SECRET")
	if err != nil {
		return Snapshot{}, fmt.Errorf("config: CPP_JWT_SECRET: %w", err)
	}
	s.JWTSecret = jwtSecret

	if origins := os.Getenv("CPP_ALLOW_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				s.AllowOrigins = append(s.AllowOrigins, o)
			}
		}
	}

	for _, name := range knownDatabases {
		if _, present := os.LookupEnv(name); !present {
			continue
		}
		val, err := readStr(name)
		if err != nil {
			return Snapshot{}, fmt.Errorf("config: %s: %w", name, err)
		}
		s.Databases[name] = val
	}

	return s, nil
}

// readInt parses a numeric env var with lenient fallback to def on any
// error, mirroring the original server's std::from_chars-based reader.
func readInt(name string, def int) int {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func readBool(name string) bool {
	return readInt(name, 0) != 0
}

// readStr returns the value of name, transparently decrypting it first if
// the value names a ".enc" file (an RSA-encrypted blob next to the binary,
// decrypted using a local private.pem).
func readStr(name string) (string, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return "", nil
	}
	if !strings.HasSuffix(raw, ".enc") {
		return raw, nil
	}
	return decryptFile(raw)
}

// decryptFile decrypts an RSA-OAEP encrypted file using the private key
// stored in private.pem in the current directory.
func decryptFile(path string) (string, error) {
	keyPEM, err := os.ReadFile(privateKeyFileName)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", privateKeyFileName, err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return "", fmt.Errorf("%s: not a PEM file", privateKeyFileName)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		key2, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return "", fmt.Errorf("parsing private key: %w", err)
		}
		rsaKey, ok := key2.(*rsa.PrivateKey)
		if !ok {
			return "", fmt.Errorf("private key is not RSA")
		}
		key = rsaKey
	}

	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", path, err)
	}
	return string(plaintext), nil
}
