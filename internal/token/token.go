// Package token implements the compact, HMAC-signed bearer tokens described
// in spec.md §4.6: base64url(header) "." base64url(payload) "." base64url(hmac).
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// UserInfo is the identity carried inside a validated token.
type UserInfo struct {
	SessionID string
	Login     string
	Mail      string
	Roles     string // CSV, matching the original wire format
	Expiry    int64  // absolute unix seconds
}

// HasRole reports whether any entry of roles appears in the CSV
// UserInfo.Roles. An empty roles list always matches.
func (u UserInfo) HasRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	mine := strings.Split(u.Roles, ",")
	for _, want := range roles {
		for _, have := range mine {
			if strings.TrimSpace(have) == strings.TrimSpace(want) {
				return true
			}
		}
	}
	return false
}

const header = `{"alg":"HS256","typ":"JWT"}`

type payload struct {
	SID   string `json:"sid"`
	Login string `json:"login"`
	Mail  string `json:"mail"`
	Roles string `json:"roles"`
	Exp   int64  `json:"exp"`
}

// Service issues and validates tokens against one HMAC secret and TTL.
// An empty secret is a fatal misconfiguration; callers are expected to have
// logged it at startup (spec.md §6 lists CPP_JWT_SECRET as fatal-if-empty).
type Service struct {
	secret     string
	expiration time.Duration
	now        func() time.Time
}

// NewService builds a token Service. expirationSeconds is the TTL applied to
// every issued token (spec.md CPP_JWT_EXP).
func NewService(secret string, expirationSeconds int) *Service {
	return &Service{
		secret:     secret,
		expiration: time.Duration(expirationSeconds) * time.Second,
		now:        time.Now,
	}
}

// Issue builds a signed token for the given session.
func (s *Service) Issue(sessionID, login, mail, roles string) (string, error) {
	exp := s.now().Add(s.expiration).Unix()
	p := payload{SID: sessionID, Login: login, Mail: mail, Roles: roles, Exp: exp}
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	buf := encode(header) + "." + encode(string(body))
	return buf + "." + s.sign(buf), nil
}

// Validate checks the signature and expiry (strict less-than per spec.md
// §8's "exp == now -> rejected"). Any mismatch or expiry yields ok=false
// with no partial UserInfo, matching the original's "invalid with no
// partial info" contract.
func (s *Service) Validate(tok string) (UserInfo, bool) {
	parts := strings.SplitN(tok, ".", 3)
	if len(parts) != 3 {
		return UserInfo{}, false
	}
	headerPart, payloadPart, sigPart := parts[0], parts[1], parts[2]
	expected := s.sign(headerPart + "." + payloadPart)
	if subtle.ConstantTimeCompare([]byte(sigPart), []byte(expected)) != 1 {
		return UserInfo{}, false
	}
	rawPayload, err := decode(payloadPart)
	if err != nil {
		return UserInfo{}, false
	}
	var p payload
	if err := json.Unmarshal([]byte(rawPayload), &p); err != nil {
		return UserInfo{}, false
	}
	if s.now().Unix() >= p.Exp {
		return UserInfo{}, false
	}
	return UserInfo{
		SessionID: p.SID,
		Login:     p.Login,
		Mail:      p.Mail,
		Roles:     p.Roles,
		Expiry:    p.Exp,
	}, true
}

func (s *Service) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(encode(message)))
	return encode(string(mac.Sum(nil)))
}

func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decode(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", errors.New("token: invalid base64url segment: " + strconv.Itoa(len(s)) + " bytes")
	}
	return string(b), nil
}
