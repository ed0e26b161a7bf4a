package apiserver

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cppservergit/apiserver-odbc/internal/httpx"
	"github.com/cppservergit/apiserver-odbc/internal/totp"
	"github.com/cppservergit/apiserver-odbc/internal/webapi"
)

// loginLookupSQL is the stored-procedure-style lookup every built-in WebAPI
// follows: a single call whose result row carries the fields needed to
// issue a token. loginHandler substitutes $username / $password with
// httpx.GetSQL before execution; the lookup itself is the external
// collaborator (spec.md §1's "endpoint business logic... out of scope"),
// so this issues a minimal, concrete lookup against LOGINDB.
const loginLookupSQL = `select login, mail, roles from api.fn_login('$username', '$password')`

// loginHandler authenticates against LOGINDB and issues a signed token.
// Login itself is external-collaborator business logic per spec.md §1; the
// only in-scope behavior here is building the response envelope and
// calling into the token service, which is why this stays a thin adapter
// rather than real credential logic.
func (s *Server) loginHandler(ctx context.Context, req webapi.Request) (string, error) {
	httpReq, ok := req.(*httpx.Request)
	if !ok {
		return "", fmt.Errorf("login: unexpected request type")
	}

	sql, _ := httpx.GetSQL(loginLookupSQL, httpReq)
	record, err := s.store.GetRecord(ctx, "LOGINDB", sql)
	if err != nil {
		return "", fmt.Errorf("login: lookup failed: %w", err)
	}
	if record == nil || record["login"] == "" {
		return "", &httpx.LoginRequiredError{}
	}

	sessionID := uuid.NewString()
	tok, err := s.tokens.Issue(sessionID, record["login"], record["mail"], record["roles"])
	if err != nil {
		return "", fmt.Errorf("login: issuing token: %w", err)
	}

	if s.cfg.LoginLog {
		s.log.InfoR("security", "login success for "+record["login"], httpReq.XRequestID)
	}

	return fmt.Sprintf(`{"status":"OK","data":[{"token":"%s","login":"%s"}]}`,
		httpx.JSONEscape(tok), httpx.JSONEscape(record["login"])), nil
}

// totpHandler validates a TOTP code against a caller-supplied base32
// secret (spec.md §4.7's /api/totp built-in).
func (s *Server) totpHandler(ctx context.Context, req webapi.Request) (string, error) {
	secret, _ := req.Param("secret")
	code, _ := req.Param("token")

	ok, err := totp.Validate(secret, code, 30)
	if err != nil {
		return "", fmt.Errorf("totp: %w", err)
	}
	if !ok {
		return `{"status":"INVALID","validation":{"id":"token","description":"invalid code"}}`, nil
	}
	return `{"status":"OK","data":[{"valid":true}]}`, nil
}
