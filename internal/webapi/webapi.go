// Package webapi holds the declarative endpoint catalog: the (path, verb,
// rules, roles, handler, secure) descriptors registered at startup and
// matched against every incoming request. The catalog is built
// single-threaded before the reactor starts and is read-only thereafter.
package webapi

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Verb is an allowed HTTP method for a WebAPI endpoint.
type Verb string

const (
	GET     Verb = "GET"
	POST    Verb = "POST"
	OPTIONS Verb = "OPTIONS"
)

// DataType constrains an input parameter's accepted shape.
type DataType int

const (
	Integer DataType = iota
	Double
	String
	Date
)

// InputRule is a declarative constraint on one request parameter.
type InputRule struct {
	Name     string
	Type     DataType
	Required bool
}

// Request is the minimal view of an in-flight request a handler needs.
// internal/httpx.Request satisfies this via its exported accessors.
type Request interface {
	Param(name string) (string, bool)
	Login() string
	Body() []byte
	IsMultipart() bool
}

// Handler is endpoint business logic: given the parsed, validated request,
// produce a JSON body to send back with 200 OK, or an error.
type Handler func(ctx context.Context, req Request) (string, error)

// Descriptor is immutable after registration.
type Descriptor struct {
	Path        string
	Description string
	Verb        Verb
	Rules       []InputRule
	Roles       []string
	Handler     Handler
	Secure      bool
}

var pathPattern = regexp.MustCompile(`^[a-z0-9_\-/]+$`)

// ValidatePath enforces spec's registration-time path rules: must start
// with '/', must not end with '/', must not contain whitespace, and must
// use only [a-z0-9_-/].
func ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("webapi: path %q must start with /", path)
	}
	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("webapi: path %q must not end with /", path)
	}
	if strings.ContainsAny(path, " \t\n\r\v\f") {
		return fmt.Errorf("webapi: path %q must not contain whitespace", path)
	}
	if !pathPattern.MatchString(path) {
		return fmt.Errorf("webapi: path %q contains disallowed characters", path)
	}
	return nil
}
