// Package apierr classifies service errors and renders them as HTTP responses.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

type Kind uint8

const (
	Internal Kind = iota
	BadRequest
	Validation
	Database
	Cache
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case Validation:
		return "query_validation"
	case Database:
		return "database"
	case Cache:
		return "cache"
	default:
		return "internal"
	}
}

// Status maps the kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case BadRequest, Validation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind, a caller-safe message and the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + ": " + e.Msg
	}
	return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Public is the message shown to clients. Server-side kinds never expose the cause.
func (e *Error) Public() string {
	switch e.Kind {
	case BadRequest, Validation:
		return e.Msg
	case Database:
		return "Database error"
	case Cache:
		return "Cache error"
	default:
		return "Internal server error"
	}
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

// As extracts an *Error, treating anything else as Internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Internal, Msg: "unexpected error", Err: err}
}

type body struct {
	Error string `json:"error"`
}

// Write renders err as {"error": "..."} with the mapped status.
func Write(w http.ResponseWriter, err error) {
	e := As(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Kind.Status())
	_ = json.NewEncoder(w).Encode(body{Error: e.Public()})
}
