// Package http provides the JSON API server and its handlers.
//
// This file implements request decoding: bounded JSON bodies, amounts that
// arrive as numbers or strings, and typed query parameters.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"moneybook/internal/core"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// errBadBody is returned for bodies that cannot be decoded.
var errBadBody = core.Invalid("body", core.ReasonInvalid)

// Decimal is a JSON amount that clients send either as a number (10.5) or
// as a string ("10.50"). It keeps the text so the services parse it
// without float rounding.
type Decimal string

func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Decimal(s)
	default:
		// Non-numeric literals are kept verbatim and fail amount parsing.
		*d = Decimal(data)
	}
	return nil
}

// String returns the decimal text.
func (d Decimal) String() string {
	return string(d)
}

// Ptr converts an optional decimal into an optional string.
func (d *Decimal) Ptr() *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}

// DecodeJSON reads a JSON object from r into dst. An empty body leaves dst
// untouched. Values of the wrong JSON type are reported as invalid for
// that field, everything else as a malformed body.
func DecodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		return errBadBody
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return core.Invalid(typeErr.Field, core.ReasonInvalid)
		}
		var dateErr *dateFieldError
		if errors.As(err, &dateErr) {
			return core.Invalid(dateErr.field, core.ReasonInvalid)
		}
		return errBadBody
	}
	return nil
}

// Date is a request date whose parse failure is reported as date.invalid.
type Date struct {
	core.Date
}

type dateFieldError struct {
	field string
	err   error
}

func (e *dateFieldError) Error() string { return e.field + ": " + e.err.Error() }

// UnmarshalJSON parses YYYY-MM-DD or RFC 3339 text.
func (d *Date) UnmarshalJSON(data []byte) error {
	if err := d.Date.UnmarshalJSON(data); err != nil {
		return &dateFieldError{field: "date", err: err}
	}
	return nil
}

// Ptr converts an optional request date into an optional core date.
func (d *Date) Ptr() *core.Date {
	if d == nil {
		return nil
	}
	v := d.Date
	return &v
}

// QueryInt parses an optional integer parameter. Missing means 0.
func QueryInt(query url.Values, key string) (int, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Invalid(key, core.ReasonInvalid)
	}
	return n, nil
}

// QueryDate parses an optional YYYY-MM-DD parameter. Missing means the zero
// date.
func QueryDate(query url.Values, key string) (core.Date, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return core.Date{}, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, core.Invalid(key, core.ReasonInvalid)
	}
	return d, nil
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
