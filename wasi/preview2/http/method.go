package http

import (
	"net/http"

	"golang.org/x/net/http/httpguts"

	"github.com/wippyai/wasihost/errors"
)

// MethodKind is the case of the wasi:http method variant.
type MethodKind uint8

const (
	MethodGet MethodKind = iota
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodOptions
	MethodTrace
	MethodPatch
	MethodOther
)

var methodNames = [...]string{
	MethodGet:     http.MethodGet,
	MethodHead:    http.MethodHead,
	MethodPost:    http.MethodPost,
	MethodPut:     http.MethodPut,
	MethodDelete:  http.MethodDelete,
	MethodConnect: http.MethodConnect,
	MethodOptions: http.MethodOptions,
	MethodTrace:   http.MethodTrace,
	MethodPatch:   http.MethodPatch,
}

// Method is a wasi:http method. Other carries the token of MethodOther.
type Method struct {
	Other string
	Kind  MethodKind
}

// MethodFrom converts a wire method. Methods outside the named set become
// MethodOther with the token kept verbatim.
func MethodFrom(m string) Method {
	for kind, name := range methodNames {
		if m == name {
			return Method{Kind: MethodKind(kind)}
		}
	}
	return Method{Kind: MethodOther, Other: m}
}

// HTTP returns the wire method. An Other token that is not a valid HTTP
// token is an error.
func (m Method) HTTP() (string, error) {
	if m.Kind != MethodOther {
		if int(m.Kind) >= len(methodNames) {
			return "", errors.InvalidInput(errors.PhaseHTTP, "unknown method kind")
		}
		return methodNames[m.Kind], nil
	}
	if !validToken(m.Other) {
		return "", errors.InvalidInput(errors.PhaseHTTP, "invalid method "+m.Other)
	}
	return m.Other, nil
}

func (m Method) String() string {
	if s, err := m.HTTP(); err == nil {
		return s
	}
	return m.Other
}

// validToken reports whether s is an RFC 9110 token.
func validToken(s string) bool {
	return httpguts.ValidHeaderFieldName(s)
}

// SchemeKind is the case of the wasi:http scheme variant.
type SchemeKind uint8

const (
	SchemeHTTP SchemeKind = iota
	SchemeHTTPS
	SchemeOther
)

// Scheme is a wasi:http scheme. Other carries the scheme of SchemeOther.
type Scheme struct {
	Other string
	Kind  SchemeKind
}

// SchemeFrom converts a URL scheme.
func SchemeFrom(s string) Scheme {
	switch s {
	case "http":
		return Scheme{Kind: SchemeHTTP}
	case "https":
		return Scheme{Kind: SchemeHTTPS}
	default:
		return Scheme{Kind: SchemeOther, Other: s}
	}
}

func (s Scheme) String() string {
	switch s.Kind {
	case SchemeHTTP:
		return "http"
	case SchemeHTTPS:
		return "https"
	default:
		return s.Other
	}
}

// valid reports whether an Other scheme is syntactically a URI scheme.
func (s Scheme) valid() bool {
	if s.Kind != SchemeOther {
		return true
	}
	if s.Other == "" {
		return false
	}
	for i, c := range s.Other {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
