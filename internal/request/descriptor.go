// Package request builds immutable descriptors for every backend
// capability. Builders are pure: they validate their typed parameters and
// return a Descriptor, never performing I/O or consulting shared state, so
// they are safe for unbounded concurrent use. The decision between
// identified and unidentified auth belongs to the caller; an optional
// access key parameter selects it.
package request

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/kestrelchat/kestrel/internal/crypto"
)

// ErrInvalidInput reports malformed caller-supplied parameters. The caller
// must correct the input before retrying; the error never reflects network
// or auth state.
var ErrInvalidInput = errors.New("request: invalid input")

type authKind int

const (
	authNone authKind = iota
	authIdentified
	authUnidentified
)

// AuthMode tags a descriptor with how the transport must authenticate it:
// not at all, with the account's identified credential, or anonymously with
// a derived access key.
type AuthMode struct {
	kind      authKind
	accessKey crypto.AccessKey
}

// AuthNone marks a request that carries no credential.
func AuthNone() AuthMode {
	return AuthMode{kind: authNone}
}

// AuthIdentified marks a request authenticated with the caller's identified
// credential. The credential itself is attached by the transport layer.
func AuthIdentified() AuthMode {
	return AuthMode{kind: authIdentified}
}

// AuthUnidentified marks a sender-anonymous request carrying the given
// access key. Identified auth is omitted entirely.
func AuthUnidentified(key crypto.AccessKey) AuthMode {
	return AuthMode{kind: authUnidentified, accessKey: key}
}

// IsNone reports whether the request carries no credential.
func (m AuthMode) IsNone() bool { return m.kind == authNone }

// IsIdentified reports whether the request uses identified auth.
func (m AuthMode) IsIdentified() bool { return m.kind == authIdentified }

// IsUnidentified reports whether the request is sender-anonymous.
func (m AuthMode) IsUnidentified() bool { return m.kind == authUnidentified }

// AccessKey returns the attached access key for unidentified requests.
func (m AuthMode) AccessKey() (crypto.AccessKey, bool) {
	if m.kind != authUnidentified {
		return crypto.AccessKey{}, false
	}
	return m.accessKey, true
}

func (m AuthMode) String() string {
	switch m.kind {
	case authIdentified:
		return "identified"
	case authUnidentified:
		return "unidentified"
	default:
		return "none"
	}
}

// Descriptor is the sole artifact handed to the transport layer: one fully
// described backend HTTP operation. Treat values as immutable once built.
type Descriptor struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    []byte
	Auth    AuthMode
}

// URL renders the path with encoded query parameters.
func (d Descriptor) URL() string {
	if len(d.Query) == 0 {
		return d.Path
	}
	return d.Path + "?" + d.Query.Encode()
}

// optionalAuth selects unidentified auth when an access key is supplied and
// falls back to identified auth otherwise. This is the single branch that
// keeps "who sees this request anonymously" a caller decision.
func optionalAuth(accessKey *crypto.AccessKey) AuthMode {
	if accessKey != nil {
		return AuthUnidentified(*accessKey)
	}
	return AuthIdentified()
}
