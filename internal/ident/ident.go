// Package ident defines the stable identity values used across the client
// backend: service identifiers, addresses, group identifiers, and the
// identity scope (ACI vs PNI) of key material.
package ident

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidServiceID = errors.New("invalid service id")
	ErrInvalidGroupID   = errors.New("invalid group id")
)

// GroupIDLength is the byte length of a group identifier.
const GroupIDLength = 32

// ServiceID is the opaque, stable account identifier of a participant.
// It is immutable once issued by the service.
type ServiceID uuid.UUID

// ParseServiceID parses the canonical string form of a service id.
func ParseServiceID(s string) (ServiceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ServiceID{}, fmt.Errorf("%w: %v", ErrInvalidServiceID, err)
	}
	return ServiceID(id), nil
}

// NewServiceID returns a freshly generated service id. The service normally
// issues these; local generation is used by registration and tests.
func NewServiceID() ServiceID {
	return ServiceID(uuid.New())
}

func (s ServiceID) String() string {
	return uuid.UUID(s).String()
}

// IsZero reports whether the id is the zero value (never issued).
func (s ServiceID) IsZero() bool {
	return s == ServiceID{}
}

// IdentityType scopes key material to the account identity (ACI) or the
// phone-number identity (PNI).
type IdentityType int

const (
	IdentityACI IdentityType = iota
	IdentityPNI
)

func (t IdentityType) String() string {
	switch t {
	case IdentityACI:
		return "aci"
	case IdentityPNI:
		return "pni"
	default:
		return fmt.Sprintf("identity(%d)", int(t))
	}
}

// Valid reports whether t is a known identity scope.
func (t IdentityType) Valid() bool {
	return t == IdentityACI || t == IdentityPNI
}

// Address identifies a remote participant: a service id plus the optional
// E.164 phone number it was last known under.
type Address struct {
	ServiceID ServiceID
	E164      string
}

// NewAddress builds an address from a service id.
func NewAddress(id ServiceID) Address {
	return Address{ServiceID: id}
}

// IsValid reports whether the address carries a usable identifier.
func (a Address) IsValid() bool {
	return !a.ServiceID.IsZero()
}

func (a Address) String() string {
	if a.E164 != "" {
		return fmt.Sprintf("%s (%s)", a.ServiceID, a.E164)
	}
	return a.ServiceID.String()
}

// Equal reports whether two addresses refer to the same account.
func (a Address) Equal(other Address) bool {
	return a.ServiceID == other.ServiceID
}

// GroupID is the opaque identifier of a group.
type GroupID [GroupIDLength]byte

// GroupIDFromBytes validates and copies raw group id bytes.
func GroupIDFromBytes(b []byte) (GroupID, error) {
	if len(b) != GroupIDLength {
		return GroupID{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidGroupID, len(b), GroupIDLength)
	}
	var id GroupID
	copy(id[:], b)
	return id, nil
}

// ParseGroupID parses the hex string form of a group id.
func ParseGroupID(s string) (GroupID, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return GroupID{}, fmt.Errorf("%w: %v", ErrInvalidGroupID, err)
	}
	return GroupIDFromBytes(raw)
}

func (g GroupID) String() string {
	return hex.EncodeToString(g[:])
}

// IsZero reports whether the group id is all zero bytes.
func (g GroupID) IsZero() bool {
	return g == GroupID{}
}
