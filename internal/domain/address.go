// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxAddressLen = 128

var (
	ErrAddressEmpty   = errors.New("address empty")
	ErrAddressTooLong = errors.New("address too long")
	ErrAddressInvalid = errors.New("address contains whitespace or control characters")
)

// Address is the opaque, client-chosen identifier a peer registers under.
type Address string

// ParseAddress validates raw and returns it as an Address.
func ParseAddress(raw string) (Address, error) {
	if len(raw) == 0 {
		return "", ErrAddressEmpty
	}
	if len(raw) > MaxAddressLen {
		return "", ErrAddressTooLong
	}
	if strings.IndexFunc(raw, func(r rune) bool { return r <= ' ' || r == 0x7f }) >= 0 {
		return "", ErrAddressInvalid
	}
	return Address(raw), nil
}

func (a Address) String() string { return string(a) }
