// Copyright 2024-2026 Aiku AI

// Package phone converts between raw phone numbers, canonical digit-only
// identifiers and the messaging network's chat addresses.
package phone

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// PrivateSuffix marks a one-to-one chat address.
	PrivateSuffix = "@c.us"
	// GroupSuffix marks a group chat address.
	GroupSuffix = "@g.us"

	DefaultCountryCode  = "54"
	DefaultMobileMarker = "9"
)

// ErrInvalidFormat is returned by Parse when a number does not match the
// regional pattern.
var ErrInvalidFormat = errors.New("invalid phone number format")

// ChatKind classifies a network address.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
	ChatUnknown ChatKind = "unknown"
)

var nonDigits = regexp.MustCompile(`\D`)

// Normalizer holds the regional numbering rules. The zero value is not
// usable; create one with New.
type Normalizer struct {
	countryCode  string
	mobileMarker string
	pattern      *regexp.Regexp
}

// New returns a Normalizer for the given country prefix and mobile marker
// digit. Empty arguments fall back to the Argentine defaults.
func New(countryCode, mobileMarker string) (*Normalizer, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if mobileMarker == "" {
		mobileMarker = DefaultMobileMarker
	}
	if nonDigits.MatchString(countryCode) {
		return nil, fmt.Errorf("country code %q must be digits only", countryCode)
	}
	if len(mobileMarker) != 1 || nonDigits.MatchString(mobileMarker) {
		return nil, fmt.Errorf("mobile marker %q must be a single digit", mobileMarker)
	}
	pattern, err := regexp.Compile(fmt.Sprintf(`^(?:%s)?(?:%s)?\d{8,10}$`,
		regexp.QuoteMeta(countryCode), regexp.QuoteMeta(mobileMarker)))
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		countryCode:  countryCode,
		mobileMarker: mobileMarker,
		pattern:      pattern,
	}, nil
}

// MustNew is New that panics on bad arguments.
func MustNew(countryCode, mobileMarker string) *Normalizer {
	n, err := New(countryCode, mobileMarker)
	if err != nil {
		panic(err)
	}
	return n
}

// CountryCode returns the configured country prefix.
func (n *Normalizer) CountryCode() string {
	return n.countryCode
}

// Digits strips everything that is not an ASCII digit.
func Digits(raw string) string {
	return nonDigits.ReplaceAllString(raw, "")
}

// Normalize reduces raw to its canonical identifier. It never fails:
// shapes that match no rewrite rule are returned digit-stripped but
// otherwise untouched, so callers that need a guarantee must use IsValid
// or Parse.
//
// Rewrite table for numbers lacking the country prefix:
//
//	8 digits                      -> CC + marker + digits
//	9-10 digits, leading marker   -> CC + digits
//	9-10 digits, no marker        -> CC + marker + digits
//	11 digits, leading marker     -> CC + digits
func (n *Normalizer) Normalize(raw string) string {
	digits := Digits(raw)
	if digits == "" || strings.HasPrefix(digits, n.countryCode) {
		return digits
	}
	hasMarker := strings.HasPrefix(digits, n.mobileMarker)
	switch l := len(digits); {
	case l == 8:
		return n.countryCode + n.mobileMarker + digits
	case (l == 9 || l == 10) && hasMarker:
		return n.countryCode + digits
	case l == 9 || l == 10:
		return n.countryCode + n.mobileMarker + digits
	case l == 11 && hasMarker:
		return n.countryCode + digits
	default:
		return digits
	}
}

// IsValid reports whether the digit-stripped form of raw matches the
// regional pattern.
func (n *Normalizer) IsValid(raw string) bool {
	digits := Digits(raw)
	if digits == "" {
		return false
	}
	return n.pattern.MatchString(digits)
}

// Parse is the strict counterpart of Normalize.
func (n *Normalizer) Parse(raw string) (string, error) {
	if !n.IsValid(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	return n.Normalize(raw), nil
}

// ToNetworkForm returns the private chat address for raw. Addresses that
// already carry the group suffix are returned unchanged.
func (n *Normalizer) ToNetworkForm(raw string) string {
	if strings.HasSuffix(raw, GroupSuffix) {
		return raw
	}
	return n.Normalize(strings.TrimSuffix(raw, PrivateSuffix)) + PrivateSuffix
}

// FromNetworkForm strips either address suffix and makes sure the result
// carries the country prefix. Malformed input is returned as-is after the
// suffix is removed.
func (n *Normalizer) FromNetworkForm(address string) string {
	id := strings.TrimSuffix(strings.TrimSuffix(address, PrivateSuffix), GroupSuffix)
	if id == "" || Digits(id) != id || strings.HasPrefix(id, n.countryCode) {
		return id
	}
	return n.countryCode + id
}

// Kind classifies an address by its suffix.
func Kind(address string) ChatKind {
	switch {
	case strings.HasSuffix(address, PrivateSuffix):
		return ChatPrivate
	case strings.HasSuffix(address, GroupSuffix):
		return ChatGroup
	default:
		return ChatUnknown
	}
}
