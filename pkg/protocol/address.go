package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrUnknownLocation = errors.New("unknown location")
	ErrInvalidAddress  = errors.New("invalid address")
)

// Location is one of the named sites an endpoint can live at
type Location uint8

// Known locations. The numeric value is the wire index.
const (
	AlphaCentauri Location = iota
	ProximaCentauri
	Sirius
	Betelgeuse
	AndromedaGalaxy

	numLocations
)

var locationNames = [numLocations]string{
	AlphaCentauri:   "AlphaCentauri",
	ProximaCentauri: "ProximaCentauri",
	Sirius:          "Sirius",
	Betelgeuse:      "Betelgeuse",
	AndromedaGalaxy: "AndromedaGalaxy",
}

// Valid reports whether l is one of the enumerated locations
func (l Location) Valid() bool {
	return l < numLocations
}

func (l Location) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Location(%d)", uint8(l))
	}
	return locationNames[l]
}

// ParseLocation parses a location name, ignoring case
func ParseLocation(s string) (Location, error) {
	for i, name := range locationNames {
		if strings.EqualFold(name, s) {
			return Location(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLocation, s)
}

// Locations returns every known location in wire order
func Locations() []Location {
	locs := make([]Location, 0, numLocations)
	for l := Location(0); l < numLocations; l++ {
		locs = append(locs, l)
	}
	return locs
}

// Address identifies an endpoint. The whole tuple is the identity; the
// three fields are opaque sub-address bits.
type Address struct {
	Location Location
	Field1   uint64
	Field2   uint64
	Field3   uint64
}

// NewAddress builds an address
func NewAddress(loc Location, f1, f2, f3 uint64) Address {
	return Address{Location: loc, Field1: f1, Field2: f2, Field3: f3}
}

// Valid reports whether the address has a recognized location
func (a Address) Valid() bool {
	return a.Location.Valid()
}

// ValidateAddress is the function form of Address.Valid
func ValidateAddress(a Address) bool {
	return a.Valid()
}

// String renders the address as Location/field1/field2/field3
func (a Address) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", a.Location, a.Field1, a.Field2, a.Field3)
}

// ParseAddress parses the String form of an address
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return Address{}, fmt.Errorf("%w: %q: want location/f1/f2/f3", ErrInvalidAddress, s)
	}

	loc, err := ParseLocation(parts[0])
	if err != nil {
		return Address{}, err
	}

	var fields [3]uint64
	for i, p := range parts[1:] {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return Address{}, fmt.Errorf("%w: field%d: %v", ErrInvalidAddress, i+1, err)
		}
		fields[i] = v
	}

	return NewAddress(loc, fields[0], fields[1], fields[2]), nil
}

// Encode encodes the address to its fixed 25-byte form
func (a Address) Encode() []byte {
	buf := make([]byte, AddressSize)
	a.put(buf)
	return buf
}

func (a Address) put(buf []byte) {
	buf[0] = byte(a.Location)
	binary.BigEndian.PutUint64(buf[1:9], a.Field1)
	binary.BigEndian.PutUint64(buf[9:17], a.Field2)
	binary.BigEndian.PutUint64(buf[17:25], a.Field3)
}

// DecodeAddress decodes a 25-byte address
func DecodeAddress(buf []byte) (Address, error) {
	if len(buf) != AddressSize {
		return Address{}, fmt.Errorf("%w: address is %d bytes, want %d", ErrInvalidAddress, len(buf), AddressSize)
	}
	return getAddress(buf)
}

func getAddress(buf []byte) (Address, error) {
	loc := Location(buf[0])
	if !loc.Valid() {
		return Address{}, fmt.Errorf("%w: location byte %d", ErrUnknownLocation, buf[0])
	}
	return Address{
		Location: loc,
		Field1:   binary.BigEndian.Uint64(buf[1:9]),
		Field2:   binary.BigEndian.Uint64(buf[9:17]),
		Field3:   binary.BigEndian.Uint64(buf[17:25]),
	}, nil
}

// Digest returns the BLAKE2b-256 digest of the encoded address. It is a
// stable opaque key for storage and content routing.
func (a Address) Digest() [32]byte {
	return blake2b.Sum256(a.Encode())
}
