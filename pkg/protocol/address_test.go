package protocol

import (
	"errors"
	"testing"
)

func TestLocationValid(t *testing.T) {
	for _, loc := range Locations() {
		if !loc.Valid() {
			t.Errorf("%s.Valid() = false", loc)
		}
	}

	if Location(5).Valid() {
		t.Error("Location(5).Valid() = true")
	}
	if got := Location(200).String(); got != "Location(200)" {
		t.Errorf("String() = %q", got)
	}
}

func TestValidateAddress(t *testing.T) {
	if !ValidateAddress(NewAddress(AndromedaGalaxy, 0, 0, 0)) {
		t.Error("ValidateAddress(AndromedaGalaxy) = false")
	}
	if ValidateAddress(Address{Location: 7, Field1: 1}) {
		t.Error("ValidateAddress(Location 7) = true")
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr error
	}{
		{in: "Sirius/2/2/2", want: NewAddress(Sirius, 2, 2, 2)},
		{in: "alphacentauri/1/1/1", want: NewAddress(AlphaCentauri, 1, 1, 1)},
		{in: "AndromedaGalaxy/18446744073709551615/0/3", want: NewAddress(AndromedaGalaxy, 18446744073709551615, 0, 3)},
		{in: "Vega/1/1/1", wantErr: ErrUnknownLocation},
		{in: "Sirius/1/1", wantErr: ErrInvalidAddress},
		{in: "Sirius/1/x/1", wantErr: ErrInvalidAddress},
		{in: "", wantErr: ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseAddress(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %s, want %s", tt.in, got, tt.want)
			}
			if back, _ := ParseAddress(got.String()); back != got {
				t.Errorf("String() did not round trip: %s", got.String())
			}
		})
	}
}

func TestAddressEncodeDecode(t *testing.T) {
	addr := NewAddress(Betelgeuse, 9, 10, 11)

	got, err := DecodeAddress(addr.Encode())
	if err != nil {
		t.Fatalf("DecodeAddress() error = %v", err)
	}
	if got != addr {
		t.Errorf("DecodeAddress() = %s, want %s", got, addr)
	}

	if _, err := DecodeAddress(addr.Encode()[:AddressSize-1]); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("DecodeAddress(short) error = %v, want %v", err, ErrInvalidAddress)
	}

	bad := addr.Encode()
	bad[0] = 99
	if _, err := DecodeAddress(bad); !errors.Is(err, ErrUnknownLocation) {
		t.Errorf("DecodeAddress(bad location) error = %v, want %v", err, ErrUnknownLocation)
	}
}

func TestAddressDigest(t *testing.T) {
	a := NewAddress(Sirius, 2, 2, 2)
	b := NewAddress(Sirius, 2, 2, 3)

	if a.Digest() != a.Digest() {
		t.Error("Digest() is not deterministic")
	}
	if a.Digest() == b.Digest() {
		t.Error("distinct addresses share a digest")
	}
}
