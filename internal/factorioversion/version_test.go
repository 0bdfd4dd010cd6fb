package factorioversion

import (
	"errors"
	"testing"

	"factorio-instanced/internal/ferrors"
)

func TestParseFormatRoundTrip(t *testing.T) {
	tests := []string{"0.0.0", "1.1.110", "2.0.0", "65535.65535.65535"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			v, err := Parse(s)
			if err != nil {
				t.Fatalf("Parse(%q) returned unexpected error: %v", s, err)
			}
			if got := v.String(); got != s {
				t.Errorf("round trip: Parse(%q).String() = %q; want %q", s, got, s)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []string{"", "1.2", "1.2.3.4", "a.b.c", "1.2.-1", "99999.0.0"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			if !errors.Is(err, ferrors.ErrInvalidVersionFormat) {
				t.Errorf("Parse(%q) error = %v; want ErrInvalidVersionFormat", s, err)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	v200 := MustParse("2.0.0")
	v1999 := MustParse("1.1.999")
	if v200.Less(v1999) {
		t.Fatalf("2.0.0 should not be less than 1.1.999")
	}
	if v200.Compare(v1999) <= 0 {
		t.Errorf("Compare(2.0.0, 1.1.999) = %d; want > 0", v200.Compare(v1999))
	}
	if !v200.AtLeast(v1999) {
		t.Errorf("2.0.0.AtLeast(1.1.999) = false; want true")
	}
	if v1999.AtLeast(v200) {
		t.Errorf("1.1.999.AtLeast(2.0.0) = true; want false")
	}

	equal := MustParse("1.1.110")
	if equal.Compare(MustParse("1.1.110")) != 0 {
		t.Errorf("equal versions should compare to 0")
	}
}
