package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseCounselRequestID checks parsing never panics and accepted IDs
// round-trip through their canonical form.
func FuzzParseCounselRequestID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE counsel_requests;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		parsed, err := ParseCounselRequestID(input)
		if err == nil {
			roundTrip, err2 := ParseCounselRequestID(parsed.String())
			if err2 != nil {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
			if roundTrip != parsed {
				t.Error("round-trip changed ID value")
			}
			if parsed.IsNil() {
				t.Error("nil UUID was accepted")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAllIDs checks every ID kind accepts and rejects the same inputs.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errUser := ParseUserID(input)
		_, errRequest := ParseCounselRequestID(input)
		_, errChild := ParseChildID(input)
		_, errInstitution := ParseInstitutionID(input)
		_, errCounselor := ParseCounselorID(input)

		accepted := errUser == nil
		for _, err := range []error{errRequest, errChild, errInstitution, errCounselor} {
			if (err == nil) != accepted {
				t.Error("inconsistent parsing across ID types")
			}
		}
	})
}
