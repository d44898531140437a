package refresh

import (
	"testing"
)

// FuzzDecode exercises refresh token decoding with arbitrary strings.
// Goal: no panics; invalid inputs should return errors cleanly.
func FuzzDecode(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	if token, _, err := New(); err == nil {
		f.Add(token)
	}

	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")
	f.Add("dG9vLXNob3J0")

	f.Fuzz(func(t *testing.T, input string) {
		secret, err := Decode(input)
		if err != nil {
			return
		}

		// Strict decoding means a successful decode round-trips byte for byte.
		if Encode(secret) != input {
			t.Fatalf("roundtrip mismatch for %q", input)
		}
		if _, err := Hash(input); err != nil {
			t.Fatalf("Hash failed after Decode succeeded: %v", err)
		}
	})
}
