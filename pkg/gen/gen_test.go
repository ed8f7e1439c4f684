package gen_test

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"ourtube/pkg/gen"

	"github.com/google/uuid"
)

var namespaceURL = mustParseUUID("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want string
	}{
		{name: "basic", a: "foo", b: "bar", want: "foo|bar"},
		{name: "emptyA", a: "", b: "value", want: "|value"},
		{name: "bothEmpty", a: "", b: "", want: "|"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gen.Key(tt.a, tt.b); got != tt.want {
				t.Fatalf("Key(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestUUIDv5(t *testing.T) {
	want := sha1UUID(namespaceURL, "https://example.com/video|mp4")
	if got := gen.UUIDv5("https://example.com/video", "mp4"); got != want {
		t.Fatalf("UUIDv5 = %q, want %q", got, want)
	}
}

func TestFallbackID(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "video", url: "https://example.com/video"},
		{name: "query", url: "https://example.com/watch?v=abc&t=10"},
		{name: "empty", url: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gen.FallbackID(tt.url)

			want := "url-" + sha1UUID(namespaceURL, tt.url)
			if got != want {
				t.Fatalf("FallbackID(%q) = %q, want %q", tt.url, got, want)
			}

			if again := gen.FallbackID(tt.url); again != got {
				t.Fatalf("FallbackID not stable: %q vs %q", got, again)
			}
		})
	}

	if gen.FallbackID("https://a.example") == gen.FallbackID("https://b.example") {
		t.Errorf("different urls must not share a fallback id")
	}
}

func TestStagingKey(t *testing.T) {
	a, b := gen.StagingKey(), gen.StagingKey()
	if a == b {
		t.Fatalf("staging keys must be unique, got %q twice", a)
	}

	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("staging key %q is not a uuid: %v", a, err)
	}
}

func sha1UUID(namespace []byte, name string) string {
	hash := sha1.New()
	_, _ = hash.Write(namespace)
	_, _ = hash.Write([]byte(name))

	sum := hash.Sum(nil)
	uuidBytes := make([]byte, 16)
	copy(uuidBytes, sum)

	uuidBytes[6] = (uuidBytes[6] & 0x0f) | 0x50
	uuidBytes[8] = (uuidBytes[8] & 0x3f) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x", uuidBytes[0:4], uuidBytes[4:6], uuidBytes[6:8], uuidBytes[8:10], uuidBytes[10:16])
}

func mustParseUUID(s string) []byte {
	decoded, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil || len(decoded) != 16 {
		panic(fmt.Sprintf("invalid UUID %q: %v", s, err))
	}

	return decoded
}
