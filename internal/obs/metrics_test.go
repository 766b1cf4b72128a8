package obs

import (
	"fmt"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    OtherPath,
		"/":                                   OtherPath,
		"/metrics":                            "/metrics",
		"/dossiers/abc":                       "/dossiers/:id",
		"/dossiers/abc/download":              "/dossiers/:id/download",
		"/dossiers/abc/download?token=secret": "/dossiers/:id/download",
		"/dossiers/abc/share":                 "/dossiers/:id/share",
		"/dossiers/abc/artifact":              "/dossiers/:id/artifact",
		"/dossiers/abc/extra":                 OtherPath,
		"/dossiers/a/b/c":                     OtherPath,
		"/dossiers/":                          OtherPath,
		"/random-404":                         OtherPath,
		"/healthz":                            "/healthz",
		"/readyz":                             "/readyz",
		"/v1/info":                            "/v1/info",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestCanonicalPathBoundsSeries(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		seen[CanonicalPath(fmt.Sprintf("/unknown-%d", i))] = true
		seen[CanonicalPath(fmt.Sprintf("/dossiers/d-%d/x/y", i))] = true
		seen[CanonicalPath(fmt.Sprintf("/dossiers/d-%d", i))] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 labels for 3000 paths, got %d: %v", len(seen), seen)
	}
}

func TestLevelFromString(t *testing.T) {
	if got := levelFromString("WARN"); got.String() != "warn" {
		t.Fatalf("unexpected level: %s", got)
	}
	if got := levelFromString("nonsense"); got.String() != "info" {
		t.Fatalf("expected info fallback, got %s", got)
	}
}
