package tokens

import (
	"math"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Fix OAuth2-login: retries (v3)!")
	want := []string{"fix", "oauth2", "login", "retries", "v3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestSignificant(t *testing.T) {
	got := Significant("Update the login flow for SSO users; login 2026 retries", 4)
	want := []string{"flow", "login", "retries", "users"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Significant = %v, want %v", got, want)
	}
}

func TestOverlapAndJaccard(t *testing.T) {
	a := []string{"auth", "login", "token"}
	b := []string{"login", "session", "token"}
	if got := Overlap(a, b); !reflect.DeepEqual(got, []string{"login", "token"}) {
		t.Fatalf("Overlap = %v", got)
	}
	if got := Jaccard(a, b); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("Jaccard = %f, want 0.5", got)
	}
	if Jaccard(nil, b) != 0 {
		t.Fatal("empty set should be 0")
	}
}
