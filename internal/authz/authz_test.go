package authz

import (
	"testing"

	"github.com/rune-authz/rune/internal/value"
)

func sampleRequest() Request {
	return Request{
		Principal: Entity{Type: "user", ID: "alice", Attributes: map[string]value.Value{
			"role": value.StringValue("admin"),
		}},
		Action: "read",
		Params: map[string]value.Value{"verbose": value.BoolValue(true)},
		Resource: Entity{Type: "document", ID: "doc-1", Attributes: map[string]value.Value{
			"sensitivity": value.IntValue(3),
		}},
		Context: map[string]value.Value{"ip": value.StringValue("10.0.0.1")},
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	r1 := sampleRequest()
	r2 := sampleRequest()
	if r1.Fingerprint() != r2.Fingerprint() {
		t.Fatalf("expected identical requests to fingerprint identically")
	}
}

func TestFingerprintChangesWithAction(t *testing.T) {
	r1 := sampleRequest()
	r2 := sampleRequest()
	r2.Action = "write"
	if r1.Fingerprint() == r2.Fingerprint() {
		t.Fatalf("expected different actions to fingerprint differently")
	}
}

func TestFingerprintChangesWithContext(t *testing.T) {
	r1 := sampleRequest()
	r2 := sampleRequest()
	r2.Context = map[string]value.Value{"ip": value.StringValue("10.0.0.2")}
	if r1.Fingerprint() == r2.Fingerprint() {
		t.Fatalf("expected different context to fingerprint differently")
	}
}

func TestCombineIsDenyOverrides(t *testing.T) {
	cases := []struct {
		a, b Decision
		want Decision
	}{
		{Permit, Permit, Permit},
		{Permit, Deny, Deny},
		{Deny, Permit, Deny},
		{Permit, Forbid, Forbid},
		{Forbid, Permit, Forbid},
		{Deny, Forbid, Forbid},
		{Forbid, Forbid, Forbid},
	}
	for _, c := range cases {
		if got := Combine(c.a, c.b); got != c.want {
			t.Errorf("Combine(%s, %s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}
