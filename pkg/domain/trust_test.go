package domain

import "testing"

func TestTrustRecordState(t *testing.T) {
	cases := []struct {
		verified, blocked bool
		want              TrustState
	}{
		{false, false, TrustPending},
		{true, false, TrustVerified},
		{false, true, TrustBlocked},
		// blocked takes precedence over verified
		{true, true, TrustBlocked},
	}
	for _, c := range cases {
		rec := TrustRecord{Verified: c.verified, Blocked: c.blocked}
		if got := rec.State(); got != c.want {
			t.Fatalf("State(verified=%v, blocked=%v) = %q, want %q", c.verified, c.blocked, got, c.want)
		}
	}
}

func TestDecideTransitions(t *testing.T) {
	cases := []struct {
		state       TrustState
		action      TrustAction
		wantState   TrustState
		wantAlready bool
		wantErr     bool
	}{
		{TrustPending, ActionVerify, TrustVerified, false, false},
		{TrustPending, ActionBlock, TrustBlocked, false, false},
		{TrustVerified, ActionVerify, TrustVerified, true, false},
		{TrustBlocked, ActionBlock, TrustBlocked, true, false},
		{TrustBlocked, ActionVerify, TrustBlocked, false, true},
		{TrustVerified, ActionBlock, TrustVerified, false, true},
	}
	for _, c := range cases {
		next, already, err := Decide(c.state, c.action)
		if (err != nil) != c.wantErr {
			t.Fatalf("Decide(%q, %q) err = %v, wantErr=%v", c.state, c.action, err, c.wantErr)
		}
		if next != c.wantState || already != c.wantAlready {
			t.Fatalf("Decide(%q, %q) = (%q, %v), want (%q, %v)", c.state, c.action, next, already, c.wantState, c.wantAlready)
		}
	}
}

func TestParseTrustAction(t *testing.T) {
	if a, ok := ParseTrustAction("verify"); !ok || a != ActionVerify {
		t.Fatalf("ParseTrustAction(verify) = %q, %v", a, ok)
	}
	if a, ok := ParseTrustAction("block"); !ok || a != ActionBlock {
		t.Fatalf("ParseTrustAction(block) = %q, %v", a, ok)
	}
	if _, ok := ParseTrustAction("unblock"); ok {
		t.Fatalf("ParseTrustAction(unblock) should be rejected")
	}
}
