package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"promote", "waiting", true},
		{"promote", "serving", false},
		{"pay", "serving", true},
		{"pay", "waiting", false},
		{"pay", "paid", false},
		{"cancel", "waiting", true},
		{"cancel", "cancelled", false},
		{"cancel", "serving", false},
		{"return", "serving", true},
		{"return", "waiting", false},
		{"no_show", "waiting", true},
		{"no_show", "serving", true},
		{"no_show", "paid", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestTargetState(t *testing.T) {
	cases := map[string]string{
		ActionPromote: "serving",
		ActionPay:     "paid",
		ActionCancel:  "cancelled",
		ActionReturn:  "waiting",
		ActionNoShow:  "no_show",
	}
	for action, want := range cases {
		got, ok := TargetState(action)
		if !ok || got != want {
			t.Fatalf("TargetState(%q)=%q,%v want %q", action, got, ok, want)
		}
	}
	if _, ok := TargetState("delete"); ok {
		t.Fatalf("delete has no target state")
	}
}

func TestSourceStatesIsCopy(t *testing.T) {
	states := SourceStates(ActionNoShow)
	states[0] = "mutated"
	if !ValidTransition(ActionNoShow, "waiting") {
		t.Fatalf("SourceStates leaked the transition table")
	}
}
