package domain

import "testing"

func TestTerminalStatuses(t *testing.T) {
	cases := []struct {
		status   CallStatus
		terminal bool
	}{
		{CallQueued, false},
		{CallRinging, false},
		{CallInProgress, false},
		{CallCompleted, true},
		{CallFailed, true},
		{CallNoAnswer, true},
		{CallVoicemail, true},
		{CallBusy, true},
		{CallTimeout, true},
	}

	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.terminal {
			t.Fatalf("IsTerminal(%s) = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestCriteriaMatchRatio(t *testing.T) {
	o := StructuredOutcome{CriteriaMatch: map[string]bool{
		"licensed":      true,
		"insured":       true,
		"10+ years":     false,
		"weekend hours": true,
	}}

	if got := o.CriteriaMatchRatio(); got != 0.75 {
		t.Fatalf("expected ratio 0.75, got %v", got)
	}

	empty := StructuredOutcome{}
	if got := empty.CriteriaMatchRatio(); got != 0 {
		t.Fatalf("expected ratio 0 for empty map, got %v", got)
	}
}
