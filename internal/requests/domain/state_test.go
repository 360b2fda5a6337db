package domain

import "testing"

func TestCanTransitionHappyPath(t *testing.T) {
	path := []Status{
		StatusPending, StatusSearching, StatusCalling, StatusAnalyzing,
		StatusRecommended, StatusBooking, StatusCompleted,
	}

	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransitionFailedFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []Status{
		StatusPending, StatusSearching, StatusCalling, StatusAnalyzing,
		StatusRecommended, StatusBooking,
	}

	for _, from := range nonTerminal {
		if !CanTransition(from, StatusFailed) {
			t.Fatalf("expected %s -> FAILED to be allowed", from)
		}
	}
}

func TestCanTransitionRejectsBackwardEdges(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusCalling, StatusSearching},
		{StatusAnalyzing, StatusCalling},
		{StatusRecommended, StatusAnalyzing},
		{StatusBooking, StatusRecommended},
		{StatusCompleted, StatusBooking},
		{StatusPending, StatusCalling}, // no skipping
		{StatusSearching, StatusAnalyzing},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestAnalyzingIsRetriableInPlace(t *testing.T) {
	if !CanTransition(StatusAnalyzing, StatusAnalyzing) {
		t.Fatal("expected ANALYZING -> ANALYZING to be allowed for retries")
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusFailed} {
		for _, to := range []Status{
			StatusPending, StatusSearching, StatusCalling, StatusAnalyzing,
			StatusRecommended, StatusBooking, StatusCompleted, StatusFailed,
		} {
			if CanTransition(from, to) {
				t.Fatalf("expected terminal %s -> %s to be rejected", from, to)
			}
		}
	}
}
