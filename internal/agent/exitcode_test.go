package agent

import (
	"testing"

	"github.com/serversentry/agent/internal/events"
)

func TestWorstStatusExitCodeEmpty(t *testing.T) {
	if got := WorstStatusExitCode(nil); got != ExitOK {
		t.Fatalf("expected ExitOK for no statuses, got %d", got)
	}
}

func TestWorstStatusExitCodePicksMostSevere(t *testing.T) {
	statuses := []events.StatusEvent{
		{Status: events.StatusOK},
		{Status: events.StatusWarning},
		{Status: events.StatusCritical},
		{Status: events.StatusWarning},
	}
	if got := WorstStatusExitCode(statuses); got != ExitCritical {
		t.Fatalf("expected ExitCritical, got %d", got)
	}
}

func TestWorstStatusExitCodeErrorBeatsWarning(t *testing.T) {
	statuses := []events.StatusEvent{
		{Status: events.StatusWarning},
		{Status: events.StatusError},
	}
	if got := WorstStatusExitCode(statuses); got != ExitUnknownOrError {
		t.Fatalf("expected ExitUnknownOrError, got %d", got)
	}
}

func TestWorstStatusExitCodeAllOK(t *testing.T) {
	statuses := []events.StatusEvent{{Status: events.StatusOK}, {Status: events.StatusOK}}
	if got := WorstStatusExitCode(statuses); got != ExitOK {
		t.Fatalf("expected ExitOK, got %d", got)
	}
}
