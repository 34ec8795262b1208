package redis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/timer"
)

func Test_ParseTimerKey(t *testing.T) {
	tests := []struct {
		key  string
		want timer.Timer
		ok   bool
	}{
		{"run-1:0:timeout", timer.Timer{RunID: "run-1", StepIndex: 0, Kind: timer.KindTimeout}, true},
		{"run-1:3:reminder", timer.Timer{RunID: "run-1", StepIndex: 3, Kind: timer.KindReminder}, true},
		{"run-1:0", timer.Timer{}, false},
		{"run-1:x:timeout", timer.Timer{}, false},
		{"run-1:0:snooze", timer.Timer{}, false},
		{"", timer.Timer{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := parseTimerKey(tt.key)

			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func Test_ParseTimerKey_RoundTrip(t *testing.T) {
	in := timer.Timer{RunID: "ad8f6f6b", StepIndex: 2, Kind: timer.KindTimeout}

	got, ok := parseTimerKey(in.Key())
	require.True(t, ok)
	require.Equal(t, in, got)
}

func Test_Keys(t *testing.T) {
	require.Equal(t, "crmflow:definition:wf-1:2", definitionKey("crmflow:", "wf-1", 2))
	require.Equal(t, "crmflow:active-definitions:deal:record_updated", activeDefinitionsKey("crmflow:", "deal", "record_updated"))
	require.Equal(t, "crmflow:run:run-1", runKey("crmflow:", "run-1"))
	require.Equal(t, "crmflow:runs-by-record:deal:deal-1", runsByRecordKey("crmflow:", core.RecordRef{EntityType: "deal", ID: "deal-1"}))
	require.Equal(t, "crmflow:timers", timersKey("crmflow:"))
}
