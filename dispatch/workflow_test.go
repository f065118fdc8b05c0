package dispatch

import "testing"

func TestWorkflowStatusIsTerminal(t *testing.T) {
	cases := map[WorkflowStatus]bool{
		WorkflowNewObject:             false,
		WorkflowRunning:               false,
		WorkflowPostprocessing:        false,
		WorkflowPendingPostprocessing: false,
		WorkflowCompleted:             true,
		WorkflowFailed:                true,
		WorkflowCancelled:             true,
		WorkflowPostprocessingFailed:  true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}
