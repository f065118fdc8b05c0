package dispatch

import "testing"

func TestNodeStatusIsTerminal(t *testing.T) {
	cases := map[NodeStatus]bool{
		StatusNewObject: false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestIsSublattice(t *testing.T) {
	if !IsSublattice("sublattice:foo") {
		t.Error("expected sublattice:foo to be a sublattice node")
	}
	if IsSublattice("regular_task") {
		t.Error("expected regular_task to not be a sublattice node")
	}
}

func TestIsInternal(t *testing.T) {
	if !IsInternal("::epilogue") {
		t.Error("expected ::epilogue to be internal")
	}
	if IsInternal("user_task") {
		t.Error("expected user_task to not be internal")
	}
}
