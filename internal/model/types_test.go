package model

import "testing"

func TestSignatureAndSignalPhrase(t *testing.T) {
	s := EnvironmentSchema{
		Observations: []VariableSpec{
			{Name: "goal_pos", Kind: KindVector, Shape: 2},
			{Name: "phase", Kind: KindEnum, EnumValues: []string{"a"}},
			{Name: "goal_distance", Kind: KindScalar},
		},
		Success: SuccessPredicate{Variable: "goal_distance", Comparator: "<", Threshold: 0.45},
	}
	want := "func ComputeReward(goal_pos []float64, phase int, goal_distance float64) (float64, map[string]float64)"
	if got := s.Signature(DefaultFunctionName); got != want {
		t.Fatalf("signature=%q, want %q", got, want)
	}
	if got := s.Success.SignalPhrase(); got != "reward if goal_distance < 0.45 else 0" {
		t.Fatalf("unexpected phrase %q", got)
	}
	if !s.Success.Holds(0.44) || s.Success.Holds(0.45) {
		t.Fatal("strict comparator misapplied")
	}
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{Min: 5, Max: 8}
	for _, v := range []float64{5, 6.5, 8} {
		if !b.Contains(v) {
			t.Fatalf("expected %g inside", v)
		}
	}
	for _, v := range []float64{4.99, 9} {
		if b.Contains(v) {
			t.Fatalf("expected %g outside", v)
		}
	}
}
