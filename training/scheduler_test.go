package training

import (
	"math"
	"testing"
)

func TestWarmupCosineWarmupPhase(t *testing.T) {
	s := NewWarmupCosineScheduler(100)
	if s.WarmupSteps != 10 {
		t.Fatalf("warmup steps %d, want 10", s.WarmupSteps)
	}
	base := 1e-3
	if got := s.GetLR(0, base); got != 0 {
		t.Fatalf("lr at step 0 = %v, want 0", got)
	}
	if got := s.GetLR(5, base); math.Abs(got-base*0.5) > 1e-15 {
		t.Fatalf("lr mid-warmup = %v, want %v", got, base*0.5)
	}
	if got := s.GetLR(10, base); math.Abs(got-base) > 1e-15 {
		t.Fatalf("lr at warmup end = %v, want %v", got, base)
	}
}

func TestWarmupCosineDecayPhase(t *testing.T) {
	s := NewWarmupCosineScheduler(100)
	base := 1e-3
	// Midpoint of the cosine span sits at half the base rate.
	mid := s.WarmupSteps + (s.TotalSteps-s.WarmupSteps)/2
	if got := s.GetLR(mid, base); math.Abs(got-base*0.5) > 1e-12 {
		t.Fatalf("lr at cosine midpoint = %v, want %v", got, base*0.5)
	}
	if got := s.GetLR(100, base); got != 0 {
		t.Fatalf("lr at final step = %v, want 0", got)
	}
	prev := s.GetLR(s.WarmupSteps, base)
	for step := s.WarmupSteps + 1; step <= 100; step++ {
		lr := s.GetLR(step, base)
		if lr > prev {
			t.Fatalf("lr increased during decay at step %d: %v > %v", step, lr, prev)
		}
		prev = lr
	}
}

func TestWarmupCosineShortRun(t *testing.T) {
	// Runs shorter than ten epochs get no warmup and start at full rate.
	s := NewWarmupCosineScheduler(1)
	if s.WarmupSteps != 0 {
		t.Fatalf("warmup steps %d, want 0", s.WarmupSteps)
	}
	if got := s.GetLR(0, 1e-4); got != 1e-4 {
		t.Fatalf("lr at step 0 = %v, want full base rate", got)
	}
}

func TestNoOpScheduler(t *testing.T) {
	s := &NoOpScheduler{}
	for _, step := range []int{0, 1, 50} {
		if got := s.GetLR(step, 3e-4); got != 3e-4 {
			t.Fatalf("step %d: lr %v, want 3e-4", step, got)
		}
	}
	if s.GetName() != "ConstantLR" {
		t.Fatalf("name %q", s.GetName())
	}
}
