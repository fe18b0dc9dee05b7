package control

import (
	"math"
	"math/rand"
	"testing"
)

type fakeOptimizer struct{ lr float64 }

func (f *fakeOptimizer) LearningRate() float64     { return f.lr }
func (f *fakeOptimizer) SetLearningRate(lr float64) { f.lr = lr }

func TestNewLRScheduler_Validation(t *testing.T) {
	opt := &fakeOptimizer{lr: 0.1}
	cases := []SchedulerConfig{
		{Patience: 0, Factor: 0.5},
		{Patience: 2, Factor: 1},
		{Patience: 2, Factor: 1.5},
		{Patience: 2, Factor: 0},
		{Patience: 2, Factor: -0.5},
		{Patience: 2, Factor: 0.5, MinDelta: -1},
		{Patience: 2, Factor: 0.5, MinLR: -1},
	}
	for _, c := range cases {
		if _, err := NewLRScheduler(opt, c); !IsConfigError(err) {
			t.Fatalf("cfg %+v: expected config error, got %v", c, err)
		}
	}
	if _, err := NewLRScheduler(nil, DefaultSchedulerConfig()); !IsConfigError(err) {
		t.Fatalf("expected config error for nil optimizer, got %v", err)
	}
	if _, err := NewLRScheduler(opt, DefaultSchedulerConfig()); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
}

func TestLRScheduler_Scenario(t *testing.T) {
	opt := &fakeOptimizer{lr: 0.1}
	s, err := NewLRScheduler(opt, SchedulerConfig{Patience: 2, Factor: 0.5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Observe(1.0)
	s.Observe(1.0)
	if opt.lr != 0.1 {
		t.Fatalf("lr changed too early: %v", opt.lr)
	}
	s.Observe(1.0)
	if math.Abs(opt.lr-0.05) > 1e-12 {
		t.Fatalf("lr=%v want 0.05", opt.lr)
	}
	st := s.State()
	if st.Wait != 0 || st.Reductions != 1 || math.Abs(st.CurrentFactor-0.5) > 1e-12 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestLRScheduler_NotifiesOnReduce(t *testing.T) {
	opt := &fakeOptimizer{lr: 1}
	s, _ := NewLRScheduler(opt, SchedulerConfig{Patience: 1, Factor: 0.1})
	var calls [][2]float64
	s.OnReduce(func(o, n float64) { calls = append(calls, [2]float64{o, n}) })
	s.Observe(1)
	s.Observe(2)
	s.Observe(3)
	if len(calls) != 2 {
		t.Fatalf("calls=%d want 2", len(calls))
	}
	if calls[0][0] != 1 || math.Abs(calls[0][1]-0.1) > 1e-12 {
		t.Fatalf("first call=%v", calls[0])
	}
}

func TestLRScheduler_RespectsMinLR(t *testing.T) {
	opt := &fakeOptimizer{lr: 0.01}
	s, _ := NewLRScheduler(opt, SchedulerConfig{Patience: 1, Factor: 0.1, MinLR: 0.005})
	s.Observe(1)
	s.Observe(1)
	if opt.lr != 0.005 {
		t.Fatalf("lr=%v want floor 0.005", opt.lr)
	}
	s.Observe(1)
	if opt.lr != 0.005 {
		t.Fatalf("lr went below floor: %v", opt.lr)
	}
	if st := s.State(); st.Reductions != 1 || math.Abs(st.CurrentFactor-0.5) > 1e-12 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestLRScheduler_FactorNeverIncreases(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	opt := &fakeOptimizer{lr: 0.1}
	s, _ := NewLRScheduler(opt, SchedulerConfig{Patience: 2, Factor: 0.7, MinLR: 1e-4})
	prev := s.State().CurrentFactor
	for i := 0; i < 500; i++ {
		s.Observe(rng.Float64())
		cur := s.State().CurrentFactor
		if cur > prev || cur <= 0 || cur > 1 {
			t.Fatalf("step %d: factor %v after %v", i, cur, prev)
		}
		prev = cur
	}
}

func TestControllers_StrictlyImprovingKeepsWaitAtZero(t *testing.T) {
	opt := &fakeOptimizer{lr: 0.1}
	s, _ := NewLRScheduler(opt, SchedulerConfig{Patience: 1, Factor: 0.5})
	es, _ := NewEarlyStopping(StopConfig{Patience: 1})
	loss := 10.0
	for i := 0; i < 100; i++ {
		loss -= 0.01 + float64(i%3)*0.001
		s.Observe(loss)
		es.Observe(loss)
		if s.State().Wait != 0 || es.State().Wait != 0 {
			t.Fatalf("step %d: wait counters %d/%d", i, s.State().Wait, es.State().Wait)
		}
	}
	if opt.lr != 0.1 || es.Stopped() {
		t.Fatalf("controllers acted on improving sequence: lr=%v stop=%v", opt.lr, es.Stopped())
	}
}
