package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/vampirenirmal/storyforge/internal/assembly"
	"github.com/vampirenirmal/storyforge/internal/provider"
	"github.com/vampirenirmal/storyforge/internal/quality"
	"github.com/vampirenirmal/storyforge/internal/repair"
	"github.com/vampirenirmal/storyforge/internal/storage"
)

type collectEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectEmitter) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectEmitter) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenePool() *assembly.Pool {
	return &assembly.Pool{
		Characters: []assembly.CharacterProfile{
			{Name: "Mira", Role: "protagonist", Description: "a wary investigator"},
			{Name: "Tomas", Role: "antagonist", Description: "an evasive clerk"},
		},
		Settings: []assembly.SettingProfile{
			{Name: "Thornwick", Description: "a harbor town", Atmosphere: "tar and brine"},
		},
	}
}

func sceneWork(units int) *Work {
	w := &Work{ID: "work_test", Title: "Test Work"}
	for i := 1; i <= units; i++ {
		w.Units = append(w.Units, UnitPlan{
			Chapter:    1,
			Scene:      i,
			Objective:  fmt.Sprintf("advance beat %d", i),
			Characters: []string{"Mira", "Tomas"},
			Locations:  []string{"Thornwick"},
		})
	}
	return w
}

// prose builds varied text that clears every deterministic check.
func prose(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Turn %d drew the evening %d down along quay %d. ", i, i*3, i*7)
	}
	return strings.TrimSpace(b.String())
}

func judgeReply(score int) provider.MockReply {
	return provider.MockReply{
		Text: fmt.Sprintf(`{"continuity": %d, "style": %d, "dialogue": %d, "engagement": %d}`,
			score, score, score, score),
	}
}

func newTestOrchestrator(t *testing.T, dir string, writer, judge *provider.Mock) (*Orchestrator, *collectEmitter) {
	t.Helper()

	gate, err := quality.NewGate(quality.DefaultConfig(), judge, quietLogger())
	if err != nil {
		t.Fatalf("NewGate() error: %v", err)
	}

	events := &collectEmitter{}
	orch := New(
		gate,
		repair.NewEngine(writer, quietLogger()),
		storage.NewArchive(storage.NewFileSystem(dir)),
		WithEmitter(events),
		WithLogger(quietLogger()),
	)
	return orch, events
}

func TestRunWorkFirstAttemptAccepted(t *testing.T) {
	content := prose(14) + " Mira had deep blue eyes that caught the light."
	writer := provider.NewMock("writer", provider.MockReply{Text: content})
	judge := provider.NewMock("judge", judgeReply(90))

	orch, events := newTestOrchestrator(t, t.TempDir(), writer, judge)

	result, err := orch.RunWork(context.Background(), sceneWork(1), scenePool())
	if err != nil {
		t.Fatalf("RunWork() error: %v", err)
	}

	if len(result.Units) != 1 {
		t.Fatalf("units = %d, want 1", len(result.Units))
	}
	unit := result.Units[0]
	if unit.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", unit.Attempts)
	}
	if unit.IsFallback || unit.RequiresHumanReview {
		t.Error("accepted unit must not be flagged")
	}
	if unit.QualityScore < 85 {
		t.Errorf("quality score = %f, want >= 85", unit.QualityScore)
	}
	if result.FactCount != 1 {
		t.Errorf("fact count = %d, want 1 committed appearance fact", result.FactCount)
	}

	want := []EventType{EventUnitStarted, EventAttemptStarted, EventCostUpdated, EventAttemptScored, EventUnitAccepted}
	got := events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunWorkExhaustedAttemptsFallBack(t *testing.T) {
	// Weighted totals land near 60, 68 and 50: never accepted, never fatal.
	writer := provider.NewMock("writer", provider.MockReply{Text: prose(14)})
	judge := provider.NewMock("judge", judgeReply(50), judgeReply(60), judgeReply(38))

	orch, events := newTestOrchestrator(t, t.TempDir(), writer, judge)

	result, err := orch.RunWork(context.Background(), sceneWork(1), scenePool())
	if err != nil {
		t.Fatalf("RunWork() must degrade to fallback, got error: %v", err)
	}

	unit := result.Units[0]
	if !unit.IsFallback {
		t.Error("is_fallback must be set")
	}
	if !unit.RequiresHumanReview {
		t.Error("requires_human_review must be set")
	}
	if unit.Attempts != repair.MaxContentAttempts+1 {
		t.Errorf("attempts = %d, want %d", unit.Attempts, repair.MaxContentAttempts+1)
	}
	if len(unit.History) != repair.MaxContentAttempts {
		t.Errorf("history = %d entries, want %d", len(unit.History), repair.MaxContentAttempts)
	}
	if writer.Calls() != repair.MaxContentAttempts {
		t.Errorf("writer called %d times, want %d", writer.Calls(), repair.MaxContentAttempts)
	}
	if strings.TrimSpace(unit.Content) == "" {
		t.Error("fallback content must not be empty")
	}
	if result.FactCount != 0 {
		t.Errorf("fact count = %d, fallback must not commit facts", result.FactCount)
	}
	if result.FallbackUnits != 1 {
		t.Errorf("fallback units = %d, want 1", result.FallbackUnits)
	}

	types := events.types()
	if types[len(types)-1] != EventUnitFallback {
		t.Errorf("last event = %s, want %s", types[len(types)-1], EventUnitFallback)
	}
}

func TestRunWorkEscalatesTierAcrossAttempts(t *testing.T) {
	writer := provider.NewMock("writer", provider.MockReply{Text: prose(14)})
	judge := provider.NewMock("judge", judgeReply(50))

	orch, _ := newTestOrchestrator(t, t.TempDir(), writer, judge)
	if _, err := orch.RunWork(context.Background(), sceneWork(1), scenePool()); err != nil {
		t.Fatalf("RunWork() error: %v", err)
	}

	tiers := make([]provider.Tier, 0, len(writer.Requests))
	for _, req := range writer.Requests {
		tiers = append(tiers, req.Tier)
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i] < tiers[i-1] {
			t.Errorf("tier decreased across attempts: %v", tiers)
		}
	}
	if tiers[len(tiers)-1] != provider.TierMaximum {
		t.Errorf("final attempt tier = %d, want maximum", tiers[len(tiers)-1])
	}
}

func TestRunWorkProviderErrorsStillFallBack(t *testing.T) {
	writer := provider.NewMock("writer", provider.MockReply{Err: errors.New("model refused")})
	judge := provider.NewMock("judge", judgeReply(90))

	orch, _ := newTestOrchestrator(t, t.TempDir(), writer, judge)

	result, err := orch.RunWork(context.Background(), sceneWork(1), scenePool())
	if err != nil {
		t.Fatalf("RunWork() error: %v", err)
	}

	unit := result.Units[0]
	if !unit.IsFallback {
		t.Error("all-error unit must fall back")
	}
	for _, attempt := range unit.History {
		if attempt.Error == "" {
			t.Error("failed attempts must record their error")
		}
	}
	if judge.Calls() != 0 {
		t.Errorf("judge called %d times with nothing to score, want 0", judge.Calls())
	}
}

func TestRunWorkBudgetAborts(t *testing.T) {
	writer := provider.NewMock("writer", provider.MockReply{Text: prose(14), Cost: 10})
	judge := provider.NewMock("judge", judgeReply(90))

	orch, _ := newTestOrchestrator(t, t.TempDir(), writer, judge)

	work := sceneWork(1)
	work.BudgetUSD = 5

	_, err := orch.RunWork(context.Background(), work, scenePool())
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("error = %v, want ErrBudgetExceeded", err)
	}
}

func TestRunWorkPreviousContentFlowsForward(t *testing.T) {
	first := prose(12) + " The harbor bell tolled twice."
	writer := provider.NewMock("writer",
		provider.MockReply{Text: first},
		provider.MockReply{Text: prose(13)},
	)
	judge := provider.NewMock("judge", judgeReply(90))

	orch, _ := newTestOrchestrator(t, t.TempDir(), writer, judge)
	if _, err := orch.RunWork(context.Background(), sceneWork(2), scenePool()); err != nil {
		t.Fatalf("RunWork() error: %v", err)
	}

	if len(writer.Requests) != 2 {
		t.Fatalf("writer called %d times, want 2", len(writer.Requests))
	}
	if !strings.Contains(writer.Requests[1].Prompt, "harbor bell tolled twice") {
		t.Error("second unit's prompt must carry the previous scene's ending")
	}
	if strings.Contains(writer.Requests[0].Prompt, "Previous scene ending") {
		t.Error("first unit has no previous scene")
	}
}

func TestRunWorkResumesCompletedUnits(t *testing.T) {
	dir := t.TempDir()

	writer := provider.NewMock("writer", provider.MockReply{Text: prose(14)})
	judge := provider.NewMock("judge", judgeReply(90))
	orch, _ := newTestOrchestrator(t, dir, writer, judge)
	if _, err := orch.RunWork(context.Background(), sceneWork(1), scenePool()); err != nil {
		t.Fatalf("first run error: %v", err)
	}

	// A rerun over the same archive must not regenerate the finished unit.
	writer2 := provider.NewMock("writer", provider.MockReply{Err: errors.New("should not be called")})
	judge2 := provider.NewMock("judge", judgeReply(90))
	orch2, _ := newTestOrchestrator(t, dir, writer2, judge2)

	result, err := orch2.RunWork(context.Background(), sceneWork(1), scenePool())
	if err != nil {
		t.Fatalf("resumed run error: %v", err)
	}
	if writer2.Calls() != 0 {
		t.Errorf("writer called %d times on resume, want 0", writer2.Calls())
	}
	if len(result.Units) != 0 {
		t.Errorf("resumed run produced %d new units, want 0", len(result.Units))
	}
}

func TestRunWorkRejectsInvalidWork(t *testing.T) {
	writer := provider.NewMock("writer")
	judge := provider.NewMock("judge", judgeReply(90))
	orch, _ := newTestOrchestrator(t, t.TempDir(), writer, judge)

	work := sceneWork(1)
	work.Units = append(work.Units, work.Units[0]) // duplicate identity

	if _, err := orch.RunWork(context.Background(), work, scenePool()); err == nil {
		t.Error("duplicate units must fail validation")
	}
}

func TestRunWorksParallel(t *testing.T) {
	writer := provider.NewMock("writer", provider.MockReply{Text: prose(14)})
	judge := provider.NewMock("judge", judgeReply(90))
	orch, _ := newTestOrchestrator(t, t.TempDir(), writer, judge)

	workA := sceneWork(1)
	workA.ID = "work_a"
	workB := sceneWork(1)
	workB.ID = "work_b"

	runs := []WorkRun{
		{Work: workA, Pool: scenePool()},
		{Work: workB, Pool: scenePool()},
	}

	results, err := orch.RunWorks(context.Background(), runs, 2)
	if err != nil {
		t.Fatalf("RunWorks() error: %v", err)
	}
	for i, result := range results {
		if result == nil {
			t.Fatalf("result[%d] is nil", i)
		}
		if result.WorkID != runs[i].Work.ID {
			t.Errorf("result[%d] work = %s, want %s", i, result.WorkID, runs[i].Work.ID)
		}
	}
}

func TestCostTracker(t *testing.T) {
	costs := NewCostTracker(1.0)
	if costs.OverBudget() {
		t.Error("fresh tracker over budget")
	}
	if total := costs.Add(0.6); total != 0.6 {
		t.Errorf("total = %f, want 0.6", total)
	}
	if costs.OverBudget() {
		t.Error("under cap reported as over budget")
	}
	costs.Add(0.6)
	if !costs.OverBudget() {
		t.Error("1.2 against a 1.0 cap must be over budget")
	}

	unlimited := NewCostTracker(0)
	unlimited.Add(1000)
	if unlimited.OverBudget() {
		t.Error("zero budget means unlimited")
	}
}
