package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepilot/pkg/agent"
	"storepilot/pkg/events"
)

// appender fails on the action named "fail" and otherwise appends the action
// name to a string input.
func appender(calls *[]string) Executor {
	return ExecutorFunc(func(_ context.Context, typ agent.Type, req agent.Request) (any, error) {
		*calls = append(*calls, fmt.Sprintf("%s:%s", typ, req.Type))
		if req.Type == "fail" {
			return nil, errBoom
		}
		return fmt.Sprintf("%v>%s", req.Input, req.Type), nil
	})
}

var errBoom = errors.New("boom")

func kinds(bus *events.Bus) *[]events.Kind {
	var got []events.Kind
	bus.Subscribe(func(e events.Event) { got = append(got, e.Kind) })
	return &got
}

func TestExecuteThreadsOutputs(t *testing.T) {
	var calls []string
	bus := events.NewBus("test")
	seen := kinds(bus)
	e := NewEngine(appender(&calls), bus)

	wf, err := e.Create("chain", "three steps", []StepSpec{
		{Agent: agent.TypeTrendAnalyzer, Action: "a", Input: "seed"},
		{Agent: agent.TypeProductScout, Action: "b"},
		{Agent: agent.TypeContentWriter, Action: "c"},
	})
	require.NoError(t, err)
	for _, s := range wf.Steps {
		assert.Equal(t, StepPending, s.Status)
	}
	assert.Equal(t, StatusIdle, wf.Status)

	out, err := e.Execute(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "seed>a>b>c", out)

	got, err := e.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, out, got.Result)
	assert.Equal(t, got.Steps[len(got.Steps)-1].Output, got.Result)
	for i := 1; i < len(got.Steps); i++ {
		assert.Equal(t, got.Steps[i-1].Output, got.Steps[i].Input)
		assert.Equal(t, StepCompleted, got.Steps[i].Status)
	}
	assert.False(t, got.CompletedAt.Before(got.StartedAt))

	assert.Equal(t, []events.Kind{
		events.KindWorkflowStarted,
		events.KindWorkflowStepCompleted,
		events.KindWorkflowStepCompleted,
		events.KindWorkflowStepCompleted,
		events.KindWorkflowCompleted,
	}, *seen)
	assert.Equal(t, []string{"trend_analyzer:a", "product_scout:b", "content_writer:c"}, calls)
}

func TestFailingStepAbortsWorkflow(t *testing.T) {
	var calls []string
	bus := events.NewBus("test")
	seen := kinds(bus)
	e := NewEngine(appender(&calls), bus)

	wf, err := e.Create("broken", "", []StepSpec{
		{Agent: agent.TypeTrendAnalyzer, Action: "a", Input: "seed"},
		{Agent: agent.TypeProductScout, Action: "fail"},
		{Agent: agent.TypeContentWriter, Action: "c"},
	})
	require.NoError(t, err)

	out, err := e.Execute(context.Background(), wf.ID)
	assert.Nil(t, out)
	require.ErrorIs(t, err, errBoom)
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, serr.Index)
	assert.Equal(t, agent.TypeProductScout, serr.Agent)

	got, err := e.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, StepCompleted, got.Steps[0].Status)
	assert.Equal(t, StepFailed, got.Steps[1].Status)
	assert.Equal(t, "boom", got.Steps[1].Error)
	assert.Equal(t, StepPending, got.Steps[2].Status)
	assert.Nil(t, got.Result)
	assert.Len(t, calls, 2)
	assert.Equal(t, events.KindWorkflowFailed, (*seen)[len(*seen)-1])
}

func TestExplicitInputInLaterStepIsKept(t *testing.T) {
	var calls []string
	e := NewEngine(appender(&calls), nil)
	out, err := e.Run(context.Background(), "reset", "", []StepSpec{
		{Agent: agent.TypeTrendAnalyzer, Action: "a", Input: "one"},
		{Agent: agent.TypeProductScout, Action: "b", Input: "two"},
	})
	require.NoError(t, err)
	assert.Equal(t, "two>b", out)
}

func TestCreateValidation(t *testing.T) {
	e := NewEngine(appender(new([]string)), nil)
	_, err := e.Create("x", "", []StepSpec{{Agent: agent.TypeTrendAnalyzer, Action: "a"}})
	assert.ErrorIs(t, err, ErrNoInitialInput)

	_, err = e.Create("x", "", nil)
	assert.Error(t, err)

	_, err = e.Create("x", "", []StepSpec{{Agent: "warehouse", Action: "a", Input: 1}})
	assert.Error(t, err)
}

func TestExecuteUnknownAndFinished(t *testing.T) {
	e := NewEngine(appender(new([]string)), nil)
	_, err := e.Execute(context.Background(), "wf_missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	wf, err := e.Create("once", "", []StepSpec{{Agent: agent.TypeTrendAnalyzer, Action: "a", Input: "s"}})
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), wf.ID)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), wf.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotRunnable)
}

func TestListAndRemove(t *testing.T) {
	e := NewEngine(appender(new([]string)), nil)
	a, err := e.Create("a", "", []StepSpec{{Agent: agent.TypeTrendAnalyzer, Action: "a", Input: "s"}})
	require.NoError(t, err)
	_, err = e.Create("b", "", []StepSpec{{Agent: agent.TypeTrendAnalyzer, Action: "a", Input: "s"}})
	require.NoError(t, err)
	assert.Len(t, e.List(), 2)

	require.NoError(t, e.Remove(a.ID))
	assert.Len(t, e.List(), 1)
	assert.ErrorIs(t, e.Remove(a.ID), ErrWorkflowNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	e := NewEngine(appender(new([]string)), nil)
	wf, err := e.Create("a", "", []StepSpec{{Agent: agent.TypeTrendAnalyzer, Action: "a", Input: "s"}})
	require.NoError(t, err)
	wf.Steps[0].Status = StepFailed

	fresh, err := e.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StepPending, fresh.Steps[0].Status)
}

func TestTemplatesStartWithInput(t *testing.T) {
	for name, steps := range map[string][]StepSpec{
		ProductDiscovery:   ProductDiscoverySteps("pets"),
		QuickImport:        QuickImportSteps("https://x.example/item"),
		CompetitorAnalysis: CompetitorAnalysisSteps("pets"),
	} {
		require.NotEmpty(t, steps, name)
		assert.NotNil(t, steps[0].Input, name)
		for _, s := range steps[1:] {
			assert.Nil(t, s.Input, name)
		}
	}
	assert.Len(t, ProductDiscoverySteps("x"), 4)
	assert.Len(t, QuickImportSteps("x"), 3)
	assert.Len(t, CompetitorAnalysisSteps("x"), 3)
}
