package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/errors"
	"github.com/jllopis/tertulia/pkg/executor"
	"github.com/jllopis/tertulia/pkg/flow"
)

// fakeExecutor produces outputs from a per-turn function and records
// every input it receives.
type fakeExecutor struct {
	mu        sync.Mutex
	produce   func(turn int, input map[string]any) (map[string]any, error)
	inputs    []map[string]any
	destroys  int
	destroyEr error
}

func (f *fakeExecutor) ExecLine(ctx context.Context, input map[string]any, lineIndex int, runID string) (*core.TurnResult, error) {
	f.mu.Lock()
	turn := len(f.inputs)
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	output, err := f.produce(turn, input)
	if err != nil {
		return nil, err
	}
	return &core.TurnResult{
		Output: output,
		RunInfo: core.RunInfo{
			RunID:  fmt.Sprintf("%s_%d", runID, turn),
			Status: core.RunStatusCompleted,
		},
		NodeRunInfos: map[string]core.NodeRunInfo{
			"node": {Node: "node", Status: core.RunStatusCompleted},
		},
	}, nil
}

func (f *fakeExecutor) Destroy(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return f.destroyEr
}

func echoExecutor(kind string) *fakeExecutor {
	return &fakeExecutor{
		produce: func(turn int, _ map[string]any) (map[string]any, error) {
			return map[string]any{"answer": fmt.Sprintf("%s says %d", kind, turn)}, nil
		},
	}
}

func chatRole(kind, stopSignal string) core.Role {
	return core.Role{
		Kind:       kind,
		Name:       kind + "_flow",
		StopSignal: stopSignal,
		InputsMapping: map[string]string{
			"history": core.ConversationHistoryExpression,
			"topic":   "${data.topic}",
		},
	}
}

// buildGroup wires an orchestrator over fake executors, bypassing flow
// files entirely.
func buildGroup(t *testing.T, roles []core.Role, maxTurn int, fakes map[string]*fakeExecutor, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append(opts,
		WithFlowLoader(func(core.Role) (*flow.Definition, error) { return nil, nil }),
		WithExecutorFactory(func(role core.Role, _ *flow.Definition, _ executor.Options) (core.ExecutorProxy, error) {
			exec, ok := fakes[role.Kind]
			if !ok {
				t.Fatalf("no fake executor for role %s", role.Kind)
			}
			return exec, nil
		}),
	)
	o, err := New(roles, maxTurn, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestScheduleLineRoundRobin(t *testing.T) {
	fakes := map[string]*fakeExecutor{
		"assistant": echoExecutor("assistant"),
		"critic":    echoExecutor("critic"),
		"judge":     echoExecutor("judge"),
	}
	roles := []core.Role{chatRole("assistant", ""), chatRole("critic", ""), chatRole("judge", "")}
	o := buildGroup(t, roles, 7, fakes)
	defer o.Destroy(context.Background())

	line, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "cats"}, "run-1")
	if err != nil {
		t.Fatalf("ScheduleLine: %v", err)
	}

	// 7 turn outputs plus the reserved history key.
	if len(line.Output) != 8 {
		t.Fatalf("got %d output entries, want 8", len(line.Output))
	}
	history, ok := line.Output[core.ConversationHistoryOutputKey].(core.History)
	if !ok {
		t.Fatalf("missing conversation history output, got %T", line.Output[core.ConversationHistoryOutputKey])
	}
	if len(history) != 7 {
		t.Fatalf("history has %d records, want 7", len(history))
	}

	wantOrder := []string{"assistant", "critic", "judge", "assistant", "critic", "judge", "assistant"}
	for turn, wantKind := range wantOrder {
		record, ok := line.Output[strconv.Itoa(turn)].(core.TurnRecord)
		if !ok {
			t.Fatalf("turn %d output is %T, want TurnRecord", turn, line.Output[strconv.Itoa(turn)])
		}
		if record[core.RoleKey] != wantKind {
			t.Errorf("turn %d spoken by %v, want %s", turn, record[core.RoleKey], wantKind)
		}
		if history[turn][core.RoleKey] != wantKind {
			t.Errorf("history record %d role %v, want %s", turn, history[turn][core.RoleKey], wantKind)
		}
	}

	// Assistant executed turns 0, 3 and 6; each saw the history as it
	// stood before its own turn, resolved topic included.
	assistant := fakes["assistant"]
	if len(assistant.inputs) != 3 {
		t.Fatalf("assistant executed %d turns, want 3", len(assistant.inputs))
	}
	for i, wantLen := range []int{0, 3, 6} {
		input := assistant.inputs[i]
		if input["topic"] != "cats" {
			t.Errorf("call %d: topic = %v, want cats", i, input["topic"])
		}
		got, ok := input["history"].(core.History)
		if !ok {
			t.Fatalf("call %d: history input is %T", i, input["history"])
		}
		if len(got) != wantLen {
			t.Errorf("call %d: saw %d history records, want %d", i, len(got), wantLen)
		}
	}

	// Run info comes from the last executed turn.
	if line.RunInfo.RunID != "run-1_2" {
		t.Errorf("run info from %q, want last turn's run-1_2", line.RunInfo.RunID)
	}
}

func TestScheduleLineStopsOnStopSignal(t *testing.T) {
	fakes := map[string]*fakeExecutor{
		"assistant": echoExecutor("assistant"),
		"moderator": {
			produce: func(turn int, _ map[string]any) (map[string]any, error) {
				if turn == 1 {
					return map[string]any{"verdict": "STOP"}, nil
				}
				return map[string]any{"verdict": "continue"}, nil
			},
		},
	}
	roles := []core.Role{chatRole("assistant", ""), chatRole("moderator", "STOP")}
	o := buildGroup(t, roles, 10, fakes)

	line, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "x"}, "run-1")
	if err != nil {
		t.Fatalf("ScheduleLine: %v", err)
	}

	// Turns 0..3 executed; the moderator's second turn carried the stop
	// signal, so the stopping turn itself is still recorded.
	history := line.Output[core.ConversationHistoryOutputKey].(core.History)
	if len(history) != 4 {
		t.Fatalf("history has %d records, want 4", len(history))
	}
	if _, exists := line.Output["4"]; exists {
		t.Fatal("no turn must execute after the stop signal")
	}
	if history[3]["verdict"] != "STOP" {
		t.Fatalf("last record should carry the stop signal, got %v", history[3])
	}
}

func TestScheduleLineStopSignalMatchesAnyOutputValue(t *testing.T) {
	fakes := map[string]*fakeExecutor{
		"a": {
			produce: func(int, map[string]any) (map[string]any, error) {
				return map[string]any{"answer": "text", "aside": "DONE"}, nil
			},
		},
		"b": echoExecutor("b"),
	}
	roles := []core.Role{chatRole("a", "DONE"), chatRole("b", "")}
	o := buildGroup(t, roles, 6, fakes)

	line, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "x"}, "")
	if err != nil {
		t.Fatalf("ScheduleLine: %v", err)
	}
	history := line.Output[core.ConversationHistoryOutputKey].(core.History)
	if len(history) != 1 {
		t.Fatalf("stop signal in a secondary field must stop the conversation, got %d turns", len(history))
	}
}

func TestScheduleLineStopSignalRequiresExactMatch(t *testing.T) {
	fakes := map[string]*fakeExecutor{
		"a": {
			produce: func(int, map[string]any) (map[string]any, error) {
				// Contains the signal but is not equal to it.
				return map[string]any{"answer": "Fine. I concede"}, nil
			},
		},
		"b": echoExecutor("b"),
	}
	roles := []core.Role{chatRole("a", "I concede"), chatRole("b", "")}
	o := buildGroup(t, roles, 4, fakes)

	line, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "x"}, "")
	if err != nil {
		t.Fatalf("ScheduleLine: %v", err)
	}
	history := line.Output[core.ConversationHistoryOutputKey].(core.History)
	if len(history) != 4 {
		t.Fatalf("a superstring of the stop signal must not stop the conversation, got %d turns", len(history))
	}
}

func TestNewValidation(t *testing.T) {
	passThrough := []Option{
		WithFlowLoader(func(core.Role) (*flow.Definition, error) { return nil, nil }),
		WithExecutorFactory(func(core.Role, *flow.Definition, executor.Options) (core.ExecutorProxy, error) {
			t.Fatal("no executor may be created for an invalid registry")
			return nil, nil
		}),
	}

	t.Run("role count", func(t *testing.T) {
		_, err := New([]core.Role{chatRole("solo", "")}, 4, passThrough...)
		te := errors.AsTertuliaError(err)
		if te == nil || te.Code != errors.CodeInvalidRoleCount {
			t.Fatalf("got %v, want %s", err, errors.CodeInvalidRoleCount)
		}
	})

	t.Run("max turn", func(t *testing.T) {
		roles := []core.Role{chatRole("a", ""), chatRole("b", "")}
		_, err := New(roles, 0, passThrough...)
		te := errors.AsTertuliaError(err)
		if te == nil || te.Code != errors.CodeInvalidInput {
			t.Fatalf("got %v, want %s", err, errors.CodeInvalidInput)
		}
	})

	t.Run("missing history mapping", func(t *testing.T) {
		bad := chatRole("b", "")
		bad.InputsMapping = map[string]string{"topic": "${data.topic}"}
		_, err := New([]core.Role{chatRole("a", ""), bad}, 4, passThrough...)
		te := errors.AsTertuliaError(err)
		if te == nil || te.Code != errors.CodeMissingHistoryMapping {
			t.Fatalf("got %v, want %s", err, errors.CodeMissingHistoryMapping)
		}
	})

	t.Run("multiple history mappings", func(t *testing.T) {
		bad := chatRole("b", "")
		bad.InputsMapping = map[string]string{
			"history":  core.ConversationHistoryExpression,
			"history2": core.ConversationHistoryExpression,
		}
		_, err := New([]core.Role{chatRole("a", ""), bad}, 4, passThrough...)
		te := errors.AsTertuliaError(err)
		if te == nil || te.Code != errors.CodeMultipleHistoryMappings {
			t.Fatalf("got %v, want %s", err, errors.CodeMultipleHistoryMappings)
		}
	})
}

func TestScheduleLineResolverFailureBeforeAnyTurn(t *testing.T) {
	fakes := map[string]*fakeExecutor{
		"a": echoExecutor("a"),
		"b": echoExecutor("b"),
	}
	o := buildGroup(t, []core.Role{chatRole("a", ""), chatRole("b", "")}, 4, fakes)

	// topic references ${data.topic}, absent from the raw input.
	_, err := o.ScheduleLine(context.Background(), 0, map[string]any{"other": 1}, "run-1")
	te := errors.AsTertuliaError(err)
	if te == nil || te.Code != errors.CodeInvalidInput {
		t.Fatalf("got %v, want %s", err, errors.CodeInvalidInput)
	}
	if len(fakes["a"].inputs)+len(fakes["b"].inputs) != 0 {
		t.Fatal("no turn may execute when input resolution fails")
	}
}

func TestScheduleLineExecutionFailure(t *testing.T) {
	boom := fmt.Errorf("backend down")
	fakes := map[string]*fakeExecutor{
		"a": echoExecutor("a"),
		"b": {
			produce: func(int, map[string]any) (map[string]any, error) { return nil, boom },
		},
	}
	o := buildGroup(t, []core.Role{chatRole("a", ""), chatRole("b", "")}, 6, fakes)

	_, err := o.ScheduleLine(context.Background(), 2, map[string]any{"topic": "x"}, "run-1")
	te := errors.AsTertuliaError(err)
	if te == nil || te.Code != errors.CodeExecutionFailed {
		t.Fatalf("got %v, want %s", err, errors.CodeExecutionFailed)
	}
	if te.Context["role"] != "b/b_flow" || te.Context["turn"] != 1 || te.Context["line_index"] != 2 {
		t.Fatalf("error context incomplete: %+v", te.Context)
	}
	if !stderrors.Is(err, boom) {
		t.Fatalf("cause not preserved: %v", err)
	}
	// The failed turn stopped the line; the first role never got turn 2.
	if len(fakes["a"].inputs) != 1 {
		t.Fatalf("role a executed %d turns, want 1", len(fakes["a"].inputs))
	}
}

func TestScheduleLineKeepsTypedExecutorErrors(t *testing.T) {
	timedOut := errors.New(errors.CodeTimeout, "provider call exceeded timeout", nil)
	fakes := map[string]*fakeExecutor{
		"a": {
			produce: func(int, map[string]any) (map[string]any, error) { return nil, timedOut },
		},
		"b": echoExecutor("b"),
	}
	o := buildGroup(t, []core.Role{chatRole("a", ""), chatRole("b", "")}, 4, fakes)

	_, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "x"}, "run-1")
	te := errors.AsTertuliaError(err)
	if te == nil || te.Code != errors.CodeTimeout {
		t.Fatalf("got %v, want the executor's %s untouched", err, errors.CodeTimeout)
	}
	if te.Context["role"] != "a/a_flow" || te.Context["turn"] != 0 {
		t.Fatalf("error context incomplete: %+v", te.Context)
	}
}

func TestScheduleLineHistorySnapshotIsolation(t *testing.T) {
	fakes := map[string]*fakeExecutor{
		"a": {
			produce: func(turn int, input map[string]any) (map[string]any, error) {
				// A hostile executor mutating its snapshot must not
				// corrupt the shared history.
				if h, ok := input["history"].(core.History); ok && len(h) > 0 {
					h[0]["answer"] = "tampered"
				}
				return map[string]any{"answer": "a" + strconv.Itoa(turn)}, nil
			},
		},
		"b": echoExecutor("b"),
	}
	o := buildGroup(t, []core.Role{chatRole("a", ""), chatRole("b", "")}, 4, fakes)

	line, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "x"}, "")
	if err != nil {
		t.Fatalf("ScheduleLine: %v", err)
	}
	history := line.Output[core.ConversationHistoryOutputKey].(core.History)
	if history[0]["answer"] != "a0" {
		t.Fatalf("shared history was mutated by an executor: %v", history[0])
	}
}

func TestScheduleLineIndependentLines(t *testing.T) {
	fakes := map[string]*fakeExecutor{
		"a": echoExecutor("a"),
		"b": echoExecutor("b"),
	}
	o := buildGroup(t, []core.Role{chatRole("a", ""), chatRole("b", "")}, 2, fakes)

	for lineIndex := 0; lineIndex < 3; lineIndex++ {
		line, err := o.ScheduleLine(context.Background(), lineIndex, map[string]any{"topic": "x"}, "")
		if err != nil {
			t.Fatalf("line %d: %v", lineIndex, err)
		}
		history := line.Output[core.ConversationHistoryOutputKey].(core.History)
		if len(history) != 2 {
			t.Fatalf("line %d: history leaked across lines, got %d records", lineIndex, len(history))
		}
	}
}

type recordingSink struct {
	mu      sync.Mutex
	saves   []core.History
	saveErr error
}

func (s *recordingSink) Save(_ context.Context, runID string, lineIndex int, history core.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, history)
	return s.saveErr
}

func TestScheduleLineArchivesTranscript(t *testing.T) {
	sink := &recordingSink{}
	fakes := map[string]*fakeExecutor{
		"a": echoExecutor("a"),
		"b": echoExecutor("b"),
	}
	roles := []core.Role{chatRole("a", ""), chatRole("b", "")}
	o := buildGroup(t, roles, 3, fakes, WithTranscripts(sink))

	if _, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "x"}, ""); err != nil {
		t.Fatalf("ScheduleLine: %v", err)
	}
	if len(sink.saves) != 1 || len(sink.saves[0]) != 3 {
		t.Fatalf("transcript sink got %+v, want one 3-record history", sink.saves)
	}

	// A failing sink must not fail the line.
	sink.saveErr = fmt.Errorf("disk full")
	if _, err := o.ScheduleLine(context.Background(), 1, map[string]any{"topic": "x"}, ""); err != nil {
		t.Fatalf("ScheduleLine with failing sink: %v", err)
	}
}

func TestDestroyBestEffort(t *testing.T) {
	failing := echoExecutor("a")
	failing.destroyEr = fmt.Errorf("stuck subprocess")
	healthy := echoExecutor("b")

	fakes := map[string]*fakeExecutor{"a": failing, "b": healthy}
	o := buildGroup(t, []core.Role{chatRole("a", ""), chatRole("b", "")}, 2, fakes)

	err := o.Destroy(context.Background())
	te := errors.AsTertuliaError(err)
	if te == nil || te.Code != errors.CodeDestroyFailed {
		t.Fatalf("got %v, want %s", err, errors.CodeDestroyFailed)
	}
	if healthy.destroys != 1 {
		t.Fatal("a failing executor must not abort teardown of the rest")
	}

	// Second call is a no-op returning the original result.
	if err2 := o.Destroy(context.Background()); err2 != err {
		t.Fatalf("repeat Destroy returned %v, want cached %v", err2, err)
	}
	if failing.destroys != 1 || healthy.destroys != 1 {
		t.Fatal("Destroy must tear each executor down exactly once")
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recordingEmitter) Emit(_ context.Context, event core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestScheduleLineEmitsEvents(t *testing.T) {
	emitter := &recordingEmitter{}
	fakes := map[string]*fakeExecutor{
		"a": echoExecutor("a"),
		"b": {
			produce: func(int, map[string]any) (map[string]any, error) {
				return map[string]any{"verdict": "STOP"}, nil
			},
		},
	}
	roles := []core.Role{chatRole("a", ""), chatRole("b", "STOP")}
	o := buildGroup(t, roles, 6, fakes, WithEvents(emitter))

	if _, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "x"}, "run-1"); err != nil {
		t.Fatalf("ScheduleLine: %v", err)
	}

	var types []core.EventType
	for _, event := range emitter.events {
		types = append(types, event.Type)
	}
	want := []core.EventType{
		core.EventLineStarted,
		core.EventTurnStarted, core.EventTurnCompleted,
		core.EventTurnStarted, core.EventTurnCompleted,
		core.EventStopSignal,
		core.EventLineCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("got events %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestProxyFlattensLineResult(t *testing.T) {
	fakes := map[string]*fakeExecutor{
		"a": echoExecutor("a"),
		"b": echoExecutor("b"),
	}
	o := buildGroup(t, []core.Role{chatRole("a", ""), chatRole("b", "")}, 2, fakes)
	proxy := NewProxy(o)

	result, err := proxy.ExecLine(context.Background(), map[string]any{"topic": "x"}, 0, "run-1")
	if err != nil {
		t.Fatalf("ExecLine: %v", err)
	}
	if _, ok := result.Output[core.ConversationHistoryOutputKey]; !ok {
		t.Fatal("proxy result must carry the conversation history output")
	}
	if err := proxy.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

// End-to-end through the real factory: scripted flows loaded from
// in-memory definitions.
func TestScheduleLineWithScriptedFlows(t *testing.T) {
	defs := map[string]*flow.Definition{
		"optimist": {
			Kind: flow.KindScripted,
			Script: &flow.ScriptedSpec{Outputs: []map[string]any{
				{"answer": "it will work"},
				{"answer": "still confident"},
			}},
		},
		"pessimist": {
			Kind: flow.KindScripted,
			Script: &flow.ScriptedSpec{Outputs: []map[string]any{
				{"answer": "it will not"},
				{"answer": "I give up"},
			}},
		},
	}
	roles := []core.Role{chatRole("optimist", ""), chatRole("pessimist", "I give up")}
	o, err := New(roles, 8,
		WithFlowLoader(func(role core.Role) (*flow.Definition, error) { return defs[role.Kind], nil }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Destroy(context.Background())

	line, err := o.ScheduleLine(context.Background(), 0, map[string]any{"topic": "deploy"}, "")
	if err != nil {
		t.Fatalf("ScheduleLine: %v", err)
	}
	history := line.Output[core.ConversationHistoryOutputKey].(core.History)
	if len(history) != 4 {
		t.Fatalf("conversation ran %d turns, want 4 (stop on pessimist's second)", len(history))
	}
	if history[3]["answer"] != "I give up" {
		t.Fatalf("unexpected final record: %v", history[3])
	}
}
