// SPDX-License-Identifier: Apache-2.0

// Package testing provides a declarative harness for multi-role
// conversation tests.
//
// This package includes:
//   - Scenario definitions for driving a conversation line end to end
//   - A scripted chat provider with request capture
//   - Assertion helpers for line results and histories
//
// Example usage:
//
//	scenario := testing.NewScenario("debate converges").
//	    WithInputValue("topic", "rollout plan").
//	    ExpectNoError().
//	    ExpectTurnCount(4).
//	    ExpectTurnValue(3, "answer", testing.Contains("agreed"))
//
//	scenario.Run(t, group).Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/tertulia/pkg/core"
)

// ConversationRunner runs one conversation line. It is satisfied by
// orchestrator.Orchestrator.
type ConversationRunner interface {
	ScheduleLine(ctx context.Context, lineIndex int, input map[string]any, runID string) (*core.LineResult, error)
}

// Scenario defines a declarative test for one conversation line.
type Scenario struct {
	name          string
	description   string
	input         map[string]any
	lineIndex     int
	runID         string
	context       context.Context
	timeout       time.Duration
	expectations  []Expectation
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Line     *core.LineResult
	Error    error
	Duration time.Duration
}

// Turns returns how many turns the line executed.
func (r *ScenarioResult) Turns() int {
	if r.Line == nil {
		return 0
	}
	n := 0
	for key := range r.Line.Output {
		if _, err := strconv.Atoi(key); err == nil {
			n++
		}
	}
	return n
}

// Record returns the turn record stored at the given turn index.
func (r *ScenarioResult) Record(turn int) (core.TurnRecord, bool) {
	if r.Line == nil {
		return nil, false
	}
	record, ok := r.Line.Output[strconv.Itoa(turn)].(core.TurnRecord)
	return record, ok
}

// History returns the full conversation history from the line result.
func (r *ScenarioResult) History() core.History {
	if r.Line == nil {
		return nil
	}
	history, _ := r.Line.Output[core.ConversationHistoryOutputKey].(core.History)
	return history
}

// NewScenario creates a new test scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:         name,
		timeout:      30 * time.Second,
		context:      context.Background(),
		input:        make(map[string]any),
		expectations: make([]Expectation, 0),
	}
}

// WithDescription adds a description to the scenario.
func (s *Scenario) WithDescription(desc string) *Scenario {
	s.description = desc
	return s
}

// WithInput replaces the line input for the scenario.
func (s *Scenario) WithInput(input map[string]any) *Scenario {
	s.input = input
	return s
}

// WithInputValue sets a single line input key.
func (s *Scenario) WithInputValue(key string, value any) *Scenario {
	s.input[key] = value
	return s
}

// WithLineIndex sets the line index the scenario schedules.
func (s *Scenario) WithLineIndex(index int) *Scenario {
	s.lineIndex = index
	return s
}

// WithRunID pins the run identifier instead of letting the runner mint one.
func (s *Scenario) WithRunID(runID string) *Scenario {
	s.runID = runID
	return s
}

// WithContext sets the context for the scenario.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout sets the timeout for the scenario.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a setup function to run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function to run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectNoError expects the line to complete without error.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects an error matching the given pattern.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectTurnCount expects the line to execute exactly n turns.
func (s *Scenario) ExpectTurnCount(n int) *Scenario {
	return s.Expect(&turnCountExpectation{count: n})
}

// ExpectTurnValue expects the given turn's output value to match.
func (s *Scenario) ExpectTurnValue(turn int, key string, matcher StringMatcher) *Scenario {
	return s.Expect(&turnValueExpectation{turn: turn, key: key, matcher: matcher})
}

// ExpectRoleOrder expects the turns to have been taken by exactly these
// role kinds, in order.
func (s *Scenario) ExpectRoleOrder(kinds ...string) *Scenario {
	return s.Expect(&roleOrderExpectation{kinds: kinds})
}

// ExpectEarlyStop expects the line to stop before exhausting maxTurn.
func (s *Scenario) ExpectEarlyStop(maxTurn int) *Scenario {
	return s.Expect(&earlyStopExpectation{maxTurn: maxTurn})
}

// ExpectMinDuration expects the scenario to take at least the given duration.
func (s *Scenario) ExpectMinDuration(d time.Duration) *Scenario {
	return s.Expect(&minDurationExpectation{min: d})
}

// ExpectMaxDuration expects the scenario to complete within the given duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run executes the scenario against the given runner.
func (s *Scenario) Run(t *testing.T, runner ConversationRunner) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	line, err := runner.ScheduleLine(ctx, s.lineIndex, s.input, s.runID)
	duration := time.Since(start)

	return &ScenarioResult{
		Line:     line,
		Error:    err,
		Duration: duration,
	}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()

	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{pattern: pattern}
}

// HasPrefix returns a matcher that checks if the string has the given prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

// HasSuffix returns a matcher that checks if the string has the given suffix.
func HasSuffix(suffix string) StringMatcher {
	return &suffixMatcher{suffix: suffix}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool {
	return strings.Contains(s, m.substr)
}

func (m *containsMatcher) Description() string {
	return fmt.Sprintf("contains %q", m.substr)
}

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool {
	return s == m.expected
}

func (m *equalsMatcher) Description() string {
	return fmt.Sprintf("equals %q", m.expected)
}

type regexMatcher struct {
	pattern string
}

func (m *regexMatcher) Match(s string) bool {
	re, err := regexp.Compile(m.pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (m *regexMatcher) Description() string {
	return fmt.Sprintf("matches %q", m.pattern)
}

type prefixMatcher struct {
	prefix string
}

func (m *prefixMatcher) Match(s string) bool {
	return strings.HasPrefix(s, m.prefix)
}

func (m *prefixMatcher) Description() string {
	return fmt.Sprintf("has prefix %q", m.prefix)
}

type suffixMatcher struct {
	suffix string
}

func (m *suffixMatcher) Match(s string) bool {
	return strings.HasSuffix(s, m.suffix)
}

func (m *suffixMatcher) Description() string {
	return fmt.Sprintf("has suffix %q", m.suffix)
}
