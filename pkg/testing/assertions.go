// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/tertulia/pkg/core"
)

// noErrorExpectation fails when the line returned an error.
type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(result *ScenarioResult) error {
	if result.Error != nil {
		return fmt.Errorf("unexpected error: %v", result.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string {
	return "no error"
}

// errorExpectation requires an error matching the configured pattern.
type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(result *ScenarioResult) error {
	if result.Error == nil {
		return fmt.Errorf("expected error %s, got nil", e.matcher.Description())
	}
	if !e.matcher.Match(result.Error.Error()) {
		return fmt.Errorf("error %q does not match %s", result.Error, e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return fmt.Sprintf("error %s", e.matcher.Description())
}

type turnCountExpectation struct {
	count int
}

func (e *turnCountExpectation) Check(result *ScenarioResult) error {
	if got := result.Turns(); got != e.count {
		return fmt.Errorf("line executed %d turns, want %d", got, e.count)
	}
	return nil
}

func (e *turnCountExpectation) Description() string {
	return fmt.Sprintf("turn count %d", e.count)
}

type turnValueExpectation struct {
	turn    int
	key     string
	matcher StringMatcher
}

func (e *turnValueExpectation) Check(result *ScenarioResult) error {
	record, ok := result.Record(e.turn)
	if !ok {
		return fmt.Errorf("no record for turn %d", e.turn)
	}
	value, ok := record[e.key].(string)
	if !ok {
		return fmt.Errorf("turn %d has no string value under %q (record: %v)", e.turn, e.key, record)
	}
	if !e.matcher.Match(value) {
		return fmt.Errorf("turn %d %q = %q does not match %s", e.turn, e.key, value, e.matcher.Description())
	}
	return nil
}

func (e *turnValueExpectation) Description() string {
	return fmt.Sprintf("turn %d output %q %s", e.turn, e.key, e.matcher.Description())
}

type roleOrderExpectation struct {
	kinds []string
}

func (e *roleOrderExpectation) Check(result *ScenarioResult) error {
	if got := result.Turns(); got != len(e.kinds) {
		return fmt.Errorf("line executed %d turns, want %d", got, len(e.kinds))
	}
	for turn, kind := range e.kinds {
		record, ok := result.Record(turn)
		if !ok {
			return fmt.Errorf("no record for turn %d", turn)
		}
		if got, _ := record["role"].(string); got != kind {
			return fmt.Errorf("turn %d taken by %q, want %q", turn, got, kind)
		}
	}
	return nil
}

func (e *roleOrderExpectation) Description() string {
	return fmt.Sprintf("role order %v", e.kinds)
}

type earlyStopExpectation struct {
	maxTurn int
}

func (e *earlyStopExpectation) Check(result *ScenarioResult) error {
	if got := result.Turns(); got >= e.maxTurn {
		return fmt.Errorf("line ran %d turns, expected an early stop before %d", got, e.maxTurn)
	}
	return nil
}

func (e *earlyStopExpectation) Description() string {
	return fmt.Sprintf("early stop before turn %d", e.maxTurn)
}

type minDurationExpectation struct {
	min time.Duration
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *minDurationExpectation) Check(result *ScenarioResult) error {
	if result.Duration < e.min {
		return fmt.Errorf("completed in %v, expected at least %v", result.Duration, e.min)
	}
	return nil
}

func (e *minDurationExpectation) Description() string {
	return fmt.Sprintf("takes at least %v", e.min)
}

func (e *maxDurationExpectation) Check(result *ScenarioResult) error {
	if result.Duration > e.max {
		return fmt.Errorf("completed in %v, expected at most %v", result.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("completes within %v", e.max)
}

// Assertions provides assertion helpers for conversation tests.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

// AssertEqual asserts that two values are equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		a.t.Errorf("%s: expected %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertTrue asserts that the value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.t.Errorf("%s: expected true", msg)
		a.failed = true
	}
}

// AssertContains asserts that the string contains the substring.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.t.Errorf("%s: %q does not contain %q", msg, s, substr)
		a.failed = true
	}
}

// AssertError asserts that the error is not nil.
func (a *Assertions) AssertError(err error, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error, got nil", msg)
		a.failed = true
	}
}

// AssertNoError asserts that the error is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Errorf("%s: unexpected error: %v", msg, err)
		a.failed = true
	}
}

// AssertJSONEqual asserts that two JSON documents are semantically equal.
func (a *Assertions) AssertJSONEqual(expected, actual string, msg string) {
	a.t.Helper()
	var want, got any
	if err := json.Unmarshal([]byte(expected), &want); err != nil {
		a.t.Errorf("%s: invalid expected JSON: %v", msg, err)
		a.failed = true
		return
	}
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		a.t.Errorf("%s: invalid actual JSON: %v", msg, err)
		a.failed = true
		return
	}
	if !reflect.DeepEqual(want, got) {
		a.t.Errorf("%s: JSON mismatch\nexpected: %s\nactual:   %s", msg, expected, actual)
		a.failed = true
	}
}

// AssertHistoryRoles asserts that the history records carry exactly these
// role kinds, in order.
func (a *Assertions) AssertHistoryRoles(history core.History, kinds ...string) {
	a.t.Helper()
	if len(history) != len(kinds) {
		a.t.Errorf("history has %d records, want %d", len(history), len(kinds))
		a.failed = true
		return
	}
	for i, kind := range kinds {
		if got, _ := history[i]["role"].(string); got != kind {
			a.t.Errorf("history[%d] role = %q, want %q", i, got, kind)
			a.failed = true
		}
	}
}
