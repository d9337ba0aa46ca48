package core

// ConversationHistoryExpression is the inputs-mapping sentinel that binds a
// flow input to the accumulated conversation history. Exactly one input per
// role must map to it.
const ConversationHistoryExpression = "${parent.conversation_history}"

// ConversationHistoryOutputKey is the reserved key under which the full
// conversation history is published in every line result.
const ConversationHistoryOutputKey = "conversation_history"

// Role is one named participant in a simulated conversation. It is static
// configuration: the orchestrator never mutates a Role after construction.
type Role struct {
	// Kind is the role tag recorded with every turn this role produces
	// (for example "assistant" or "critic").
	Kind string `yaml:"role"`

	// Name distinguishes multiple roles of the same kind.
	Name string `yaml:"name"`

	// FlowFile references the flow definition executed on this role's turns,
	// relative to WorkingDir unless absolute.
	FlowFile string `yaml:"flow_file"`

	// WorkingDir is the flow's working directory.
	WorkingDir string `yaml:"working_dir"`

	// Connections holds provider/tool connection settings handed to the
	// executor untouched.
	Connections map[string]any `yaml:"connections"`

	// InputsMapping maps flow input names to expressions: a ${data.*}
	// reference, a literal, or ConversationHistoryExpression.
	InputsMapping map[string]string `yaml:"inputs_mapping"`

	// StopSignal ends the conversation when any output value of this role's
	// turn equals it.
	StopSignal string `yaml:"stop_signal"`
}

// HistoryInputKey returns the flow input name bound to the conversation
// history expression and whether exactly one such binding exists.
func (r Role) HistoryInputKey() (string, bool) {
	key := ""
	count := 0
	for name, expr := range r.InputsMapping {
		if expr == ConversationHistoryExpression {
			key = name
			count++
		}
	}
	return key, count == 1
}

// HistoryMappingCount returns how many inputs map to the history expression.
func (r Role) HistoryMappingCount() int {
	count := 0
	for _, expr := range r.InputsMapping {
		if expr == ConversationHistoryExpression {
			count++
		}
	}
	return count
}

// String returns "kind/name" for logs and error messages.
func (r Role) String() string {
	if r.Name == "" {
		return r.Kind
	}
	return r.Kind + "/" + r.Name
}
