// Package flow loads the YAML flow definitions that back chat roles.
package flow

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/tertulia/pkg/errors"
)

// Kind selects the executor implementation for a flow.
type Kind string

const (
	KindLLM      Kind = "llm"
	KindMCP      Kind = "mcp"
	KindScripted Kind = "scripted"
)

// Input describes one declared flow input.
type Input struct {
	Type        string `yaml:"type"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

// LLMSpec configures a model-backed flow.
type LLMSpec struct {
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"base_url"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
	// OutputField names the output key the model answer is published under.
	// Defaults to "answer".
	OutputField string `yaml:"output_field"`
}

// MCPSpec configures a tool-backed flow executed over MCP.
type MCPSpec struct {
	// Transport is "stdio" or "http".
	Transport string   `yaml:"transport"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	Endpoint  string   `yaml:"endpoint"`
	Tool      string   `yaml:"tool"`
	// OutputField names the output key the tool result is published under.
	// Defaults to "result".
	OutputField string `yaml:"output_field"`
}

// ScriptedSpec configures a deterministic flow replaying canned outputs.
type ScriptedSpec struct {
	// Outputs are replayed in order, one per turn, repeating the last entry
	// once exhausted.
	Outputs []map[string]any `yaml:"outputs"`
}

// Definition is a parsed flow file.
type Definition struct {
	Kind    Kind             `yaml:"kind"`
	Inputs  map[string]Input `yaml:"inputs"`
	LLM     *LLMSpec         `yaml:"llm"`
	MCP     *MCPSpec         `yaml:"mcp"`
	Script  *ScriptedSpec    `yaml:"scripted"`
	Path    string           `yaml:"-"`
	WorkDir string           `yaml:"-"`
}

// ResolvePath joins a flow file reference with its working directory.
func ResolvePath(workingDir, flowFile string) string {
	if filepath.IsAbs(flowFile) || workingDir == "" {
		return flowFile
	}
	return filepath.Join(workingDir, flowFile)
}

// Load reads and validates a flow definition.
func Load(workingDir, flowFile string) (*Definition, error) {
	path := ResolvePath(workingDir, flowFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeFlowLoadFailed,
			fmt.Sprintf("cannot read flow file %s", path), err)
	}
	return Parse(data, path, workingDir)
}

// Parse decodes a flow definition from raw YAML.
func Parse(data []byte, path, workingDir string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.New(errors.CodeFlowLoadFailed,
			fmt.Sprintf("cannot parse flow file %s", path), err)
	}
	def.Path = path
	def.WorkDir = workingDir
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) validate() error {
	switch d.Kind {
	case KindLLM:
		if d.LLM == nil {
			return errors.New(errors.CodeFlowLoadFailed,
				fmt.Sprintf("flow %s: kind llm requires an llm section", d.Path), nil)
		}
		if d.LLM.Model == "" {
			return errors.New(errors.CodeFlowLoadFailed,
				fmt.Sprintf("flow %s: llm.model is required", d.Path), nil)
		}
		if d.LLM.OutputField == "" {
			d.LLM.OutputField = "answer"
		}
	case KindMCP:
		if d.MCP == nil {
			return errors.New(errors.CodeFlowLoadFailed,
				fmt.Sprintf("flow %s: kind mcp requires an mcp section", d.Path), nil)
		}
		if d.MCP.Tool == "" {
			return errors.New(errors.CodeFlowLoadFailed,
				fmt.Sprintf("flow %s: mcp.tool is required", d.Path), nil)
		}
		if d.MCP.OutputField == "" {
			d.MCP.OutputField = "result"
		}
	case KindScripted:
		if d.Script == nil || len(d.Script.Outputs) == 0 {
			return errors.New(errors.CodeFlowLoadFailed,
				fmt.Sprintf("flow %s: kind scripted requires scripted.outputs", d.Path), nil)
		}
	case "":
		return errors.New(errors.CodeFlowLoadFailed,
			fmt.Sprintf("flow %s: kind is required", d.Path), nil)
	default:
		return errors.New(errors.CodeFlowLoadFailed,
			fmt.Sprintf("flow %s: unknown kind %q", d.Path, d.Kind), nil)
	}
	return nil
}
