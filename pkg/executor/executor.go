// Package executor builds the per-role executors that run one
// conversation turn at a time. Each flow kind maps to one executor
// implementation: model-backed (llm), tool-backed (mcp) and scripted.
package executor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/errors"
	"github.com/jllopis/tertulia/pkg/flow"
	"github.com/jllopis/tertulia/pkg/llm"
	"github.com/jllopis/tertulia/pkg/mcp"
	"github.com/jllopis/tertulia/pkg/resilience"
	"github.com/jllopis/tertulia/pkg/storage"
)

const defaultTurnTimeout = 120 * time.Second

// ProviderFactory builds the chat provider for a model-backed flow.
type ProviderFactory func(spec *flow.LLMSpec) (llm.Provider, error)

// ClientFactory builds the MCP client for a tool-backed flow.
type ClientFactory func(spec *flow.MCPSpec) (*mcp.Client, error)

// Options carries the collaborators shared by all executors built from
// one factory. Zero values get sensible defaults.
type Options struct {
	Logger  *slog.Logger
	Retry   resilience.RetryConfig
	Timeout time.Duration

	// Storage, when set, receives one record per executed turn.
	// Persistence failures are logged, never fatal.
	Storage storage.RunStorage

	// Providers and Clients exist so tests can substitute fakes.
	Providers ProviderFactory
	Clients   ClientFactory
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	if o.Timeout == 0 {
		o.Timeout = defaultTurnTimeout
	}
	if o.Providers == nil {
		o.Providers = defaultProviderFactory
	}
	if o.Clients == nil {
		o.Clients = defaultClientFactory
	}
	return o
}

// New builds the executor for role according to its flow definition.
func New(role core.Role, def *flow.Definition, opts Options) (core.ExecutorProxy, error) {
	opts = opts.withDefaults()

	switch def.Kind {
	case flow.KindScripted:
		return newScriptedExecutor(role, def.Script, opts), nil
	case flow.KindLLM:
		provider, err := opts.Providers(def.LLM)
		if err != nil {
			return nil, errors.New(errors.CodeFlowLoadFailed,
				fmt.Sprintf("role %s: cannot build chat provider", role), err)
		}
		return newLLMExecutor(role, def.LLM, provider, opts), nil
	case flow.KindMCP:
		client, err := opts.Clients(def.MCP)
		if err != nil {
			return nil, errors.New(errors.CodeFlowLoadFailed,
				fmt.Sprintf("role %s: cannot connect MCP client", role), err)
		}
		return newMCPExecutor(role, def.MCP, client, opts), nil
	default:
		return nil, errors.New(errors.CodeFlowLoadFailed,
			fmt.Sprintf("role %s: unknown flow kind %q", role, def.Kind), nil)
	}
}

func defaultProviderFactory(spec *flow.LLMSpec) (llm.Provider, error) {
	switch spec.Provider {
	case "", "ollama":
		return llm.NewOllama(spec.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", spec.Provider)
	}
}

func defaultClientFactory(spec *flow.MCPSpec) (*mcp.Client, error) {
	switch spec.Transport {
	case "", "stdio":
		if spec.Command == "" {
			return nil, fmt.Errorf("mcp stdio transport requires a command")
		}
		return mcp.NewStdioClient(spec.Command, spec.Args)
	case "http":
		if spec.Endpoint == "" {
			return nil, fmt.Errorf("mcp http transport requires an endpoint")
		}
		return mcp.NewStreamableHTTPClient(spec.Endpoint)
	default:
		return nil, fmt.Errorf("unknown mcp transport %q", spec.Transport)
	}
}
