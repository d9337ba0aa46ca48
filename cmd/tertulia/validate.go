// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jllopis/tertulia/pkg/config"
	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/executor"
	"github.com/jllopis/tertulia/pkg/flow"
	"github.com/jllopis/tertulia/pkg/orchestrator"
)

type validateResult struct {
	Config  checkResult   `json:"config"`
	Roles   checkResult   `json:"roles"`
	Flows   []checkResult `json:"flows"`
	Probes  []checkResult `json:"probes,omitempty"`
	Overall string        `json:"overall"`
}

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warn", "error", "skip"
	Message string `json:"message,omitempty"`
}

func runValidate(ctx context.Context, flags globalFlags, args []string) {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	rolesPath := cmd.String("roles", "", "Roles file (YAML)")
	probe := cmd.Bool("probe", false, "Build executors and probe their backends")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	result := validateResult{Flows: []checkResult{}}
	hasError := false
	hasWarn := false

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		result.Config = checkResult{Name: "config", Status: "error", Message: err.Error()}
		hasError = true
	} else {
		result.Config = checkResult{Name: "config", Status: "ok"}
	}

	if *rolesPath == "" && cfg != nil {
		*rolesPath = cfg.Conversation.RolesFile
	}

	var rolesFile *config.RolesFile
	if *rolesPath == "" {
		result.Roles = checkResult{Name: "roles", Status: "error", Message: "no roles file; use --roles or set conversation.roles_file"}
		hasError = true
	} else {
		rolesFile, err = config.LoadRoles(*rolesPath)
		if err != nil {
			result.Roles = checkResult{Name: "roles", Status: "error", Message: err.Error()}
			hasError = true
		} else {
			result.Roles = validateRoles(rolesFile.Roles)
			if result.Roles.Status == "error" {
				hasError = true
			} else if result.Roles.Status == "warn" {
				hasWarn = true
			}
		}
	}

	var defs []*flow.Definition
	if rolesFile != nil && result.Roles.Status != "error" {
		defs = make([]*flow.Definition, len(rolesFile.Roles))
		for i, role := range rolesFile.Roles {
			check := checkResult{Name: fmt.Sprintf("flow %s", role.String()), Status: "ok"}
			def, err := flow.Load(role.WorkingDir, role.FlowFile)
			if err != nil {
				check.Status = "error"
				check.Message = err.Error()
				hasError = true
			} else {
				defs[i] = def
			}
			result.Flows = append(result.Flows, check)
		}
	}

	if *probe && !hasError && rolesFile != nil {
		result.Probes = probeExecutors(ctx, flags.Timeout, rolesFile.Roles, defs)
		for _, r := range result.Probes {
			switch r.Status {
			case "error":
				hasError = true
			case "warn":
				hasWarn = true
			}
		}
	}

	switch {
	case hasError:
		result.Overall = "error"
	case hasWarn:
		result.Overall = "warn"
	default:
		result.Overall = "ok"
	}

	if flags.JSON {
		printJSON(result)
	} else {
		printChecks(result)
	}
	if hasError {
		os.Exit(1)
	}
}

// validateRoles runs the construction-time checks without building any
// executor.
func validateRoles(roles []core.Role) checkResult {
	if len(roles) < 2 {
		return checkResult{Name: "roles", Status: "error",
			Message: fmt.Sprintf("a conversation needs at least 2 roles, got %d", len(roles))}
	}
	stopSignals := 0
	for _, role := range roles {
		if n := role.HistoryMappingCount(); n != 1 {
			return checkResult{Name: "roles", Status: "error",
				Message: fmt.Sprintf("role %s has %d history mappings, want exactly 1", role, n)}
		}
		if role.StopSignal != "" {
			stopSignals++
		}
	}
	if stopSignals == 0 {
		return checkResult{Name: "roles", Status: "warn",
			Message: "no role declares a stop signal; every line will run the full turn budget"}
	}
	return checkResult{Name: "roles", Status: "ok",
		Message: fmt.Sprintf("%d roles, %d with stop signals", len(roles), stopSignals)}
}

// probeExecutors builds the real executors and asks each backend whether
// it is reachable.
func probeExecutors(ctx context.Context, timeout time.Duration, roles []core.Role, defs []*flow.Definition) []checkResult {
	group, err := orchestrator.New(roles, 1,
		orchestrator.WithFlowLoader(func(role core.Role) (*flow.Definition, error) {
			for i := range roles {
				if roles[i].Kind == role.Kind && roles[i].Name == role.Name {
					return defs[i], nil
				}
			}
			return nil, fmt.Errorf("no flow definition for role %s", role)
		}),
	)
	if err != nil {
		return []checkResult{{Name: "probes", Status: "error", Message: err.Error()}}
	}
	defer group.Destroy(context.Background())

	probes := executor.NewProbeSet(0)
	for i, exec := range group.Executors() {
		probes.Register(roles[i].String(), exec)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, _ := probes.Run(ctx)
	out := make([]checkResult, 0, len(results))
	for _, r := range results {
		check := checkResult{Name: fmt.Sprintf("probe %s", r.Probe), Message: r.Message}
		switch r.Status {
		case executor.ProbeHealthy:
			check.Status = "ok"
		case executor.ProbeDegraded:
			check.Status = "warn"
		default:
			check.Status = "error"
			if r.Err != nil {
				check.Message = r.Err.Error()
			}
		}
		out = append(out, check)
	}
	return out
}

func printChecks(result validateResult) {
	printCheck(result.Config)
	printCheck(result.Roles)
	for _, check := range result.Flows {
		printCheck(check)
	}
	for _, check := range result.Probes {
		printCheck(check)
	}
	fmt.Printf("overall: %s\n", result.Overall)
}

func printCheck(check checkResult) {
	if check.Message != "" {
		fmt.Printf("%-8s %s: %s\n", check.Status, check.Name, check.Message)
		return
	}
	fmt.Printf("%-8s %s\n", check.Status, check.Name)
}
