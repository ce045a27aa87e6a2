package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	orchestrator "github.com/devmind-run/orchestrator-core"
	"github.com/devmind-run/orchestrator-core/types"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML orchestrator config (optional)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout for the demo run")
	flag.Parse()

	cfg := orchestrator.DefaultConfig()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("reading config: %v", err)
		}
		cfg, err = orchestrator.LoadConfigYAML(data)
		if err != nil {
			log.Fatalf("parsing config: %v", err)
		}
	}

	o := orchestrator.New(cfg, nil, nil, nil, nil, nil)
	if err := o.RegisterPool("network", 4); err != nil {
		log.Fatalf("registering resource pool: %v", err)
	}

	requests := []*orchestrator.Request{
		{ID: "fetch-repo", ToolName: "git_clone", Priority: 0.8,
			RequiredResources: []orchestrator.ResourceRequirement{{Resource: "network", Units: 1}}},
		{ID: "lint", ToolName: "run_linter", Dependencies: []string{"fetch-repo"}, Priority: 0.5},
		{ID: "test", ToolName: "run_tests", Dependencies: []string{"fetch-repo"}, Priority: 0.9, IsCritical: true,
			RequiredResources: []orchestrator.ResourceRequirement{{Resource: "network", Units: 1}}},
		{ID: "publish", ToolName: "publish_artifact", Dependencies: []string{"lint", "test"}, Priority: 0.3},
	}

	exec := orchestrator.ToolExecutorFunc(func(ctx context.Context, r *orchestrator.Request) (interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return map[string]string{"tool": r.ToolName, "status": "ok"}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = orchestrator.WithRequestID(ctx, "demo-run-1")

	result, err := o.Orchestrate(ctx, "demo-plan", requests, exec, loggingSink{})
	if err != nil {
		log.Fatalf("orchestration rejected: %v", err)
	}

	summary, _ := json.MarshalIndent(map[string]interface{}{
		"success":    result.Success,
		"successful": result.Successful,
		"failed":     result.Failed,
		"skipped":    result.Skipped,
		"duration":   result.TotalDuration.String(),
	}, "", "  ")
	fmt.Println(string(summary))
}

// loggingSink prints every lifecycle event to stdout as it arrives.
type loggingSink struct{}

func (loggingSink) Handle(e types.Event) {
	switch e.Kind {
	case types.EventPlanBuilt:
		fmt.Printf("plan built: %d phases\n", len(e.Plan.Phases))
	case types.EventToolStarted:
		fmt.Printf("%s: started (attempt %d)\n", e.ID, e.Attempt)
	case types.EventToolRetrying:
		fmt.Printf("%s: retrying in %s\n", e.ID, e.Delay)
	case types.EventToolFinished:
		fmt.Printf("%s: finished as %s\n", e.ID, e.Status)
	case types.EventOrchestrationFinished:
		fmt.Println("orchestration finished")
	case types.EventCancelled:
		fmt.Println("orchestration cancelled")
	}
}
