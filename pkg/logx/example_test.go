package logx

import (
	"fmt"
	"testing"
)

func ExampleLogger_pipelineUsage() {
	fmt.Println("=== Pipeline Logging Demo ===")

	// Main lifecycle logger.
	lifecycle := NewLogger("lifecycle")
	lifecycle.Info("starting pipeline")
	lifecycle.Debug("loading configuration from %s", "codeforge.yaml")

	// One logger per stage worker.
	planning := NewLogger("worker.planning")
	coding := NewLogger("worker.coding")
	reviewing := NewLogger("worker.reviewing")

	planning.Info("job %s: planning issue #%d", "job-123", 42)
	planning.Debug("dispatching to tenant's bound LLM client")

	coding.Info("job %s: received plan from planning stage", "job-123")
	coding.Warn("job %s: high estimated complexity, %d steps", "job-123", 8)

	reviewing.Info("job %s: reviewing code changes", "job-123")
	reviewing.Error("job %s: review rejected, attempt %d", "job-123", 2)

	coding.Info("tenant tenant-acme: running budget check before agent call")

	lifecycle.Info("shutdown signal received, draining workers")
	planning.Info("in-flight handler finishing")
	coding.Info("in-flight handler finishing")
	reviewing.Info("in-flight handler finishing")
	lifecycle.Info("all workers drained")

	fmt.Println("=== End Demo ===")
}

func TestPipelineLoggingUsage(t *testing.T) {
	ExampleLogger_pipelineUsage()
}
