package daemon

import (
	"testing"

	"github.com/corefabric/proxy/internal/domain"
)

func TestPredictedChanges_NarrowsToActionField(t *testing.T) {
	predicted := map[string]float64{"cpu_pct": 70, "memory_pct": 55, "load_score": 60}

	changes := predictedChanges(domain.ActionScaleUpCPU, predicted)
	if _, ok := changes["cpu_pct"]; !ok {
		t.Error("scale_up_cpu should report cpu_pct in changes")
	}
	if _, ok := changes["memory_pct"]; ok {
		t.Error("scale_up_cpu should not report memory_pct in changes")
	}

	changes = predictedChanges(domain.ActionScaleDownMemory, predicted)
	if _, ok := changes["memory_pct"]; !ok {
		t.Error("scale_down_memory should report memory_pct in changes")
	}

	changes = predictedChanges(domain.ActionRedistributeLoad, predicted)
	if _, ok := changes["load_score"]; !ok {
		t.Error("redistribute_load should report load_score in changes")
	}
}

func TestPriorityFor_ScaleUpOutranksDefault(t *testing.T) {
	if priorityFor(domain.ActionScaleUpCPU) <= priorityFor(domain.ActionOptimizeProcesses) {
		t.Error("scale_up_cpu should have a higher priority than optimize_processes")
	}
	if priorityFor(domain.ActionRedistributeLoad) <= priorityFor(domain.ActionOptimizeProcesses) {
		t.Error("redistribute_load should have a higher priority than optimize_processes")
	}
}

func TestEstimatedCostFor_MigrationCostsMoreThanDefault(t *testing.T) {
	if estimatedCostFor(domain.ActionMigrateWorkload) <= estimatedCostFor(domain.ActionOptimizeProcesses) {
		t.Error("migrate_workload should cost more than optimize_processes")
	}
}
