package autoscaler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testCatalogue() Catalogue {
	return Catalogue{
		"A10":  {Class: "A10", ThroughputRPS: 10, FallbackClass: ""},
		"A100": {Class: "A100", ThroughputRPS: 20, FallbackClass: "A10", FallbackCount: 4},
		"H100": {Class: "H100", ThroughputRPS: 40, FallbackClass: "A100", FallbackCount: 2},
	}
}

func TestThroughputSolver_CeilsToNextReplica(t *testing.T) {
	solver := ThroughputSolver{}
	targets := solver.Solve(map[AcceleratorClass]float64{"A100": 25}, testCatalogue())
	assert.Equal(t, 2, targets["A100"]) // 25/20 = 1.25 -> 2
}

func TestThroughputSolver_ZeroRateYieldsZeroTarget(t *testing.T) {
	solver := ThroughputSolver{}
	targets := solver.Solve(map[AcceleratorClass]float64{"A100": 0}, testCatalogue())
	assert.Equal(t, 0, targets["A100"])
}

func TestThroughputSolver_Monotonic(t *testing.T) {
	solver := ThroughputSolver{}
	catalogue := testCatalogue()

	low := solver.Solve(map[AcceleratorClass]float64{"A100": 10}, catalogue)
	high := solver.Solve(map[AcceleratorClass]float64{"A100": 100}, catalogue)

	assert.GreaterOrEqual(t, high["A100"], low["A100"])
}

func TestThroughputSolver_UnknownClassIsInfeasibleDemand(t *testing.T) {
	solver := ThroughputSolver{}
	targets := solver.Solve(map[AcceleratorClass]float64{"unknown": 100}, testCatalogue())
	assert.Equal(t, 0, targets["unknown"])
}
