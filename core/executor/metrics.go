package executor

import "github.com/ethereum/go-ethereum/metrics"

var (
	stepTimer      = metrics.NewRegisteredTimer("executor/step", nil)
	emulateTimer   = metrics.NewRegisteredTimer("executor/emulate", nil)
	traceMeter     = metrics.NewRegisteredMeter("executor/trace", nil)
	yieldMeter     = metrics.NewRegisteredMeter("executor/yield", nil)
	completeMeter  = metrics.NewRegisteredMeter("executor/complete", nil)
	fatalMeter     = metrics.NewRegisteredMeter("executor/fatal", nil)
	rejectMeter    = metrics.NewRegisteredMeter("executor/reject", nil)
	cancelMeter    = metrics.NewRegisteredMeter("executor/cancel", nil)
	conflictMeter  = metrics.NewRegisteredMeter("executor/conflict", nil)
	inflightGauge  = metrics.NewRegisteredGauge("executor/inflight", nil)
	stepsHistogram = metrics.NewRegisteredHistogram("executor/steps", nil, metrics.NewExpDecaySample(1028, 0.015))
)
