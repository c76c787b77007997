package vm

import "github.com/ethereum/go-ethereum/metrics"

var (
	stepMeter         = metrics.NewRegisteredMeter("evm/steps", nil)
	runTimer          = metrics.NewRegisteredTimer("evm/run", nil)
	frameDepthGauge   = metrics.NewRegisteredGauge("evm/frames", nil)
	fatalMeter        = metrics.NewRegisteredMeter("evm/fatal", nil)
	hostCallMeter     = metrics.NewRegisteredMeter("evm/hostcall", nil)
	hostCallFailMeter = metrics.NewRegisteredMeter("evm/hostcall/failed", nil)
	withdrawMeter     = metrics.NewRegisteredMeter("evm/hostcall/withdraw", nil)

	analysisHitMeter  = metrics.NewRegisteredMeter("evm/analysis/hit", nil)
	analysisMissMeter = metrics.NewRegisteredMeter("evm/analysis/miss", nil)

	// opcodeMeters counts executed instructions per opcode. Meters of
	// undefined opcodes are never marked.
	opcodeMeters [256]metrics.Meter
)

func init() {
	for i := range opcodeMeters {
		op := OpCode(i)
		if opCodeToString[op] == "" {
			opcodeMeters[i] = metrics.NilMeter{}
			continue
		}
		opcodeMeters[i] = metrics.NewRegisteredMeter("evm/op/"+op.String(), nil)
	}
}
