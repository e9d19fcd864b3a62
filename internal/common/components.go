package common

const (
	ComponentMetrics       = "metrics"
	ComponentOrchestrator  = "orchestrator"
	ComponentPipeline      = "pipeline"
	ComponentReconciler    = "reconciler"
	ComponentReorgDetector = "reorg-detector"
	ComponentStore         = "store"
	ComponentRPC           = "rpc"
	ComponentBus           = "bus"
)

var AllComponents = map[string]struct{}{
	ComponentMetrics:       {},
	ComponentOrchestrator:  {},
	ComponentPipeline:      {},
	ComponentReconciler:    {},
	ComponentReorgDetector: {},
	ComponentStore:         {},
	ComponentRPC:           {},
	ComponentBus:           {},
}
