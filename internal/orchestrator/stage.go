package orchestrator

// Stage is one step of the reproduction pipeline.
type Stage string

const (
	StageIngest    Stage = "INGEST"
	StageFindRepo  Stage = "FIND_REPO"
	StageConfigure Stage = "CONFIGURE"
	StageAnalyze   Stage = "ANALYZE"
	StageSetupEnv  Stage = "SETUP_ENV"
	StageExecute   Stage = "EXECUTE"
	StageDiagnose  Stage = "DIAGNOSE"
	StageReport    Stage = "REPORT"
)

// Order is the fixed stage sequence. Stages run strictly in this order;
// the only way to skip one is a checkpointed output during resume.
var Order = []Stage{
	StageIngest,
	StageFindRepo,
	StageConfigure,
	StageAnalyze,
	StageSetupEnv,
	StageExecute,
	StageDiagnose,
	StageReport,
}

// indexOf returns the position of st in Order, or -1.
func indexOf(st Stage) int {
	for i, s := range Order {
		if s == st {
			return i
		}
	}
	return -1
}
