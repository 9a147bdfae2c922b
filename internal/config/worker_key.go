package config

type WorkerKeyStruct struct {
	PersistViolationsQueue string
	GenerateReportsQueue   string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue: "persist_violations_queue",
	GenerateReportsQueue:   "generate_reports_queue",
}
