package config

type WorkerKeyStruct struct {
	PersistFlagsQueue   string
	PersistAnswersQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistFlagsQueue:   "persist_flags_queue",
	PersistAnswersQueue: "persist_answers_queue",
}
