package config

// CacheKeyStruct groups the Redis key names used by the live exam engine.
type CacheKeyStruct struct {
	// ExamSessions is the hash holding every live session document,
	// one field per room code.
	ExamSessions string
}

var CacheKey = &CacheKeyStruct{
	ExamSessions: "exam",
}

type WorkerKeyStruct struct {
	PersistResultsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistResultsQueue: "persist_results_queue",
}
