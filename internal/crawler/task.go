package crawler

// Task is the unit of work a Dispatcher hands to a worker.
// The set of implementations is closed: CrawlTask, VerifyTask and StopTask.
type Task interface {
	isTask()
}

// CrawlTask asks a worker to fetch, analyze and index the URL at Position.
type CrawlTask struct {
	Position int64
}

// VerifyTask asks a worker to re-fetch the page at Position and count phrase occurrences.
type VerifyTask struct {
	Position int64
	Phrases  []string
	MatchAll bool
}

// StopTask tells a worker there is no more work; the worker exits on receipt.
type StopTask struct{}

func (CrawlTask) isTask()  {}
func (VerifyTask) isTask() {}
func (StopTask) isTask()   {}
