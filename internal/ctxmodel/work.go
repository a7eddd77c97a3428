package ctxmodel

import "time"

// Job is one unit of work for a single object on one queue: the
// frontend-side tracking record for an in-flight DescriptorRef.
type Job struct {
	WorkID          string
	ObjectID        string
	Depth           uint32
	TTLDeadlineUnix float64
	MaxRecursion    uint32
	Retries         int
	ParentRelation  Metadata
	CorrelationID   string
}

// RemainingTTL returns how much time is left before the job's deadline.
func (j Job) RemainingTTL(now time.Time) time.Duration {
	deadline := time.Unix(0, int64(j.TTLDeadlineUnix*float64(time.Second)))
	return deadline.Sub(now)
}

// RemainingRecursion returns the recursion budget left for children of
// this job. A job at depth >= MaxRecursion has none left.
func (j Job) RemainingRecursion() uint32 {
	if j.Depth >= j.MaxRecursion {
		return 0
	}
	return j.MaxRecursion - j.Depth
}

// Expired reports whether the job's TTL has already elapsed.
func (j Job) Expired(now time.Time) bool {
	return j.RemainingTTL(now) <= 0
}

// Scenario is a user-authored rule plus an action template, as stored
// and evaluated by the director.
type Scenario struct {
	ID             string
	Name           string
	CompatibleWith string // SemVer range, e.g. ">=1.3.0"; empty means unconstrained
	Creator        string
	Description    string
	LocalQuery     string
	GlobalQuery    string // empty when the scenario has no global/Contextual clause
	Action         string
	Enabled        bool
}

// WorkAction is a single materialized action emitted by the director
// for a matching scenario.
type WorkAction struct {
	Scenario string  `json:"scenario"`
	CTime    float64 `json:"ctime"`
	Action   string  `json:"action"`
}

// WorkActions is the action log appended to a work.
type WorkActions struct {
	WorkID  string       `json:"work_id"`
	Time    float64      `json:"t"`
	Actions []WorkAction `json:"actions"`
}

// DirectorRequest asks the director to (re)evaluate scenarios for a work.
type DirectorRequest struct {
	WorkID string `json:"work_id"`
}

// QueuedJob is the JSON body carried on a CTX-JobReq-<TYPE> queue
// message: a JobRequest plus the work-tree bookkeeping
// (WorkID/Depth/Retries) that a bare JobRequest omits but a frontend
// needs to reconstruct its Job.
type QueuedJob struct {
	WorkID  string     `json:"work_id"`
	Depth   uint32     `json:"depth"`
	Retries int        `json:"retries"`
	Request JobRequest `json:"request"`
}

// Job reconstructs the tracking record for this queued job, given the
// correlation id the queue transport carried alongside it.
func (q QueuedJob) Job(correlationID string) Job {
	return Job{
		WorkID:          q.WorkID,
		ObjectID:        q.Request.Object.ObjectID,
		Depth:           q.Depth,
		TTLDeadlineUnix: q.Request.TTLDeadlineUnix,
		MaxRecursion:    q.Request.MaxRecursion,
		Retries:         q.Retries,
		ParentRelation:  q.Request.RelationMetadata,
		CorrelationID:   correlationID,
	}
}
