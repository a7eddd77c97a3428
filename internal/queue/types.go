package queue

import "encoding/json"

// Message is the only structure that goes into goqite.
// Keep it simple - just enough to route the job.
type Message struct {
	ObjectType    string          `json:"object_type,omitempty"` // which CTX-JobReq-<TYPE> queue this came from
	CorrelationID string          `json:"correlation_id"`        // carried through logs end to end
	Payload       json.RawMessage `json:"payload"`               // ctxmodel.JobRequest / JobResult / DirectorRequest
}
