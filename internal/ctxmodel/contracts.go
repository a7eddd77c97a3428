// Package ctxmodel holds the wire shapes, queue-naming convention and
// graph schema version constant shared by every service in this
// module. It has no I/O of its own — it is imported by rules,
// graphdb, frontend, endpoint, grapher, director and sigmgr alike.
package ctxmodel

import (
	"strings"
	"time"
)

// MaxWorkTTL is the maximum time a work can take, from entry to result.
//
// While processing the object tree, frontends check the remaining TTL
// of the job they received. If it has expired they publish a
// job_timed_out result instead of processing it further. The per-request TTL acts as a default
// (when unset) and as an absolute cap (larger values are silently
// clamped).
const MaxWorkTTL = time.Hour

// MaxWorkDepth is the maximum recursion level a work can reach.
const MaxWorkDepth uint32 = 24

// Queue and exchange names, fixed and case-sensitive per the wire contract.
const (
	ResultsQueueName       = "CTX-JobRes"
	DirectorQueueName      = "CTX-Director"
	ScenarioReloadExchange = "ctx.screload"
)

// Message properties.
const (
	MsgContentType  = "application/json"
	RequestType     = "job.request"
	ResultType      = "job.result"
	ScProcessType   = "scenarios.process"
	ScReloadType    = "scenarios.reload"
	MsgCorrIDLength = 24
)

// Relation metadata keys with special core semantics.
const (
	MetaKeyGlobal        = "_global"
	MetaKeyOrigin        = "_origin"
	MetaKeyReprocessable = "_can_reprocess"
)

// Symbols the core itself attaches (as opposed to analyzer-contributed ones).
const (
	SymbolTooBig        = "TOOBIG"
	SymbolLimitsReached  = "LIMITS_REACHED"
	SymbolJobTimedOut   = "job_timed_out"
	SymbolJobMaxRetries = "job_max_retries"
)

// SchemaVersion is the single integer both readers and writers check
// against the `version` row before operating on the graph store.
const SchemaVersion = 1

// QueueForType returns the request queue name for an object type,
// e.g. "Zip" -> "CTX-JobReq-ZIP".
func QueueForType(objectType string) string {
	return "CTX-JobReq-" + strings.ToUpper(objectType)
}
