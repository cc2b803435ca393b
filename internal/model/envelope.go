package model

// TaskTypeClusterMentions is the task tag the downstream analysis worker
// dispatches on.
const TaskTypeClusterMentions = "cluster_mentions"

// SecureContext attributes an envelope to the owning system/org.
type SecureContext struct {
	OrgID string `json:"org_id"`
}

// Task is the work payload inside an envelope.
type Task struct {
	Type     string              `json:"type"`
	Brand    string              `json:"brand"`
	Mentions []NormalizedMention `json:"mentions"`
	Keywords []string            `json:"keywords"`
}

// Envelope is one unit of queued work: a bounded slice of one brand's
// mentions plus batch and attribution metadata. All envelopes produced from
// one brand's cycle share a BatchID; EnvelopeID is unique per chunk.
type Envelope struct {
	EnvelopeID    string        `json:"envelope_id"`
	BatchID       string        `json:"batch_id"`
	SecureContext SecureContext `json:"secure_context"`
	Task          Task          `json:"task"`
}

// BatchCounters is the advisory completion state for one batch. Total is
// written once by the pipeline; Remaining is decremented only by the
// external consumer. Both expire at the batch TTL so abandoned batches
// self-heal.
type BatchCounters struct {
	Total     int64 `json:"total"`
	Remaining int64 `json:"remaining"`
}
