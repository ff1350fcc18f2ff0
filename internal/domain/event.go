package domain

// Event is one row of the audit log kept next to the document.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// DetectionRun summarizes one detection pass.
type DetectionRun struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	ReferenceDate string `json:"reference_date" format:"date"`
	Created       int    `json:"created"`
	Resolved      int    `json:"resolved"`
	Refreshed     int    `json:"refreshed"`
	ActorID       string `json:"actor_id"`
}
