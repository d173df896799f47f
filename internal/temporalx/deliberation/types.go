package deliberation

const (
	WorkflowName = "deliberation_session"
	ActivityTick = "deliberation_tick"
)

// TickResult is the activity's report of where one Advance tick left the
// session.
type TickResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Stage     int    `json:"stage,omitempty"`
	Terminal  bool   `json:"terminal"`
}
