package moderation

// CheckRequest is sent on moderation.check by a relay that delegates
// classification to the moderator service.
type CheckRequest struct {
	Text string `json:"text"`
}

// CheckResult is the moderator's reply. Error is set when the moderator could
// not produce a verdict; the caller treats that as a failed prediction.
type CheckResult struct {
	Toxic    bool   `json:"toxic"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}
