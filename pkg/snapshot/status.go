package snapshot

import "github.com/tidwall/gjson"

// State is the job-lifecycle state reported by a poll response.
type State int

const (
	StatePending State = iota
	StateProcessing
	StateDone
	StateFailed
	StateExpired
	// StateUnknown covers any status value outside the documented
	// vocabulary. The poll loop treats it like pending rather than failing,
	// since the API's full status set is not documented.
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Status is one poll result. Raw keeps the server's literal status string,
// Details carries the artifact URL once the job is done.
type Status struct {
	State   State
	Raw     string
	Details string
}

// Terminal reports whether this state ends the poll loop.
func (s Status) Terminal() bool {
	return s.State == StateDone || s.State == StateFailed || s.State == StateExpired
}

func parseStatus(body string) Status {
	raw := gjson.Get(body, "jobStatus").Str
	st := Status{Raw: raw, Details: gjson.Get(body, "details").Str}

	switch raw {
	case "pending":
		st.State = StatePending
	case "processing":
		st.State = StateProcessing
	case "done":
		st.State = StateDone
	case "failed":
		st.State = StateFailed
	case "expired":
		st.State = StateExpired
	default:
		st.State = StateUnknown
	}
	return st
}
