package btstream

import "time"

// sentRequest tracks one outstanding Command awaiting a Response/Error.
// The in-flight list that holds these is kept sorted ascending by reqID —
// true by construction, since req ids are handed out in strictly
// increasing order and requests are appended in that same order.
type sentRequest struct {
	reqID    int64
	deadline time.Time
	cb       func(Message)
}

func (s *sentRequest) expired(now time.Time) bool {
	return now.After(s.deadline)
}
