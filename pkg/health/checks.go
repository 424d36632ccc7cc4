package health

import (
	"context"
	"fmt"
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p cannot be reached. A nil p means the
// dependency is optional and not configured; it reports degraded.
func PingCheck(p Pinger, optional bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if p == nil {
			if optional {
				return ComponentHealth{Status: StatusDegraded, Message: "not configured"}
			}
			return ComponentHealth{Status: StatusDown, Message: "not configured"}
		}
		if err := p.Ping(ctx); err != nil {
			if optional {
				return ComponentHealth{Status: StatusDegraded, Message: err.Error()}
			}
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// IndexCheck reports the size of the loaded index. An index that has not
// seen any document yet is up but says so.
func IndexCheck(stats func() (vocabulary int, documents uint64)) Check {
	return func(ctx context.Context) ComponentHealth {
		vocab, docs := stats()
		if docs == 0 {
			return ComponentHealth{Status: StatusUp, Message: "index is empty"}
		}
		return ComponentHealth{
			Status:  StatusUp,
			Message: fmt.Sprintf("%d documents, %d terms", docs, vocab),
		}
	}
}
