package ports

import (
	"time"

	"fleet-rollout/internal/types"
)

type MetricsPort interface {
	ObserveRequest(kind types.MessageKind, outcome string)
	AddBytesServed(n int)
	IncEnrollments(channel string, name string)
	SessionOpened()
	SessionClosed()
	ObserveCycle(outcome string, duration time.Duration)
}
