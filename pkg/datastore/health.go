package datastore

import (
	"context"
	"time"

	"github.com/redbco/redb-storage/internal/hybrid"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/health"
)

const checkTimeout = 5 * time.Second

// HealthReport summarizes backend reachability. A failing primary makes
// the store unhealthy; a failing secondary or journal only degrades it.
type HealthReport struct {
	Status           health.Status              `json:"status"`
	Mode             dbcapabilities.Mode        `json:"mode"`
	BackendKind      dbcapabilities.BackendKind `json:"backendKind"`
	ReplicationState hybrid.State               `json:"replicationState"`
	Checks           []health.Check             `json:"checks"`
	LastHealthy      time.Time                  `json:"lastHealthy"`
}

// HealthCheck pings every backend concurrently.
func (s *Store) HealthCheck(ctx context.Context) HealthReport {
	deps := []health.Dependency{{Name: "primary", Critical: true, Check: s.ping(s.primary)}}
	if s.secondary != nil {
		deps = append(deps, health.Dependency{Name: "secondary", Check: s.ping(s.secondary)})
	}
	if s.journal != nil {
		deps = append(deps, health.Dependency{Name: "journal", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			return s.journal.Ping(ctx)
		}})
	}

	s.checker.RunChecks(ctx, deps...)
	return HealthReport{
		Status:           s.checker.GetOverallStatus(),
		Mode:             s.mode,
		BackendKind:      s.mode.Primary(),
		ReplicationState: s.coord.LastState(),
		Checks:           s.checker.GetAllChecks(),
		LastHealthy:      s.checker.GetLastHealthyTime(),
	}
}

func (s *Store) ping(d adapter.Driver) health.CheckFunc {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &Fault{Kind: FaultInternal, Message: "ping panicked"}
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		return d.Ping(ctx)
	}
}
