package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/voice-campaign-dispatcher/internal/config"
)

// Scylla wraps a gocql session for the call record keyspace. Writes are
// append-heavy inserts plus one LWT per finalize; token-aware routing keeps
// them on the owning replica.
type Scylla struct {
	session *gocql.Session
}

// NewScylla creates a new session against the configured cluster.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	if cluster.Timeout <= 0 {
		cluster.Timeout = 5 * time.Second
	}
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}

	return &Scylla{session: session}, nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Close shuts down the session.
func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

func parseConsistency(level string) gocql.Consistency {
	switch level {
	case "one":
		return gocql.One
	case "local_one":
		return gocql.LocalOne
	case "local_quorum":
		return gocql.LocalQuorum
	case "each_quorum":
		return gocql.EachQuorum
	default:
		// LWT finalize reads its own applied flag, quorum is the floor.
		return gocql.Quorum
	}
}
