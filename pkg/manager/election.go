/*
Package manager provides leader election among replicas of a single
process kind (the ingest stage's outbox reconciler, spec.md §9 design
note). Unlike a cluster-FSM manager, there is no replicated application
state here — Postgres already serializes every durable fact — so raft is
used purely to answer "am I the leader" and nothing is ever Apply'd
through its log in steady state.
*/
package manager

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config configures one replica's participation in leader election.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	// Peers lists every replica's (NodeID, BindAddr), including this one.
	// The first bootstrap call uses this list as the initial voter set.
	Peers []Peer
}

// Peer is one replica eligible for leadership.
type Peer struct {
	NodeID   string
	BindAddr string
}

// noopFSM satisfies raft.FSM without ever holding replicated state;
// leadership is all this package uses raft for.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{}         { return nil }
func (noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (noopFSM) Restore(rc io.ReadCloser) error       { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

// Elector wraps a raft.Raft instance used solely for IsLeader.
type Elector struct {
	raft *raft.Raft
}

// Start joins (or bootstraps) leader election for cfg.NodeID.
func Start(cfg Config) (*Elector, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 1, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft node: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return nil, fmt.Errorf("check existing raft state: %w", err)
	}
	if !hasState {
		servers := make([]raft.Server, 0, len(cfg.Peers))
		for _, p := range cfg.Peers {
			servers = append(servers, raft.Server{ID: raft.ServerID(p.NodeID), Address: raft.ServerAddress(p.BindAddr)})
		}
		if len(servers) == 0 {
			servers = []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("bootstrap election: %w", err)
		}
	}

	return &Elector{raft: r}, nil
}

// IsLeader reports whether this replica currently holds leadership.
func (e *Elector) IsLeader() bool {
	return e.raft.State() == raft.Leader
}

// Shutdown leaves the election group.
func (e *Elector) Shutdown() error {
	return e.raft.Shutdown().Error()
}
