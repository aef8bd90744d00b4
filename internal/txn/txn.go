// Package txn implements the per-session transaction state machine: a
// process-wide map from logical session to at most one active
// transaction, snapshot-isolated against the live document engine.
package txn

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
	"github.com/jongodb/jongodb/internal/store"
)

// State is a session's transaction lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateActive
)

type session struct {
	lastSeenTxnNumber int64
	hasSeenTxn        bool
	state             State
	txnNumber         int64
	snapshot          *store.Engine
}

// Manager owns every session's transaction state and snapshot.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager returns an empty transaction manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

// Envelope is the subset of a command's transaction-related fields the
// manager needs to route it.
type Envelope struct {
	HasLSID          bool
	LSID             bsonkit.Doc
	HasTxnNumber     bool
	TxnNumber        int64
	Autocommit       *bool
	StartTransaction *bool
	IsCommit         bool
	IsAbort          bool
}

// Validate enforces the envelope shape rules required before a
// transactional write is routed: autocommit must be explicit false,
// startTransaction, when present, must be true and is forbidden on
// commit/abort.
func (e Envelope) Validate() error {
	if e.Autocommit != nil && *e.Autocommit {
		return jerrors.New(jerrors.KindBadValue, "autocommit must be false for a transactional command")
	}
	if e.StartTransaction != nil {
		if !*e.StartTransaction {
			return jerrors.New(jerrors.KindBadValue, "startTransaction must be true when present")
		}
		if e.IsCommit || e.IsAbort {
			return jerrors.New(jerrors.KindBadValue, "startTransaction is not allowed on commitTransaction/abortTransaction")
		}
		if e.Autocommit == nil {
			return jerrors.New(jerrors.KindBadValue, "autocommit: false is required with startTransaction")
		}
	}
	return nil
}

// CanonicalSessionKey renders an lsid document into a stable map key,
// independent of field order.
func CanonicalSessionKey(lsid bsonkit.Doc) string {
	m := make(map[string]any, len(lsid))
	for _, e := range lsid {
		m[e.Key] = stringify(e.Value)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]struct {
		K string
		V any
	}, len(keys))
	for i, k := range keys {
		ordered[i] = struct {
			K string
			V any
		}{k, m[k]}
	}
	b, _ := json.Marshal(ordered)
	return string(b)
}

func stringify(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (m *Manager) sessionFor(key string) *session {
	s, ok := m.sessions[key]
	if !ok {
		s = &session{}
		m.sessions[key] = s
	}
	return s
}

// IsRetryableWrite reports whether env describes a retryable write (an
// lsid + txnNumber with no autocommit/startTransaction) that should
// bypass the transaction manager entirely. commitTransaction and
// abortTransaction are never retryable writes.
func (e Envelope) IsRetryableWrite() bool {
	return e.HasLSID && e.HasTxnNumber && e.Autocommit == nil && e.StartTransaction == nil && !e.IsCommit && !e.IsAbort
}

// Route resolves which engine a command should execute against: the live
// engine for non-transactional and retryable-write commands, or a
// session's active snapshot for commands within a transaction. State
// transitions happen here; abortTransaction returns a nil engine, since
// once the snapshot is discarded there is nothing left to execute.
func (m *Manager) Route(live *store.Engine, env Envelope) (*store.Engine, error) {
	if !env.HasLSID || env.IsRetryableWrite() {
		return live, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := CanonicalSessionKey(env.LSID)
	s := m.sessionFor(key)

	switch {
	case env.IsCommit:
		return m.commitLocked(live, s, env)
	case env.IsAbort:
		return m.abortLocked(s, env)
	case env.StartTransaction != nil && *env.StartTransaction:
		return m.startLocked(live, s, env)
	default:
		return m.continueLocked(s, env)
	}
}

func (m *Manager) startLocked(live *store.Engine, s *session, env Envelope) (*store.Engine, error) {
	if s.state == StateActive {
		return nil, jerrors.New(jerrors.KindNoSuchTransaction, "a transaction is already active on this session")
	}
	if s.hasSeenTxn && env.TxnNumber <= s.lastSeenTxnNumber {
		return nil, jerrors.New(jerrors.KindBadValue, "txnNumber %d has already been used on this session", env.TxnNumber)
	}
	s.snapshot = live.Clone()
	s.state = StateActive
	s.txnNumber = env.TxnNumber
	s.lastSeenTxnNumber = env.TxnNumber
	s.hasSeenTxn = true
	return s.snapshot, nil
}

func (m *Manager) continueLocked(s *session, env Envelope) (*store.Engine, error) {
	if s.state != StateActive || s.txnNumber != env.TxnNumber {
		return nil, jerrors.New(jerrors.KindNoSuchTransaction, "no active transaction at txnNumber %d", env.TxnNumber)
	}
	return s.snapshot, nil
}

func (m *Manager) commitLocked(live *store.Engine, s *session, env Envelope) (*store.Engine, error) {
	if s.state != StateActive || s.txnNumber != env.TxnNumber {
		return nil, jerrors.New(jerrors.KindNoSuchTransaction, "no active transaction at txnNumber %d", env.TxnNumber)
	}
	live.ReplaceWith(s.snapshot)
	s.state = StateIdle
	s.snapshot = nil
	return live, nil
}

func (m *Manager) abortLocked(s *session, env Envelope) (*store.Engine, error) {
	if s.state != StateActive || s.txnNumber != env.TxnNumber {
		return nil, jerrors.New(jerrors.KindNoSuchTransaction, "no active transaction at txnNumber %d", env.TxnNumber)
	}
	s.state = StateIdle
	s.snapshot = nil
	return nil, nil
}

// ErrorLabelsFor returns the error labels that must accompany a
// NoSuchTransaction failure for the given command shape: commit failures
// carry UnknownTransactionCommitResult, other transactional commands
// carry TransientTransactionError, and abort never carries a label.
func ErrorLabelsFor(env Envelope, err error) []string {
	je, ok := jerrors.As(err)
	if !ok || je.Kind != jerrors.KindNoSuchTransaction {
		return nil
	}
	if env.IsAbort {
		return nil
	}
	if env.IsCommit {
		return []string{"UnknownTransactionCommitResult"}
	}
	return []string{"TransientTransactionError"}
}
