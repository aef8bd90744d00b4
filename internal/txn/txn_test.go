package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
	"github.com/jongodb/jongodb/internal/store"
)

func lsid(id string) bsonkit.Doc {
	return bsonkit.Doc{{Key: "id", Value: id}}
}

func TestCommitMakesWritesVisible(t *testing.T) {
	live := store.NewEngine()
	m := NewManager()
	start := true

	ns := store.Namespace{Database: "d", Collection: "c"}

	eng, err := m.Route(live, Envelope{HasLSID: true, LSID: lsid("s1"), HasTxnNumber: true, TxnNumber: 5, StartTransaction: &start})
	require.NoError(t, err)
	eng.Insert(ns, []bsonkit.Doc{{{Key: "_id", Value: "t1"}}}, true)

	assert.Empty(t, live.Find(ns, bsonkit.Doc{}, store.FindOptions{}), "uncommitted write must not be visible on the live engine")

	_, err = m.Route(live, Envelope{HasLSID: true, LSID: lsid("s1"), HasTxnNumber: true, TxnNumber: 5, IsCommit: true})
	require.NoError(t, err)

	assert.Len(t, live.Find(ns, bsonkit.Doc{}, store.FindOptions{}), 1)
}

func TestSecondSessionDoesNotSeeUncommittedWrite(t *testing.T) {
	live := store.NewEngine()
	m := NewManager()
	start := true
	ns := store.Namespace{Database: "d", Collection: "c"}

	eng, err := m.Route(live, Envelope{HasLSID: true, LSID: lsid("s1"), HasTxnNumber: true, TxnNumber: 1, StartTransaction: &start})
	require.NoError(t, err)
	eng.Insert(ns, []bsonkit.Doc{{{Key: "_id", Value: "t1"}}}, true)

	other, err := m.Route(live, Envelope{HasLSID: true, LSID: lsid("s2"), HasTxnNumber: true, TxnNumber: 1})
	require.NoError(t, err)
	assert.Empty(t, other.Find(ns, bsonkit.Doc{}, store.FindOptions{}))
}

func TestUnknownTransactionErrorLabels(t *testing.T) {
	live := store.NewEngine()
	m := NewManager()
	autocommit := false

	_, err := m.Route(live, Envelope{HasLSID: true, LSID: lsid("s1"), HasTxnNumber: true, TxnNumber: 9, Autocommit: &autocommit})
	require.Error(t, err)
	je, _ := jerrors.As(err)
	assert.Equal(t, jerrors.KindNoSuchTransaction, je.Kind)
	assert.Equal(t, []string{"TransientTransactionError"}, ErrorLabelsFor(Envelope{}, err))

	commitEnv := Envelope{IsCommit: true}
	assert.Equal(t, []string{"UnknownTransactionCommitResult"}, ErrorLabelsFor(commitEnv, err))

	abortEnv := Envelope{IsAbort: true}
	assert.Nil(t, ErrorLabelsFor(abortEnv, err))
}

func TestStartTransactionRejectsReusedTxnNumber(t *testing.T) {
	live := store.NewEngine()
	m := NewManager()
	start := true

	_, err := m.Route(live, Envelope{HasLSID: true, LSID: lsid("s1"), HasTxnNumber: true, TxnNumber: 5, StartTransaction: &start})
	require.NoError(t, err)
	_, err = m.Route(live, Envelope{HasLSID: true, LSID: lsid("s1"), HasTxnNumber: true, TxnNumber: 5, IsCommit: true})
	require.NoError(t, err)

	_, err = m.Route(live, Envelope{HasLSID: true, LSID: lsid("s1"), HasTxnNumber: true, TxnNumber: 5, StartTransaction: &start})
	require.Error(t, err)
	je, _ := jerrors.As(err)
	assert.Equal(t, jerrors.KindBadValue, je.Kind)
}

func TestEnvelopeValidateRejectsAutocommitTrue(t *testing.T) {
	trueVal := true
	env := Envelope{Autocommit: &trueVal}
	require.Error(t, env.Validate())
}
