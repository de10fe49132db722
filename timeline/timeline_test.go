package timeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendTurn(t *testing.T) {
	tl := New()
	q, p := tl.AppendTurn("fever and headache")

	require.Equal(t, 0, q.Index)
	require.Equal(t, 1, p.Index)
	require.Equal(t, 2, tl.Len())

	msgs := tl.Messages()
	require.Equal(t, User, msgs[0].Sender)
	require.Equal(t, "fever and headache", msgs[0].Text)
	require.Equal(t, Ready, msgs[0].Status)
	require.Equal(t, Assistant, msgs[1].Sender)
	require.Equal(t, Pending, msgs[1].Status)
	require.Empty(t, msgs[1].Text)
	require.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestResolve(t *testing.T) {
	tl := New()
	_, p := tl.AppendTurn("q")

	require.NoError(t, tl.Resolve(p, "Rest and hydrate."))
	m, ok := tl.At(p.Index)
	require.True(t, ok)
	require.Equal(t, Ready, m.Status)
	require.Equal(t, "Rest and hydrate.", m.Text)

	// A second resolution for the same placeholder is rejected.
	require.ErrorIs(t, tl.Resolve(p, "again"), ErrStaleResolution)
	m, _ = tl.At(p.Index)
	require.Equal(t, "Rest and hydrate.", m.Text)
}

func TestFail(t *testing.T) {
	tl := New()
	_, p := tl.AppendTurn("q")

	require.NoError(t, tl.Fail(p))
	m, _ := tl.At(p.Index)
	require.Equal(t, Error, m.Status)
	require.Equal(t, FailureText, m.Text)

	require.ErrorIs(t, tl.Resolve(p, "late"), ErrStaleResolution)
}

func TestResolveAfterReset(t *testing.T) {
	tl := New()
	_, p := tl.AppendTurn("q")
	tl.Reset()

	require.ErrorIs(t, tl.Resolve(p, "late answer"), ErrStaleResolution)
	require.ErrorIs(t, tl.Fail(p), ErrStaleResolution)
	require.Equal(t, 0, tl.Len())
}

func TestStaleRefDoesNotHitNewTurn(t *testing.T) {
	tl := New()
	_, old := tl.AppendTurn("first")
	tl.Reset()
	_, fresh := tl.AppendTurn("second")

	// Same index, different epoch.
	require.Equal(t, old.Index, fresh.Index)
	require.ErrorIs(t, tl.Resolve(old, "stale"), ErrStaleResolution)

	m, _ := tl.At(fresh.Index)
	require.Equal(t, Pending, m.Status)
	require.NoError(t, tl.Resolve(fresh, "fresh"))
}

func TestResolveRejectsUserMessage(t *testing.T) {
	tl := New()
	q, _ := tl.AppendTurn("q")
	require.ErrorIs(t, tl.Resolve(q, "x"), ErrStaleResolution)
}

func TestCommit(t *testing.T) {
	tl := New()
	_, p := tl.AppendTurn("q")

	require.ErrorIs(t, tl.Commit(p, "Rest"), ErrStaleResolution, "pending messages cannot be committed")
	require.NoError(t, tl.Resolve(p, "Rest and hydrate."))
	require.NoError(t, tl.Commit(p, "Rest"))

	m, _ := tl.At(p.Index)
	require.Equal(t, "Rest", m.Text)
	require.Equal(t, Ready, m.Status)
}

func TestOrderIsAppendOrder(t *testing.T) {
	tl := New()
	_, p1 := tl.AppendTurn("one")
	_, p2 := tl.AppendTurn("two")

	// Resolve out of order.
	require.NoError(t, tl.Resolve(p2, "answer two"))
	require.NoError(t, tl.Resolve(p1, "answer one"))

	var texts []string
	for _, m := range tl.Messages() {
		texts = append(texts, m.Text)
	}
	require.Equal(t, []string{"one", "answer one", "two", "answer two"}, texts)
	require.Equal(t, 3, tl.LastAssistant())
}

func TestAtOutOfRange(t *testing.T) {
	tl := New()
	_, ok := tl.At(0)
	require.False(t, ok)
	require.Equal(t, -1, tl.LastAssistant())
}
