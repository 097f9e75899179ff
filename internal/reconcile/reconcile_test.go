package reconcile

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sudooom.im.relay/internal/event"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func text(id, from, to, body string, at time.Time) Entry {
	return Entry{ID: id, Kind: event.KindText, From: from, To: to, Body: body, Time: at}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestHistory_ArrivalOrderNotTime(t *testing.T) {
	h := NewHistory("alice_bob")
	assert.True(t, h.Append(text("m2", "bob", "alice", "later", t0.Add(time.Minute))))
	assert.True(t, h.Append(text("m1", "alice", "bob", "earlier", t0)))

	assert.Equal(t, []string{"m2", "m1"}, ids(h.Render()))
}

func TestHistory_Dedup(t *testing.T) {
	h := NewHistory("alice_bob")
	// 本地回显先到，服务端回显带不同时间但 id 相同
	assert.True(t, h.Append(text("c1", "alice", "bob", "hi", t0)))
	assert.False(t, h.Append(text("c1", "alice", "bob", "hi", t0.Add(time.Second))))

	rendered := h.Render()
	require.Len(t, rendered, 1)
	assert.Equal(t, t0, rendered[0].Time)
}

func TestHistory_TombstonesAreMonotonic(t *testing.T) {
	h := NewHistory("alice_bob")
	h.Append(text("m1", "alice", "bob", "a", t0))
	h.Append(text("m2", "alice", "bob", "b", t0))

	removed := h.ApplyTombstones([]string{"m1", "m9"})
	assert.Equal(t, []string{"m1"}, removed)
	assert.Equal(t, []string{"m2"}, ids(h.Render()))

	// 删除先于消息到达：迟到的消息被丢弃
	assert.False(t, h.Append(text("m9", "bob", "alice", "late", t0)))
	assert.False(t, h.Append(text("m1", "alice", "bob", "again", t0)))
	assert.True(t, h.Tombstoned("m9"))
	assert.Equal(t, 2, h.Tombstones())

	assert.Nil(t, h.ApplyTombstones([]string{"m1"}))
	assert.Equal(t, 1, h.Len())
}

func TestEntryFrom(t *testing.T) {
	e := EntryFrom(&event.FileReceived{
		From: "alice", To: "bob", FileName: "a.pdf", FileType: "application/pdf",
		DataURL: "data:,x", ID: "f1", Time: t0,
	})
	assert.Equal(t, Entry{
		ID: "f1", Kind: event.KindFile, From: "alice", To: "bob",
		Body: "data:,x", Name: "a.pdf", MIME: "application/pdf", Time: t0,
	}, e)
	assert.Equal(t, "alice_bob", e.Pair())
}

func newTestReconciler(store Store) *Reconciler {
	return NewReconciler("alice", store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReconciler_Apply(t *testing.T) {
	ctx := context.Background()
	r := newTestReconciler(NewMemoryStore())

	change, err := r.Apply(ctx, &event.MessageReceived{From: "bob", To: "alice", Message: "hi", ID: "m1", Time: t0})
	require.NoError(t, err)
	assert.Equal(t, Change{Pair: "alice_bob", Appended: true}, change)

	_, err = r.Apply(ctx, &event.ImageReceived{From: "alice", To: "carol", Image: "data:,i", ID: "m2", Time: t0})
	require.NoError(t, err)

	// 与本地用户无关的会话被忽略
	change, err = r.Apply(ctx, &event.MessageReceived{From: "bob", To: "carol", Message: "x", ID: "m3", Time: t0})
	require.NoError(t, err)
	assert.Equal(t, Change{}, change)

	change, err = r.Apply(ctx, &event.Deleted{IDs: []string{"m1"}, From: "alice", To: "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, change.Removed)

	bob, err := r.Render(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bob)

	carol, err := r.Render(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids(carol))

	// 其他事件不影响历史
	change, err = r.Apply(ctx, &event.JoinedAck{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, Change{}, change)
}

func TestReconciler_LegacyDeleteAppliesToLoadedPairs(t *testing.T) {
	ctx := context.Background()
	r := newTestReconciler(NewMemoryStore())

	_, err := r.Append(ctx, text("m1", "alice", "bob", "a", t0))
	require.NoError(t, err)
	_, err = r.Append(ctx, text("m2", "carol", "alice", "b", t0))
	require.NoError(t, err)

	change, err := r.Apply(ctx, &event.Deleted{IDs: []string{"m1", "m2"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, change.Removed)

	bob, err := r.Render(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bob)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history", "alice.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	r := newTestReconciler(store)

	for _, e := range []Entry{
		text("m3", "bob", "alice", "third by time, first by arrival", t0.Add(2*time.Minute)),
		text("m1", "alice", "bob", "first by time", t0),
		text("m2", "bob", "alice", "doomed", t0.Add(time.Minute)),
	} {
		_, err := r.Append(ctx, e)
		require.NoError(t, err)
	}
	_, err = r.Delete(ctx, "alice_bob", []string{"m2", "m7"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()
	r = newTestReconciler(store)
	require.NoError(t, r.LoadAll(ctx))

	entries, err := r.Render(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m1"}, ids(entries))
	assert.True(t, entries[1].Time.Equal(t0))

	// 持久化的墓碑继续生效
	change, err := r.Apply(ctx, &event.MessageReceived{From: "bob", To: "alice", Message: "late", ID: "m7", Time: t0})
	require.NoError(t, err)
	assert.False(t, change.Appended)

	pairs, err := store.Pairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice_bob"}, pairs)
}

func TestStores_AppendIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	sqlite, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer sqlite.Close()

	for name, store := range map[string]Store{"memory": NewMemoryStore(), "sqlite": sqlite} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append(ctx, "alice_bob", text("m1", "alice", "bob", "a", t0)))
			require.NoError(t, store.Append(ctx, "alice_bob", text("m1", "alice", "bob", "b", t0)))
			require.NoError(t, store.Append(ctx, "alice_bob", text("m2", "alice", "bob", "c", t0)))

			h, err := store.Load(ctx, "alice_bob")
			require.NoError(t, err)
			rendered := h.Render()
			assert.Equal(t, []string{"m1", "m2"}, ids(rendered))
			assert.Equal(t, "a", rendered[0].Body)

			empty, err := store.Load(ctx, "nobody_else")
			require.NoError(t, err)
			assert.Equal(t, 0, empty.Len())
		})
	}
}
