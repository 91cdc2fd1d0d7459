package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cats = "categories"

func item(localID int64, payload string) models.PushItem {
	return models.PushItem{LocalID: localID, Payload: json.RawMessage(payload)}
}

func TestPush_CreatesAndPullReturnsThem(t *testing.T) {
	ctx := context.Background()
	s, m := newSyncService(t)
	u := newUser(t, m, "alice")

	out, err := s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{
		item(1, `{"name":"Food"}`),
		item(2, `{"name":"Rent"}`),
	})
	require.NoError(t, err)
	require.Len(t, out.Accepted, 2)
	assert.Empty(t, out.Rejected)
	assert.Equal(t, int64(1_000), out.Accepted[0].UpdatedAt)
	assert.Equal(t, int64(1_001), out.Accepted[1].UpdatedAt)

	pull, err := s.Pull(ctx, u.ID, cats, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_001), pull.ServerTime)
	require.Len(t, pull.Records, 2)
	assert.Equal(t, out.Accepted[0].RemoteID, pull.Records[0].ID)
	assert.JSONEq(t, `{"name":"Food"}`, string(pull.Records[0].Payload))

	// cursor at server time: nothing new
	pull, err = s.Pull(ctx, u.ID, cats, pull.ServerTime)
	require.NoError(t, err)
	assert.Empty(t, pull.Records)
	assert.Equal(t, int64(1_001), pull.ServerTime)
}

func TestPush_ClockIsMonotonicWhenWallClockGoesBack(t *testing.T) {
	ctx := context.Background()
	s, m := newSyncService(t)
	u := newUser(t, m, "alice")

	first, err := s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{item(1, `{}`)})
	require.NoError(t, err)

	s.now = func() time.Time { return time.UnixMicro(10) }
	second, err := s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{item(2, `{}`)})
	require.NoError(t, err)

	assert.Greater(t, second.Accepted[0].UpdatedAt, first.Accepted[0].UpdatedAt)
}

func TestPush_RetriedCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, m := newSyncService(t)
	u := newUser(t, m, "alice")

	first, err := s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{item(7, `{"name":"a"}`)})
	require.NoError(t, err)
	created := first.Accepted[0]

	// response lost: the device pushes the same local record again
	again, err := s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{item(7, `{"name":"b"}`)})
	require.NoError(t, err)
	assert.Empty(t, again.Accepted)
	assert.Equal(t, []models.Rejected{{
		LocalID:   7,
		Reason:    rpc.ReasonConflict,
		RemoteID:  created.RemoteID,
		UpdatedAt: created.UpdatedAt,
	}}, again.Rejected)

	// another device with the same local id creates its own record
	other, err := s.Push(ctx, u.ID, "dev2", cats, []models.PushItem{item(7, `{"name":"c"}`)})
	require.NoError(t, err)
	assert.NotEqual(t, first.Accepted[0].RemoteID, other.Accepted[0].RemoteID)

	pull, err := s.Pull(ctx, u.ID, cats, 0)
	require.NoError(t, err)
	assert.Len(t, pull.Records, 2)
}

func TestPush_UpdateBaseCheck(t *testing.T) {
	ctx := context.Background()
	s, m := newSyncService(t)
	u := newUser(t, m, "alice")

	created, err := s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{item(1, `{"name":"a"}`)})
	require.NoError(t, err)
	acc := created.Accepted[0]

	upd := models.PushItem{LocalID: 1, RemoteID: acc.RemoteID, Payload: json.RawMessage(`{"name":"b"}`), BaseUpdatedAt: acc.UpdatedAt}
	out, err := s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{upd})
	require.NoError(t, err)
	require.Len(t, out.Accepted, 1)
	newer := out.Accepted[0].UpdatedAt
	assert.Greater(t, newer, acc.UpdatedAt)

	// a second device still based on the first version
	stale := models.PushItem{LocalID: 9, RemoteID: acc.RemoteID, Payload: json.RawMessage(`{"name":"c"}`), BaseUpdatedAt: acc.UpdatedAt}
	out, err = s.Push(ctx, u.ID, "dev2", cats, []models.PushItem{stale})
	require.NoError(t, err)
	assert.Empty(t, out.Accepted)
	assert.Equal(t, []models.Rejected{{LocalID: 9, Reason: rpc.ReasonConflict}}, out.Rejected)

	// tombstone from an up-to-date base
	del := models.PushItem{LocalID: 1, RemoteID: acc.RemoteID, BaseUpdatedAt: newer, Deleted: true}
	out, err = s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{del})
	require.NoError(t, err)
	require.Len(t, out.Accepted, 1)

	pull, err := s.Pull(ctx, u.ID, cats, newer)
	require.NoError(t, err)
	require.Len(t, pull.Records, 1)
	assert.True(t, pull.Records[0].Deleted)
}

func TestPush_PerItemRejections(t *testing.T) {
	ctx := context.Background()
	s, m := newSyncService(t)
	u := newUser(t, m, "alice")

	out, err := s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{
		item(1, `{not json`),
		{LocalID: 2, RemoteID: "00000000-0000-0000-0000-000000000000", Payload: json.RawMessage(`{}`)},
		{LocalID: 3, RemoteID: "R1", Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Accepted)
	assert.Equal(t, []models.Rejected{
		{LocalID: 1, Reason: rpc.ReasonInvalid},
		{LocalID: 2, Reason: rpc.ReasonNotFound},
		{LocalID: 3, Reason: rpc.ReasonNotFound},
	}, out.Rejected)

	out, err = s.Push(ctx, u.ID, "dev1", cats, []models.PushItem{{LocalID: 4}})
	require.NoError(t, err)
	assert.Equal(t, rpc.ReasonInvalid, out.Rejected[0].Reason)
}

func TestPush_BatchLimitAndEntityType(t *testing.T) {
	ctx := context.Background()
	s, m := newSyncService(t)
	u := newUser(t, m, "alice")

	_, err := s.Push(ctx, u.ID, "dev1", cats, make([]models.PushItem, 4))
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = s.Push(ctx, u.ID, "dev1", "Bad Type", nil)
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = s.Pull(ctx, u.ID, "", 0)
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestSync_UsersAndEntityTypesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, m := newSyncService(t)
	alice := newUser(t, m, "alice")
	bob := newUser(t, m, "bob")

	a, err := s.Push(ctx, alice.ID, "dev1", cats, []models.PushItem{item(1, `{"name":"mine"}`)})
	require.NoError(t, err)
	_, err = s.Push(ctx, alice.ID, "dev1", "budgets", []models.PushItem{item(1, `{}`)})
	require.NoError(t, err)

	pull, err := s.Pull(ctx, bob.ID, cats, 0)
	require.NoError(t, err)
	assert.Empty(t, pull.Records)
	assert.Equal(t, int64(0), pull.ServerTime)

	// bob cannot update alice's record
	out, err := s.Push(ctx, bob.ID, "dev9", cats, []models.PushItem{{LocalID: 1, RemoteID: a.Accepted[0].RemoteID, Payload: json.RawMessage(`{}`), BaseUpdatedAt: 1 << 60}})
	require.NoError(t, err)
	assert.Equal(t, rpc.ReasonNotFound, out.Rejected[0].Reason)

	pull, err = s.Pull(ctx, alice.ID, cats, 0)
	require.NoError(t, err)
	assert.Len(t, pull.Records, 1)
}

func TestSync_UnknownUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newSyncService(t)

	_, err := s.Pull(ctx, "ghost", cats, 0)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = s.Push(ctx, "ghost", "dev1", cats, []models.PushItem{item(1, `{}`)})
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestPush_RetriedCreateKeepsLaterEdit(t *testing.T) {
	ctx := context.Background()
	s, m := newSyncService(t)
	u := newUser(t, m, "alice")

	first, err := s.Push(ctx, u.ID, "devA", cats, []models.PushItem{item(1, `{"name":"Food"}`)})
	require.NoError(t, err)
	created := first.Accepted[0]

	rename := models.PushItem{LocalID: 5, RemoteID: created.RemoteID, Payload: json.RawMessage(`{"name":"Groceries"}`), BaseUpdatedAt: created.UpdatedAt}
	renamed, err := s.Push(ctx, u.ID, "devB", cats, []models.PushItem{rename})
	require.NoError(t, err)
	require.Len(t, renamed.Accepted, 1)

	// devA never saw its acknowledgement and repeats the create
	again, err := s.Push(ctx, u.ID, "devA", cats, []models.PushItem{item(1, `{"name":"Food"}`)})
	require.NoError(t, err)
	require.Len(t, again.Rejected, 1)
	assert.Equal(t, created.RemoteID, again.Rejected[0].RemoteID)
	assert.Equal(t, renamed.Accepted[0].UpdatedAt, again.Rejected[0].UpdatedAt)

	pull, err := s.Pull(ctx, u.ID, cats, 0)
	require.NoError(t, err)
	require.Len(t, pull.Records, 1)
	assert.JSONEq(t, `{"name":"Groceries"}`, string(pull.Records[0].Payload))
}
