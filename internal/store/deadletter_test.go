package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/models"
)

func TestInsertDeadLetterRoundTrip(t *testing.T) {
	db := testDB(t)

	ev := testEvent("evt-bad", "acme", "fin_settlement_fail")
	id, err := InsertDeadLetter(db, ev, models.DeadLetterReasonExhausted, "db kept timing out")
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := GetDeadLetter(db, id)
	require.NoError(t, err)
	require.Equal(t, "evt-bad", got.EventID)
	require.Equal(t, "acme", got.TenantID)
	require.Equal(t, models.DeadLetterReasonExhausted, got.Reason)
	require.Nil(t, got.ReplayedAt)

	// The payload is the full event, so replay needs nothing else.
	var replay models.IngestionEvent
	require.NoError(t, json.Unmarshal(got.Payload, &replay))
	require.Equal(t, ev.EventID, replay.EventID)
	require.Equal(t, ev.RawType, replay.RawType)
	require.JSONEq(t, string(ev.Payload), string(replay.Payload))
}

func TestInsertDeadLetterRequiresReason(t *testing.T) {
	db := testDB(t)
	_, err := InsertDeadLetter(db, testEvent("e", "t", "x"), "", "")
	require.Error(t, err)
}

func TestListDeadLettersPendingFilter(t *testing.T) {
	db := testDB(t)

	id1, err := InsertDeadLetter(db, testEvent("e1", "acme", "x"), models.DeadLetterReasonMalformed, "")
	require.NoError(t, err)
	_, err = InsertDeadLetter(db, testEvent("e2", "acme", "x"), models.DeadLetterReasonMalformed, "")
	require.NoError(t, err)

	require.NoError(t, MarkDeadLetterReplayed(db, id1))

	pending, err := ListDeadLetters(db, true, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "e2", pending[0].EventID)

	all, err := ListDeadLetters(db, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

// A dead letter can be marked replayed exactly once.
func TestMarkDeadLetterReplayedOnce(t *testing.T) {
	db := testDB(t)

	id, err := InsertDeadLetter(db, testEvent("e1", "acme", "x"), models.DeadLetterReasonExhausted, "")
	require.NoError(t, err)

	require.NoError(t, MarkDeadLetterReplayed(db, id))

	got, err := GetDeadLetter(db, id)
	require.NoError(t, err)
	require.True(t, got.IsReplayed())

	err = MarkDeadLetterReplayed(db, id)
	require.ErrorIs(t, err, ErrDeadLetterGone)

	err = MarkDeadLetterReplayed(db, 99999)
	require.ErrorIs(t, err, ErrDeadLetterGone)
}

func TestCountDeadLettersPendingOnly(t *testing.T) {
	db := testDB(t)

	id, err := InsertDeadLetter(db, testEvent("e1", "acme", "x"), models.DeadLetterReasonExhausted, "")
	require.NoError(t, err)
	_, err = InsertDeadLetter(db, testEvent("e2", "acme", "x"), models.DeadLetterReasonExhausted, "")
	require.NoError(t, err)

	count, err := CountDeadLetters(db)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	require.NoError(t, MarkDeadLetterReplayed(db, id))

	count, err = CountDeadLetters(db)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
