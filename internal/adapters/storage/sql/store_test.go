package sql

import (
	"context"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var sc = domain.SessionContext{UserID: "u1", SessionID: "01SESSION0000000000000000A"}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	s, err := New(db)
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return s
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.CreateSession(ctx, &domain.Session{
		ID: sc.SessionID, UserID: sc.UserID, Title: domain.DefaultSessionTitle, CreatedAt: now, UpdatedAt: now,
	}))

	got, err := s.GetSession(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSessionTitle, got.Title)

	_, err = s.GetSession(ctx, domain.SessionContext{UserID: "intruder", SessionID: sc.SessionID})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	got.Title = "Feeling stuck"
	got.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.UpdateSession(ctx, got))

	list, err := s.ListSessionsByUser(ctx, sc.UserID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Feeling stuck", list[0].Title)

	require.NoError(t, s.DeleteSession(ctx, sc))
	assert.ErrorIs(t, s.DeleteSession(ctx, sc), domain.ErrSessionNotFound)
}

func TestAppendKeepsOrderWhenClockGoesBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	s.now = func() time.Time {
		t := times[0]
		times = times[1:]
		return t
	}

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.Append(ctx, sc, &domain.Message{Role: domain.RoleUser, Text: text})
		require.NoError(t, err)
	}

	msgs, err := s.List(ctx, sc, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
	assert.Equal(t, "three", msgs[2].Text)
	assert.True(t, msgs[1].CreatedAt.Equal(base))
}

func TestAppendPersistsDistortionAndClientRef(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	stored, err := s.Append(ctx, sc, &domain.Message{
		Role:      domain.RoleUser,
		Text:      "I always fail",
		ClientRef: "c-1",
		Distortion: &domain.DistortionAnnotation{
			HasDistortion:        true,
			IdentifiedDistortion: "Overgeneralization",
			SuggestedChallenge:   "Is that always true?",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.NotZero(t, stored.Seq)

	msgs, err := s.List(ctx, sc, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c-1", msgs[0].ClientRef)
	require.NotNil(t, msgs[0].Distortion)
	assert.Equal(t, "Overgeneralization", msgs[0].Distortion.IdentifiedDistortion)
}

func TestSubscribeAndClear(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := openTestStore(t)

	_, err := s.Append(ctx, sc, &domain.Message{Role: domain.RoleUser, Text: "first"})
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx, sc)
	require.NoError(t, err)

	ev := <-ch
	assert.True(t, ev.Initial)
	require.Len(t, ev.Added, 1)

	_, err = s.Append(ctx, sc, &domain.Message{Role: domain.RoleAssistant, Text: "second"})
	require.NoError(t, err)
	ev = <-ch
	require.Len(t, ev.Added, 1)
	assert.Equal(t, "second", ev.Added[0].Text)

	require.NoError(t, s.DeleteLog(ctx, sc))
	ev = <-ch
	assert.True(t, ev.Cleared)

	msgs, err := s.List(ctx, sc, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	cancel()
	for range ch {
	}
}
