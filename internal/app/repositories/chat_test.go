package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaole-web/internal/app/models"
)

func TestChatRepositorySessionLifecycle(t *testing.T) {
	r := NewChatRepository()

	id := r.EnsureSession("", "帮我写一份很长很长的周报，包含本周完成的工作内容和下周的计划安排")
	require.NotEmpty(t, id)
	assert.Equal(t, id, r.EnsureSession(id, "ignored"))

	u, err := r.Append(id, models.Message{Role: models.RoleUser, Content: "q"})
	require.NoError(t, err)
	a, err := r.Append(id, models.Message{Role: models.RoleAssistant, Content: "a"})
	require.NoError(t, err)
	assert.Equal(t, models.ID("1"), u.ID)
	assert.Equal(t, models.ID("2"), a.ID)
	assert.Equal(t, models.StatusDone, a.Status)

	detail, err := r.Get(id, 0)
	require.NoError(t, err)
	assert.Len(t, detail.Messages, 2)
	assert.Equal(t, 33, len([]rune(detail.Title)))

	detail, err = r.Get(id, 1)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "a", detail.Messages[0].Content)

	require.NoError(t, r.Delete(id))
	_, err = r.Get(id, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, r.Delete(id), ErrSessionNotFound)
	_, err = r.Append(id, models.Message{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestChatRepositoryListNewestFirst(t *testing.T) {
	r := NewChatRepository()
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	older := r.EnsureSession("s-old", "old")
	clock = clock.Add(time.Minute)
	newer := r.EnsureSession("s-new", "new")
	clock = clock.Add(time.Minute)
	_, err := r.Append(older, models.Message{Role: models.RoleUser, Content: "bump"})
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, older, list[0].SessionID)
	assert.Equal(t, 1, list[0].MessageCount)
	assert.Equal(t, newer, list[1].SessionID)
	assert.Empty(t, r.History("missing"))
}
