package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/famulus-ai/famulus/pkg/models"
	testdb "github.com/famulus-ai/famulus/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStore_AppendOrdering(t *testing.T) {
	client := testdb.NewTestClient(t)
	tenantID, userID := seedTenantUser(t, client.DB())
	session := seedSession(t, client.DB(), tenantID, userID)
	messages := NewMessageStore(client.DB())
	ctx := context.Background()

	var ids []int64
	roles := []models.MessageRole{models.RoleUserMsg, models.RoleAssistant, models.RoleUserMsg}
	for i, role := range roles {
		msg, err := messages.Append(ctx, models.CreateMessageRequest{
			SessionID: session.ID,
			TenantID:  tenantID,
			Role:      role,
			Content:   fmt.Sprintf("turn %d", i),
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	t.Run("ids are strictly increasing", func(t *testing.T) {
		assert.Less(t, ids[0], ids[1])
		assert.Less(t, ids[1], ids[2])
	})

	t.Run("list returns commit order", func(t *testing.T) {
		listed, err := messages.ListBySession(ctx, tenantID, session.ID, 0, 100)
		require.NoError(t, err)
		require.Len(t, listed, 3)
		for i, msg := range listed {
			assert.Equal(t, ids[i], msg.ID)
			assert.Equal(t, fmt.Sprintf("turn %d", i), msg.Content)
		}
	})

	t.Run("cursor resumes after id", func(t *testing.T) {
		listed, err := messages.ListBySession(ctx, tenantID, session.ID, ids[0], 100)
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, ids[1], listed[0].ID)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		_, err := messages.Append(ctx, models.CreateMessageRequest{
			SessionID: session.ID,
			TenantID:  tenantID,
			Role:      models.RoleUserMsg,
		})
		assert.True(t, IsValidationError(err))
	})
}

func TestMessageStore_Tail(t *testing.T) {
	client := testdb.NewTestClient(t)
	tenantID, userID := seedTenantUser(t, client.DB())
	session := seedSession(t, client.DB(), tenantID, userID)
	messages := NewMessageStore(client.DB())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := messages.Append(ctx, models.CreateMessageRequest{
			SessionID: session.ID,
			TenantID:  tenantID,
			Role:      models.RoleUserMsg,
			Content:   fmt.Sprintf("msg %d", i),
		})
		require.NoError(t, err)
	}

	t.Run("returns last n in chronological order", func(t *testing.T) {
		tail, err := messages.Tail(ctx, tenantID, session.ID, 3)
		require.NoError(t, err)
		require.Len(t, tail, 3)
		assert.Equal(t, "msg 2", tail[0].Content)
		assert.Equal(t, "msg 4", tail[2].Content)
	})

	t.Run("short sessions return everything", func(t *testing.T) {
		tail, err := messages.Tail(ctx, tenantID, session.ID, 50)
		require.NoError(t, err)
		assert.Len(t, tail, 5)
	})
}
