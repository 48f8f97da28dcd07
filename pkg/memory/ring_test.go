package memory

import (
	"fmt"
	"testing"

	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id int64, content string) *models.Message {
	return &models.Message{ID: id, Role: models.RoleUserMsg, Content: content}
}

func TestRing(t *testing.T) {
	t.Run("fills in order before wrapping", func(t *testing.T) {
		r := newRing(3)
		r.add(msg(1, "a"))
		r.add(msg(2, "b"))

		window := r.snapshot()
		require.Len(t, window, 2)
		assert.Equal(t, int64(1), window[0].ID)
		assert.Equal(t, int64(2), window[1].ID)
		assert.Equal(t, 2, r.len())
	})

	t.Run("evicts oldest once full", func(t *testing.T) {
		r := newRing(3)
		for i := int64(1); i <= 5; i++ {
			r.add(msg(i, fmt.Sprintf("m%d", i)))
		}

		window := r.snapshot()
		require.Len(t, window, 3)
		assert.Equal(t, int64(3), window[0].ID)
		assert.Equal(t, int64(4), window[1].ID)
		assert.Equal(t, int64(5), window[2].ID)
		assert.Equal(t, 3, r.len())
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		r := newRing(2)
		r.add(msg(1, "a"))

		window := r.snapshot()
		window[0] = msg(99, "mutated")

		assert.Equal(t, int64(1), r.snapshot()[0].ID)
	})

	t.Run("zero limit still holds one message", func(t *testing.T) {
		r := newRing(0)
		r.add(msg(1, "a"))
		r.add(msg(2, "b"))

		window := r.snapshot()
		require.Len(t, window, 1)
		assert.Equal(t, int64(2), window[0].ID)
	})
}
