package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListNotificationsHandlerValidation(t *testing.T) {
	s := testServer()

	tests := []struct {
		name   string
		query  string
		errMsg string
	}{
		{name: "invalid priority", query: "priority=urgent", errMsg: "invalid priority"},
		{name: "limit zero", query: "limit=0", errMsg: "invalid limit"},
		{name: "limit too large", query: "limit=201", errMsg: "invalid limit"},
		{name: "negative offset", query: "offset=-1", errMsg: "invalid offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(s, http.MethodGet, "/api/v1/notifications?"+tt.query, nil, true)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.errMsg)
		})
	}
}

func TestMarkReadHandlerValidation(t *testing.T) {
	s := testServer()

	t.Run("empty ids", func(t *testing.T) {
		w := perform(s, http.MethodPost, "/api/v1/notifications/read",
			strings.NewReader(`{"ids": []}`), true)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "ids is required")
	})

	t.Run("malformed body", func(t *testing.T) {
		w := perform(s, http.MethodPost, "/api/v1/notifications/read",
			strings.NewReader(`{"ids": "n-1"}`), true)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestResolveHandlerValidation(t *testing.T) {
	s := testServer()

	w := perform(s, http.MethodPost, "/api/v1/notifications/n-1/resolve",
		strings.NewReader(`{"resolution": ""}`), true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "resolution is required")
}

func TestDeleteNotificationsHandlerValidation(t *testing.T) {
	s := testServer()

	w := perform(s, http.MethodDelete, "/api/v1/notifications",
		strings.NewReader(`{"ids": []}`), true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ids is required")
}
