package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPush_SendsMessageToRelay(t *testing.T) {
	var received Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, 2000)
	require.True(t, client.Enabled())

	userID := uuid.New()
	client.Push(context.Background(), Message{
		UserID: userID,
		Title:  "Expense approved",
		Body:   "\"Cement\" was approved",
		Type:   TypeExpenseApproved,
		Payload: map[string]any{
			"expense_id": uuid.NewString(),
		},
	})

	assert.Equal(t, userID, received.UserID)
	assert.Equal(t, TypeExpenseApproved, received.Type)
	assert.NotEmpty(t, received.Payload["expense_id"])
}

func TestPush_DisabledWithoutRelayURL(t *testing.T) {
	client := NewClient("", 2000)
	assert.False(t, client.Enabled())

	// Must be a no-op, never a panic or an error.
	client.Push(context.Background(), Message{UserID: uuid.New(), Type: TypeExpenseSubmitted})
}

func TestPush_RelayErrorsAreSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, 2000)
	client.Push(context.Background(), Message{UserID: uuid.New(), Type: TypeExpenseRejected})
}

func TestPushAll_FansOutToEveryRecipient(t *testing.T) {
	var count int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, 2000)
	client.PushAll(context.Background(),
		[]uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		"New expense submitted", "Lee submitted \"Cement\"", TypeExpenseSubmitted, nil)

	assert.Equal(t, 3, count)
}
