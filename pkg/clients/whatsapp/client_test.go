package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/poultrydesk/internal/config"
)

const messagesURL = "https://graph.example.test/v20.0/12345/messages"

func newMockedClient(t *testing.T) *APIClient {
	t.Helper()
	c := NewClient(config.WhatsAppConfig{
		AccessToken:   "secret",
		PhoneNumberID: "12345",
		BaseURL:       "https://graph.example.test/",
		APIVersion:    "v20.0",
	})
	c.httpClient.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	httpmock.ActivateNonDefault(c.httpClient.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestSendTextMessage(t *testing.T) {
	c := newMockedClient(t)

	var got map[string]any
	httpmock.RegisterResponder(http.MethodPost, messagesURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"messages": []map[string]string{{"id": "wamid.1"}},
			})
		})

	resp, err := c.SendTextMessage(context.Background(), SendTextMessageRequest{To: "224600000000", Body: " hello "})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", resp.MessageID())
	assert.Equal(t, "224600000000", got["to"])
	assert.Equal(t, "hello", got["text"].(map[string]any)["body"])
}

func TestSendTextMessageAPIError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, messagesURL,
		httpmock.NewJsonResponderOrPanic(http.StatusBadRequest, map[string]any{
			"error": map[string]any{"message": "Invalid parameter", "code": 100},
		}))

	_, err := c.SendTextMessage(context.Background(), SendTextMessageRequest{To: "x", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code=100")
	assert.Contains(t, err.Error(), "Invalid parameter")
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "client errors are not retried")
}

func TestSendTextMessageRetriesServerErrors(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, messagesURL,
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream"))

	_, err := c.SendTextMessage(context.Background(), SendTextMessageRequest{To: "x", Body: "hi"})
	require.Error(t, err)
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestSendTextMessageRejectsEmptyBody(t *testing.T) {
	c := newMockedClient(t)

	_, err := c.SendTextMessage(context.Background(), SendTextMessageRequest{To: "x", Body: "  "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestSendTextMessageTruncatesLongBody(t *testing.T) {
	c := newMockedClient(t)

	var got map[string]any
	httpmock.RegisterResponder(http.MethodPost, messagesURL,
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{})
		})

	_, err := c.SendTextMessage(context.Background(), SendTextMessageRequest{To: "x", Body: strings.Repeat("a", maxBodyRunes+50)})
	require.NoError(t, err)
	body := got["text"].(map[string]any)["body"].(string)
	assert.Len(t, []rune(body), maxBodyRunes)
}
