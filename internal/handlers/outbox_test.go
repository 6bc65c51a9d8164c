package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"relay-service/internal/backend"
	"relay-service/internal/mocks"
	"relay-service/internal/models"
	"relay-service/internal/outbox"
	"relay-service/internal/repositories"
)

func outboxRouter(svc *mocks.OutboxServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewOutboxHandler(svc)
	router := gin.New()
	router.POST("/messages", h.SendMessage)
	router.GET("/outbox", h.ListOutbox)
	router.POST("/outbox/drain", h.Drain)
	router.DELETE("/outbox", h.ClearOutbox)
	router.GET("/outbox/dead", h.ListDead)
	router.POST("/outbox/dead/:id/requeue", h.RequeueDead)
	return router
}

func TestSendMessageDelivered(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	msg := models.QueuedMessage{ID: "m1", Kind: models.KindDirect, TargetID: "u123", Body: "hi"}
	svc.On("Send", mock.Anything, models.KindDirect, "u123", "hi", "").Return(true, msg, nil).Once()

	body := bytes.NewBufferString(`{"kind":"direct","target_id":"u123","body":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "delivered", resp.Status)
	svc.AssertExpectations(t)
}

func TestSendMessageQueuedWhileOffline(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	msg := models.QueuedMessage{ID: "m2", Kind: models.KindGroup, TargetID: "g7", Body: "later"}
	svc.On("Send", mock.Anything, models.KindGroup, "g7", "later", "").Return(false, msg, nil).Once()

	body := bytes.NewBufferString(`{"kind":"group","target_id":"g7","body":"later"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	svc.AssertExpectations(t)
}

func TestSendMessageRejectsInvalidKind(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)

	body := bytes.NewBufferString(`{"kind":"broadcast","target_id":"u1","body":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Send")
}

func TestSendMessageMissingBody(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)

	body := bytes.NewBufferString(`{"kind":"direct","target_id":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessagePermanentRejection(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	rejection := &backend.Error{Kind: backend.KindPermanent, StatusCode: 422, Op: "insert messages", Message: "body too large"}
	svc.On("Send", mock.Anything, models.KindDirect, "u123", "huge", "").Return(false, models.QueuedMessage{}, rejection).Once()

	body := bytes.NewBufferString(`{"kind":"direct","target_id":"u123","body":"huge"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	svc.AssertExpectations(t)
}

func TestListOutbox(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	entries := []models.QueuedMessage{
		{ID: "m1", Body: "hi"},
		{ID: "m2", Body: "are you there?"},
	}
	svc.On("List", mock.Anything).Return(entries, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/outbox", nil)
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Entries []models.QueuedMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 2)
	svc.AssertExpectations(t)
}

func TestListOutboxFailure(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	svc.On("List", mock.Anything).Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/outbox", nil)
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	svc.AssertExpectations(t)
}

func TestDrainEndpoint(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	svc.On("Drain", mock.Anything).Return(outbox.DrainResult{Delivered: 3}).Once()

	req := httptest.NewRequest(http.MethodPost, "/outbox/drain", nil)
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Result outbox.DrainResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Result.Delivered)
	svc.AssertExpectations(t)
}

func TestClearOutboxEndpoint(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	svc.On("Clear", mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/outbox", nil)
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestRequeueDeadNotFound(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	svc.On("Requeue", mock.Anything, "m404").Return(models.QueuedMessage{}, repositories.ErrEntryNotFound).Once()

	req := httptest.NewRequest(http.MethodPost, "/outbox/dead/m404/requeue", nil)
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertExpectations(t)
}

func TestRequeueDeadSuccess(t *testing.T) {
	svc := new(mocks.OutboxServiceMock)
	msg := models.QueuedMessage{ID: "m9", Status: models.StatusPending}
	svc.On("Requeue", mock.Anything, "m9").Return(msg, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/outbox/dead/m9/requeue", nil)
	w := httptest.NewRecorder()
	outboxRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}
