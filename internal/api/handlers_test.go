package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallstack/oncall-responder/internal/ingest"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/notify"
	"github.com/oncallstack/oncall-responder/internal/workflow"
)

type fakeDelivery struct {
	mu       sync.Mutex
	payloads []models.WebhookPayload
	err      error
}

func (f *fakeDelivery) HandleDelivery(_ context.Context, payload models.WebhookPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.err
}

type fakeIngestor struct {
	mu      sync.Mutex
	sources []string
	types   []models.SourceType
}

func (f *fakeIngestor) Ingest(_ context.Context, _ []byte, sourceID string, sourceType models.SourceType) (ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, sourceID)
	f.types = append(f.types, sourceType)
	return ingest.Result{Chunks: 1}, nil
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSyncer) Sync(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type testAPI struct {
	router   *mux.Router
	delivery *fakeDelivery
	ingestor *fakeIngestor
	syncer   *fakeSyncer
	queue    *workflow.Queue
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := workflow.NewQueue(1, 16, logger)
	t.Cleanup(queue.Close)

	api := &testAPI{
		router:   mux.NewRouter(),
		delivery: &fakeDelivery{},
		ingestor: &fakeIngestor{},
		syncer:   &fakeSyncer{},
		queue:    queue,
	}
	NewHandlers(api.delivery, api.ingestor, api.syncer, queue, logger).Register(api.router)
	return api
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func validWebhookBody() string {
	return `{
		"version": "4",
		"groupKey": "{}/{alertname=\"HighCPU\"}",
		"status": "firing",
		"groupLabels": {"alertname": "HighCPU"},
		"alerts": [{
			"fingerprint": "fp-1",
			"status": "firing",
			"labels": {"alertname": "HighCPU"},
			"annotations": {"summary": "cpu hot"},
			"startsAt": "2026-08-30T10:00:00Z"
		}]
	}`
}

func TestWebhookAccepted(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/prometheus", strings.NewReader(validWebhookBody()))
	rec := api.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, api.delivery.payloads, 1)
	assert.Equal(t, "fp-1", api.delivery.payloads[0].Alerts[0].Fingerprint)
}

func TestWebhookValidationNamesEveryFailure(t *testing.T) {
	api := newTestAPI(t)
	body := `{"status": "unknown", "alerts": [{"status": "firing"}]}`

	rec := api.do(httptest.NewRequest(http.MethodPost, "/webhook/prometheus", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp struct {
		Failures []string `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, len(resp.Failures), 3)
	joined := strings.Join(resp.Failures, "; ")
	assert.Contains(t, joined, "status")
	assert.Contains(t, joined, "groupKey")
	assert.Contains(t, joined, "fingerprint")
	assert.Empty(t, api.delivery.payloads, "invalid payload never reaches the workflow")
}

func TestWebhookZeroAlertsAccepted(t *testing.T) {
	api := newTestAPI(t)
	body := `{"version": "4", "groupKey": "gk", "status": "firing", "alerts": []}`

	rec := api.do(httptest.NewRequest(http.MethodPost, "/webhook/prometheus", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, api.delivery.payloads, 1)
	assert.Empty(t, api.delivery.payloads[0].Alerts)
}

func TestWebhookDeliveryFailureStillAcknowledged(t *testing.T) {
	api := newTestAPI(t)
	api.delivery.err = notify.ErrDeliveryFailed

	rec := api.do(httptest.NewRequest(http.MethodPost, "/webhook/prometheus", strings.NewReader(validWebhookBody())))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "received")
	assert.Contains(t, rec.Body.String(), "downstream")
}

func multipartUpload(t *testing.T, fileName, contentType, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadMarkdownQueued(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(multipartUpload(t, "runbook.md", "text/markdown", "# A\ntext"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	api.queue.Close()

	require.Len(t, api.ingestor.sources, 1)
	assert.Equal(t, "runbook.md", api.ingestor.sources[0])
	assert.Equal(t, models.SourceMarkdown, api.ingestor.types[0])
}

func TestUploadCodeByTextMediaType(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(multipartUpload(t, "main.go", "text/x-go", "package main"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	api.queue.Close()

	require.Len(t, api.ingestor.types, 1)
	assert.Equal(t, models.SourceCode, api.ingestor.types[0])
}

func TestUploadUnsupportedMediaTypeNamesAcceptedTypes(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(multipartUpload(t, "data.xlsx", "application/vnd.ms-excel", "binary"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported media type")
	assert.Contains(t, rec.Body.String(), "text/markdown")
	assert.Contains(t, rec.Body.String(), "application/pdf")
	api.queue.Close()
	assert.Empty(t, api.ingestor.sources)
}

func TestUploadRawBody(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?source=guide.pdf", strings.NewReader("page one\fpage two"))
	req.Header.Set("Content-Type", "application/pdf")
	rec := api.do(req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	api.queue.Close()
	require.Len(t, api.ingestor.sources, 1)
	assert.Equal(t, "guide.pdf", api.ingestor.sources[0])
	assert.Equal(t, models.SourcePDF, api.ingestor.types[0])
}

func TestChatSyncTriggered(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(httptest.NewRequest(http.MethodPost, "/sync/chat", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	api.queue.Close()
	assert.Equal(t, 1, api.syncer.calls)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
