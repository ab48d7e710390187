package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/oncallstack/oncall-responder/internal/ingest"
	"github.com/oncallstack/oncall-responder/internal/metrics"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/workflow"
)

// maxUploadBytes bounds document and code uploads.
const maxUploadBytes = 16 << 20

// DeliveryHandler runs the incident workflow for a validated webhook payload.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, payload models.WebhookPayload) error
}

// Ingestor queues one knowledge source for indexing.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte, sourceID string, sourceType models.SourceType) (ingest.Result, error)
}

// ChatSyncer pulls channel history into the chat collection.
type ChatSyncer interface {
	Sync(ctx context.Context) error
}

// Handlers holds the HTTP endpoints and their collaborators.
type Handlers struct {
	delivery DeliveryHandler
	ingestor Ingestor
	syncer   ChatSyncer
	queue    *workflow.Queue
	logger   *slog.Logger
}

// NewHandlers wires the endpoint handlers.
func NewHandlers(delivery DeliveryHandler, ingestor Ingestor, syncer ChatSyncer, queue *workflow.Queue, logger *slog.Logger) *Handlers {
	return &Handlers{
		delivery: delivery,
		ingestor: ingestor,
		syncer:   syncer,
		queue:    queue,
		logger:   logger,
	}
}

// Register mounts the endpoints on the router.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/webhook/prometheus", h.handleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/upload", h.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/sync/chat", h.handleChatSync).Methods(http.MethodPost)
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
}

// handleWebhook is the Alertmanager-compatible front door. Validation
// failures reject synchronously with every problem named; past validation
// the sender always gets an acknowledgment, even when notification delivery
// failed downstream.
func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.WebhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&payload); err != nil {
		metrics.ObserveWebhook(metrics.OutcomeError)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed JSON payload"})
		return
	}

	if err := payload.Validate(); err != nil {
		metrics.ObserveWebhook(metrics.OutcomeError)
		var validation *models.ValidationErrors
		if errors.As(err, &validation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    "validation failed",
				"failures": validation.Failures,
			})
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}

	if err := h.delivery.HandleDelivery(r.Context(), payload); err != nil {
		// The alert data was valid; the sender must not retry. Only the
		// initial notification failed.
		metrics.ObserveWebhook(metrics.OutcomeError)
		h.logger.Error("initial notification failed", "group_key", payload.GroupKey, "error", err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "received",
			"detail": "notification delivery failed downstream",
		})
		return
	}

	metrics.ObserveWebhook(metrics.OutcomeSuccess)
	writeJSON(w, http.StatusOK, map[string]any{"status": "received"})
}

// uploadSourceTypes maps accepted media types to ingestion source types.
var uploadSourceTypes = map[string]models.SourceType{
	"text/markdown":   models.SourceMarkdown,
	"application/pdf": models.SourcePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": models.SourcePDF,
	"application/json": models.SourceChat,
}

const acceptedUploadTypes = "text/markdown, application/pdf, docx, application/json (chat transcript), text/* (source code)"

// handleUpload accepts one knowledge source and queues it for asynchronous
// ingestion. The media type picks the parser; source code is any text type
// carrying a file name, with the language check applied at ingestion time.
func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	raw, sourceID, mediaType, err := readUpload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	sourceType, ok := uploadSourceTypes[mediaType]
	if !ok {
		if strings.HasPrefix(mediaType, "text/") && sourceID != "" {
			sourceType = models.SourceCode
		} else {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":    "unsupported media type " + mediaType,
				"accepted": acceptedUploadTypes,
			})
			return
		}
	}

	if err := h.queue.Submit(func(ctx context.Context) {
		if _, err := h.ingestor.Ingest(ctx, raw, sourceID, sourceType); err != nil {
			h.logger.Error("ingestion failed", "source", sourceID, "source_type", sourceType, "error", err)
		}
	}); err != nil {
		h.logger.Error("failed to queue ingestion", "source", sourceID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "ingestion queue unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"source":     sourceID,
		"sourceType": string(sourceType),
	})
}

// handleChatSync triggers a full channel-history sync in the background.
func (h *Handlers) handleChatSync(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Submit(func(ctx context.Context) {
		if err := h.syncer.Sync(ctx); err != nil {
			h.logger.Error("chat sync failed", "error", err)
		}
	}); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "sync queue unavailable"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sync started"})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// readUpload extracts the raw bytes, source identity and media type from
// either a multipart form (field "file") or a raw request body.
func readUpload(r *http.Request) ([]byte, string, string, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, "", "", errors.New("missing or malformed Content-Type header")
	}

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, "", "", errors.New("malformed multipart form")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", "", errors.New("multipart form must carry a \"file\" field")
		}
		defer file.Close()

		raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			return nil, "", "", errors.New("failed to read uploaded file")
		}
		partType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
		if err != nil {
			partType = ""
		}
		return raw, header.Filename, partType, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return nil, "", "", errors.New("failed to read request body")
	}
	return raw, r.URL.Query().Get("source"), mediaType, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
