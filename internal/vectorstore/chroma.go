package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ChromaStore implements Store against a Chroma server's REST API.
// Collection ids are resolved once per name and cached for the process
// lifetime; Chroma ids are stable for a given collection name.
type ChromaStore struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	mu            sync.Mutex
	collectionIDs map[string]string
}

// NewChromaStore constructs a Chroma client.
func NewChromaStore(endpoint, apiKey string, timeout time.Duration) *ChromaStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChromaStore{
		endpoint:      strings.TrimRight(endpoint, "/"),
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: timeout},
		collectionIDs: make(map[string]string),
	}
}

// EnsureCollection creates the named collection when absent and caches its id.
func (s *ChromaStore) EnsureCollection(ctx context.Context, name string) error {
	if s == nil || s.endpoint == "" {
		return fmt.Errorf("chroma endpoint not configured")
	}
	_, err := s.resolveCollection(ctx, name, true)
	return err
}

// Upsert writes documents into the collection, overwriting by id so
// re-ingestion of a source replaces its previous chunks.
func (s *ChromaStore) Upsert(ctx context.Context, collection string, docs []Document) error {
	if s == nil || s.endpoint == "" {
		return fmt.Errorf("chroma endpoint not configured")
	}
	if len(docs) == 0 {
		return nil
	}

	id, err := s.resolveCollection(ctx, collection, true)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(docs))
	texts := make([]string, 0, len(docs))
	metadatas := make([]map[string]any, 0, len(docs))
	vectors := make([][]float32, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document id must not be empty")
		}
		if len(doc.Vector) == 0 {
			return fmt.Errorf("document %s has no embedding vector", doc.ID)
		}
		ids = append(ids, doc.ID)
		texts = append(texts, doc.Text)
		metadatas = append(metadatas, doc.Metadata)
		vectors = append(vectors, doc.Vector)
	}

	payload := map[string]any{
		"ids":        ids,
		"documents":  texts,
		"metadatas":  metadatas,
		"embeddings": vectors,
	}

	endpoint := fmt.Sprintf("%s/api/v1/collections/%s/upsert", s.endpoint, id)
	if err := s.postJSON(ctx, endpoint, payload, nil); err != nil {
		return fmt.Errorf("chroma upsert failed: %w", err)
	}
	return nil
}

// Query runs a top-K similarity search over the named collection.
func (s *ChromaStore) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error) {
	if s == nil || s.endpoint == "" {
		return nil, fmt.Errorf("chroma endpoint not configured")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector must not be empty")
	}
	if topK <= 0 {
		topK = 3
	}

	id, err := s.resolveCollection(ctx, collection, false)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}

	var response struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}

	endpoint := fmt.Sprintf("%s/api/v1/collections/%s/query", s.endpoint, id)
	if err := s.postJSON(ctx, endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("chroma query failed: %w", err)
	}

	if len(response.IDs) == 0 {
		return nil, nil
	}

	ids := response.IDs[0]
	hits := make([]Hit, 0, len(ids))
	for i := range ids {
		hit := Hit{ID: ids[i]}
		if len(response.Documents) > 0 && i < len(response.Documents[0]) {
			hit.Text = response.Documents[0][i]
		}
		if len(response.Metadatas) > 0 && i < len(response.Metadatas[0]) {
			hit.Metadata = response.Metadatas[0][i]
		}
		if len(response.Distances) > 0 && i < len(response.Distances[0]) {
			hit.Distance = response.Distances[0][i]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *ChromaStore) resolveCollection(ctx context.Context, name string, create bool) (string, error) {
	if name == "" {
		return "", fmt.Errorf("collection name must not be empty")
	}

	s.mu.Lock()
	if id, ok := s.collectionIDs[name]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var (
		id  string
		err error
	)
	if create {
		id, err = s.getOrCreateCollection(ctx, name)
	} else {
		id, err = s.getCollection(ctx, name)
	}
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.collectionIDs[name] = id
	s.mu.Unlock()
	return id, nil
}

func (s *ChromaStore) getOrCreateCollection(ctx context.Context, name string) (string, error) {
	payload := map[string]any{"name": name, "get_or_create": true}

	var response struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := s.postJSON(ctx, s.endpoint+"/api/v1/collections", payload, &response); err != nil {
		return "", fmt.Errorf("create collection %s: %w", name, err)
	}
	if response.ID == "" {
		return "", fmt.Errorf("create collection %s: empty id in response", name)
	}
	return response.ID, nil
}

func (s *ChromaStore) getCollection(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/collections/%s", s.endpoint, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("get collection %s: %s", name, strings.TrimSpace(string(data)))
	}

	var response struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode collection response: %w", err)
	}
	if response.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return response.ID, nil
}

func (s *ChromaStore) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chroma returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (s *ChromaStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}
