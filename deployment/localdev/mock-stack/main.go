package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Mock Slack, Gemini and Chroma endpoints for running the responder
// locally without credentials. Point the responder at it with
// RESPONDER_SLACK_API_URL=http://localhost:9090/slack/api/
// RESPONDER_GEMINI_BASE_URL=http://localhost:9090/gemini
// RESPONDER_CHROMA_ENDPOINT=http://localhost:9090

type collection struct {
	ID   string
	Docs map[string]storedDoc
}

type storedDoc struct {
	Text     string
	Metadata map[string]any
	Vector   []float32
}

type mockState struct {
	mu          sync.Mutex
	messages    int
	collections map[string]*collection
}

func main() {
	state := &mockState{collections: make(map[string]*collection)}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Slack Web API. chat.postMessage hands out sequential timestamps so
	// threads are observable in the logs.
	mux.HandleFunc("/slack/api/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		state.mu.Lock()
		state.messages++
		ts := fmt.Sprintf("%d.%06d", time.Now().Unix(), state.messages)
		state.mu.Unlock()
		log.Printf("slack: posted message ts=%s", ts)
		writeJSON(w, map[string]any{
			"ok":      true,
			"channel": "C0MOCK",
			"ts":      ts,
			"message": map[string]any{"ts": ts},
		})
	})

	mux.HandleFunc("/slack/api/conversations.history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"user": "U1", "text": "checkout threw 500s during the deploy", "ts": "1700000000.000100", "thread_ts": "1700000000.000100"},
				{"user": "U2", "text": "tracking dashboards updated", "ts": "1700000100.000200"},
			},
			"has_more": false,
		})
	})

	mux.HandleFunc("/slack/api/conversations.replies", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"user": "U1", "text": "checkout threw 500s during the deploy", "ts": "1700000000.000100"},
				{"user": "U3", "text": "rolled back, recovered", "ts": "1700000050.000150"},
			},
			"has_more": false,
		})
	})

	// Gemini generation and embedding.
	mux.HandleFunc("/gemini/v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			writeJSON(w, map[string]any{
				"candidates": []map[string]any{{
					"content": map[string]any{
						"parts": []map[string]any{{"text": "Mock summary: correlated alerts point at checkout saturation."}},
					},
				}},
			})
		case strings.HasSuffix(r.URL.Path, ":batchEmbedContents"):
			var req struct {
				Requests []json.RawMessage `json:"requests"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			embeddings := make([]map[string]any, len(req.Requests))
			for i := range embeddings {
				embeddings[i] = map[string]any{"values": []float32{0.1, 0.2, 0.3}}
			}
			writeJSON(w, map[string]any{"embeddings": embeddings})
		default:
			http.NotFound(w, r)
		}
	})

	// Chroma collections API.
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		col := state.ensureCollection(req.Name)
		writeJSON(w, map[string]any{"id": col.ID, "name": req.Name})
	})

	mux.HandleFunc("/api/v1/collections/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/collections/")
		switch {
		case strings.HasSuffix(rest, "/upsert"):
			state.handleUpsert(w, r, strings.TrimSuffix(rest, "/upsert"))
		case strings.HasSuffix(rest, "/query"):
			state.handleQuery(w, strings.TrimSuffix(rest, "/query"))
		default:
			col := state.lookupByName(rest)
			if col == nil {
				http.NotFound(w, r)
				return
			}
			writeJSON(w, map[string]any{"id": col.ID, "name": rest})
		}
	})

	addr := ":9090"
	log.Printf("mock stack listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (s *mockState) ensureCollection(name string) *collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col
	}
	col := &collection{ID: fmt.Sprintf("col-%d", len(s.collections)+1), Docs: make(map[string]storedDoc)}
	s.collections[name] = col
	return col
}

func (s *mockState) lookupByName(name string) *collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collections[name]
}

func (s *mockState) lookupByID(id string) *collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range s.collections {
		if col.ID == id {
			return col
		}
	}
	return nil
}

func (s *mockState) handleUpsert(w http.ResponseWriter, r *http.Request, id string) {
	col := s.lookupByID(id)
	if col == nil {
		http.NotFound(w, r)
		return
	}
	var req struct {
		IDs        []string         `json:"ids"`
		Documents  []string         `json:"documents"`
		Metadatas  []map[string]any `json:"metadatas"`
		Embeddings [][]float32      `json:"embeddings"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	for i, docID := range req.IDs {
		doc := storedDoc{}
		if i < len(req.Documents) {
			doc.Text = req.Documents[i]
		}
		if i < len(req.Metadatas) {
			doc.Metadata = req.Metadatas[i]
		}
		if i < len(req.Embeddings) {
			doc.Vector = req.Embeddings[i]
		}
		col.Docs[docID] = doc
	}
	s.mu.Unlock()

	log.Printf("chroma: upserted %d docs into %s", len(req.IDs), id)
	writeJSON(w, map[string]any{})
}

// handleQuery returns every stored document; good enough for watching the
// retrieval follow-ups flow end to end.
func (s *mockState) handleQuery(w http.ResponseWriter, id string) {
	col := s.lookupByID(id)
	if col == nil {
		writeJSON(w, map[string]any{"ids": [][]string{{}}})
		return
	}

	s.mu.Lock()
	ids := make([]string, 0, len(col.Docs))
	docs := make([]string, 0, len(col.Docs))
	metas := make([]map[string]any, 0, len(col.Docs))
	distances := make([]float64, 0, len(col.Docs))
	for docID, doc := range col.Docs {
		if len(ids) == 3 {
			break
		}
		ids = append(ids, docID)
		docs = append(docs, doc.Text)
		metas = append(metas, doc.Metadata)
		distances = append(distances, 0.25)
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"ids":       [][]string{ids},
		"documents": [][]string{docs},
		"metadatas": [][]map[string]any{metas},
		"distances": [][]float64{distances},
	})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
