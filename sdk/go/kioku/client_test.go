package kioku

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Kioku API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		Token:   "test-token-xyz",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresConfig(t *testing.T) {
	if _, err := NewClient(Config{Token: "t"}); err == nil {
		t.Error("expected error for missing BaseURL")
	}
	if _, err := NewClient(Config{BaseURL: "http://localhost:8080"}); err == nil {
		t.Error("expected error for missing Token")
	}
}

func TestCreateRelationship(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/relationships": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "unauthorized", "message": "bad token"},
				})
				return
			}
			var req CreateRelationshipRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.FromID != "ADR-42" || req.RelationshipType != "references" {
				t.Errorf("unexpected request body: %+v", req)
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Relationship{
					ID:               7,
					FromID:           req.FromID,
					FromType:         req.FromType,
					ToID:             req.ToID,
					ToType:           req.ToType,
					RelationshipType: req.RelationshipType,
					Strength:         1.0,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	rel, err := client.CreateRelationship(context.Background(), CreateRelationshipRequest{
		FromID:           "ADR-42",
		FromType:         "adr",
		ToID:             "FAIL-7",
		ToType:           "failure",
		RelationshipType: "references",
	})
	if err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}
	if rel.ID != 7 {
		t.Errorf("expected relationship ID 7, got %d", rel.ID)
	}
	if rel.Strength != 1.0 {
		t.Errorf("expected strength 1.0, got %v", rel.Strength)
	}
}

func TestFindRelatedSetsDepth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/items/adr/ADR-42/related": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("depth"); got != "3" {
				t.Errorf("expected depth=3, got %q", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []RelatedItem{
					{ID: "FAIL-7", Type: "failure", Relationship: "references", Strength: 1.0},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	related, err := client.FindRelated(context.Background(), "adr", "ADR-42", 3)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(related) != 1 || related[0].ID != "FAIL-7" {
		t.Errorf("unexpected related items: %+v", related)
	}
}

func TestContributeAndGetDebate(t *testing.T) {
	debateID := uuid.New()
	msgID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/debates/adr/ADR-42/messages": func(w http.ResponseWriter, r *http.Request) {
			var req ContributeRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Stance != "agree" {
				t.Errorf("expected stance agree, got %q", req.Stance)
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Contribution{
					Debate:  Debate{ID: debateID, ResourceID: "ADR-42", ResourceType: "adr", Status: "open", MessageCount: 1},
					Message: DebateMessage{ID: msgID, DebateID: debateID, Stance: req.Stance, Argument: req.Argument},
				},
			})
		},
		"GET /v1/debates/" + debateID.String(): func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": DebateDetail{
					Debate:   Debate{ID: debateID, Status: "judged", MessageCount: 3},
					Messages: []DebateMessage{{ID: msgID, DebateID: debateID}},
					Judgment: &Judgment{DebateID: debateID, Score: 4, SuggestedAction: "review"},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	contrib, err := client.Contribute(context.Background(), "adr", "ADR-42", ContributeRequest{
		Stance:   "agree",
		Argument: "This decision matches our scaling experience.",
	})
	if err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}
	if contrib.Debate.ID != debateID {
		t.Errorf("expected debate ID %s, got %s", debateID, contrib.Debate.ID)
	}

	detail, err := client.GetDebate(context.Background(), debateID)
	if err != nil {
		t.Fatalf("GetDebate failed: %v", err)
	}
	if detail.Judgment == nil || detail.Judgment.Score != 4 {
		t.Errorf("unexpected judgment: %+v", detail.Judgment)
	}
}

func TestRemediate(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/remediate": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": RemediationReport{
					Pattern:  "connection_error",
					Severity: "high",
					Matches: []FailureMatch{
						{ID: "FAIL-7", Title: "Pool exhaustion", Similarity: 0.91},
					},
					Checklist: []string{"Check connectivity to the dependency"},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	report, err := client.Remediate(context.Background(), RemediateRequest{
		Message: "dial tcp 10.0.0.5:5432: connection refused",
	})
	if err != nil {
		t.Fatalf("Remediate failed: %v", err)
	}
	if report.Pattern != "connection_error" {
		t.Errorf("expected pattern connection_error, got %q", report.Pattern)
	}
	if len(report.Matches) != 1 || report.Matches[0].Similarity != 0.91 {
		t.Errorf("unexpected matches: %+v", report.Matches)
	}
}

func TestErrorParsing(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/relationships": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"code": "validation_error", "message": "from_type must be a valid item type"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreateRelationship(context.Background(), CreateRelationshipRequest{
		FromID: "ADR-42", FromType: "decision",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "from_type") {
		t.Errorf("expected server message in error, got %q", err)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health request should not carry a token")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "ok", Version: "1.2.3"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "ok" || health.Version != "1.2.3" {
		t.Errorf("unexpected health response: %+v", health)
	}
}

func TestDecaySweep(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/decay/sweep": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]int{"archived": 12},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	archived, err := client.DecaySweep(context.Background())
	if err != nil {
		t.Fatalf("DecaySweep failed: %v", err)
	}
	if archived != 12 {
		t.Errorf("expected 12 archived, got %d", archived)
	}
}
