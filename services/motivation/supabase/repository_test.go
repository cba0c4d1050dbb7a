package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vitalis-labs/service_layer/internal/database"
	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Prefer string
	Body   []byte
}

func newTestRepository(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Repository, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			var raw json.RawMessage
			_ = json.NewDecoder(r.Body).Decode(&raw)
			body = raw
		}
		mu.Lock()
		reqs = append(reqs, recordedRequest{r.Method, r.URL.Path, r.URL.Query(), r.Header.Get("Prefer"), body})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := database.NewClient(database.Config{URL: srv.URL, ServiceKey: "k", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return NewRepository(database.NewRepository(client)), &reqs
}

func TestListProgress(t *testing.T) {
	repo, reqs := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"user_id":"u1","step_number":1,"step_name":"Welcome","completed":true,"available":true,"completed_at":"2026-03-01T00:00:00Z"}]`))
	})

	rows, err := repo.ListProgress(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	if len(rows) != 1 || rows[0].CompletedAt == nil || !rows[0].Completed {
		t.Fatalf("rows = %+v", rows)
	}

	got := (*reqs)[0]
	if got.Path != "/rest/v1/progress_rows" || got.Query["user_id"][0] != "eq.u1" || got.Query["order"][0] != "step_number.asc" {
		t.Errorf("request = %+v", got)
	}
}

func TestUpsertProgress(t *testing.T) {
	repo, reqs := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.UpsertProgress(context.Background(), progress.CompletedRow("u1", 4, "Behaviors", at)); err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}

	got := (*reqs)[0]
	if got.Method != http.MethodPost || got.Query["on_conflict"][0] != "user_id,step_number" {
		t.Errorf("request = %+v", got)
	}
	if got.Prefer != "resolution=merge-duplicates,return=representation" {
		t.Errorf("Prefer = %q", got.Prefer)
	}
	var body progress.StepProgress
	if err := json.Unmarshal(got.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.StepNumber != 4 || !body.Completed || body.CompletedAt == nil {
		t.Errorf("body = %+v", body)
	}
}

func TestUpsertProgressFailure(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := repo.UpsertProgress(context.Background(), progress.UnlockedRow("u1", 2, "Values"))
	if !errors.Is(err, database.ErrDatabaseError) {
		t.Fatalf("err = %v, want ErrDatabaseError", err)
	}
}

func TestUpsertProgressRejectsBadUser(t *testing.T) {
	repo, reqs := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {})

	err := repo.UpsertProgress(context.Background(), progress.UnlockedRow("u1&user_id=eq.u2", 2, "Values"))
	if !errors.Is(err, database.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if len(*reqs) != 0 {
		t.Error("no request should be sent")
	}
}

func TestListProgressByStepNames(t *testing.T) {
	repo, reqs := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := repo.ListProgressByStepNames(context.Background(), []string{"Goals", "Behaviors"}); err != nil {
		t.Fatalf("ListProgressByStepNames: %v", err)
	}
	if got := (*reqs)[0].Query["step_name"][0]; got != `in.("Goals","Behaviors")` {
		t.Errorf("step_name filter = %s", got)
	}
}

var valuesDef = topics.Definition{
	Name:   "values",
	Table:  "motivation_values",
	Fields: []topics.Field{{Key: "coreValues", Column: "core_values", Kind: topics.KindList}},
}

func TestLatestRow(t *testing.T) {
	repo, reqs := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"user_id":"u1","core_values":["family","health"]}]`))
	})

	row, err := repo.LatestRow(context.Background(), valuesDef, "u1")
	if err != nil {
		t.Fatalf("LatestRow: %v", err)
	}
	answers := valuesDef.FromRow(row)
	if vals, _ := answers["coreValues"].([]string); len(vals) != 2 {
		t.Errorf("answers = %v", answers)
	}

	got := (*reqs)[0]
	if got.Query["limit"][0] != "1" || got.Query["order"][0] != "created_at.desc" || got.Query["select"][0] != "user_id,core_values" {
		t.Errorf("query = %v", got.Query)
	}
}

func TestReplaceRows(t *testing.T) {
	repo, reqs := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	err := repo.ReplaceRows(context.Background(), valuesDef, "u1", map[string]interface{}{"core_values": []string{"family"}})
	if err != nil {
		t.Fatalf("ReplaceRows: %v", err)
	}
	if len(*reqs) != 2 || (*reqs)[0].Method != http.MethodDelete || (*reqs)[1].Method != http.MethodPost {
		t.Fatalf("requests = %+v", *reqs)
	}
	if (*reqs)[0].Query["user_id"][0] != "eq.u1" {
		t.Errorf("delete filter = %v", (*reqs)[0].Query)
	}
}

func TestReplaceRowsStopsWhenDeleteFails(t *testing.T) {
	repo, reqs := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	if err := repo.ReplaceRows(context.Background(), valuesDef, "u1", map[string]interface{}{}); err == nil {
		t.Fatal("ReplaceRows should fail")
	}
	if len(*reqs) != 1 {
		t.Errorf("requests = %d, want 1", len(*reqs))
	}
}

func TestUpsertRow(t *testing.T) {
	repo, reqs := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	def := topics.Definition{Name: "goals", Table: "motivation_goals"}

	if err := repo.UpsertRow(context.Background(), def, map[string]interface{}{"user_id": "u1", "primary_goal": "walk"}); err != nil {
		t.Fatalf("UpsertRow: %v", err)
	}
	if (*reqs)[0].Query["on_conflict"][0] != "user_id" {
		t.Errorf("query = %v", (*reqs)[0].Query)
	}
}
