package keeper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/recsnap/shield"
	"github.com/hazyhaar/recsnap/snapshot"
)

func httpServer(t *testing.T, cfg *Config) (*Keeper, *httptest.Server) {
	t.Helper()
	k := testKeeper(t, cfg)
	srv := httptest.NewServer(k.Handler())
	t.Cleanup(srv.Close)
	return k, srv
}

func doJSON(t *testing.T, method, url, body string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(shield.ActorHeader, "bob")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp
}

func TestHTTP_Health(t *testing.T) {
	_, srv := httpServer(t, nil)
	var body map[string]string
	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "", &body)
	if resp.StatusCode != http.StatusOK || body["backend"] != "memory" {
		t.Fatalf("%d %v", resp.StatusCode, body)
	}
	if resp.Header.Get(shield.RequestIDHeader) == "" {
		t.Error("no request id header")
	}
}

// WHAT: POST then GET returns the capture with request origin in metadata.
func TestHTTP_SaveAndLoad(t *testing.T) {
	_, srv := httpServer(t, nil)

	var saved snapshot.Snapshot
	resp := doJSON(t, http.MethodPost, srv.URL+"/snapshots",
		`{"record":{"name":"John","age":30},"record_type":"User","record_id":"1"}`, &saved)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if saved.Metadata["actor"] != "bob" || saved.Metadata["request_id"] == nil || saved.Metadata["ip"] == nil {
		t.Errorf("metadata = %v", saved.Metadata)
	}

	var loaded snapshot.Snapshot
	resp = doJSON(t, http.MethodGet, srv.URL+"/snapshots/"+saved.Label, "", &loaded)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if loaded.Attributes["age"] != int64(30) || loaded.RecordID != "1" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	_, srv := httpServer(t, nil)
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/snapshots/nope", "", http.StatusNotFound},
		{http.MethodDelete, "/snapshots/nope", "", http.StatusNotFound},
		{http.MethodGet, "/diff?from=a&to=b", "", http.StatusNotFound},
		{http.MethodGet, "/diff?from=a", "", http.StatusBadRequest},
		{http.MethodPost, "/snapshots", "{not json", http.StatusBadRequest},
		{http.MethodPost, "/snapshots", `{"label":"x"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		var body map[string]string
		resp := doJSON(t, tc.method, srv.URL+tc.path, tc.body, &body)
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s: status %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
		if body["error"] == "" {
			t.Errorf("%s %s: no error message", tc.method, tc.path)
		}
	}
}

func TestHTTP_DiffListHistoryStats(t *testing.T) {
	k, srv := httpServer(t, nil)
	ctx := context.Background()
	svc := k.Service()
	svc.Save(ctx, snapshot.Record{Type: "Order", ID: "1", Fields: map[string]any{"status": "pending"}}, snapshot.WithLabel("o1"))
	svc.Save(ctx, snapshot.Record{Type: "Order", ID: "1", Fields: map[string]any{"status": "completed"}}, snapshot.WithLabel("o2"))
	svc.Save(ctx, snapshot.Record{Type: "Post", ID: "9", Fields: map[string]any{}}, snapshot.WithLabel("p9"))

	var d map[string]map[string]any
	doJSON(t, http.MethodGet, srv.URL+"/diff?from=o1&to=o2", "", &d)
	if _, ok := d["modified"]["status"]; !ok {
		t.Errorf("diff = %v", d)
	}

	var list []snapshot.Summary
	doJSON(t, http.MethodGet, srv.URL+"/snapshots?record_type=Order", "", &list)
	if len(list) != 2 {
		t.Errorf("list = %+v", list)
	}
	doJSON(t, http.MethodGet, srv.URL+"/history/Post/9", "", &list)
	if len(list) != 1 || list[0].Label != "p9" {
		t.Errorf("history = %+v", list)
	}

	var s snapshot.StatsSummary
	doJSON(t, http.MethodGet, srv.URL+"/stats?record_type=Order", "", &s)
	if s.TotalSnapshots != 2 || len(s.MostChangedFields) != 1 || s.MostChangedFields[0].Field != "status" {
		t.Errorf("stats = %+v", s)
	}
}

func TestHTTP_DeleteAndClear(t *testing.T) {
	k, srv := httpServer(t, nil)
	ctx := context.Background()
	k.Service().Save(ctx, snapshot.Record{Type: "User", ID: "1", Fields: map[string]any{}}, snapshot.WithLabel("u1"))
	k.Service().Save(ctx, snapshot.Record{Type: "User", ID: "2", Fields: map[string]any{}}, snapshot.WithLabel("u2"))
	k.Service().Save(ctx, snapshot.Record{Type: "Post", ID: "1", Fields: map[string]any{}}, snapshot.WithLabel("p1"))

	resp := doJSON(t, http.MethodDelete, srv.URL+"/snapshots/u1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	var clr map[string]int
	doJSON(t, http.MethodDelete, srv.URL+"/snapshots?record_type=User", "", &clr)
	if clr["removed"] != 1 {
		t.Errorf("clear = %v", clr)
	}
}

func TestHTTP_DiffJSONPatch(t *testing.T) {
	k, srv := httpServer(t, nil)
	ctx := context.Background()
	k.Service().Save(ctx, map[string]any{"status": "pending", "n": 1}, snapshot.WithLabel("a"))
	k.Service().Save(ctx, map[string]any{"status": "done", "n": 1}, snapshot.WithLabel("b"))

	var ops []snapshot.PatchOp
	resp := doJSON(t, http.MethodGet, srv.URL+"/diff?from=a&to=b&format=json_patch", "", &ops)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json-patch+json" {
		t.Errorf("content type: %q", ct)
	}
	if len(ops) != 1 || ops[0].Op != "replace" || ops[0].Path != "/status" || string(ops[0].Value) != `"done"` {
		t.Errorf("patch = %+v", ops)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/diff?from=a&to=b&format=xml", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad format: %d", resp.StatusCode)
	}
}
