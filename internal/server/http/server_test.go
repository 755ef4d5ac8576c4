package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	cfgpkg "github.com/zhongdj/reactiveservices/internal/config"
	"github.com/zhongdj/reactiveservices/internal/runtime"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

func startAdmin(t *testing.T) (*runtime.Runtime, *httptest.Server) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{Config: cfgpkg.Default(), Logger: logpkg.NewNop()})
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	svc, _ := rt.Registry().Register("telemetry")
	_, _ = svc.StringTopic("status")
	_, _ = svc.SetTopic("members", true)
	svc2, _ := rt.Registry().Register("billing")
	_, _ = svc2.StringTopic("status")

	hs := httptest.NewServer(New(rt, nil).Handler())
	t.Cleanup(hs.Close)
	return rt, hs
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	_, hs := startAdmin(t)
	var body map[string]string
	if code := getJSON(t, hs.URL+"/v1/healthz", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body %v", body)
	}
}

func TestCatalogListsTopics(t *testing.T) {
	_, hs := startAdmin(t)
	var body struct {
		Node    string `json:"node"`
		Entries []struct {
			Service string `json:"service"`
			Topic   string `json:"topic"`
			Kind    string `json:"kind"`
		} `json:"entries"`
	}
	if code := getJSON(t, hs.URL+"/v1/catalog", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(body.Entries) != 3 {
		t.Fatalf("entries %+v", body.Entries)
	}
}

func TestCatalogCELFilter(t *testing.T) {
	_, hs := startAdmin(t)
	filter := url.QueryEscape(`service == "telemetry" && kind == "set"`)
	var body struct {
		Entries []struct {
			Topic string `json:"topic"`
		} `json:"entries"`
	}
	if code := getJSON(t, hs.URL+"/v1/catalog?filter="+filter, &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(body.Entries) != 1 || body.Entries[0].Topic != "members" {
		t.Fatalf("filtered entries %+v", body.Entries)
	}
}

func TestCatalogRejectsBadFilter(t *testing.T) {
	_, hs := startAdmin(t)
	if code := getJSON(t, hs.URL+"/v1/catalog?filter="+url.QueryEscape("this is not CEL ((("), nil); code != http.StatusBadRequest {
		t.Fatalf("status %d", code)
	}
}

func TestConnectionsEmptyWithoutEdge(t *testing.T) {
	_, hs := startAdmin(t)
	var body struct {
		Connections []any `json:"connections"`
	}
	if code := getJSON(t, hs.URL+"/v1/connections", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(body.Connections) != 0 {
		t.Fatalf("connections %+v", body.Connections)
	}
}

func TestMetricsExposed(t *testing.T) {
	_, hs := startAdmin(t)
	resp, err := http.Get(hs.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
