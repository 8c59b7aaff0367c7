package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/nerrad567/isy-shadow/internal/rest"
	"github.com/nerrad567/isy-shadow/internal/shadow"
)

func testFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	client := rest.NewClient(rest.Config{
		Host:     u.Hostname(),
		Port:     port,
		Username: "admin",
		Password: "secret",
	}, nil)
	return NewFetcher(client, nil)
}

func TestFetcher_Fetch(t *testing.T) {
	fetcher := testFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/nodes":
			w.Write([]byte(nodesFixture))
		case "/rest/programs":
			w.Write([]byte(programsFixture))
		case "/rest/vars/get/2":
			w.Write([]byte(varsFixture))
		case "/rest/vars/definitions/2":
			w.Write([]byte(`<CList><e id="14" name="Setpoint"/></CList>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	entries, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	// 3 nodes/groups + 2 programs + 2 variables.
	if len(entries) != 7 {
		t.Fatalf("got %d entries, want 7", len(entries))
	}

	byAddr := make(map[shadow.Address]shadow.SeedEntry, len(entries))
	for _, e := range entries {
		byAddr[e.Address] = e
	}

	if v, ok := byAddr["2.14"]; !ok {
		t.Error("variable 2.14 missing from snapshot")
	} else if v.Name != "Setpoint" {
		t.Errorf("variable name = %q, want definitions name %q", v.Name, "Setpoint")
	}

	if v := byAddr["2.15"]; v.Name != "Variable 2.15" {
		t.Errorf("unnamed variable = %q, want fallback %q", v.Name, "Variable 2.15")
	}
}

func TestFetcher_Fetch_NodesRequired(t *testing.T) {
	fetcher := testFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := fetcher.Fetch(context.Background()); err == nil {
		t.Error("Fetch() = nil when nodes fetch fails, want error")
	}
}

func TestFetcher_Fetch_PartialWithoutPrograms(t *testing.T) {
	fetcher := testFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/nodes" {
			w.Write([]byte(nodesFixture))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	entries, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3 nodes only", len(entries))
	}
}
