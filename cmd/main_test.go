package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmayton/chainpost/pkg/chainpost"
)

// chainSite is a minimal Chain API: one site, devices and sensors are created on
// demand and data posts are recorded.
type chainSite struct {
	srv  *httptest.Server
	mu   sync.Mutex
	data []json.RawMessage
}

func newChainSite(t *testing.T) *chainSite {
	t.Helper()
	s := &chainSite{}
	mux := http.NewServeMux()
	link := func(path string) map[string]string { return map[string]string{"href": s.srv.URL + path} }
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/hal+json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /sites/1", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]any{"_links": map[string]any{
			"self": link("/sites/1"), "ch:devices": link("/devices"),
		}})
	})
	mux.HandleFunc("GET /devices", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]any{"_links": map[string]any{
			"self": link("/devices"), "createForm": link("/devices"),
		}})
	})
	mux.HandleFunc("POST /devices", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusCreated, map[string]any{"name": "dev", "_links": map[string]any{
			"self": link("/devices/1"), "ch:sensors": link("/devices/1/sensors"),
		}})
	})
	mux.HandleFunc("GET /devices/1/sensors", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]any{"_links": map[string]any{"self": link("/devices/1/sensors")}})
	})
	mux.HandleFunc("POST /devices/1/sensors", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusCreated, map[string]any{"metric": "temperature", "_links": map[string]any{
			"self": link("/sensors/1"), "ch:dataHistory": link("/sensors/1/data"),
		}})
	})
	mux.HandleFunc("GET /sensors/1/data", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]any{"_links": map[string]any{"self": link("/sensors/1/data")}})
	})
	mux.HandleFunc("POST /sensors/1/data", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.data = append(s.data, body)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *chainSite) posted() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.data...)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_ENV", "prod")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("CHAIN_DEBUG", "")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	err := root.Execute()
	return out.String(), err
}

func TestUnitCommand(t *testing.T) {
	out, err := execute(t, "", "unit", "temperature")
	require.NoError(t, err)
	assert.Equal(t, "celsius\n", out)

	out, err = execute(t, "", "unit", "co2")
	require.NoError(t, err)
	assert.Equal(t, "co2 units\n", out)
}

func TestPostCommand(t *testing.T) {
	site := newChainSite(t)

	_, err := execute(t, "",
		"--site", site.srv.URL+"/sites/1",
		"post", "dev", "temperature", "21.5",
		"--timestamp", "2024-05-01T12:00:00",
		"--tzoffset", "-05:00",
	)
	require.NoError(t, err)

	data := site.posted()
	require.Len(t, data, 1)
	assert.JSONEq(t, `{"value":21.5,"timestamp":"2024-05-01T12:00:00-05:00"}`, string(data[0]))
}

func TestPostCommand_InvalidValue(t *testing.T) {
	_, err := execute(t, "", "post", "dev", "temperature", "warm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid value")
}

func TestPostCommand_Unreachable(t *testing.T) {
	site := newChainSite(t)
	url := site.srv.URL
	site.srv.Close()

	_, err := execute(t, "", "--site", url+"/sites/1", "post", "dev", "temperature", "1")
	require.ErrorIs(t, err, chainpost.ErrNotConnected)
}

func TestPostBatchCommand(t *testing.T) {
	site := newChainSite(t)
	input := strings.Join([]string{
		"# exported readings",
		"2024-05-01T12:00:00Z, 1.5",
		"",
		"2024-05-01T12:00:30.5Z,2",
	}, "\n")

	out, err := execute(t, input, "--site", site.srv.URL+"/sites/1", "post-batch", "dev", "temperature")
	require.NoError(t, err)
	assert.Equal(t, "posted 2 samples\n", out)

	data := site.posted()
	require.Len(t, data, 1)
	assert.JSONEq(t, `[
		{"value":1.5,"timestamp":"2024-05-01T12:00:00+00:00"},
		{"value":2,"timestamp":"2024-05-01T12:00:30.500000+00:00"}
	]`, string(data[0]))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-05-01T12:00:00Z", want: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{in: "2024-05-01T12:00:00.25+02:00", want: time.Date(2024, 5, 1, 10, 0, 0, 250000000, time.UTC)},
		{in: "2024-05-01T12:00:00", want: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{in: "2024-05-01 12:00:00.123456", want: time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)},
		{in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "parseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
	}
}

func TestParseSamples_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "no samples"},
		{"bad value", "2024-05-01T12:00:00Z,x", "line 1: invalid value"},
		{"bad timestamp", "2024-05-01T12:00:00Z,1\nnope,2", "line 2: invalid timestamp"},
		{"wrong field count", "2024-05-01T12:00:00Z,1,3", "read samples"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSamples(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
