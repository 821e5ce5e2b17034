package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"posload/pkg/collector"
	"posload/pkg/config"
	"posload/pkg/format"
)

// posBackend answers every journey endpoint successfully.
func posBackend(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var checkouts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		switch r.URL.Path {
		case "/api/sales/carts":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id": 1}`)
		case "/api/sales/checkout":
			checkouts.Add(1)
			_, _ = io.WriteString(w, `{}`)
		default:
			_, _ = io.WriteString(w, `{}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &checkouts
}

func writeProfile(t *testing.T, p format.Profile) string {
	t.Helper()
	data, err := p.Encode()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "short.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func shortProfile(thresholds map[string][]string) format.Profile {
	return format.Profile{
		StartVUs:   1,
		Stages:     []format.Stage{{Duration: "300ms", Target: 2}},
		Thresholds: thresholds,
	}
}

func TestRunCheckoutWritesResults(t *testing.T) {
	srv, checkouts := posBackend(t)
	t.Setenv(config.EnvBaseURL, srv.URL)
	outDir := t.TempDir()

	var out bytes.Buffer
	err := runJourney(context.Background(), "checkout", runOptions{
		profilePath: writeProfile(t, shortProfile(nil)),
		outDir:      outDir,
	}, &out)
	require.NoError(t, err)
	require.Positive(t, checkouts.Load())

	text := out.String()
	require.Contains(t, text, "🚀 Running journey: checkout")
	require.Contains(t, text, "--- THRESHOLDS ---")
	require.Contains(t, text, "✅ Journey checkout finished successfully!")

	files, err := filepath.Glob(filepath.Join(outDir, "results_checkout_*.posload.yaml"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	require.Equal(t, "checkout", doc["journey"])
	require.Equal(t, true, doc["passed"])
}

func TestRunFailsThresholds(t *testing.T) {
	srv, _ := posBackend(t)
	t.Setenv(config.EnvBaseURL, srv.URL)

	var out bytes.Buffer
	err := runJourney(context.Background(), "reporting", runOptions{
		profilePath: writeProfile(t, shortProfile(map[string][]string{
			"http_reqs": {"count<1"},
		})),
		quiet: true,
	}, &out)

	var exit *exitError
	require.True(t, errors.As(err, &exit))
	require.Equal(t, exitThresholdsFailed, exit.code)
	require.Equal(t, "1 threshold(s) failed", exit.msg)
	require.NotContains(t, out.String(), "🚀")
	require.Contains(t, out.String(), "FAIL")
}

func TestRunStreamsToCollector(t *testing.T) {
	backend, _ := posBackend(t)
	t.Setenv(config.EnvBaseURL, backend.URL)

	coll := collector.NewServer(nil)
	collSrv := httptest.NewServer(coll.Handler())
	t.Cleanup(collSrv.Close)

	var out bytes.Buffer
	err := runJourney(context.Background(), "reporting", runOptions{
		profilePath: writeProfile(t, shortProfile(nil)),
		reportURL:   collSrv.URL,
		node:        4,
	}, &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "📤 Node 4 summary report sent")

	st := coll.Status()
	require.Positive(t, st.Events)
	require.Len(t, st.Nodes, 1)
	require.Equal(t, 4, st.Nodes[0].Node)
	require.Equal(t, "reporting", st.Nodes[0].Journey)
	require.Equal(t, collector.StatusSuccess, st.Nodes[0].Status)
}

func TestRunRejectsBadInput(t *testing.T) {
	t.Setenv(config.EnvBaseURL, "localhost:8080")
	err := runJourney(context.Background(), "checkout", runOptions{}, io.Discard)
	require.ErrorContains(t, err, "invalid environment")

	t.Setenv(config.EnvBaseURL, "http://localhost:8080")
	err = runJourney(context.Background(), "refunds", runOptions{}, io.Discard)
	require.ErrorContains(t, err, "unknown journey")

	bad := writeProfile(t, format.Profile{Stages: []format.Stage{{Duration: "soon", Target: 1}}})
	err = runJourney(context.Background(), "checkout", runOptions{profilePath: bad}, io.Discard)
	require.ErrorContains(t, err, "invalid profile")
}

func TestProfileCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"profile", "checkout"})
	require.NoError(t, cmd.Execute())

	var p format.Profile
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &p))
	require.Equal(t, format.CheckoutProfile(), p)
	require.True(t, strings.HasPrefix(out.String(), "name: checkout\n"))

	cmd = newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"profile", "refunds"})
	require.ErrorContains(t, cmd.Execute(), "unknown journey")
}
