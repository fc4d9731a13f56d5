package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/convoy/src/cluster"
	"github.com/mosaicnetworks/convoy/src/common"
	"github.com/sirupsen/logrus"
)

func testHTTPClient(t *testing.T, h *Handler) *HTTPClient {
	service := NewHTTPService("", h, common.NewTestEntry(t, logrus.DebugLevel))

	mux := http.NewServeMux()
	service.RegisterHandlers(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c, err := cluster.NewCluster([]*cluster.Node{
		cluster.NewNode(0, "localhost", "", strings.TrimPrefix(ts.URL, "http://")),
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	return NewHTTPClient(c, 2*time.Second, common.NewTestEntry(t, logrus.DebugLevel))
}

func TestHTTPClientCycle(t *testing.T) {
	h := testHandler(t)
	client := testHTTPClient(t, h)
	defer client.Close()

	src := buildSourceDir(t, filepath.Join(t.TempDir(), "node-0"), "data")

	path, err := client.FetchStore(0, "mystore", src, 1, 5*time.Second)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if filepath.Base(path) != "version-1" {
		t.Fatalf("path => %s, expected version-1 directory", path)
	}

	previous, err := client.SwapStore(0, "mystore", path)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if previous != "" {
		t.Fatalf("previous => %q, expected empty", previous)
	}

	if v, err := client.GetCurrentVersion(0, "mystore"); err != nil || v != 1 {
		t.Fatalf("GetCurrentVersion => (%d, %v), expected (1, nil)", v, err)
	}
}

func TestHTTPEnableVersion(t *testing.T) {
	h := testHandler(t)

	service := NewHTTPService("", h, common.NewTestEntry(t, logrus.DebugLevel))
	mux := http.NewServeMux()
	service.RegisterHandlers(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	src := buildSourceDir(t, filepath.Join(t.TempDir(), "node-0"), "data")
	if _, err := h.FetchStore("mystore", src, 1); err != nil {
		t.Fatalf("err: %v", err)
	}

	post := func(path string) *httpEnvelope {
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		defer resp.Body.Close()

		env := &httpEnvelope{}
		if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
			t.Fatalf("err: %v", err)
		}
		return env
	}

	if env := post("/disable-version?store=mystore&push_version=1"); env.Error != "" {
		t.Fatalf("disable => %s", env.Error)
	}
	if env := post("/enable-version?store=mystore&push_version=1"); env.Error != "" {
		t.Fatalf("enable => %s", env.Error)
	}

	// Operating on a version that was never fetched surfaces the node-side
	// error.
	if env := post("/enable-version?store=mystore&push_version=9"); env.Error == "" {
		t.Fatal("enabling an unknown version should fail")
	}
}

func TestHTTPClientErrors(t *testing.T) {
	h := testHandler(t)
	client := testHTTPClient(t, h)
	defer client.Close()

	// Swapping a directory that was never fetched fails on the service side
	// and comes back as an error envelope.
	if _, err := client.SwapStore(0, "mystore", "/nonexistent/version-1"); err == nil {
		t.Fatal("swapping a foreign directory should fail")
	}

	// A node with no HTTP address is rejected locally.
	c, err := cluster.NewCluster([]*cluster.Node{
		cluster.NewNode(0, "localhost", "127.0.0.1:9000", ""),
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	bare := NewHTTPClient(c, time.Second, common.NewTestEntry(t, logrus.DebugLevel))
	if _, err := bare.GetCurrentVersion(0, "mystore"); err == nil {
		t.Fatal("node without an HTTP address should fail")
	}
}
