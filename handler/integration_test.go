//go:build integration

package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mediacache/rangeproxy/manager"
	"github.com/mediacache/rangeproxy/origin"
)

// TestIntegrationAgainstContainerizedOrigin drives the full handler through
// a real net/http listener against an nginx container serving a generated
// fixture file, exercising the cold full fetch and the warm range hit of
// the proxy's end-to-end behavior over actual sockets instead of an
// httptest origin. The partial cache splice is not exercised here.
func TestIntegrationAgainstContainerizedOrigin(t *testing.T) {
	ctx := context.Background()

	fixtureDir := t.TempDir()
	fixture := make([]byte, 10*1024*1024+37)
	for i := range fixture {
		fixture[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(fixtureDir, "video.bin"), fixture, 0o644))

	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
		Files: []testcontainers.ContainerFile{{
			HostFilePath:      filepath.Join(fixtureDir, "video.bin"),
			ContainerFilePath: "/usr/share/nginx/html/video.bin",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForHTTP("/video.bin").WithStartupTimeout(30 * time.Second),
	}
	nginx, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer func() { _ = nginx.Terminate(ctx) }()

	host, err := nginx.Host(ctx)
	require.NoError(t, err)
	port, err := nginx.MappedPort(ctx, "80")
	require.NoError(t, err)
	originURL := fmt.Sprintf("http://%s:%s/video.bin", host, port.Port())

	log := logrus.New()
	mgr, err := manager.New(t.TempDir(), 0, log)
	require.NoError(t, err)

	h := New(mgr, origin.New(), log)
	srv := httptest.NewServer(h)
	defer srv.Close()

	// Scenario 1: cold full fetch.
	resp, err := http.Get(srv.URL + "/?url=" + url.QueryEscape(originURL))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Scenario 2: warm range hit, no origin request should be needed.
	rangeReq, err := http.NewRequest(http.MethodGet, srv.URL+"/?url="+url.QueryEscape(originURL), nil)
	require.NoError(t, err)
	rangeReq.Header.Set("Range", "bytes=0-1023")
	resp, err = http.DefaultClient.Do(rangeReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	resp.Body.Close()
}
