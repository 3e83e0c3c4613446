package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/tubepost/api/internal/app"
	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/config"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/middleware"
	"github.com/tubepost/api/internal/server"
	ws "github.com/tubepost/api/internal/websocket"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	videoURL      = "https://www.youtube.com/watch?v=e2e"
)

// testApp is the server in standalone mode, talking to a fake generation service
type testApp struct {
	app     *fiber.App
	backend *app.Backend
	sender  *command.LocalSender
	remote  *remote
}

// remote is the fake generation service. Its reply can be swapped per test.
type remote struct {
	srv    *httptest.Server
	status atomic.Int32
	body   atomic.Value
	calls  atomic.Int32
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{}
	r.reply(http.StatusOK, `{"title":"E2E Post","summary_for_card":"Card","content_html":"<p>hello</p>"}`)
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.calls.Add(1)
		if req.URL.Path != "/generate" || req.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(r.status.Load()))
		_, _ = io.WriteString(w, r.body.Load().(string))
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *remote) reply(status int, body string) {
	r.status.Store(int32(status))
	r.body.Store(body)
}

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: "error"},
		Store:  config.StoreConfig{Driver: config.StoreDriverMemory},
		Generation: config.GenerationConfig{
			Endpoint:    endpoint,
			Timeout:     5 * time.Second,
			SourceMatch: "youtube.com/watch",
		},
		Auth:      config.AuthConfig{Enabled: true, JWTSecret: testJWTSecret},
		RateLimit: config.RateLimitConfig{StartPerHour: 10000},
		Notify:    config.NotifyConfig{HistorySize: 10},
	}
}

// setupApp creates a Fiber app wired like cmd/server in standalone mode
func setupApp(t *testing.T) *testApp {
	t.Helper()

	rem := newRemote(t)
	cfg := testConfig(rem.srv.URL)
	log := logger.Discard()

	backend := app.NewMemoryBackend(cfg.Notify.HistorySize)
	orch := backend.NewOrchestrator(cfg, log)
	sender := command.NewLocalSender(orch, log)

	hub := ws.NewHub(ws.HubConfig{
		Store:       backend.Store,
		Sender:      sender,
		Indicator:   backend.Badges,
		SourceMatch: cfg.Generation.SourceMatch,
		Log:         log,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	stopFollow, err := hub.Follow(ctx, backend.Badges, backend.Notifications)
	require.NoError(t, err)

	fiberApp := server.New(server.Deps{
		Config:        cfg,
		Store:         backend.Store,
		Sender:        sender,
		Badges:        backend.Badges,
		Notifications: backend.Notifications,
		Hub:           hub,
		Log:           log,
	})

	t.Cleanup(func() {
		sender.Wait()
		stopFollow()
		cancel()
	})
	return &testApp{app: fiberApp, backend: backend, sender: sender, remote: rem}
}

// listen serves the app on a random local port and returns its address
func (ta *testApp) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ta.app.Listener(ln) }()
	t.Cleanup(func() { _ = ta.app.Shutdown() })
	return ln.Addr().String()
}

// generateToken creates an HMAC JWT for test requests
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.NewAuthMiddleware(testJWTSecret, true).GenerateToken("test-user-123", time.Hour)
	require.NoError(t, err)
	return token
}

// doRequest performs an HTTP request against the test app
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
	require.NoError(t, err)
	return resp
}

// parseJSON parses the response body into a map
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &result), "body: %s", body)
	return result
}
