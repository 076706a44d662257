// Package integration contains tests that verify the interaction between
// multiple platform components. These tests use httptest servers and a real
// shard RPC server dialed over localhost, with PostgreSQL as the only
// external dependency (API-key storage); tests skip cleanly when it's
// unavailable.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/distshard/shardcore/internal/auth/apikey"
	"github.com/distshard/shardcore/internal/auth/ratelimit"
	gwhandler "github.com/distshard/shardcore/internal/gateway/handler"
	"github.com/distshard/shardcore/internal/gateway/router"
	"github.com/distshard/shardcore/internal/shard"
	"github.com/distshard/shardcore/internal/shard/registry"
	"github.com/distshard/shardcore/internal/shard/store"
	"github.com/distshard/shardcore/pkg/config"
	"github.com/distshard/shardcore/pkg/grpc"
	"github.com/distshard/shardcore/pkg/kv"
	"github.com/distshard/shardcore/pkg/metrics"
	"github.com/distshard/shardcore/pkg/postgres"
	"github.com/distshard/shardcore/pkg/proto"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	cfg := testPostgresConfig()
	db, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "shardcore_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "shardcore"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// freeAddr reserves an ephemeral TCP port by binding and immediately
// releasing it, so the shard RPC server can be started on a known address.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// waitForDial retries dialing addr until it succeeds or the deadline passes.
func waitForDial(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("shard rpc server at %s never became reachable", addr)
}

// startTestShard boots a real Shard backed by temp-file store/kv, registers
// its RPC handlers on a real grpc.Server, and returns its listen address.
// Mirrors the wiring in cmd/shard/main.go.
func startTestShard(t *testing.T, idType config.IDType) string {
	t.Helper()

	dir := t.TempDir()
	mode := store.ModeString
	if idType == config.IDTypeInteger {
		mode = store.ModeInteger
	}
	st, err := store.Open(dir+"/documents.db", mode)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	kvStore, err := kv.Open(dir + "/state.bolt")
	if err != nil {
		t.Fatalf("opening kv store: %v", err)
	}
	t.Cleanup(func() { kvStore.Close() })

	reg := registry.NewInProcess("cold-")
	s := shard.New("test-shard", st, kvStore, reg, metrics.New())
	if err := s.Configure(context.Background(), config.ShardConfig{IDType: idType}); err != nil {
		t.Fatalf("configuring shard: %v", err)
	}

	srv := grpc.NewServer()
	registerTestShardHandlers(srv, s)

	addr := freeAddr(t)
	go srv.Serve(addr)
	t.Cleanup(srv.Stop)
	waitForDial(t, addr)
	return addr
}

// registerTestShardHandlers wires the same RPC surface cmd/shard/main.go
// registers for a production shard.
func registerTestShardHandlers(server *grpc.Server, s *shard.Shard) {
	server.Register("Shard.Index", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.ShardIndexRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding Shard.Index request: %w", err)
		}
		accepted, err := s.Index(ctx, fromWireDocuments(req.Documents))
		if err != nil {
			return nil, err
		}
		return proto.ShardIndexResponse{Accepted: accepted}, nil
	})

	server.Register("Shard.Search", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.ShardSearchRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding Shard.Search request: %w", err)
		}
		resp, err := s.Search(ctx, shard.SearchRequest{Query: req.Query, IncludeCold: req.IncludeCold, Max: req.Max})
		if err != nil {
			return nil, err
		}
		wireHits := make([]proto.ShardHit, len(resp.Hits))
		for i, h := range resp.Hits {
			wireHits[i] = proto.ShardHit{ID: h.ID, Content: h.Content, Rank: h.Rank}
		}
		return proto.ShardSearchResponse{Hits: wireHits}, nil
	})

	server.Register("Shard.Stats", func(ctx context.Context, raw json.RawMessage) (any, error) {
		resp, err := s.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return proto.ShardStatsResponse{Count: resp.Count, Bytes: resp.Bytes, ReadOnly: resp.ReadOnly}, nil
	})

	server.Register("Shard.Configure", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.ShardConfigureRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding Shard.Configure request: %w", err)
		}
		if err := s.Configure(ctx, registry.PatchFromConfigureRequest(req)); err != nil {
			return nil, err
		}
		return proto.ShardConfigureResponse{}, nil
	})
}

func fromWireDocuments(docs []proto.ShardDocument) []shard.Document {
	out := make([]shard.Document, len(docs))
	for i, d := range docs {
		out[i] = shard.Document{ID: d.ID, IntID: d.IntID, Content: d.Content}
	}
	return out
}

// newGatewayServer creates a test gateway backed by a real PostgreSQL
// database (for API keys) and a real shard RPC server dialed over localhost.
func newGatewayServer(t *testing.T, db *postgres.Client) *httptest.Server {
	t.Helper()

	primaryAddr := startTestShard(t, config.IDTypeString)

	validator := apikey.NewValidator(db)
	limiter := ratelimit.New(time.Minute)

	h, err := gwhandler.New(primaryAddr, primaryAddr, nil, nil)
	if err != nil {
		t.Fatalf("constructing gateway handler: %v", err)
	}

	chain := router.New(h, validator, limiter)
	return httptest.NewServer(chain)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestHealthEndpoint verifies the gateway health check is accessible without auth.
func TestHealthEndpoint(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

// TestUnauthenticatedRequestRejected verifies that API endpoints reject
// requests without an API key.
func TestUnauthenticatedRequestRejected(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/search?query=test"},
		{"POST", "/api/v1/index"},
	}

	for _, ep := range endpoints {
		req, _ := http.NewRequest(ep.method, srv.URL+ep.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: request failed: %v", ep.method, ep.path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", ep.method, ep.path, resp.StatusCode)
		}
	}
}

// TestAPIKeyLifecycle tests creating, using, and revoking an API key
// through the gateway when PostgreSQL is available.
func TestAPIKeyLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	validator := apikey.NewValidator(db)

	rawKey, err := validator.CreateKey(t.Context(), "integration-test", 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/search?query=hello", nil)
	req.Header.Set("X-API-Key", rawKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("search request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	if err := validator.RevokeKey(t.Context(), rawKey); err != nil {
		t.Fatalf("revoking key: %v", err)
	}

	req2, _ := http.NewRequest("GET", srv.URL+"/api/v1/search?query=hello", nil)
	req2.Header.Set("X-API-Key", rawKey)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("search request after revoke failed: %v", err)
	}
	resp2.Body.Close()

	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after revoke, got %d", resp2.StatusCode)
	}
}

// TestDocumentIndexRoundtrip verifies that a document indexed through the
// gateway becomes visible through a subsequent search.
func TestDocumentIndexRoundtrip(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	validator := apikey.NewValidator(db)
	rawKey, err := validator.CreateKey(t.Context(), "index-test", 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	payload := `{"documents":[{"id":"doc-1","content":"integration test document about shard routing"}]}`

	req, _ := http.NewRequest("POST", srv.URL+"/api/v1/index", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", rawKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("index request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, respBody)
	}

	searchReq, _ := http.NewRequest("GET", srv.URL+"/api/v1/search?query=routing", nil)
	searchReq.Header.Set("X-API-Key", rawKey)
	searchResp, err := http.DefaultClient.Do(searchReq)
	if err != nil {
		t.Fatalf("search request failed: %v", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", searchResp.StatusCode)
	}
}

// TestRateLimiting verifies that the gateway enforces per-key rate limits.
func TestRateLimiting(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	validator := apikey.NewValidator(db)
	rawKey, err := validator.CreateKey(t.Context(), "ratelimit-test", 2, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("GET", srv.URL+"/api/v1/search?query=test", nil)
		req.Header.Set("X-API-Key", rawKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/search?query=test", nil)
	req.Header.Set("X-API-Key", rawKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("rate limit request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
