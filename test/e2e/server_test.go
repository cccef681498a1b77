package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/snipurl/snipurl/internal/auth"
	"github.com/snipurl/snipurl/internal/clicks"
	"github.com/snipurl/snipurl/internal/metrics"
	"github.com/snipurl/snipurl/internal/resolver"
	"github.com/snipurl/snipurl/internal/shortener"
)

// testApp holds the application components for e2e testing
type testApp struct {
	dbPool   *pgxpool.Pool
	repo     shortener.Repository
	handler  *shortener.Handler
	recorder *clicks.Recorder
	baseURL  string
	cleanup  func()
}

// setupTestApp wires the real stack against a containerized database. The
// resolve cache is the in-process one so cache invalidation is observable
// without a second container.
func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrations(ctx, dbPool); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	logger := setupTestLogger()
	m := metrics.New()

	repo := shortener.NewRepository(dbPool, nil)

	res := resolver.New(resolver.Config{
		Source:  repo,
		Cache:   resolver.NewMemoryCache(time.Minute),
		Timeout: 2 * time.Second,
		Metrics: m,
		Logger:  logger,
	})

	recorder := clicks.New(clicks.Config{
		Store:        repo,
		QueueSize:    64,
		Workers:      2,
		MaxAttempts:  3,
		RetryBackoff: 10 * time.Millisecond,
		Metrics:      m,
		Logger:       logger,
	})
	recorder.Start()

	svc := shortener.NewService(repo, &shortener.ServiceConfig{Invalidator: res})

	baseURL := "http://localhost:8080"
	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service:        svc,
		Redirector:     res,
		Clicks:         recorder,
		Metrics:        m,
		Logger:         logger,
		BaseURL:        baseURL,
		AllowAnonymous: true,
	})

	cleanup := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = recorder.Stop(stopCtx)
		dbPool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	}

	return &testApp{
		dbPool:   dbPool,
		repo:     repo,
		handler:  handler,
		recorder: recorder,
		baseURL:  baseURL,
		cleanup:  cleanup,
	}
}

// createLink posts to the create endpoint and returns the decoded response.
func (app *testApp) createLink(t *testing.T, owner *uuid.UUID, body map[string]string) (map[string]any, int) {
	t.Helper()

	payload, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/api/links", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if owner != nil {
		req = req.WithContext(auth.WithOwner(req.Context(), *owner))
	}
	rr := httptest.NewRecorder()

	app.handler.CreateLink(rr, req)

	var response map[string]any
	if rr.Body.Len() > 0 {
		_ = json.NewDecoder(rr.Body).Decode(&response)
	}
	return response, rr.Code
}

func (app *testApp) redirect(t *testing.T, key string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("GET", "/"+key, nil)
	req.SetPathValue("code", key)
	req.Header.Set("User-Agent", "e2e-test/1.0")
	rr := httptest.NewRecorder()

	app.handler.Redirect(rr, req)
	return rr
}

func TestCreateLink_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	tests := []struct {
		name           string
		requestBody    map[string]string
		expectedStatus int
		checkResponse  func(*testing.T, map[string]any)
	}{
		{
			name: "create link with auto-generated key",
			requestBody: map[string]string{
				"original_url": "https://example.com/test",
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp map[string]any) {
				key, _ := resp["short_key"].(string)
				if len(key) != 6 {
					t.Errorf("expected 6-character generated key, got %q", key)
				}
				if resp["original_url"] != "https://example.com/test" {
					t.Errorf("expected original_url 'https://example.com/test', got %v", resp["original_url"])
				}
				if resp["short_url"] == nil {
					t.Error("expected short_url to be set")
				}
			},
		},
		{
			name: "create link with custom key",
			requestBody: map[string]string{
				"original_url": "https://example.com/custom",
				"custom_key":   "my-custom-key",
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp map[string]any) {
				if resp["short_key"] != "my-custom-key" {
					t.Errorf("expected short_key 'my-custom-key', got %v", resp["short_key"])
				}
			},
		},
		{
			name:           "missing url",
			requestBody:    map[string]string{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid url format",
			requestBody: map[string]string{
				"original_url": "not-a-valid-url",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "custom key too short",
			requestBody: map[string]string{
				"original_url": "https://example.com/short",
				"custom_key":   "ab",
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, status := app.createLink(t, nil, tt.requestBody)

			if status != tt.expectedStatus {
				t.Errorf("expected status %d, got %d (response: %v)", tt.expectedStatus, status, resp)
			}
			if tt.checkResponse != nil && status == http.StatusCreated {
				tt.checkResponse(t, resp)
			}
		})
	}
}

func TestDuplicateKey_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	_, status := app.createLink(t, nil, map[string]string{
		"original_url": "https://example.com/first",
		"custom_key":   "duplicate-test",
	})
	if status != http.StatusCreated {
		t.Fatalf("failed to create first link: status %d", status)
	}

	resp, status := app.createLink(t, nil, map[string]string{
		"original_url": "https://example.com/second",
		"custom_key":   "duplicate-test",
	})
	if status != http.StatusConflict {
		t.Errorf("expected status 409 (conflict), got %d", status)
	}
	if resp["error"] != "conflict" {
		t.Errorf("expected error code 'conflict', got %v", resp["error"])
	}
}

func TestRedirectAndClickCount_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()
	ctx := context.Background()

	_, status := app.createLink(t, nil, map[string]string{
		"original_url": "https://example.com/redirect-test",
		"custom_key":   "test-redirect",
	})
	if status != http.StatusCreated {
		t.Fatalf("failed to create link: status %d", status)
	}

	for i := range 3 {
		rr := app.redirect(t, "test-redirect")
		if rr.Code != http.StatusFound {
			t.Fatalf("redirect attempt %d failed with status %d", i+1, rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != "https://example.com/redirect-test" {
			t.Errorf("expected location 'https://example.com/redirect-test', got %s", loc)
		}
	}

	// The recorder persists asynchronously; poll until the counter settles.
	deadline := time.Now().Add(5 * time.Second)
	for {
		link, err := app.repo.GetByKey(ctx, "test-redirect")
		if err != nil {
			t.Fatalf("failed to get link from database: %v", err)
		}
		if link.ClickCount == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected click count 3, got %d", link.ClickCount)
		}
		time.Sleep(50 * time.Millisecond)
	}

	events, err := app.repo.RecentClicks(ctx, "test-redirect", 50)
	if err != nil {
		t.Fatalf("failed to read click events: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 click events, got %d", len(events))
	}
	for _, e := range events {
		if e.UserAgent != "e2e-test/1.0" {
			t.Errorf("expected user agent 'e2e-test/1.0', got %q", e.UserAgent)
		}
	}

	t.Run("unknown key answers 404", func(t *testing.T) {
		rr := app.redirect(t, "does-not-exist")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestExpiredLink_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()
	ctx := context.Background()

	// Insert an already-expired link directly; the API refuses to create one.
	expired := time.Now().Add(-time.Hour)
	_, err := app.repo.Create(ctx, shortener.Link{
		OriginalURL: "https://example.com/expired",
		ShortKey:    "expired-key",
		ExpiresAt:   &expired,
	})
	if err != nil {
		t.Fatalf("failed to insert expired link: %v", err)
	}

	rr := app.redirect(t, "expired-key")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for expired link, got %d", rr.Code)
	}

	// A second hit comes from the cache and must still answer 404.
	rr = app.redirect(t, "expired-key")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404 on cached expired link, got %d", rr.Code)
	}
}

func TestUpdateInvalidatesCache_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	owner := uuid.New()
	resp, status := app.createLink(t, &owner, map[string]string{
		"original_url": "https://example.com/old-destination",
		"custom_key":   "update-test",
	})
	if status != http.StatusCreated {
		t.Fatalf("failed to create link: status %d", status)
	}
	linkID := resp["id"].(string)

	// Prime the resolve cache.
	if rr := app.redirect(t, "update-test"); rr.Code != http.StatusFound {
		t.Fatalf("priming redirect failed with status %d", rr.Code)
	}

	patch, _ := json.Marshal(map[string]string{"original_url": "https://example.com/new-destination"})
	req := httptest.NewRequest("PATCH", "/api/links/"+linkID, bytes.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("id", linkID)
	req = req.WithContext(auth.WithOwner(req.Context(), owner))
	rr := httptest.NewRecorder()

	app.handler.UpdateLink(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("update failed with status %d: %s", rr.Code, rr.Body.String())
	}

	// The cached old destination must be gone immediately.
	redirectRR := app.redirect(t, "update-test")
	if redirectRR.Code != http.StatusFound {
		t.Fatalf("redirect after update failed with status %d", redirectRR.Code)
	}
	if loc := redirectRR.Header().Get("Location"); loc != "https://example.com/new-destination" {
		t.Errorf("expected new destination after update, got %s", loc)
	}
}

func TestOwnership_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	owner := uuid.New()
	stranger := uuid.New()

	resp, status := app.createLink(t, &owner, map[string]string{
		"original_url": "https://example.com/owned",
		"custom_key":   "owned-key",
	})
	if status != http.StatusCreated {
		t.Fatalf("failed to create link: status %d", status)
	}
	linkID := resp["id"].(string)

	t.Run("stranger cannot delete, gets 403", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/links/"+linkID, nil)
		req.SetPathValue("id", linkID)
		req = req.WithContext(auth.WithOwner(req.Context(), stranger))
		rr := httptest.NewRecorder()

		app.handler.DeleteLink(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("absent link gets 404", func(t *testing.T) {
		missing := uuid.New().String()
		req := httptest.NewRequest("DELETE", "/api/links/"+missing, nil)
		req.SetPathValue("id", missing)
		req = req.WithContext(auth.WithOwner(req.Context(), stranger))
		rr := httptest.NewRecorder()

		app.handler.DeleteLink(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("owner deletes, redirect stops", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/links/"+linkID, nil)
		req.SetPathValue("id", linkID)
		req = req.WithContext(auth.WithOwner(req.Context(), owner))
		rr := httptest.NewRecorder()

		app.handler.DeleteLink(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rr.Code)
		}

		redirectRR := app.redirect(t, "owned-key")
		if redirectRR.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", redirectRR.Code)
		}
	})
}

func TestLinkAnalytics_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	owner := uuid.New()
	resp, status := app.createLink(t, &owner, map[string]string{
		"original_url": "https://example.com/analytics",
		"custom_key":   "stats-key",
	})
	if status != http.StatusCreated {
		t.Fatalf("failed to create link: status %d", status)
	}
	linkID := resp["id"].(string)

	for range 2 {
		if rr := app.redirect(t, "stats-key"); rr.Code != http.StatusFound {
			t.Fatalf("redirect failed with status %d", rr.Code)
		}
	}

	// Wait for the async recorder before reading analytics.
	deadline := time.Now().Add(5 * time.Second)
	for {
		link, err := app.repo.GetByKey(context.Background(), "stats-key")
		if err != nil {
			t.Fatalf("failed to get link: %v", err)
		}
		if link.ClickCount == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("click count did not reach 2, got %d", link.ClickCount)
		}
		time.Sleep(50 * time.Millisecond)
	}

	req := httptest.NewRequest("GET", "/api/links/"+linkID+"/analytics", nil)
	req.SetPathValue("id", linkID)
	req = req.WithContext(auth.WithOwner(req.Context(), owner))
	rr := httptest.NewRecorder()

	app.handler.LinkAnalytics(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("analytics failed with status %d: %s", rr.Code, rr.Body.String())
	}

	var analytics shortener.LinkAnalyticsResponse
	if err := json.NewDecoder(rr.Body).Decode(&analytics); err != nil {
		t.Fatalf("failed to decode analytics: %v", err)
	}

	if analytics.ClickCount != 2 {
		t.Errorf("expected click_count 2, got %d", analytics.ClickCount)
	}
	if len(analytics.RecentClicks) != 2 {
		t.Errorf("expected 2 recent clicks, got %d", len(analytics.RecentClicks))
	}
	if len(analytics.Daily) != 1 {
		t.Errorf("expected 1 daily bucket, got %d", len(analytics.Daily))
	}
}

func TestConcurrentLinkCreation_E2E(t *testing.T) {
	app := setupTestApp(t)
	defer app.cleanup()

	concurrency := 10
	errChan := make(chan error, concurrency)
	keyChan := make(chan string, concurrency)

	for i := range concurrency {
		go func(index int) {
			resp, status := app.createLink(t, nil, map[string]string{
				"original_url": fmt.Sprintf("https://example.com/concurrent-%d", index),
			})
			if status != http.StatusCreated {
				errChan <- fmt.Errorf("request %d failed with status %d", index, status)
				return
			}
			keyChan <- resp["short_key"].(string)
			errChan <- nil
		}(i)
	}

	keys := make(map[string]bool)
	for range concurrency {
		if err := <-errChan; err != nil {
			t.Errorf("concurrent request failed: %v", err)
			continue
		}
		key := <-keyChan
		if keys[key] {
			t.Errorf("duplicate key generated: %s", key)
		}
		keys[key] = true
	}

	if len(keys) != concurrency {
		t.Errorf("expected %d unique keys, got %d", concurrency, len(keys))
	}
}

// Helper functions

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationSQL, err := os.ReadFile("../../migrations/0001_init.sql")
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(migrationSQL))
	return err
}

func setupTestLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	})
	return slog.New(handler)
}
