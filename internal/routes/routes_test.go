package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/hotel-loyalty/loyalty/internal/config"
	"github.com/hotel-loyalty/loyalty/internal/logging"
)

func devApp(t *testing.T) *fiber.App {
	t.Helper()
	cfg := config.Config{AppEnv: "development", DefaultPageSize: 20, MaxPageSize: 100, MinPointIncrement: 1}
	app := fiber.New(AppConfig(cfg))
	if err := Setup(app, Deps{Cfg: cfg, Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func send(t *testing.T, app *fiber.App, method, path, actor, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestSetupRequiresBackendsOutsideDev(t *testing.T) {
	err := Setup(fiber.New(), Deps{Cfg: config.Config{AppEnv: "production"}, Logger: logging.Discard()})
	if err == nil {
		t.Fatal("expected error without database in production")
	}
}

func TestHealthReportsDisabledBackends(t *testing.T) {
	app := devApp(t)
	code, body := send(t, app, fiber.MethodGet, "/healthz", "", "")
	if code != http.StatusOK {
		t.Fatalf("healthz status = %d", code)
	}
	status, _ := body["status"].(map[string]any)
	if status["postgres"] != "disabled" || status["redis"] != "disabled" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestLoyaltyRoutesInDevMode(t *testing.T) {
	app := devApp(t)

	if code, _ := send(t, app, fiber.MethodPost, "/api/v1/admin/loyalty/accounts/guest-1", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("admin route without actor = %d, want 401", code)
	}
	if code, body := send(t, app, fiber.MethodPost, "/api/v1/admin/loyalty/accounts/guest-1", "ops-1", ""); code != http.StatusCreated {
		t.Fatalf("enroll = %d %v", code, body)
	}
	code, body := send(t, app, fiber.MethodPost, "/api/v1/admin/loyalty/users/guest-1/stays", "ops-1",
		`{"points":300,"nights":3,"booking_id":"BK-1"}`)
	if code != http.StatusCreated {
		t.Fatalf("stay = %d %v", code, body)
	}

	code, body = send(t, app, fiber.MethodGet, "/api/v1/loyalty/users/guest-1/status", "", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d %v", code, body)
	}
	if body["current_points"] != float64(300) || body["tier_name"] != "Silver" {
		t.Fatalf("unexpected status: %v", body)
	}

	code, body = send(t, app, fiber.MethodGet, "/api/v1/ping", "", "")
	if code != http.StatusOK || body["request_id"] == nil {
		t.Fatalf("ping = %d %v", code, body)
	}
}

func TestEnrollThenAwardAcrossDifferentPaths(t *testing.T) {
	app := devApp(t)

	if code, body := send(t, app, fiber.MethodPost, "/api/v1/admin/loyalty/accounts/guest-42", "ops-1", ""); code != http.StatusCreated {
		t.Fatalf("enroll = %d %v", code, body)
	}
	code, body := send(t, app, fiber.MethodPost, "/api/v1/admin/loyalty/users/guest-42/award", "ops-1",
		`{"points":150,"reason":"goodwill"}`)
	if code != http.StatusCreated {
		t.Fatalf("award after enroll = %d %v", code, body)
	}
	code, body = send(t, app, fiber.MethodPost, "/api/v1/admin/loyalty/users/guest-42/deduct", "ops-2",
		`{"points":50,"reason":"fix"}`)
	if code != http.StatusCreated {
		t.Fatalf("deduct after award = %d %v", code, body)
	}

	code, body = send(t, app, fiber.MethodGet, "/api/v1/loyalty/users/guest-42/status", "", "")
	if code != http.StatusOK || body["current_points"] != float64(100) || body["user_id"] != "guest-42" {
		t.Fatalf("status = %d %v", code, body)
	}
	code, body = send(t, app, fiber.MethodGet, "/api/v1/loyalty/users/guest-42/transactions?page=1&pageSize=10", "", "")
	if code != http.StatusOK {
		t.Fatalf("history = %d %v", code, body)
	}
	items, _ := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("history items = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.(map[string]any)["user_id"] != "guest-42" {
			t.Fatalf("stored user id was overwritten: %v", it)
		}
	}
}
