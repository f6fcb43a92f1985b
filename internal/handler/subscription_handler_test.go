package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/repository/repotest"
)

func newSubscriptionTestApp(t *testing.T) (*fiber.App, *repository.GormWebhookRepo) {
	t.Helper()

	repo := repository.NewGormWebhookRepo(repotest.NewDB(t))
	app := newTestApp()
	if err := RegisterSubscriptionRoutes(app, repo); err != nil {
		t.Fatalf("RegisterSubscriptionRoutes() error = %v", err)
	}
	return app, repo
}

func decodeSubscription(t *testing.T, body []byte) subscriptionResponse {
	t.Helper()

	var got subscriptionResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v, body=%s", err, body)
	}
	return got
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	app, repo := newSubscriptionTestApp(t)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/webhooks/subscriptions",
		`{"url":"https://hooks.example.com/in","events":["batch_closed","product_aggregated"],"secretKey":"s3cret"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", resp.StatusCode, body)
	}
	if strings.Contains(string(body), "s3cret") {
		t.Fatal("secret must not be returned")
	}
	created := decodeSubscription(t, body)
	if created.ID == 0 || !created.IsActive || created.RetryCount != domain.DefaultWebhookRetryCount || created.Timeout != 10 {
		t.Fatalf("created = %+v, want active subscription with defaults", created)
	}

	path := fmt.Sprintf("/v1/webhooks/subscriptions/%d", created.ID)
	resp, body = performRequest(t, app, http.MethodPatch, path, `{"isActive":false,"retryCount":5}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("patch status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	updated := decodeSubscription(t, body)
	if updated.IsActive || updated.RetryCount != 5 || len(updated.Events) != 2 {
		t.Fatalf("updated = %+v", updated)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/webhooks/subscriptions?active=false", "")
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"id":`+fmt.Sprint(created.ID)) {
		t.Fatalf("list status = %d, body=%s", resp.StatusCode, body)
	}

	msg := "HTTP 500"
	code := 500
	d := &domain.WebhookDelivery{SubscriptionID: created.ID, EventType: domain.EventBatchClosed, Payload: []byte(`{}`), Status: domain.DeliveryPending}
	if err := repo.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}
	if _, err := repo.RecordAttempt(context.Background(), d.ID, domain.DeliveryAttempt{Status: domain.DeliveryFailed, ResponseStatus: &code, ErrorMessage: &msg}); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}

	resp, body = performRequest(t, app, http.MethodGet, path+"/deliveries", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("deliveries status = %d, body=%s", resp.StatusCode, body)
	}
	var deliveries struct {
		Data []deliveryResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &deliveries); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(deliveries.Data) != 1 || deliveries.Data[0].Status != "failed" || deliveries.Data[0].Attempts != 1 || *deliveries.Data[0].ErrorMessage != msg {
		t.Fatalf("deliveries = %+v", deliveries.Data)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, path, "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = performRequest(t, app, http.MethodGet, path, "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestSubscriptionValidation(t *testing.T) {
	t.Parallel()

	app, _ := newSubscriptionTestApp(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "relative url", method: http.MethodPost, path: "/v1/webhooks/subscriptions", body: `{"url":"/in","events":["batch_closed"],"secretKey":"s"}`, want: 400},
		{name: "unknown event", method: http.MethodPost, path: "/v1/webhooks/subscriptions", body: `{"url":"https://a.example.com","events":["batch_deleted"],"secretKey":"s"}`, want: 400},
		{name: "no secret", method: http.MethodPost, path: "/v1/webhooks/subscriptions", body: `{"url":"https://a.example.com","events":["batch_closed"]}`, want: 400},
		{name: "timeout too long", method: http.MethodPost, path: "/v1/webhooks/subscriptions", body: `{"url":"https://a.example.com","events":["batch_closed"],"secretKey":"s","timeout":120}`, want: 400},
		{name: "bad body", method: http.MethodPost, path: "/v1/webhooks/subscriptions", body: `{"url":`, want: 400},
		{name: "bad id", method: http.MethodGet, path: "/v1/webhooks/subscriptions/abc", want: 400},
		{name: "missing", method: http.MethodGet, path: "/v1/webhooks/subscriptions/42", want: 404},
		{name: "patch missing", method: http.MethodPatch, path: "/v1/webhooks/subscriptions/42", body: `{"isActive":true}`, want: 404},
		{name: "deliveries of missing", method: http.MethodGet, path: "/v1/webhooks/subscriptions/42/deliveries", want: 404},
		{name: "bad limit", method: http.MethodGet, path: "/v1/webhooks/subscriptions/42/deliveries?limit=500", want: 400},
		{name: "bad active filter", method: http.MethodGet, path: "/v1/webhooks/subscriptions?active=maybe", want: 400},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := performRequest(t, app, tc.method, tc.path, tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tc.want, body)
			}
		})
	}
}
