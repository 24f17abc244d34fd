package featureflag

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

type fakeEvaluator struct {
	boolResult bool
	boolErr    error
	jsonResult ldvalue.Value
	jsonErr    error
	closed     bool
}

func (f *fakeEvaluator) BoolVariation(key string, context ldcontext.Context, defaultVal bool) (bool, error) {
	if f.boolErr != nil {
		return defaultVal, f.boolErr
	}
	return f.boolResult, nil
}

func (f *fakeEvaluator) JSONVariation(key string, context ldcontext.Context, defaultVal ldvalue.Value) (ldvalue.Value, error) {
	if f.jsonErr != nil {
		return defaultVal, f.jsonErr
	}
	return f.jsonResult, nil
}

func (f *fakeEvaluator) Close() error {
	f.closed = true
	return nil
}

func newTestClient(eval *fakeEvaluator) *Client {
	return &Client{ld: eval, context: ldcontext.New(serviceContextKey)}
}

func TestIsEnabled_ReturnsVariation(t *testing.T) {
	c := newTestClient(&fakeEvaluator{boolResult: true})
	enabled, err := c.IsEnabled(context.Background(), "new-offer-notifications")
	if err != nil {
		t.Fatalf("IsEnabled: %v", err)
	}
	if !enabled {
		t.Error("expected flag to be enabled")
	}
}

func TestIsEnabled_Disabled(t *testing.T) {
	c := newTestClient(&fakeEvaluator{boolResult: false})
	enabled, err := c.IsEnabled(context.Background(), "new-offer-notifications")
	if err != nil {
		t.Fatalf("IsEnabled: %v", err)
	}
	if enabled {
		t.Error("expected flag to be disabled")
	}
}

func TestGetNewOfferConfig_ParsesWebhookURLs(t *testing.T) {
	var raw ldvalue.Value
	if err := json.Unmarshal([]byte(`{"webhook_urls":["https://hooks.test/a","https://hooks.test/b"]}`), &raw); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	c := newTestClient(&fakeEvaluator{jsonResult: raw})

	cfg, err := c.GetNewOfferConfig(context.Background())
	if err != nil {
		t.Fatalf("GetNewOfferConfig: %v", err)
	}
	if len(cfg.WebhookURLs) != 2 {
		t.Fatalf("got %d webhook URLs, want 2", len(cfg.WebhookURLs))
	}
	if cfg.WebhookURLs[0] != "https://hooks.test/a" {
		t.Errorf("WebhookURLs[0] = %q, want https://hooks.test/a", cfg.WebhookURLs[0])
	}
}

func TestGetNewOfferConfig_EmptyWhenUnset(t *testing.T) {
	c := newTestClient(&fakeEvaluator{jsonResult: ldvalue.Null()})
	cfg, err := c.GetNewOfferConfig(context.Background())
	if err != nil {
		t.Fatalf("GetNewOfferConfig: %v", err)
	}
	if len(cfg.WebhookURLs) != 0 {
		t.Errorf("expected no webhook URLs, got %v", cfg.WebhookURLs)
	}
}

func TestClose_ClosesUnderlyingClient(t *testing.T) {
	eval := &fakeEvaluator{}
	c := newTestClient(eval)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !eval.closed {
		t.Error("expected underlying client to be closed")
	}
}
