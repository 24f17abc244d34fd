// Package featureflag implements interfaces.FeatureFlagClient against
// LaunchDarkly, the dynamic-config dependency NewOfferFound consults to
// decide whether to notify webhooks (spec §4.5).
package featureflag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ld "github.com/launchdarkly/go-server-sdk/v7"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/interfaces"
)

const (
	// NewOfferConfigFlagKey is the LaunchDarkly JSON flag NewOfferFound's
	// dynamic config is read from, shaped {"webhook_urls": [...]}.
	NewOfferConfigFlagKey = "new-offer-config"
	serviceContextKey     = "offer-engine-event-manager"
)

// evaluator is the subset of *ld.LDClient this package drives, narrowed
// so tests can supply a fake without a live LaunchDarkly connection.
type evaluator interface {
	BoolVariation(key string, context ldcontext.Context, defaultVal bool) (bool, error)
	JSONVariation(key string, context ldcontext.Context, defaultVal ldvalue.Value) (ldvalue.Value, error)
	Close() error
}

// Client implements interfaces.FeatureFlagClient.
type Client struct {
	ld      evaluator
	context ldcontext.Context
	logger  *common.Logger
}

// New connects to LaunchDarkly with sdkKey, waiting up to waitFor for the
// initial flag set to stream in.
func New(sdkKey string, waitFor time.Duration, logger *common.Logger) (*Client, error) {
	client, err := ld.MakeClient(sdkKey, waitFor)
	if err != nil {
		return nil, fmt.Errorf("failed to start LaunchDarkly client: %w", err)
	}
	return &Client{
		ld:      client,
		context: ldcontext.New(serviceContextKey),
		logger:  logger,
	}, nil
}

// IsEnabled implements interfaces.FeatureFlagClient.
func (c *Client) IsEnabled(ctx context.Context, flagKey string) (bool, error) {
	enabled, err := c.ld.BoolVariation(flagKey, c.context, false)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate flag %q: %w", flagKey, err)
	}
	return enabled, nil
}

// GetNewOfferConfig implements interfaces.FeatureFlagClient.
func (c *Client) GetNewOfferConfig(ctx context.Context) (interfaces.NewOfferConfig, error) {
	val, err := c.ld.JSONVariation(NewOfferConfigFlagKey, c.context, ldvalue.Null())
	if err != nil {
		return interfaces.NewOfferConfig{}, fmt.Errorf("failed to evaluate %q: %w", NewOfferConfigFlagKey, err)
	}

	raw, err := val.MarshalJSON()
	if err != nil {
		return interfaces.NewOfferConfig{}, fmt.Errorf("failed to marshal %q: %w", NewOfferConfigFlagKey, err)
	}
	var decoded struct {
		WebhookURLs []string `json:"webhook_urls"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return interfaces.NewOfferConfig{}, fmt.Errorf("failed to decode %q: %w", NewOfferConfigFlagKey, err)
	}
	return interfaces.NewOfferConfig{WebhookURLs: decoded.WebhookURLs}, nil
}

// Close flushes pending analytics events and shuts down the client.
func (c *Client) Close() error {
	return c.ld.Close()
}

// Compile-time check
var _ interfaces.FeatureFlagClient = (*Client)(nil)
