package upstream

import (
	"context"

	"github.com/italolelis/jdownloader_remote/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client    Client
	telemetry *telemetry.Telemetry
	backend   string
}

// NewInstrumentedClient creates a new instrumented upstream client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, backend string) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
		backend:   backend,
	}
}

// Connect opens a session with telemetry.
func (c *InstrumentedClient) Connect(ctx context.Context, creds Credentials) error {
	return c.telemetry.InstrumentUpstreamOperation(ctx, c.backend, "connect", func(ctx context.Context) error {
		return c.client.Connect(ctx, creds)
	})
}

// ListDevices lists the account's devices with telemetry.
func (c *InstrumentedClient) ListDevices(ctx context.Context) ([]Device, error) {
	var result []Device

	err := c.telemetry.InstrumentUpstreamOperation(ctx, c.backend, "list_devices", func(ctx context.Context) error {
		var err error
		result, err = c.client.ListDevices(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// AddLinks submits links with telemetry.
func (c *InstrumentedClient) AddLinks(ctx context.Context, deviceID string, links []string, autostart bool) (*AddResult, error) {
	var result *AddResult

	err := c.telemetry.InstrumentUpstreamOperation(ctx, c.backend, "add_links", func(ctx context.Context) error {
		var err error
		result, err = c.client.AddLinks(ctx, deviceID, links, autostart)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// QueryLinks lists a device's downloads with telemetry.
func (c *InstrumentedClient) QueryLinks(ctx context.Context, deviceID string) ([]Link, error) {
	var result []Link

	err := c.telemetry.InstrumentUpstreamOperation(ctx, c.backend, "query_links", func(ctx context.Context) error {
		var err error
		result, err = c.client.QueryLinks(ctx, deviceID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// QueryPackages fetches packages by UUID with telemetry.
func (c *InstrumentedClient) QueryPackages(ctx context.Context, deviceID string, packageUUIDs []int64) ([]Package, error) {
	var result []Package

	err := c.telemetry.InstrumentUpstreamOperation(ctx, c.backend, "query_packages", func(ctx context.Context) error {
		var err error
		result, err = c.client.QueryPackages(ctx, deviceID, packageUUIDs)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Disconnect closes the session with telemetry.
func (c *InstrumentedClient) Disconnect(ctx context.Context) error {
	return c.telemetry.InstrumentUpstreamOperation(ctx, c.backend, "disconnect", func(ctx context.Context) error {
		return c.client.Disconnect(ctx)
	})
}
