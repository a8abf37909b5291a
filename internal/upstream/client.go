// Package upstream defines the contract between the proxy and the remote
// download service that owns the devices, links and packages.
package upstream

import "context"

// Credentials identify the account used to open a session.
type Credentials struct {
	Email    string
	Password string
}

// Device is a download client registered with the remote account.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Link is a single entry of a device's download list.
type Link struct {
	UUID        int64  `json:"uuid"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Status      string `json:"status,omitempty"`
	BytesLoaded int64  `json:"bytesLoaded"`
	BytesTotal  int64  `json:"bytesTotal"`
	// AddedDate is in milliseconds since the epoch.
	AddedDate   int64 `json:"addedDate"`
	PackageUUID int64 `json:"packageUUID"`
	Finished    bool  `json:"finished"`
	Speed       int64 `json:"speed,omitempty"`
}

// Package groups links on a device.
type Package struct {
	UUID        int64  `json:"uuid"`
	Name        string `json:"name"`
	Status      string `json:"status,omitempty"`
	BytesLoaded int64  `json:"bytesLoaded"`
	BytesTotal  int64  `json:"bytesTotal"`
	ChildCount  int    `json:"childCount"`
	Finished    bool   `json:"finished"`
	SaveTo      string `json:"saveTo,omitempty"`
}

// AddResult is what the remote service reports after accepting links.
type AddResult struct {
	ID    string `json:"id,omitempty"`
	Count int    `json:"count"`
}

// Client talks to the remote download service. Implementations return
// *AuthExpiredError when the session token is no longer accepted.
type Client interface {
	Connect(ctx context.Context, creds Credentials) error
	ListDevices(ctx context.Context) ([]Device, error)
	AddLinks(ctx context.Context, deviceID string, links []string, autostart bool) (*AddResult, error)
	QueryLinks(ctx context.Context, deviceID string) ([]Link, error)
	QueryPackages(ctx context.Context, deviceID string, packageUUIDs []int64) ([]Package, error)
	Disconnect(ctx context.Context) error
}
