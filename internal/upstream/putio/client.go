// Package putio serves the upstream contract from a put.io account. The
// account is exposed as a single device; its transfers are the links and the
// folders they are saved into are the packages.
package putio

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/putdotio/go-putio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/jdownloader_remote/internal/logctx"
	"github.com/italolelis/jdownloader_remote/internal/upstream"
)

const (
	DeviceID = "putio"

	maxConcurrentLookups = 4
)

type Client struct {
	putioClient *putio.Client

	mu       sync.RWMutex
	username string
}

var _ upstream.Client = (*Client)(nil)

func NewClient(token string, timeout time.Duration) *Client {
	base := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(ctx, tokenSource)
	oauthClient.Timeout = timeout

	return &Client{putioClient: putio.NewClient(oauthClient)}
}

// Connect verifies the token against the account. The put.io token replaces
// the account credentials, which are ignored.
func (c *Client) Connect(ctx context.Context, _ upstream.Credentials) error {
	logger := logctx.LoggerFromContext(ctx)

	info, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		c.setUsername("")
		return classify("connect", err)
	}

	c.setUsername(info.Username)
	logger.DebugContext(ctx, "authenticated with put.io", "user", info.Username)

	return nil
}

// ListDevices returns the account as the only device.
func (c *Client) ListDevices(_ context.Context) ([]upstream.Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.username == "" {
		return nil, &upstream.AuthExpiredError{Operation: "list_devices"}
	}

	return []upstream.Device{{ID: DeviceID, Name: c.username, Type: "putio"}}, nil
}

// AddLinks creates one transfer per link in the account's root folder.
func (c *Client) AddLinks(ctx context.Context, _ string, links []string, _ bool) (*upstream.AddResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	ids := make([]string, 0, len(links))

	for _, link := range links {
		t, err := c.putioClient.Transfers.Add(ctx, link, 0, "")
		if err != nil {
			return nil, classify("add_links", err)
		}

		ids = append(ids, strconv.FormatInt(t.ID, 10))
	}

	logger.DebugContext(ctx, "transfers added to put.io", "transfer_ids", ids)

	return &upstream.AddResult{ID: strings.Join(ids, ","), Count: len(ids)}, nil
}

// QueryLinks maps the account's transfers to links.
func (c *Client) QueryLinks(ctx context.Context, _ string) ([]upstream.Link, error) {
	transfers, err := c.putioClient.Transfers.List(ctx)
	if err != nil {
		return nil, classify("query_links", err)
	}

	links := make([]upstream.Link, 0, len(transfers))
	for _, t := range transfers {
		links = append(links, toLink(t))
	}

	return links, nil
}

// QueryPackages resolves each save folder and sums the transfers saved into it.
func (c *Client) QueryPackages(ctx context.Context, _ string, packageUUIDs []int64) ([]upstream.Package, error) {
	transfers, err := c.putioClient.Transfers.List(ctx)
	if err != nil {
		return nil, classify("query_packages", err)
	}

	packages := make([]upstream.Package, len(packageUUIDs))

	for i, id := range packageUUIDs {
		packages[i] = upstream.Package{UUID: id, Finished: true}

		for _, t := range transfers {
			if t.SaveParentID != id {
				continue
			}

			link := toLink(t)
			packages[i].ChildCount++
			packages[i].BytesLoaded += link.BytesLoaded
			packages[i].BytesTotal += link.BytesTotal
			packages[i].Finished = packages[i].Finished && link.Finished
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)

	for i := range packages {
		g.Go(func() error {
			folder, err := c.putioClient.Files.Get(gctx, packages[i].UUID)
			if err != nil {
				return classify("query_packages", err)
			}

			packages[i].Name = folder.Name
			packages[i].SaveTo = "/" + folder.Name

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return packages, nil
}

// Disconnect forgets the account; the token itself stays valid.
func (c *Client) Disconnect(_ context.Context) error {
	c.setUsername("")
	return nil
}

func (c *Client) setUsername(username string) {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
}

func toLink(t putio.Transfer) upstream.Link {
	link := upstream.Link{
		UUID:        t.ID,
		Name:        t.Name,
		URL:         t.Source,
		Status:      t.Status,
		BytesLoaded: int64(t.Downloaded),
		BytesTotal:  int64(t.Size),
		PackageUUID: t.SaveParentID,
		Finished:    t.Status == "COMPLETED" || t.Status == "SEEDING",
		Speed:       int64(t.DownloadSpeed),
	}

	if t.CreatedAt != nil {
		link.AddedDate = t.CreatedAt.UnixMilli()
	}

	return link
}

func classify(operation string, err error) error {
	var apiErr *putio.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		status := apiErr.Response.StatusCode
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return &upstream.AuthExpiredError{Operation: operation, StatusCode: status, Err: err}
		}

		return &upstream.NetworkError{Operation: operation, StatusCode: status, APIMessage: apiErr.Message, Err: err}
	}

	return &upstream.NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
}
