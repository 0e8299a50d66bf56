package tridentstream

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tridentstream/client-kodi/internal/jsonapi"
	cklog "github.com/tridentstream/client-kodi/internal/log"
	"github.com/tridentstream/client-kodi/internal/rpc"
)

var (
	// ErrNoPlayerService is returned when the server advertises no player
	// endpoint for this account.
	ErrNoPlayerService = errors.New("tridentstream: no player service available")

	// ErrNoStream is returned when stream resolution yields no playable
	// resource.
	ErrNoStream = errors.New("tridentstream: no playable stream in response")
)

// Config describes a server connection.
type Config struct {
	URL       string
	Username  string
	Password  string
	VerifyTLS bool
}

// Client is the high-level Tridentstream client: the generic resource-graph
// client plus the server's type vocabulary and entry points.
type Client struct {
	cfg    Config
	api    *jsonapi.Client
	logger zerolog.Logger
}

// NewClient returns a client for the given server.
func NewClient(cfg Config) *Client {
	api := jsonapi.New(jsonapi.Options{
		Username:  cfg.Username,
		Password:  cfg.Password,
		VerifyTLS: cfg.VerifyTLS,
	})
	RegisterTypes(api.Registry())

	return &Client{
		cfg:    cfg,
		api:    api,
		logger: cklog.WithComponent("tridentstream"),
	}
}

// Endpoints fetches the server's root document listing available services.
func (c *Client) Endpoints(ctx context.Context) (*jsonapi.Document, error) {
	return c.api.Fetch(ctx, c.endpointURL(), nil)
}

// GetDocument fetches an arbitrary document by URL.
func (c *Client) GetDocument(ctx context.Context, rawURL string, query url.Values) (*jsonapi.Document, error) {
	return c.api.Fetch(ctx, rawURL, query)
}

// ResolveStream asks the server to prepare a stream for a playable item and
// returns the resulting document.
func (c *Client) ResolveStream(ctx context.Context, rawURL string) (*jsonapi.Document, error) {
	return c.api.Submit(ctx, rawURL, nil, url.Values{"command": {"stream"}})
}

// MediaURL resolves a playable item to its final media URL. The second return
// is the stream's identifier.
func (c *Client) MediaURL(ctx context.Context, rawURL string) (mediaURL, label string, err error) {
	doc, err := c.ResolveStream(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	for _, item := range doc.Data {
		if playable, ok := As[Playable](item); ok {
			return playable.MediaURL(), item.ID, nil
		}
	}
	return "", "", ErrNoStream
}

// RegisterPlayer finds the player service among the server's endpoints and
// constructs a playback session bound to it.
func (c *Client) RegisterPlayer(ctx context.Context, playerID, name string) (*rpc.Session, error) {
	doc, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	for _, item := range doc.Data {
		registrar, ok := As[PlayerRegistrar](item)
		if !ok {
			continue
		}
		c.logger.Info().
			Str("event", "client.player_service").
			Str("url", item.Links["self"]).
			Msg("found player service")
		return registrar.RegisterPlayer(c.cfg.Username, c.cfg.Password, playerID, name, c.cfg.VerifyTLS), nil
	}
	return nil, ErrNoPlayerService
}

// WalkPages fetches a collection page by page, following the "next" link with
// the same query until it is absent, and accumulates data in page order.
func (c *Client) WalkPages(ctx context.Context, rawURL string, query url.Values) ([]*jsonapi.ResourceObject, error) {
	var items []*jsonapi.ResourceObject
	for rawURL != "" {
		doc, err := c.GetDocument(ctx, rawURL, query)
		if err != nil {
			return nil, err
		}
		items = append(items, doc.Data...)

		rawURL = doc.Next()
		if rawURL != "" {
			c.logger.Debug().Str("event", "client.next_page").Str("url", rawURL).Msg("fetching next page")
		}
	}
	return items, nil
}

// Sections returns the browsable section services from the server root.
func (c *Client) Sections(ctx context.Context) ([]SectionsResource, error) {
	doc, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	var sections []SectionsResource
	for _, item := range doc.Data {
		if section, ok := item.Typed().(SectionsResource); ok {
			sections = append(sections, section)
		}
	}
	return sections, nil
}

func (c *Client) endpointURL() string {
	return strings.TrimRight(c.cfg.URL, "/") + "/api/"
}
