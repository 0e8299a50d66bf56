package tridentstream

import (
	"context"
	"net/url"
	"strings"

	"github.com/tridentstream/client-kodi/internal/jsonapi"
)

// Entry is one browsable item produced from a section listing, ready for a
// presentation layer to render.
type Entry struct {
	Label    string
	SelfURL  string
	Playable bool

	// Query carries hints for fetching the entry, notably the metadata
	// include list a folder advertises through metadata_filterinfo.
	Query url.Values

	Title string
	Cover string

	// Info holds the remaining display metadata fields (plot, votes, rating,
	// runtime) keyed by their attribute names.
	Info map[string]any

	DateAdded string
	Watched   bool
}

// defaultPageSize is the page size hint sent while walking section listings.
const defaultPageSize = "1000"

// ListFolder walks a folder URL page by page and flattens its files and
// folders into entries. Resources of other types are skipped.
func (c *Client) ListFolder(ctx context.Context, rawURL string, query url.Values) ([]Entry, error) {
	if query == nil {
		query = url.Values{}
	}
	if query.Get("limit") == "" {
		query.Set("limit", defaultPageSize)
	}

	items, err := c.WalkPages(ctx, rawURL, query)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case "file", "folder":
		default:
			continue
		}

		entry := Entry{
			Label:    item.StringAttr("name"),
			SelfURL:  item.Links["self"],
			Playable: item.Type == "file",
			Query:    url.Values{},
			Info:     map[string]any{},
		}

		if item.Type == "folder" {
			if include := metadataIncludeHint(item); include != "" {
				entry.Query.Set("include", include)
			}
		}

		applyDisplayMetadata(&entry, item)

		if datetime := item.StringAttr("datetime"); datetime != "" {
			entry.DateAdded = strings.SplitN(datetime, "T", 2)[0]
		}
		if _, ok := item.Relationships["metadata_history"]; ok {
			entry.Watched = true
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

// metadataIncludeHint reads a folder's metadata_filterinfo relationship for
// the metadata handlers to include when fetching its content.
func metadataIncludeHint(item *jsonapi.ResourceObject) string {
	related := item.Related("metadata_filterinfo")
	if len(related) == 0 {
		return ""
	}
	handlers, ok := related[0].Attr("metadata_handlers")
	if !ok {
		return ""
	}
	list, ok := handlers.([]any)
	if !ok {
		return ""
	}
	names := make([]string, 0, len(list))
	for _, h := range list {
		if name, ok := h.(string); ok {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}

// applyDisplayMetadata copies listing fields from the first display-metadata
// relationship that carries a title.
func applyDisplayMetadata(entry *Entry, item *jsonapi.ResourceObject) {
	for _, related := range item.RelationshipsFlat {
		tagged, ok := As[DisplayTagged](related)
		if !ok || !tagged.IsDisplayMetadata() {
			continue
		}
		title := related.StringAttr("title")
		if title == "" {
			continue
		}

		entry.Title = title
		entry.Cover = related.StringAttr("cover")
		for _, key := range []string{"plot", "votes", "rating", "runtime"} {
			if v, ok := related.Attr(key); ok {
				entry.Info[key] = v
			}
		}
	}
}
