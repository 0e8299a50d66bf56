// Package tridentstream layers the server's resource vocabulary on the
// generic resource-graph model and exposes the high-level client the daemon
// works with.
package tridentstream

import (
	"github.com/tridentstream/client-kodi/internal/jsonapi"
	"github.com/tridentstream/client-kodi/internal/rpc"
)

// Capability interfaces. A resource implements a capability when its type was
// registered with a wrapper providing it; callers probe with As instead of
// switching on type names.
type (
	// AccessChecker reports whether the authenticated user may use the
	// resource.
	AccessChecker interface {
		CanAccess() bool
	}

	// Playable resolves to a directly playable media URL.
	Playable interface {
		MediaURL() string
	}

	// DisplayTagged marks resources whose attributes carry listing metadata
	// (title, cover, plot, votes, rating, runtime).
	DisplayTagged interface {
		IsDisplayMetadata() bool
	}

	// PlayerRegistrar constructs a playback RPC session bound to the
	// resource's own endpoint.
	PlayerRegistrar interface {
		RegisterPlayer(username, password, playerID, name string, verifyTLS bool) *rpc.Session
	}
)

// As probes a resource's typed wrapper for a capability.
func As[T any](obj *jsonapi.ResourceObject) (T, bool) {
	v, ok := obj.Typed().(T)
	return v, ok
}

// ServiceResource is the base wrapper for server-side service endpoints.
// Access is granted when at least one related permission resource reports
// can_access; a service without permission relationships is inaccessible.
type ServiceResource struct {
	*jsonapi.ResourceObject
}

func (s ServiceResource) CanAccess() bool {
	for _, permission := range s.Related("permission") {
		if permission.BoolAttr("can_access") {
			return true
		}
	}
	return false
}

// SectionsResource is the browsable section listing service.
type SectionsResource struct {
	ServiceResource
}

// StreamResource is a resolved HTTP stream; its stream link is the final
// media URL.
type StreamResource struct {
	*jsonapi.ResourceObject
}

func (s StreamResource) MediaURL() string {
	return s.Links["stream"]
}

// MetadataResource tags a resource type as display metadata.
type MetadataResource struct {
	*jsonapi.ResourceObject
}

func (MetadataResource) IsDisplayMetadata() bool {
	return true
}

// PlayerService is the remote-control endpoint. RegisterPlayer binds a
// playback session to the service's own link, converted to the websocket
// scheme.
type PlayerService struct {
	ServiceResource
}

func (p PlayerService) RegisterPlayer(username, password, playerID, name string, verifyTLS bool) *rpc.Session {
	return rpc.NewSession(rpc.Config{
		URL:       rpc.WebsocketURL(p.Links["self"]),
		Username:  username,
		Password:  password,
		PlayerID:  playerID,
		Name:      name,
		VerifyTLS: verifyTLS,
	})
}

// RegisterTypes installs the server vocabulary into a resource type registry.
func RegisterTypes(registry *jsonapi.Registry) {
	registry.Register("service_sections", func(obj *jsonapi.ResourceObject) any {
		return SectionsResource{ServiceResource{obj}}
	})
	registry.Register("service_player", func(obj *jsonapi.ResourceObject) any {
		return PlayerService{ServiceResource{obj}}
	})
	registry.Register("stream_http", func(obj *jsonapi.ResourceObject) any {
		return StreamResource{obj}
	})
	for _, metadataType := range []string{"metadata_imdb", "metadata_mal"} {
		registry.Register(metadataType, func(obj *jsonapi.ResourceObject) any {
			return MetadataResource{obj}
		})
	}
}
