package jsonapi

// ResourceObject is one typed, identified node in a resource graph. Within a
// single Document every reference to the same (type, id) pair resolves to the
// same instance; repeated parses merge into it instead of creating duplicates.
type ResourceObject struct {
	Type string
	ID   string

	// Attributes holds the resource's attribute bag. Later parses merge keys
	// over earlier ones but never clear keys a later payload omits.
	Attributes map[string]any

	// Relationships maps relationship name to its resolved record. The record
	// is rebuilt whenever a parse carries the relationship again.
	Relationships map[string]*Relationship

	// RelationshipsFlat collects every directly related resource in parse
	// order. A resource referenced from several relationships appears once
	// per reference.
	RelationshipsFlat []*ResourceObject

	Links map[string]string
	Meta  map[string]any

	// Populated reports whether any parse carried attributes for this object.
	// A resource created from a bare relationship reference stays unpopulated
	// until a compound payload fills it in.
	Populated bool

	typed any
}

// Relationship is one named edge of a resource: the resolved target objects
// plus the relationship's own links.
type Relationship struct {
	Data  []*ResourceObject
	Links map[string]string
}

func newResourceObject(typeName, id string) *ResourceObject {
	return &ResourceObject{
		Type:          typeName,
		ID:            id,
		Attributes:    make(map[string]any),
		Relationships: make(map[string]*Relationship),
		Links:         make(map[string]string),
		Meta:          make(map[string]any),
	}
}

// Typed returns the capability wrapper the type registry attached at
// construction, or nil for a generic resource.
func (r *ResourceObject) Typed() any {
	return r.typed
}

// Attr returns the named attribute and whether it is present.
func (r *ResourceObject) Attr(name string) (any, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

// StringAttr returns the named attribute as a string, or "" when absent or
// not a string.
func (r *ResourceObject) StringAttr(name string) string {
	if v, ok := r.Attributes[name].(string); ok {
		return v
	}
	return ""
}

// FloatAttr returns the named attribute as a float64, or 0 when absent or not
// numeric. JSON numbers decode as float64.
func (r *ResourceObject) FloatAttr(name string) float64 {
	if v, ok := r.Attributes[name].(float64); ok {
		return v
	}
	return 0
}

// BoolAttr returns the named attribute as a bool, or false when absent.
func (r *ResourceObject) BoolAttr(name string) bool {
	if v, ok := r.Attributes[name].(bool); ok {
		return v
	}
	return false
}

// Related returns the resolved targets of the named relationship, or nil when
// the relationship is absent or carried no data.
func (r *ResourceObject) Related(name string) []*ResourceObject {
	rel, ok := r.Relationships[name]
	if !ok {
		return nil
	}
	return rel.Data
}

// parse merges one raw resource payload into the object. Relationship targets
// resolve through the owning document so shared identities reconverge, cycles
// included.
func (r *ResourceObject) parse(raw map[string]any, doc *Document) error {
	if attrs, ok := raw["attributes"].(map[string]any); ok && len(attrs) > 0 {
		r.Populated = true
		for k, v := range attrs {
			r.Attributes[k] = v
		}
	}

	if rels, ok := raw["relationships"].(map[string]any); ok {
		for name, rawRel := range rels {
			relMap, ok := rawRel.(map[string]any)
			if !ok {
				continue
			}
			rel := &Relationship{Links: normalizeLinks(relMap["links"])}
			for _, item := range normalizeData(relMap["data"]) {
				target, err := doc.resolve(item)
				if err != nil {
					return err
				}
				rel.Data = append(rel.Data, target)
				r.RelationshipsFlat = append(r.RelationshipsFlat, target)
			}
			r.Relationships[name] = rel
		}
	}

	for k, v := range normalizeLinks(raw["links"]) {
		r.Links[k] = v
	}
	if meta, ok := raw["meta"].(map[string]any); ok {
		for k, v := range meta {
			r.Meta[k] = v
		}
	}
	return nil
}

// normalizeData turns a relationship or document "data" value into a slice of
// raw resource payloads. A single object becomes a one-element slice.
func normalizeData(raw any) []map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// normalizeLinks flattens a links object into name→URL. Values may be plain
// strings or link objects carrying an "href" member.
func normalizeLinks(raw any) map[string]string {
	links, ok := raw.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(links))
	for name, v := range links {
		switch link := v.(type) {
		case string:
			out[name] = link
		case map[string]any:
			if href, ok := link["href"].(string); ok {
				out[name] = href
			}
		}
	}
	return out
}
