package jsonapi

// Document is one parsed resource-graph response. It owns every resource it
// creates: references with the same (type, id) pair anywhere in the payload
// resolve to a single ResourceObject for the document's lifetime.
type Document struct {
	Data     []*ResourceObject
	Included []*ResourceObject
	Meta     map[string]any
	Links    map[string]string

	registry *Registry
	objects  map[resourceKey]*ResourceObject
}

type resourceKey struct {
	Type string
	ID   string
}

// NewDocument returns an empty document whose resources are constructed
// through the given registry. A nil registry yields generic resources only.
func NewDocument(registry *Registry) *Document {
	return &Document{
		Meta:     make(map[string]any),
		Links:    make(map[string]string),
		registry: registry,
		objects:  make(map[resourceKey]*ResourceObject),
	}
}

// Parse merges one decoded response body into the document. A single-object
// "data" member is treated as a one-element list. Parse may be called more
// than once; meta and links keys from later calls overwrite earlier ones.
func (d *Document) Parse(raw map[string]any) error {
	for _, item := range normalizeData(raw["data"]) {
		obj, err := d.resolve(item)
		if err != nil {
			return err
		}
		d.Data = append(d.Data, obj)
	}

	for _, item := range normalizeData(raw["included"]) {
		obj, err := d.resolve(item)
		if err != nil {
			return err
		}
		d.Included = append(d.Included, obj)
	}

	if meta, ok := raw["meta"].(map[string]any); ok {
		for k, v := range meta {
			d.Meta[k] = v
		}
	}
	for k, v := range normalizeLinks(raw["links"]) {
		d.Links[k] = v
	}
	return nil
}

// Next returns the pagination link to the following page, or "" on the last
// page.
func (d *Document) Next() string {
	return d.Links["next"]
}

// resolve returns the document's object for the payload's (type, id) pair,
// creating it on first reference, then merges the payload into it.
func (d *Document) resolve(raw map[string]any) (*ResourceObject, error) {
	typeName, ok := raw["type"].(string)
	if !ok || typeName == "" {
		return nil, &ParseError{Detail: "resource reference missing type"}
	}
	id, err := resourceID(raw["id"])
	if err != nil {
		return nil, err
	}

	key := resourceKey{Type: typeName, ID: id}
	obj, ok := d.objects[key]
	if !ok {
		obj = newResourceObject(typeName, id)
		if d.registry != nil {
			obj.typed = d.registry.construct(obj)
		}
		d.objects[key] = obj
	}

	if err := obj.parse(raw, d); err != nil {
		return nil, err
	}
	return obj, nil
}

func resourceID(raw any) (string, error) {
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", &ParseError{Detail: "resource reference missing id"}
	}
	return id, nil
}
