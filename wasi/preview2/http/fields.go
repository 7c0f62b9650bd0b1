package http

import (
	"net/http"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/wippyai/wasihost/wasi/preview2"
)

// FieldEntry is one name/value pair of a fields resource.
type FieldEntry struct {
	Name  string
	Value []byte
}

// Fields is a wasi:http fields resource. It either owns its map or is a
// view of the headers of the resource it was obtained from, in which case
// it is a child of that resource. Names are stored lowercased.
type Fields struct {
	owned     http.Header
	view      func(preview2.Resource) http.Header
	parent    uint32
	immutable bool
}

// NewFields returns empty, mutable fields.
func NewFields() *Fields {
	return &Fields{owned: http.Header{}}
}

func ownedFields(h http.Header, immutable bool) *Fields {
	return &Fields{owned: h, immutable: immutable}
}

func fieldsView(parent uint32, view func(preview2.Resource) http.Header, immutable bool) *Fields {
	return &Fields{parent: parent, view: view, immutable: immutable}
}

func (f *Fields) Type() preview2.ResourceType { return preview2.ResourceFields }
func (f *Fields) Drop()                       {}

// Immutable reports whether mutations are rejected.
func (f *Fields) Immutable() bool { return f.immutable }

// Header returns the map the fields read and write.
func (f *Fields) Header(t *preview2.ResourceTable) (http.Header, error) {
	if f.view == nil {
		return f.owned, nil
	}
	r, err := t.Get(f.parent)
	if err != nil {
		return nil, err
	}
	return f.view(r), nil
}

func fieldName(name string) (string, error) {
	if !httpguts.ValidHeaderFieldName(name) {
		return "", HeaderErrorInvalidSyntax
	}
	return strings.ToLower(name), nil
}

func fieldValue(v []byte) error {
	if !httpguts.ValidHeaderFieldValue(string(v)) {
		return HeaderErrorInvalidSyntax
	}
	return nil
}

// fromWire copies h with lowercased names.
func fromWire(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		lk := strings.ToLower(k)
		out[lk] = append(out[lk], vs...)
	}
	return out
}

// toWire copies h with canonical names.
func toWire(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		ck := http.CanonicalHeaderKey(k)
		out[ck] = append(out[ck], vs...)
	}
	return out
}

// entries lists h sorted by name; values of a name keep their order.
func entries(h http.Header) []FieldEntry {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []FieldEntry
	for _, k := range names {
		for _, v := range h[k] {
			out = append(out, FieldEntry{Name: k, Value: []byte(v)})
		}
	}
	return out
}
