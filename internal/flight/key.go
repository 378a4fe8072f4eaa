package flight

import (
	"cmp"
	"strings"
	"time"
)

// keySep joins the parts of a composite key. Manufacturer codes and logger
// IDs are alphanumeric, so it never appears inside a part.
const keySep = "_"

// Key identifies one flight across every table of a corpus.
// A composite key is built from the recorder's manufacturer code, its unique
// ID and the flight date. Recordings without separable codes get an opaque
// key instead (usually the source file name).
type Key struct {
	ManufacturerCode string `json:"code,omitempty" msgpack:"code,omitempty"`
	UniqueID         string `json:"id,omitempty" msgpack:"id,omitempty"`
	Date             string `json:"date,omitempty" msgpack:"date,omitempty"` // YYYY-MM-DD.
	Opaque           string `json:"key,omitempty" msgpack:"key,omitempty"`
}

// NewKey builds a composite key. The date is taken in UTC.
func NewKey(code, id string, date time.Time) Key {
	return Key{
		ManufacturerCode: strings.TrimSpace(code),
		UniqueID:         strings.TrimSpace(id),
		Date:             date.UTC().Format(time.DateOnly),
	}
}

// OpaqueKey builds a single-string key.
func OpaqueKey(s string) Key {
	return Key{Opaque: s}
}

// ParseKey is the inverse of Key.String. Strings that do not look like a
// composite key come back as opaque keys.
func ParseKey(s string) Key {
	parts := strings.Split(s, keySep)
	if len(parts) == 3 && parts[0] != "" && parts[1] != "" {
		if _, err := time.Parse(time.DateOnly, parts[2]); err == nil {
			return Key{ManufacturerCode: parts[0], UniqueID: parts[1], Date: parts[2]}
		}
	}
	return OpaqueKey(s)
}

// IsZero reports whether the key carries no identity at all.
func (k Key) IsZero() bool {
	return k == Key{}
}

// IsOpaque reports whether the key is a single opaque string.
func (k Key) IsOpaque() bool {
	return k.Opaque != ""
}

func (k Key) String() string {
	if k.IsOpaque() {
		return k.Opaque
	}
	return strings.Join([]string{k.ManufacturerCode, k.UniqueID, k.Date}, keySep)
}

// Compare orders keys by code, ID, date and finally the opaque string.
// Composite keys always sort before opaque ones.
func (k Key) Compare(o Key) int {
	return cmp.Or(
		cmp.Compare(k.Opaque, o.Opaque),
		cmp.Compare(k.ManufacturerCode, o.ManufacturerCode),
		cmp.Compare(k.UniqueID, o.UniqueID),
		cmp.Compare(k.Date, o.Date),
	)
}
