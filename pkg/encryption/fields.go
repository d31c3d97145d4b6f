package encryption

import (
	"fmt"
	"sort"

	"github.com/redbco/redb-storage/pkg/adapter"
)

// AllCollections is the field table key applying to every collection.
const AllCollections = "*"

// FieldTable lists the encrypted fields per collection.
type FieldTable map[string][]string

// Encrypted reports whether field of collection is encrypted. The id field
// never is.
func (t FieldTable) Encrypted(collection, field string) bool {
	if field == adapter.IDField {
		return false
	}
	for _, key := range [...]string{collection, AllCollections} {
		for _, f := range t[key] {
			if f == field {
				return true
			}
		}
	}
	return false
}

// FieldsFor returns the sorted encrypted fields of collection.
func (t FieldTable) FieldsFor(collection string) []string {
	seen := make(map[string]struct{})
	for _, key := range [...]string{collection, AllCollections} {
		for _, f := range t[key] {
			if f != adapter.IDField {
				seen[f] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// EncryptRecord returns a copy of rec with the listed fields encrypted.
// Nil values stay nil; other values are formatted with fmt first.
func (c *Codec) EncryptRecord(collection string, rec adapter.Record) (adapter.Record, error) {
	if c == nil || len(c.fields) == 0 || rec == nil {
		return rec, nil
	}
	out := rec.Clone()
	for _, field := range c.fields.FieldsFor(collection) {
		v, ok := out[field]
		if !ok || v == nil {
			continue
		}
		sealed, err := c.Encrypt(stringify(v))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %s: %w", field, err)
		}
		out[field] = sealed
	}
	return out, nil
}

// EncryptPatch encrypts the listed fields of an update patch.
func (c *Codec) EncryptPatch(collection string, patch adapter.Record) (adapter.Record, error) {
	return c.EncryptRecord(collection, patch)
}

// DecryptRecord returns a copy of rec with the listed fields decrypted and
// numeric text coerced back to numbers. Under FailOpen a value that cannot
// be decrypted is kept as stored; under FailClosed the first failure is
// returned.
func (c *Codec) DecryptRecord(collection string, rec adapter.Record) (adapter.Record, error) {
	if c == nil || len(c.fields) == 0 || rec == nil {
		return rec, nil
	}
	out := rec.Clone()
	for _, field := range c.fields.FieldsFor(collection) {
		s, ok := out[field].(string)
		if !ok {
			continue
		}
		plain, err := c.DecryptStrict(s)
		if err != nil {
			c.failed(field, err)
			if c.policy == FailClosed {
				if de, ok := err.(*DecryptError); ok {
					de.Field = field
				}
				return nil, err
			}
			continue
		}
		out[field] = Coerce(plain)
	}
	return out, nil
}

// DecryptRecords applies DecryptRecord to each record.
func (c *Codec) DecryptRecords(collection string, records []adapter.Record) ([]adapter.Record, error) {
	if c == nil || len(c.fields) == 0 {
		return records, nil
	}
	out := make([]adapter.Record, len(records))
	for i, rec := range records {
		dec, err := c.DecryptRecord(collection, rec)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
