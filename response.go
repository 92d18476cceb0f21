package mongosvc

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Response is a decoded reply from the service. The client imposes no
// schema on it: use the accessors to inspect whatever the service sent.
type Response struct {
	raw bson.Raw
}

// ReadResponse validates a complete frame and wraps it. The slice is
// retained, not copied.
func ReadResponse(b []byte) (*Response, error) {
	raw := bson.Raw(b)
	if err := raw.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid response document")
	}
	return &Response{raw: raw}, nil
}

func (r *Response) Raw() bson.Raw { return r.raw }

// String renders the response as extended JSON.
func (r *Response) String() string {
	if r == nil {
		return "<nil>"
	}
	return r.raw.String()
}

// Map decodes the response into a generic map.
func (r *Response) Map() (bson.M, error) {
	out := bson.M{}
	if err := bson.Unmarshal(r.raw, &out); err != nil {
		return nil, errors.Wrap(err, "decoding response")
	}
	return out, nil
}

// Unmarshal decodes the response into a caller supplied value.
func (r *Response) Unmarshal(into any) error {
	return errors.Wrap(bson.Unmarshal(r.raw, into), "decoding response")
}

// Keys returns the top level keys in wire order.
func (r *Response) Keys() []string {
	elems, err := r.raw.Elements()
	if err != nil {
		return nil
	}

	out := make([]string, 0, len(elems))
	for _, elem := range elems {
		out = append(out, elem.Key())
	}
	return out
}

func (r *Response) Get(key string) (bson.RawValue, bool) {
	return r.Lookup(key)
}

// Lookup descends through embedded documents one key at a time.
func (r *Response) Lookup(keys ...string) (bson.RawValue, bool) {
	if r == nil || len(keys) == 0 {
		return bson.RawValue{}, false
	}

	val, err := r.raw.LookupErr(keys...)
	if err != nil {
		return bson.RawValue{}, false
	}
	return val, true
}

// GetNested resolves a dotted path such as "result.entity._id".
func (r *Response) GetNested(path string) (bson.RawValue, bool) {
	return r.Lookup(strings.Split(path, ".")...)
}

func (r *Response) StringValue(key string) (string, bool) {
	val, ok := r.Get(key)
	if !ok {
		return "", false
	}
	return val.StringValueOK()
}

// Int64 returns numeric values as an int64, accepting any of the BSON
// number types.
func (r *Response) Int64(key string) (int64, bool) {
	val, ok := r.Get(key)
	if !ok {
		return 0, false
	}

	switch val.Type {
	case bsontype.Int32:
		return int64(val.Int32()), true
	case bsontype.Int64:
		return val.Int64(), true
	case bsontype.Double:
		return int64(val.Double()), true
	default:
		return 0, false
	}
}

func (r *Response) Bool(key string) (bool, bool) {
	val, ok := r.Get(key)
	if !ok {
		return false, false
	}
	return val.BooleanOK()
}

func (r *Response) ObjectID(key string) (primitive.ObjectID, bool) {
	val, ok := r.Get(key)
	if !ok {
		return primitive.NilObjectID, false
	}
	return val.ObjectIDOK()
}

// Document returns an embedded document as a Response.
func (r *Response) Document(key string) (*Response, bool) {
	val, ok := r.Get(key)
	if !ok {
		return nil, false
	}

	doc, ok := val.DocumentOK()
	if !ok {
		return nil, false
	}
	return &Response{raw: doc}, true
}

// Documents returns an array of embedded documents. Arrays holding any
// other kind of value are rejected.
func (r *Response) Documents(key string) ([]*Response, bool) {
	val, ok := r.Get(key)
	if !ok {
		return nil, false
	}

	arr, ok := val.ArrayOK()
	if !ok {
		return nil, false
	}

	values, err := arr.Values()
	if err != nil {
		return nil, false
	}

	out := make([]*Response, 0, len(values))
	for _, v := range values {
		doc, ok := v.DocumentOK()
		if !ok {
			return nil, false
		}
		out = append(out, &Response{raw: doc})
	}
	return out, true
}

// HasKey reports whether key is present in the response with a non-null
// value. A nil response has no keys.
func HasKey(key string, r *Response) bool {
	val, ok := r.Get(key)
	if !ok {
		return false
	}

	switch val.Type {
	case bsontype.Null, bsontype.Undefined:
		return false
	default:
		return true
	}
}
