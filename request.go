package mongosvc

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/tychoish/emt"
	"go.mongodb.org/mongo-driver/bson"
)

// emptyDocumentSize is the length of the encoding of {}: the int32
// length followed by the terminating null byte.
const emptyDocumentSize = 5

// Request describes one operation against the mongo service. Build
// requests with the New*Request constructors, which only expose the
// flags the service honors for each action.
type Request struct {
	Database   string
	Collection string
	Document   any
	Action     Action

	Options       any
	Metadata      any
	CorrelationID string
	SkipVersion   bool
	SkipMetric    bool
}

// RequestOptions holds the optional fields shared by the document
// oriented actions.
type RequestOptions struct {
	Options       any
	Metadata      any
	CorrelationID string
	SkipVersion   bool
	SkipMetric    bool
}

// QueryOptions holds the optional fields for count and the index
// actions, none of which produce version history.
type QueryOptions struct {
	Options       any
	Metadata      any
	CorrelationID string
	SkipMetric    bool
}

// RenameOptions holds the optional fields for renameCollection. Rename
// requests never carry metadata and never skip version history.
type RenameOptions struct {
	Options       any
	CorrelationID string
	SkipMetric    bool
}

func newRequest(action Action, database, collection string, doc any, opts RequestOptions) *Request {
	return &Request{
		Database:      database,
		Collection:    collection,
		Document:      doc,
		Action:        action,
		Options:       opts.Options,
		Metadata:      opts.Metadata,
		CorrelationID: opts.CorrelationID,
		SkipVersion:   opts.SkipVersion,
		SkipMetric:    opts.SkipMetric,
	}
}

func (o QueryOptions) full() RequestOptions {
	return RequestOptions{
		Options:       o.Options,
		Metadata:      o.Metadata,
		CorrelationID: o.CorrelationID,
		SkipMetric:    o.SkipMetric,
	}
}

func NewCreateRequest(database, collection string, doc any, opts RequestOptions) *Request {
	return newRequest(Create, database, collection, doc, opts)
}

func NewRetrieveRequest(database, collection string, query any, opts RequestOptions) *Request {
	return newRequest(Retrieve, database, collection, query, opts)
}

func NewUpdateRequest(database, collection string, doc any, opts RequestOptions) *Request {
	return newRequest(Update, database, collection, doc, opts)
}

func NewDeleteRequest(database, collection string, query any, opts RequestOptions) *Request {
	return newRequest(Delete, database, collection, query, opts)
}

// NewCountRequest builds a count request. A nil filter counts every
// document in the collection.
func NewCountRequest(database, collection string, filter any, opts QueryOptions) *Request {
	return newRequest(Count, database, collection, filter, opts.full())
}

func NewIndexRequest(database, collection string, spec any, opts QueryOptions) *Request {
	return newRequest(Index, database, collection, spec, opts.full())
}

func NewDropIndexRequest(database, collection string, spec any, opts QueryOptions) *Request {
	return newRequest(DropIndex, database, collection, spec, opts.full())
}

func NewDropCollectionRequest(database, collection string, doc any, opts RequestOptions) *Request {
	return newRequest(DropCollection, database, collection, doc, opts)
}

func NewBulkRequest(database, collection string, doc any, opts RequestOptions) *Request {
	return newRequest(Bulk, database, collection, doc, opts)
}

func NewPipelineRequest(database, collection string, doc any, opts RequestOptions) *Request {
	return newRequest(Pipeline, database, collection, doc, opts)
}

func NewTransactionRequest(database, collection string, doc any, opts RequestOptions) *Request {
	return newRequest(Transaction, database, collection, doc, opts)
}

// NewRenameCollectionRequest builds a request to rename collection to
// target within the same database.
func NewRenameCollectionRequest(database, collection, target string, opts RenameOptions) *Request {
	return newRequest(RenameCollection, database, collection, bson.D{{Key: "target", Value: target}}, RequestOptions{
		Options:       opts.Options,
		CorrelationID: opts.CorrelationID,
		SkipMetric:    opts.SkipMetric,
	})
}

// Validate reports every problem with the required fields at once.
func (r *Request) Validate() error {
	catcher := emt.NewBasicCatcher()
	catcher.NewWhen(r.Database == "", "request must specify a database")
	catcher.NewWhen(r.Collection == "", "request must specify a collection")
	catcher.Add(r.Action.Validate())
	return catcher.Resolve()
}

// MarshalDocument produces the ordered wire document. The required keys
// always come first; optional keys are only present when set, absence
// and null mean different things to the service.
func (r *Request) MarshalDocument() (bson.D, error) {
	doc, err := encodeDocument(r.Document)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s document", r.Action)
	}

	out := bson.D{
		{Key: "database", Value: r.Database},
		{Key: "collection", Value: r.Collection},
		{Key: "document", Value: doc},
		{Key: "action", Value: r.Action.String()},
	}

	opts, err := encodeOptional(r.Options)
	if err != nil {
		return nil, errors.Wrap(err, "encoding options")
	}
	if opts != nil {
		out = append(out, bson.E{Key: "options", Value: opts})
	}

	meta, err := encodeOptional(r.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "encoding metadata")
	}
	if meta != nil {
		out = append(out, bson.E{Key: "metadata", Value: meta})
	}

	if r.CorrelationID != "" {
		out = append(out, bson.E{Key: "correlationId", Value: r.CorrelationID})
	}
	if r.SkipVersion {
		out = append(out, bson.E{Key: "skipVersion", Value: true})
	}
	if r.SkipMetric {
		out = append(out, bson.E{Key: "skipMetric", Value: true})
	}

	return out, nil
}

// MarshalBSON encodes the request as it is written to the wire. The
// first four bytes of the result are its own length, which is the only
// framing the protocol uses.
func (r *Request) MarshalBSON() ([]byte, error) {
	doc, err := r.MarshalDocument()
	if err != nil {
		return nil, newError(EncodingError, "marshal", err)
	}

	out, err := bson.Marshal(doc)
	if err != nil {
		return nil, newError(EncodingError, "marshal", err)
	}

	return out, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func encodeDocument(v any) (bson.Raw, error) {
	if isNil(v) {
		return bson.Raw{emptyDocumentSize, 0, 0, 0, 0}, nil
	}

	if raw, ok := v.(bson.Raw); ok {
		if err := raw.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid raw document")
		}
		return raw, nil
	}

	out, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bson.Raw(out), nil
}

func encodeOptional(v any) (bson.Raw, error) {
	if isNil(v) {
		return nil, nil
	}

	raw, err := encodeDocument(v)
	if err != nil {
		return nil, err
	}

	if len(raw) <= emptyDocumentSize {
		return nil, nil
	}

	return raw, nil
}

// UniqueValues stores a set as an ordered sequence: duplicates are
// dropped and the first occurrence of each value keeps its position.
// Values must be comparable.
func UniqueValues(values ...any) bson.A {
	seen := make(map[any]struct{}, len(values))
	out := make(bson.A, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
