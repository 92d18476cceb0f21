package mongosvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func keys(t *testing.T, payload []byte) []string {
	t.Helper()

	elems, err := bson.Raw(payload).Elements()
	require.NoError(t, err)

	out := make([]string, 0, len(elems))
	for _, e := range elems {
		out = append(out, e.Key())
	}
	return out
}

func TestRequestMarshal(t *testing.T) {
	t.Run("MinimalCount", func(t *testing.T) {
		payload, err := NewCountRequest("itest", "test", nil, QueryOptions{}).MarshalBSON()
		require.NoError(t, err)
		assert.Equal(t, []string{"database", "collection", "document", "action"}, keys(t, payload))

		raw := bson.Raw(payload)
		assert.Equal(t, "count", raw.Lookup("action").StringValue())
		doc, ok := raw.Lookup("document").DocumentOK()
		require.True(t, ok)
		assert.Len(t, doc, 5)
	})
	t.Run("LengthPrefix", func(t *testing.T) {
		payload, err := NewCountRequest("itest", "test", nil, QueryOptions{}).MarshalBSON()
		require.NoError(t, err)

		size := int(payload[0]) | int(payload[1])<<8 | int(payload[2])<<16 | int(payload[3])<<24
		assert.Equal(t, len(payload), size)
	})
	t.Run("EveryOptionalField", func(t *testing.T) {
		req := NewCreateRequest("itest", "test", bson.M{"name": "x"}, RequestOptions{
			Options:       bson.M{"upsert": true},
			Metadata:      bson.M{"user": "itest"},
			CorrelationID: "abc",
			SkipVersion:   true,
			SkipMetric:    true,
		})

		payload, err := req.MarshalBSON()
		require.NoError(t, err)
		assert.Equal(t, []string{
			"database", "collection", "document", "action",
			"options", "metadata", "correlationId", "skipVersion", "skipMetric",
		}, keys(t, payload))

		raw := bson.Raw(payload)
		assert.Equal(t, "x", raw.Lookup("document", "name").StringValue())
		assert.True(t, raw.Lookup("options", "upsert").Boolean())
		assert.Equal(t, "itest", raw.Lookup("metadata", "user").StringValue())
		assert.Equal(t, "abc", raw.Lookup("correlationId").StringValue())
		assert.True(t, raw.Lookup("skipVersion").Boolean())
		assert.True(t, raw.Lookup("skipMetric").Boolean())
	})
	t.Run("EmptyOptionalDocumentsAreOmitted", func(t *testing.T) {
		req := NewRetrieveRequest("itest", "test", bson.D{}, RequestOptions{
			Options:  bson.D{},
			Metadata: bson.M{},
		})

		payload, err := req.MarshalBSON()
		require.NoError(t, err)
		assert.Equal(t, []string{"database", "collection", "document", "action"}, keys(t, payload))
	})
	t.Run("RawDocumentPassesThrough", func(t *testing.T) {
		doc, err := bson.Marshal(bson.D{{Key: "_id", Value: primitive.NewObjectID()}})
		require.NoError(t, err)

		payload, err := NewDeleteRequest("itest", "test", bson.Raw(doc), RequestOptions{}).MarshalBSON()
		require.NoError(t, err)
		assert.Equal(t, bson.Raw(doc), bson.Raw(payload).Lookup("document").Document())
	})
	t.Run("InvalidRawDocument", func(t *testing.T) {
		_, err := NewDeleteRequest("itest", "test", bson.Raw{1, 2}, RequestOptions{}).MarshalBSON()
		assert.True(t, IsEncodingError(err))
	})
	t.Run("UnencodableDocument", func(t *testing.T) {
		_, err := NewUpdateRequest("itest", "test", func() {}, RequestOptions{}).MarshalBSON()
		assert.True(t, IsEncodingError(err))
	})
	t.Run("UnencodableOptions", func(t *testing.T) {
		_, err := NewUpdateRequest("itest", "test", nil, RequestOptions{Options: bson.M{"bad": make(chan int)}}).MarshalBSON()
		assert.True(t, IsEncodingError(err))
	})
	t.Run("TypedNilDocument", func(t *testing.T) {
		var doc map[string]any
		payload, err := NewCountRequest("itest", "test", doc, QueryOptions{}).MarshalBSON()
		require.NoError(t, err)
		assert.Len(t, bson.Raw(payload).Lookup("document").Document(), 5)
	})
}

func TestRequestBuilders(t *testing.T) {
	doc := bson.M{"a": 1}

	for _, test := range []struct {
		Name   string
		Req    *Request
		Action Action
	}{
		{Name: "Create", Req: NewCreateRequest("d", "c", doc, RequestOptions{}), Action: Create},
		{Name: "Retrieve", Req: NewRetrieveRequest("d", "c", doc, RequestOptions{}), Action: Retrieve},
		{Name: "Update", Req: NewUpdateRequest("d", "c", doc, RequestOptions{}), Action: Update},
		{Name: "Delete", Req: NewDeleteRequest("d", "c", doc, RequestOptions{}), Action: Delete},
		{Name: "Count", Req: NewCountRequest("d", "c", doc, QueryOptions{}), Action: Count},
		{Name: "Index", Req: NewIndexRequest("d", "c", doc, QueryOptions{}), Action: Index},
		{Name: "DropIndex", Req: NewDropIndexRequest("d", "c", doc, QueryOptions{}), Action: DropIndex},
		{Name: "DropCollection", Req: NewDropCollectionRequest("d", "c", doc, RequestOptions{}), Action: DropCollection},
		{Name: "Bulk", Req: NewBulkRequest("d", "c", doc, RequestOptions{}), Action: Bulk},
		{Name: "Pipeline", Req: NewPipelineRequest("d", "c", doc, RequestOptions{}), Action: Pipeline},
		{Name: "Transaction", Req: NewTransactionRequest("d", "c", doc, RequestOptions{}), Action: Transaction},
		{Name: "RenameCollection", Req: NewRenameCollectionRequest("d", "c", "c2", RenameOptions{}), Action: RenameCollection},
	} {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Action, test.Req.Action)
			require.NoError(t, test.Req.Validate())

			payload, err := test.Req.MarshalBSON()
			require.NoError(t, err)

			raw := bson.Raw(payload)
			assert.Equal(t, "d", raw.Lookup("database").StringValue())
			assert.Equal(t, "c", raw.Lookup("collection").StringValue())
			assert.Equal(t, test.Action.String(), raw.Lookup("action").StringValue())
		})
	}

	t.Run("QueryOptionsNeverSkipVersion", func(t *testing.T) {
		req := NewIndexRequest("d", "c", doc, QueryOptions{CorrelationID: "x", SkipMetric: true})
		assert.False(t, req.SkipVersion)
		assert.True(t, req.SkipMetric)
		assert.Equal(t, "x", req.CorrelationID)
	})
	t.Run("RenameTarget", func(t *testing.T) {
		req := NewRenameCollectionRequest("d", "c", "c2", RenameOptions{CorrelationID: "x"})
		payload, err := req.MarshalBSON()
		require.NoError(t, err)

		raw := bson.Raw(payload)
		assert.Equal(t, "c2", raw.Lookup("document", "target").StringValue())
		_, err = raw.LookupErr("metadata")
		assert.Error(t, err)
		_, err = raw.LookupErr("skipVersion")
		assert.Error(t, err)
	})
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, NewCountRequest("d", "c", nil, QueryOptions{}).Validate())

	err := (&Request{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
	assert.Contains(t, err.Error(), "collection")
	assert.Contains(t, err.Error(), "action")

	assert.Error(t, (&Request{Database: "d", Collection: "c", Action: Action(99)}).Validate())
}

func TestUniqueValues(t *testing.T) {
	assert.Equal(t, bson.A{"a", "b", "c"}, UniqueValues("a", "b", "a", "c", "b"))
	assert.Equal(t, bson.A{int32(1), "1"}, UniqueValues(int32(1), "1", int32(1)))
	assert.Empty(t, UniqueValues())

	payload, err := NewUpdateRequest("d", "c", bson.M{"tags": UniqueValues("x", "x", "y")}, RequestOptions{}).MarshalBSON()
	require.NoError(t, err)
	values, err := bson.Raw(payload).Lookup("document", "tags").Array().Values()
	require.NoError(t, err)
	assert.Len(t, values, 2)
}
