package stub

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// HistoryDatabase and HistoryCollection name the namespace that
	// holds version history records for versioned writes.
	HistoryDatabase   = "versionHistory"
	HistoryCollection = "entities"
)

// Memory is an in-memory document store that answers create, retrieve,
// update, delete, and count with the response shapes the mongo service
// produces.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[primitive.ObjectID]bson.M
}

func NewMemory() *Memory {
	return &Memory{collections: map[string]map[primitive.ObjectID]bson.M{}}
}

// NewMemoryService returns a service with the Memory handlers
// registered. Other actions answer with an error response.
func NewMemoryService(host string, port int) *Service {
	s := NewService(host, port)
	if err := NewMemory().Register(s); err != nil {
		// registration only fails on duplicates, which a new service
		// cannot have.
		panic(err)
	}
	return s
}

// Register installs the store's handlers on the service.
func (m *Memory) Register(s *Service) error {
	handlers := map[string]func(context.Context, *Request) (any, error){
		"create":   m.create,
		"retrieve": m.retrieve,
		"update":   m.update,
		"delete":   m.delete,
		"count":    m.count,
	}

	for action, fn := range handlers {
		if err := s.RegisterHandler(action, Respond(fn)); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of documents in a namespace.
func (m *Memory) Len(database, collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[namespace(database, collection)])
}

func namespace(database, collection string) string {
	return database + "." + collection
}

func (m *Memory) collection(database, collection string) map[primitive.ObjectID]bson.M {
	ns := namespace(database, collection)
	coll, ok := m.collections[ns]
	if !ok {
		coll = map[primitive.ObjectID]bson.M{}
		m.collections[ns] = coll
	}
	return coll
}

func decode(raw bson.Raw) (bson.M, error) {
	out := bson.M{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return out, nil
}

func documentID(doc bson.M) (primitive.ObjectID, bool) {
	id, ok := doc["_id"].(primitive.ObjectID)
	return id, ok
}

// clone copies the top level of a stored document so responses can be
// encoded after the store's lock is released.
func clone(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func matches(doc, filter bson.M) bool {
	for k, v := range filter {
		if !reflect.DeepEqual(doc[k], v) {
			return false
		}
	}
	return true
}

func (m *Memory) history(req *Request, action string, entity bson.M) bson.M {
	id := primitive.NewObjectID()
	m.collection(HistoryDatabase, HistoryCollection)[id] = bson.M{
		"_id":        id,
		"action":     action,
		"database":   req.Database,
		"collection": req.Collection,
		"entity":     clone(entity),
		"created":    primitive.NewDateTimeFromTime(time.Now()),
	}

	return bson.M{
		"database":   HistoryDatabase,
		"collection": HistoryCollection,
		"_id":        id,
	}
}

func (m *Memory) create(_ context.Context, req *Request) (any, error) {
	doc, err := decode(req.Document)
	if err != nil {
		return nil, err
	}

	id, ok := documentID(doc)
	if !ok {
		id = primitive.NewObjectID()
		doc["_id"] = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(req.Database, req.Collection)
	if _, exists := coll[id]; exists {
		return nil, errors.Errorf("document %s already exists", id.Hex())
	}
	coll[id] = clone(doc)

	if req.SkipVersion {
		return bson.M{"_id": id, "skipVersion": true}, nil
	}

	out := m.history(req, "create", doc)
	out["entity"] = id
	return out, nil
}

func (m *Memory) retrieve(_ context.Context, req *Request) (any, error) {
	query, err := decode(req.Document)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(req.Database, req.Collection)
	if id, ok := documentID(query); ok && len(query) == 1 {
		doc, ok := coll[id]
		if !ok {
			return nil, errors.Errorf("no document with _id %s", id.Hex())
		}
		return bson.M{"result": clone(doc)}, nil
	}

	results := bson.A{}
	for _, doc := range coll {
		if matches(doc, query) {
			results = append(results, clone(doc))
		}
	}
	return bson.M{"results": results}, nil
}

func (m *Memory) update(_ context.Context, req *Request) (any, error) {
	doc, err := decode(req.Document)
	if err != nil {
		return nil, err
	}

	id, ok := documentID(doc)
	if !ok {
		return nil, errors.New("update requires an _id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(req.Database, req.Collection)
	existing, ok := coll[id]
	if !ok {
		return nil, errors.Errorf("no document with _id %s", id.Hex())
	}
	for k, v := range doc {
		existing[k] = v
	}

	if req.SkipVersion {
		return bson.M{"skipVersion": true}, nil
	}

	out := bson.M{"document": clone(existing)}
	out["history"] = m.history(req, "update", existing)
	return out, nil
}

func (m *Memory) delete(_ context.Context, req *Request) (any, error) {
	query, err := decode(req.Document)
	if err != nil {
		return nil, err
	}

	id, ok := documentID(query)
	if !ok {
		return nil, errors.New("delete requires an _id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(req.Database, req.Collection)
	doc, ok := coll[id]
	if !ok {
		return bson.M{"success": false}, nil
	}
	delete(coll, id)

	if req.SkipVersion {
		return bson.M{"success": true}, nil
	}

	return bson.M{"success": true, "history": m.history(req, "delete", doc)}, nil
}

func (m *Memory) count(_ context.Context, req *Request) (any, error) {
	filter, err := decode(req.Document)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, doc := range m.collection(req.Database, req.Collection) {
		if matches(doc, filter) {
			n++
		}
	}
	return bson.M{"count": n}, nil
}
