package edoc

import (
	"time"

	"github.com/andreyvit/edoc/query"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	schemaBucket   = "__schema"
	dataBucket     = "data"
	indexBucketPre = "i_"

	collectionType = "collection"
)

// SchemaEntry is the persisted description of a collection. It is stored as
// a BSON document in the schema bucket, keyed by collection name; the field
// names and their order are part of the file format.
type SchemaEntry struct {
	ID         string        `bson:"_id"`
	Name       string        `bson:"name"`
	Tree       string        `bson:"tree"`
	Type       string        `bson:"type"`
	CreatedAt  time.Time     `bson:"created_at"`
	ModifiedAt time.Time     `bson:"modified_at"`
	DocCount   int64         `bson:"doc_count"`
	Indexes    []IndexEntry  `bson:"indexes"`
	Options    SchemaOptions `bson:"options"`
	Metadata   bson.Raw      `bson:"metadata"`
}

// IndexEntry is the persisted form of an IndexSpec.
type IndexEntry struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique"`
	Sparse bool   `bson:"sparse"`
	Tree   string `bson:"tree"`
}

type SchemaOptions struct {
	Validator bson.Raw `bson:"validator,omitempty"`
}

func newSchemaEntry(name string, now time.Time) *SchemaEntry {
	return &SchemaEntry{
		ID:         uuid.NewString(),
		Name:       name,
		Tree:       name,
		Type:       collectionType,
		CreatedAt:  now,
		ModifiedAt: now,
		Indexes:    []IndexEntry{},
		Metadata:   bson.Raw(emptyDocBytes),
	}
}

var emptyDocBytes = []byte{5, 0, 0, 0, 0}

func (se *SchemaEntry) encode() ([]byte, error) {
	if se.Metadata == nil {
		se.Metadata = bson.Raw(emptyDocBytes)
	}
	if se.Indexes == nil {
		se.Indexes = []IndexEntry{}
	}
	return bson.Marshal(se)
}

func decodeSchemaEntry(data []byte) (*SchemaEntry, error) {
	se := new(SchemaEntry)
	if err := bson.Unmarshal(data, se); err != nil {
		return nil, dataErrf(data, 0, err, "cannot decode schema entry")
	}
	if se.Type != collectionType {
		return nil, dataErrf(data, 0, nil, "unexpected schema entry type %q", se.Type)
	}
	return se, nil
}

func (se *SchemaEntry) index(name string) (int, *IndexEntry) {
	for i := range se.Indexes {
		if se.Indexes[i].Name == name {
			return i, &se.Indexes[i]
		}
	}
	return -1, nil
}

func (ie *IndexEntry) spec() (IndexSpec, error) {
	spec := IndexSpec{Name: ie.Name, Unique: ie.Unique, Sparse: ie.Sparse}
	for _, e := range ie.Key {
		dir, ok := query.IntValue(query.MustValueOf(e.Value))
		if !ok || (dir != 1 && dir != -1) {
			return spec, argErrf("index %s: bad direction %v for %s", ie.Name, e.Value, e.Key)
		}
		spec.Keys = append(spec.Keys, KeyPart{Field: e.Key, Direction: int(dir)})
	}
	return spec, nil
}

func indexEntryFor(spec IndexSpec) IndexEntry {
	key := make(bson.D, 0, len(spec.Keys))
	for _, kp := range spec.Keys {
		key = append(key, bson.E{Key: kp.Field, Value: int32(kp.Direction)})
	}
	return IndexEntry{
		Name:   spec.Name,
		Key:    key,
		Unique: spec.Unique,
		Sparse: spec.Sparse,
		Tree:   indexBucketPre + spec.Name,
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
