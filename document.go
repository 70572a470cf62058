package edoc

import (
	"github.com/andreyvit/edoc/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

const idField = "_id"

// rawDoc encodes v as a BSON document. bson.Raw input is validated and
// copied, so the caller may reuse its buffer.
func rawDoc(v any) (bson.Raw, error) {
	switch v := v.(type) {
	case nil:
		return nil, argErrf("document is nil")
	case bson.Raw:
		if err := v.Validate(); err != nil {
			return nil, argErrf("malformed document: %v", err)
		}
		return bson.Raw(cloneBytes(v)), nil
	case []byte:
		return rawDoc(bson.Raw(v))
	}
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, argErrf("cannot encode document: %v", err)
	}
	return data, nil
}

// withID returns doc and its _id, generating an ObjectID and prepending it
// as the first field when the document has none.
func withID(doc bson.Raw) (bson.Raw, bson.RawValue, error) {
	id, err := doc.LookupErr(idField)
	if err == nil {
		if err := validateID(id); err != nil {
			return nil, bson.RawValue{}, err
		}
		return doc, id, nil
	}

	oid := primitive.NewObjectID()
	idx, out := bsoncore.AppendDocumentStart(make([]byte, 0, len(doc)+17))
	out = bsoncore.AppendObjectIDElement(out, idField, oid)
	out = append(out, doc[4:len(doc)-1]...)
	out, err = bsoncore.AppendDocumentEnd(out, idx)
	if err != nil {
		return nil, bson.RawValue{}, argErrf("cannot add _id: %v", err)
	}
	return out, query.MustValueOf(oid), nil
}

func validateID(id bson.RawValue) error {
	switch id.Type {
	case bson.TypeArray, bson.TypeUndefined, bson.TypeRegex:
		return argErrf("_id cannot be of type %v", id.Type)
	}
	return nil
}

// idValue converts a caller-supplied identifier into a RawValue.
func idValue(id any) (bson.RawValue, error) {
	v, err := query.ValueOf(id)
	if err != nil {
		return bson.RawValue{}, argErrf("bad _id %v: %v", id, err)
	}
	if err := validateID(v); err != nil {
		return bson.RawValue{}, err
	}
	return v, nil
}

// primaryKey is the key of a document in its collection's data bucket.
func primaryKey(id bson.RawValue) []byte {
	return query.AppendKey(nil, id, false)
}

func docID(doc bson.Raw) bson.RawValue {
	v, _ := doc.LookupErr(idField)
	return v
}
