package edoc

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.mongodb.org/mongo-driver/bson"
)

// compileValidator compiles a JSON Schema stored as a BSON document.
func compileValidator(schema bson.Raw) (*gojsonschema.Schema, error) {
	js, err := bson.MarshalExtJSON(schema, false, false)
	if err != nil {
		return nil, err
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(js))
}

// validateDoc checks doc against the collection's validator, if any. The
// document is seen by the schema as relaxed Extended JSON, so numbers are
// plain JSON numbers and ObjectIDs are {"$oid": "..."} objects.
func (cat *catalog) validateDoc(doc bson.Raw) error {
	if cat.validator == nil {
		return nil
	}
	js, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return collErrf(InvalidArgument, cat.name(), "", err, "cannot render document for validation")
	}
	res, err := cat.validator.Validate(gojsonschema.NewBytesLoader(js))
	if err != nil {
		return collErrf(InvalidArgument, cat.name(), "", err, "validation failed")
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return collErrf(InvalidArgument, cat.name(), "", nil, "document does not match validator: %s", strings.Join(msgs, "; "))
	}
	return nil
}
