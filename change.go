package edoc

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

type (
	// Change describes one document mutation, delivered to Tx.OnChange
	// handlers. Documents are only valid during the handler call.
	Change struct {
		collection string
		op         Op
		id         bson.RawValue
		doc        bson.Raw
		oldDoc     bson.Raw
	}

	Op int
)

const (
	OpNone   Op = 0
	OpInsert Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

func (chg *Change) Collection() string {
	return chg.collection
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) ID() bson.RawValue {
	return chg.id
}
func (chg *Change) HasDoc() bool {
	return chg.doc != nil
}
func (chg *Change) Doc() bson.Raw {
	return chg.doc
}
func (chg *Change) HasOldDoc() bool {
	return chg.oldDoc != nil
}
func (chg *Change) OldDoc() bson.Raw {
	return chg.oldDoc
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

func (tx *Tx) notify(coll string, op Op, id bson.RawValue, doc, oldDoc bson.Raw) {
	if tx.changeHandler == nil {
		return
	}
	tx.changeHandler(&Change{
		collection: coll,
		op:         op,
		id:         id,
		doc:        doc,
		oldDoc:     oldDoc,
	})
}
