package edoc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
)

// Export stream layout: a fixed header, then msgpack-encoded frames. Each
// frame carries an lz4 block holding a msgpack-encoded exportBatch. The
// first frame holds the schema entry, the last one is an end marker with
// the number of exported documents.

const (
	exportVersion   = 1
	exportBatchSize = 1000

	frameSchema = "schema"
	frameDocs   = "docs"
	frameEnd    = "end"
)

var exportMagic = [4]byte{'E', 'D', 'O', 'C'}

type exportHeader struct {
	Magic   [4]byte
	Version uint16
	Flags   uint16
}

type exportFrame struct {
	Kind       string `msgpack:"kind"`
	RawLen     int    `msgpack:"raw_len"`
	Compressed bool   `msgpack:"compressed"`
	Data       []byte `msgpack:"data"`
	Count      int64  `msgpack:"count,omitempty"`
}

type exportBatch struct {
	Schema []byte   `msgpack:"schema,omitempty"`
	Docs   [][]byte `msgpack:"docs,omitempty"`
}

// Export writes the collection's schema entry and all of its documents to w.
func (tx *Tx) Export(w io.Writer, coll string) (n int64, err error) {
	cat, err := tx.catalog(coll)
	if err != nil {
		return 0, err
	}
	se, err := tx.schemaEntry(coll)
	if err != nil {
		return 0, err
	}
	schema, err := se.encode()
	if err != nil {
		return 0, collErrf(InvalidArgument, coll, "", err, "encode schema entry")
	}

	if err := binary.Write(w, binary.LittleEndian, &exportHeader{Magic: exportMagic, Version: exportVersion}); err != nil {
		return 0, exportErr(coll, err)
	}
	enc := msgpack.NewEncoder(w)
	if err := writeFrame(enc, frameSchema, &exportBatch{Schema: schema}); err != nil {
		return 0, exportErr(coll, err)
	}

	if data := tx.stx.Bucket(cat.entry.Tree, dataBucket); data != nil {
		batch := &exportBatch{Docs: make([][]byte, 0, exportBatchSize)}
		c := data.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			batch.Docs = append(batch.Docs, v)
			n++
			if len(batch.Docs) == exportBatchSize {
				if err := writeFrame(enc, frameDocs, batch); err != nil {
					return n, exportErr(coll, err)
				}
				batch.Docs = batch.Docs[:0]
			}
		}
		if len(batch.Docs) > 0 {
			if err := writeFrame(enc, frameDocs, batch); err != nil {
				return n, exportErr(coll, err)
			}
		}
	}

	if err := enc.Encode(&exportFrame{Kind: frameEnd, Count: n}); err != nil {
		return n, exportErr(coll, err)
	}
	tx.db.sugar.Infof("db: exported %d documents from %s", n, coll)
	return n, nil
}

func writeFrame(enc *msgpack.Encoder, kind string, batch *exportBatch) error {
	raw, err := msgpack.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	frame := exportFrame{Kind: kind, RawLen: len(raw)}
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	var hashTable [1 << 16]int
	m, err := lz4.CompressBlock(raw, buf, hashTable[:])
	if err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}
	if m > 0 && m < len(raw) {
		frame.Compressed = true
		frame.Data = buf[:m]
	} else {
		frame.Data = raw
	}
	return enc.Encode(&frame)
}

func readFrame(dec *msgpack.Decoder) (*exportFrame, *exportBatch, error) {
	var frame exportFrame
	if err := dec.Decode(&frame); err != nil {
		return nil, nil, err
	}
	if frame.Kind == frameEnd {
		return &frame, nil, nil
	}
	raw := frame.Data
	if frame.Compressed {
		raw = make([]byte, frame.RawLen)
		m, err := lz4.UncompressBlock(frame.Data, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decompress %s frame: %w", frame.Kind, err)
		}
		raw = raw[:m]
	}
	var batch exportBatch
	if err := msgpack.Unmarshal(raw, &batch); err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s frame: %w", frame.Kind, err)
	}
	return &frame, &batch, nil
}

func exportErr(coll string, err error) error {
	return collErrf(StorageFailure, coll, "", err, "export")
}

// Import recreates a collection from an Export stream: options, metadata,
// indexes and documents. The collection must not exist yet.
func (tx *Tx) Import(r io.Reader) (coll string, n int64, err error) {
	if err := tx.requireWritable(); err != nil {
		return "", 0, err
	}
	var hdr exportHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return "", 0, argErrf("import: cannot read header: %v", err)
	}
	if hdr.Magic != exportMagic {
		return "", 0, argErrf("import: not an export stream")
	}
	if hdr.Version != exportVersion {
		return "", 0, argErrf("import: unsupported version %d", hdr.Version)
	}

	dec := msgpack.NewDecoder(r)
	frame, batch, err := readFrame(dec)
	if err != nil {
		return "", 0, argErrf("import: %v", err)
	}
	if frame.Kind != frameSchema {
		return "", 0, argErrf("import: expected schema frame, got %q", frame.Kind)
	}
	se, err := decodeSchemaEntry(batch.Schema)
	if err != nil {
		return "", 0, argErrf("import: %v", err)
	}
	coll = se.Name

	var opts CollectionOptions
	if len(se.Metadata) > 0 {
		opts.Metadata = se.Metadata
	}
	if len(se.Options.Validator) > 0 {
		opts.Validator = se.Options.Validator
	}
	if err := tx.CreateCollection(coll, opts); err != nil {
		return coll, 0, err
	}
	for i := range se.Indexes {
		spec, err := se.Indexes[i].spec()
		if err != nil {
			return coll, 0, withCollection(err, coll)
		}
		if err := tx.CreateIndex(coll, spec); err != nil {
			return coll, 0, err
		}
	}

	for {
		frame, batch, err := readFrame(dec)
		if errors.Is(err, io.EOF) {
			return coll, n, argErrf("import: stream ends without end marker")
		} else if err != nil {
			return coll, n, argErrf("import: %v", err)
		}
		switch frame.Kind {
		case frameEnd:
			if frame.Count != n {
				return coll, n, argErrf("import: expected %d documents, got %d", frame.Count, n)
			}
			tx.db.sugar.Infof("db: imported %d documents into %s", n, coll)
			return coll, n, nil
		case frameDocs:
			for _, doc := range batch.Docs {
				if _, err := tx.Insert(coll, bson.Raw(doc)); err != nil {
					return coll, n, err
				}
				n++
			}
		default:
			return coll, n, argErrf("import: unexpected %q frame", frame.Kind)
		}
	}
}

func (db *DB) Export(w io.Writer, coll string) (n int64, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		n, err = tx.Export(w, coll)
		return err
	})
	return
}

// Import loads an Export stream in a single write transaction.
func (db *DB) Import(r io.Reader) (coll string, n int64, err error) {
	err = db.Tx(true, func(tx *Tx) error {
		coll, n, err = tx.Import(r)
		return err
	})
	return
}
