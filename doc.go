/*
Package edoc implements an embedded document database on top of an ordered
key-value store (Bolt, or an in-memory store for tests).

We implement:

1. Collections of schema-less BSON documents, keyed by their _id.

2. Secondary indexes (compound, unique, sparse) kept in sync with every write.

3. MongoDB-style filters (see package query), planned into a primary key
lookup, an index scan or a full scan.

4. Cursors with skip, limit, sort and projection.

# Technical Details

**Buckets.**
Each collection is a root bucket named after the collection. Its `data`
sub-bucket maps encoded _id values to raw BSON documents; each index lives in
an `i_<name>` sub-bucket. The `__schema` bucket holds one schema entry per
collection.

**Key encoding.**
Keys use the order-preserving encoding from query.AppendKey: a type rank byte
followed by a per-type body, so that byte order matches query.Compare and no
key is a proper prefix of another. Descending key parts are bit-inverted.

**Index entries.**
An index entry has the key `indexKey ‖ primaryKey` and the value
`primaryKey`. All documents with a given key are the entries prefixed by that
key, and removing one document's entry is a point delete.

**Schema entries.**
A schema entry is a BSON document with `_id`, `name`, `tree`, `type`,
`created_at`, `modified_at`, `doc_count`, `indexes`, `options` and
`metadata`, in that order. `doc_count` is adjusted by every insert and delete
in the same transaction.

**Catalog cache.**
Compiled schema entries (catalogs) are cached in an LRU shared by read
transactions. Commits that change a catalog bump an epoch before and after
committing; a read transaction only trusts cache entries tagged with the
epoch it started in.
*/
package edoc
