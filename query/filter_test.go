package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func doc(t testing.TB, d bson.D) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(d)
	require.NoError(t, err)
	return data
}

func TestFilterMatch(t *testing.T) {
	alice := bson.D{
		{Key: "name", Value: "Alice"},
		{Key: "age", Value: 30},
		{Key: "tags", Value: bson.A{"a", "b", "c"}},
		{Key: "addr", Value: bson.D{{Key: "city", Value: "Paris"}}},
		{Key: "nick", Value: nil},
		{Key: "score", Value: 7.5},
	}

	tests := []struct {
		name   string
		filter bson.D
		want   bool
	}{
		{"empty", bson.D{}, true},
		{"literal", bson.D{{Key: "name", Value: "Alice"}}, true},
		{"literal mismatch", bson.D{{Key: "name", Value: "Bob"}}, false},
		{"cross-type number", bson.D{{Key: "age", Value: 30.0}}, true},
		{"dotted", bson.D{{Key: "addr.city", Value: "Paris"}}, true},
		{"array index", bson.D{{Key: "tags.1", Value: "b"}}, true},
		{"whole array", bson.D{{Key: "tags", Value: bson.A{"a", "b", "c"}}}, true},
		{"literal null matches null", bson.D{{Key: "nick", Value: nil}}, true},
		{"literal null does not match missing", bson.D{{Key: "missing", Value: nil}}, false},
		{"undefined means missing", bson.D{{Key: "missing", Value: primitive.Undefined{}}}, true},
		{"undefined on present", bson.D{{Key: "name", Value: primitive.Undefined{}}}, false},
		{"literal on missing", bson.D{{Key: "missing", Value: 1}}, false},

		{"$eq", bson.D{{Key: "age", Value: bson.D{{Key: "$eq", Value: 30}}}}, true},
		{"$ne", bson.D{{Key: "age", Value: bson.D{{Key: "$ne", Value: 31}}}}, true},
		{"$ne equal", bson.D{{Key: "age", Value: bson.D{{Key: "$ne", Value: 30}}}}, false},
		{"$ne missing", bson.D{{Key: "missing", Value: bson.D{{Key: "$ne", Value: 1}}}}, false},
		{"$gt", bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 29}}}}, true},
		{"$gt equal", bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 30}}}}, false},
		{"$gte", bson.D{{Key: "age", Value: bson.D{{Key: "$gte", Value: 30}}}}, true},
		{"$lt", bson.D{{Key: "age", Value: bson.D{{Key: "$lt", Value: 30}}}}, false},
		{"$lte", bson.D{{Key: "age", Value: bson.D{{Key: "$lte", Value: 30}}}}, true},
		{"range", bson.D{{Key: "age", Value: bson.D{{Key: "$gte", Value: 20}, {Key: "$lte", Value: 29}}}}, false},
		{"$gt across ranks", bson.D{{Key: "name", Value: bson.D{{Key: "$gt", Value: 1}}}}, false},
		{"$lt across ranks", bson.D{{Key: "age", Value: bson.D{{Key: "$lt", Value: "z"}}}}, false},
		{"$gt missing", bson.D{{Key: "missing", Value: bson.D{{Key: "$gt", Value: 1}}}}, false},
		{"$in", bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{"Bob", "Alice"}}}}}, true},
		{"$in none", bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{"Bob"}}}}}, false},
		{"$in empty", bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{}}}}}, false},
		{"$nin", bson.D{{Key: "name", Value: bson.D{{Key: "$nin", Value: bson.A{"Bob"}}}}}, true},
		{"$nin missing", bson.D{{Key: "missing", Value: bson.D{{Key: "$nin", Value: bson.A{"Bob"}}}}}, false},
		{"$exists true", bson.D{{Key: "nick", Value: bson.D{{Key: "$exists", Value: true}}}}, true},
		{"$exists false", bson.D{{Key: "missing", Value: bson.D{{Key: "$exists", Value: false}}}}, true},
		{"$exists false on present", bson.D{{Key: "name", Value: bson.D{{Key: "$exists", Value: 0}}}}, false},
		{"$type name", bson.D{{Key: "score", Value: bson.D{{Key: "$type", Value: "double"}}}}, true},
		{"$type number", bson.D{{Key: "age", Value: bson.D{{Key: "$type", Value: "number"}}}}, true},
		{"$type code", bson.D{{Key: "name", Value: bson.D{{Key: "$type", Value: 2}}}}, true},
		{"$type list", bson.D{{Key: "nick", Value: bson.D{{Key: "$type", Value: bson.A{"string", "null"}}}}}, true},
		{"$type mismatch", bson.D{{Key: "name", Value: bson.D{{Key: "$type", Value: "object"}}}}, false},
		{"$all", bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{"c", "a"}}}}}, true},
		{"$all missing element", bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{"a", "z"}}}}}, false},
		{"$all empty", bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{}}}}}, true},
		{"$all non-array", bson.D{{Key: "name", Value: bson.D{{Key: "$all", Value: bson.A{}}}}}, false},
		{"$size", bson.D{{Key: "tags", Value: bson.D{{Key: "$size", Value: 3}}}}, true},
		{"$size float", bson.D{{Key: "tags", Value: bson.D{{Key: "$size", Value: 3.0}}}}, true},
		{"$size mismatch", bson.D{{Key: "tags", Value: bson.D{{Key: "$size", Value: 2}}}}, false},
		{"$regex", bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^Al"}}}}, true},
		{"$regex options", bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^al"}, {Key: "$options", Value: "i"}}}}, true},
		{"$regex case", bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^al"}}}}, false},
		{"$regex literal", bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: primitive.Regex{Pattern: "ICE$", Options: "i"}}}}}, true},
		{"$regex on number", bson.D{{Key: "age", Value: bson.D{{Key: "$regex", Value: "3"}}}}, false},
		{"field $not", bson.D{{Key: "age", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gt", Value: 40}}}}}}, true},
		{"field $not missing", bson.D{{Key: "missing", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gt", Value: 40}}}}}}, true},
		{"field $not regex", bson.D{{Key: "name", Value: bson.D{{Key: "$not", Value: primitive.Regex{Pattern: "^B"}}}}}, true},

		{"$and", bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 20}}}},
			bson.D{{Key: "age", Value: bson.D{{Key: "$lt", Value: 40}}}},
		}}}, true},
		{"$or", bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: "Bob"}},
			bson.D{{Key: "addr.city", Value: "Paris"}},
		}}}, true},
		{"$or none", bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: "Bob"}},
			bson.D{{Key: "age", Value: 1}},
		}}}, false},
		{"$nor", bson.D{{Key: "$nor", Value: bson.A{
			bson.D{{Key: "name", Value: "Bob"}},
			bson.D{{Key: "age", Value: 1}},
		}}}, true},
		{"$not", bson.D{{Key: "$not", Value: bson.D{{Key: "name", Value: "Bob"}}}}, true},
		{"$not matching", bson.D{{Key: "$not", Value: bson.D{{Key: "name", Value: "Alice"}}}}, false},
		{"mixed", bson.D{
			{Key: "name", Value: "Alice"},
			{Key: "$or", Value: bson.A{bson.D{{Key: "age", Value: 30}}}},
		}, true},
	}
	d := doc(t, alice)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(d))
		})
	}
}

func TestFilterAgeRange(t *testing.T) {
	f := MustCompile(bson.D{{Key: "age", Value: bson.D{{Key: "$gte", Value: 20}, {Key: "$lte", Value: 29}}}})
	var matched []int
	for age := 18; age <= 30; age++ {
		if f.Match(doc(t, bson.D{{Key: "age", Value: age}})) {
			matched = append(matched, age)
		}
	}
	assert.Equal(t, []int{20, 21, 22, 23, 24, 25, 26, 27, 28, 29}, matched)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		filter any
	}{
		{"unknown field op", bson.D{{Key: "a", Value: bson.D{{Key: "$foo", Value: 1}}}}},
		{"unknown top op", bson.D{{Key: "$where", Value: "1"}}},
		{"mixed ops and fields", bson.D{{Key: "a", Value: bson.D{{Key: "$gt", Value: 1}, {Key: "b", Value: 2}}}}},
		{"$in not array", bson.D{{Key: "a", Value: bson.D{{Key: "$in", Value: 1}}}}},
		{"$nin not array", bson.D{{Key: "a", Value: bson.D{{Key: "$nin", Value: "x"}}}}},
		{"$all not array", bson.D{{Key: "a", Value: bson.D{{Key: "$all", Value: 1}}}}},
		{"$and not array", bson.D{{Key: "$and", Value: bson.D{}}}},
		{"$or empty", bson.D{{Key: "$or", Value: bson.A{}}}},
		{"$or element", bson.D{{Key: "$or", Value: bson.A{1}}}},
		{"$not scalar", bson.D{{Key: "$not", Value: 1}}},
		{"field $not scalar", bson.D{{Key: "a", Value: bson.D{{Key: "$not", Value: 1}}}}},
		{"$size negative", bson.D{{Key: "a", Value: bson.D{{Key: "$size", Value: -1}}}}},
		{"$size fractional", bson.D{{Key: "a", Value: bson.D{{Key: "$size", Value: 1.5}}}}},
		{"$size string", bson.D{{Key: "a", Value: bson.D{{Key: "$size", Value: "1"}}}}},
		{"$type unknown", bson.D{{Key: "a", Value: bson.D{{Key: "$type", Value: "thing"}}}}},
		{"$type bad code", bson.D{{Key: "a", Value: bson.D{{Key: "$type", Value: 99}}}}},
		{"$type empty list", bson.D{{Key: "a", Value: bson.D{{Key: "$type", Value: bson.A{}}}}}},
		{"$regex bad pattern", bson.D{{Key: "a", Value: bson.D{{Key: "$regex", Value: "("}}}}},
		{"$regex bad flag", bson.D{{Key: "a", Value: bson.D{{Key: "$regex", Value: "a"}, {Key: "$options", Value: "x"}}}}},
		{"$options alone", bson.D{{Key: "a", Value: bson.D{{Key: "$options", Value: "i"}}}}},
		{"empty field", bson.D{{Key: "", Value: 1}}},
		{"not a document", 42},
		{"malformed raw", bson.Raw{1, 2, 3}},
		{"nested error", bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "a", Value: bson.D{{Key: "$bad", Value: 1}}}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.filter)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidQuery), "got %v", err)
		})
	}
}

func TestFilterEqualities(t *testing.T) {
	f := MustCompile(bson.D{{Key: "email", Value: "a@x"}, {Key: "n", Value: 1}})
	eqs, ok := f.Equalities()
	require.True(t, ok)
	require.Len(t, eqs, 2)
	assert.Equal(t, "email", eqs[0].Field)
	assert.Equal(t, "a@x", eqs[0].Value.StringValue())
	assert.Equal(t, "n", eqs[1].Field)

	for _, filter := range []bson.D{
		{},
		{{Key: "a", Value: bson.D{{Key: "$gt", Value: 1}}}},
		{{Key: "a", Value: 1}, {Key: "$or", Value: bson.A{bson.D{{Key: "b", Value: 1}}}}},
		{{Key: "a", Value: 1}, {Key: "a", Value: 2}},
		{{Key: "a", Value: primitive.Undefined{}}},
	} {
		_, ok := MustCompile(filter).Equalities()
		assert.False(t, ok, "%v", filter)
	}

	assert.True(t, MustCompile(nil).IsEmpty())
	assert.False(t, MustCompile(bson.D{{Key: "a", Value: 1}}).IsEmpty())
}

func TestCompileRegexFlags(t *testing.T) {
	re, err := CompileRegex("^b.c$", "ims")
	require.NoError(t, err)
	assert.True(t, re.MatchString("a\nB\nC"))

	_, err = CompileRegex("a", "ii")
	require.NoError(t, err)
}
