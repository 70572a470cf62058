package edoc

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	db := setupWith(t, Options{Registerer: reg, InMemory: true})

	require.NoError(t, db.CreateCollection("users", CollectionOptions{}))
	require.NoError(t, db.CreateIndex("users", IndexSpec{Name: "email", Keys: []KeyPart{Asc("email")}, Unique: true}))
	must(db.Insert("users", bson.D{{"_id", 1}, {"email", "a"}}))
	must(db.Insert("users", bson.D{{"_id", 2}, {"email", "b"}}))
	_, err := db.Insert("users", bson.D{{"_id", 3}, {"email", "a"}})
	require.True(t, errors.Is(err, ErrUniqueViolation))

	must(db.FindByID("users", 1))
	all(t)(db.Find("users", bson.D{{"email", "b"}}))
	all(t)(db.Find("users", nil))

	m := db.metrics
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("insert", "unique constraint violation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("find_by_id", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("find", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uniqueViolations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scanned.WithLabelValues("index")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scanned.WithLabelValues("full_scan")))

	n, err := testutil.GatherAndCount(reg, "edoc_operation_duration_seconds")
	require.NoError(t, err)
	assert.Positive(t, n)
}
