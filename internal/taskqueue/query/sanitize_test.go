package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
)

func TestSanitizeFilterScopesQueue(t *testing.T) {
	out, err := SanitizeFilter("queue-1", map[string]interface{}{
		"priority": map[string]interface{}{"$gte": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "queue-1", out["queue_id"])
	assert.Contains(t, out, "priority")
}

func TestSanitizeFilterOverwritesCallerQueueID(t *testing.T) {
	out, err := SanitizeFilter("queue-1", map[string]interface{}{
		"queue_id": "someone-elses-queue",
	})
	require.NoError(t, err)
	assert.Equal(t, "queue-1", out["queue_id"])
}

func TestSanitizeFilterRejectsBannedOperators(t *testing.T) {
	cases := []map[string]interface{}{
		{"$where": "this.password"},
		{"$WHERE": "this.password"},
		{"$expr": map[string]interface{}{"$gt": []interface{}{"$a", "$b"}}},
		{"$or": []interface{}{
			map[string]interface{}{"priority": 1},
			map[string]interface{}{"$function": "x"},
		}},
		{"metadata": map[string]interface{}{"$lookup": map[string]interface{}{"from": "queues"}}},
	}

	for _, filter := range cases {
		_, err := SanitizeFilter("queue-1", filter)
		require.Error(t, err, "filter %v", filter)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
	}
}

func TestSanitizeFilterAllowsPlainOperators(t *testing.T) {
	out, err := SanitizeFilter("queue-1", map[string]interface{}{
		"priority": map[string]interface{}{"$gte": 10, "$lt": 20},
		"$or": []interface{}{
			map[string]interface{}{"task_name": "a"},
			map[string]interface{}{"task_name": "b"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "queue-1", out["queue_id"])
}

func TestSanitizeCollectionFilter(t *testing.T) {
	out, err := SanitizeCollectionFilter("queue-1", CollectionQueues, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "queue-1", out["_id"])

	out, err = SanitizeCollectionFilter("queue-1", CollectionWorkers, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "queue-1", out["queue_id"])

	_, err = SanitizeCollectionFilter("queue-1", "sessions", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
}

func TestSanitizeUpdatePlainFields(t *testing.T) {
	out, err := SanitizeUpdate(map[string]interface{}{
		"priority":     20,
		"metadata.tag": "urgent",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 20, out["priority"])
	assert.Equal(t, "urgent", out["metadata.tag"])
}

func TestSanitizeUpdateRejectsImmutableFields(t *testing.T) {
	for _, field := range []string{"_id", "queue_id", "created_at", "last_modified"} {
		_, err := SanitizeUpdate(map[string]interface{}{field: "x"}, false)
		require.Error(t, err, "field %s", field)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

		// Privilege does not unlock immutable fields
		_, err = SanitizeUpdate(map[string]interface{}{field: "x"}, true)
		require.Error(t, err, "field %s privileged", field)
	}
}

func TestSanitizeUpdatePrivilegedFields(t *testing.T) {
	for _, field := range []string{"status", "retries", "password"} {
		_, err := SanitizeUpdate(map[string]interface{}{field: "x"}, false)
		require.Error(t, err, "field %s", field)

		out, err := SanitizeUpdate(map[string]interface{}{field: "x"}, true)
		require.NoError(t, err, "field %s privileged", field)
		assert.Equal(t, "x", out[field])
	}
}

func TestSanitizeUpdateOperatorDocument(t *testing.T) {
	out, err := SanitizeUpdate(map[string]interface{}{
		"$set": map[string]interface{}{"metadata.owner": "me"},
	}, false)
	require.NoError(t, err)
	set, ok := out["$set"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "me", set["metadata.owner"])

	_, err = SanitizeUpdate(map[string]interface{}{
		"$set": map[string]interface{}{"queue_id": "other"},
	}, true)
	assert.Error(t, err)

	_, err = SanitizeUpdate(map[string]interface{}{
		"$unset": map[string]interface{}{"status": ""},
	}, false)
	assert.Error(t, err)

	_, err = SanitizeUpdate(map[string]interface{}{
		"$where": "this.x",
	}, true)
	assert.Error(t, err)
}

func TestSanitizeUpdateRejectsDottedImmutableHead(t *testing.T) {
	_, err := SanitizeUpdate(map[string]interface{}{"created_at.nested": 1}, true)
	assert.Error(t, err)
}

func TestSanitizeDocument(t *testing.T) {
	out, err := SanitizeDocument(map[string]interface{}{"tag": "a", "nested": map[string]interface{}{"x": 1}})
	require.NoError(t, err)
	assert.Equal(t, "a", out["tag"])

	_, err = SanitizeDocument(map[string]interface{}{"$set": "x"})
	assert.Error(t, err)

	_, err = SanitizeDocument(map[string]interface{}{"tag": map[string]interface{}{"$where": "x"}})
	assert.Error(t, err)
}

func TestAddKeyPrefix(t *testing.T) {
	out := AddKeyPrefix(bson.M{"tag": "a", "owner": "b"}, "metadata.")
	assert.Equal(t, bson.M{"metadata.tag": "a", "metadata.owner": "b"}, out)
}

func TestMergeFilters(t *testing.T) {
	assert.Equal(t, bson.M{}, MergeFilters(nil, nil))

	a := bson.M{"x": 1}
	b := bson.M{"y": 2}
	assert.Equal(t, a, MergeFilters(a, nil))
	assert.Equal(t, b, MergeFilters(nil, b))

	merged := MergeFilters(a, b)
	assert.Equal(t, bson.M{"$and": bson.A{a, b}}, merged)
}
