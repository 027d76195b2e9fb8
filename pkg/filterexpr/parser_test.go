package filterexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseEquality(t *testing.T) {
	filter, err := Parse(`status == "pending"`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"status": "pending"}, filter)
}

func TestParseDottedFieldPath(t *testing.T) {
	filter, err := Parse(`args.model.name == "resnet"`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"args.model.name": "resnet"}, filter)
}

func TestParseComparisonOperators(t *testing.T) {
	tests := []struct {
		expr string
		want bson.M
	}{
		{`priority != 10`, bson.M{"priority": bson.M{"$ne": int64(10)}}},
		{`priority < 10`, bson.M{"priority": bson.M{"$lt": int64(10)}}},
		{`priority <= 10`, bson.M{"priority": bson.M{"$lte": int64(10)}}},
		{`priority > 10`, bson.M{"priority": bson.M{"$gt": int64(10)}}},
		{`priority >= 10`, bson.M{"priority": bson.M{"$gte": int64(10)}}},
	}

	for _, tt := range tests {
		filter, err := Parse(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, filter, tt.expr)
	}
}

func TestParseFlippedComparison(t *testing.T) {
	filter, err := Parse(`10 <= priority`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"priority": bson.M{"$gte": int64(10)}}, filter)

	filter, err = Parse(`10 >= priority`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"priority": bson.M{"$lte": int64(10)}}, filter)

	filter, err = Parse(`"pending" == status`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"status": "pending"}, filter)
}

func TestParseLiterals(t *testing.T) {
	tests := []struct {
		expr string
		want bson.M
	}{
		{`enabled == true`, bson.M{"enabled": true}},
		{`enabled == False`, bson.M{"enabled": false}},
		{`worker_id == null`, bson.M{"worker_id": nil}},
		{`worker_id == None`, bson.M{"worker_id": nil}},
		{`offset == -5`, bson.M{"offset": int64(-5)}},
		{`ratio == 0.75`, bson.M{"ratio": 0.75}},
		{`name == 'single quoted'`, bson.M{"name": "single quoted"}},
		{`name == "it\"s escaped"`, bson.M{"name": `it"s escaped`}},
	}

	for _, tt := range tests {
		filter, err := Parse(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, filter, tt.expr)
	}
}

func TestParseIn(t *testing.T) {
	filter, err := Parse(`metadata.tag in ["prod", "staging"]`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"metadata.tag": bson.M{"$in": bson.A{"prod", "staging"}}}, filter)
}

func TestParseInMixedList(t *testing.T) {
	filter, err := Parse(`priority in [0, 10, 20.5, null]`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"priority": bson.M{"$in": bson.A{int64(0), int64(10), 20.5, nil}}}, filter)
}

func TestParseEmptyList(t *testing.T) {
	filter, err := Parse(`tag in []`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"tag": bson.M{"$in": bson.A{}}}, filter)
}

func TestParseAndOrPrecedence(t *testing.T) {
	filter, err := Parse(`a == 1 or b == 2 and c == 3`)
	require.NoError(t, err)

	want := bson.M{"$or": bson.A{
		bson.M{"a": int64(1)},
		bson.M{"$and": bson.A{
			bson.M{"b": int64(2)},
			bson.M{"c": int64(3)},
		}},
	}}
	assert.Equal(t, want, filter)
}

func TestParseParentheses(t *testing.T) {
	filter, err := Parse(`(a == 1 or b == 2) and c == 3`)
	require.NoError(t, err)

	want := bson.M{"$and": bson.A{
		bson.M{"$or": bson.A{
			bson.M{"a": int64(1)},
			bson.M{"b": int64(2)},
		}},
		bson.M{"c": int64(3)},
	}}
	assert.Equal(t, want, filter)
}

func TestParseNot(t *testing.T) {
	filter, err := Parse(`not status == "failed"`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$nor": bson.A{bson.M{"status": "failed"}}}, filter)
}

func TestParseNotBindsTighterThanAnd(t *testing.T) {
	filter, err := Parse(`not a == 1 and b == 2`)
	require.NoError(t, err)

	want := bson.M{"$and": bson.A{
		bson.M{"$nor": bson.A{bson.M{"a": int64(1)}}},
		bson.M{"b": int64(2)},
	}}
	assert.Equal(t, want, filter)
}

func TestParseRejectsInvalidExpressions(t *testing.T) {
	exprs := []string{
		``,
		`status = "pending"`,
		`status == status2 == 3`,
		`status2 == status`,
		`"a" == "b"`,
		`status ==`,
		`status == "unterminated`,
		`status == "x" garbage`,
		`1 in tags`,
		`tags in [a]`,
		`tags in [1, 2`,
		`not`,
		`(a == 1`,
		`a == 1 and`,
		`a @ 1`,
		`priority == 1.2.3`,
		`priority == -`,
	}

	for _, expr := range exprs {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseOperatorNamesAreInertAsValues(t *testing.T) {
	filter, err := Parse(`name == "$where"`)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"name": "$where"}, filter)
}

func TestParseRejectsFieldComparison(t *testing.T) {
	_, err := Parse(`retries == max_retries`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "comparing two fields")
}
