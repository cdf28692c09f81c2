package columnar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConvertWidensIntegerAndFloatToFloat64(t *testing.T) {
	var batch = Convert([]map[string]interface{}{
		{"amount": float64(5)},
		{"amount": float64(5.5)},
	})
	var col = findColumn(batch, "amount")
	require.Equal(t, ColumnFloat64, col.Type)
}

func TestConvertNullValueMakesColumnNullable(t *testing.T) {
	var batch = Convert([]map[string]interface{}{
		{"name": "widget"},
		{"name": nil},
	})
	var col = findColumn(batch, "name")
	require.True(t, col.Nullable)
	require.Equal(t, ColumnString, col.Type)
}

func TestConvertMixedScalarTypesFallBackToString(t *testing.T) {
	var batch = Convert([]map[string]interface{}{
		{"id": float64(1)},
		{"id": "abc"},
	})
	var col = findColumn(batch, "id")
	require.Equal(t, ColumnString, col.Type)
}

func TestConvertNestedObjectBecomesStructColumn(t *testing.T) {
	var batch = Convert([]map[string]interface{}{
		{"address": map[string]interface{}{"city": "NYC"}},
	})
	var col = findColumn(batch, "address")
	require.Equal(t, ColumnStruct, col.Type)
	require.Equal(t, `{"city":"NYC"}`, batch.Rows[0]["address"])
}

func TestConvertArrayBecomesListColumnWithMergedElementType(t *testing.T) {
	var batch = Convert([]map[string]interface{}{
		{"tags": []interface{}{"a", "b"}},
	})
	var col = findColumn(batch, "tags")
	require.Equal(t, ColumnList, col.Type)
	require.Equal(t, ColumnString, col.Element.Type)
}

func TestOutputPathFollowsHiveLayoutAndSanitizesStreamName(t *testing.T) {
	var at = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "customers_v2/dt=2024-03-04/data.parquet", OutputPath("customers.v2", at, CompressionSnappy))
	require.Equal(t, "widgets/dt=2024-03-04/data.parquet.gz", OutputPath("widgets", at, CompressionGZIP))
}

func findColumn(batch Batch, name string) Column {
	for _, c := range batch.Columns {
		if c.Name == name {
			return c
		}
	}
	return Column{}
}
