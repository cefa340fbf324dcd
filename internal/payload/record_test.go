package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Int(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int64
	}{
		{"int", 3, 3},
		{"int64", int64(4), 4},
		{"float64", float64(5), 5},
		{"json number", json.Number("6"), 6},
		{"numeric string", " 7 ", 7},
		{"garbage string", "x", 0},
		{"missing", nil, 0},
		{"bool", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{"v": tt.value}
			assert.Equal(t, tt.want, r.Int("v"))
		})
	}
}

func TestRecord_Truthy(t *testing.T) {
	assert.True(t, Record{"d": true}.Truthy("d"))
	assert.True(t, Record{"d": int64(1)}.Truthy("d"))
	assert.True(t, Record{"d": "true"}.Truthy("d"))
	assert.False(t, Record{"d": int64(0)}.Truthy("d"))
	assert.False(t, Record{}.Truthy("d"))
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	orig := Record{FieldID: int64(1), FieldNote: "keep"}
	cp := orig.Clone()
	cp[FieldNote] = "changed"
	assert.Equal(t, "keep", orig[FieldNote])
}

func TestDecodeRecord_Normalizes(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"_id": 12, "w": 1.5, "s": "x", "b": false, "n": null, "arr": [1]}`))
	require.NoError(t, err)

	assert.Equal(t, int64(12), rec[FieldID])
	assert.Equal(t, 1.5, rec["w"])
	assert.Equal(t, false, rec["b"])
	assert.Contains(t, rec, "n")
	assert.NotContains(t, rec, "arr")

	_, err = DecodeRecord([]byte(`"str"`))
	assert.Error(t, err)
}
