package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pointSchema = `{
	"type": "object",
	"required": ["x", "y"],
	"properties": {
		"x": {"type": "number"},
		"y": {"type": "number"}
	}
}`

func TestDecode(t *testing.T) {
	v, err := Compile("point.json", pointSchema)
	require.NoError(t, err)

	var p struct{ X, Y float64 }
	require.NoError(t, v.Decode([]byte(`{"x": 1.5, "y": 2}`), &p))
	assert.Equal(t, 1.5, p.X)
	assert.Equal(t, 2.0, p.Y)

	assert.Error(t, v.Decode([]byte(`{"x": 1}`), &p), "missing y")
	assert.Error(t, v.Decode([]byte(`{"x": "1", "y": 2}`), &p), "wrong type")
	assert.Error(t, v.Decode([]byte(`not json`), &p))
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile("broken.json", `{"type": 12}`)
	assert.Error(t, err)

	assert.Panics(t, func() { MustCompile("broken.json", `{`) })
}
