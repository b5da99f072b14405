package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrams(t *testing.T) {
	c := New(0.6, 3)
	grams := c.Grams("Ab, C!")
	// normalized to "ab c"
	assert.Equal(t, map[string]struct{}{"ab ": {}, "b c": {}}, grams)
	assert.Empty(t, c.Grams("hi"))
}

func TestEncodeDecode(t *testing.T) {
	c := New(0.6, 3)
	grams := c.Grams("Central bank cuts rates")
	assert.Equal(t, grams, Decode(Encode(grams)))
	assert.Empty(t, Decode("not json"))
}

func TestJaccard(t *testing.T) {
	a := map[string]struct{}{"x": {}, "y": {}}
	b := map[string]struct{}{"y": {}, "z": {}}
	assert.InDelta(t, 1.0/3.0, Jaccard(a, b), 1e-9)
	assert.Equal(t, 1.0, Jaccard(a, a))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
}

func TestIsRepeat(t *testing.T) {
	c := New(0.6, 3)
	seen := []StoredTrigrams{
		{RunID: "r1", Title: "Volcano erupts in Iceland", Trigrams: Encode(c.Grams("Volcano erupts in Iceland"))},
		{RunID: "r2", Title: "Central bank cuts interest rates", Trigrams: Encode(c.Grams("Central bank cuts interest rates"))},
	}

	m, repeat := c.IsRepeat("Central Bank cuts interest rates!", seen)
	require.True(t, repeat)
	assert.Equal(t, "r2", m.RunID)

	_, repeat = c.IsRepeat("New phone launched at trade show", seen)
	assert.False(t, repeat)

	_, repeat = c.IsRepeat("anything", nil)
	assert.False(t, repeat)
}
