package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	assert.Equal(t, Null(), ParseValue(""))
	assert.Equal(t, Number(12.5), ParseValue("12.5"))
	assert.Equal(t, Number(0), ParseValue("0"))
	assert.Equal(t, String("BOS"), ParseValue("BOS"))
	assert.Equal(t, String("PG-SG"), ParseValue("PG-SG"))
}

func TestStatValueAccessors(t *testing.T) {
	f, ok := Number(28.2).Float()
	assert.True(t, ok)
	assert.Equal(t, 28.2, f)

	_, ok = String("x").Float()
	assert.False(t, ok)

	s, ok := String("LAL").Text()
	assert.True(t, ok)
	assert.Equal(t, "LAL", s)

	assert.True(t, Null().IsNull())
	assert.False(t, Number(0).IsNull())
}

func TestStatValueMarshalDeterministic(t *testing.T) {
	cases := map[StatValue]string{
		Number(28.2): "28.2",
		Number(0.5):  "0.5",
		Number(30):   "30",
		String("x"):  `"x"`,
		Null():       "null",
	}
	for v, want := range cases {
		got, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))

		// Equal inputs always produce identical bytes.
		again, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
}

func TestStatValueRoundTrip(t *testing.T) {
	for _, v := range []StatValue{Number(7.75), String("TOT"), Null()} {
		data, err := json.Marshal(v)
		require.NoError(t, err)

		var back StatValue
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, v, back)
	}
}

func TestStatValueUnmarshalRejectsCompound(t *testing.T) {
	var v StatValue
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &v))
}
