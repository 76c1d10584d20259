package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferCountryFromState(t *testing.T) {
	loc := InferCountryFromState("Austin, TX")
	require.NotNil(t, loc)
	assert.Equal(t, "Austin", loc.City)
	assert.Equal(t, "TX", loc.StateCode)
	assert.Equal(t, "Texas", loc.State)
	assert.Equal(t, "United States", loc.Country)
	assert.Equal(t, "Austin, TX, United States", loc.Formatted)

	loc = InferCountryFromState("Toronto, ON")
	require.NotNil(t, loc)
	assert.Equal(t, "Canada", loc.Country)
	assert.Equal(t, "Toronto, ON, Canada", loc.Formatted)

	assert.Nil(t, InferCountryFromState("Paris, France"))
	assert.Nil(t, InferCountryFromState("Berlin"))
	assert.Nil(t, InferCountryFromState("Lyon, XX"))
	assert.Nil(t, InferCountryFromState(""))
}

func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Austin, Texas", "Austin, TX"},
		{"Toronto, Ontario", "Toronto, ON"},
		{"Austin, TX", "Austin, TX"},
		{"austin,  tx", "austin, TX"},
		{"Springfield, Missouri, United States", "Springfield, MO, United States"},
		{"Paris, France", "Paris, France"},
		{"Shenzhen", "Shenzhen"},
		{"  Portland, Oregon  ", "Portland, OR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeLocation(tt.in), tt.in)
	}
}
