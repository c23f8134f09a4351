package region_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/pivot/region"
)

func TestParse(t *testing.T) {
	for _, value := range []string{"1", "19", "20", " 7 ", "07"} {
		code, ok := region.Parse(value)
		assert.True(t, ok, value)
		assert.Contains(t, region.Names, code)
	}

	for _, value := range []string{"", "0", "21", "-3", "abc", "5a", "1.5"} {
		_, ok := region.Parse(value)
		assert.False(t, ok, value)
	}
}

func TestNames(t *testing.T) {
	assert.Len(t, region.Names, region.MaxCode)
	assert.Equal(t, "Metropolitana del Distrito Central", region.Name("19"))
	assert.Equal(t, "Región 42", region.Name("42"))
}

func TestSetFromURL(t *testing.T) {
	filter := region.NewFilter()

	filter.SetFromURL("https://portal.example.org/estadisticas?reg=19&tab=pivot")
	code, ok := filter.ForcedRegion()
	require.True(t, ok)
	assert.Equal(t, "19", code)
	assert.Equal(t, "Metropolitana del Distrito Central", filter.Name())

	filter.SetFromURL("https://portal.example.org/estadisticas?reg=25")
	_, ok = filter.ForcedRegion()
	assert.False(t, ok, "invalid region must clear the filter")

	filter.SetFromQuery("?reg=5")
	code, ok = filter.ForcedRegion()
	require.True(t, ok)
	assert.Equal(t, "5", code)

	filter.SetFromQuery("tab=pivot")
	_, ok = filter.ForcedRegion()
	assert.False(t, ok)
	assert.Equal(t, "", filter.Name())
}

func TestSetRejectsInvalidRegion(t *testing.T) {
	filter := region.NewFilter()
	require.NoError(t, filter.Set("3"))

	assert.Error(t, filter.Set("0"))

	code, ok := filter.ForcedRegion()
	require.True(t, ok, "failed Set must keep the previous region")
	assert.Equal(t, "3", code)
}

func TestAPIFilter(t *testing.T) {
	filter := region.NewFilter()

	_, ok := filter.APIFilter()
	assert.False(t, ok)

	require.NoError(t, filter.Set("8"))
	apiFilter, ok := filter.APIFilter()
	require.True(t, ok)
	assert.Equal(t, pivot.Filter{Field: "REGION", Values: []pivot.Value{"8"}}, apiFilter)
}

func TestLock(t *testing.T) {
	filter := region.NewFilter()
	require.NoError(t, filter.Set("2"))

	descriptors := []pivot.FilterDescriptor{
		{Field: "GENERO", Selected: []pivot.Value{"F"}},
		{
			Field:    "REGION",
			Options:  []pivot.Option{{Value: "1", Label: "Departamental de Atlántida"}},
			Selected: []pivot.Value{"1"},
		},
	}
	filter.Lock(descriptors)

	assert.False(t, descriptors[0].Locked)
	assert.Equal(t, []pivot.Value{"F"}, descriptors[0].Selected)

	assert.True(t, descriptors[1].Locked)
	assert.Equal(t, []pivot.Value{"2"}, descriptors[1].Selected)
	assert.Contains(t, descriptors[1].Options, pivot.Option{Value: "2", Label: "Departamental de Colón"})

	filter.Clear()
	filter.Lock(descriptors)
	assert.False(t, descriptors[1].Locked)
}

func TestFilterIsRegionSource(t *testing.T) {
	var _ pivot.RegionSource = region.NewFilter()
}
