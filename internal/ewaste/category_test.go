package ewaste

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	assert.Equal(t, Laptop, ParseCategory("LAPTOP"))
	assert.Equal(t, Phone, ParseCategory("phone"))
	assert.Equal(t, Printer, ParseCategory("Printer"))
	assert.Equal(t, Other, ParseCategory(" laptop "))
	assert.Equal(t, Other, ParseCategory("TOASTER"))
	assert.Equal(t, Other, ParseCategory(""))
}

func TestParseCategory_EveryTaxonomyMemberRoundTrips(t *testing.T) {
	for _, c := range Categories {
		assert.Equal(t, c, ParseCategory(string(c)))
		assert.True(t, c.Valid())
	}
	assert.False(t, Category("TOASTER").Valid())
}

func TestCategoryFromLabel(t *testing.T) {
	assert.Equal(t, Phone, CategoryFromLabel("cell phone"))
	assert.Equal(t, Phone, CategoryFromLabel("Cell_Phone"))
	assert.Equal(t, Monitor, CategoryFromLabel("tv"))
	assert.Equal(t, Laptop, CategoryFromLabel("laptop"))
	assert.Equal(t, Mouse, CategoryFromLabel("computer-mouse"))
	assert.Equal(t, Other, CategoryFromLabel("toaster"))
	assert.Equal(t, Other, CategoryFromLabel("remote"))
}
