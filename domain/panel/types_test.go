package panel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPanel_Validate(t *testing.T) {
	assert.NoError(t, Panel{{Gene: "ITPR1", Pathway: IP3Receptor}, {Gene: "GNAQ", Pathway: GProtein}}.Validate())
	assert.ErrorContains(t, Panel{}.Validate(), "empty")
	assert.ErrorContains(t, Panel{{Gene: "ITPR1", Pathway: IP3Receptor}, {Gene: "ITPR1", Pathway: IP3Receptor}}.Validate(), "twice")
	assert.ErrorContains(t, Panel{{Gene: "ITPR1", Pathway: "receptor"}}.Validate(), "unknown pathway")
}

func TestBaseline_Status(t *testing.T) {
	yes, no := true, false

	assert.Equal(t, Expressed, Baseline{Level: 5}.Status(1))
	assert.Equal(t, NotExpressed, Baseline{Level: 1}.Status(1), "threshold is exclusive")
	assert.Equal(t, Expressed, Baseline{Level: math.NaN(), Expressed: &yes}.Status(1))
	assert.Equal(t, NotExpressed, Baseline{Level: math.NaN(), Expressed: &no}.Status(1))
	assert.Equal(t, NotMeasured, Baseline{Level: math.NaN()}.Status(1))
}

func TestPathwayCounts_TaxonomyOrder(t *testing.T) {
	counts := PathwayCounts([]IntegratedRecord{
		{Pathway: GProtein}, {Pathway: IP3Receptor}, {Pathway: GProtein},
	})
	assert.Equal(t, []PathwayCount{{IP3Receptor, 1}, {GProtein, 2}}, counts)
}
