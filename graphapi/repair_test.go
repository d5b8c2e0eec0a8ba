package graphapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairRestoresDroppedInput(t *testing.T) {
	g := loadFixture(t, "testdata/indirection.json")
	flat := Flatten(g, FlattenOptions{})

	delete(flat.Nodes["4"].Inputs, "images")
	flat.Nodes["11"].Inputs["images"] = nil

	report := Repair(flat.Nodes, flat.Resolver, RequiredInputs{
		"4":   {"images": "IMAGE"},
		"9":   {"images": "IMAGE"},
		"11":  {"images": "IMAGE", "filename_prefix": "STRING"},
		"131": {"images": "IMAGE"},
	})

	assert.Equal(t, Ref("1", 0), flat.Nodes["4"].Inputs["images"])
	assert.Equal(t, Ref("1", 0), flat.Nodes["11"].Inputs["images"])
	require.Len(t, report.Repaired, 2)
	assert.Equal(t, NodeID("4"), report.Repaired[0].NodeID)
	assert.Equal(t, NodeID("11"), report.Repaired[1].NodeID)

	// node 9 reads through a fetch with no store
	require.Len(t, report.Unrepaired, 1)
	assert.Equal(t, NodeID("9"), report.Unrepaired[0].NodeID)
	assert.ErrorIs(t, report.Unrepaired[0].Err, ErrUnresolvedReference)
	assert.False(t, report.OK())
}

func TestRepairLeavesPresentInputs(t *testing.T) {
	g := loadFixture(t, "testdata/indirection.json")
	flat := Flatten(g, FlattenOptions{})
	flat.Nodes["4"].Inputs["images"] = Ref("14", 0)

	report := Repair(flat.Nodes, flat.Resolver, RequiredInputs{"4": {"images": "IMAGE"}})
	assert.True(t, report.OK())
	assert.Empty(t, report.Repaired)
	assert.Equal(t, Ref("14", 0), flat.Nodes["4"].Inputs["images"])
}
