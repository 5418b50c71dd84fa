package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTable_Empty(t *testing.T) {
	assert.Equal(t, "", RenderTable(Table{}))
}

func TestRenderTable_Layout(t *testing.T) {
	// GIVEN: A table with headers, two rows and a separator
	// WHEN: It is rendered
	// THEN: Every line has the same width and every cell is present

	out := RenderTable(Table{
		Title:   "Balances",
		Headers: []string{"Name", "Balance"},
		Rows: [][]string{
			{"Visa", "$1,000.00"},
			{SeparatorRow},
			{"Total", "$1,000.00"},
		},
	})

	assert.Contains(t, out, "Balances")
	assert.Contains(t, out, "Name")
	assert.Contains(t, out, "Visa")
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "$1,000.00")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	// title, top, header, header rule, row, separator, row, bottom
	assert.Len(t, lines, 8)
	width := len([]rune(lines[1]))
	for _, line := range lines[1:] {
		assert.Equal(t, width, len([]rune(line)), "line %q", line)
	}
	assert.True(t, strings.HasPrefix(lines[1], "╭"))
	assert.True(t, strings.HasPrefix(lines[7], "╰"))
}

func TestRenderTable_RightAlignsValues(t *testing.T) {
	out := RenderTable(Table{
		Headers: []string{"Name", "Amount"},
		Rows: [][]string{
			{"A", "$1.00"},
			{"Longer", "$100.00"},
		},
	})
	assert.Contains(t, out, "│ A      │   $1.00 │")
	assert.Contains(t, out, "│ Longer │ $100.00 │")
}

func TestRenderTable_ShortRowsArePadded(t *testing.T) {
	out := RenderTable(Table{
		Headers: []string{"Name", "Kind", "Balance"},
		Rows:    [][]string{{"Total"}},
	})
	assert.Contains(t, out, "│ Total │")
}
