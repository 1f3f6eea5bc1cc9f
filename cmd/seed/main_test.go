package main

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPseudoEmbedding(t *testing.T) {
	a := pseudoEmbedding("Hetzner Online GmbH hetzner.com Server invoice")
	b := pseudoEmbedding("Hetzner Online GmbH hetzner.com Server invoice")
	c := pseudoEmbedding("Coffee Corner Team breakfast receipt")

	require.Len(t, a, embeddingDim)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sumSquares float64
	for _, v := range a {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-3)
}

// The repositories scan these inbox columns into plain strings, so a NULL in
// any of them would fail every read of the row. The schema must guarantee a
// value even when an insert omits the column.
func TestInboxTextColumnsRejectNull(t *testing.T) {
	var inboxDDL string
	for _, stmt := range schema {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS inbox_items") {
			inboxDDL = stmt
		}
	}
	require.NotEmpty(t, inboxDDL)

	for _, column := range []string{"display_name", "website", "description", "currency", "document_type", "status"} {
		line := columnDeclaration(inboxDDL, column)
		require.NotEmpty(t, line, "column %s not declared", column)
		assert.Contains(t, line, "NOT NULL", "column %s must not be nullable", column)
	}
}

func columnDeclaration(ddl, column string) string {
	for _, line := range strings.Split(ddl, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), column+" ") {
			return line
		}
	}
	return ""
}
