package pg

import (
	"strings"
	"testing"

	"tablesync/internal/dsl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddlDSL = `
module inventory

table Items:
  id: id
  code: text
  qty: numeric
  ok: bool
  at: datetime
  by: user
  photo: file db=photo_url

table Order:
  id: id
`

func parse(t *testing.T, src string) map[string]*dsl.Table {
	t.Helper()
	parsed, err := dsl.ParseTables(strings.NewReader(src))
	require.NoError(t, err)
	out := map[string]*dsl.Table{}
	for _, tb := range parsed {
		out[tb.ID] = tb
	}
	return out
}

func TestGenerateDDL(t *testing.T) {
	ddl, err := GenerateDDL(parse(t, ddlDSL))
	require.NoError(t, err)

	assert.Equal(t, "create schema if not exists \"inventory\";\n", ddl["000_schemas"])

	items := ddl["100_inventory.items"]
	assert.Contains(t, items, `create table if not exists "inventory"."items"`)
	assert.Contains(t, items, `"id" text primary key`)
	assert.Contains(t, items, `"qty" double precision null`)
	assert.Contains(t, items, `"ok" boolean null`)
	assert.Contains(t, items, `"at" timestamp with time zone null`)
	assert.Contains(t, items, `"photo_url" text null`)
	assert.Contains(t, items, `"latitude" double precision null`)
	assert.Equal(t, 1, strings.Count(items, `"id"`))

	// order -> orders, не keyword; values -> t_values
	assert.Contains(t, ddl["100_inventory.order"], `"inventory"."orders"`)
	assert.Equal(t, "t_values", safeTable("Values"))
}

func TestGenerateDDLRejectsSystemClash(t *testing.T) {
	_, err := GenerateDDL(parse(t, "module m\ntable T:\n  latitude: numeric\n"))
	assert.Error(t, err)
	_, err = GenerateDDL(parse(t, "module m\ntable T:\n  a: text db=x\n  b: text db=X\n"))
	assert.Error(t, err)
}
