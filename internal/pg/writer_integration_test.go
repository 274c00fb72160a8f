//go:build integration

package pg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestWriterAgainstPostgres(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tablesync"),
		postgres.WithUsername("tablesync"),
		postgres.WithPassword("tablesync"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, url)
	require.NoError(t, err)
	defer db.Close()

	tables := parse(t, ddlDSL)
	ddl, err := GenerateDDL(tables)
	require.NoError(t, err)
	require.NoError(t, ApplyDDL(ctx, db, ddl))
	// повторное применение не падает
	require.NoError(t, ApplyDDL(ctx, db, ddl))

	w := NewWriter(db)
	items := tables["inventory.Items"]
	err = w.InsertRow(ctx, items, "01TEST", map[string]any{
		"id":        "01TEST",
		"code":      "SC-1",
		"qty":       2.5,
		"ok":        true,
		"at":        time.Now().UTC().Format(time.RFC3339),
		"photo_url": "http://x/files/a.jpg",
		"latitude":  55.75,
		"junk":      "ignored",
	})
	require.NoError(t, err)

	var code string
	var qty, lat float64
	row := db.QueryRowContext(ctx, `select "code", "qty", "latitude" from "inventory"."items" where "id" = $1`, "01TEST")
	require.NoError(t, row.Scan(&code, &qty, &lat))
	assert.Equal(t, "SC-1", code)
	assert.Equal(t, 2.5, qty)
	assert.Equal(t, 55.75, lat)

	// повтор id — ошибка БД пробрасывается
	assert.Error(t, w.InsertRow(ctx, items, "01TEST", map[string]any{"code": "SC-2"}))
}
