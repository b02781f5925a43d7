package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrepo "MarketLens/internal/domain/repository"
)

var storeNow = time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

func TestPostgresBuildFetch(t *testing.T) {
	s := &PostgresSnapshotStore{lookback: 48 * time.Hour, now: func() time.Time { return storeNow }}
	id := int64(11653)

	t.Run("latest", func(t *testing.T) {
		sqlText, args := s.buildFetch(domrepo.SnapshotQuery{Category: "accessory", ItemID: &id})
		assert.Contains(t, sqlText, "DISTINCT ON (item_id, sid)")
		assert.Contains(t, sqlText, "prior AS (")
		assert.Contains(t, sqlText, "p.scrape_time <= up.scrape_time")
		require.Len(t, args, 4)
		assert.Equal(t, "accessory", args[0])
		assert.Equal(t, &id, args[1])
		assert.Nil(t, args[2].(*int))
		assert.Equal(t, storeNow.Add(-48*time.Hour), args[3])
	})

	t.Run("window", func(t *testing.T) {
		w := domrepo.NewWindow(3, storeNow)
		sqlText, args := s.buildFetch(domrepo.SnapshotQuery{Category: "accessory", Window: &w})
		assert.Contains(t, sqlText, "ROW_NUMBER()")
		assert.Contains(t, sqlText, "WHERE rn = 1")
		require.Len(t, args, 5)
		assert.Equal(t, w.From, args[3])
		assert.Equal(t, w.To, args[4])
	})
}

func TestCHWhereClause(t *testing.T) {
	s := &CHSnapshotStore{lookback: 24 * time.Hour, now: func() time.Time { return storeNow }}
	id := int64(12091)
	sid := 3

	where, args := s.whereClause(domrepo.SnapshotQuery{Category: "accessory", ItemID: &id, SID: &sid}, "")
	assert.Equal(t, "category = ? AND item_id = ? AND sid = ? AND scrape_time >= ?", where)
	assert.Equal(t, []any{"accessory", id, uint8(3), storeNow.Add(-24 * time.Hour)}, args)

	w := domrepo.NewWindow(2, storeNow)
	where, args = s.whereClause(domrepo.SnapshotQuery{Category: "accessory", Window: &w}, "")
	assert.Equal(t, "category = ? AND scrape_time >= ? AND scrape_time < ?", where)
	assert.Equal(t, []any{"accessory", w.From, w.To}, args)

	where, args = s.whereClause(domrepo.SnapshotQuery{Category: "accessory", ItemID: &id}, "p.")
	assert.Equal(t, "p.category = ? AND p.item_id = ? AND p.scrape_time >= ?", where)
	assert.Equal(t, []any{"accessory", id, storeNow.Add(-24 * time.Hour)}, args)
}

func TestCHBuildFetch(t *testing.T) {
	s := &CHSnapshotStore{table: "analytics.snapshots", lookback: 24 * time.Hour, now: func() time.Time { return storeNow }}
	id := int64(11653)
	sid := 5

	t.Run("latest with lower levels", func(t *testing.T) {
		queries := s.buildFetch(domrepo.SnapshotQuery{Category: "accessory", ItemID: &id})
		require.Len(t, queries, 2)
		assert.Contains(t, queries[0].text, "GROUP BY item_id, sid\n")
		assert.Len(t, queries[0].args, 3)

		prior := queries[1]
		assert.Contains(t, prior.text, "up.sid = p.sid + 1")
		assert.Contains(t, prior.text, "p.scrape_time <= up.up_time")
		assert.Contains(t, prior.text, "p.category = ? AND p.item_id = ? AND p.scrape_time >= ?")
		since := storeNow.Add(-24 * time.Hour)
		assert.Equal(t, []any{"accessory", id, since, "accessory", id, since}, prior.args)
	})

	t.Run("pinned level", func(t *testing.T) {
		queries := s.buildFetch(domrepo.SnapshotQuery{Category: "accessory", ItemID: &id, SID: &sid})
		require.Len(t, queries, 1)
		assert.NotContains(t, queries[0].text, "up.up_time")
	})

	t.Run("window", func(t *testing.T) {
		w := domrepo.NewWindow(3, storeNow)
		queries := s.buildFetch(domrepo.SnapshotQuery{Category: "accessory", Window: &w})
		require.Len(t, queries, 1)
		assert.Contains(t, queries[0].text, "toDate(scrape_time)")
		assert.Equal(t, []any{"accessory", w.From, w.To}, queries[0].args)
	})
}

func TestClickHouseSchema(t *testing.T) {
	stmts := ClickHouseSchema("analytics.snapshots")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS analytics", stmts[0])
	assert.True(t, strings.Contains(stmts[1], "CREATE TABLE IF NOT EXISTS analytics.snapshots"))
	assert.Contains(t, stmts[1], "ORDER BY (category, item_id, sid, scrape_time)")
}
