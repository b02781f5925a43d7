package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
	pkgch "MarketLens/pkg/clickhouse"
	applogger "MarketLens/pkg/logger"
)

// DefaultSnapshotTable is the ClickHouse snapshot table.
const DefaultSnapshotTable = "marketlens.market_snapshots"

// ClickHouseSchema returns the idempotent DDL for table.
func ClickHouseSchema(table string) []string {
	db := "marketlens"
	if i := strings.IndexByte(table, '.'); i > 0 {
		db = table[:i]
	}
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			category        LowCardinality(String),
			item_id         Int64,
			sid             UInt8,
			name            String,
			endpoint        String,
			scrape_time     DateTime64(3, 'UTC'),
			current_stock   Int64,
			total_trades    Int64,
			last_sold_price Int64,
			last_sold_time  Nullable(DateTime64(3, 'UTC'))
		) ENGINE = ReplacingMergeTree
		ORDER BY (category, item_id, sid, scrape_time)`, table),
	}
}

// CHSnapshotStore implements SnapshotStore backed by ClickHouse. Snapshot
// ids are the scrape's unix time since ClickHouse has no serial keys.
type CHSnapshotStore struct {
	db       *sql.DB
	table    string
	lookback time.Duration
	now      func() time.Time
	l        *applogger.Logger
}

func NewCHSnapshotStore(ch *pkgch.Client, table string, lookback time.Duration) *CHSnapshotStore {
	if table == "" {
		table = DefaultSnapshotTable
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &CHSnapshotStore{db: ch.DB(), table: table, lookback: lookback, now: time.Now}
}

// SetLogger injects a structured logger.
func (s *CHSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSnapshotStore) FetchSnapshots(ctx context.Context, q domrepo.SnapshotQuery) ([]models.MarketSnapshot, error) {
	start := time.Now()

	queries := s.buildFetch(q)
	sets := make([][]models.MarketSnapshot, 0, len(queries))
	for _, cq := range queries {
		set, err := s.query(ctx, q, cq)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	out := sets[0]
	if len(sets) > 1 {
		out = domrepo.MergeSnapshots(sets...)
	}

	if s.l != nil {
		s.l.Debug("clickhouse fetch_snapshots ok",
			applogger.String("category", q.Category),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

type chQuery struct {
	text string
	args []any
}

const chSnapshotAggregates = `argMax(%[1]sname, %[1]sscrape_time), any(%[1]scategory), max(%[1]sscrape_time) AS st,
            argMax(%[1]scurrent_stock, %[1]sscrape_time), argMax(%[1]stotal_trades, %[1]sscrape_time),
            argMax(%[1]slast_sold_price, %[1]sscrape_time), argMax(%[1]slast_sold_time, %[1]sscrape_time)`

// buildFetch returns the window query, or for latest mode the per-level
// latest query followed, unless a level is pinned, by the query for each
// level's newest snapshot not after the latest one of the level above.
func (s *CHSnapshotStore) buildFetch(q domrepo.SnapshotQuery) []chQuery {
	where, args := s.whereClause(q, "")
	groupBy := "item_id, sid"
	if q.Window != nil {
		groupBy += ", toDate(scrape_time)"
	}
	queries := []chQuery{{
		text: fmt.Sprintf(`
        SELECT item_id, sid, %s
        FROM %s FINAL
        WHERE %s
        GROUP BY %s
        ORDER BY item_id, sid, st`, fmt.Sprintf(chSnapshotAggregates, ""), s.table, where, groupBy),
		args: args,
	}}
	if q.Window != nil || q.SID != nil {
		return queries
	}

	outer, outerArgs := s.whereClause(q, "p.")
	queries = append(queries, chQuery{
		text: fmt.Sprintf(`
        SELECT p.item_id, p.sid, %s
        FROM %s AS p FINAL
        INNER JOIN (
            SELECT item_id, sid, max(scrape_time) AS up_time
            FROM %s FINAL
            WHERE %s
            GROUP BY item_id, sid
        ) AS up ON up.item_id = p.item_id AND up.sid = p.sid + 1
        WHERE %s AND p.scrape_time <= up.up_time
        GROUP BY p.item_id, p.sid
        ORDER BY p.item_id, p.sid, st`, fmt.Sprintf(chSnapshotAggregates, "p."), s.table, s.table, where, outer),
		args: append(append([]any{}, args...), outerArgs...),
	})
	return queries
}

func (s *CHSnapshotStore) query(ctx context.Context, q domrepo.SnapshotQuery, cq chQuery) ([]models.MarketSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, cq.text, cq.args...)
	if err != nil {
		s.logError("clickhouse fetch_snapshots query error", q, err)
		return nil, fmt.Errorf("fetch snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.MarketSnapshot
	for rows.Next() {
		var sn models.MarketSnapshot
		var sid uint8
		if err := rows.Scan(
			&sn.Item.ItemID, &sid, &sn.Item.Name, &sn.Item.Category, &sn.ScrapeTime,
			&sn.CurrentStock, &sn.TotalTrades, &sn.LastSoldPrice, &sn.LastSoldTime,
		); err != nil {
			s.logError("clickhouse fetch_snapshots scan error", q, err)
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sn.Item.SID = int(sid)
		sn.ScrapeTime = sn.ScrapeTime.UTC()
		sn.ScrapeID = sn.ScrapeTime.Unix()
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		s.logError("clickhouse fetch_snapshots rows error", q, err)
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// whereClause builds the filter of q with every column prefixed by alias.
func (s *CHSnapshotStore) whereClause(q domrepo.SnapshotQuery, alias string) (string, []any) {
	conds := []string{alias + "category = ?"}
	args := []any{q.Category}
	if q.ItemID != nil {
		conds = append(conds, alias+"item_id = ?")
		args = append(args, *q.ItemID)
	}
	if q.SID != nil {
		conds = append(conds, alias+"sid = ?")
		args = append(args, uint8(*q.SID))
	}
	if q.Window != nil {
		conds = append(conds, alias+"scrape_time >= ?", alias+"scrape_time < ?")
		args = append(args, q.Window.From, q.Window.To)
	} else {
		conds = append(conds, alias+"scrape_time >= ?")
		args = append(args, s.now().Add(-s.lookback))
	}
	return strings.Join(conds, " AND "), args
}

// StoreBatch appends the batch rows. Levels already stored for the same
// scrape time are skipped.
func (s *CHSnapshotStore) StoreBatch(ctx context.Context, batch *models.ScrapeBatch) (domrepo.StoreResult, error) {
	res := domrepo.StoreResult{ScrapeID: batch.ScrapeTime.Unix()}
	if len(batch.Rows) == 0 {
		return res, nil
	}

	existing, err := s.storedLevels(ctx, batch)
	if err != nil {
		return res, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
        (category, item_id, sid, name, endpoint, scrape_time, current_stock, total_trades, last_sold_price, last_sold_time)`, s.table))
	if err != nil {
		_ = tx.Rollback()
		return res, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch.Rows {
		key := models.ItemKey{ItemID: r.ItemID, SID: r.SID}
		if _, ok := existing[key]; ok {
			res.Skipped++
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			batch.Category, r.ItemID, uint8(r.SID), r.Name, batch.Endpoint, batch.ScrapeTime,
			r.CurrentStock, r.TotalTrades, r.LastSoldPrice, r.SoldAt(),
		); err != nil {
			_ = tx.Rollback()
			return domrepo.StoreResult{ScrapeID: res.ScrapeID}, fmt.Errorf("insert snapshot: %w", err)
		}
		existing[key] = struct{}{}
		res.Inserted++
	}
	if err := tx.Commit(); err != nil {
		return domrepo.StoreResult{ScrapeID: res.ScrapeID}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (s *CHSnapshotStore) storedLevels(ctx context.Context, batch *models.ScrapeBatch) (map[models.ItemKey]struct{}, error) {
	q := fmt.Sprintf("SELECT item_id, sid FROM %s WHERE category = ? AND scrape_time = ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, batch.Category, batch.ScrapeTime)
	if err != nil {
		return nil, fmt.Errorf("stored levels: %w", err)
	}
	defer rows.Close()

	out := make(map[models.ItemKey]struct{})
	for rows.Next() {
		var id int64
		var sid uint8
		if err := rows.Scan(&id, &sid); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		out[models.ItemKey{ItemID: id, SID: int(sid)}] = struct{}{}
	}
	return out, rows.Err()
}

func (s *CHSnapshotStore) LoadItems(ctx context.Context) ([]models.Item, error) {
	q := fmt.Sprintf(`
        SELECT DISTINCT item_id, sid, argMax(name, scrape_time), category
        FROM %s
        GROUP BY category, item_id, sid
        ORDER BY category, item_id, sid
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse load_items query error", applogger.Error(err))
		}
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var out []models.Item
	for rows.Next() {
		var it models.Item
		var sid uint8
		if err := rows.Scan(&it.ItemID, &sid, &it.Name, &it.Category); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.SID = int(sid)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *CHSnapshotStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHSnapshotStore) Close() error {
	return nil // Managed by pkg
}

func (s *CHSnapshotStore) logError(msg string, q domrepo.SnapshotQuery, err error) {
	if s.l == nil {
		return
	}
	s.l.Error(msg, queryFields(q, err)...)
}

var _ domrepo.SnapshotStore = (*CHSnapshotStore)(nil)
