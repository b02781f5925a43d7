package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"
)

const snapshotColumns = `i.item_id, i.sid, i.name, c.name, s.id, s.scrape_time,
	d.current_stock, d.total_trades, d.last_sold_price, d.last_sold_time`

const snapshotJoins = `FROM bdo_marketdata d
	JOIN bdo_item i ON i.id = d.item_id
	JOIN bdo_item_category c ON c.id = i.category_id
	JOIN bdo_marketscrape s ON s.id = d.scrape_id`

const snapshotFilter = `c.name = $1
	AND ($2::bigint IS NULL OR i.item_id = $2)
	AND ($3::smallint IS NULL OR i.sid = $3)`

// latestSQL selects the newest snapshot per item level within the lookback,
// and for each level the newest snapshot not after the latest one of the
// level above.
var latestSQL = `WITH scoped (item_id, sid, name, category, scrape_id, scrape_time,
	current_stock, total_trades, last_sold_price, last_sold_time) AS (
	SELECT ` + snapshotColumns + `
	` + snapshotJoins + `
	WHERE ` + snapshotFilter + `
	AND s.scrape_time >= $4
), latest AS (
	SELECT DISTINCT ON (item_id, sid) *
	FROM scoped
	ORDER BY item_id, sid, scrape_time DESC
), prior AS (
	SELECT DISTINCT ON (p.item_id, p.sid) p.*
	FROM scoped p
	JOIN latest up ON up.item_id = p.item_id AND up.sid = p.sid + 1
	WHERE p.scrape_time <= up.scrape_time
	ORDER BY p.item_id, p.sid, p.scrape_time DESC
)
SELECT * FROM latest
UNION
SELECT * FROM prior
ORDER BY item_id, sid, scrape_time`

// windowSQL selects each item level's closing snapshot per UTC day.
var windowSQL = `WITH ranked (item_id, sid, name, category, scrape_id, scrape_time,
	current_stock, total_trades, last_sold_price, last_sold_time, rn) AS (
	SELECT ` + snapshotColumns + `,
		ROW_NUMBER() OVER (
			PARTITION BY d.item_id, (s.scrape_time AT TIME ZONE 'UTC')::date
			ORDER BY s.scrape_time DESC
		) AS rn
	` + snapshotJoins + `
	WHERE ` + snapshotFilter + `
	AND s.scrape_time >= $4 AND s.scrape_time < $5
)
SELECT item_id, sid, name, category, scrape_id, scrape_time,
	current_stock, total_trades, last_sold_price, last_sold_time
FROM ranked
WHERE rn = 1
ORDER BY item_id, sid, scrape_time`

const catalogSQL = `SELECT i.item_id, i.sid, i.name, c.name
	FROM bdo_item i
	JOIN bdo_item_category c ON c.id = i.category_id
	ORDER BY c.name, i.item_id, i.sid`

const upsertScrapeSQL = `INSERT INTO bdo_marketscrape (endpoint, scrape_time)
	VALUES ($1, $2)
	ON CONFLICT (scrape_time) DO UPDATE SET scrape_time = EXCLUDED.scrape_time
	RETURNING id`

const upsertCategorySQL = `INSERT INTO bdo_item_category (name)
	VALUES ($1)
	ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	RETURNING id`

const insertSnapshotSQL = `WITH item AS (
	INSERT INTO bdo_item (item_id, sid, name, category_id)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (item_id, sid) DO UPDATE SET name = EXCLUDED.name, category_id = EXCLUDED.category_id
	RETURNING id
)
INSERT INTO bdo_marketdata (item_id, scrape_id, current_stock, total_trades, last_sold_price, last_sold_time)
SELECT id, $5, $6, $7, $8, $9 FROM item
ON CONFLICT (item_id, scrape_id) DO NOTHING`

// PostgresSnapshotStore implements SnapshotStore on the bdo_* schema.
type PostgresSnapshotStore struct {
	pool     *pgxpool.Pool
	log      *logger.Logger
	lookback time.Duration
	now      func() time.Time
}

// NewPostgresSnapshotStore creates the store. lookback bounds the latest
// snapshot query.
func NewPostgresSnapshotStore(pool *pgxpool.Pool, log *logger.Logger, lookback time.Duration) *PostgresSnapshotStore {
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &PostgresSnapshotStore{pool: pool, log: log, lookback: lookback, now: time.Now}
}

func (s *PostgresSnapshotStore) FetchSnapshots(ctx context.Context, q domrepo.SnapshotQuery) ([]models.MarketSnapshot, error) {
	sqlText, args := s.buildFetch(q)

	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		s.log.Error("snapshot query failed", queryFields(q, err)...)
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.MarketSnapshot
	for rows.Next() {
		var sn models.MarketSnapshot
		var sid int16
		if err := rows.Scan(
			&sn.Item.ItemID, &sid, &sn.Item.Name, &sn.Item.Category,
			&sn.ScrapeID, &sn.ScrapeTime,
			&sn.CurrentStock, &sn.TotalTrades, &sn.LastSoldPrice, &sn.LastSoldTime,
		); err != nil {
			s.log.Error("snapshot scan failed", queryFields(q, err)...)
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sn.Item.SID = int(sid)
		sn.ScrapeTime = sn.ScrapeTime.UTC()
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		s.log.Error("snapshot rows failed", queryFields(q, err)...)
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	return out, nil
}

func (s *PostgresSnapshotStore) buildFetch(q domrepo.SnapshotQuery) (string, []any) {
	if q.Window != nil {
		return windowSQL, []any{q.Category, q.ItemID, q.SID, q.Window.From, q.Window.To}
	}
	return latestSQL, []any{q.Category, q.ItemID, q.SID, s.now().Add(-s.lookback)}
}

// StoreBatch writes a scrape batch in one transaction. Existing
// (item, scrape) snapshots are left untouched.
func (s *PostgresSnapshotStore) StoreBatch(ctx context.Context, batch *models.ScrapeBatch) (domrepo.StoreResult, error) {
	var res domrepo.StoreResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx, upsertScrapeSQL, batch.Endpoint, batch.ScrapeTime).Scan(&res.ScrapeID); err != nil {
		return res, fmt.Errorf("upsert scrape: %w", err)
	}
	var categoryID int64
	if err := tx.QueryRow(ctx, upsertCategorySQL, batch.Category).Scan(&categoryID); err != nil {
		return res, fmt.Errorf("upsert category: %w", err)
	}

	b := &pgx.Batch{}
	for _, r := range batch.Rows {
		b.Queue(insertSnapshotSQL,
			r.ItemID, int16(r.SID), r.Name, categoryID,
			res.ScrapeID, r.CurrentStock, r.TotalTrades, r.LastSoldPrice, r.SoldAt(),
		)
	}
	br := tx.SendBatch(ctx, b)
	for range batch.Rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return res, fmt.Errorf("insert snapshot: %w", err)
		}
		if tag.RowsAffected() == 1 {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}
	if err := br.Close(); err != nil {
		return res, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (s *PostgresSnapshotStore) LoadItems(ctx context.Context) ([]models.Item, error) {
	rows, err := s.pool.Query(ctx, catalogSQL)
	if err != nil {
		s.log.Error("catalog query failed", logger.Error(err))
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var out []models.Item
	for rows.Next() {
		var it models.Item
		var sid int16
		if err := rows.Scan(&it.ItemID, &sid, &it.Name, &it.Category); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.SID = int(sid)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresSnapshotStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSnapshotStore) Close() error {
	return nil // pool owned by pkg/postgres
}

func queryFields(q domrepo.SnapshotQuery, err error) []logger.Field {
	fields := []logger.Field{logger.String("category", q.Category), logger.Error(err)}
	if q.ItemID != nil {
		fields = append(fields, logger.Int64("item_id", *q.ItemID))
	}
	if q.SID != nil {
		fields = append(fields, logger.Int("sid", *q.SID))
	}
	if q.Window != nil {
		fields = append(fields, logger.Int("interval_day", q.Window.Days))
	}
	return fields
}

var _ domrepo.SnapshotStore = (*PostgresSnapshotStore)(nil)
