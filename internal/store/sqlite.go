package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"

	"stockfeed/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ PortfolioStore = (*SQLiteStore)(nil)

// SQLiteStore implements PortfolioStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, migrates it
// to the latest schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if _, err := Migrate(dbPath); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Portfolio items
// ---------------------------------------------------------------------------

var itemColumns = []string{"id", "owner", "symbol", "sector", "quantity", "avg_price"}

// Portfolio returns owner's holdings and hit count. An owner with no items
// yields ErrNotFound.
func (s *SQLiteStore) Portfolio(ctx context.Context, owner string) (domain.Portfolio, error) {
	ps, err := s.loadPortfolios(ctx, []string{owner})
	if err != nil {
		return domain.Portfolio{}, err
	}
	if len(ps) == 0 {
		return domain.Portfolio{}, fmt.Errorf("portfolio %q: %w", owner, ErrNotFound)
	}
	return ps[0], nil
}

// AddItem inserts a holding and returns it with its assigned ID.
func (s *SQLiteStore) AddItem(ctx context.Context, owner string, item domain.PortfolioItem) (domain.PortfolioItem, error) {
	if err := item.Validate(); err != nil {
		return domain.PortfolioItem{}, err
	}
	item.Symbol = strings.ToUpper(item.Symbol)

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("portfolio_items").
		Cols("owner", "symbol", "sector", "quantity", "avg_price", "created_at").
		Values(owner, item.Symbol, item.Sector, item.Quantity.String(), item.AvgPrice.String(), s.now().UnixMilli())
	query, args := ib.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.PortfolioItem{}, fmt.Errorf("inserting item: %w", err)
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return domain.PortfolioItem{}, fmt.Errorf("reading item id: %w", err)
	}
	return item, nil
}

// UpdateItem replaces quantity, price and sector of one of owner's items.
func (s *SQLiteStore) UpdateItem(ctx context.Context, owner string, item domain.PortfolioItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("portfolio_items").
		Set(
			ub.Assign("symbol", strings.ToUpper(item.Symbol)),
			ub.Assign("sector", item.Sector),
			ub.Assign("quantity", item.Quantity.String()),
			ub.Assign("avg_price", item.AvgPrice.String()),
		).
		Where(ub.Equal("id", item.ID), ub.Equal("owner", owner))
	query, args := ub.Build()
	return s.execOne(ctx, query, args, "item %d of %q", item.ID, owner)
}

// DeleteItem removes one of owner's items.
func (s *SQLiteStore) DeleteItem(ctx context.Context, owner string, id int64) error {
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom("portfolio_items").Where(db.Equal("id", id), db.Equal("owner", owner))
	query, args := db.Build()
	return s.execOne(ctx, query, args, "item %d of %q", id, owner)
}

func (s *SQLiteStore) execOne(ctx context.Context, query string, args []any, what string, whatArgs ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", fmt.Sprintf(what, whatArgs...), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(what, whatArgs...), ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Hits and recommendations
// ---------------------------------------------------------------------------

// RecordHit increments owner's hit counter.
func (s *SQLiteStore) RecordHit(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_hits (owner, hits) VALUES (?, 1)
		ON CONFLICT (owner) DO UPDATE SET hits = hits + 1`, owner)
	if err != nil {
		return fmt.Errorf("recording hit for %q: %w", owner, err)
	}
	return nil
}

// Recommend pages through other users' portfolios. Portfolio and preference
// criteria rank by hits and fetch one extra row to detect the last page.
// Random returns a single shuffled page that is always the last.
func (s *SQLiteStore) Recommend(ctx context.Context, q RecommendQuery) ([]domain.Portfolio, bool, error) {
	if q.Size <= 0 || q.Page < 0 {
		return nil, false, fmt.Errorf("invalid page %d size %d", q.Page, q.Size)
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("i.owner").
		From("portfolio_items i").
		JoinWithOption(sqlbuilder.LeftJoin, "portfolio_hits h", "h.owner = i.owner").
		GroupBy("i.owner")
	if q.User != "" {
		sb.Where(sb.NotEqual("i.owner", q.User))
	}

	switch q.Criterion {
	case domain.CriterionPortfolio:
		sb.OrderBy("MAX(COALESCE(h.hits, 0)) DESC", "i.owner")
		sb.Limit(q.Size + 1).Offset(q.Page * q.Size)
	case domain.CriterionPreference:
		if len(q.Sectors) == 0 {
			return nil, true, nil
		}
		sb.Where(sb.In("i.sector", lo.ToAnySlice(q.Sectors)...))
		sb.OrderBy("COUNT(*) DESC", "MAX(COALESCE(h.hits, 0)) DESC", "i.owner")
		sb.Limit(q.Size + 1).Offset(q.Page * q.Size)
	case domain.CriterionRandom:
		sb.OrderBy("RANDOM()")
		sb.Limit(q.Size)
	default:
		return nil, false, fmt.Errorf("unknown criterion %q", q.Criterion)
	}

	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying recommendations: %w", err)
	}
	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			rows.Close()
			return nil, false, err
		}
		owners = append(owners, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	last := true
	if q.Criterion.Paginated() && len(owners) > q.Size {
		owners = owners[:q.Size]
		last = false
	}

	ps, err := s.loadPortfolios(ctx, owners)
	if err != nil {
		return nil, false, err
	}
	return ps, last, nil
}

// loadPortfolios returns the portfolios of owners in the given order,
// skipping owners that hold nothing.
func (s *SQLiteStore) loadPortfolios(ctx context.Context, owners []string) ([]domain.Portfolio, error) {
	if len(owners) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(lo.Map(itemColumns, func(c string, _ int) string { return "i." + c })...).
		SelectMore("COALESCE(h.hits, 0)").
		From("portfolio_items i").
		JoinWithOption(sqlbuilder.LeftJoin, "portfolio_hits h", "h.owner = i.owner").
		Where(sb.In("i.owner", lo.ToAnySlice(owners)...)).
		OrderBy("i.id")
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading portfolios: %w", err)
	}
	defer rows.Close()

	byOwner := make(map[string]*domain.Portfolio, len(owners))
	for rows.Next() {
		var (
			it    domain.PortfolioItem
			owner string
			hits  int64
		)
		if err := rows.Scan(&it.ID, &owner, &it.Symbol, &it.Sector, &it.Quantity, &it.AvgPrice, &hits); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		p, ok := byOwner[owner]
		if !ok {
			p = &domain.Portfolio{Owner: owner, Hits: hits}
			byOwner[owner] = p
		}
		p.Items = append(p.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Portfolio, 0, len(byOwner))
	for _, o := range owners {
		if p, ok := byOwner[o]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Symbol views
// ---------------------------------------------------------------------------

// RecordView logs one view of symbol at the given time.
func (s *SQLiteStore) RecordView(ctx context.Context, symbol string, at time.Time) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("symbol_views").Cols("symbol", "viewed_at").Values(strings.ToUpper(symbol), at.UnixMilli())
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("recording view of %s: %w", symbol, err)
	}
	return nil
}

// Trending returns up to limit symbols ranked by views since the given time.
func (s *SQLiteStore) Trending(ctx context.Context, since time.Time, limit int) ([]SymbolCount, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("symbol", "COUNT(*) AS views").
		From("symbol_views").
		Where(sb.GreaterEqualThan("viewed_at", since.UnixMilli())).
		GroupBy("symbol").
		OrderBy("views DESC", "symbol").
		Limit(limit)
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trending: %w", err)
	}
	defer rows.Close()

	var out []SymbolCount
	for rows.Next() {
		var sc SymbolCount
		if err := rows.Scan(&sc.Symbol, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// PruneViews deletes views older than before and reports how many went.
func (s *SQLiteStore) PruneViews(ctx context.Context, before time.Time) (int64, error) {
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom("symbol_views").Where(db.LessThan("viewed_at", before.UnixMilli()))
	query, args := db.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning views: %w", err)
	}
	return res.RowsAffected()
}
