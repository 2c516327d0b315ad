package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"betbot/internal/db"
	"betbot/internal/model"
)

// SQLStore implements Store over database/sql for SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewSQLStore(database *sql.DB, dialect db.Dialect) *SQLStore {
	return &SQLStore{db: database, dialect: dialect}
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	return err
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- markets ---

const marketColumns = `market_id, name, venue, event_name, country, start_time, played, error_code, decided_at`

func (s *SQLStore) UpsertMarkets(ctx context.Context, markets []model.Market) error {
	now := toMillis(time.Now())
	q := s.dialect.Rebind(`
		INSERT INTO markets (market_id, name, venue, event_name, country, start_time, first_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			name = excluded.name,
			venue = excluded.venue,
			event_name = excluded.event_name,
			country = excluded.country,
			start_time = excluded.start_time,
			updated_at = excluded.updated_at`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range markets {
			if _, err := tx.ExecContext(ctx, q,
				m.ID, m.Name, m.Venue, m.EventName, m.Country, toMillis(m.StartTime), now, now,
			); err != nil {
				return fmt.Errorf("upserting market %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

func scanMarket(scan func(dest ...any) error) (*model.Market, error) {
	var (
		m         model.Market
		start     int64
		played    sql.NullInt64
		errorCode sql.NullString
		decidedAt sql.NullInt64
	)
	if err := scan(&m.ID, &m.Name, &m.Venue, &m.EventName, &m.Country, &start, &played, &errorCode, &decidedAt); err != nil {
		return nil, err
	}
	m.StartTime = fromMillis(start)
	if played.Valid {
		p := played.Int64 == 1
		m.Played = &p
	}
	m.ErrorCode = errorCode.String
	if decidedAt.Valid {
		m.DecidedAt = fromMillis(decidedAt.Int64)
	}
	return &m, nil
}

func (s *SQLStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.queryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE market_id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting market %s: %w", id, err)
	}
	runners, err := s.marketRunners(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Runners = runners
	return m, nil
}

func (s *SQLStore) NextPlayable(ctx context.Context) (*model.Market, error) {
	m, err := scanMarket(s.queryRow(ctx, `
		SELECT `+marketColumns+` FROM markets
		WHERE played IS NULL
		ORDER BY start_time ASC, market_id ASC
		LIMIT 1`).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding next playable market: %w", err)
	}
	runners, err := s.marketRunners(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	m.Runners = runners
	return m, nil
}

func (s *SQLStore) UpcomingMarkets(ctx context.Context, from time.Time, limit int) ([]model.Market, error) {
	rows, err := s.query(ctx, `
		SELECT `+marketColumns+` FROM markets
		WHERE start_time >= ? AND (played IS NULL OR played = 1)
		ORDER BY start_time ASC, market_id ASC
		LIMIT ?`, toMillis(from), limit)
	if err != nil {
		return nil, fmt.Errorf("querying upcoming markets: %w", err)
	}
	defer rows.Close()

	var out []model.Market
	for rows.Next() {
		m, err := scanMarket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning market: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SetPlayed records a successful placement. A market already decided is left alone.
func (s *SQLStore) SetPlayed(ctx context.Context, id string, at time.Time) error {
	err := s.exec(ctx, `
		UPDATE markets SET played = 1, error_code = NULL, decided_at = ?, updated_at = ?
		WHERE market_id = ? AND played IS NULL`,
		toMillis(at), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("marking market %s played: %w", id, err)
	}
	return nil
}

// SetSkipped records a skip with its reason code. A market already decided is left alone.
func (s *SQLStore) SetSkipped(ctx context.Context, id, code string, at time.Time) error {
	err := s.exec(ctx, `
		UPDATE markets SET played = 0, error_code = ?, decided_at = ?, updated_at = ?
		WHERE market_id = ? AND played IS NULL`,
		code, toMillis(at), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("marking market %s skipped: %w", id, err)
	}
	return nil
}

// LastDecision returns when a market was last played, or the zero time.
func (s *SQLStore) LastDecision(ctx context.Context) (time.Time, error) {
	var last sql.NullInt64
	err := s.queryRow(ctx, `SELECT MAX(decided_at) FROM markets WHERE played = 1`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last decision: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return fromMillis(last.Int64), nil
}

// --- runners ---

func (s *SQLStore) UpsertRunners(ctx context.Context, runners []model.Runner) error {
	q := s.dialect.Rebind(`
		INSERT INTO runners (selection_id, market_id, name, sort_priority)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(selection_id) DO UPDATE SET
			market_id = excluded.market_id,
			name = excluded.name,
			sort_priority = excluded.sort_priority`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range runners {
			if _, err := tx.ExecContext(ctx, q, r.SelectionID, r.MarketID, r.Name, r.SortPriority); err != nil {
				return fmt.Errorf("upserting runner %d: %w", r.SelectionID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) GetRunner(ctx context.Context, selectionID int64) (*model.Runner, error) {
	var r model.Runner
	err := s.queryRow(ctx, `
		SELECT selection_id, market_id, name, sort_priority FROM runners WHERE selection_id = ?`,
		selectionID).Scan(&r.SelectionID, &r.MarketID, &r.Name, &r.SortPriority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting runner %d: %w", selectionID, err)
	}
	return &r, nil
}

func (s *SQLStore) marketRunners(ctx context.Context, marketID string) ([]model.Runner, error) {
	rows, err := s.query(ctx, `
		SELECT selection_id, market_id, name, sort_priority FROM runners
		WHERE market_id = ? ORDER BY sort_priority ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("querying runners for %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []model.Runner
	for rows.Next() {
		var r model.Runner
		if err := rows.Scan(&r.SelectionID, &r.MarketID, &r.Name, &r.SortPriority); err != nil {
			return nil, fmt.Errorf("scanning runner: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- snapshots ---

// InsertSnapshot appends a book. A duplicate (market, captured_at) is ignored.
func (s *SQLStore) InsertSnapshot(ctx context.Context, book model.Book) error {
	payload, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	err = s.exec(ctx, `
		INSERT INTO book_snapshots (market_id, captured_at, status, in_play, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(market_id, captured_at) DO NOTHING`,
		book.MarketID, toMillis(book.CapturedAt), book.Status, boolToInt(book.InPlay), string(payload))
	if err != nil {
		return fmt.Errorf("inserting snapshot for %s: %w", book.MarketID, err)
	}
	return nil
}

func (s *SQLStore) LatestSnapshot(ctx context.Context, marketID string) (*model.Book, error) {
	var payload string
	err := s.queryRow(ctx, `
		SELECT payload FROM book_snapshots
		WHERE market_id = ?
		ORDER BY captured_at DESC
		LIMIT 1`, marketID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest snapshot for %s: %w", marketID, err)
	}
	var book model.Book
	if err := json.Unmarshal([]byte(payload), &book); err != nil {
		return nil, fmt.Errorf("decoding snapshot for %s: %w", marketID, err)
	}
	return &book, nil
}

// --- winners ---

// UpsertWinner stores a result. A declared winner is never replaced by an indicative one.
func (s *SQLStore) UpsertWinner(ctx context.Context, w model.Winner) error {
	err := s.exec(ctx, `
		INSERT INTO winners (market_id, selection_id, source, declared_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			selection_id = excluded.selection_id,
			source = excluded.source,
			declared_at = excluded.declared_at
		WHERE winners.source <> 'declared' OR excluded.source = 'declared'`,
		w.MarketID, w.SelectionID, w.Source, toMillis(w.DeclaredAt))
	if err != nil {
		return fmt.Errorf("upserting winner for %s: %w", w.MarketID, err)
	}
	return nil
}

func (s *SQLStore) GetWinner(ctx context.Context, marketID string) (*model.Winner, error) {
	var (
		w  model.Winner
		at int64
	)
	err := s.queryRow(ctx, `
		SELECT market_id, selection_id, source, declared_at FROM winners WHERE market_id = ?`,
		marketID).Scan(&w.MarketID, &w.SelectionID, &w.Source, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting winner for %s: %w", marketID, err)
	}
	w.DeclaredAt = fromMillis(at)
	return &w, nil
}

// --- instructions ---

const instructionColumns = `bet_id, market_id, strategy_ref, selection_id, side, order_type, size, price, placed_at, settled, live, customer_ref`

// UpsertInstructions persists accepted bets. Settled never flips back to false.
func (s *SQLStore) UpsertInstructions(ctx context.Context, instructions []model.Instruction) error {
	q := s.dialect.Rebind(`
		INSERT INTO instructions (` + instructionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bet_id) DO UPDATE SET
			size = excluded.size,
			price = excluded.price,
			settled = CASE WHEN instructions.settled = 1 THEN 1 ELSE excluded.settled END`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, in := range instructions {
			if _, err := tx.ExecContext(ctx, q,
				in.BetID, in.MarketID, in.StrategyRef, in.SelectionID, string(in.Side), string(in.Type),
				in.Size, in.Price, toMillis(in.PlacedAt), boolToInt(in.Settled), boolToInt(in.Live), in.CustomerRef,
			); err != nil {
				return fmt.Errorf("upserting instruction %s: %w", in.BetID, err)
			}
		}
		return nil
	})
}

func scanInstruction(scan func(dest ...any) error) (*model.Instruction, error) {
	var (
		in              model.Instruction
		side, orderType string
		placedAt        int64
		settled, live   int
	)
	if err := scan(&in.BetID, &in.MarketID, &in.StrategyRef, &in.SelectionID, &side, &orderType,
		&in.Size, &in.Price, &placedAt, &settled, &live, &in.CustomerRef); err != nil {
		return nil, err
	}
	in.Side = model.Side(side)
	in.Type = model.OrderType(orderType)
	in.PlacedAt = fromMillis(placedAt)
	in.Settled = settled == 1
	in.Live = live == 1
	return &in, nil
}

func (s *SQLStore) GetInstruction(ctx context.Context, betID string) (*model.Instruction, error) {
	in, err := scanInstruction(s.queryRow(ctx, `SELECT `+instructionColumns+` FROM instructions WHERE bet_id = ?`, betID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting instruction %s: %w", betID, err)
	}
	return in, nil
}

func (s *SQLStore) UnsettledInstructions(ctx context.Context, live bool) ([]model.Instruction, error) {
	rows, err := s.query(ctx, `
		SELECT `+instructionColumns+` FROM instructions
		WHERE settled = 0 AND live = ?
		ORDER BY placed_at ASC, bet_id ASC`, boolToInt(live))
	if err != nil {
		return nil, fmt.Errorf("querying unsettled instructions: %w", err)
	}
	defer rows.Close()

	var out []model.Instruction
	for rows.Next() {
		in, err := scanInstruction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning instruction: %w", err)
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetSettled(ctx context.Context, betIDs []string) error {
	if len(betIDs) == 0 {
		return nil
	}
	args := make([]any, len(betIDs))
	for i, id := range betIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(betIDs)), ", ")
	if err := s.exec(ctx, `UPDATE instructions SET settled = 1 WHERE bet_id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("settling instructions: %w", err)
	}
	return nil
}

// --- orders ---

const orderColumns = `bet_id, market_id, selection_id, strategy_ref, side, order_type, status, size_settled, price_matched, placed_at, settled_at, outcome, profit, simulated`

func (s *SQLStore) UpsertOrders(ctx context.Context, orders []model.Order) error {
	q := s.dialect.Rebind(`
		INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bet_id) DO UPDATE SET
			strategy_ref = excluded.strategy_ref,
			status = excluded.status,
			size_settled = excluded.size_settled,
			price_matched = excluded.price_matched,
			settled_at = excluded.settled_at,
			outcome = excluded.outcome,
			profit = excluded.profit
		WHERE orders.profit IS NULL`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, o := range orders {
			var settledAt sql.NullInt64
			if !o.SettledAt.IsZero() {
				settledAt = sql.NullInt64{Int64: toMillis(o.SettledAt), Valid: true}
			}
			var profit sql.NullFloat64
			if o.Profit != nil {
				profit = sql.NullFloat64{Float64: *o.Profit, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, q,
				o.BetID, o.MarketID, o.SelectionID, o.StrategyRef, string(o.Side), string(o.Type), o.Status,
				o.SizeSettled, o.PriceMatched, toMillis(o.PlacedAt), settledAt, string(o.Outcome), profit,
				boolToInt(o.Simulated),
			); err != nil {
				return fmt.Errorf("upserting order %s: %w", o.BetID, err)
			}
		}
		return nil
	})
}

func scanOrder(scan func(dest ...any) error) (*model.Order, error) {
	var (
		o                        model.Order
		side, orderType, outcome string
		placedAt                 int64
		settledAt                sql.NullInt64
		profit                   sql.NullFloat64
		simulated                int
	)
	if err := scan(&o.BetID, &o.MarketID, &o.SelectionID, &o.StrategyRef, &side, &orderType, &o.Status,
		&o.SizeSettled, &o.PriceMatched, &placedAt, &settledAt, &outcome, &profit, &simulated); err != nil {
		return nil, err
	}
	o.Side = model.Side(side)
	o.Type = model.OrderType(orderType)
	o.Outcome = model.Outcome(outcome)
	o.PlacedAt = fromMillis(placedAt)
	if settledAt.Valid {
		o.SettledAt = fromMillis(settledAt.Int64)
	}
	if profit.Valid {
		p := profit.Float64
		o.Profit = &p
	}
	o.Simulated = simulated == 1
	return &o, nil
}

func (s *SQLStore) SettledOrders(ctx context.Context, ref string, from, to time.Time) ([]model.Order, error) {
	rows, err := s.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE profit IS NOT NULL
		  AND settled_at >= ? AND settled_at < ?
		  AND (? = '' OR strategy_ref = ?)
		ORDER BY settled_at ASC, bet_id ASC`,
		toMillis(from), toMillis(to), ref, ref)
	if err != nil {
		return nil, fmt.Errorf("querying settled orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *SQLStore) LatestSettledOrder(ctx context.Context, ref string, since time.Time) (*model.Order, error) {
	o, err := scanOrder(s.queryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE profit IS NOT NULL AND settled_at >= ?
		  AND (? = '' OR strategy_ref = ?)
		ORDER BY settled_at DESC, bet_id DESC
		LIMIT 1`, toMillis(since), ref, ref).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest settled order: %w", err)
	}
	return o, nil
}

// --- strategy states ---

const stateColumns = `strategy_ref, name, stake_pos, weight_pos, bets_at_max_stake, days_at_max_weight, loss_streak, lost_stake_sum, group_pos, halted, stop_loss, active, live, version, updated_at`

func scanState(scan func(dest ...any) error) (*model.StrategyState, error) {
	var (
		st                          model.StrategyState
		halted, stopLoss, active, l int
		updatedAt                   int64
	)
	if err := scan(&st.Ref, &st.Name, &st.StakePos, &st.WeightPos, &st.BetsAtMaxStake, &st.DaysAtMaxWeight,
		&st.LossStreak, &st.LostStakeSum, &st.GroupPos, &halted, &stopLoss, &active, &l, &st.Version, &updatedAt); err != nil {
		return nil, err
	}
	st.Halted = halted == 1
	st.StopLoss = stopLoss == 1
	st.Active = active == 1
	st.Live = l == 1
	st.UpdatedAt = fromMillis(updatedAt)
	return &st, nil
}

func (s *SQLStore) GetStrategyState(ctx context.Context, ref string) (*model.StrategyState, error) {
	st, err := scanState(s.queryRow(ctx, `SELECT `+stateColumns+` FROM strategy_states WHERE strategy_ref = ?`, ref).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting strategy state %s: %w", ref, err)
	}
	return st, nil
}

// UpsertStrategyState writes st and bumps its version, returning the stored record.
func (s *SQLStore) UpsertStrategyState(ctx context.Context, st model.StrategyState) (model.StrategyState, error) {
	err := s.exec(ctx, `
		INSERT INTO strategy_states (`+stateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(strategy_ref) DO UPDATE SET
			name = excluded.name,
			stake_pos = excluded.stake_pos,
			weight_pos = excluded.weight_pos,
			bets_at_max_stake = excluded.bets_at_max_stake,
			days_at_max_weight = excluded.days_at_max_weight,
			loss_streak = excluded.loss_streak,
			lost_stake_sum = excluded.lost_stake_sum,
			group_pos = excluded.group_pos,
			halted = excluded.halted,
			stop_loss = excluded.stop_loss,
			active = excluded.active,
			live = excluded.live,
			version = strategy_states.version + 1,
			updated_at = excluded.updated_at`,
		st.Ref, st.Name, st.StakePos, st.WeightPos, st.BetsAtMaxStake, st.DaysAtMaxWeight, st.LossStreak,
		st.LostStakeSum, st.GroupPos, boolToInt(st.Halted), boolToInt(st.StopLoss), boolToInt(st.Active),
		boolToInt(st.Live), toMillis(st.UpdatedAt))
	if err != nil {
		return model.StrategyState{}, fmt.Errorf("upserting strategy state %s: %w", st.Ref, err)
	}
	stored, err := s.GetStrategyState(ctx, st.Ref)
	if err != nil {
		return model.StrategyState{}, err
	}
	return *stored, nil
}

func (s *SQLStore) ListStrategyStates(ctx context.Context) ([]model.StrategyState, error) {
	rows, err := s.query(ctx, `SELECT `+stateColumns+` FROM strategy_states ORDER BY strategy_ref ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying strategy states: %w", err)
	}
	defer rows.Close()

	var out []model.StrategyState
	for rows.Next() {
		st, err := scanState(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning strategy state: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- statistics ---

const statColumns = `strategy_ref, daily, weekly, monthly, yearly, lifetime, updated_at`

func scanStat(scan func(dest ...any) error) (*model.Statistic, error) {
	var (
		st        model.Statistic
		updatedAt int64
	)
	if err := scan(&st.Ref, &st.Daily, &st.Weekly, &st.Monthly, &st.Yearly, &st.Lifetime, &updatedAt); err != nil {
		return nil, err
	}
	st.UpdatedAt = fromMillis(updatedAt)
	return &st, nil
}

func (s *SQLStore) GetStatistic(ctx context.Context, ref string) (*model.Statistic, error) {
	st, err := scanStat(s.queryRow(ctx, `SELECT `+statColumns+` FROM statistics WHERE strategy_ref = ?`, ref).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting statistic %s: %w", ref, err)
	}
	return st, nil
}

func (s *SQLStore) UpsertStatistics(ctx context.Context, stats []model.Statistic) error {
	q := s.dialect.Rebind(`
		INSERT INTO statistics (` + statColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_ref) DO UPDATE SET
			daily = excluded.daily,
			weekly = excluded.weekly,
			monthly = excluded.monthly,
			yearly = excluded.yearly,
			lifetime = excluded.lifetime,
			updated_at = excluded.updated_at`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, st := range stats {
			if _, err := tx.ExecContext(ctx, q,
				st.Ref, st.Daily, st.Weekly, st.Monthly, st.Yearly, st.Lifetime, toMillis(st.UpdatedAt),
			); err != nil {
				return fmt.Errorf("upserting statistic %s: %w", st.Ref, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) ListStatistics(ctx context.Context) ([]model.Statistic, error) {
	rows, err := s.query(ctx, `SELECT `+statColumns+` FROM statistics ORDER BY strategy_ref ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	defer rows.Close()

	var out []model.Statistic
	for rows.Next() {
		st, err := scanStat(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning statistic: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- account funds ---

func (s *SQLStore) UpsertAccountFunds(ctx context.Context, f model.AccountFunds) error {
	err := s.exec(ctx, `
		INSERT INTO account_funds (wallet, available, exposure, retained_commission, exposure_limit, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(wallet) DO UPDATE SET
			available = excluded.available,
			exposure = excluded.exposure,
			retained_commission = excluded.retained_commission,
			exposure_limit = excluded.exposure_limit,
			updated_at = excluded.updated_at`,
		f.Wallet, f.Available, f.Exposure, f.RetainedCommission, f.ExposureLimit, toMillis(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting funds for %s: %w", f.Wallet, err)
	}
	return nil
}

func (s *SQLStore) GetAccountFunds(ctx context.Context, wallet string) (*model.AccountFunds, error) {
	var (
		f         model.AccountFunds
		updatedAt int64
	)
	err := s.queryRow(ctx, `
		SELECT wallet, available, exposure, retained_commission, exposure_limit, updated_at
		FROM account_funds WHERE wallet = ?`, wallet).
		Scan(&f.Wallet, &f.Available, &f.Exposure, &f.RetainedCommission, &f.ExposureLimit, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting funds for %s: %w", wallet, err)
	}
	f.UpdatedAt = fromMillis(updatedAt)
	return &f, nil
}
