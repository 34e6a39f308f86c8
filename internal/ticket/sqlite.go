package ticket

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/h1v3-io/relay/pkg/protocol"
)

//go:embed schema.sql
var sqliteSchema string

const ticketColumns = `responder_anchor_id, ticket_id, requester_channel_id, requester_message_id,
	requester_id, requester_name, requester_anchor_id, status, created_at, closed_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate is safe to run on every startup.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}

	// Tables created before the lifecycle existed lack these columns.
	for _, c := range []struct{ name, decl string }{
		{"status", `TEXT NOT NULL DEFAULT 'open'`},
		{"closed_at", `TEXT DEFAULT NULL`},
		{"created_at", `TEXT NOT NULL DEFAULT ''`},
	} {
		if err := s.ensureColumn("tickets", c.name, c.decl); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`); err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(table, column, decl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("ticket store: table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("ticket store: table info: %w", err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ticket store: table info: %w", err)
	}
	rows.Close()

	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("ticket store: add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, t *protocol.Ticket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	t.Status = protocol.TicketOpen
	t.ClosedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (responder_anchor_id, ticket_id, requester_channel_id, requester_message_id,
			requester_id, requester_name, requester_anchor_id, status, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'open', ?, NULL)
	`, t.ResponderAnchorID, t.ID, t.RequesterChannelID, t.RequesterMessageID,
		t.RequesterID, t.RequesterName, nullString(t.RequesterAnchorID), formatTime(t.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("ticket store: create %d: %w", t.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("ticket store: create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByResponderAnchor(ctx context.Context, anchorID string) (*protocol.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE responder_anchor_id = ?`, anchorID)
	return s.get(row, "responder anchor "+anchorID)
}

func (s *SQLiteStore) GetByRequesterAnchor(ctx context.Context, channelID, anchorID string) (*protocol.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE requester_channel_id = ? AND requester_anchor_id = ?`, channelID, anchorID)
	return s.get(row, "requester anchor "+channelID+"/"+anchorID)
}

func (s *SQLiteStore) GetByTicketID(ctx context.Context, id int64) (*protocol.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = ?`, id)
	return s.get(row, fmt.Sprintf("ticket %d", id))
}

func (s *SQLiteStore) get(row *sql.Row, what string) (*protocol.Ticket, error) {
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateRequesterAnchor(ctx context.Context, responderAnchorID, anchorID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE tickets SET requester_anchor_id = ? WHERE responder_anchor_id = ?`,
		nullString(anchorID), responderAnchorID)
	if err != nil {
		return fmt.Errorf("ticket store: update anchor: %w", err)
	}
	return expectRow(result, responderAnchorID)
}

func (s *SQLiteStore) SetStatus(ctx context.Context, responderAnchorID string, status protocol.TicketStatus) error {
	if !status.Valid() {
		return fmt.Errorf("ticket store: invalid status %q", status)
	}
	var closedAt *string
	if status == protocol.TicketClosed {
		v := formatTime(s.now())
		closedAt = &v
	}
	result, err := s.db.ExecContext(ctx, `UPDATE tickets SET status = ?, closed_at = ? WHERE responder_anchor_id = ?`,
		string(status), closedAt, responderAnchorID)
	if err != nil {
		return fmt.Errorf("ticket store: set status: %w", err)
	}
	return expectRow(result, responderAnchorID)
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error) {
	where, args := filterClause(filter, func(int) string { return "?" })
	query := "SELECT " + ticketColumns + " FROM tickets" + where + orderClause(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filterClause(filter, func(int) string { return "?" })

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ticket store: count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) AddChannel(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO authorized_channels (channel_id, added_at) VALUES (?, ?)`,
		channelID, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("ticket store: add channel: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveChannel(ctx context.Context, channelID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM authorized_channels WHERE channel_id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("ticket store: remove channel: %w", err)
	}
	return expectRow(result, "channel "+channelID)
}

func (s *SQLiteStore) IsAuthorized(ctx context.Context, channelID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM authorized_channels WHERE channel_id = ?`, channelID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ticket store: is authorized: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id FROM authorized_channels ORDER BY added_at, channel_id`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list channels: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ticket store: list channels: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func expectRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ticket store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// filterClause builds a WHERE clause; placeholder renders the n-th (1-based)
// bind parameter for the dialect.
func filterClause(filter Filter, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, "status = "+placeholder(len(args)))
	}
	if filter.ChannelID != "" {
		args = append(args, filter.ChannelID)
		conds = append(conds, "requester_channel_id = "+placeholder(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(filter Filter) string {
	clause := " ORDER BY ticket_id DESC"
	if filter.Ascending {
		clause = " ORDER BY ticket_id ASC"
	}
	if filter.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return clause
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(s scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var anchor, closedAt sql.NullString
	var status, createdAt string

	err := s.Scan(&t.ResponderAnchorID, &t.ID, &t.RequesterChannelID, &t.RequesterMessageID,
		&t.RequesterID, &t.RequesterName, &anchor, &status, &createdAt, &closedAt)
	if err != nil {
		return nil, err
	}

	t.RequesterAnchorID = anchor.String
	t.Status = protocol.TicketStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if closedAt.Valid {
		ct, _ := time.Parse(time.RFC3339Nano, closedAt.String)
		t.ClosedAt = &ct
	}
	return &t, nil
}
