package ticket

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/h1v3-io/relay/pkg/protocol"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tickets (
	responder_anchor_id  TEXT PRIMARY KEY,
	ticket_id            BIGINT NOT NULL,
	requester_channel_id TEXT NOT NULL,
	requester_message_id TEXT NOT NULL,
	requester_id         TEXT NOT NULL DEFAULT '',
	requester_name       TEXT NOT NULL DEFAULT '',
	requester_anchor_id  TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE tickets ADD COLUMN IF NOT EXISTS status TEXT NOT NULL DEFAULT 'open';
ALTER TABLE tickets ADD COLUMN IF NOT EXISTS closed_at TIMESTAMPTZ;
ALTER TABLE tickets ADD COLUMN IF NOT EXISTS created_at TIMESTAMPTZ NOT NULL DEFAULT now();
CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_ticket_id ON tickets(ticket_id);
CREATE INDEX IF NOT EXISTS idx_tickets_requester_anchor ON tickets(requester_channel_id, requester_anchor_id);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);

CREATE TABLE IF NOT EXISTS authorized_channels (
	channel_id TEXT PRIMARY KEY,
	added_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements Store on a pgx connection pool, for deployments
// that run more than one relay process against shared state.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects to dsn and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ticket store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ticket store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ticket store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Create(ctx context.Context, t *protocol.Ticket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	t.Status = protocol.TicketOpen
	t.ClosedAt = nil

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickets (responder_anchor_id, ticket_id, requester_channel_id, requester_message_id,
			requester_id, requester_name, requester_anchor_id, status, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'open', $8, NULL)
	`, t.ResponderAnchorID, t.ID, t.RequesterChannelID, t.RequesterMessageID,
		t.RequesterID, t.RequesterName, nullString(t.RequesterAnchorID), t.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("ticket store: create %d: %w", t.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("ticket store: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByResponderAnchor(ctx context.Context, anchorID string) (*protocol.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE responder_anchor_id = $1`, anchorID)
	return s.get(row, "responder anchor "+anchorID)
}

func (s *PostgresStore) GetByRequesterAnchor(ctx context.Context, channelID, anchorID string) (*protocol.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE requester_channel_id = $1 AND requester_anchor_id = $2`, channelID, anchorID)
	return s.get(row, "requester anchor "+channelID+"/"+anchorID)
}

func (s *PostgresStore) GetByTicketID(ctx context.Context, id int64) (*protocol.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, id)
	return s.get(row, fmt.Sprintf("ticket %d", id))
}

func (s *PostgresStore) get(row pgx.Row, what string) (*protocol.Ticket, error) {
	t, err := scanPgTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateRequesterAnchor(ctx context.Context, responderAnchorID, anchorID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tickets SET requester_anchor_id = $1 WHERE responder_anchor_id = $2`,
		nullString(anchorID), responderAnchorID)
	if err != nil {
		return fmt.Errorf("ticket store: update anchor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", responderAnchorID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, responderAnchorID string, status protocol.TicketStatus) error {
	if !status.Valid() {
		return fmt.Errorf("ticket store: invalid status %q", status)
	}
	var closedAt *time.Time
	if status == protocol.TicketClosed {
		now := s.now().UTC()
		closedAt = &now
	}
	tag, err := s.pool.Exec(ctx, `UPDATE tickets SET status = $1, closed_at = $2 WHERE responder_anchor_id = $3`,
		string(status), closedAt, responderAnchorID)
	if err != nil {
		return fmt.Errorf("ticket store: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", responderAnchorID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error) {
	where, args := filterClause(filter, pgPlaceholder)
	rows, err := s.pool.Query(ctx, "SELECT "+ticketColumns+" FROM tickets"+where+orderClause(filter), args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanPgTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filterClause(filter, pgPlaceholder)
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tickets"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ticket store: count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) AddChannel(ctx context.Context, channelID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO authorized_channels (channel_id, added_at) VALUES ($1, $2)
		ON CONFLICT (channel_id) DO NOTHING`, channelID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("ticket store: add channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveChannel(ctx context.Context, channelID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM authorized_channels WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("ticket store: remove channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) IsAuthorized(ctx context.Context, channelID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authorized_channels WHERE channel_id = $1)`,
		channelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ticket store: is authorized: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT channel_id FROM authorized_channels ORDER BY added_at, channel_id`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list channels: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func scanPgTicket(row pgx.Row) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var anchor *string
	var status string

	err := row.Scan(&t.ResponderAnchorID, &t.ID, &t.RequesterChannelID, &t.RequesterMessageID,
		&t.RequesterID, &t.RequesterName, &anchor, &status, &t.CreatedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	if anchor != nil {
		t.RequesterAnchorID = *anchor
	}
	t.Status = protocol.TicketStatus(status)
	return &t, nil
}
