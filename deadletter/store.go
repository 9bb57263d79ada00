package deadletter

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/c360/objectrelay/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Listing bounds for the operator endpoint
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// StoredLetter is a persisted letter with its sink-assigned id
type StoredLetter struct {
	ID int64 `json:"id"`
	Letter
}

// Store persists dead letters to Postgres for offline inspection
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle. The caller owns
// the handle's lifecycle and should have run Migrate first.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate brings the dead_letters schema up to date from the embedded
// migration files
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.WrapFatal(err, "DeadLetterStore", "Migrate", "load embedded migrations")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return errors.WrapTransient(err, "DeadLetterStore", "Migrate", "open migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return errors.WrapFatal(err, "DeadLetterStore", "Migrate", "build migrator")
	}
	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.WrapTransient(err, "DeadLetterStore", "Migrate", "apply migrations")
	}
	return nil
}

// Insert persists one letter
func (s *Store) Insert(ctx context.Context, letter *Letter) error {
	receivedAt := letter.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	envelope := letter.Envelope
	if len(envelope) == 0 {
		envelope = json.RawMessage(`{}`)
	}

	query := `INSERT INTO dead_letters (correlation_id, operation, object_type, reason, detail, attempts, envelope, received_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		letter.CorrelationID,
		letter.Operation,
		letter.ObjectType,
		letter.Reason,
		letter.Detail,
		letter.Attempts,
		[]byte(envelope),
		receivedAt,
	)
	if err != nil {
		return errors.WrapTransient(err, "DeadLetterStore", "Insert", "insert letter")
	}
	return nil
}

// List returns persisted letters, newest first
func (s *Store) List(ctx context.Context, limit, offset int) ([]StoredLetter, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, correlation_id, operation, object_type, reason, detail, attempts, envelope, received_at FROM dead_letters ORDER BY received_at DESC, id DESC LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, errors.WrapTransient(err, "DeadLetterStore", "List", "query letters")
	}
	defer rows.Close()

	var letters []StoredLetter
	for rows.Next() {
		var (
			l   StoredLetter
			raw []byte
		)
		if err := rows.Scan(&l.ID, &l.CorrelationID, &l.Operation, &l.ObjectType,
			&l.Reason, &l.Detail, &l.Attempts, &raw, &l.ReceivedAt); err != nil {
			return nil, errors.WrapTransient(err, "DeadLetterStore", "List", "scan letter")
		}
		l.Envelope = json.RawMessage(raw)
		letters = append(letters, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "DeadLetterStore", "List", "iterate letters")
	}
	return letters, nil
}

// CountByReason returns how many letters the sink holds per failure reason
func (s *Store) CountByReason(ctx context.Context) (map[string]int, error) {
	query := `SELECT reason, COUNT(*) FROM dead_letters GROUP BY reason`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapTransient(err, "DeadLetterStore", "CountByReason", "query counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			reason string
			count  int
		)
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, errors.WrapTransient(err, "DeadLetterStore", "CountByReason", "scan count")
		}
		counts[reason] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "DeadLetterStore", "CountByReason", "iterate counts")
	}
	return counts, nil
}
