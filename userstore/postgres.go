package userstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ids"
)

// Postgres stores users in a single table. The pool is owned by the
// caller and is never closed here.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the users table (default "authcore").
func WithSchema(schema string) PostgresOption {
	return func(p *Postgres) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("userstore: invalid schema identifier %q", schema)
		}
		p.schema = schema
		return nil
	}
}

// WithClock sets the clock used for created_at.
func WithClock(now func() time.Time) PostgresOption {
	return func(p *Postgres) error {
		if now == nil {
			return errors.New("userstore: nil clock")
		}
		p.now = now
		return nil
	}
}

// NewPostgres returns a store over pool.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{pool: pool, schema: "authcore", now: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, errors.New("userstore: nil pool")
	}
	return p, nil
}

func (p *Postgres) table() string {
	return pgx.Identifier{p.schema, "users"}.Sanitize()
}

// EnsureSchema creates the schema and users table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{p.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + p.table() + ` (
			id              TEXT PRIMARY KEY,
			email           TEXT NOT NULL,
			hashed_password TEXT NOT NULL,
			display_name    TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL,
			CONSTRAINT users_email_key UNIQUE (email)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("userstore: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) FindByEmail(ctx context.Context, email ids.Email) (*authcore.UserRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, email, hashed_password, display_name, created_at
		   FROM `+p.table()+`
		  WHERE email = $1`, email.String())
	return scanUser(row)
}

func (p *Postgres) Get(ctx context.Context, id ids.UserID) (*authcore.UserRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, email, hashed_password, display_name, created_at
		   FROM `+p.table()+`
		  WHERE id = $1`, id.String())
	return scanUser(row)
}

// Create inserts a user; the unique constraint on email maps to
// authcore.ErrUserExists.
func (p *Postgres) Create(ctx context.Context, in authcore.NewUser) (*authcore.UserRecord, error) {
	u := authcore.UserRecord{
		ID:             ids.UserID(uuid.NewString()),
		Email:          in.Email,
		HashedPassword: in.HashedPassword,
		DisplayName:    in.DisplayName,
		CreatedAt:      p.now().UTC().Truncate(time.Microsecond),
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+p.table()+` (id, email, hashed_password, display_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID.String(), u.Email.String(), u.HashedPassword, u.DisplayName, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, authcore.ErrUserExists
		}
		return nil, fmt.Errorf("userstore: create user: %w", err)
	}
	return &u, nil
}

func scanUser(row pgx.Row) (*authcore.UserRecord, error) {
	var (
		u            authcore.UserRecord
		id, email    string
		hashed, name string
	)
	if err := row.Scan(&id, &email, &hashed, &name, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, fmt.Errorf("userstore: query user: %w", err)
	}
	u.ID = ids.UserID(id)
	u.Email = ids.Email(email)
	u.HashedPassword = hashed
	u.DisplayName = name
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
