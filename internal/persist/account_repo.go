package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

type AccountRow struct {
	Name      string
	Verifier  string
	Banned    bool
	CreatedAt time.Time
	LastSeen  *time.Time
}

type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Load(ctx context.Context, name string) (*AccountRow, error) {
	row := &AccountRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT name, verifier, banned, created_at, last_seen
		 FROM accounts WHERE name = $1`, name,
	).Scan(&row.Name, &row.Verifier, &row.Banned, &row.CreatedAt, &row.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) Create(ctx context.Context, name, rawPassword string) (*AccountRow, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	row := &AccountRow{
		Name:      name,
		Verifier:  string(hash),
		CreatedAt: now,
		LastSeen:  &now,
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO accounts (name, verifier, last_seen) VALUES ($1, $2, $3)`,
		row.Name, row.Verifier, row.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) ValidatePassword(verifier string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(rawPassword)) == nil
}

func (r *AccountRepo) UpdateLastSeen(ctx context.Context, name string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET last_seen = NOW() WHERE name = $1`, name)
	return err
}

// UpdateVerifier replaces an account's password hash.
func (r *AccountRepo) UpdateVerifier(ctx context.Context, name, rawPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx,
		`UPDATE accounts SET verifier = $2 WHERE name = $1`, name, string(hash))
	return err
}
