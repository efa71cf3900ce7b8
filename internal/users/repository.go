package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the credential store contract.
type Store interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	Save(ctx context.Context, user *User) (*User, error)
}

// Lister exposes read-only listings for the admin pages.
type Lister interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// DBTX is the subset of pgxpool.Pool used by PGRepository.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	uniqueViolation      = "23505"
	stringDataTruncation = "22001"
)

// PGRepository implements Store using PostgreSQL.
type PGRepository struct {
	db DBTX
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(db DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// FindByUsername fetches a user by username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	const query = `SELECT id, username, password, COALESCE(role, '') FROM users WHERE username = $1`
	var u User
	err := r.db.QueryRow(ctx, query, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: find by username: %w", err)
	}
	return &u, nil
}

// Save inserts a new user and returns it with the generated id. The unique
// index on username decides concurrent registrations.
func (r *PGRepository) Save(ctx context.Context, user *User) (*User, error) {
	if err := validate(user); err != nil {
		return nil, err
	}
	const query = `INSERT INTO users (username, password, role) VALUES ($1, $2, $3) RETURNING id`
	saved := *user
	if err := r.db.QueryRow(ctx, query, saved.Username, saved.PasswordHash, saved.Role).Scan(&saved.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				return nil, ErrDuplicateUser
			case stringDataTruncation:
				return nil, ErrUsernameTooLong
			}
		}
		return nil, fmt.Errorf("users: save: %w", err)
	}
	return &saved, nil
}

// ListUsers returns all users ordered by id.
func (r *PGRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, username, password, COALESCE(role, '') FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role); err != nil {
			return nil, fmt.Errorf("users: list scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: list rows: %w", err)
	}
	return users, nil
}

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	byName map[string]*User
	nextID int64
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byName: make(map[string]*User)}
}

// FindByUsername fetches a user by username.
func (r *MemoryRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Save inserts a new user. The uniqueness check and the insert share one lock.
func (r *MemoryRepository) Save(ctx context.Context, user *User) (*User, error) {
	if err := validate(user); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[user.Username]; exists {
		return nil, ErrDuplicateUser
	}
	r.nextID++
	saved := *user
	saved.ID = r.nextID
	r.byName[saved.Username] = &saved
	cp := saved
	return &cp, nil
}

// ListUsers returns all users ordered by id.
func (r *MemoryRepository) ListUsers(ctx context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, 0, len(r.byName))
	for _, u := range r.byName {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

var (
	_ Store  = (*PGRepository)(nil)
	_ Lister = (*PGRepository)(nil)
	_ Store  = (*MemoryRepository)(nil)
	_ Lister = (*MemoryRepository)(nil)
)
