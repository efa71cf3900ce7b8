package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Repository reads catalog data.
type Repository interface {
	ListProducts(ctx context.Context, limit, offset int) ([]Product, int, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListStudents(ctx context.Context, limit, offset int) ([]Student, int, error)
	GetStudent(ctx context.Context, id int64) (*Student, error)
}

// DBTX is the subset of pgxpool.Pool used by PGRepository.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	db DBTX
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(db DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// ListProducts returns one page of products ordered by id and the total count.
func (r *PGRepository) ListProducts(ctx context.Context, limit, offset int) ([]Product, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count products: %w", err)
	}
	rows, err := r.db.Query(ctx, `SELECT id, name, description, price_cents FROM products ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list products: %w", err)
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents); err != nil {
			return nil, 0, fmt.Errorf("catalog: scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// GetProduct fetches a product by id.
func (r *PGRepository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := r.db.QueryRow(ctx, `SELECT id, name, description, price_cents FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: get product: %w", err)
	}
	return &p, nil
}

// ListStudents returns one page of students ordered by name.
func (r *PGRepository) ListStudents(ctx context.Context, limit, offset int) ([]Student, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM students`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count students: %w", err)
	}
	rows, err := r.db.Query(ctx, `SELECT id, name, email, course FROM students ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list students: %w", err)
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Course); err != nil {
			return nil, 0, fmt.Errorf("catalog: scan student: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// GetStudent fetches a student by id.
func (r *PGRepository) GetStudent(ctx context.Context, id int64) (*Student, error) {
	var s Student
	err := r.db.QueryRow(ctx, `SELECT id, name, email, course FROM students WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Email, &s.Course)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: get student: %w", err)
	}
	return &s, nil
}

// MemoryRepository is a fixed in-memory catalog.
type MemoryRepository struct {
	mu       sync.RWMutex
	products []Product
	students []Student
}

// NewMemoryRepository returns a catalog holding copies of the given rows.
func NewMemoryRepository(products []Product, students []Student) *MemoryRepository {
	r := &MemoryRepository{
		products: append([]Product(nil), products...),
		students: append([]Student(nil), students...),
	}
	sort.Slice(r.products, func(i, j int) bool { return r.products[i].ID < r.products[j].ID })
	sort.Slice(r.students, func(i, j int) bool {
		if r.students[i].Name != r.students[j].Name {
			return r.students[i].Name < r.students[j].Name
		}
		return r.students[i].ID < r.students[j].ID
	})
	return r
}

// ListProducts returns one page of products.
func (r *MemoryRepository) ListProducts(ctx context.Context, limit, offset int) ([]Product, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return page(r.products, limit, offset), len(r.products), nil
}

// GetProduct fetches a product by id.
func (r *MemoryRepository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.products {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListStudents returns one page of students.
func (r *MemoryRepository) ListStudents(ctx context.Context, limit, offset int) ([]Student, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return page(r.students, limit, offset), len(r.students), nil
}

// GetStudent fetches a student by id.
func (r *MemoryRepository) GetStudent(ctx context.Context, id int64) (*Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.students {
		if s.ID == id {
			cp := s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]T(nil), items[offset:end]...)
}

var (
	_ Repository = (*PGRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
