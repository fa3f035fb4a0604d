package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/odyssey-auth/internal/models"
)

const userColumns = `id, username, email, phone, password_hash, full_name, active, created_at, updated_at`

// UserRepository is the read-only adapter over the user directory. Account
// storage and password hashing are owned by the surrounding application;
// this service only reads.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername returns a user by exact username match.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1 LIMIT 1`
	return r.findOne(ctx, query, username)
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	return r.findOne(ctx, query, email)
}

// FindByPhone returns a user by phone number.
func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE phone = $1 LIMIT 1`
	return r.findOne(ctx, query, phone)
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	return r.findOne(ctx, query, id)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	roles, err := r.loadRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles

	return &user, nil
}

// loadRoles resolves the user's roles with their flattened permission
// strings, ordered by role name.
func (r *UserRepository) loadRoles(ctx context.Context, userID string) ([]models.Role, error) {
	const query = `
		SELECT r.name AS role_name, rp.permission AS permission
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name, rp.permission`

	rows := []struct {
		RoleName   string  `db:"role_name"`
		Permission *string `db:"permission"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}

	var roles []models.Role
	for _, row := range rows {
		if len(roles) == 0 || roles[len(roles)-1].Name != row.RoleName {
			roles = append(roles, models.Role{Name: row.RoleName})
		}
		if row.Permission != nil {
			last := &roles[len(roles)-1]
			last.Permissions = append(last.Permissions, *row.Permission)
		}
	}

	return roles, nil
}
