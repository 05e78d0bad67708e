package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func newID() string {
	return uuid.NewString()
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = newID()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO users (id, email, full_name, password_hash, role, phone, address, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING created_at, updated_at
	`, user.ID, user.Email, user.FullName, user.PasswordHash, user.Role, user.Phone, user.Address).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", mapError(err))
	}
	user.IsActive = true
	return user, nil
}

const userColumns = `
	u.id, u.email, u.full_name, u.password_hash, u.role, u.phone, u.address,
	u.profile_image_key, u.is_active, u.created_at, u.updated_at,
	COALESCE(rp.is_verified, FALSE)
`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.Role, &user.Phone, &user.Address,
		&user.ProfileImageKey, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
		&user.Verified,
	)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.q(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN resolver_profiles rp ON rp.user_id = u.id
		WHERE u.id = $1
	`, id))
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", mapError(err))
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.q(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN resolver_profiles rp ON rp.user_id = u.id
		WHERE u.email = $1
	`, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", mapError(err))
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id, fullName, phone, address string) (User, error) {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE users SET full_name=$2, phone=$3, address=$4, updated_at=NOW()
		WHERE id=$1
	`, id, fullName, phone, address)
	if err := expectOne(result, err, "update user profile"); err != nil {
		return User{}, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *PostgresStore) UpdateUserImage(ctx context.Context, id, key string) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE users SET profile_image_key=$2, updated_at=NOW() WHERE id=$1
	`, id, key)
	return expectOne(result, err, "update user image")
}

func (s *PostgresStore) SetUserActive(ctx context.Context, id string, active bool) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE users SET is_active=$2, updated_at=NOW() WHERE id=$1
	`, id, active)
	return expectOne(result, err, "set user active")
}

func (s *PostgresStore) CreateResolverProfile(ctx context.Context, profile ResolverProfile) error {
	if _, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO resolver_profiles (user_id, department_id, designation, employee_id, jurisdiction)
		VALUES ($1, $2, $3, $4, $5)
	`, profile.UserID, profile.DepartmentID, profile.Designation, profile.EmployeeID, profile.Jurisdiction); err != nil {
		return fmt.Errorf("insert resolver profile: %w", mapError(err))
	}
	return nil
}

const resolverProfileColumns = `
	rp.user_id, rp.department_id, d.name, rp.designation, rp.employee_id, rp.jurisdiction,
	rp.id_document_key, rp.is_verified, rp.verified_at, rp.verified_by,
	rp.rejected_at, rp.rejection_reason, rp.created_at
`

func scanResolverProfile(row rowScanner, extra ...any) (ResolverProfile, error) {
	var p ResolverProfile
	dest := []any{
		&p.UserID, &p.DepartmentID, &p.DepartmentName, &p.Designation, &p.EmployeeID, &p.Jurisdiction,
		&p.IDDocumentKey, &p.IsVerified, &p.VerifiedAt, &p.VerifiedBy,
		&p.RejectedAt, &p.RejectionReason, &p.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return p, err
}

func (s *PostgresStore) GetResolverProfile(ctx context.Context, userID string) (ResolverProfile, error) {
	profile, err := scanResolverProfile(s.q(ctx).QueryRowContext(ctx, `
		SELECT `+resolverProfileColumns+`
		FROM resolver_profiles rp
		JOIN departments d ON d.slug = rp.department_id
		WHERE rp.user_id = $1
	`, userID))
	if err != nil {
		return ResolverProfile{}, fmt.Errorf("get resolver profile: %w", mapError(err))
	}
	return profile, nil
}

func (s *PostgresStore) UpdateResolverDocument(ctx context.Context, userID, key string) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE resolver_profiles SET id_document_key=$2 WHERE user_id=$1
	`, userID, key)
	return expectOne(result, err, "update resolver document")
}

// ListResolvers returns resolver profiles filtered by review state:
// "pending" (neither verified nor rejected), "verified", "rejected" or "" for all.
func (s *PostgresStore) ListResolvers(ctx context.Context, state string) ([]PendingResolver, error) {
	where := "TRUE"
	switch state {
	case "pending":
		where = "rp.is_verified = FALSE AND rp.rejected_at IS NULL"
	case "verified":
		where = "rp.is_verified = TRUE"
	case "rejected":
		where = "rp.rejected_at IS NOT NULL"
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+resolverProfileColumns+`, u.email, u.full_name, u.is_active, u.created_at
		FROM resolver_profiles rp
		JOIN departments d ON d.slug = rp.department_id
		JOIN users u ON u.id = rp.user_id
		WHERE `+where+`
		ORDER BY rp.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list resolvers: %w", err)
	}
	defer rows.Close()

	var items []PendingResolver
	for rows.Next() {
		var item PendingResolver
		profile, err := scanResolverProfile(rows, &item.User.Email, &item.User.FullName, &item.User.IsActive, &item.User.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan resolver: %w", err)
		}
		item.Profile = profile
		item.User.ID = profile.UserID
		item.User.Role = "resolver"
		item.User.Verified = profile.IsVerified
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) VerifyResolver(ctx context.Context, userID, adminID string) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE resolver_profiles
		SET is_verified=TRUE, verified_at=NOW(), verified_by=$2, rejected_at=NULL, rejection_reason=''
		WHERE user_id=$1
	`, userID, adminID)
	return expectOne(result, err, "verify resolver")
}

func (s *PostgresStore) RejectResolver(ctx context.Context, userID, adminID, reason string) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE resolver_profiles
		SET is_verified=FALSE, verified_at=NULL, verified_by=$2, rejected_at=NOW(), rejection_reason=$3
		WHERE user_id=$1
	`, userID, adminID, reason)
	return expectOne(result, err, "reject resolver")
}

// expectOne turns a zero-row UPDATE/DELETE into ErrNotFound.
func expectOne(result sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
