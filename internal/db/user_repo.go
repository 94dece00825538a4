package db

import (
	"context"

	"upkeep/internal/types"
)

// UserRepository provides the directory lookups the engine needs for
// escalation targeting: listing users of an organization by role.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// ListByOrgAndRoles returns active users in the organization holding any of
// the given roles.
//
// SQL: SELECT ... FROM users
//
//	WHERE organization_id = $1 AND role = ANY($2) ORDER BY id
func (r *UserRepository) ListByOrgAndRoles(ctx context.Context, orgID int64, roles []types.UserRole) ([]*types.User, error) {
	roleStrs := make([]string, len(roles))
	for i, role := range roles {
		roleStrs[i] = string(role)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, organization_id, email, name, role
		 FROM users
		 WHERE organization_id = $1 AND role = ANY($2)
		 ORDER BY id`,
		orgID, roleStrs,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list users by role", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &u.Role); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read users", err)
	}
	return users, nil
}
