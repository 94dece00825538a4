package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"upkeep/internal/types"
)

func TestUserRepository_ListByOrgAndRoles_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	rows := newMockRows([][]any{
		{int64(501), int64(5), "manager@example.com", "Pat Manager", "MANAGER"},
		{int64(502), int64(5), "admin@example.com", "Sam Admin", "ADMIN"},
	})

	// Roles are flattened to strings for the ANY($2) parameter.
	db.On("Query", mock.Anything, mock.AnythingOfType("string"),
		[]any{int64(5), []string{"MANAGER", "ADMIN"}}).
		Return(rows, nil)

	users, err := repo.ListByOrgAndRoles(context.Background(), 5,
		[]types.UserRole{types.RoleManager, types.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(501), users[0].ID)
	assert.Equal(t, types.RoleManager, users[0].Role)
	assert.Equal(t, types.RoleAdmin, users[1].Role)
	db.AssertExpectations(t)
}

func TestUserRepository_ListByOrgAndRoles_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	users, err := repo.ListByOrgAndRoles(context.Background(), 5, []types.UserRole{types.RoleManager})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUserRepository_ListByOrgAndRoles_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return((*mockRows)(nil), errors.New("connection refused"))

	users, err := repo.ListByOrgAndRoles(context.Background(), 5, []types.UserRole{types.RoleManager})
	require.Error(t, err)
	assert.Nil(t, users)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
