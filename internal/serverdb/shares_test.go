package serverdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareTemplateUpsert(t *testing.T) {
	f := setupShareFixture(t)

	before, err := f.db.GetShare(f.tpl.ID, f.viewer.ID)
	require.NoError(t, err)
	require.NotNil(t, before)

	s, err := f.db.ShareTemplate(f.tpl.ID, f.viewer.ID, RoleEditor)
	require.NoError(t, err)
	assert.Equal(t, RoleEditor, s.Role)
	assert.Equal(t, "viewer@test.com", s.Email)
	assert.True(t, s.CreatedAt.Equal(before.CreatedAt), "re-sharing keeps created_at")

	shares, err := f.db.ListShares(f.tpl.ID)
	require.NoError(t, err)
	assert.Len(t, shares, 2)
}

func TestShareTemplateErrors(t *testing.T) {
	f := setupShareFixture(t)

	_, err := f.db.ShareTemplate(f.tpl.ID, f.owner.ID, RoleViewer)
	assert.ErrorIs(t, err, ErrShareWithOwner)

	_, err = f.db.ShareTemplate(f.tpl.ID, f.outsider.ID, RoleOwner)
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.db.ShareTemplate(f.tpl.ID, "u_missing", RoleViewer)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.db.ShareTemplate("00000000-0000-0000-0000-000000000000", f.outsider.ID, RoleViewer)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestShareTemplateWithEmail(t *testing.T) {
	f := setupShareFixture(t)

	s, err := f.db.ShareTemplateWithEmail(f.tpl.ID, " Outsider@Test.com ", RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, f.outsider.ID, s.SharedWith)

	_, err = f.db.ShareTemplateWithEmail(f.tpl.ID, "nobody@test.com", RoleViewer)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.db.ShareTemplateWithEmail(f.tpl.ID, "", RoleViewer)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateShareRole(t *testing.T) {
	f := setupShareFixture(t)

	require.NoError(t, f.db.UpdateShareRole(f.tpl.ID, f.editor.ID, RoleViewer))
	role, err := f.db.TemplateRole(f.tpl.ID, f.editor.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role)

	assert.ErrorIs(t, f.db.UpdateShareRole(f.tpl.ID, f.outsider.ID, RoleViewer), ErrShareNotFound)
	assert.ErrorIs(t, f.db.UpdateShareRole(f.tpl.ID, f.editor.ID, "admin"), ErrInvalidRole)
}

func TestRemoveShare(t *testing.T) {
	f := setupShareFixture(t)

	require.NoError(t, f.db.RemoveShare(f.tpl.ID, f.viewer.ID))
	role, err := f.db.TemplateRole(f.tpl.ID, f.viewer.ID)
	require.NoError(t, err)
	assert.Empty(t, role, "removed share revokes access")

	assert.ErrorIs(t, f.db.RemoveShare(f.tpl.ID, f.viewer.ID), ErrShareNotFound)

	missing, err := f.db.GetShare(f.tpl.ID, f.viewer.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
