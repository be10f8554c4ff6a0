package store

import (
	"context"

	"github.com/hyperchat/kaiwa/internal/models"
)

// UpsertGroup mirrors a group's metadata from the chat export.
func (s *Store) UpsertGroup(ctx context.Context, g *models.GroupDetails) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_groups
		 (id, name, description, category, subcategory, image, created_on, updated_on, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, g.Category, g.Subcategory, g.Image,
		g.CreatedOn, g.UpdatedOn, g.CreatedBy)
	return err
}

// UpsertUser mirrors a group member from the chat export.
func (s *Store) UpsertUser(ctx context.Context, u *models.GroupUser) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_users (user_name, first_name, last_name, is_mute)
		 VALUES (?, ?, ?, ?)`,
		u.UserName, u.FirstName, u.LastName, u.IsMute)
	return err
}
