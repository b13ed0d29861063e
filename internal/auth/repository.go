package auth

import (
	"context"

	"github.com/inaiurai/imagegen/internal/models"
)

// Users is the user store used for registration and login;
// repository.UserRepo implements it. GetByEmail returns pgx.ErrNoRows for an
// unknown address.
type Users interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}
