package users

import (
	"context"

	"github.com/seitanmen/QuickMessenger/internal/server/models"
)

// Repository is the durable store of user records. The file-backed
// implementation rewrites its whole state on every mutation; the interface
// isolates that choice from the registration logic.
type Repository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
}
