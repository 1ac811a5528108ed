package auth

import (
	"context"
	"time"

	"github.com/streamtube/streamtube/internal/database"
)

// User is the sanitized projection of a user record. The password hash and
// refresh token never leave the database layer through this type, so no
// response can serialize them.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullName"`
	Avatar     string    `json:"avatar"`
	CoverImage string    `json:"coverImage,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const sanitizedColumns = `id, username, email, full_name, avatar, cover_image, created_at, updated_at`

func fetchUserByID(ctx context.Context, db database.DBTX, id string) (*User, error) {
	var u User
	err := db.QueryRow(ctx,
		`SELECT `+sanitizedColumns+` FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Avatar, &u.CoverImage, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type contextKey string

const userKey contextKey = "user"

func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the authenticated user, or nil on anonymous
// requests.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}
