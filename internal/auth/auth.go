package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/streamtube/streamtube/internal/database"
	"github.com/streamtube/streamtube/internal/httputil"
	"github.com/streamtube/streamtube/internal/storage"
	"github.com/streamtube/streamtube/internal/validate"
	"golang.org/x/crypto/bcrypt"
)

const maxImageFormMemory = 32 << 20

// MediaStorage is the slice of the media gateway the account handlers need.
// *storage.Storage satisfies it; tests substitute a fake.
type MediaStorage interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
}

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SecureCookies bool
}

type Handler struct {
	db            database.DBTX
	storage       MediaStorage
	accessSecret  string
	refreshSecret string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	secureCookies bool
}

func NewHandler(db database.DBTX, store MediaStorage, cfg Config) *Handler {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	return &Handler{
		db:            db,
		storage:       store,
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		secureCookies: cfg.SecureCookies,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateAccountRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImageFormMemory); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	fullName := strings.TrimSpace(r.FormValue("fullName"))
	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	username := strings.ToLower(strings.TrimSpace(r.FormValue("username")))
	password := r.FormValue("password")

	if fullName == "" || email == "" || username == "" || strings.TrimSpace(password) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "fullName, email, username, and password are required")
		return
	}
	for _, msg := range []string{
		validate.FullName(fullName),
		validate.Email(email),
		validate.Username(username),
		validate.Password(password),
	} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	var exists bool
	err := h.db.QueryRow(r.Context(),
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 OR username = $2)`,
		email, username,
	).Scan(&exists)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to check existing users")
		return
	}
	if exists {
		httputil.WriteError(w, http.StatusConflict, "user with this email or username already exists")
		return
	}

	avatarFile, avatarHeader, err := r.FormFile("avatar")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "avatar image is required")
		return
	}
	defer func() { _ = avatarFile.Close() }()

	avatarURL, err := h.storage.Upload(r.Context(),
		storage.NewKey("avatars", avatarHeader.Filename),
		formContentType(avatarHeader), avatarFile, avatarHeader.Size)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to upload avatar image")
		return
	}

	coverURL := ""
	if coverFile, coverHeader, err := r.FormFile("coverImage"); err == nil {
		defer func() { _ = coverFile.Close() }()
		coverURL, err = h.storage.Upload(r.Context(),
			storage.NewKey("covers", coverHeader.Filename),
			formContentType(coverHeader), coverFile, coverHeader.Size)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to upload cover image")
			return
		}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	var user User
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO users (username, email, full_name, password, avatar, cover_image)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+sanitizedColumns,
		username, email, fullName, string(hashedPassword), avatarURL, coverURL,
	).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Avatar, &user.CoverImage, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			httputil.WriteError(w, http.StatusConflict, "user with this email or username already exists")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	httputil.WriteData(w, http.StatusCreated, &user, "user registered successfully")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if email == "" || username == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email, username, and password are required")
		return
	}

	var user User
	var hashedPassword string
	err := h.db.QueryRow(r.Context(),
		`SELECT `+sanitizedColumns+`, password FROM users WHERE email = $1 OR username = $2`,
		email, username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Avatar, &user.CoverImage, &user.CreatedAt, &user.UpdatedAt, &hashedPassword)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "user not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to look up user")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := h.issueSession(r, &user)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setAuthCookies(w, accessToken, refreshToken)
	httputil.WriteData(w, http.StatusOK, sessionResponse{
		User:         &user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, "user logged in successfully")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	if _, err := h.db.Exec(r.Context(),
		`UPDATE users SET refresh_token = NULL, updated_at = now() WHERE id = $1`,
		user.ID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to log out")
		return
	}

	h.clearAuthCookies(w)
	httputil.WriteData(w, http.StatusOK, nil, "user logged out successfully")
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	presented := extractRefreshToken(r)
	if presented == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "refresh token required")
		return
	}

	claims, err := ValidateRefreshToken(h.refreshSecret, presented)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	var user User
	var stored *string
	err = h.db.QueryRow(r.Context(),
		`SELECT `+sanitizedColumns+`, refresh_token FROM users WHERE id = $1`,
		claims.UserID,
	).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Avatar, &user.CoverImage, &user.CreatedAt, &user.UpdatedAt, &stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to look up user")
		return
	}

	// Single active token per user: anything but an exact match of the
	// currently stored value has been superseded and stays invalid.
	if stored == nil || *stored != presented {
		httputil.WriteError(w, http.StatusUnauthorized, "refresh token has been superseded")
		return
	}

	accessToken, refreshToken, err := h.issueSession(r, &user)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}

	h.setAuthCookies(w, accessToken, refreshToken)
	httputil.WriteData(w, http.StatusOK, sessionResponse{
		User:         &user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, "session refreshed successfully")
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		httputil.WriteError(w, http.StatusBadRequest, "oldPassword and newPassword are required")
		return
	}
	if msg := validate.Password(req.NewPassword); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var hashedPassword string
	err := h.db.QueryRow(r.Context(),
		`SELECT password FROM users WHERE id = $1`, user.ID,
	).Scan(&hashedPassword)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "user not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to look up user")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.OldPassword)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "incorrect old password")
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE users SET password = $1, updated_at = now() WHERE id = $2`,
		string(newHash), user.ID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to change password")
		return
	}

	httputil.WriteData(w, http.StatusOK, nil, "password changed successfully")
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, UserFromContext(r.Context()), "current user fetched successfully")
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fullName := strings.TrimSpace(req.FullName)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if fullName == "" || email == "" {
		httputil.WriteError(w, http.StatusBadRequest, "fullName and email are required")
		return
	}
	for _, msg := range []string{validate.FullName(fullName), validate.Email(email)} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	var updated User
	err := h.db.QueryRow(r.Context(),
		`UPDATE users SET full_name = $1, email = $2, updated_at = now() WHERE id = $3
		 RETURNING `+sanitizedColumns,
		fullName, email, user.ID,
	).Scan(&updated.ID, &updated.Username, &updated.Email, &updated.FullName, &updated.Avatar, &updated.CoverImage, &updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			httputil.WriteError(w, http.StatusConflict, "email already in use")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update account")
		return
	}

	httputil.WriteData(w, http.StatusOK, &updated, "account updated successfully")
}

func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "avatar", "avatars", "avatar")
}

func (h *Handler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "coverImage", "covers", "cover_image")
}

func (h *Handler) updateImage(w http.ResponseWriter, r *http.Request, field, prefix, column string) {
	user := UserFromContext(r.Context())

	if err := r.ParseMultipartForm(maxImageFormMemory); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, field+" file is required")
		return
	}
	defer func() { _ = file.Close() }()

	url, err := h.storage.Upload(r.Context(),
		storage.NewKey(prefix, header.Filename),
		formContentType(header), file, header.Size)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to upload "+field)
		return
	}

	var updated User
	err = h.db.QueryRow(r.Context(),
		`UPDATE users SET `+column+` = $1, updated_at = now() WHERE id = $2
		 RETURNING `+sanitizedColumns,
		url, user.ID,
	).Scan(&updated.ID, &updated.Username, &updated.Email, &updated.FullName, &updated.Avatar, &updated.CoverImage, &updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update "+field)
		return
	}

	httputil.WriteData(w, http.StatusOK, &updated, field+" updated successfully")
}

func (h *Handler) issueSession(r *http.Request, user *User) (accessToken, refreshToken string, err error) {
	accessToken, err = GenerateAccessToken(h.accessSecret, h.accessTTL, user)
	if err != nil {
		return "", "", err
	}

	refreshToken, err = GenerateRefreshToken(h.refreshSecret, h.refreshTTL, user.ID)
	if err != nil {
		return "", "", err
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE users SET refresh_token = $1, updated_at = now() WHERE id = $2`,
		refreshToken, user.ID,
	); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "accessToken",
		Value:    accessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.accessTTL / time.Second),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    refreshToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.refreshTTL / time.Second),
	})
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{"accessToken", "refreshToken"} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   -1,
		})
	}
}

func formContentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func extractRefreshToken(r *http.Request) string {
	if cookie, err := r.Cookie("refreshToken"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if r.Body != nil {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.RefreshToken != "" {
			return body.RefreshToken
		}
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return token
		}
	}
	return ""
}
