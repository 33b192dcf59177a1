package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/monateaches/assessment/internal/i18n"
	"github.com/monateaches/assessment/internal/model"
)

// AdminUsername is the account checked by the admin password login.
const AdminUsername = "admin"

const (
	tokenIssuer = "assessment"
	tokenTTL    = 8 * time.Hour
)

// AuthService issues and verifies admin bearer tokens.
type AuthService struct {
	hmac []byte
	now  func() time.Time
}

// NewAuthService creates an HS256 token service keyed by secret.
func NewAuthService(secret string) (*AuthService, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	return &AuthService{hmac: []byte(secret), now: time.Now}, nil
}

// Claims are the JWT claims of an admin token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueJWT signs a token for sub with role.
func (a *AuthService) IssueJWT(sub string, role model.UserRole) (string, error) {
	now := a.now()
	claims := &Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

// Parse verifies tokenStr and returns its claims.
func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.hmac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return c, nil
}

type adminAuthRequest struct {
	Password string `json:"password"`
}

type adminAuthResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

func (h *Handler) handleAdminAuth(w http.ResponseWriter, r *http.Request) {
	var req adminAuthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}

	ok, err := h.checkAdminPassword(req.Password)
	if err != nil {
		slog.Error("failed to check admin password", "error", err)
		writeMessage(w, http.StatusInternalServerError, appI18n.T(r.Context(), "InternalError"))
		return
	}
	if !ok {
		slog.Warn("admin login failed", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, adminAuthResponse{Message: appI18n.T(r.Context(), "LoginError")})
		return
	}

	token, err := h.auth.IssueJWT(AdminUsername, model.UserRoleAdmin)
	if err != nil {
		slog.Error("failed to issue admin token", "error", err)
		writeMessage(w, http.StatusInternalServerError, appI18n.T(r.Context(), "InternalError"))
		return
	}
	slog.Info("admin logged in", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, adminAuthResponse{
		Success: true,
		Message: appI18n.T(r.Context(), "LoginSuccess"),
		Token:   token,
	})
}

// checkAdminPassword compares password with the stored admin hash. A missing
// admin account rejects every password.
func (h *Handler) checkAdminPassword(password string) (bool, error) {
	if password == "" {
		return false, nil
	}
	user, err := h.store.GetUserByUsername(AdminUsername)
	if err != nil {
		return false, err
	}
	if user == nil || user.Role != model.UserRoleAdmin {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil, nil
}

// requireAdmin accepts a bearer JWT from admin-auth, or the raw admin
// password as older clients send it.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeMessage(w, http.StatusUnauthorized, appI18n.T(r.Context(), "Unauthorized"))
			return
		}
		bearer := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		if claims, err := h.auth.Parse(bearer); err == nil {
			if claims.Role != string(model.UserRoleAdmin) {
				writeMessage(w, http.StatusUnauthorized, appI18n.T(r.Context(), "Unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(model.ContextWithAdmin(r.Context(), claims.Subject)))
			return
		}

		ok, err := h.checkAdminPassword(bearer)
		if err != nil {
			slog.Error("failed to check admin password", "error", err)
		}
		if !ok {
			writeMessage(w, http.StatusUnauthorized, appI18n.T(r.Context(), "Unauthorized"))
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithAdmin(r.Context(), AdminUsername)))
	})
}
