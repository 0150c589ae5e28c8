// Package authapi - handlers.go implements the authentication endpoints:
// login, registration, logout, password change, and MFA enrollment.
package authapi

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/auth"
	"github.com/securelms/securelms/internal/db/models"
	"github.com/securelms/securelms/internal/middleware"
	"github.com/securelms/securelms/internal/policy"
)

// MinPasswordLength applies to registration and password changes.
const MinPasswordLength = 8

// UserStore is the subset of the user repository these handlers need.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetPendingMFASecret(ctx context.Context, userID, secret string) error
	ActivateMFA(ctx context.Context, userID string) error
}

// Recorder is the audit sink.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// Handlers bundles the authentication endpoints.
type Handlers struct {
	guard      *auth.Guard
	users      UserStore
	hasher     *auth.Hasher
	mfa        *auth.MFA
	recorder   Recorder
	sessionTTL time.Duration
}

// NewHandlers creates the authentication handler set.
func NewHandlers(guard *auth.Guard, users UserStore, hasher *auth.Hasher, mfa *auth.MFA, recorder Recorder, sessionTTL time.Duration) *Handlers {
	if sessionTTL <= 0 {
		sessionTTL = auth.DefaultSessionTTL
	}
	return &Handlers{
		guard:      guard,
		users:      users,
		hasher:     hasher,
		mfa:        mfa,
		recorder:   recorder,
		sessionTTL: sessionTTL,
	}
}

// LoginRequest is the login payload. OTP is only consulted for accounts
// with MFA enabled.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	OTP      string `json:"otp"`
}

// @Summary      Log in
// @Description  Authenticate with email and password, plus a one-time code when MFA is enabled. Returns a bearer session token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "token, user"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials or MFA required (code: mfa_required)"
// @Failure      423  {object}  map[string]interface{}  "Account temporarily locked"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates a user and issues a session token
// POST /api/v1/auth/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		id, err := h.guard.Login(c.Request.Context(), auth.LoginInput{
			Email:     req.Email,
			Password:  req.Password,
			OTP:       req.OTP,
			IPAddress: c.ClientIP(),
		})
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidInput):
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid request",
				})
			case errors.Is(err, auth.ErrAccountLocked):
				c.JSON(http.StatusLocked, gin.H{
					"error": "Account temporarily locked. Try again later.",
					"code":  "account_locked",
				})
			case errors.Is(err, auth.ErrMFARequired):
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "One-time code required",
					"code":  "mfa_required",
				})
			default:
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid email or password",
				})
			}
			return
		}

		token, err := auth.GenerateSessionToken(*id, h.sessionTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create session",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user": gin.H{
				"id":         id.UserID,
				"email":      id.Email,
				"role":       id.Role,
				"clearance":  id.Clearance,
				"department": id.Department,
			},
		})
	}
}

// RegisterRequest creates a self-service account. Role and clearance are
// fixed server-side: self-registration never assigns privileges.
type RegisterRequest struct {
	Email      string  `json:"email" binding:"required"`
	Password   string  `json:"password" binding:"required"`
	Department *string `json:"department"`
}

// @Summary      Register
// @Description  Create a student account with PUBLIC clearance. Privileged roles are provisioned by administrators, never through this endpoint.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "Registration request"
// @Success      201  {object}  map[string]interface{}  "user"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/v1/auth/register [post]
// RegisterHandler creates a new student account
// POST /api/v1/auth/register
func (h *Handlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid email address",
			})
			return
		}
		if len(req.Password) < MinPasswordLength {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Password must be at least 8 characters",
			})
			return
		}

		existing, err := h.users.GetByEmail(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check existing user",
			})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Email already registered",
			})
			return
		}

		hash, err := h.hasher.Hash(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create account",
			})
			return
		}

		user := &models.User{
			Email:          email,
			PasswordHash:   hash,
			Role:           string(policy.RoleStudent),
			ClearanceLevel: string(policy.LevelPublic),
			Department:     req.Department,
		}
		if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create account",
			})
			return
		}

		h.recorder.Record(c.Request.Context(), audit.Event{
			UserID:    user.ID,
			Action:    audit.ActionUserRegistered,
			Status:    models.AuditStatusSuccess,
			IPAddress: c.ClientIP(),
		})

		c.JSON(http.StatusCreated, gin.H{
			"user": gin.H{
				"id":    user.ID,
				"email": user.Email,
				"role":  user.Role,
			},
		})
	}
}

// @Summary      Log out
// @Description  Record a logout event for the authenticated session. Tokens are stateless; the client discards its copy.
// @Tags         Auth
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/auth/logout [post]
// LogoutHandler records a logout audit event
// POST /api/v1/auth/logout
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		h.recorder.Record(c.Request.Context(), audit.Event{
			UserID:    id.UserID,
			Action:    audit.ActionLogout,
			Status:    models.AuditStatusSuccess,
			IPAddress: c.ClientIP(),
		})

		c.JSON(http.StatusOK, gin.H{
			"message": "Logged out",
		})
	}
}

// ChangePasswordRequest proves control of the account with the current
// password before accepting a new one.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// @Summary      Change password
// @Description  Replace the account password. Requires the current password; resets any pending lockout state.
// @Tags         Auth
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ChangePasswordRequest  true  "Password change request"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Current password incorrect"
// @Router       /api/v1/auth/password [put]
// ChangePasswordHandler replaces the caller's password
// PUT /api/v1/auth/password
func (h *Handlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		var req ChangePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
		if len(req.NewPassword) < MinPasswordLength {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Password must be at least 8 characters",
			})
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), id.UserID)
		if err != nil || user == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve account",
			})
			return
		}

		if err := h.hasher.Verify(req.CurrentPassword, user.PasswordHash); err != nil {
			h.recorder.Record(c.Request.Context(), audit.Event{
				UserID:    id.UserID,
				Action:    audit.ActionPasswordChanged,
				Status:    models.AuditStatusFailure,
				IPAddress: c.ClientIP(),
				Details:   "current password incorrect",
			})
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Current password is incorrect",
			})
			return
		}

		hash, err := h.hasher.Hash(req.NewPassword)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update password",
			})
			return
		}
		if err := h.users.UpdatePassword(c.Request.Context(), id.UserID, hash); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update password",
			})
			return
		}

		h.recorder.Record(c.Request.Context(), audit.Event{
			UserID:    id.UserID,
			Action:    audit.ActionPasswordChanged,
			Status:    models.AuditStatusSuccess,
			IPAddress: c.ClientIP(),
		})

		c.JSON(http.StatusOK, gin.H{
			"message": "Password updated",
		})
	}
}

// @Summary      Enroll MFA
// @Description  Generate a TOTP secret and provisioning URI. The secret stays pending until activated with a valid code.
// @Tags         Auth
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "secret, provisioning_uri"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/auth/mfa/enroll [post]
// EnrollMFAHandler generates and stores a pending TOTP secret
// POST /api/v1/auth/mfa/enroll
func (h *Handlers) EnrollMFAHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		enrollment, err := h.mfa.GenerateSecret(id.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate MFA secret",
			})
			return
		}
		if err := h.users.SetPendingMFASecret(c.Request.Context(), id.UserID, enrollment.Secret); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to store MFA secret",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"secret":           enrollment.Secret,
			"provisioning_uri": enrollment.ProvisioningURI,
		})
	}
}

// ActivateMFARequest confirms enrollment with a code from the enrolled
// authenticator.
type ActivateMFARequest struct {
	OTP string `json:"otp" binding:"required"`
}

// @Summary      Activate MFA
// @Description  Verify a code against the pending secret and enable MFA for the account.
// @Tags         Auth
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ActivateMFARequest  true  "Activation request"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "No pending enrollment or invalid code"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/auth/mfa/activate [post]
// ActivateMFAHandler verifies a code and flips MFA on
// POST /api/v1/auth/mfa/activate
func (h *Handlers) ActivateMFAHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		var req ActivateMFARequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), id.UserID)
		if err != nil || user == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve account",
			})
			return
		}
		if user.MFASecret == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "No pending MFA enrollment",
			})
			return
		}
		if !h.mfa.VerifyCode(req.OTP, *user.MFASecret) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid one-time code",
			})
			return
		}

		if err := h.users.ActivateMFA(c.Request.Context(), id.UserID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to activate MFA",
			})
			return
		}

		h.recorder.Record(c.Request.Context(), audit.Event{
			UserID:    id.UserID,
			Action:    audit.ActionMFAEnrolled,
			Status:    models.AuditStatusSuccess,
			IPAddress: c.ClientIP(),
		})

		c.JSON(http.StatusOK, gin.H{
			"message": "MFA enabled",
		})
	}
}
