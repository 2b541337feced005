package handlers

import (
	"errors"
	"net/http"
	"strings"

	"facewatch/internal/api/middleware"
	"facewatch/internal/core/models"
	"facewatch/internal/db/repository"
	"facewatch/internal/security"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerUserRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	user, err := h.repo.GetUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.WithError(err).Error("Failed to load user")
		}
		respondError(c, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if !security.CheckPassword(user.HashedPassword, req.Password) {
		log.WithField("email", user.Email).Warn("Failed login attempt")
		respondError(c, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	if err := middleware.Login(c, user); err != nil {
		log.WithError(err).Error("Failed to save session")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}
	log.WithField("email", user.Email).Info("User logged in")
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) handleLogout(c *gin.Context) {
	if err := middleware.Logout(c); err != nil {
		log.WithError(err).Warn("Failed to clear session")
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// handleRegisterUser legt ein Benutzerkonto an (nur Admin)
func (h *Handler) handleRegisterUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleViewer
	}
	if !middleware.ValidRole(req.Role) {
		respondError(c, http.StatusBadRequest, "invalid_role")
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := h.repo.GetUserByEmail(ctx, email); err == nil {
		respondError(c, http.StatusConflict, "user_exists")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.WithError(err).Error("Failed to check existing user")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			respondError(c, http.StatusBadRequest, "password_too_short")
			return
		}
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	user := models.User{Email: email, HashedPassword: hash, Role: req.Role}
	if err := h.repo.CreateUser(ctx, &user); err != nil {
		log.WithError(err).Error("Failed to create user")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	log.WithFields(log.Fields{"email": user.Email, "role": user.Role}).Info("User created")
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *Handler) handleMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "language": middleware.Language(c)})
}
