package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/service"
)

type registerRequest struct {
	Username         string `json:"username" binding:"required,min=3,max=150"`
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required,strongpassword"`
	PasswordConfirm  string `json:"password_confirm" binding:"required,eqfield=Password"`
	FirstName        string `json:"first_name" binding:"max=150"`
	LastName         string `json:"last_name" binding:"max=150"`
	RecoveryQuestion string `json:"recovery_question" binding:"required,recoveryquestion"`
	RecoveryAnswer   string `json:"recovery_answer" binding:"required,recoveryanswer"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), service.RegisterInput(req))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Registration successful. Please check your email for the verification code.",
		"user":    user,
	})
}

type verifyEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

func (h *Handler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.accounts.VerifyEmail(c.Request.Context(), req.Email, req.Code); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified."})
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	sent, err := h.accounts.ResendVerification(c.Request.Context(), req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !sent {
		c.JSON(http.StatusOK, gin.H{"message": "Email is already verified."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Verification code sent."})
}

type loginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	result, err := h.accounts.Login(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type passwordResetRequest struct {
	Email          string `json:"email" binding:"required,email"`
	RecoveryAnswer string `json:"recovery_answer" binding:"required"`
}

func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email, req.RecoveryAnswer); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password reset token sent to your email."})
}

type passwordResetConfirm struct {
	Token           string `json:"token" binding:"required"`
	Password        string `json:"password" binding:"required,strongpassword"`
	PasswordConfirm string `json:"password_confirm" binding:"required,eqfield=Password"`
}

func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req passwordResetConfirm
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.accounts.ConfirmPasswordReset(c.Request.Context(), req.Token, req.Password, req.PasswordConfirm); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset."})
}

func (h *Handler) Profile(c *gin.Context) {
	user, err := h.accounts.Profile(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	Password        string `json:"password" binding:"required,strongpassword"`
	PasswordConfirm string `json:"password_confirm" binding:"required,eqfield=Password"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	err := h.accounts.ChangePassword(c.Request.Context(), actor(c), req.CurrentPassword, req.Password, req.PasswordConfirm)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed."})
}

func (h *Handler) ListUsers(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.accounts.ListUsers(c.Request.Context(), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	return page, pageSize
}
