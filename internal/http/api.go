package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"otp-auth/internal/domain"
	"otp-auth/internal/service"
)

// Handler wires HTTP routes to the auth service.
type Handler struct {
	auth       service.AuthService
	guard      *service.AccessGuard
	corsOrigin string
	logger     logrus.FieldLogger
}

func NewHandler(auth service.AuthService, guard *service.AccessGuard, corsOrigin string, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	registerValidators()
	return &Handler{
		auth:       auth,
		guard:      guard,
		corsOrigin: corsOrigin,
		logger:     logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestLogger(h.logger), corsMiddleware(h.corsOrigin))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, envelope{Success: true, Message: "ok"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{Message: "Route not found"})
	})

	api := router.Group("/api/auth")
	{
		api.POST("/signup", h.signup)
		api.POST("/verify-otp", h.verifyOTP)
		api.POST("/resend-otp", h.resendOTP)
		api.POST("/login", h.login)
		api.POST("/refresh-token", h.refreshToken)

		protected := api.Group("", Authenticate(h.guard))
		protected.POST("/logout", h.logout)
		protected.GET("/profile", h.profile)
		protected.GET("/admin-only", Authorize(h.guard, domain.RoleAdmin), h.adminOnly)
	}
}

type envelope struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

type signupRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,strongpassword"`
	Role     string `json:"role" binding:"omitempty,oneof=user admin"`
	AdminKey string `json:"adminKey"`
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,len=6,number"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	IsVerified *bool      `json:"isVerified,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.auth.Signup(c.Request.Context(), service.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		AdminKey: req.AdminKey,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, envelope{
		Success: true,
		Message: "Signup successful. Please check your email for OTP verification.",
		Data: gin.H{
			"userId": user.ID,
			"email":  user.Email,
			"name":   user.Name,
			"role":   user.Role,
		},
	})
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.auth.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: "Email verified successfully. You can now login.",
		Data: gin.H{
			"userId":     user.ID,
			"email":      user.Email,
			"isVerified": user.IsVerified,
		},
	})
}

func (h *Handler) resendOTP(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.auth.ResendOTP(c.Request.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrDeliveryFailed) {
			h.logger.Warnf("resend otp: %v", err)
			c.JSON(http.StatusBadGateway, envelope{Message: "Failed to send verification email. Please try again."})
			return
		}
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{Success: true, Message: "OTP resent successfully. Please check your email."})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: "Login successful",
		Data: gin.H{
			"user":         userResponse{ID: res.User.ID, Name: res.User.Name, Email: res.User.Email, Role: res.User.Role.String()},
			"accessToken":  res.AccessToken,
			"refreshToken": res.RefreshToken,
		},
	})
}

func (h *Handler) refreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, envelope{Message: "Refresh token is required"})
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{Success: true, Message: "Token refreshed successfully", Data: pair})
}

func (h *Handler) logout(c *gin.Context) {
	p, _ := PrincipalFromContext(c.Request.Context())
	if err := h.auth.Logout(c.Request.Context(), p.UserID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Message: "Logout successful"})
}

func (h *Handler) profile(c *gin.Context) {
	p, _ := PrincipalFromContext(c.Request.Context())
	user, err := h.auth.GetProfile(c.Request.Context(), p.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	verified := user.IsVerified
	created := user.CreatedAt
	c.JSON(http.StatusOK, envelope{
		Success: true,
		Data: gin.H{"user": userResponse{
			ID:         user.ID,
			Name:       user.Name,
			Email:      user.Email,
			Role:       user.Role.String(),
			IsVerified: &verified,
			CreatedAt:  &created,
		}},
	})
}

func (h *Handler) adminOnly(c *gin.Context) {
	p, _ := principalFrom(c)
	c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: "Welcome Admin!",
		Data:    gin.H{"userId": p.UserID, "role": p.Role},
	})
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Message: "Validation failed", Errors: validationMessages(err)})
		return false
	}
	return true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, envelope{Message: msg})
}

func abortWithError(c *gin.Context, err error) {
	status, msg := classify(err)
	c.AbortWithStatusJSON(status, envelope{Message: msg})
}

// classify maps service errors onto a status code and client-safe message.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrUserAlreadyExists):
		return http.StatusConflict, "Email already registered"
	case errors.Is(err, service.ErrInvalidAdminKey):
		return http.StatusForbidden, "Invalid admin secret key"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, service.ErrNotVerified):
		return http.StatusForbidden, "Please verify your email before logging in"
	case errors.Is(err, service.ErrAlreadyVerified):
		return http.StatusBadRequest, "Email already verified"
	case errors.Is(err, service.ErrInvalidOTP):
		return http.StatusBadRequest, "Invalid or expired OTP"
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid or expired refresh token"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrDeliveryFailed):
		return http.StatusInternalServerError, "Failed to send verification email. Please try again."
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
