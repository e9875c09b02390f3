package users

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the user actions over HTTP.
type Handler struct {
	service Service
}

// NewHandler creates the user-management handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// List handles GET /api/users.
func (h *Handler) List(c *gin.Context) {
	out := h.service.List(c.Request.Context())
	if !out.OK() {
		c.JSON(http.StatusBadGateway, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": out.Data})
}

// Get handles GET /api/users/:id.
func (h *Handler) Get(c *gin.Context) {
	out := h.service.Get(c.Request.Context(), c.Param("id"))
	if !out.OK() {
		c.JSON(http.StatusNotFound, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": out.Data})
}

// Create handles POST /api/users.
func (h *Handler) Create(c *gin.Context) {
	var in CreateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out := h.service.Create(c.Request.Context(), in)
	if !out.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": out.Success})
}

// Update handles PATCH /api/users/:id.
func (h *Handler) Update(c *gin.Context) {
	var in UpdateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out := h.service.Update(c.Request.Context(), c.Param("id"), in)
	if !out.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success})
}

// Delete handles DELETE /api/users/:id.
func (h *Handler) Delete(c *gin.Context) {
	out := h.service.Delete(c.Request.Context(), c.Param("id"))
	if !out.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success})
}

// Activate handles POST /api/users/:id/activate.
func (h *Handler) Activate(c *gin.Context) {
	out := h.service.Activate(c.Request.Context(), c.Param("id"))
	if !out.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success})
}

// Deactivate handles POST /api/users/:id/deactivate.
func (h *Handler) Deactivate(c *gin.Context) {
	out := h.service.Deactivate(c.Request.Context(), c.Param("id"))
	if !out.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success})
}

// UploadProfileImage handles POST /api/users/:id/profile-image.
func (h *Handler) UploadProfileImage(c *gin.Context) {
	fileHeader, err := c.FormFile("profile_img")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profile_img file is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return
	}
	defer file.Close()

	out := h.service.UploadProfileImage(
		c.Request.Context(),
		c.Param("id"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if !out.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success})
}

// RequestEmailVerification handles POST /request-email-verification.
func (h *Handler) RequestEmailVerification(c *gin.Context) {
	var req EmailVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out := h.service.RequestEmailVerification(c.Request.Context(), req.Email)
	if !out.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success})
}

// VerifyEmail handles GET /verify-email.
func (h *Handler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	out := h.service.VerifyEmail(c.Request.Context(), token, c.Query("expiry"))
	if !out.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"error": out.Err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success})
}
