package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"foodglow-backend/internal/apperrors"
	"foodglow-backend/internal/middleware"
	"foodglow-backend/internal/models"
	"foodglow-backend/internal/services"
)

// multipartOverhead leaves room for boundaries and the other form fields.
const multipartOverhead = 1 << 20

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

type JobRunner interface {
	RunJob(ctx context.Context, id models.Identity, image []byte, filename string) (*models.JobResult, error)
}

type JobsHandler struct {
	jobs           JobRunner
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewJobsHandler(jobs JobRunner, maxUploadBytes int64, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		jobs:           jobs,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// CreateJob godoc
// @Summary     Enhance a food photo
// @Description Runs one enhancement job and spends one unit of credit: the trial of trial_email, or one credit of the signed-in account.
// @Description
// @Description If the provider fails the original image is returned with degraded=true.
// @Description Pass format=binary to receive the image bytes instead of JSON.
// @Tags        jobs
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       image formData file true "JPEG, PNG or WEBP photo"
// @Param       trial_email formData string false "Email of a claimed trial (anonymous callers)"
// @Param       format query string false "json (default) or binary"
// @Success     200 {object} models.JobResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     402 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     413 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Failure     504 {object} models.ErrorResponse
// @Router      /jobs [post]
func (h *JobsHandler) CreateJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	image, filename, err := h.readImage(c)
	if err != nil {
		respondError(c, err)
		return
	}

	id, err := identityFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.jobs.RunJob(c.Request.Context(), id, image, filename)
	if err != nil {
		h.logger.Info("job rejected", "identity", id.String(), "kind", apperrors.KindOf(err), "error", err)
		respondError(c, err)
		return
	}

	c.Header("X-Job-ID", result.JobID.String())
	if c.Query("format") == "binary" {
		c.Header("X-Enhancement-Degraded", strconv.FormatBool(result.Degraded))
		c.Header("X-Credit-Billed", strconv.FormatBool(result.Billed))
		c.Data(http.StatusOK, result.MimeType, result.Image)
		return
	}

	resp := models.JobResponse{
		JobID:     result.JobID.String(),
		Status:    string(result.Status),
		Degraded:  result.Degraded,
		Billed:    result.Billed,
		ResultURL: result.ResultURL,
		Image: models.ImagePayload{
			B64JSON:  base64.StdEncoding.EncodeToString(result.Image),
			MimeType: result.MimeType,
		},
	}
	if result.Degraded {
		resp.Warning = "enhancement unavailable, the original image was returned"
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobsHandler) readImage(c *gin.Context) ([]byte, string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, "", &apperrors.Error{Kind: apperrors.KindValidation, Message: "upload is too large", Err: err}
		}
		return nil, "", apperrors.Validation("a multipart form with an image file is required")
	}

	files := form.File["image"]
	switch {
	case len(files) == 0:
		return nil, "", apperrors.Validation("image file is required")
	case len(files) > 1:
		return nil, "", apperrors.Validation("exactly one image per job")
	}

	fh := files[0]
	if fh.Size > h.maxUploadBytes {
		return nil, "", &apperrors.Error{
			Kind:    apperrors.KindValidation,
			Message: "upload is too large",
			Err:     &http.MaxBytesError{Limit: h.maxUploadBytes},
		}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}
	if len(data) == 0 {
		return nil, "", apperrors.Validation("image file is empty")
	}

	if mt := mimetype.Detect(data); !mimetype.EqualsAny(mt.String(), allowedImageTypes...) {
		return nil, "", apperrors.Validation("unsupported image type %s, use JPEG, PNG or WEBP", mt.String())
	}

	return data, fh.Filename, nil
}

// identityFrom prefers the signed-in account; anonymous callers name a
// claimed trial by email.
func identityFrom(c *gin.Context) (models.Identity, error) {
	if userID := c.GetString(middleware.UserIDKey); userID != "" {
		return models.AccountIdentity(userID), nil
	}

	email := strings.TrimSpace(c.PostForm("trial_email"))
	if email == "" {
		return models.Identity{}, apperrors.Validation("sign in or provide trial_email")
	}
	if err := services.ValidateEmail(email); err != nil {
		return models.Identity{}, err
	}
	return models.TrialIdentity(email), nil
}
