package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinic-queue-api/internal/dto"
	"github.com/noah-isme/clinic-queue-api/internal/models"
	"github.com/noah-isme/clinic-queue-api/internal/service"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
	"github.com/noah-isme/clinic-queue-api/pkg/response"
)

type queueService interface {
	Join(ctx context.Context, req dto.JoinQueueRequest, actorID string) (*models.QueueEntry, error)
	Get(ctx context.Context, id string) (*models.QueueEntry, error)
	Transition(ctx context.Context, id string, req dto.TransitionRequest, actorID string) (*models.QueueEntry, error)
	Boost(ctx context.Context, id string, req dto.BoostRequest, actorID string) (*models.QueueEntry, error)
	AppendNote(ctx context.Context, id string, req dto.NoteRequest, actorID string) (*models.QueueEntry, error)
	Rescan(ctx context.Context, providerID string) (int, error)
}

type snapshotQueries interface {
	ProviderSnapshot(ctx context.Context, providerID string) (*models.QueueSnapshot, error)
	LocationSnapshot(ctx context.Context, locationID string) (*models.QueueSnapshot, error)
}

type queueExporter interface {
	ExportProvider(ctx context.Context, providerID, format string) (*service.ExportResult, error)
}

// QueueHandler exposes queue mutations and snapshot queries.
type QueueHandler struct {
	queues    queueService
	snapshots snapshotQueries
	exporter  queueExporter
}

// NewQueueHandler builds a new handler.
func NewQueueHandler(queues queueService, snapshots snapshotQueries, exporter queueExporter) *QueueHandler {
	return &QueueHandler{queues: queues, snapshots: snapshots, exporter: exporter}
}

// Join godoc
// @Summary Check a patient into a provider queue
// @Tags Queue
// @Accept json
// @Produce json
// @Param payload body dto.JoinQueueRequest true "Join payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /queues/entries [post]
func (h *QueueHandler) Join(c *gin.Context) {
	var req dto.JoinQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}
	entry, err := h.queues.Join(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Get godoc
// @Summary Get queue entry
// @Tags Queue
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /queues/entries/{id} [get]
func (h *QueueHandler) Get(c *gin.Context) {
	entry, err := h.queues.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// Transition godoc
// @Summary Change the lifecycle status of an entry
// @Tags Queue
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body dto.TransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /queues/entries/{id}/transition [post]
func (h *QueueHandler) Transition(c *gin.Context) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}
	entry, err := h.queues.Transition(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// Boost godoc
// @Summary Manually raise a waiting entry's priority
// @Tags Queue
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body dto.BoostRequest false "Boost reason"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /queues/entries/{id}/boost [post]
func (h *QueueHandler) Boost(c *gin.Context) {
	var req dto.BoostRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid boost payload"))
			return
		}
	}
	entry, err := h.queues.Boost(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// AppendNote godoc
// @Summary Append an audit note
// @Tags Queue
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body dto.NoteRequest true "Note payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /queues/entries/{id}/notes [post]
func (h *QueueHandler) AppendNote(c *gin.Context) {
	var req dto.NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid note payload"))
		return
	}
	entry, err := h.queues.AppendNote(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// Rescan godoc
// @Summary Recompute every waiting entry's priority for a provider
// @Tags Queue
// @Produce json
// @Param providerId path string true "Provider ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /queues/providers/{providerId}/rescan [post]
func (h *QueueHandler) Rescan(c *gin.Context) {
	providerID := c.Param("providerId")
	rescored, err := h.queues.Rescan(c.Request.Context(), providerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RescanResponse{ProviderID: providerID, Rescored: rescored})
}

// ProviderSnapshot godoc
// @Summary Current ordered queue of a provider
// @Tags Queue
// @Produce json
// @Param providerId path string true "Provider ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /queues/providers/{providerId} [get]
func (h *QueueHandler) ProviderSnapshot(c *gin.Context) {
	snapshot, err := h.snapshots.ProviderSnapshot(c.Request.Context(), c.Param("providerId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot)
}

// LocationSnapshot godoc
// @Summary Current ordered queues of every provider at a location
// @Tags Queue
// @Produce json
// @Param locationId path string true "Location ID"
// @Success 200 {object} response.Envelope
// @Router /queues/locations/{locationId} [get]
func (h *QueueHandler) LocationSnapshot(c *gin.Context) {
	snapshot, err := h.snapshots.LocationSnapshot(c.Request.Context(), c.Param("locationId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot)
}

// Export godoc
// @Summary Export a provider's current queue
// @Tags Queue
// @Produce text/csv
// @Produce application/pdf
// @Param providerId path string true "Provider ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /queues/providers/{providerId}/export [get]
func (h *QueueHandler) Export(c *gin.Context) {
	result, err := h.exporter.ExportProvider(c.Request.Context(), c.Param("providerId"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Payload)
}
