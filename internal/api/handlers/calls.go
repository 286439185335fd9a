package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/queue"
	"github.com/acme/voice-campaign-dispatcher/internal/service/common"
)

type callResponse struct {
	ID              uuid.UUID         `json:"id"`
	CampaignID      uuid.UUID         `json:"campaign_id"`
	LeadID          uuid.UUID         `json:"lead_id"`
	ExternalCallID  string            `json:"external_call_id,omitempty"`
	Status          domain.CallStatus `json:"status"`
	DurationSeconds int               `json:"duration_seconds"`
	Connected       bool              `json:"connected"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	RecordingURL    *string           `json:"recording_url,omitempty"`
}

type listCallsResponse struct {
	Calls    []callResponse `json:"calls"`
	NextPage string         `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	record, err := h.container.Repositories().CallStore.GetCall(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(record))
}

// stopCall asks the provider to terminate an in-flight call. The resulting
// terminal status arrives through the normal status sync path.
func (h *HandlerSet) stopCall(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	record, err := h.container.Repositories().CallStore.GetCall(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	if record.Status.Terminal() {
		return fiber.NewError(http.StatusConflict, "call already ended")
	}
	if record.ExternalCallID == "" {
		return fiber.NewError(http.StatusConflict, "call has no provider execution")
	}

	if err := h.container.Providers().Telephony.StopCall(ctx.Context(), record.ExternalCallID); err != nil {
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusAccepted)
}

func (h *HandlerSet) listCampaignCalls(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	var paging []byte
	if token := ctx.Query("page_token", ""); token != "" {
		paging, err = common.DecodePagingToken(token)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid page token")
		}
	}

	calls, next, err := h.container.Repositories().CallStore.ListCallsByCampaign(ctx.Context(), id, limit, paging)
	if err != nil {
		return translateError(err)
	}

	resp := listCallsResponse{Calls: make([]callResponse, 0, len(calls))}
	for i := range calls {
		resp.Calls = append(resp.Calls, toCallResponse(&calls[i]))
	}
	if len(next) > 0 {
		resp.NextPage = common.EncodePagingToken(next)
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

type providerStatusRequest struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	CampaignID  string `json:"campaign_id"`
	Correlation struct {
		CallID      string `json:"call_id"`
		QueueItemID string `json:"queue_item_id"`
	} `json:"correlation"`
	OccurredAt *time.Time `json:"occurred_at"`
}

// providerStatus accepts the provider's status callback and forwards it to
// the sync pipeline. The webhook only validates correlation ids and
// enqueues; all interpretation happens in the sync worker.
func (h *HandlerSet) providerStatus(ctx *fiber.Ctx) error {
	var req providerStatusRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.ExecutionID == "" {
		return fiber.NewError(http.StatusBadRequest, "execution_id is required")
	}

	callID, err := uuid.Parse(req.Correlation.CallID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid correlation call_id")
	}
	queueItemID, err := uuid.Parse(req.Correlation.QueueItemID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid correlation queue_item_id")
	}
	var campaignID uuid.UUID
	if req.CampaignID != "" {
		campaignID, _ = uuid.Parse(req.CampaignID)
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	event := queue.StatusEvent{
		ExecutionID: req.ExecutionID,
		CallID:      callID,
		QueueItemID: queueItemID,
		CampaignID:  campaignID,
		RawStatus:   req.Status,
		OccurredAt:  occurredAt,
	}
	if err := h.container.Publishers().Status.PublishStatus(ctx.Context(), event); err != nil {
		h.container.Logger.Error("provider status: publish", zap.Error(err))
		return fiber.NewError(http.StatusServiceUnavailable, "status pipeline unavailable")
	}

	return ctx.SendStatus(http.StatusAccepted)
}

func toCallResponse(call *domain.Call) callResponse {
	return callResponse{
		ID:              call.ID,
		CampaignID:      call.CampaignID,
		LeadID:          call.LeadID,
		ExternalCallID:  call.ExternalCallID,
		Status:          call.Status,
		DurationSeconds: call.DurationSeconds,
		Connected:       call.Connected,
		StartedAt:       call.StartedAt,
		EndedAt:         call.EndedAt,
		RecordingURL:    call.RecordingURL,
	}
}
