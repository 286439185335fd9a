package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	campaignsvc "github.com/acme/voice-campaign-dispatcher/internal/service/campaign"
	apperrors "github.com/acme/voice-campaign-dispatcher/pkg/errors"
)

type createCampaignRequest struct {
	ClientID         string                 `json:"client_id"`
	AgentID          string                 `json:"agent_id"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	TimeZone         string                 `json:"time_zone"`
	ConcurrencyLevel int                    `json:"concurrency_level"`
	RetryPolicy      *retryPolicyRequest    `json:"retry_policy"`
	CallingWindows   []callingWindowRequest `json:"calling_windows"`
}

type retryPolicyRequest struct {
	RetryDelay      string `json:"retry_delay"`
	MaxDailyRetries int    `json:"max_daily_retries"`
}

type callingWindowRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type campaignResponse struct {
	ID               uuid.UUID               `json:"id"`
	ClientID         uuid.UUID               `json:"client_id"`
	AgentID          uuid.UUID               `json:"agent_id"`
	Name             string                  `json:"name"`
	Description      string                  `json:"description"`
	TimeZone         string                  `json:"time_zone"`
	Status           domain.CampaignStatus   `json:"status"`
	ConcurrencyLevel int                     `json:"concurrency_level"`
	RetryPolicy      retryPolicyResponse     `json:"retry_policy"`
	CallingWindows   []callingWindowResponse `json:"calling_windows"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	StartedAt        *time.Time              `json:"started_at,omitempty"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
}

type retryPolicyResponse struct {
	RetryDelay      string `json:"retry_delay"`
	MaxDailyRetries int    `json:"max_daily_retries"`
}

type callingWindowResponse struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type campaignStatsResponse struct {
	TotalEnqueued    int64 `json:"total_enqueued"`
	ContactedLeads   int64 `json:"contacted_leads"`
	ConnectedCalls   int64 `json:"connected_calls"`
	FailedCalls      int64 `json:"failed_calls"`
	InProgressCalls  int64 `json:"in_progress_calls"`
	RetriesScheduled int64 `json:"retries_scheduled"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type queueItemResponse struct {
	ID           uuid.UUID          `json:"id"`
	CampaignID   uuid.UUID          `json:"campaign_id"`
	LeadID       uuid.UUID          `json:"lead_id"`
	Status       domain.QueueStatus `json:"status"`
	Priority     int                `json:"priority"`
	RetryCount   int                `json:"retry_count"`
	QueuedAt     time.Time          `json:"queued_at"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	NextRetryAt  *time.Time         `json:"next_retry_at,omitempty"`
	CallID       *uuid.UUID         `json:"call_id,omitempty"`
	ErrorMessage *string            `json:"error_message,omitempty"`
}

type listQueueItemsResponse struct {
	Items []queueItemResponse `json:"items"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input, err := toCreateCampaignInput(req)
	if err != nil {
		return translateError(err)
	}

	campaign, err := h.campaigns.Create(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	fullCampaign, err := h.campaigns.Get(ctx.Context(), campaign.ID)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(fullCampaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	var afterID *uuid.UUID
	if afterStr := ctx.Query("after_id"); afterStr != "" {
		if id, err := uuid.Parse(afterStr); err == nil {
			afterID = &id
		}
	}

	campaigns, err := h.campaigns.List(ctx.Context(), afterID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		fullCampaign, err := h.campaigns.Get(ctx.Context(), c.ID)
		if err != nil {
			return translateError(err)
		}
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(fullCampaign))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

type updateCampaignRequest struct {
	Name             *string                 `json:"name"`
	Description      *string                 `json:"description"`
	ConcurrencyLevel *int                    `json:"concurrency_level"`
	RetryPolicy      *retryPolicyRequest     `json:"retry_policy"`
	CallingWindows   *[]callingWindowRequest `json:"calling_windows"`
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := campaignsvc.UpdateCampaignInput{
		ID:               id,
		Name:             req.Name,
		Description:      req.Description,
		ConcurrencyLevel: req.ConcurrencyLevel,
	}
	if req.RetryPolicy != nil {
		rp, err := parseRetryPolicy(*req.RetryPolicy)
		if err != nil {
			return translateError(err)
		}
		input.RetryPolicy = &rp
	}
	if req.CallingWindows != nil {
		windows, err := parseCallingWindows(*req.CallingWindows)
		if err != nil {
			return translateError(err)
		}
		input.CallingWindows = &windows
	}

	campaign, err := h.campaigns.Update(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) activateCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.campaigns.Activate(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.campaigns.Pause(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.campaigns.Resume(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) completeCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.campaigns.Complete(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	stats, err := h.campaigns.Stats(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	resp := campaignStatsResponse{
		TotalEnqueued:    stats.TotalEnqueued,
		ContactedLeads:   stats.ContactedLeads,
		ConnectedCalls:   stats.ConnectedCalls,
		FailedCalls:      stats.FailedCalls,
		InProgressCalls:  stats.InProgressCalls,
		RetriesScheduled: stats.RetriesScheduled,
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) enqueueLeads(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req struct {
		LeadIDs  []string `json:"lead_ids"`
		Priority int      `json:"priority"`
	}
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	leadIDs := make([]uuid.UUID, 0, len(req.LeadIDs))
	for _, raw := range req.LeadIDs {
		leadID, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("invalid lead id %q", raw))
		}
		leadIDs = append(leadIDs, leadID)
	}

	items, err := h.campaigns.Enqueue(ctx.Context(), campaignsvc.EnqueueInput{
		CampaignID: id,
		LeadIDs:    leadIDs,
		Priority:   req.Priority,
	})
	if err != nil {
		return translateError(err)
	}

	resp := listQueueItemsResponse{Items: make([]queueItemResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toQueueItemResponse(item))
	}
	return ctx.Status(http.StatusAccepted).JSON(resp)
}

func (h *HandlerSet) listQueueItems(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	status := domain.QueueStatus(ctx.Query("status", ""))

	items, err := h.campaigns.QueueItems(ctx.Context(), id, status, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listQueueItemsResponse{Items: make([]queueItemResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toQueueItemResponse(item))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func toQueueItemResponse(item *domain.QueueItem) queueItemResponse {
	return queueItemResponse{
		ID:           item.ID,
		CampaignID:   item.CampaignID,
		LeadID:       item.LeadID,
		Status:       item.Status,
		Priority:     item.Priority,
		RetryCount:   item.RetryCount,
		QueuedAt:     item.QueuedAt,
		StartedAt:    item.StartedAt,
		CompletedAt:  item.CompletedAt,
		NextRetryAt:  item.NextRetryAt,
		CallID:       item.CallID,
		ErrorMessage: item.ErrorMessage,
	}
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	resp := campaignResponse{
		ID:               campaign.ID,
		ClientID:         campaign.ClientID,
		AgentID:          campaign.AgentID,
		Name:             campaign.Name,
		Description:      campaign.Description,
		TimeZone:         campaign.TimeZone,
		Status:           campaign.Status,
		ConcurrencyLevel: campaign.ConcurrencyLevel,
		RetryPolicy: retryPolicyResponse{
			RetryDelay:      campaign.RetryPolicy.RetryDelay.String(),
			MaxDailyRetries: campaign.RetryPolicy.MaxDailyRetries,
		},
		CallingWindows: make([]callingWindowResponse, 0, len(campaign.CallingWindows)),
		CreatedAt:      campaign.CreatedAt,
		UpdatedAt:      campaign.UpdatedAt,
		StartedAt:      campaign.StartedAt,
		CompletedAt:    campaign.CompletedAt,
	}

	for _, window := range campaign.CallingWindows {
		resp.CallingWindows = append(resp.CallingWindows, callingWindowResponse{
			DayOfWeek: int(window.DayOfWeek),
			Start:     window.Start.Format("15:04"),
			End:       window.End.Format("15:04"),
		})
	}

	return resp
}

func toCreateCampaignInput(req createCampaignRequest) (campaignsvc.CreateCampaignInput, error) {
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		return campaignsvc.CreateCampaignInput{}, fmt.Errorf("%w: invalid client_id", apperrors.ErrValidation)
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		return campaignsvc.CreateCampaignInput{}, fmt.Errorf("%w: invalid agent_id", apperrors.ErrValidation)
	}

	input := campaignsvc.CreateCampaignInput{
		ClientID:         clientID,
		AgentID:          agentID,
		Name:             req.Name,
		Description:      req.Description,
		TimeZone:         req.TimeZone,
		ConcurrencyLevel: req.ConcurrencyLevel,
	}

	if req.RetryPolicy != nil {
		rp, err := parseRetryPolicy(*req.RetryPolicy)
		if err != nil {
			return campaignsvc.CreateCampaignInput{}, err
		}
		input.RetryPolicy = rp
	}

	if len(req.CallingWindows) > 0 {
		windows, err := parseCallingWindows(req.CallingWindows)
		if err != nil {
			return campaignsvc.CreateCampaignInput{}, err
		}
		input.CallingWindows = windows
	}

	return input, nil
}

func parseRetryPolicy(req retryPolicyRequest) (domain.RetryPolicy, error) {
	policy := domain.RetryPolicy{MaxDailyRetries: req.MaxDailyRetries}
	if req.RetryDelay != "" {
		d, err := time.ParseDuration(req.RetryDelay)
		if err != nil {
			return domain.RetryPolicy{}, fmt.Errorf("%w: invalid retry_delay", apperrors.ErrValidation)
		}
		policy.RetryDelay = d
	}
	return policy, nil
}

func parseCallingWindows(req []callingWindowRequest) ([]campaignsvc.CallingWindowInput, error) {
	windows := make([]campaignsvc.CallingWindowInput, 0, len(req))
	for _, w := range req {
		start, err := time.Parse("15:04", w.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid start time", apperrors.ErrValidation)
		}
		end, err := time.Parse("15:04", w.End)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid end time", apperrors.ErrValidation)
		}
		windows = append(windows, campaignsvc.CallingWindowInput{
			DayOfWeek: time.Weekday(w.DayOfWeek),
			Start:     start,
			End:       end,
		})
	}
	return windows, nil
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
