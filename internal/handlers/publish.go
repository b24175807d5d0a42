package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher/email"
	"uk.co.dudmesh.herald/internal/service/publish"
)

type PublishRequest struct {
	DraftID    string                 `json:"draft_id" validate:"required"`
	Channels   []model.Channel        `json:"channels" validate:"required,min=1,unique,dive,oneof=linkedin wordpress email"`
	Content    string                 `json:"content" validate:"required"`
	Title      string                 `json:"title"`
	MediaURLs  []string               `json:"media_urls" validate:"dive,required"`
	Media      []model.MediaReference `json:"media" validate:"dive"`
	CampaignID string                 `json:"campaign_id"`
	Options    model.Options          `json:"options"`
}

// Draft converts the request. Bare media URLs come first with their type
// guessed from the extension, followed by the typed references.
func (r *PublishRequest) Draft() *model.Draft {
	media := make([]model.MediaReference, 0, len(r.MediaURLs)+len(r.Media))
	for _, u := range r.MediaURLs {
		media = append(media, model.MediaReference{URL: u, Type: model.MediaTypeFromURL(u)})
	}
	media = append(media, r.Media...)

	return &model.Draft{
		ID:         r.DraftID,
		Title:      r.Title,
		Content:    r.Content,
		Channels:   r.Channels,
		Media:      media,
		CampaignID: r.CampaignID,
		Options:    r.Options,
	}
}

type DraftStatusResponse struct {
	DraftID string            `json:"draft_id"`
	Status  model.DraftStatus `json:"status"`
}

type HealthResponse struct {
	Status     string                   `json:"status"`
	Publishers map[model.Channel]string `json:"publishers"`
	Channels   []publish.ChannelStatus  `json:"channels"`
	Timestamp  time.Time                `json:"timestamp"`
}

func Publish(svc PublishService) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &PublishRequest{}
		if err := c.Bind(req); err != nil {
			return err
		}
		if err := c.Validate(req); err != nil {
			return err
		}

		draft := req.Draft()
		log.Infoj(log.JSON{"event": "publish_requested", "draft_id": draft.ID, "channels": draft.Channels, "media": len(draft.Media), "request_id": c.Response().Header().Get(echo.HeaderXRequestID)})

		report := svc.Dispatch(c.Request().Context(), draft)
		return c.JSON(http.StatusOK, report)
	}
}

func GetReport(svc PublishService) echo.HandlerFunc {
	return func(c echo.Context) error {
		report, err := svc.Report(c.Request().Context(), c.Param("draftID"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, report)
	}
}

func GetDraftStatus(svc PublishService) echo.HandlerFunc {
	return func(c echo.Context) error {
		draftID := c.Param("draftID")
		status, err := svc.DraftStatus(c.Request().Context(), draftID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, &DraftStatusResponse{DraftID: draftID, Status: status})
	}
}

func SendBulk(svc PublishService) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := email.BulkRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		summary, err := svc.SendBulk(c.Request().Context(), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, summary)
	}
}

func Health(svc PublishService) echo.HandlerFunc {
	return func(c echo.Context) error {
		statuses := svc.Health(c.Request().Context(), c.QueryParam("probe") == "true")

		res := &HealthResponse{
			Status:     "healthy",
			Publishers: map[model.Channel]string{},
			Channels:   statuses,
			Timestamp:  time.Now().UTC(),
		}
		for _, s := range statuses {
			res.Publishers[s.Channel] = s.Status
			if s.Status != publish.StatusAvailable {
				res.Status = "degraded"
			}
		}
		return c.JSON(http.StatusOK, res)
	}
}
