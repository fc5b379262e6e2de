package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/schedule"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError converts the first validator failure into the schedule package's field errors
// so every form reports problems the same way.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return &schedule.MissingFieldError{Field: fe.Field()}
	}
	return &schedule.InvalidFieldError{Field: fe.Field(), Reason: fmt.Sprintf("failed %s validation", fe.Tag())}
}

type rssFeedRequest struct {
	Name      string `json:"name" validate:"max=200"`
	URL       string `json:"url" validate:"required,url"`
	IsXSource bool   `json:"is_x_source"`
}

type aiPromptRequest struct {
	Name   string `json:"name" validate:"required,max=200"`
	Prompt string `json:"prompt" validate:"required"`
}

type xCredentialRequest struct {
	AccountName       string `json:"account_name" validate:"required,max=200"`
	APIKey            string `json:"api_key" validate:"required"`
	APISecretKey      string `json:"api_secret_key" validate:"required"`
	AccessToken       string `json:"access_token" validate:"required"`
	AccessTokenSecret string `json:"access_token_secret" validate:"required"`
	BearerToken       string `json:"bearer_token" validate:"required"`
}

func (h *Handler) ListRssFeeds(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	feeds, err := h.store.ListRssFeeds(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (h *Handler) CreateRssFeed(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	var req rssFeedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name, req.URL = trimmed(req.Name), trimmed(req.URL)
	if err := validate.Struct(req); err != nil {
		h.writeDomainError(w, userID, validationError(err))
		return
	}

	feed := models.RssFeed{Name: req.Name, URL: req.URL, IsXSource: req.IsXSource, FeedType: "rss"}
	if h.prober != nil {
		// Full accounts are turned away before spending an outbound fetch.
		if err := h.store.CheckCapacity(r.Context(), userID, tiers.RssFeeds); err != nil {
			h.writeDomainError(w, userID, err)
			return
		}
		res, err := h.prober.Probe(r.Context(), req.URL)
		if err != nil {
			h.writeDomainError(w, userID, &schedule.InvalidFieldError{Field: "url", Reason: "could not be read as a feed"})
			return
		}
		feed.FeedType = res.FeedType
		if feed.Name == "" {
			feed.Name = res.Title
		}
	}
	if feed.Name == "" {
		h.writeDomainError(w, userID, &schedule.MissingFieldError{Field: "name"})
		return
	}

	created, err := h.store.CreateRssFeed(r.Context(), userID, feed)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	log.Printf("[Feeds] created userId=%s feedId=%s type=%s xSource=%v", userID, created.ID, created.FeedType, created.IsXSource)
	h.emitEvent(userID, realtimeEvent{Type: "rss_feed.created", ID: created.ID})
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) DeleteRssFeed(w http.ResponseWriter, r *http.Request) {
	h.deleteResource(w, r, "rss_feed", h.store.DeleteRssFeed)
}

func (h *Handler) ListAiPrompts(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	prompts, err := h.store.ListAiPrompts(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (h *Handler) CreateAiPrompt(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	var req aiPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name, req.Prompt = trimmed(req.Name), trimmed(req.Prompt)
	if err := validate.Struct(req); err != nil {
		h.writeDomainError(w, userID, validationError(err))
		return
	}
	created, err := h.store.CreateAiPrompt(r.Context(), userID, models.AiPrompt{Name: req.Name, Prompt: req.Prompt})
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	h.emitEvent(userID, realtimeEvent{Type: "ai_prompt.created", ID: created.ID})
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) DeleteAiPrompt(w http.ResponseWriter, r *http.Request) {
	h.deleteResource(w, r, "ai_prompt", h.store.DeleteAiPrompt)
}

func maskAll(in []models.XCredential) []models.XCredential {
	out := make([]models.XCredential, 0, len(in))
	for _, c := range in {
		out = append(out, c.Masked())
	}
	return out
}

func (h *Handler) ListXCredentials(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	creds, err := h.store.ListXCredentials(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, maskAll(creds))
}

// LatestPosts lists the accounts that have a recorded latest post, newest first.
func (h *Handler) LatestPosts(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	creds, err := h.store.LatestPosts(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, maskAll(creds))
}

func (h *Handler) CreateXCredential(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	var req xCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.AccountName = trimmed(req.AccountName)
	if err := validate.Struct(req); err != nil {
		h.writeDomainError(w, userID, validationError(err))
		return
	}
	created, err := h.store.CreateXCredential(r.Context(), userID, models.XCredential{
		AccountName:       req.AccountName,
		APIKey:            trimmed(req.APIKey),
		APISecretKey:      trimmed(req.APISecretKey),
		AccessToken:       trimmed(req.AccessToken),
		AccessTokenSecret: trimmed(req.AccessTokenSecret),
		BearerToken:       trimmed(req.BearerToken),
	})
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	h.emitEvent(userID, realtimeEvent{Type: "x_credential.created", ID: created.ID})
	writeJSON(w, http.StatusCreated, created.Masked())
}

func (h *Handler) DeleteXCredential(w http.ResponseWriter, r *http.Request) {
	h.deleteResource(w, r, "x_credential", h.store.DeleteXCredential)
}

func (h *Handler) deleteResource(w http.ResponseWriter, r *http.Request, kind string, del func(ctx context.Context, userID, id string) error) {
	userID, id := userFor(r), pathVar(r, "id")
	if err := del(r.Context(), userID, id); err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	h.emitEvent(userID, realtimeEvent{Type: kind + ".deleted", ID: id})
	w.WriteHeader(http.StatusNoContent)
}
