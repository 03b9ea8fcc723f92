package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
	"github.com/commco/backend/internal/repositories"
)

// allCategories selects every category when listing comments.
const allCategories = "All"

// CommentHandler serves synchronized comments and replies to them.
type CommentHandler struct {
	Channels ChannelStore
	Comments CommentStore
	Replies  Replier
	Taxonomy models.Taxonomy
}

type commentsResponse struct {
	Comments []models.Comment `json:"comments"`
}

type replyRequest struct {
	Text string `json:"text"`
}

type replyResponse struct {
	ReplyID string `json:"replyId"`
}

// List handles GET /api/v1/channels/{channelID}/comments?category=.
func (h CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Channels == nil || h.Comments == nil {
		logger.Error("comment dependencies unavailable", "hasChannels", h.Channels != nil, "hasComments", h.Comments != nil)
		respondError(ctx, w, http.StatusInternalServerError, "comment service unavailable")
		return
	}

	var category models.Category
	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" && !strings.EqualFold(raw, allCategories) {
		c, ok := h.Taxonomy.Lookup(raw)
		if !ok {
			respondError(ctx, w, http.StatusBadRequest, "unknown category")
			return
		}
		category = c
	}

	limit := repositories.MaxListComments
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(ctx, w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, repositories.MaxListComments)
	}

	channelID := strings.TrimSpace(r.PathValue("channelID"))
	if _, err := h.Channels.FindChannel(ctx, channelID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "channel not found")
			return
		}
		logger.Error("comment channel lookup failed", "channelId", channelID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to load channel")
		return
	}

	comments, err := h.Comments.ListComments(ctx, channelID, category, limit)
	if err != nil {
		logger.Error("list comments failed", "channelId", channelID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to load comments")
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}

	respondJSON(ctx, w, http.StatusOK, commentsResponse{Comments: comments})
}

// Reply handles POST /api/v1/comments/{commentID}/reply.
func (h CommentHandler) Reply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Replies == nil {
		logger.Error("reply service unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "reply service unavailable")
		return
	}

	var req replyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		logger.Warn("invalid reply payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	commentID := strings.TrimSpace(r.PathValue("commentID"))
	replyID, err := h.Replies.Reply(ctx, commentID, req.Text)
	if err != nil {
		status := respondFailure(ctx, w, err)
		logger.Warn("reply failed", "commentId", commentID, "status", status, "error", err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, replyResponse{ReplyID: replyID})
}
