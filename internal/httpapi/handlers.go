package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smsdesk/smsdesk/internal/inbox"
	"github.com/smsdesk/smsdesk/internal/phone"
	"github.com/smsdesk/smsdesk/internal/provider"
	"github.com/smsdesk/smsdesk/internal/store"
	smssync "github.com/smsdesk/smsdesk/internal/sync"
	"go.uber.org/zap"
)

// webhookSMS ingests a provider delivery callback. The provider POSTs
// form-encoded fields and retries on any non-2xx, so the answer is an
// empty 200 even when the message was a duplicate.
func (h *Handler) webhookSMS(c *gin.Context) {
	from := c.PostForm("From")
	sid := c.PostForm("MessageSid")
	if from == "" && sid == "" {
		fail(c, http.StatusBadRequest, "missing From and MessageSid")
		return
	}

	msg := provider.Message{
		SID:         sid,
		From:        from,
		To:          c.PostForm("To"),
		Body:        c.PostForm("Body"),
		Status:      c.PostForm("SmsStatus"),
		Direction:   provider.DirectionInbound,
		DateSent:    provider.ParseDate(c.PostForm("DateSent")),
		DateCreated: provider.ParseDate(c.PostForm("DateCreated")),
	}
	res := h.reconciler.IngestBatch([]smssync.Item{{Message: msg}})
	if len(res.Errors) > 0 {
		h.logger.Error("webhook ingest failed", zap.Strings("errors", res.Errors))
		fail(c, http.StatusInternalServerError, res.Errors[0])
		return
	}
	c.Status(http.StatusOK)
}

// triggerSync runs one pull-sync immediately. The limit can come as
// a query param or a JSON body; zero means the default page size.
func (h *Handler) triggerSync(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	} else if c.Request.ContentLength > 0 {
		var body struct {
			Limit int `json:"limit"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			limit = body.Limit
		}
	}
	res, err := h.runner.RunOnce(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "data": res, "error": gin.H{"message": err.Error()}})
		return
	}
	ok(c, http.StatusOK, res)
}

type conversationView struct {
	Key         string        `json:"key"`
	DisplayName string        `json:"display_name"`
	Latest      messageView   `json:"latest"`
	UnreadCount int           `json:"unread_count"`
	IsStarred   bool          `json:"is_starred"`
	Archived    bool          `json:"archived"`
	Messages    []messageView `json:"messages,omitempty"`
}

type messageView struct {
	ID                int64  `json:"id"`
	Source            string `json:"source"`
	Direction         string `json:"direction"`
	Phone             string `json:"phone"`
	Body              string `json:"body"`
	Status            string `json:"status"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ConversationID    string `json:"conversation_id,omitempty"`
	Timestamp         int64  `json:"timestamp"`
	IsRead            bool   `json:"is_read"`
	IsStarred         bool   `json:"is_starred"`
	Archived          bool   `json:"archived"`
}

func toMessageView(m *store.RawMessage) messageView {
	return messageView{
		ID:                m.ID,
		Source:            string(m.Source),
		Direction:         m.Direction,
		Phone:             m.Phone,
		Body:              m.Body,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		ConversationID:    m.ConversationID,
		Timestamp:         inbox.EffectiveTime(m),
		IsRead:            m.IsRead,
		IsStarred:         m.IsStarred,
		Archived:          m.ArchivedAt != 0,
	}
}

// listInbox returns one page of projected conversations.
func (h *Handler) listInbox(c *gin.Context) {
	opts := inbox.ListOptions{
		Query:           c.Query("q"),
		IncludeArchived: c.Query("include_archived") == "true",
	}
	opts.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	opts.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "0"))

	page, err := h.projector.List(opts)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]conversationView, 0, len(page.Conversations))
	for i := range page.Conversations {
		conv := &page.Conversations[i]
		views = append(views, conversationView{
			Key:         conv.Key,
			DisplayName: conv.DisplayName,
			Latest:      toMessageView(&conv.Latest),
			UnreadCount: conv.UnreadCount,
			IsStarred:   conv.IsStarred,
			Archived:    conv.Archived,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"data":         views,
		"total_groups": page.TotalGroups,
	})
}

// thread returns the merged ascending message history for one
// conversation key.
func (h *Handler) thread(c *gin.Context) {
	key := c.Param("phone")
	msgs, err := h.projector.Thread(key)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]messageView, len(msgs))
	for i := range msgs {
		views[i] = toMessageView(&msgs[i])
	}
	ok(c, http.StatusOK, views)
}

type sendRequest struct {
	To   string `json:"to" binding:"required"`
	Body string `json:"body" binding:"required"`
}

// sendMessage queues an outbound send. Delivery is asynchronous: the
// outbox sender picks the entry up, so the answer is 202 with the
// client id to correlate outbox events against.
func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	clientMsgID := uuid.New().String()
	if err := h.db.QueueOutbox(clientMsgID, req.To, req.Body); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusAccepted, gin.H{"client_msg_id": clientMsgID})
}

type messageRef struct {
	Source store.Source `json:"source"`
	ID     int64        `json:"id"`
}

type readRequest struct {
	Phone  string       `json:"phone"`
	Source store.Source `json:"source"`
	ID     int64        `json:"id"`
}

// markRead clears unread state for a conversation ({phone}) or, as a
// fallback, the conversation containing one message ({source,id}).
func (h *Handler) markRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	var n int64
	var err error
	switch {
	case req.Phone != "":
		n, err = h.readState.MarkConversationRead(req.Phone)
	case req.Source != "" && req.ID != 0:
		if !req.Source.Valid() {
			fail(c, http.StatusBadRequest, "unknown source")
			return
		}
		n, err = h.readState.MarkMessageRead(req.Source, req.ID)
	default:
		fail(c, http.StatusBadRequest, "need phone or source+id")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"marked": n})
}

// toggleStar flips the star on a single message.
func (h *Handler) toggleStar(c *gin.Context) {
	var req messageRef
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Source.Valid() {
		fail(c, http.StatusBadRequest, "unknown source")
		return
	}
	starred, err := h.db.ToggleStar(req.Source, req.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"is_starred": starred})
}

type archiveRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Archived *bool  `json:"archived"`
}

// archive hides (or, with archived=false, unhides) a conversation.
func (h *Handler) archive(c *gin.Context) {
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	archivedAt := time.Now().UnixMilli()
	if req.Archived != nil && !*req.Archived {
		archivedAt = 0
	}
	variants := phone.Variants(req.Phone)
	n, err := h.db.SetArchivedByPhoneVariants(variants, archivedAt)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"updated": n})
}

type deleteRequest struct {
	Source       store.Source `json:"source"`
	ID           int64        `json:"id"`
	Conversation bool         `json:"conversation"`
	Items        []messageRef `json:"items"`
	Phone        string       `json:"phone"`
}

// deleteMessages deletes a single message, a bulk list, or a whole
// conversation by phone. A single ref with conversation=true deletes
// the thread the message anchors, for threads whose phone cannot be
// grouped.
func (h *Handler) deleteMessages(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case req.Phone != "":
		deleted, errs, err := h.deletion.DeleteConversation(req.Phone)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		ok(c, http.StatusOK, gin.H{"deleted": deleted, "errors": errs})

	case len(req.Items) > 0:
		var deleted int
		var errs []string
		for _, item := range req.Items {
			if !item.Source.Valid() {
				errs = append(errs, "unknown source "+string(item.Source))
				continue
			}
			if err := h.deletion.DeleteMessage(item.Source, item.ID); err != nil {
				errs = append(errs, err.Error())
				continue
			}
			deleted++
		}
		ok(c, http.StatusOK, gin.H{"deleted": deleted, "errors": errs})

	case req.Source != "" && req.ID != 0:
		if !req.Source.Valid() {
			fail(c, http.StatusBadRequest, "unknown source")
			return
		}
		if req.Conversation {
			deleted, errs, err := h.deletion.DeleteConversationByAnchor(req.Source, req.ID)
			if err != nil {
				fail(c, http.StatusInternalServerError, err.Error())
				return
			}
			ok(c, http.StatusOK, gin.H{"deleted": deleted, "errors": errs})
			return
		}
		if err := h.deletion.DeleteMessage(req.Source, req.ID); err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		ok(c, http.StatusOK, gin.H{"deleted": 1})

	default:
		fail(c, http.StatusBadRequest, "need phone, items, or source+id")
	}
}

type contactRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone" binding:"required"`
}

func (h *Handler) listContacts(c *gin.Context) {
	contacts, err := h.db.ListContacts()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, contacts)
}

func (h *Handler) createContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	contact := &store.Contact{Name: req.Name, Phone: req.Phone}
	if err := h.db.CreateContact(contact); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusCreated, contact)
}

func (h *Handler) deleteContact(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid contact id")
		return
	}
	if err := h.db.DeleteContact(id); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

// healthz reports daemon state and row counts.
func (h *Handler) healthz(c *gin.Context) {
	messages, err := h.db.RawMessageCount()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	contacts, _ := h.db.ContactCount()
	c.JSON(http.StatusOK, gin.H{
		"status":   string(h.machine.Current()),
		"messages": messages,
		"contacts": contacts,
	})
}
