// Package httpapi is the daemon's local HTTP surface: the provider
// webhook plus the v1 API used by smsdeskctl and any frontend.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/smsdesk/smsdesk/internal/bus"
	"github.com/smsdesk/smsdesk/internal/inbox"
	"github.com/smsdesk/smsdesk/internal/status"
	"github.com/smsdesk/smsdesk/internal/store"
	smssync "github.com/smsdesk/smsdesk/internal/sync"
	"go.uber.org/zap"
)

// Handler bundles the subsystems the HTTP surface drives.
type Handler struct {
	db         *store.DB
	reconciler *smssync.Reconciler
	runner     *smssync.Runner
	projector  *inbox.Projector
	readState  *inbox.ReadStateTracker
	deletion   *inbox.DeletionCoordinator
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
}

// Params collects the handler's dependencies.
type Params struct {
	DB         *store.DB
	Reconciler *smssync.Reconciler
	Runner     *smssync.Runner
	Projector  *inbox.Projector
	ReadState  *inbox.ReadStateTracker
	Deletion   *inbox.DeletionCoordinator
	Machine    *status.Machine
	Bus        *bus.Bus
	Logger     *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(p Params) *Handler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		db:         p.DB,
		reconciler: p.Reconciler,
		runner:     p.Runner,
		projector:  p.Projector,
		readState:  p.ReadState,
		deletion:   p.Deletion,
		machine:    p.Machine,
		bus:        p.Bus,
		logger:     logger,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/webhook/sms", h.webhookSMS)
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1")
	{
		v1.POST("/sync", h.triggerSync)
		v1.GET("/inbox", h.listInbox)
		v1.GET("/conversations/:phone/messages", h.thread)
		v1.POST("/messages", h.sendMessage)
		v1.POST("/messages/read", h.markRead)
		v1.POST("/messages/star", h.toggleStar)
		v1.POST("/messages/archive", h.archive)
		v1.DELETE("/messages", h.deleteMessages)
		v1.GET("/contacts", h.listContacts)
		v1.POST("/contacts", h.createContact)
		v1.DELETE("/contacts/:id", h.deleteContact)
	}
	return r
}
