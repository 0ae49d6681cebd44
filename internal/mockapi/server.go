// Package mockapi is an in-memory implementation of the notification
// subset of the event platform API. It backs local development and the
// API client tests.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/source/api"
)

const timestampLayout = "2006-01-02T15:04:05.000000"

// Account is a user the mock platform accepts.
type Account struct {
	ID       string
	Email    string
	Password string
	Name     string
	Role     string
	Center   string
}

// DefaultAccounts returns a viewer and an administrator.
func DefaultAccounts() []Account {
	return []Account{
		{ID: "u-demo", Email: "demo@eventdesk.local", Password: "demo", Name: "Demo User", Role: "viewer", Center: "santo-domingo"},
		{ID: "u-admin", Email: "admin@eventdesk.local", Password: "admin", Name: "Center Admin", Role: "super_admin", Center: "santo-domingo"},
	}
}

// Options configures a Server.
type Options struct {
	Secret   string
	TokenTTL time.Duration
	Accounts []Account
	Logger   zerolog.Logger
}

type record struct {
	dto     api.NotificationDTO
	userID  string
	created time.Time
	deleted bool
}

type failure struct {
	status    int
	remaining int
}

// Server is the mock platform.
type Server struct {
	router *gin.Engine
	tokens *TokenIssuer
	hub    *Hub
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	accounts      map[string]Account // by email
	records       []*record
	subscriptions map[string]map[string]api.SubscribeRequest // user -> endpoint
	revoked       map[string]bool
	fail          failure
	requests      int
	now           func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Secret == "" {
		opts.Secret = "dev-secret-key"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * time.Minute
	}
	if len(opts.Accounts) == 0 {
		opts.Accounts = DefaultAccounts()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:        gin.New(),
		tokens:        NewTokenIssuer(opts.Secret, opts.TokenTTL),
		hub:           NewHub(opts.Logger),
		log:           opts.Logger,
		ctx:           ctx,
		cancel:        cancel,
		accounts:      make(map[string]Account),
		subscriptions: make(map[string]map[string]api.SubscribeRequest),
		revoked:       make(map[string]bool),
		now:           time.Now,
	}
	for _, a := range opts.Accounts {
		s.accounts[strings.ToLower(a.Email)] = a
	}

	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the push hub.
func (s *Server) Hub() *Hub { return s.hub }

// Tokens returns the token issuer.
func (s *Server) Tokens() *TokenIssuer { return s.tokens }

// Close disconnects push clients.
func (s *Server) Close() {
	s.cancel()
	s.hub.CloseAll()
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// FailNext makes the next n authenticated API requests answer status.
func (s *Server) FailNext(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = failure{status: status, remaining: n}
}

// Requests returns how many authenticated API requests were served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventdesk-mockapi"})
	})
	s.router.GET("/push/:device", s.hub.handle(s.ctx))

	a := s.router.Group("/api")
	a.POST("/login", s.handleLogin())

	authed := a.Group("")
	authed.Use(s.authRequired(), s.injectFailures())
	{
		authed.GET("/me", s.handleMe())
		authed.POST("/refresh-token", s.handleRefresh())
		authed.POST("/logout", s.handleLogout())

		n := authed.Group("/notifications")
		{
			n.GET("", s.handleList())
			n.POST("", s.handleCreate())
			n.GET("/unread-count", s.handleUnreadCount())
			n.POST("/mark-all-read", s.handleMarkAllRead())
			n.POST("/clear-all", s.handleClearAll())
			n.POST("/subscribe", s.handleSubscribe())
			n.POST("/unsubscribe", s.handleUnsubscribe())
			n.PUT("/:id", s.handleUpdate())
			n.DELETE("/:id", s.handleDelete())
		}
	}
}

func (s *Server) injectFailures() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.requests++
		f := s.fail
		if f.remaining > 0 {
			s.fail.remaining--
		}
		s.mu.Unlock()

		if f.remaining > 0 {
			if f.status == http.StatusTooManyRequests {
				c.Header("Retry-After", "0")
			}
			abortDetail(c, f.status, http.StatusText(f.status))
			return
		}
		c.Next()
	}
}

func (s *Server) isRevoked(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[token]
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, api.Envelope[any]{Success: true, Message: message, Data: data})
}

func toUserDTO(a Account) api.UserDTO {
	return api.UserDTO{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role, Center: a.Center}
}

func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req api.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortDetail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}

		s.mu.Lock()
		acct, found := s.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
		s.mu.Unlock()
		if !found || acct.Password != req.Password {
			abortDetail(c, http.StatusUnauthorized, "Incorrect email or password")
			return
		}

		token, err := s.tokens.Issue(acct)
		if err != nil {
			abortDetail(c, http.StatusInternalServerError, "Login failed")
			return
		}

		c.JSON(http.StatusOK, api.LoginResponse{
			AccessToken: token,
			TokenType:   "bearer",
			User:        toUserDTO(acct),
		})
	}
}

func (s *Server) accountFor(c *gin.Context) (Account, bool) {
	claims := claimsFrom(c)
	if claims == nil {
		return Account{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, found := s.accounts[strings.ToLower(claims.Email)]
	return acct, found
}

func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, found := s.accountFor(c)
		if !found {
			abortDetail(c, http.StatusUnauthorized, "User not found")
			return
		}
		ok(c, "User profile retrieved successfully", toUserDTO(acct))
	}
}

func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, found := s.accountFor(c)
		if !found {
			abortDetail(c, http.StatusUnauthorized, "User not found")
			return
		}
		token, err := s.tokens.Issue(acct)
		if err != nil {
			abortDetail(c, http.StatusInternalServerError, "Token refresh failed")
			return
		}
		c.JSON(http.StatusOK, api.TokenResponse{
			AccessToken: token,
			TokenType:   "bearer",
			ExpiresIn:   int(s.tokens.ttl.Seconds()),
		})
	}
}

func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.revoked[c.GetString("token")] = true
		s.mu.Unlock()
		ok(c, "Successfully logged out", nil)
	}
}

// visibleLocked returns the user's live records, newest first.
func (s *Server) visibleLocked(userID string) []*record {
	var out []*record
	for _, r := range s.records {
		if r.userID == userID && !r.deleted {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].created.After(out[j].created)
	})
	return out
}

func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)

		skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
		if err != nil || skip < 0 {
			abortDetail(c, http.StatusUnprocessableEntity, "skip must be a non-negative integer")
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 || limit > 100 {
			abortDetail(c, http.StatusUnprocessableEntity, "limit must be between 1 and 100")
			return
		}
		typ := c.Query("type")
		priority := c.Query("priority")
		readFilter := c.Query("read")

		s.mu.Lock()
		var matched []api.NotificationDTO
		unread := 0
		for _, r := range s.visibleLocked(claims.Subject) {
			if typ != "" && r.dto.Type != typ {
				continue
			}
			if priority != "" && r.dto.Priority != priority {
				continue
			}
			if readFilter != "" && strconv.FormatBool(r.dto.Read) != readFilter {
				continue
			}
			if !r.dto.Read {
				unread++
			}
			matched = append(matched, r.dto)
		}
		s.mu.Unlock()

		total := len(matched)
		page := []api.NotificationDTO{}
		if skip < total {
			end := min(skip+limit, total)
			page = matched[skip:end]
		}

		ok(c, "Notifications retrieved successfully", api.NotificationPage{
			Notifications: page,
			Total:         total,
			UnreadCount:   unread,
			Page:          skip/limit + 1,
			PerPage:       limit,
			HasMore:       skip+limit < total,
		})
	}
}

func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if !isAdmin(claims.Role) {
			abortDetail(c, http.StatusForbidden, "Admin privileges required")
			return
		}

		var req api.CreateNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortDetail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if req.UserID == "" {
			req.UserID = claims.Subject
		}

		dto, err := s.Publish(req)
		if err != nil {
			abortDetail(c, http.StatusBadRequest, err.Error())
			return
		}
		ok(c, "Notification created successfully", dto)
	}
}

// Publish stores a notification for req.UserID and pushes it to every
// device that user subscribed.
func (s *Server) Publish(req api.CreateNotificationRequest) (api.NotificationDTO, error) {
	if strings.TrimSpace(req.Title) == "" {
		return api.NotificationDTO{}, errors.New("title is required")
	}
	if req.UserID == "" {
		return api.NotificationDTO{}, errors.New("user_id is required")
	}
	if req.Type == "" {
		req.Type = "info"
	}
	if req.Priority == "" {
		req.Priority = "medium"
	}

	s.mu.Lock()
	now := s.now().UTC()
	r := &record{
		userID:  req.UserID,
		created: now,
		dto: api.NotificationDTO{
			ID:        uuid.New().String(),
			Title:     req.Title,
			Message:   req.Message,
			Type:      req.Type,
			Priority:  req.Priority,
			Timestamp: now.Format(timestampLayout),
			Metadata:  req.Metadata,
		},
	}
	s.records = append(s.records, r)

	var devices []string
	for endpoint := range s.subscriptions[req.UserID] {
		devices = append(devices, path.Base(endpoint))
	}
	s.mu.Unlock()

	if len(devices) > 0 {
		frame, err := json.Marshal(PushMessage{Type: "notification", Data: r.dto})
		if err != nil {
			return r.dto, fmt.Errorf("encoding push frame: %w", err)
		}
		for _, d := range devices {
			s.hub.Send(d, frame)
		}
	}

	return r.dto, nil
}

// PublishTo is Publish addressed by account email.
func (s *Server) PublishTo(email string, req api.CreateNotificationRequest) (api.NotificationDTO, error) {
	s.mu.Lock()
	acct, found := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()
	if !found {
		return api.NotificationDTO{}, fmt.Errorf("unknown account %s", email)
	}
	req.UserID = acct.ID
	return s.Publish(req)
}

func (s *Server) findLocked(userID, id string) *record {
	for _, r := range s.records {
		if r.dto.ID == id && r.userID == userID && !r.deleted {
			return r
		}
	}
	return nil
}

func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)

		var req api.UpdateNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortDetail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}

		s.mu.Lock()
		r := s.findLocked(claims.Subject, c.Param("id"))
		if r != nil && req.Read != nil {
			r.dto.Read = *req.Read
		}
		s.mu.Unlock()

		if r == nil {
			abortDetail(c, http.StatusNotFound, "Notification not found")
			return
		}
		ok(c, "Notification updated successfully", nil)
	}
}

func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)

		s.mu.Lock()
		r := s.findLocked(claims.Subject, c.Param("id"))
		if r != nil {
			r.deleted = true
		}
		s.mu.Unlock()

		if r == nil {
			abortDetail(c, http.StatusNotFound, "Notification not found")
			return
		}
		ok(c, "Notification deleted successfully", nil)
	}
}

func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)

		s.mu.Lock()
		n := 0
		for _, r := range s.visibleLocked(claims.Subject) {
			if !r.dto.Read {
				r.dto.Read = true
				n++
			}
		}
		s.mu.Unlock()

		ok(c, fmt.Sprintf("Marked %d notifications as read", n), nil)
	}
}

func (s *Server) handleClearAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)

		s.mu.Lock()
		n := 0
		for _, r := range s.visibleLocked(claims.Subject) {
			r.deleted = true
			n++
		}
		s.mu.Unlock()

		ok(c, fmt.Sprintf("Cleared %d notifications", n), nil)
	}
}

func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)

		s.mu.Lock()
		n := 0
		for _, r := range s.visibleLocked(claims.Subject) {
			if !r.dto.Read {
				n++
			}
		}
		s.mu.Unlock()

		ok(c, "Unread count retrieved successfully", api.UnreadCountResponse{UnreadCount: n})
	}
}

func (s *Server) handleSubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)

		var req api.SubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Endpoint == "" {
			abortDetail(c, http.StatusBadRequest, "Endpoint is required")
			return
		}

		s.mu.Lock()
		if s.subscriptions[claims.Subject] == nil {
			s.subscriptions[claims.Subject] = make(map[string]api.SubscribeRequest)
		}
		s.subscriptions[claims.Subject][req.Endpoint] = req
		s.mu.Unlock()

		ok(c, "Successfully subscribed to push notifications", nil)
	}
}

func (s *Server) handleUnsubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)

		var req api.UnsubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Endpoint == "" {
			abortDetail(c, http.StatusBadRequest, "Endpoint is required")
			return
		}

		s.mu.Lock()
		delete(s.subscriptions[claims.Subject], req.Endpoint)
		s.mu.Unlock()

		ok(c, "Successfully unsubscribed from push notifications", nil)
	}
}

// Subscriptions returns the endpoints registered by userID.
func (s *Server) Subscriptions(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for endpoint := range s.subscriptions[userID] {
		out = append(out, endpoint)
	}
	sort.Strings(out)
	return out
}
