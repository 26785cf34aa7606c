// Package api is the HTTP and WebSocket surface browsers talk to. It maps
// requests onto the sync orchestrator, the group manager and the auth and
// media collaborators; all chat semantics live below it.
package api

import (
	"context"
	gosync "sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/Berhanu27/chat-app/internal/auth"
	"github.com/Berhanu27/chat-app/internal/config"
	"github.com/Berhanu27/chat-app/internal/group"
	"github.com/Berhanu27/chat-app/internal/media"
	appsync "github.com/Berhanu27/chat-app/internal/sync"
)

type Server struct {
	auth     *auth.Service
	orch     *appsync.Orchestrator
	groups   *group.Manager
	uploader *media.Uploader
	log      *zap.SugaredLogger

	sessions *sessionRegistry
}

func NewServer(cfg *config.Config, authSvc *auth.Service, orch *appsync.Orchestrator, groups *group.Manager, uploader *media.Uploader, log *zap.SugaredLogger) *fiber.App {
	s := &Server{
		auth:     authSvc,
		orch:     orch,
		groups:   groups,
		uploader: uploader,
		log:      log,
		sessions: newSessionRegistry(orch, 0),
	}

	app := fiber.New(fiber.Config{BodyLimit: media.MaxVideoBytes + (1 << 20)})
	app.Use(fiberlogger.New())
	app.Use(NewIPRateLimiter(cfg.RateLimitPerMinute, log).Handler())

	app.Post("/v1/auth/signup", s.signUp)
	app.Post("/v1/auth/login", s.login)
	app.Post("/v1/auth/reset-password", s.resetPassword)
	app.Post("/v1/auth/reset-password/complete", s.completeReset)

	// invite preview is reachable before login; the client caches the code
	// and replays the join after authenticating
	app.Get("/join-group/:group_id", s.invitePreview)

	api := app.Group("/v1", JWTAuthMiddleware(authSvc))
	api.Post("/auth/logout", s.logout)

	api.Get("/me", s.me)
	api.Patch("/me", s.updateProfile)
	api.Put("/me/settings", s.saveSettings)
	api.Post("/me/blocked/:user_id", s.blockUser)
	api.Delete("/me/blocked/:user_id", s.unblockUser)

	api.Get("/users/search", s.searchUser)

	api.Post("/chats", s.openChat)
	api.Delete("/chats/:messages_id", s.removeContact)
	api.Post("/chats/:messages_id/messages", s.sendMessage)
	api.Patch("/chats/:messages_id/messages", s.editMessage)
	api.Delete("/chats/:messages_id/messages", s.deleteMessage)
	api.Post("/chats/:messages_id/seen", s.markSeen)

	api.Post("/groups", s.createGroup)
	api.Post("/groups/:group_id/members", s.addMembers)
	api.Delete("/groups/:group_id/members/:member_id", s.removeMember)
	api.Post("/groups/:group_id/admins/:member_id", s.promoteAdmin)
	api.Delete("/groups/:group_id/admins/:member_id", s.demoteAdmin)
	api.Post("/groups/:group_id/leave", s.leaveGroup)
	api.Post("/groups/:group_id/join", s.joinGroup)

	api.Post("/media", s.uploadMedia)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(s.wsHandler))

	return app
}

// sessionIdleTimeout is how long a session with no open websocket and no
// request activity survives before the registry closes it. Without the
// expiry, a client that vanishes without calling logout would leave its
// heartbeat writing lastSeen forever and the user would never fall offline.
const sessionIdleTimeout = 10 * time.Minute

type sessionEntry struct {
	s        *appsync.Session
	refs     int // open websocket connections pinning the session
	lastUsed time.Time
}

// sessionRegistry holds one live sync session per authenticated user. The
// session (and with it the presence heartbeat) starts on first authenticated
// use and ends on logout, or when its last websocket drops and the entry
// sits idle past the timeout.
type sessionRegistry struct {
	orch *appsync.Orchestrator
	idle time.Duration
	mu   gosync.Mutex
	m    map[string]*sessionEntry
}

func newSessionRegistry(orch *appsync.Orchestrator, idle time.Duration) *sessionRegistry {
	if idle <= 0 {
		idle = sessionIdleTimeout
	}
	r := &sessionRegistry{orch: orch, idle: idle, m: make(map[string]*sessionEntry)}
	go r.reapLoop()
	return r
}

// entry resolves or creates the user's session. Caller holds r.mu.
func (r *sessionRegistry) entry(userID string) (*sessionEntry, error) {
	if e, ok := r.m[userID]; ok {
		e.lastUsed = time.Now()
		return e, nil
	}
	// sessions outlive the request that created them
	s, err := r.orch.OpenSession(context.Background(), userID)
	if err != nil {
		return nil, err
	}
	e := &sessionEntry{s: s, lastUsed: time.Now()}
	r.m[userID] = e
	return e, nil
}

func (r *sessionRegistry) get(userID string) (*appsync.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.entry(userID)
	if err != nil {
		return nil, err
	}
	return e.s, nil
}

// acquire pins the session for the lifetime of a websocket connection so the
// reaper cannot close it mid-stream. Pair with release.
func (r *sessionRegistry) acquire(userID string) (*appsync.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.entry(userID)
	if err != nil {
		return nil, err
	}
	e.refs++
	return e.s, nil
}

func (r *sessionRegistry) release(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.m[userID]; ok && e.refs > 0 {
		e.refs--
		e.lastUsed = time.Now()
	}
}

func (r *sessionRegistry) close(userID string) {
	r.mu.Lock()
	e := r.m[userID]
	delete(r.m, userID)
	r.mu.Unlock()
	if e != nil {
		e.s.Close()
	}
}

func (r *sessionRegistry) reapLoop() {
	for {
		time.Sleep(time.Minute)
		r.reapIdle(time.Now())
	}
}

func (r *sessionRegistry) reapIdle(now time.Time) {
	r.mu.Lock()
	var idle []*appsync.Session
	for uid, e := range r.m {
		if e.refs == 0 && now.Sub(e.lastUsed) > r.idle {
			idle = append(idle, e.s)
			delete(r.m, uid)
		}
	}
	r.mu.Unlock()
	for _, s := range idle {
		s.Close()
	}
}
