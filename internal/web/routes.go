package web

import (
	"errors"
	"io/fs"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/glassbead/atris/internal/session"
	"github.com/google/uuid"
)

const sessionCookie = "atris_session"

// registerRoutes sets up all routes on the gin engine.
func registerRoutes(engine *gin.Engine, s *server) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	engine.StaticFS("/static", http.FS(staticFS))

	engine.GET("/", s.handleIndex)
	engine.GET("/healthz", s.handleHealth)
	engine.POST("/auth/login", s.handleLogin)

	api := engine.Group("/api")
	if s.auth != nil {
		api.Use(s.auth.Middleware())
	}
	api.POST("/query", s.handleQuery)
	api.GET("/state", s.handleState)
	api.GET("/events", s.handleEvents)
	api.GET("/ws", s.handleWS)
	api.POST("/route", s.handleRoute)
}

// sessionFor returns the caller's session, issuing a session cookie on first
// contact.
func (s *server) sessionFor(c *gin.Context) *session.Session {
	id, err := c.Cookie(sessionCookie)
	if err != nil || id == "" {
		id = uuid.NewString()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, id, 0, "/", "", false, true)
	}
	return s.sessions.Get(id)
}

// queryRequest is the body of POST /api/query and POST /api/route. A form
// field named input is accepted too.
type queryRequest struct {
	Input string `json:"input" form:"input"`
}

func (s *server) handleIndex(c *gin.Context) {
	s.sessionFor(c)
	c.HTML(http.StatusOK, "index.html", gin.H{
		"authEnabled": s.auth != nil,
	})
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sess := s.sessionFor(c)
	run, err := sess.Submit(c.Request.Context(), req.Input)
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "input is empty"})
	case errors.Is(err, session.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "a query is already running"})
	case err != nil:
		log.Printf("web: submit: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit failed"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID})
	}
}

// stateView is the response of GET /api/state.
type stateView struct {
	session.State
	Question   string `json:"question,omitempty"`
	Result     string `json:"result,omitempty"`
	ResultHTML string `json:"result_html,omitempty"`
}

func (s *server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, buildStateView(s.sessionFor(c).Snapshot()))
}

func buildStateView(st session.State) stateView {
	v := stateView{State: st}
	if q, ok := st.Question(); ok {
		v.Question = q
	}
	if r, ok := st.Result(); ok {
		v.Result = r
		html, err := RenderMarkdown(r)
		if err != nil {
			log.Printf("web: render result: %v", err)
		} else {
			v.ResultHTML = html
		}
	}
	return v
}

func (s *server) handleRoute(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBind(&req); err != nil || req.Input == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input is empty"})
		return
	}
	cat := s.router.Route(c.Request.Context(), req.Input)
	c.JSON(http.StatusOK, gin.H{"category": cat})
}

// loginRequest is the body of POST /auth/login.
type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (s *server) handleLogin(c *gin.Context) {
	if s.auth == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(tokenCookie, token, int(s.auth.Expiry().Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(s.auth.Expiry().Seconds()),
	})
}
