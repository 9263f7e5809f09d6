// Package server exposes the pipeline over HTTP. Handlers stay thin: they
// decode, delegate to the pipeline, and encode.
package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"feedvault/internal/pipeline"
)

type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Service
	logger   *zap.Logger
}

func New(p *pipeline.Service, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, pipeline: p, logger: logger}

	e.POST("/feeds", s.addFeed)
	e.GET("/feeds", s.listFeeds)
	e.POST("/feeds/import", s.importOPML)
	e.GET("/articles", s.getArticles)
	e.GET("/articles/date/:date", s.getArticlesByDate)
	e.POST("/articles/save", s.saveArticle)
	e.POST("/articles/:id/state", s.setArticleState)
	e.POST("/articles/:id/notes", s.addNote)
	e.GET("/activity", s.listActivity)

	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func errorPayload(reason string) map[string]string {
	return map[string]string{"error": reason}
}

type addFeedRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

func (s *Server) addFeed(c echo.Context) error {
	var req addFeedRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload("invalid request body"))
	}

	added, err := s.pipeline.AddFeed(c.Request().Context(), req.URL, req.Name)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload(err.Error()))
	}

	return c.JSON(http.StatusOK, map[string]bool{"added": added})
}

func (s *Server) listFeeds(c echo.Context) error {
	feeds, err := s.pipeline.ListFeeds()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorPayload(err.Error()))
	}
	return c.JSON(http.StatusOK, feeds)
}

func (s *Server) importOPML(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 10<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload("failed to read body"))
	}

	added, err := s.pipeline.ImportOPML(c.Request().Context(), body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload(err.Error()))
	}

	return c.JSON(http.StatusOK, map[string]int{"added": added})
}

func (s *Server) getArticles(c echo.Context) error {
	limit := intQuery(c, "limit", 50)

	items, err := s.pipeline.GetAllArticles(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorPayload(err.Error()))
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) getArticlesByDate(c echo.Context) error {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload("invalid date, expected YYYY-MM-DD"))
	}
	windowDays := intQuery(c, "window", 1)

	items, err := s.pipeline.GetArticlesByDate(c.Request().Context(), date, windowDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorPayload(err.Error()))
	}
	return c.JSON(http.StatusOK, items)
}

type saveArticleRequest struct {
	HTML      string `json:"html"`
	SourceURL string `json:"source_url"`
}

func (s *Server) saveArticle(c echo.Context) error {
	var req saveArticleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload("invalid request body"))
	}
	if req.HTML == "" {
		return c.JSON(http.StatusBadRequest, errorPayload("html is required"))
	}

	markdownPath, frontMatter, err := s.pipeline.MaterializeArticle(c.Request().Context(), req.HTML, req.SourceURL)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload(err.Error()))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"markdown_path": markdownPath,
		"front_matter":  frontMatter,
	})
}

type stateRequest struct {
	IsRead     *bool `json:"is_read"`
	IsFavorite *bool `json:"is_favorite"`
}

func (s *Server) setArticleState(c echo.Context) error {
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload("invalid request body"))
	}

	state, err := s.pipeline.SetArticleState(c.Request().Context(), c.Param("id"), req.IsRead, req.IsFavorite)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload(err.Error()))
	}

	return c.JSON(http.StatusOK, map[string]bool{
		"is_read":     state.IsRead,
		"is_favorite": state.IsFavorite,
	})
}

type noteRequest struct {
	Text string `json:"text"`
}

func (s *Server) addNote(c echo.Context) error {
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload("invalid request body"))
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, errorPayload("text is required"))
	}

	note, err := s.pipeline.AddNote(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorPayload(err.Error()))
	}

	return c.JSON(http.StatusOK, note)
}

func (s *Server) listActivity(c echo.Context) error {
	var since, until *time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorPayload("invalid since timestamp"))
		}
		since = &t
	}
	if raw := c.QueryParam("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorPayload("invalid until timestamp"))
		}
		until = &t
	}

	events, err := s.pipeline.ListActivity(since, until, intQuery(c, "limit", 0))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorPayload(err.Error()))
	}
	return c.JSON(http.StatusOK, events)
}

func intQuery(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
