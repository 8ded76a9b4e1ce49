package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/ytakahashi/todo-pwa/internal/models"
)

// TodoService covers every document mutation and read the API needs.
type TodoService interface {
	CreateTodo(ctx context.Context, text, imageURL *string) (*models.Todo, error)
	ListTodos(ctx context.Context) ([]*models.Todo, error)
	UpdateTodo(ctx context.Context, todoID string, text *string, done *bool) error
	DeleteTodo(ctx context.Context, todoID string) error
	AddComment(ctx context.Context, todoID, text string) (*models.Comment, error)
	ListComments(ctx context.Context, todoID string) ([]*models.Comment, error)
	DeleteComment(ctx context.Context, todoID, commentID string) error
	SaveDeviceToken(ctx context.Context, token *models.DeviceToken) error
}

// Uploader stores an image blob and returns its retrievable URL.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Feed hands out live list subscriptions for the websocket endpoint.
type Feed interface {
	Subscribe() (<-chan []*models.Todo, func())
}

type APIHandler struct {
	store    TodoService
	uploader Uploader
	feed     Feed
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewAPIHandler(store TodoService, uploader Uploader, feed Feed, log zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:    store,
		uploader: uploader,
		feed:     feed,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *APIHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleLiveList)
	e.GET("/api/todos", h.HandleListTodos)
	e.POST("/api/todos", h.HandleCreateTodo)
	e.PATCH("/api/todos/:id", h.HandleUpdateTodo)
	e.DELETE("/api/todos/:id", h.HandleDeleteTodo)
	e.GET("/api/todos/:id/comments", h.HandleListComments)
	e.POST("/api/todos/:id/comments", h.HandleAddComment)
	e.DELETE("/api/todos/:id/comments/:commentID", h.HandleDeleteComment)
	e.POST("/api/tokens", h.HandleRegisterToken)
}

// HandleCreateTodo accepts a multipart form with optional text and an
// optional image file. A request with neither is rejected before anything is
// written. The image is uploaded first; only on success is the document
// written, so a failed write can leave an orphaned blob behind.
func (h *APIHandler) HandleCreateTodo(c echo.Context) error {
	ctx := c.Request().Context()

	text := strings.TrimSpace(c.FormValue("text"))
	file, err := c.FormFile("image")
	if err != nil {
		file = nil
	}

	if text == "" && file == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a to-do needs text or an image"})
	}

	var imageURL *string
	if file != nil {
		src, err := file.Open()
		if err != nil {
			h.log.Error().Err(err).Msg("failed to open uploaded file")
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read the image"})
		}
		defer src.Close()

		url, err := h.uploader.UploadImage(ctx, file.Filename, src)
		if err != nil {
			h.log.Error().Err(err).Msg("image upload failed")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not upload the image"})
		}
		imageURL = &url
	}

	var textPtr *string
	if text != "" {
		textPtr = &text
	}

	todo, err := h.store.CreateTodo(ctx, textPtr, imageURL)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create todo")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not save the to-do"})
	}

	return c.JSON(http.StatusCreated, todo)
}

func (h *APIHandler) HandleListTodos(c echo.Context) error {
	todos, err := h.store.ListTodos(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list todos")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not load the list"})
	}
	if todos == nil {
		todos = []*models.Todo{}
	}
	return c.JSON(http.StatusOK, todos)
}

type updateTodoRequest struct {
	Text *string `json:"text"`
	Done *bool   `json:"done"`
}

// HandleUpdateTodo applies a partial write: text edit, done toggle, or both.
// No concurrency token is involved; the later of two concurrent edits wins.
func (h *APIHandler) HandleUpdateTodo(c echo.Context) error {
	var req updateTodoRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Text == nil && req.Done == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "nothing to update"})
	}
	if req.Text != nil && strings.TrimSpace(*req.Text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text cannot be empty"})
	}

	if err := h.store.UpdateTodo(c.Request().Context(), c.Param("id"), req.Text, req.Done); err != nil {
		h.log.Error().Err(err).Str("id", c.Param("id")).Msg("failed to update todo")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not update the to-do"})
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *APIHandler) HandleDeleteTodo(c echo.Context) error {
	if err := h.store.DeleteTodo(c.Request().Context(), c.Param("id")); err != nil {
		h.log.Error().Err(err).Str("id", c.Param("id")).Msg("failed to delete todo")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not delete the to-do"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *APIHandler) HandleListComments(c echo.Context) error {
	comments, err := h.store.ListComments(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.log.Error().Err(err).Str("id", c.Param("id")).Msg("failed to list comments")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not load comments"})
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	return c.JSON(http.StatusOK, comments)
}

type addCommentRequest struct {
	Text string `json:"text"`
}

func (h *APIHandler) HandleAddComment(c echo.Context) error {
	var req addCommentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a comment needs text"})
	}

	comment, err := h.store.AddComment(c.Request().Context(), c.Param("id"), strings.TrimSpace(req.Text))
	if err != nil {
		h.log.Error().Err(err).Str("id", c.Param("id")).Msg("failed to add comment")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not save the comment"})
	}

	return c.JSON(http.StatusCreated, comment)
}

func (h *APIHandler) HandleDeleteComment(c echo.Context) error {
	if err := h.store.DeleteComment(c.Request().Context(), c.Param("id"), c.Param("commentID")); err != nil {
		h.log.Error().Err(err).Str("id", c.Param("id")).Msg("failed to delete comment")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not delete the comment"})
	}
	return c.NoContent(http.StatusNoContent)
}

type registerTokenRequest struct {
	Token     string `json:"token"`
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform"`
	Language  string `json:"language"`
	TimeZone  string `json:"timeZone"`
	IsMobile  bool   `json:"isMobile"`
}

// HandleRegisterToken upserts the device token record. Registering the same
// token again refreshes its metadata, it never duplicates the record.
func (h *APIHandler) HandleRegisterToken(c echo.Context) error {
	var req registerTokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "token is required"})
	}

	token := &models.DeviceToken{
		Token:     req.Token,
		UserAgent: req.UserAgent,
		Platform:  req.Platform,
		Language:  req.Language,
		TimeZone:  req.TimeZone,
		IsMobile:  req.IsMobile,
	}
	if err := h.store.SaveDeviceToken(c.Request().Context(), token); err != nil {
		h.log.Error().Err(err).Msg("failed to save device token")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not register for notifications"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLiveList upgrades to a websocket and streams the full todo list as
// JSON: once on connect, then again on every remote change. The subscription
// is released when the peer goes away, whichever side notices first.
func (h *APIHandler) HandleLiveList(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case todos, ok := <-ch:
			if !ok {
				return nil
			}
			if todos == nil {
				todos = []*models.Todo{}
			}
			if err := conn.WriteJSON(todos); err != nil {
				return nil
			}
		case <-peerGone:
			return nil
		}
	}
}
