package devserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/notepid/portal_inbox/internal/message"
	"github.com/notepid/portal_inbox/internal/user"
)

// userJSON is the serialized form of an account.
type userJSON struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func toUserJSON(u *user.User) userJSON {
	return userJSON{ID: u.ID, Username: u.Username, Email: u.Email, Name: u.Name, Role: u.Role}
}

func abortDetail(c *gin.Context, status int, detail, code string) {
	body := gin.H{"detail": detail}
	if code != "" {
		body["code"] = code
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	abortDetail(c, http.StatusInternalServerError, "Something went wrong", "")
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"non_field_errors": []string{"Email and password are required"}})
		return
	}
	login := req.Email
	if login == "" {
		login = req.Username
	}
	if strings.TrimSpace(login) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"non_field_errors": []string{"Email and password are required"}})
		return
	}

	u, err := s.users.Authenticate(login, req.Password)
	if errors.Is(err, user.ErrInvalidCredentials) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"non_field_errors": []string{"No active account found with the given credentials"}})
		return
	}
	if err != nil {
		s.internalError(c, "authenticate", err)
		return
	}

	access, refresh, err := s.tokens.pair(u)
	if err != nil {
		s.internalError(c, "issue tokens", err)
		return
	}
	s.logger.Info("login", zap.Int64("user_id", u.ID))
	c.JSON(http.StatusOK, gin.H{
		"access":  access,
		"refresh": refresh,
		"token":   access,
		"user":    toUserJSON(u),
	})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, toUserJSON(currentUser(c)))
}

func (s *Server) handleSearchUsers(c *gin.Context) {
	me := currentUser(c)
	users, err := s.users.Search(c.Query("search"), me.ID, 20)
	if err != nil {
		s.internalError(c, "search users", err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for i := range users {
		out = append(out, toUserJSON(&users[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListMessages(c *gin.Context) {
	msgs, err := s.messages.ListForUser(currentUser(c).ID)
	if err != nil {
		s.internalError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type postMessageRequest struct {
	Receiver int64  `json:"receiver" binding:"required,gt=0"`
	Content  string `json:"content" binding:"required"`
}

func (s *Server) handlePostMessage(c *gin.Context) {
	me := currentUser(c)

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "receiver and content are required", "invalid")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		abortDetail(c, http.StatusBadRequest, "This field may not be blank.", "blank")
		return
	}
	if req.Receiver == me.ID {
		abortDetail(c, http.StatusBadRequest, "You cannot message yourself.", "invalid")
		return
	}
	if _, err := s.users.GetByID(req.Receiver); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			abortDetail(c, http.StatusBadRequest, "Invalid pk \""+strconv.FormatInt(req.Receiver, 10)+"\" - object does not exist.", "does_not_exist")
			return
		}
		s.internalError(c, "load receiver", err)
		return
	}

	m, err := s.messages.Post(me.ID, req.Receiver, content)
	if err != nil {
		s.internalError(c, "post message", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

type patchMessageRequest struct {
	IsRead *bool `json:"is_read"`
}

func (s *Server) handlePatchMessage(c *gin.Context) {
	me := currentUser(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortDetail(c, http.StatusNotFound, "Not found.", "not_found")
		return
	}
	var req patchMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "Invalid body.", "invalid")
		return
	}
	read := true
	if req.IsRead != nil {
		read = *req.IsRead
	}

	m, err := s.messages.MarkRead(id, me.ID, read)
	if errors.Is(err, message.ErrNotFound) {
		abortDetail(c, http.StatusNotFound, "Not found.", "not_found")
		return
	}
	if err != nil {
		s.internalError(c, "mark read", err)
		return
	}
	c.JSON(http.StatusOK, m)
}
