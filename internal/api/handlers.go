package api

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/Berhanu27/chat-app/internal/auth"
	"github.com/Berhanu27/chat-app/internal/group"
	"github.com/Berhanu27/chat-app/internal/media"
	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/store"
	appsync "github.com/Berhanu27/chat-app/internal/sync"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, group.ErrGroupNotFound),
		errors.Is(err, appsync.ErrMessageNotFound),
		errors.Is(err, auth.ErrEmailNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, group.ErrNotAdmin),
		errors.Is(err, group.ErrCreatorImmutable),
		errors.Is(err, appsync.ErrNotAllowed),
		errors.Is(err, appsync.ErrNotParticipant):
		return fiber.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired):
		return fiber.StatusUnauthorized
	case errors.Is(err, auth.ErrUsernameTaken),
		errors.Is(err, auth.ErrEmailTaken):
		return fiber.StatusConflict
	case errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, appsync.ErrInvalidMessage),
		errors.Is(err, group.ErrNameRequired),
		errors.Is(err, group.ErrMembersRequired),
		errors.Is(err, group.ErrNotMember),
		errors.Is(err, media.ErrTooLarge),
		errors.Is(err, media.ErrEmptyFile):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) session(c *fiber.Ctx) (*appsync.Session, error) {
	return s.sessions.get(c.Locals("user_id").(string))
}

// --- auth ---

type signUpReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) signUp(c *fiber.Ctx) error {
	var req signUpReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	user, token, err := s.auth.SignUp(c.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user, "token": token})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(c *fiber.Ctx) error {
	var req loginReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	user, token, err := s.auth.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"user": user, "token": token})
}

func (s *Server) logout(c *fiber.Ctx) error {
	s.sessions.close(c.Locals("user_id").(string))
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) resetPassword(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email required")
	}
	if _, err := s.auth.ResetPassword(c.Context(), req.Email); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "reset email sent"})
}

func (s *Server) completeReset(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if err := s.auth.CompletePasswordReset(c.Context(), req.Email, req.Token, req.Password); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "password updated"})
}

// --- profile ---

func (s *Server) me(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(sess.User)
}

func (s *Server) updateProfile(c *fiber.Ctx) error {
	var req struct {
		Name   string `json:"name"`
		Bio    string `json:"bio"`
		Avatar string `json:"avatar"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	if err := sess.UpdateProfile(c.Context(), req.Name, req.Bio, req.Avatar); err != nil {
		return fail(c, err)
	}
	return c.JSON(sess.User)
}

func (s *Server) saveSettings(c *fiber.Ctx) error {
	var settings models.Settings
	if err := c.BodyParser(&settings); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	if err := sess.SaveSettings(c.Context(), settings); err != nil {
		return fail(c, err)
	}
	return c.JSON(settings)
}

func (s *Server) blockUser(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	if err := sess.BlockUser(c.Context(), c.Params("user_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) unblockUser(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	if err := sess.UnblockUser(c.Context(), c.Params("user_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) searchUser(c *fiber.Ctx) error {
	username := c.Query("username")
	if username == "" {
		return fiber.NewError(fiber.StatusBadRequest, "username required")
	}
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	user, err := sess.SearchUser(c.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(fiber.Map{"user": nil})
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}

// --- chats ---

func (s *Server) openChat(c *fiber.Ctx) error {
	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.PeerID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "peer_id required")
	}
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	entry, err := sess.OpenChat(c.Context(), req.PeerID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(entry)
}

func (s *Server) removeContact(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	if err := sess.RemoveContact(c.Context(), c.Params("messages_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "removed"})
}

type sendMessageReq struct {
	Kind     string  `json:"kind"`
	Text     string  `json:"text"`
	URL      string  `json:"url"`
	Format   string  `json:"format"`
	Duration float64 `json:"duration"`
	FileName string  `json:"fileName"`
	FileSize int64   `json:"fileSize"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}

	var msg models.Message
	switch req.Kind {
	case "", string(models.KindText):
		msg, err = models.NewTextMessage(sess.UserID, req.Text)
	case string(models.KindImage):
		msg, err = models.NewImageMessage(sess.UserID, req.URL)
	case string(models.KindVideo):
		msg, err = models.NewVideoMessage(sess.UserID, req.URL, req.Format, req.Duration)
	case string(models.KindDocument):
		msg, err = models.NewDocumentMessage(sess.UserID, req.URL, req.FileName, req.FileSize, req.Format)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown message kind")
	}
	if err != nil {
		return fail(c, err)
	}

	if err := sess.SendMessage(c.Context(), c.Params("messages_id"), msg); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

type messageRef struct {
	ID        string `json:"id"`
	SID       string `json:"sId"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Server) editMessage(c *fiber.Ctx) error {
	var req struct {
		messageRef
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	target := models.Message{ID: req.ID, SID: req.SID, CreatedAt: req.CreatedAt}
	if err := sess.EditMessage(c.Context(), c.Params("messages_id"), target, req.Text); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "edited"})
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	var req messageRef
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	target := models.Message{ID: req.ID, SID: req.SID, CreatedAt: req.CreatedAt}
	if err := sess.DeleteMessage(c.Context(), c.Params("messages_id"), target); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}

func (s *Server) markSeen(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return fail(c, err)
	}
	if err := sess.MarkSeen(c.Context(), c.Params("messages_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// --- groups ---

func (s *Server) createGroup(c *fiber.Ctx) error {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		MemberIDs   []string `json:"member_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	userID := c.Locals("user_id").(string)
	g, err := s.groups.CreateGroup(c.Context(), userID, req.Name, req.Description, req.MemberIDs)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(g)
}

func (s *Server) addMembers(c *fiber.Ctx) error {
	var req struct {
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	userID := c.Locals("user_id").(string)
	if err := s.groups.AddMembers(c.Context(), userID, c.Params("group_id"), req.MemberIDs); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) removeMember(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	if err := s.groups.RemoveMember(c.Context(), userID, c.Params("group_id"), c.Params("member_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) promoteAdmin(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	if err := s.groups.PromoteAdmin(c.Context(), userID, c.Params("group_id"), c.Params("member_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) demoteAdmin(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	if err := s.groups.DemoteAdmin(c.Context(), userID, c.Params("group_id"), c.Params("member_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) leaveGroup(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	if err := s.groups.LeaveGroup(c.Context(), userID, c.Params("group_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) invitePreview(c *fiber.Ctx) error {
	g, err := s.groups.ResolveInvite(c.Context(), c.Params("group_id"))
	if err != nil {
		return fail(c, err)
	}
	// preview only: no roster mutation before the user confirms
	return c.JSON(fiber.Map{
		"id":          g.ID,
		"name":        g.Name,
		"description": g.Description,
		"avatar":      g.Avatar,
		"members":     len(g.Members),
		"createdAt":   g.CreatedAt,
	})
}

func (s *Server) joinGroup(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	g, err := s.groups.JoinViaInvite(c.Context(), userID, c.Params("group_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(g)
}

// --- media ---

func (s *Server) uploadMedia(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "file required")
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fail(c, err)
	}

	duration := c.QueryFloat("duration")
	res, err := s.uploader.Upload(c.Context(), fh.Filename, fh.Header.Get("Content-Type"), data, duration)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res)
}
