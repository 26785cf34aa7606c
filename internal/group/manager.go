// Package group maintains group rosters and replicates every roster change
// into each member's denormalized chat index copy. The canonical group
// document in groups/{id} is the source of truth; authorization is always
// checked against it, never against a cached copy, and membership fan-out
// runs through the outbox so a partial pass can be resumed.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Berhanu27/chat-app/internal/events"
	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/outbox"
	"github.com/Berhanu27/chat-app/internal/store"
)

var (
	ErrGroupNotFound    = errors.New("group: not found")
	ErrNotAdmin         = errors.New("group: caller is not an admin")
	ErrNotMember        = errors.New("group: user is not a member")
	ErrCreatorImmutable = errors.New("group: the creator cannot be removed or demoted")
	ErrNameRequired     = errors.New("group: name is required")
	ErrMembersRequired  = errors.New("group: at least one member is required")
)

type Manager struct {
	store    store.Store
	outbox   *outbox.Outbox
	producer *events.Producer
	log      *zap.SugaredLogger
}

func NewManager(st store.Store, ob *outbox.Outbox, producer *events.Producer, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{store: st, outbox: ob, producer: producer, log: log}
}

// CreateGroup allocates the message log, writes the canonical group document
// and then fans one index entry out to every initial member. By convention
// the message log id equals the group id, which is also the invite code.
func (m *Manager) CreateGroup(ctx context.Context, creatorID, name, description string, memberIDs []string) (*models.Group, error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	members := dedupe(append([]string{creatorID}, memberIDs...))
	if len(members) < 2 {
		return nil, ErrMembersRequired
	}

	groupID := uuid.NewString()
	now := models.NowMillis()
	announcement := fmt.Sprintf("%s created the group", m.displayName(ctx, creatorID))

	log := models.MessageLog{
		CreateAt: now,
		Messages: []models.Message{models.NewSystemMessage(announcement)},
	}
	if err := m.store.Set(ctx, store.Messages, groupID, &log); err != nil {
		return nil, fmt.Errorf("create message log: %w", err)
	}

	group := models.Group{
		ID:          groupID,
		Name:        name,
		Description: description,
		CreatedBy:   creatorID,
		CreatedAt:   now,
		Members:     members,
		Admins:      []string{creatorID},
		MessagesID:  groupID,
	}
	if err := m.store.Set(ctx, store.Groups, groupID, &group); err != nil {
		return nil, fmt.Errorf("create group document: %w", err)
	}

	if err := m.fanOutUpsert(ctx, groupID, members, announcement, creatorID); err != nil {
		return &group, err
	}
	m.producer.Publish(ctx, events.Event{
		Type: events.GroupCreated, ActorID: creatorID, GroupID: groupID, Members: members,
	})
	return &group, nil
}

// AddMembers merges new members into the canonical roster and refreshes the
// denormalized copy of every member, old and new.
func (m *Manager) AddMembers(ctx context.Context, actorID, groupID string, newMemberIDs []string) error {
	group, err := m.authorize(ctx, actorID, groupID)
	if err != nil {
		return err
	}

	added := make([]string, 0, len(newMemberIDs))
	for _, id := range dedupe(newMemberIDs) {
		if !group.IsMember(id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil
	}

	group.Members = append(group.Members, added...)
	group.UpdatedAt = models.NowMillis()
	if err := m.store.Set(ctx, store.Groups, groupID, group); err != nil {
		return fmt.Errorf("update group document: %w", err)
	}

	names := make([]string, 0, len(added))
	for _, id := range added {
		name := m.displayName(ctx, id)
		names = append(names, name)
		m.appendSystem(ctx, group.MessagesID, fmt.Sprintf("%s was added to the group", name))
	}
	verb := "was"
	if len(names) > 1 {
		verb = "were"
	}
	announcement := fmt.Sprintf("%s %s added to the group", strings.Join(names, ", "), verb)

	if err := m.fanOutUpsert(ctx, groupID, group.Members, announcement, actorID); err != nil {
		return err
	}
	m.producer.Publish(ctx, events.Event{
		Type: events.MemberAdded, ActorID: actorID, GroupID: groupID, Members: added,
	})
	return nil
}

// RemoveMember strips a member from the roster, deletes their index entry
// and refreshes everyone else's denormalized copy. The creator can never be
// removed.
func (m *Manager) RemoveMember(ctx context.Context, actorID, groupID, memberID string) error {
	group, err := m.authorize(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	if memberID == group.CreatedBy {
		return ErrCreatorImmutable
	}
	if !group.IsMember(memberID) {
		return ErrNotMember
	}

	announcement := fmt.Sprintf("%s was removed from the group", m.displayName(ctx, memberID))
	if err := m.departMember(ctx, group, memberID, announcement, actorID); err != nil {
		return err
	}
	m.producer.Publish(ctx, events.Event{
		Type: events.MemberRemoved, ActorID: actorID, GroupID: groupID, Members: []string{memberID},
	})
	return nil
}

// LeaveGroup is the self-service variant of RemoveMember: no admin check,
// but the creator cannot leave their own group.
func (m *Manager) LeaveGroup(ctx context.Context, userID, groupID string) error {
	group, err := m.fetch(ctx, groupID)
	if err != nil {
		return err
	}
	if userID == group.CreatedBy {
		return ErrCreatorImmutable
	}
	if !group.IsMember(userID) {
		return ErrNotMember
	}

	announcement := fmt.Sprintf("%s left the group", m.displayName(ctx, userID))
	if err := m.departMember(ctx, group, userID, announcement, userID); err != nil {
		return err
	}
	m.producer.Publish(ctx, events.Event{
		Type: events.MemberLeft, ActorID: userID, GroupID: groupID, Members: []string{userID},
	})
	return nil
}

// PromoteAdmin grants admin to an existing member. Promoting the creator or
// an existing admin is a no-op.
func (m *Manager) PromoteAdmin(ctx context.Context, actorID, groupID, memberID string) error {
	group, err := m.authorize(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	if !group.IsMember(memberID) {
		return ErrNotMember
	}
	if group.IsAdmin(memberID) {
		return nil
	}

	group.Admins = append(group.Admins, memberID)
	group.UpdatedAt = models.NowMillis()
	if err := m.store.Set(ctx, store.Groups, groupID, group); err != nil {
		return fmt.Errorf("update group document: %w", err)
	}
	if err := m.fanOutUpsert(ctx, groupID, group.Members, "", actorID); err != nil {
		return err
	}
	m.producer.Publish(ctx, events.Event{
		Type: events.AdminPromoted, ActorID: actorID, GroupID: groupID, Members: []string{memberID},
	})
	return nil
}

// DemoteAdmin revokes admin. The creator's admin status is immutable.
func (m *Manager) DemoteAdmin(ctx context.Context, actorID, groupID, memberID string) error {
	group, err := m.authorize(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	if memberID == group.CreatedBy {
		return ErrCreatorImmutable
	}

	admins := make([]string, 0, len(group.Admins))
	for _, a := range group.Admins {
		if a != memberID {
			admins = append(admins, a)
		}
	}
	if len(admins) == len(group.Admins) {
		return nil
	}
	group.Admins = admins
	group.UpdatedAt = models.NowMillis()
	if err := m.store.Set(ctx, store.Groups, groupID, group); err != nil {
		return fmt.Errorf("update group document: %w", err)
	}
	if err := m.fanOutUpsert(ctx, groupID, group.Members, "", actorID); err != nil {
		return err
	}
	m.producer.Publish(ctx, events.Event{
		Type: events.AdminDemoted, ActorID: actorID, GroupID: groupID, Members: []string{memberID},
	})
	return nil
}

// ResolveInvite maps an invite code to its group. The code is simply the
// group id: a permanent capability that never expires and cannot be revoked.
func (m *Manager) ResolveInvite(ctx context.Context, inviteCode string) (*models.Group, error) {
	return m.fetch(ctx, inviteCode)
}

// JoinViaInvite adds the joiner to the roster and fans the change out.
// Joining a group you already belong to is a no-op: no roster write, no
// duplicate index entry.
func (m *Manager) JoinViaInvite(ctx context.Context, joinerID, inviteCode string) (*models.Group, error) {
	group, err := m.fetch(ctx, inviteCode)
	if err != nil {
		return nil, err
	}
	if group.IsMember(joinerID) {
		return group, nil
	}

	group.Members = append(group.Members, joinerID)
	group.UpdatedAt = models.NowMillis()
	if err := m.store.Set(ctx, store.Groups, group.ID, group); err != nil {
		return nil, fmt.Errorf("update group document: %w", err)
	}

	name := m.displayName(ctx, joinerID)
	m.appendSystem(ctx, group.MessagesID, fmt.Sprintf("%s joined the group via invite link", name))

	if err := m.fanOutUpsert(ctx, group.ID, group.Members, fmt.Sprintf("%s joined the group", name), joinerID); err != nil {
		return group, err
	}
	m.producer.Publish(ctx, events.Event{
		Type: events.MemberJoined, ActorID: joinerID, GroupID: group.ID, Members: []string{joinerID},
	})
	return group, nil
}

func (m *Manager) fetch(ctx context.Context, groupID string) (*models.Group, error) {
	var group models.Group
	if err := m.store.Get(ctx, store.Groups, groupID, &group); err != nil {
		if err == store.ErrNotFound {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// authorize loads the canonical group document and checks the actor against
// it. The denormalized groupData copies are never consulted here.
func (m *Manager) authorize(ctx context.Context, actorID, groupID string) (*models.Group, error) {
	group, err := m.fetch(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsAdmin(actorID) {
		return nil, ErrNotAdmin
	}
	return group, nil
}

func (m *Manager) departMember(ctx context.Context, group *models.Group, memberID, announcement, actorID string) error {
	members := make([]string, 0, len(group.Members))
	for _, id := range group.Members {
		if id != memberID {
			members = append(members, id)
		}
	}
	admins := make([]string, 0, len(group.Admins))
	for _, id := range group.Admins {
		if id != memberID {
			admins = append(admins, id)
		}
	}
	group.Members = members
	group.Admins = admins
	group.UpdatedAt = models.NowMillis()
	if err := m.store.Set(ctx, store.Groups, group.ID, group); err != nil {
		return fmt.Errorf("update group document: %w", err)
	}

	m.appendSystem(ctx, group.MessagesID, announcement)

	if err := m.fanOutRemove(ctx, group.ID, memberID); err != nil {
		return err
	}
	return m.fanOutUpsert(ctx, group.ID, group.Members, announcement, actorID)
}

// displayName is cosmetic: a missing profile falls back to the raw id.
func (m *Manager) displayName(ctx context.Context, userID string) string {
	var user models.User
	if err := m.store.Get(ctx, store.Users, userID, &user); err != nil || user.Name == "" {
		return userID
	}
	return user.Name
}

// appendSystem is best effort; a lost announcement does not fail the roster
// change it describes.
func (m *Manager) appendSystem(ctx context.Context, messagesID, text string) {
	var log models.MessageLog
	err := m.store.Get(ctx, store.Messages, messagesID, &log)
	if err != nil && err != store.ErrNotFound {
		m.log.Warnw("system message read failed", "messagesId", messagesID, "err", err)
		return
	}
	log.Messages = append(log.Messages, models.NewSystemMessage(text))
	if err := m.store.Set(ctx, store.Messages, messagesID, &log); err != nil {
		m.log.Warnw("system message write failed", "messagesId", messagesID, "err", err)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
