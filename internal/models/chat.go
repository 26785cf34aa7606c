package models

// ChatIndexEntry is one element of a user's chats/{uid} document. Every
// participant of a conversation holds an independent copy; there is no
// canonical shared row, so every write path has to touch all copies.
type ChatIndexEntry struct {
	MessagesID  string `bson:"messagesId" json:"messagesId"`
	RID         string `bson:"rId" json:"rId"` // peer user id, or group id
	LastMessage string `bson:"lastMessage" json:"lastMessage"`
	// Two update stamps exist historically; readers order by the larger one.
	UpdateAt    int64 `bson:"updateAt,omitempty" json:"updateAt,omitempty"`
	UpdatedAt   int64 `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
	MessageSeen bool  `bson:"messageSeen" json:"messageSeen"`
	IsGroup     bool  `bson:"isGroup,omitempty" json:"isGroup,omitempty"`

	// Denormalized snapshots. UserData is re-fetched on every chat index
	// snapshot; GroupData is trusted as stored and refreshed only by group
	// membership fan-out.
	UserData  *User  `bson:"userData,omitempty" json:"userData,omitempty"`
	GroupData *Group `bson:"groupData,omitempty" json:"groupData,omitempty"`
}

// LastActivity is the ordering key for the chat list.
func (e ChatIndexEntry) LastActivity() int64 {
	if e.UpdatedAt > e.UpdateAt {
		return e.UpdatedAt
	}
	return e.UpdateAt
}

// ChatIndex is the chats/{uid} document.
type ChatIndex struct {
	ChatData []ChatIndexEntry `bson:"chatData" json:"chatData"`
}

// EntryFor returns the index of the entry referencing messagesID, or -1.
func (ci *ChatIndex) EntryFor(messagesID string) int {
	for i := range ci.ChatData {
		if ci.ChatData[i].MessagesID == messagesID {
			return i
		}
	}
	return -1
}

// Group is the canonical group document stored under groups/{id}. A copy is
// also denormalized into every member's ChatIndexEntry.GroupData, and the two
// can diverge between fan-out passes.
type Group struct {
	ID          string   `bson:"id" json:"id"`
	Name        string   `bson:"name" json:"name"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	Avatar      string   `bson:"avatar,omitempty" json:"avatar,omitempty"`
	CreatedBy   string   `bson:"createdBy" json:"createdBy"`
	CreatedAt   int64    `bson:"createdAt" json:"createdAt"`
	Members     []string `bson:"members" json:"members"`
	Admins      []string `bson:"admins" json:"admins"`
	MessagesID  string   `bson:"messagesId" json:"messagesId"`
	UpdatedAt   int64    `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

func (g *Group) IsMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (g *Group) IsAdmin(userID string) bool {
	if userID == g.CreatedBy {
		return true
	}
	for _, a := range g.Admins {
		if a == userID {
			return true
		}
	}
	return false
}
