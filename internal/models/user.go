package models

// Settings is the per-user preference object. It lives inside the user
// document so a second device picks it up on login.
type Settings struct {
	SoundNotifications   bool `bson:"soundNotifications" json:"soundNotifications"`
	BrowserNotifications bool `bson:"browserNotifications" json:"browserNotifications"`
	ShowOnlineStatus     bool `bson:"showOnlineStatus" json:"showOnlineStatus"`
	ReadReceipts         bool `bson:"readReceipts" json:"readReceipts"`
	AutoDownloadMedia    bool `bson:"autoDownloadMedia" json:"autoDownloadMedia"`
	DarkMode             bool `bson:"darkMode" json:"darkMode"`
}

func DefaultSettings() Settings {
	return Settings{
		SoundNotifications:   true,
		BrowserNotifications: true,
		ShowOnlineStatus:     true,
		ReadReceipts:         true,
		AutoDownloadMedia:    true,
	}
}

// User is the profile document stored under users/{id}. LastSeen and
// CreatedAt are epoch milliseconds.
type User struct {
	ID           string   `bson:"id" json:"id"`
	Username     string   `bson:"username" json:"username"`
	Email        string   `bson:"email" json:"email"`
	Name         string   `bson:"name" json:"name"`
	Avatar       string   `bson:"avatar" json:"avatar"`
	Bio          string   `bson:"bio" json:"bio"`
	LastSeen     int64    `bson:"lastSeen" json:"lastSeen"`
	CreatedAt    int64    `bson:"createdAt" json:"createdAt"`
	BlockedUsers []string `bson:"blockedUsers,omitempty" json:"blockedUsers,omitempty"`
	Settings     Settings `bson:"settings" json:"settings"`

	// PasswordHash never leaves the server.
	PasswordHash string `bson:"passwordHash,omitempty" json:"-"`
}
