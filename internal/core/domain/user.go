package domain

import "time"

type UserID string

type User struct {
	ID          UserID
	DisplayName string
	IsAdmin     bool
	CreatedAt   time.Time
}

// Room pairs exactly two users for the lifetime of one match.
type Room struct {
	ID        RoomID
	Initiator UserID
	Responder UserID
	CreatedAt time.Time
}

// Partner returns the other member of the room, or false if user is not a member.
func (r *Room) Partner(user UserID) (UserID, bool) {
	switch user {
	case r.Initiator:
		return r.Responder, true
	case r.Responder:
		return r.Initiator, true
	}
	return "", false
}

// QueueEntry is one waiting user in the matchmaking queue.
type QueueEntry struct {
	UserID   UserID    `json:"user_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// BanRecord is the server-side ban state for a user.
type BanRecord struct {
	UserID    UserID    `json:"user_id"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the ban is in force at now. A zero expiry is permanent.
func (b *BanRecord) Active(now time.Time) bool {
	if b == nil {
		return false
	}
	return b.ExpiresAt.IsZero() || now.Before(b.ExpiresAt)
}

type ReportReason string

const (
	ReportInappropriateContent ReportReason = "inappropriate_content"
	ReportHarassment           ReportReason = "harassment"
	ReportNudity               ReportReason = "nudity"
	ReportSpam                 ReportReason = "spam"
	ReportOther                ReportReason = "other"
)

func (r ReportReason) Valid() bool {
	switch r {
	case ReportInappropriateContent, ReportHarassment, ReportNudity, ReportSpam, ReportOther:
		return true
	}
	return false
}

// Report is one user's complaint about the partner they were matched with.
// Reports only feed moderation; they never ban on their own.
type Report struct {
	ID         string       `json:"id"`
	ReporterID UserID       `json:"reporter_id"`
	ReportedID UserID       `json:"reported_id"`
	RoomID     RoomID       `json:"room_id"`
	Reason     ReportReason `json:"reason"`
	Details    string       `json:"details,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}
