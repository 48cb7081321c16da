package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("activity: invalid user id")
	// ErrInvalidChannelID indicates that a channel identifier is empty or exceeds storage bounds.
	ErrInvalidChannelID = errors.New("activity: invalid channel id")
	// ErrInvalidUsername indicates that a display name is empty.
	ErrInvalidUsername = errors.New("activity: invalid username")
	// ErrInvalidChannelName indicates that a channel name is empty.
	ErrInvalidChannelName = errors.New("activity: invalid channel name")
)

// Record is the live, mutable message counter for one user in one channel.
// Counts only ever increase; username, roles and channel name track the
// values supplied with the most recent message.
type Record struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	ChannelID    string    `gorm:"column:channel_id;primaryKey;size:190;not null"`
	Username     string    `gorm:"column:username;size:320;not null"`
	Roles        string    `gorm:"column:roles;type:text;not null"`
	ChannelName  string    `gorm:"column:channel_name;size:320;not null"`
	MessageCount int64     `gorm:"column:message_count;not null;default:0"`
	LastMessage  time.Time `gorm:"column:last_message;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "activity_records"
}

// Message describes one qualifying message as supplied by the ingestion
// collaborator. Membership and role resolution happen upstream; this core
// stores what it is given.
type Message struct {
	UserID      string
	Username    string
	Roles       []string
	ChannelID   string
	ChannelName string
}

func (m Message) validate() error {
	if err := validateIdentifier(m.UserID, ErrInvalidUserID); err != nil {
		return err
	}
	if err := validateIdentifier(m.ChannelID, ErrInvalidChannelID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Username) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if strings.TrimSpace(m.ChannelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannelName)
	}
	return nil
}

func validateIdentifier(value string, sentinel error) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return nil
}

// joinRoles serializes the caller-resolved role names for storage.
func joinRoles(roles []string) string {
	return strings.Join(roles, ",")
}
