package model

import "time"

// User is a registered account that owns contacts and receives reminders
// ahead of their events.
type User struct {
	ID        uint      `gorm:"primaryKey"`
	Email     string    `gorm:"size:64;not null"`
	FirstName string    `gorm:"size:20;not null"`
	LastName  string    `gorm:"size:20"`
	Phone     string    `gorm:"size:15;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Contact is a person the user wants to keep in touch with.
type Contact struct {
	ID     uint   `gorm:"primaryKey"`
	Name   string `gorm:"size:64;not null"` // single field so "Mom" works
	Email  string `gorm:"size:64;not null"`
	Phone  string `gorm:"size:15"`
	UserID uint   `gorm:"index;not null"`
}

// Template holds the message body delivered to a contact when its event
// comes due. Version is bumped on every text write; updates are rejected
// when the caller's version is stale.
type Template struct {
	ID      uint   `gorm:"primaryKey"`
	Name    string `gorm:"size:64;not null"`
	Text    string `gorm:"type:text;not null"`
	Version uint   `gorm:"not null;default:1"`
}

// Event is a scheduled occasion: a calendar date (stored at midnight, no
// time-of-day), one template, and one or more contacts through ContactEvent.
type Event struct {
	ID         uint      `gorm:"primaryKey"`
	TemplateID uint      `gorm:"index;not null"`
	Date       time.Time `gorm:"index;not null"`
}

// ContactEvent associates contacts with events.
type ContactEvent struct {
	ID        uint `gorm:"primaryKey"`
	ContactID uint `gorm:"index;not null"`
	EventID   uint `gorm:"index;not null"`
}

// All lists every entity for migration.
func All() []interface{} {
	return []interface{}{&User{}, &Contact{}, &Template{}, &Event{}, &ContactEvent{}}
}
