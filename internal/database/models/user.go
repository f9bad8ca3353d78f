package models

import "time"

// DateLayout is the calendar-date format stored in LastRequestDate.
const DateLayout = "2006-01-02"

// User represents a registered bot user and their authorization state.
type User struct {
	UserID          int64     `bson:"user_id"`
	Username        string    `bson:"username,omitempty"`
	FirstName       string    `bson:"first_name,omitempty"`
	RequestsToday   int       `bson:"requests_today"`
	LastRequestDate string    `bson:"last_request_date"`
	IsAuthorized    bool      `bson:"is_authorized"`
	IsAdmin         bool      `bson:"is_admin"`
	FirstSeen       time.Time `bson:"first_seen"`
	LastSeen        time.Time `bson:"last_seen"`
}
