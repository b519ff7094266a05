package models

import "time"

// User is an account known to the service. IsOnline and LastSeen are the
// persisted presence record.
type User struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	IsOnline  bool      `db:"is_online" json:"isOnline"`
	LastSeen  time.Time `db:"last_seen" json:"lastSeen"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
