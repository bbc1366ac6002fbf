package models

import "time"

// User is a locally registered citizen identity.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultReporterName labels reports submitted without a signed-in user.
const DefaultReporterName = "Citizen"
