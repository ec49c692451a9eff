package models

import "time"

// User is a directory entry. ID is the auth provider's stable uid and the identity
// key used for conversation members and message senders; Email is a mutable attribute.
type User struct {
	ID              string    `db:"id" json:"id"`
	Email           string    `db:"email" json:"email"`
	Username        string    `db:"username" json:"username"`
	ProfileImageURL string    `db:"profile_image_url" json:"profile_image_url"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Profile is the render-ready subset of a User.
type Profile struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Profile projects the user into its public profile.
func (u User) Profile() Profile {
	return Profile{
		UserID:          u.ID,
		Email:           u.Email,
		Username:        u.Username,
		ProfileImageURL: u.ProfileImageURL,
	}
}
