package models

// UserData is the display data of a chat member as reported by the transport.
type UserData struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName prefers the first name, then the last name, then the username.
func (u UserData) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.LastName != "" {
		return u.LastName
	}
	return u.Username
}
