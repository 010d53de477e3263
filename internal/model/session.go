package model

// Session is the credential pair supplied by the auth collaborator.
// An empty token means "no session": any live connection must be torn down.
type Session struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Valid reports whether the session can be used to open a connection.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Token != ""
}
