package domain

// Message is the only payload shape accepted on the wire: a string-keyed
// map of primitive (or nested) values. Anything that does not decode to
// this shape is rejected before it reaches a consumer.
type Message map[string]any

// Credentials is a username/password pair presented during authentication.
type Credentials struct {
	Username string
	Password string
}

// Map renders the credentials as a wire message for sealing.
func (c Credentials) Map() Message {
	return Message{"username": c.Username, "password": c.Password}
}

// CredentialsFromMessage extracts a credential pair from a decoded wire
// message. Missing or non-string fields yield ok == false.
func CredentialsFromMessage(m Message) (Credentials, bool) {
	user, uok := m["username"].(string)
	pass, pok := m["password"].(string)
	if !uok || !pok {
		return Credentials{}, false
	}
	return Credentials{Username: user, Password: pass}, true
}
