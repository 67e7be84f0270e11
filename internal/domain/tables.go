package domain

var Tables = []interface{}{
	// Inbox
	&User{},
	&Conversation{},
	&Message{},
}
