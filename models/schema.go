package models

// Schema lists the tables owned by the broadcast service, in dependency order
func Schema() []any {
	return []any{
		&Contact{},
		&Broadcast{},
		&BroadcastBatch{},
		&BroadcastContact{},
		&ScheduledMessage{},
	}
}
