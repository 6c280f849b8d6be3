package models

// All returns every persisted model in migration order.
func All() []any {
	return []any{
		&User{},
		&Category{},
		&Tag{},
		&Thread{},
		&Post{},
		&Vote{},
		&Subscription{},
		&Report{},
		&Webhook{},
		&WebhookDelivery{},
	}
}
