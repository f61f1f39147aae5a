package alert

import "time"

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Addressing says which next-of-kin field a provider delivers to.
type Addressing int

const (
	AddressPhone Addressing = iota
	AddressEmail
)

// Context is what the recipient needs to find the traveller.
type Context struct {
	PCMName      string `json:"pcm_name"`
	PlateNumber  string `json:"plate_number"`
	TrackingLink string `json:"tracking_link"`
}

// Message is handed to a provider for delivery.
type Message struct {
	TripID    string  `json:"trip_id"`
	Recipient string  `json:"to"`
	Body      string  `json:"body"`
	Context   Context `json:"context"`
}

// Record is one row of the alert log.
type Record struct {
	ID               int64     `json:"id"`
	TripID           string    `json:"trip_id"`
	RecipientContact string    `json:"recipient_contact"`
	MessageBody      string    `json:"message_body"`
	Status           string    `json:"status"`
	ProviderID       string    `json:"provider_id"`
	CreatedAt        time.Time `json:"created_at"`
}
