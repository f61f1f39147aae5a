package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexzee/corpersafe/internal/db"
	"github.com/lexzee/corpersafe/internal/trip"

	"github.com/sirupsen/logrus"
)

var ErrNoRecipient = errors.New("no emergency contact on file")

type Service struct {
	db       db.Querier
	provider Provider
	baseURL  string
	log      logrus.FieldLogger
}

func NewService(db db.Querier, provider Provider, baseURL string, log logrus.FieldLogger) *Service {
	return &Service{db: db, provider: provider, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// Notify alerts the trip owner's next-of-kin through the configured provider.
func (s *Service) Notify(ctx context.Context, c trip.Contact) error {
	recipient := c.NextOfKin
	if s.provider.Addressing() == AddressEmail {
		recipient = c.NextOfKinEmail
	}
	return s.SendEmergencyAlert(ctx, c.TripID, recipient, Context{
		PCMName:      c.FullName,
		PlateNumber:  c.PlateNumber,
		TrackingLink: s.TrackingLink(c.TrackingCode),
	})
}

func (s *Service) TrackingLink(code string) string {
	return s.baseURL + "/track?code=" + code
}

// SendEmergencyAlert delivers one alert and records the attempt, sent or
// failed, in alert_logs. A failure to record is logged, not returned.
func (s *Service) SendEmergencyAlert(ctx context.Context, tripID, recipient string, info Context) error {
	if recipient == "" {
		return ErrNoRecipient
	}

	msg := Message{TripID: tripID, Recipient: recipient, Body: Body(info), Context: info}
	ref, sendErr := s.provider.Send(ctx, msg)

	rec := Record{
		TripID:           tripID,
		RecipientContact: recipient,
		MessageBody:      msg.Body,
		Status:           StatusSent,
		ProviderID:       s.provider.Name(),
	}
	if sendErr != nil {
		rec.Status = StatusFailed
		rec.MessageBody = "Failed: " + sendErr.Error()
	}

	entry := s.log.WithFields(logrus.Fields{"trip_id": tripID, "provider": rec.ProviderID, "ref": ref})
	if err := s.record(ctx, &rec); err != nil {
		entry.WithError(err).Error("record alert attempt")
	}
	if sendErr != nil {
		entry.WithError(sendErr).Error("emergency alert failed")
		return fmt.Errorf("send emergency alert: %w", sendErr)
	}
	entry.Info("emergency alert sent")
	return nil
}

func (s *Service) record(ctx context.Context, rec *Record) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO alert_logs (trip_id, recipient_contact, message_body, status, provider_id)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at
	`, rec.TripID, rec.RecipientContact, rec.MessageBody, rec.Status, rec.ProviderID)
	return row.Scan(&rec.ID, &rec.CreatedAt)
}

func (s *Service) ListAlerts(ctx context.Context, tripID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, recipient_contact, message_body, status, COALESCE(provider_id,''), created_at
		FROM alert_logs
		WHERE trip_id=$1
		ORDER BY created_at DESC
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.TripID, &r.RecipientContact, &r.MessageBody, &r.Status, &r.ProviderID, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Body renders the SMS/email text for an alert.
func Body(info Context) string {
	name := info.PCMName
	if name == "" {
		name = "A corps member"
	}
	return fmt.Sprintf("SOS: %s (vehicle %s) pressed the panic button. Track live: %s",
		name, info.PlateNumber, info.TrackingLink)
}
