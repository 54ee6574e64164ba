// sentiric-dialer-service/internal/database/store.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentiric/sentiric-dialer-service/internal/domain"
)

// Store, kampanya/kontak/çağrı kayıtları için kalıcılık katmanıdır.
// Bu servis onu işlemsel bir kayıt defteri olarak kullanır; şema ve içe
// aktarma (CSV import) başka bir servisin sorumluluğundadır.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	var c domain.Campaign
	query := `
		SELECT id, name, status, completed_calls, failed_calls, pending_calls, appointments, created_at, updated_at
		FROM campaigns WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Status, &c.CompletedCalls, &c.FailedCalls, &c.PendingCalls, &c.Appointments, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("kampanya bulunamadı: id=%d", id)
		}
		return nil, fmt.Errorf("kampanya sorgusu başarısız: %w", err)
	}
	return &c, nil
}

func (s *Store) SetCampaignStatus(ctx context.Context, id int64, status domain.CampaignStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("kampanya durumu güncellenemedi: %w", err)
	}
	return nil
}

// NextPendingContact, kampanyanın FIFO sırasındaki bir sonraki bekleyen
// kontağı döndürür. Kuyruk boşsa (nil, nil) döner.
func (s *Store) NextPendingContact(ctx context.Context, campaignID int64) (*domain.Contact, error) {
	var c domain.Contact
	var talkingPoints []byte
	query := `
		SELECT id, campaign_id, phone_number, name, talking_points, status, attempts
		FROM contacts
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY id ASC LIMIT 1`
	err := s.db.QueryRowContext(ctx, query, campaignID).Scan(
		&c.ID, &c.CampaignID, &c.PhoneNumber, &c.Name, &talkingPoints, &c.Status, &c.Attempts,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bekleyen kontak sorgusu başarısız: %w", err)
	}
	if len(talkingPoints) > 0 {
		if err := json.Unmarshal(talkingPoints, &c.TalkingPoints); err != nil {
			// Bozuk satış notları kontağı aranamaz yapmaz, sadece bağlamsız aranır.
			c.TalkingPoints = nil
		}
	}
	return &c, nil
}

func (s *Store) SetContactStatus(ctx context.Context, contactID int64, status domain.ContactStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET status = $1 WHERE id = $2`, status, contactID)
	if err != nil {
		return fmt.Errorf("kontak durumu güncellenemedi: %w", err)
	}
	return nil
}

func (s *Store) IncrementContactAttempts(ctx context.Context, contactID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET attempts = attempts + 1 WHERE id = $1`, contactID)
	if err != nil {
		return fmt.Errorf("kontak deneme sayısı güncellenemedi: %w", err)
	}
	return nil
}

// RecordContactOutcome, kontak durumunu ve kampanya sayaçlarını tek bir
// transaction içinde günceller; sayaçların kontak durumlarından türetilebilir
// kalması bu sayede garanti edilir.
func (s *Store) RecordContactOutcome(ctx context.Context, contact *domain.Contact, outcome domain.ContactStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transaction başlatılamadı: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE contacts SET status = $1 WHERE id = $2`, outcome, contact.ID); err != nil {
		return fmt.Errorf("kontak sonucu yazılamadı: %w", err)
	}

	var counterSQL string
	switch outcome {
	case domain.ContactCompleted:
		counterSQL = `UPDATE campaigns SET completed_calls = completed_calls + 1, pending_calls = GREATEST(pending_calls - 1, 0), updated_at = NOW() WHERE id = $1`
	case domain.ContactFailed, domain.ContactNoAnswer:
		counterSQL = `UPDATE campaigns SET failed_calls = failed_calls + 1, pending_calls = GREATEST(pending_calls - 1, 0), updated_at = NOW() WHERE id = $1`
	default:
		return tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, counterSQL, contact.CampaignID); err != nil {
		return fmt.Errorf("kampanya sayaçları güncellenemedi: %w", err)
	}

	return tx.Commit()
}

func (s *Store) CreateCall(ctx context.Context, call *domain.Call) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, contact_id, campaign_id, channel, bridge, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		call.ID, call.ContactID, call.CampaignID, call.Channel, call.Bridge, call.Status, call.StartedAt)
	if err != nil {
		return fmt.Errorf("çağrı kaydı oluşturulamadı: %w", err)
	}
	return nil
}

func (s *Store) FinishCall(ctx context.Context, callID string, status domain.CallStatus, recordingPath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calls SET status = $1, ended_at = $2, recording_path = $3 WHERE id = $4`,
		status, time.Now().UTC(), recordingPath, callID)
	if err != nil {
		return fmt.Errorf("çağrı kaydı kapatılamadı: %w", err)
	}
	return nil
}

func (s *Store) SaveTurn(ctx context.Context, turn *domain.ConversationTurn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (call_id, seq, speaker, text, audio_path, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.CallID, turn.Seq, turn.Speaker, turn.Text, turn.AudioPath, turn.Latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("konuşma turu kaydedilemedi: %w", err)
	}
	return nil
}

func (s *Store) SaveAppointment(ctx context.Context, appt *domain.Appointment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transaction başlatılamadı: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO appointments (call_id, contact_id, campaign_id, scheduled_at, interest_level, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		appt.CallID, appt.ContactID, appt.CampaignID, appt.ScheduledAt, appt.InterestLevel, appt.Notes); err != nil {
		return fmt.Errorf("randevu kaydedilemedi: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET appointments = appointments + 1, updated_at = NOW() WHERE id = $1`,
		appt.CampaignID); err != nil {
		return fmt.Errorf("randevu sayacı güncellenemedi: %w", err)
	}

	return tx.Commit()
}

// GetTemplate, kampanya metni şablonunu döndürür. Şablon bulunamazsa hata
// döner; çağıran taraf sabit yedek metinlerle devam eder.
func (s *Store) GetTemplate(ctx context.Context, templateID, languageCode string) (string, error) {
	var content string
	query := `
		SELECT content FROM templates
		WHERE id = $1 AND language_code = $2
		LIMIT 1`
	err := s.db.QueryRowContext(ctx, query, templateID, languageCode).Scan(&content)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("şablon bulunamadı: id=%s, lang=%s", templateID, languageCode)
		}
		return "", fmt.Errorf("şablon sorgusu başarısız: %w", err)
	}
	return content, nil
}
