// Package businessflow contains the broadcast lifecycle and scheduled messaging use cases
package businessflow

import (
	"github.com/amirphl/whatsapp-broadcast/app/dto"
	"github.com/amirphl/whatsapp-broadcast/models"
)

// ToBroadcastDTO converts a broadcast model to its public view
func ToBroadcastDTO(b models.Broadcast) dto.BroadcastDTO {
	tags := make([]string, len(b.ContactTags))
	copy(tags, b.ContactTags)

	return dto.BroadcastDTO{
		UUID:           b.UUID.String(),
		Name:           b.Name,
		TemplateName:   b.TemplateName,
		Language:       b.Language,
		ContactTags:    tags,
		Status:         b.Status.String(),
		ScheduledAt:    b.ScheduledAt,
		ScheduledCount: b.ScheduledCount,
		SentCount:      b.SentCount,
		DeliveredCount: b.DeliveredCount,
		ReadCount:      b.ReadCount,
		RepliedCount:   b.RepliedCount,
		FailedCount:    b.FailedCount,
		FailureCode:    b.FailureCode,
		FailureReason:  b.FailureReason,
		StartedAt:      b.StartedAt,
		CompletedAt:    b.CompletedAt,
		CreatedAt:      b.CreatedAt,
	}
}

// ToRecipientDTO converts a recipient row and resolves its display status
func ToRecipientDTO(rc models.BroadcastContact) dto.BroadcastRecipientDTO {
	return dto.BroadcastRecipientDTO{
		ContactID:         rc.ContactID,
		BatchID:           rc.BatchID.String(),
		Status:            string(rc.DisplayStatus()),
		SentAt:            rc.SentAt,
		DeliveredAt:       rc.DeliveredAt,
		ReadAt:            rc.ReadAt,
		RepliedAt:         rc.RepliedAt,
		FailedAt:          rc.FailedAt,
		ProviderMessageID: rc.ProviderMessageID,
		FailureReason:     rc.FailureReason,
		SendAttempts:      rc.SendAttempts,
	}
}

func ToBatchDTO(b models.BroadcastBatch) dto.BroadcastBatchDTO {
	return dto.BroadcastBatchDTO{
		ID:             b.ID.String(),
		ScheduledCount: b.ScheduledCount,
		Status:         b.Status.String(),
		ClaimedBy:      b.ClaimedBy,
		ClaimedAt:      b.ClaimedAt,
		CompletedAt:    b.CompletedAt,
	}
}

func ToScheduledMessageDTO(m models.ScheduledMessage) dto.ScheduledMessageDTO {
	return dto.ScheduledMessageDTO{
		UUID:           m.UUID.String(),
		To:             m.To,
		MessageType:    string(m.MessageType),
		MessageContent: m.MessageContent,
		TemplateData:   m.TemplateData,
		ScheduledAt:    m.ScheduledAt,
		NextAttemptAt:  m.NextAttemptAt,
		Status:         m.Status.String(),
		SentAt:         m.SentAt,
		WamID:          m.WamID,
		ErrorMessage:   m.ErrorMessage,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		CreatedAt:      m.CreatedAt,
	}
}
