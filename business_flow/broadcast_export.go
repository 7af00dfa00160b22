package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/xuri/excelize/v2"
)

const recipientsSheet = "recipients"

var recipientsHeader = []string{
	"contact_id", "batch_id", "status", "provider_message_id", "send_attempts",
	"sent_at", "delivered_at", "read_at", "replied_at", "failed_at", "failure_reason",
}

// ExportRecipients renders every recipient of the broadcast with its display status as an xlsx workbook
func (f *BroadcastFlowImpl) ExportRecipients(ctx context.Context, broadcastUUID string) (string, []byte, error) {
	b, err := f.getBroadcast(ctx, broadcastUUID)
	if err != nil {
		return "", nil, err
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), recipientsSheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	header := recipientsHeader
	_ = xl.SetSheetRow(recipientsSheet, "A1", &header)

	filter := models.BroadcastContactFilter{BroadcastID: &b.ID}
	row := 2
	for offset := 0; ; offset += utils.ProcessingLimit {
		recipients, err := f.recipientRepo.ByFilter(ctx, filter, "id ASC", utils.ProcessingLimit, offset)
		if err != nil {
			return "", nil, NewBusinessError("RECIPIENT_LIST_FAILED", "Failed to list recipients", err)
		}

		for _, rc := range recipients {
			record := []string{
				strconv.FormatInt(rc.ContactID, 10),
				rc.BatchID.String(),
				string(rc.DisplayStatus()),
				derefString(rc.ProviderMessageID),
				strconv.Itoa(rc.SendAttempts),
				utils.FormatTimePtr(rc.SentAt),
				utils.FormatTimePtr(rc.DeliveredAt),
				utils.FormatTimePtr(rc.ReadAt),
				utils.FormatTimePtr(rc.RepliedAt),
				utils.FormatTimePtr(rc.FailedAt),
				derefString(rc.FailureReason),
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, row)
			_ = xl.SetSheetRow(recipientsSheet, cellRef, &record)
			row++
		}

		if len(recipients) < utils.ProcessingLimit {
			break
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("broadcast_%s_recipients_%s.xlsx", b.UUID, utils.UTCNow().Format(time.DateOnly))
	return filename, buf.Bytes(), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
