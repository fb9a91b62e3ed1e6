package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/crc64nvme"
	"github.com/wolfeidau/grc/internal/models"
)

// Checksum computes the CRC-64/NVME of the canonical JSON form of an entry.
// Map keys marshal sorted, so the encoding is stable across storage round trips.
func Checksum(entry *models.ActivityLog) (uint64, error) {
	canonical := map[string]any{
		"organization_id": entry.OrgID.String(),
		"event":           entry.Event.String(),
		"subject_type":    entry.SubjectType,
		"subject_id":      entry.SubjectID.String(),
		"subject_name":    entry.SubjectName,
		"changes":         entry.Changes,
		"created_at":      entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if entry.UserID != nil {
		canonical["user_id"] = entry.UserID.String()
	}

	b, err := json.Marshal(canonical)
	if err != nil {
		return 0, fmt.Errorf("failed to encode activity for checksum: %w", err)
	}

	h := crc64nvme.New()
	_, _ = h.Write(b)
	return h.Sum64(), nil
}

// Verify reports whether the stored checksum matches the entry.
func Verify(entry *models.ActivityLog) bool {
	sum, err := Checksum(entry)
	return err == nil && sum == entry.Checksum
}
