package intake

import "context"

// RecordRepository owns PatientRecord lifecycle, keyed by patient id.
// Get reports ErrRecordNotFound for unknown patients; GetOrCreate
// starts a fresh record at the first section instead.
type RecordRepository interface {
	GetOrCreate(ctx context.Context, patientID string) (*PatientRecord, error)
	Get(ctx context.Context, patientID string) (*PatientRecord, error)
	Save(ctx context.Context, rec *PatientRecord) error
	List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error)
}
