package intake

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository { return &recordRepoPG{pool: pool} }

const recordCols = `patient_id, name, age, gender, height, weight,
	medications, allergies, chronic_conditions, surgeries, family_history,
	basic_info_complete, medications_complete, allergies_complete,
	chronic_conditions_complete, surgeries_complete, family_history_complete,
	current_section, last_updated`

func scanRecord(row pgx.Row) (*PatientRecord, error) {
	var (
		rec     PatientRecord
		done    [6]bool
		current *string
	)
	err := row.Scan(&rec.PatientID, &rec.Name, &rec.Age, &rec.Gender, &rec.Height, &rec.Weight,
		&rec.Medications, &rec.Allergies, &rec.ChronicConditions, &rec.Surgeries, &rec.FamilyHistory,
		&done[0], &done[1], &done[2], &done[3], &done[4], &done[5],
		&current, &rec.LastUpdated)
	if err != nil {
		return nil, err
	}

	rec.CompletionStatus = make(map[Section]bool, len(SectionOrder))
	for i, s := range SectionOrder {
		rec.CompletionStatus[s] = done[i]
	}
	if current != nil {
		s := Section(*current)
		rec.CurrentSection = &s
	}
	return &rec, nil
}

func (r *recordRepoPG) Get(ctx context.Context, patientID string) (*PatientRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordCols+` FROM patient_records WHERE patient_id = $1`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *recordRepoPG) GetOrCreate(ctx context.Context, patientID string) (*PatientRecord, error) {
	rec, err := r.Get(ctx, patientID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	rec = NewPatientRecord(patientID)
	if err := r.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *recordRepoPG) Save(ctx context.Context, rec *PatientRecord) error {
	var current *string
	if rec.CurrentSection != nil {
		s := string(*rec.CurrentSection)
		current = &s
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_records (`+recordCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (patient_id) DO UPDATE SET
			name = EXCLUDED.name,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			height = EXCLUDED.height,
			weight = EXCLUDED.weight,
			medications = EXCLUDED.medications,
			allergies = EXCLUDED.allergies,
			chronic_conditions = EXCLUDED.chronic_conditions,
			surgeries = EXCLUDED.surgeries,
			family_history = EXCLUDED.family_history,
			basic_info_complete = EXCLUDED.basic_info_complete,
			medications_complete = EXCLUDED.medications_complete,
			allergies_complete = EXCLUDED.allergies_complete,
			chronic_conditions_complete = EXCLUDED.chronic_conditions_complete,
			surgeries_complete = EXCLUDED.surgeries_complete,
			family_history_complete = EXCLUDED.family_history_complete,
			current_section = EXCLUDED.current_section,
			last_updated = EXCLUDED.last_updated`,
		rec.PatientID, rec.Name, rec.Age, rec.Gender, rec.Height, rec.Weight,
		rec.Medications, rec.Allergies, rec.ChronicConditions, rec.Surgeries, rec.FamilyHistory,
		rec.CompletionStatus[SectionBasicInfo], rec.CompletionStatus[SectionMedications],
		rec.CompletionStatus[SectionAllergies], rec.CompletionStatus[SectionChronicConditions],
		rec.CompletionStatus[SectionSurgeries], rec.CompletionStatus[SectionFamilyHistory],
		current, rec.LastUpdated)
	return err
}

func (r *recordRepoPG) List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient_records`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+recordCols+` FROM patient_records ORDER BY patient_id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*PatientRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
