package sqlstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"chunkledger/internal/datatype"
	"chunkledger/pkg/ledger"
)

type historyRow struct {
	ID            int64  `db:"id"`
	Key           string `db:"s3_file_path"`
	StudyID       string `db:"study_id"`
	ParticipantID string `db:"participant_id"`
	DataType      string `db:"data_type"`
	CreatedAt     int64  `db:"created_at"`
}

type surveyRow struct {
	ID         int64  `db:"id"`
	ObjectID   string `db:"object_id"`
	StudyID    string `db:"study_id"`
	SurveyType string `db:"survey_type"`
	CreatedAt  int64  `db:"created_at"`
}

func (r surveyRow) toDomain() ledger.Survey {
	return ledger.Survey{ID: r.ID, ObjectID: r.ObjectID, StudyID: r.StudyID, SurveyType: r.SurveyType, CreatedAt: fromUnix(r.CreatedAt)}
}

// ListHistory returns every upload recorded for a participant and data type, oldest first.
func (s *Store) ListHistory(ctx context.Context, participantID string, dt datatype.Type) ([]ledger.UploadRecord, error) {
	var rows []historyRow
	err := s.gdb.From(historyTable).
		Where(goqu.Ex{"participant_id": participantID, "data_type": string(dt)}).
		Order(goqu.C("id").Asc()).
		Prepared(true).ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, errors.Wrapf(err, "list history for %s/%s", participantID, dt)
	}
	out := make([]ledger.UploadRecord, len(rows))
	for i, r := range rows {
		out[i] = ledger.UploadRecord{
			ID:            r.ID,
			Key:           r.Key,
			StudyID:       r.StudyID,
			ParticipantID: r.ParticipantID,
			DataType:      datatype.Type(r.DataType),
			CreatedAt:     fromUnix(r.CreatedAt),
		}
	}
	return out, nil
}

func (s *Store) SurveyByObjectID(ctx context.Context, objectID string) (ledger.Survey, error) {
	var row surveyRow
	found, err := s.gdb.From(surveysTable).Where(goqu.Ex{"object_id": objectID}).Prepared(true).ScanStructContext(ctx, &row)
	if err != nil {
		return ledger.Survey{}, errors.Wrapf(err, "get survey %s", objectID)
	}
	if !found {
		return ledger.Survey{}, errors.Wrapf(ledger.ErrNotFound, "survey %s", objectID)
	}
	return row.toDomain(), nil
}

// UpsertSurvey registers a survey or refreshes its study and type.
func (s *Store) UpsertSurvey(ctx context.Context, sv ledger.Survey) (ledger.Survey, error) {
	err := s.withTx(ctx, func(tx *goqu.TxDatabase) error {
		_, err := tx.Insert(surveysTable).
			Rows(goqu.Record{"object_id": sv.ObjectID, "study_id": sv.StudyID, "survey_type": sv.SurveyType, "created_at": s.unixNow()}).
			OnConflict(goqu.DoNothing()).
			Prepared(true).Executor().ExecContext(ctx)
		if err != nil {
			return err
		}
		_, err = tx.Update(surveysTable).
			Set(goqu.Record{"study_id": sv.StudyID, "survey_type": sv.SurveyType}).
			Where(goqu.Ex{"object_id": sv.ObjectID}).
			Prepared(true).Executor().ExecContext(ctx)
		return err
	})
	if err != nil {
		return ledger.Survey{}, errors.Wrapf(err, "upsert survey %s", sv.ObjectID)
	}
	return s.SurveyByObjectID(ctx, sv.ObjectID)
}
