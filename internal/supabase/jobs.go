package supabase

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"

	"foodglow-backend/internal/models"
)

// JobLog appends job audit rows through PostgREST. The table lives in the
// Supabase project, next to the app's own tables, not in the credit ledger.
type JobLog struct {
	client *supabase.Client
	table  string
}

func NewJobLog(client *supabase.Client, table string) *JobLog {
	return &JobLog{client: client, table: table}
}

func (j *JobLog) RecordJob(ctx context.Context, rec *models.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err := j.client.From(j.table).Insert(rec, false, "", "minimal", "").Execute()
	if err != nil {
		return fmt.Errorf("failed to insert job record: %w", err)
	}
	return nil
}
