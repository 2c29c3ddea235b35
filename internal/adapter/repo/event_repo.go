package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"shortgen/internal/domain"
	"shortgen/internal/infra"
	"shortgen/internal/sqlinline"
)

// EventRepositoryPG appends to and reads the job_events table.
type EventRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewEventRepository constructs a new event repository instance.
func NewEventRepository(sql infra.SQLExecutor) *EventRepositoryPG {
	return &EventRepositoryPG{sql: sql}
}

func (r *EventRepositoryPG) Append(ctx context.Context, event *domain.JobEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	data, err := marshalJSON(event.Data)
	if err != nil {
		return err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJobEvent,
		event.ID,
		event.JobID,
		string(event.Level),
		string(event.Step),
		string(event.Type),
		event.Message,
		event.Progress,
		data,
	)
	if err := row.Scan(&event.CreatedAt); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (r *EventRepositoryPG) ListByJob(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	if !validID(jobID) {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectJobEvents, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.JobEvent
	for rows.Next() {
		var (
			e                      domain.JobEvent
			level, step, eventType string
			data                   []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &level, &step, &eventType, &e.Message, &e.Progress, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Level = domain.EventLevel(level)
		e.Step = domain.Stage(step)
		e.Type = domain.EventType(eventType)
		if e.Data, err = unmarshalObject(data); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
