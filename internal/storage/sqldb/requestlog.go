package sqldb

import (
	"context"
	"strings"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
)

// InsertRequestLogs batch-inserts request log rows. A single multi-row
// INSERT avoids N round-trips for large batches. Replayed rows (same
// request_id) are ignored.
func (s *Store) InsertRequestLogs(ctx context.Context, logs []gateway.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	const cols = 13
	placeholders := make([]string, len(logs))
	args := make([]any, 0, len(logs)*cols)

	for i, l := range logs {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		created := l.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		args = append(args,
			l.RequestID, l.UserID, l.TenantID, l.APIKeyID,
			l.ModelSlug, l.Provider,
			l.PromptTokens, l.CompletionTokens, l.Cost,
			l.LatencyMs, l.StatusCode, boolToInt(l.Cached),
			timeStr(created),
		)
	}

	query := `INSERT INTO request_logs
		(request_id, user_id, tenant_id, api_key_id, model_slug, provider,
		 prompt_tokens, completion_tokens, cost, latency_ms, status_code, cached,
		 created_at)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (request_id) DO NOTHING`

	_, err := s.write.ExecContext(ctx, s.q(query), args...)
	return err
}

// UpdateRequestLogUsage writes settled token counts and cost onto a
// streamed request's log row. A missing row is not an error; the insert
// may still be queued behind this update.
func (s *Store) UpdateRequestLogUsage(ctx context.Context, requestID string, promptTokens, completionTokens int, cost float64) error {
	_, err := s.write.ExecContext(ctx,
		s.q(`UPDATE request_logs SET prompt_tokens = ?, completion_tokens = ?, cost = ?
		 WHERE request_id = ?`),
		promptTokens, completionTokens, cost, requestID,
	)
	return err
}

// InsertEvaluationPairs batch-inserts shadow-mode comparison rows.
func (s *Store) InsertEvaluationPairs(ctx context.Context, pairs []gateway.EvaluationPair) error {
	if len(pairs) == 0 {
		return nil
	}

	const cols = 10
	placeholders := make([]string, len(pairs))
	args := make([]any, 0, len(pairs)*cols)

	for i, p := range pairs {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		created := p.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		args = append(args,
			p.RequestID, p.UserID, p.Prompt,
			p.PrimaryModel, p.PrimaryResponse,
			p.ShadowModel, p.ShadowResponse, p.ShadowError,
			p.Preference, timeStr(created),
		)
	}

	query := `INSERT INTO evaluation_pairs
		(request_id, user_id, prompt, primary_model, primary_response,
		 shadow_model, shadow_response, shadow_error, preference, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, s.q(query), args...)
	return err
}
