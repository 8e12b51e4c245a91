package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const documentsTable = "documents"

type documentRow struct {
	ID   string                         `db:"id"`
	Data database.JSONB[map[string]any] `db:"data"`
}

// PostgresStore keeps every collection in one JSONB documents table keyed by (tenant_id, collection, id).
type PostgresStore struct {
	db     database.DB
	logger ectologger.Logger
}

func NewPostgresStore(db database.DB, logger ectologger.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) GetDocument(ctx context.Context, path DocumentPath) (*Document, error) {
	ctx, span := tracing.StartSpan(ctx, "docstore.PostgresStore.GetDocument")
	defer span.End()

	if err := path.validate(); err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "data")
	sb.From(documentsTable)
	sb.Where(
		sb.Equal("tenant_id", path.TenantID),
		sb.Equal("collection", path.Collection),
		sb.Equal("id", path.ID),
	)

	query, args := sb.Build()
	var row documentRow
	if err := database.Executor(ctx, s.db).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.logger.WithContext(ctx).WithError(err).WithField("path", path.String()).Error("Failed to get document")
		return nil, fmt.Errorf("failed to get document %s: %w", path, err)
	}
	return &Document{ID: row.ID, Data: nonNil(row.Data.GetValue())}, nil
}

func (s *PostgresStore) GetDocuments(ctx context.Context, collection CollectionPath, ids []string) (map[string]Document, error) {
	ctx, span := tracing.StartSpan(ctx, "docstore.PostgresStore.GetDocuments")
	defer span.End()

	if err := collection.validate(); err != nil {
		return nil, err
	}
	out := make(map[string]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "data")
	sb.From(documentsTable)
	sb.Where(
		sb.Equal("tenant_id", collection.TenantID),
		sb.Equal("collection", collection.Collection),
		sb.In("id", sqlbuilder.Flatten(ids)...),
	)

	query, args := sb.Build()
	var rows []documentRow
	if err := database.Executor(ctx, s.db).SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("collection", collection.String()).Error("Failed to batch get documents")
		return nil, fmt.Errorf("failed to get documents from %s: %w", collection, err)
	}
	for _, row := range rows {
		out[row.ID] = Document{ID: row.ID, Data: nonNil(row.Data.GetValue())}
	}
	return out, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, collection CollectionPath, q Query) ([]Document, error) {
	ctx, span := tracing.StartSpan(ctx, "docstore.PostgresStore.ListDocuments")
	defer span.End()

	if err := collection.validate(); err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "data")
	sb.From(documentsTable)
	sb.Where(
		sb.Equal("tenant_id", collection.TenantID),
		sb.Equal("collection", collection.Collection),
	)
	for _, f := range q.Filters {
		expr, err := filterExpr(sb, f)
		if err != nil {
			return nil, err
		}
		sb.Where(expr)
	}
	sb.OrderBy("id")
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}

	query, args := sb.Build()
	var rows []documentRow
	if err := database.Executor(ctx, s.db).SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("collection", collection.String()).Error("Failed to list documents")
		return nil, fmt.Errorf("failed to list documents in %s: %w", collection, err)
	}

	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, Document{ID: row.ID, Data: nonNil(row.Data.GetValue())})
	}
	return out, nil
}

func (s *PostgresStore) SetDocument(ctx context.Context, path DocumentPath, data map[string]any, merge bool) error {
	ctx, span := tracing.StartSpan(ctx, "docstore.PostgresStore.SetDocument")
	defer span.End()

	return s.set(ctx, database.Executor(ctx, s.db), path, data, merge)
}

func (s *PostgresStore) set(ctx context.Context, exec database.Queryer, path DocumentPath, data map[string]any, merge bool) error {
	if err := path.validate(); err != nil {
		return err
	}
	payload, err := encode(data)
	if err != nil {
		return err
	}

	query, args := insertDocument(path, payload)
	if merge {
		query += ` ON CONFLICT (tenant_id, collection, id) DO UPDATE SET
		data = documents.data || EXCLUDED.data,
		updated_at = EXCLUDED.updated_at`
	} else {
		query += ` ON CONFLICT (tenant_id, collection, id) DO UPDATE SET
		data = EXCLUDED.data,
		updated_at = EXCLUDED.updated_at`
	}

	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("path", path.String()).Error("Failed to set document")
		return fmt.Errorf("failed to set document %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, path DocumentPath, data map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "docstore.PostgresStore.CreateDocument")
	defer span.End()

	if err := path.validate(); err != nil {
		return err
	}
	payload, err := encode(data)
	if err != nil {
		return err
	}

	query, args := insertDocument(path, payload)
	query += " ON CONFLICT (tenant_id, collection, id) DO NOTHING"

	res, err := database.Executor(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("path", path.String()).Error("Failed to create document")
		return fmt.Errorf("failed to create document %s: %w", path, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create document %s: %w", path, err)
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, path DocumentPath, data map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "docstore.PostgresStore.UpdateDocument")
	defer span.End()

	return s.update(ctx, database.Executor(ctx, s.db), path, data)
}

func (s *PostgresStore) update(ctx context.Context, exec database.Queryer, path DocumentPath, data map[string]any) error {
	if err := path.validate(); err != nil {
		return err
	}
	payload, err := encode(data)
	if err != nil {
		return err
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(documentsTable)
	ub.Set(
		fmt.Sprintf("data = data || %s::jsonb", ub.Var(payload)),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("tenant_id", path.TenantID),
		ub.Equal("collection", path.Collection),
		ub.Equal("id", path.ID),
	)

	query, args := ub.Build()
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("path", path.String()).Error("Failed to update document")
		return fmt.Errorf("failed to update document %s: %w", path, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", path, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, path DocumentPath) error {
	ctx, span := tracing.StartSpan(ctx, "docstore.PostgresStore.DeleteDocument")
	defer span.End()

	if err := path.validate(); err != nil {
		return err
	}

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(documentsTable)
	db.Where(
		db.Equal("tenant_id", path.TenantID),
		db.Equal("collection", path.Collection),
		db.Equal("id", path.ID),
	)

	query, args := db.Build()
	if _, err := database.Executor(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("path", path.String()).Error("Failed to delete document")
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) AddDocument(ctx context.Context, collection CollectionPath, data map[string]any) (string, error) {
	id := uuid.New().String()
	if err := s.CreateDocument(ctx, collection.Doc(id), data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Batch() Batch {
	return &stagedBatch{commit: s.commit}
}

func (s *PostgresStore) commit(ctx context.Context, ops []batchOp) (err error) {
	ctx, span := tracing.StartSpan(ctx, "docstore.PostgresStore.Commit")
	defer span.End()
	defer func() { tracing.RecordError(span, err) }()

	return database.InTx(ctx, s.db, nil, func(ctx context.Context, tx database.Queryer) error {
		for _, op := range ops {
			var err error
			switch op.kind {
			case opSet:
				err = s.set(ctx, tx, op.path, op.data, op.merge)
			case opUpdate:
				err = s.update(ctx, tx, op.path, op.data)
				if errors.Is(err, ErrNotFound) {
					err = fmt.Errorf("batch update %s: %w", op.path, ErrNotFound)
				}
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func insertDocument(path DocumentPath, payload string) (string, []any) {
	now := time.Now().UTC()
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(documentsTable)
	ib.Cols("tenant_id", "collection", "id", "data", "created_at", "updated_at")
	// pq sends untyped parameters, so the payload is coerced to the jsonb column type.
	ib.Values(path.TenantID, path.Collection, path.ID, payload, now, now)
	return ib.Build()
}

// filterExpr renders a filter against the data column, comparing jsonb to jsonb.
func filterExpr(sb *sqlbuilder.SelectBuilder, f Filter) (string, error) {
	if !validField(f.Field) {
		return "", fmt.Errorf("invalid filter field %q", f.Field)
	}
	column := fmt.Sprintf("data->'%s'", f.Field)

	switch f.Op {
	case OpEqual:
		value, err := encodeValue(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s::jsonb", column, sb.Var(value)), nil
	case OpIn:
		values, ok := toSlice(f.Value)
		if !ok {
			return "", fmt.Errorf("filter %s in expects a list, got %T", f.Field, f.Value)
		}
		if len(values) == 0 {
			return "FALSE", nil
		}
		placeholders := make([]string, 0, len(values))
		for _, v := range values {
			value, err := encodeValue(v)
			if err != nil {
				return "", err
			}
			placeholders = append(placeholders, sb.Var(value)+"::jsonb")
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), nil
	case OpArrayContains:
		value, err := encodeValue([]any{f.Value})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(jsonb_typeof(%s) = 'array' AND %s @> %s::jsonb)", column, column, sb.Var(value)), nil
	}
	return "", fmt.Errorf("unsupported filter operator %q", f.Op)
}

func toSlice(v any) ([]any, bool) {
	normalized, err := normalizeValue(v)
	if err != nil {
		return nil, false
	}
	values, ok := normalized.([]any)
	return values, ok
}

func encode(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(b), nil
}

func encodeValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode filter value: %w", err)
	}
	return string(b), nil
}

func nonNil(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}
