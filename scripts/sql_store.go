package scripts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/conn"
)

// SQLStore keeps scripts in the scripts, analysis_results and
// active_scripts tables.
type SQLStore struct {
	db *conn.DB
}

func NewSQLStore(db *conn.DB) *SQLStore {
	return &SQLStore{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const scriptColumns = `id, user_id, name, format, genre, content, created_at, updated_at`

func (s *SQLStore) Insert(ctx context.Context, sc *Script) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scripts (`+scriptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ID, sc.UserID, sc.Name, string(sc.Format), sc.Genre, sc.Content,
			sc.CreatedAt.UnixMilli(), sc.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert script: %w", err)
		}
		return s.point(ctx, tx, sc.UserID, sc.ID)
	})
}

func (s *SQLStore) Get(ctx context.Context, userID, id string) (*Script, error) {
	return s.get(ctx, s.db, userID, id, false)
}

func (s *SQLStore) get(ctx context.Context, q queryer, userID, id string, lock bool) (*Script, error) {
	query := `SELECT ` + scriptColumns + ` FROM scripts WHERE id = ? AND user_id = ?`
	if lock {
		query += s.db.ForUpdate()
	}
	sc, err := scanScript(q.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get script %s: %w", id, err)
	}
	rows, err := q.QueryContext(ctx, `SELECT script_id, kind, payload FROM analysis_results WHERE script_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get results %s: %w", id, err)
	}
	if err := attachResults(rows, map[string]*Script{sc.ID: sc}); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SQLStore) List(ctx context.Context, userID string) ([]*Script, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scriptColumns+` FROM scripts WHERE user_id = ? ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	var (
		out  = []*Script{}
		byID = map[string]*Script{}
	)
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan script: %w", err)
		}
		out = append(out, sc)
		byID[sc.ID] = sc
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	rows, err = s.db.QueryContext(ctx,
		`SELECT r.script_id, r.kind, r.payload FROM analysis_results r JOIN scripts s ON s.id = r.script_id WHERE s.user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	if err := attachResults(rows, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) Apply(ctx context.Context, userID, id string, p Patch, at time.Time) (*Script, error) {
	var out *Script
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sc, err := s.get(ctx, tx, userID, id, true)
		if err != nil {
			return err
		}
		p.apply(sc, at)
		if _, err := tx.ExecContext(ctx,
			`UPDATE scripts SET name = ?, format = ?, genre = ?, content = ?, updated_at = ? WHERE id = ?`,
			sc.Name, string(sc.Format), sc.Genre, sc.Content, at.UnixMilli(), id); err != nil {
			return fmt.Errorf("update script %s: %w", id, err)
		}
		if p.Result != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO analysis_results (script_id, kind, payload, updated_at) VALUES (?, ?, ?, ?)`+
					s.db.Upsert([]string{"script_id", "kind"}, []string{"payload", "updated_at"}),
				id, string(p.Result.Kind), string(p.Result.Payload), at.UnixMilli()); err != nil {
				return fmt.Errorf("write result %s/%s: %w", id, p.Result.Kind, err)
			}
		}
		out = sc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.get(ctx, tx, userID, id, true); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_results WHERE script_id = ?`, id); err != nil {
			return fmt.Errorf("delete results %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete script %s: %w", id, err)
		}
		active, err := s.activeID(ctx, tx, userID, true)
		if err != nil || active != id {
			return err
		}
		var next string
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM scripts WHERE user_id = ? ORDER BY updated_at DESC, id LIMIT 1`, userID).Scan(&next)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("pick next active: %w", err)
		}
		return s.point(ctx, tx, userID, next)
	})
}

func (s *SQLStore) SetActive(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if id != "" {
			var found string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM scripts WHERE id = ? AND user_id = ?`+s.db.ForUpdate(), id, userID).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("check script %s: %w", id, err)
			}
		}
		return s.point(ctx, tx, userID, id)
	})
}

func (s *SQLStore) ActiveID(ctx context.Context, userID string) (string, error) {
	return s.activeID(ctx, s.db, userID, false)
}

func (s *SQLStore) activeID(ctx context.Context, q queryer, userID string, lock bool) (string, error) {
	query := `SELECT script_id FROM active_scripts WHERE user_id = ?`
	if lock {
		query += s.db.ForUpdate()
	}
	var id sql.NullString
	err := q.QueryRowContext(ctx, query, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active script: %w", err)
	}
	return id.String, nil
}

// point sets the active pointer; an empty id stores NULL.
func (s *SQLStore) point(ctx context.Context, q queryer, userID, id string) error {
	target := sql.NullString{String: id, Valid: id != ""}
	_, err := q.ExecContext(ctx,
		`INSERT INTO active_scripts (user_id, script_id) VALUES (?, ?)`+s.db.Upsert([]string{"user_id"}, []string{"script_id"}),
		userID, target)
	if err != nil {
		return fmt.Errorf("set active script: %w", err)
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScript(row scanner) (*Script, error) {
	var (
		sc               Script
		format           string
		created, updated int64
	)
	if err := row.Scan(&sc.ID, &sc.UserID, &sc.Name, &format, &sc.Genre, &sc.Content, &created, &updated); err != nil {
		return nil, err
	}
	sc.Format = Format(format)
	sc.CreatedAt = time.UnixMilli(created).UTC()
	sc.UpdatedAt = time.UnixMilli(updated).UTC()
	sc.AnalysisResults = map[analysis.Kind]json.RawMessage{}
	return &sc, nil
}

func attachResults(rows *sql.Rows, byID map[string]*Script) error {
	defer rows.Close()
	for rows.Next() {
		var scriptID, kind, payload string
		if err := rows.Scan(&scriptID, &kind, &payload); err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		if sc, ok := byID[scriptID]; ok {
			sc.AnalysisResults[analysis.Kind(kind)] = json.RawMessage(payload)
		}
	}
	return rows.Err()
}
