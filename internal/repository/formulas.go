package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
)

const formulaColumns = `id, formula_type, name, description, expression, variables, weights,
	thresholds, active, version, created_by, updated_by, change_notes, created_at, updated_at`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateFormula inserts a formula and its first version snapshot.
func (r *SQLRepository) CreateFormula(ctx context.Context, f *domain.Formula) error {
	if f == nil || f.ID == "" {
		return eris.Wrap(domain.ErrValidation, "repository: formula id is required")
	}

	variables, err := marshalJSON(f.Variables)
	if err != nil {
		return err
	}
	weights, err := marshalJSON(f.Weights)
	if err != nil {
		return err
	}
	thresholds, err := marshalJSON(f.Thresholds)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO formulas (
			id, formula_type, name, description, expression, variables, weights,
			thresholds, active, version, created_by, updated_by, change_notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(query),
			f.ID, string(f.FormulaType), f.Name, nullString(f.Description), f.Expression,
			variables, weights, thresholds, boolToInt(f.Active), f.Version,
			nullString(f.CreatedBy), nullString(f.UpdatedBy), nullString(f.ChangeNotes),
			f.CreatedAt, f.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "repository: insert formula %s", f.ID)
		}
		if err := r.ensureHead(ctx, tx, f.FormulaType, f.CreatedAt); err != nil {
			return err
		}
		return r.insertSnapshot(ctx, tx, f, f.CreatedBy)
	})
}

// GetFormula retrieves a formula by ID.
func (r *SQLRepository) GetFormula(ctx context.Context, id string) (*domain.Formula, error) {
	return r.getFormula(ctx, r.db, id)
}

func (r *SQLRepository) getFormula(ctx context.Context, q querier, id string) (*domain.Formula, error) {
	query := `SELECT ` + formulaColumns + ` FROM formulas WHERE id = ?`

	f, err := scanFormula(q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "formula %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: get formula %s", id)
	}
	return f, nil
}

// GetActiveFormula retrieves the single active formula for a type.
func (r *SQLRepository) GetActiveFormula(ctx context.Context, t domain.FormulaType) (*domain.Formula, error) {
	query := `SELECT ` + formulaColumns + ` FROM formulas WHERE formula_type = ? AND active = 1`

	f, err := scanFormula(r.db.QueryRowContext(ctx, r.rebind(query), string(t)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "no active %s formula", t)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: get active %s formula", t)
	}
	return f, nil
}

// ListFormulas returns every formula of a type, newest version first.
func (r *SQLRepository) ListFormulas(ctx context.Context, t domain.FormulaType) ([]*domain.Formula, error) {
	query := `SELECT ` + formulaColumns + ` FROM formulas WHERE formula_type = ? ORDER BY version DESC, created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(t))
	if err != nil {
		return nil, eris.Wrapf(err, "repository: list %s formulas", t)
	}
	defer rows.Close()

	var formulas []*domain.Formula
	for rows.Next() {
		f, err := scanFormula(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan formula")
		}
		formulas = append(formulas, f)
	}
	return formulas, rows.Err()
}

// UpdateFormula applies an edit guarded by the expected version.
func (r *SQLRepository) UpdateFormula(ctx context.Context, f *domain.Formula, expectedVersion int) error {
	variables, err := marshalJSON(f.Variables)
	if err != nil {
		return err
	}
	weights, err := marshalJSON(f.Weights)
	if err != nil {
		return err
	}
	thresholds, err := marshalJSON(f.Thresholds)
	if err != nil {
		return err
	}

	query := `
		UPDATE formulas SET
			name = ?, description = ?, expression = ?, variables = ?, weights = ?,
			thresholds = ?, version = ?, updated_by = ?, change_notes = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, r.rebind(query),
			f.Name, nullString(f.Description), f.Expression, variables, weights,
			thresholds, f.Version, nullString(f.UpdatedBy), nullString(f.ChangeNotes), f.UpdatedAt,
			f.ID, expectedVersion,
		)
		if err != nil {
			return eris.Wrapf(err, "repository: update formula %s", f.ID)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "repository: rows affected")
		}
		if affected == 0 {
			if _, err := r.getFormula(ctx, tx, f.ID); err != nil {
				return err
			}
			return eris.Wrapf(domain.ErrConcurrencyConflict, "formula %s is no longer at version %d", f.ID, expectedVersion)
		}

		return r.insertSnapshot(ctx, tx, f, f.UpdatedBy)
	})
}

// ActivateFormula deactivates every sibling of the target's type and
// activates the target in one transaction. The formula_heads sequence is
// bumped with a compare-and-set so a concurrent activation of the same
// type fails with ErrConcurrencyConflict instead of interleaving.
func (r *SQLRepository) ActivateFormula(ctx context.Context, id string, actor string) (*domain.Formula, error) {
	var activated *domain.Formula

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		target, err := r.getFormula(ctx, tx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := r.ensureHead(ctx, tx, target.FormulaType, now); err != nil {
			return err
		}

		var seq int64
		err = tx.QueryRowContext(ctx,
			r.rebind(`SELECT activation_seq FROM formula_heads WHERE formula_type = ?`),
			string(target.FormulaType),
		).Scan(&seq)
		if err != nil {
			return eris.Wrapf(err, "repository: read %s activation head", target.FormulaType)
		}

		if _, err := tx.ExecContext(ctx,
			r.rebind(`UPDATE formulas SET active = 0, updated_at = ? WHERE formula_type = ? AND id <> ? AND active = 1`),
			now, string(target.FormulaType), id,
		); err != nil {
			return eris.Wrapf(err, "repository: deactivate %s siblings", target.FormulaType)
		}

		if _, err := tx.ExecContext(ctx,
			r.rebind(`UPDATE formulas SET active = 1, updated_by = ?, updated_at = ? WHERE id = ?`),
			nullString(actor), now, id,
		); err != nil {
			return eris.Wrapf(err, "repository: activate formula %s", id)
		}

		result, err := tx.ExecContext(ctx,
			r.rebind(`UPDATE formula_heads SET activation_seq = ?, active_formula_id = ?, updated_at = ?
				WHERE formula_type = ? AND activation_seq = ?`),
			seq+1, id, now, string(target.FormulaType), seq,
		)
		if err != nil {
			return eris.Wrapf(err, "repository: advance %s activation head", target.FormulaType)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "repository: rows affected")
		}
		if affected != 1 {
			return eris.Wrapf(domain.ErrConcurrencyConflict, "%s activation raced with another activation", target.FormulaType)
		}

		var active int
		err = tx.QueryRowContext(ctx,
			r.rebind(`SELECT COUNT(*) FROM formulas WHERE formula_type = ? AND active = 1`),
			string(target.FormulaType),
		).Scan(&active)
		if err != nil {
			return eris.Wrap(err, "repository: count active formulas")
		}
		if active != 1 {
			return eris.Wrapf(domain.ErrInvariantViolation, "%s has %d active formulas after activation", target.FormulaType, active)
		}

		activated, err = r.getFormula(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

// ListFormulaVersions returns the immutable snapshots of a formula, newest first.
func (r *SQLRepository) ListFormulaVersions(ctx context.Context, id string) ([]*domain.FormulaVersion, error) {
	query := `
		SELECT formula_id, version, snapshot, recorded_by, recorded_at
		FROM formula_versions
		WHERE formula_id = ?
		ORDER BY version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), id)
	if err != nil {
		return nil, eris.Wrapf(err, "repository: list versions of %s", id)
	}
	defer rows.Close()

	var versions []*domain.FormulaVersion
	for rows.Next() {
		var v domain.FormulaVersion
		var snapshot, recordedBy sql.NullString
		if err := rows.Scan(&v.FormulaID, &v.Version, &snapshot, &recordedBy, &v.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "repository: scan formula version")
		}
		if err := unmarshalJSON(snapshot, &v.Snapshot); err != nil {
			return nil, err
		}
		v.RecordedBy = recordedBy.String
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, eris.Wrapf(domain.ErrNotFound, "formula %s", id)
	}
	return versions, nil
}

// CountActiveFormulas counts active formulas of a type.
func (r *SQLRepository) CountActiveFormulas(ctx context.Context, t domain.FormulaType) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*) FROM formulas WHERE formula_type = ? AND active = 1`),
		string(t),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "repository: count active %s formulas", t)
	}
	return n, nil
}

func (r *SQLRepository) ensureHead(ctx context.Context, q querier, t domain.FormulaType, now time.Time) error {
	_, err := q.ExecContext(ctx,
		r.rebind(`INSERT INTO formula_heads (formula_type, activation_seq, updated_at) VALUES (?, 0, ?)
			ON CONFLICT(formula_type) DO NOTHING`),
		string(t), now,
	)
	if err != nil {
		return eris.Wrapf(err, "repository: ensure %s activation head", t)
	}
	return nil
}

func (r *SQLRepository) insertSnapshot(ctx context.Context, q querier, f *domain.Formula, recordedBy string) error {
	snapshot, err := marshalJSON(f)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		r.rebind(`INSERT INTO formula_versions (formula_id, version, snapshot, recorded_by, recorded_at)
			VALUES (?, ?, ?, ?, ?)`),
		f.ID, f.Version, snapshot, nullString(recordedBy), f.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "repository: snapshot formula %s v%d", f.ID, f.Version)
	}
	return nil
}

func scanFormula(s rowScanner) (*domain.Formula, error) {
	var f domain.Formula
	var formulaType string
	var description, variables, weights, thresholds sql.NullString
	var createdBy, updatedBy, changeNotes sql.NullString
	var active int

	if err := s.Scan(
		&f.ID, &formulaType, &f.Name, &description, &f.Expression,
		&variables, &weights, &thresholds, &active, &f.Version,
		&createdBy, &updatedBy, &changeNotes, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}

	f.FormulaType = domain.FormulaType(formulaType)
	f.Description = description.String
	f.Active = active == 1
	f.CreatedBy = createdBy.String
	f.UpdatedBy = updatedBy.String
	f.ChangeNotes = changeNotes.String

	if err := unmarshalJSON(variables, &f.Variables); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(weights, &f.Weights); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(thresholds, &f.Thresholds); err != nil {
		return nil, err
	}
	if f.Variables == nil {
		f.Variables = map[string]string{}
	}
	return &f, nil
}
