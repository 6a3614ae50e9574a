package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Tx is the set of record operations available inside one unit of work.
// Lists of siblings are returned sorted by (order_index, id).
type Tx interface {
	ListColourSchemes(ctx context.Context) ([]ColourScheme, error)
	GetColourScheme(ctx context.Context, id int64) (ColourScheme, error)
	GetColourSchemeByName(ctx context.Context, name string) (ColourScheme, error)
	InsertColourScheme(ctx context.Context, scheme ColourScheme) (int64, error)
	UpdateColourScheme(ctx context.Context, scheme ColourScheme) error

	ListGroups(ctx context.Context) ([]LabelClassGroup, error)
	GetGroup(ctx context.Context, id int64) (LabelClassGroup, error)
	InsertGroup(ctx context.Context, group LabelClassGroup) (int64, error)
	UpdateGroup(ctx context.Context, group LabelClassGroup) error
	SetGroupOrderIndex(ctx context.Context, id int64, orderIndex int) error

	ListLabelClasses(ctx context.Context, groupID int64) ([]LabelClass, error)
	ListAllLabelClasses(ctx context.Context) ([]LabelClass, error)
	GetLabelClass(ctx context.Context, id int64) (LabelClass, error)
	InsertLabelClass(ctx context.Context, class LabelClass) (int64, error)
	UpdateLabelClass(ctx context.Context, class LabelClass) error
	SetLabelClassOrderIndex(ctx context.Context, id int64, orderIndex int) error

	GetColourAssignment(ctx context.Context, labelClassID, schemeID int64) (ColourAssignment, error)
	ListColourAssignments(ctx context.Context) ([]ColourAssignment, error)
	InsertColourAssignment(ctx context.Context, assignment ColourAssignment) (int64, error)
	UpdateColourAssignmentColour(ctx context.Context, id int64, colour string) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect{driver: driver}}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunInTx runs fn inside a database transaction. The transaction commits only
// if fn returns nil; any error rolls back every write fn made.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&queries{q: tx, d: s.dialect}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// View runs read-only fn inside one transaction so every query it makes sees
// the same snapshot. The transaction is always rolled back.
func (s *SQLStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.readOptions())
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&queries{q: tx, d: s.dialect})
}

// SearchLabelClasses matches text against class names and display names.
func (s *SQLStore) SearchLabelClasses(ctx context.Context, text string, limit int) ([]LabelClass, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(text)) + "%"
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, group_id, id_name, human_name, active, default_colour, order_index
		FROM label_classes
		WHERE LOWER(id_name) LIKE ? OR LOWER(human_name) LIKE ?
		ORDER BY id_name
		LIMIT ?
	`), pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search label classes: %w", err)
	}
	return scanLabelClasses(rows)
}

type queries struct {
	q querier
	d dialect
}

func (t *queries) exec(ctx context.Context, what string, query string, args ...any) error {
	result, err := t.q.ExecContext(ctx, t.d.rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", what, ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (t *queries) insert(ctx context.Context, what string, query string, args ...any) (int64, error) {
	var id int64
	err := t.q.QueryRowContext(ctx, t.d.rebind(query), args...).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", what, ErrDuplicate)
		}
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return id, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (t *queries) ListColourSchemes(ctx context.Context) ([]ColourScheme, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT id, id_name, human_name, active FROM colour_schemes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list colour schemes: %w", err)
	}
	defer rows.Close()

	items := make([]ColourScheme, 0)
	for rows.Next() {
		var item ColourScheme
		if err := rows.Scan(&item.ID, &item.Name, &item.HumanName, &item.Active); err != nil {
			return nil, fmt.Errorf("scan colour scheme: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate colour schemes: %w", err)
	}
	return items, nil
}

func (t *queries) GetColourScheme(ctx context.Context, id int64) (ColourScheme, error) {
	var item ColourScheme
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT id, id_name, human_name, active FROM colour_schemes WHERE id=?
	`), id).Scan(&item.ID, &item.Name, &item.HumanName, &item.Active)
	if err != nil {
		return ColourScheme{}, notFound(err, fmt.Sprintf("get colour scheme %d", id))
	}
	return item, nil
}

func (t *queries) GetColourSchemeByName(ctx context.Context, name string) (ColourScheme, error) {
	var item ColourScheme
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT id, id_name, human_name, active FROM colour_schemes WHERE id_name=?
	`), name).Scan(&item.ID, &item.Name, &item.HumanName, &item.Active)
	if err != nil {
		return ColourScheme{}, notFound(err, fmt.Sprintf("get colour scheme %q", name))
	}
	return item, nil
}

func (t *queries) InsertColourScheme(ctx context.Context, scheme ColourScheme) (int64, error) {
	return t.insert(ctx, "insert colour scheme", `
		INSERT INTO colour_schemes (id_name, human_name, active)
		VALUES (?, ?, ?)
		RETURNING id
	`, scheme.Name, scheme.HumanName, scheme.Active)
}

func (t *queries) UpdateColourScheme(ctx context.Context, scheme ColourScheme) error {
	return t.exec(ctx, fmt.Sprintf("update colour scheme %d", scheme.ID), `
		UPDATE colour_schemes SET human_name=?, active=? WHERE id=?
	`, scheme.HumanName, scheme.Active, scheme.ID)
}

func (t *queries) ListGroups(ctx context.Context) ([]LabelClassGroup, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, human_name, active, order_index
		FROM label_class_groups
		ORDER BY order_index, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	items := make([]LabelClassGroup, 0)
	for rows.Next() {
		var item LabelClassGroup
		if err := rows.Scan(&item.ID, &item.HumanName, &item.Active, &item.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

func (t *queries) GetGroup(ctx context.Context, id int64) (LabelClassGroup, error) {
	var item LabelClassGroup
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT id, human_name, active, order_index FROM label_class_groups WHERE id=?
	`), id).Scan(&item.ID, &item.HumanName, &item.Active, &item.OrderIndex)
	if err != nil {
		return LabelClassGroup{}, notFound(err, fmt.Sprintf("get group %d", id))
	}
	return item, nil
}

func (t *queries) InsertGroup(ctx context.Context, group LabelClassGroup) (int64, error) {
	return t.insert(ctx, "insert group", `
		INSERT INTO label_class_groups (human_name, active, order_index)
		VALUES (?, ?, ?)
		RETURNING id
	`, group.HumanName, group.Active, group.OrderIndex)
}

func (t *queries) UpdateGroup(ctx context.Context, group LabelClassGroup) error {
	return t.exec(ctx, fmt.Sprintf("update group %d", group.ID), `
		UPDATE label_class_groups SET human_name=?, active=?, order_index=? WHERE id=?
	`, group.HumanName, group.Active, group.OrderIndex, group.ID)
}

func (t *queries) SetGroupOrderIndex(ctx context.Context, id int64, orderIndex int) error {
	return t.exec(ctx, fmt.Sprintf("reorder group %d", id), `
		UPDATE label_class_groups SET order_index=? WHERE id=?
	`, orderIndex, id)
}

const labelClassColumns = `id, group_id, id_name, human_name, active, default_colour, order_index`

func scanLabelClasses(rows *sql.Rows) ([]LabelClass, error) {
	defer rows.Close()

	items := make([]LabelClass, 0)
	for rows.Next() {
		var item LabelClass
		if err := rows.Scan(
			&item.ID,
			&item.GroupID,
			&item.Name,
			&item.HumanName,
			&item.Active,
			&item.DefaultColour,
			&item.OrderIndex,
		); err != nil {
			return nil, fmt.Errorf("scan label class: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label classes: %w", err)
	}
	return items, nil
}

func (t *queries) ListLabelClasses(ctx context.Context, groupID int64) ([]LabelClass, error) {
	rows, err := t.q.QueryContext(ctx, t.d.rebind(`
		SELECT `+labelClassColumns+`
		FROM label_classes
		WHERE group_id=?
		ORDER BY order_index, id
	`), groupID)
	if err != nil {
		return nil, fmt.Errorf("list label classes of group %d: %w", groupID, err)
	}
	return scanLabelClasses(rows)
}

func (t *queries) ListAllLabelClasses(ctx context.Context) ([]LabelClass, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+labelClassColumns+`
		FROM label_classes
		ORDER BY group_id, order_index, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list label classes: %w", err)
	}
	return scanLabelClasses(rows)
}

func (t *queries) GetLabelClass(ctx context.Context, id int64) (LabelClass, error) {
	var item LabelClass
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT `+labelClassColumns+` FROM label_classes WHERE id=?
	`), id).Scan(
		&item.ID,
		&item.GroupID,
		&item.Name,
		&item.HumanName,
		&item.Active,
		&item.DefaultColour,
		&item.OrderIndex,
	)
	if err != nil {
		return LabelClass{}, notFound(err, fmt.Sprintf("get label class %d", id))
	}
	return item, nil
}

func (t *queries) InsertLabelClass(ctx context.Context, class LabelClass) (int64, error) {
	return t.insert(ctx, "insert label class", `
		INSERT INTO label_classes (group_id, id_name, human_name, active, default_colour, order_index)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, class.GroupID, class.Name, class.HumanName, class.Active, class.DefaultColour, class.OrderIndex)
}

func (t *queries) UpdateLabelClass(ctx context.Context, class LabelClass) error {
	return t.exec(ctx, fmt.Sprintf("update label class %d", class.ID), `
		UPDATE label_classes
		SET group_id=?, human_name=?, active=?, default_colour=?, order_index=?
		WHERE id=?
	`, class.GroupID, class.HumanName, class.Active, class.DefaultColour, class.OrderIndex, class.ID)
}

func (t *queries) SetLabelClassOrderIndex(ctx context.Context, id int64, orderIndex int) error {
	return t.exec(ctx, fmt.Sprintf("reorder label class %d", id), `
		UPDATE label_classes SET order_index=? WHERE id=?
	`, orderIndex, id)
}

func (t *queries) GetColourAssignment(ctx context.Context, labelClassID, schemeID int64) (ColourAssignment, error) {
	var item ColourAssignment
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT id, label_class_id, scheme_id, colour
		FROM label_class_colours
		WHERE label_class_id=? AND scheme_id=?
	`), labelClassID, schemeID).Scan(&item.ID, &item.LabelClassID, &item.SchemeID, &item.Colour)
	if err != nil {
		return ColourAssignment{}, notFound(err, fmt.Sprintf("get colour of label class %d in scheme %d", labelClassID, schemeID))
	}
	return item, nil
}

func (t *queries) ListColourAssignments(ctx context.Context) ([]ColourAssignment, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, label_class_id, scheme_id, colour
		FROM label_class_colours
		ORDER BY label_class_id, scheme_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list colour assignments: %w", err)
	}
	defer rows.Close()

	items := make([]ColourAssignment, 0)
	for rows.Next() {
		var item ColourAssignment
		if err := rows.Scan(&item.ID, &item.LabelClassID, &item.SchemeID, &item.Colour); err != nil {
			return nil, fmt.Errorf("scan colour assignment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate colour assignments: %w", err)
	}
	return items, nil
}

func (t *queries) InsertColourAssignment(ctx context.Context, assignment ColourAssignment) (int64, error) {
	return t.insert(ctx, "insert colour assignment", `
		INSERT INTO label_class_colours (label_class_id, scheme_id, colour)
		VALUES (?, ?, ?)
		RETURNING id
	`, assignment.LabelClassID, assignment.SchemeID, assignment.Colour)
}

func (t *queries) UpdateColourAssignmentColour(ctx context.Context, id int64, colour string) error {
	return t.exec(ctx, fmt.Sprintf("update colour assignment %d", id), `
		UPDATE label_class_colours SET colour=? WHERE id=?
	`, colour, id)
}
