package taxonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"labeller/api/internal/store"
)

// Position is a target sibling index. It accepts a JSON integer or a decimal
// string.
type Position int

func (p *Position) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse index %s: %w", data, ErrInvalidRequest)
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse index %s: %w", data, ErrInvalidRequest)
	}
	*p = Position(n)
	return nil
}

type GroupPatch struct {
	GroupID   RecordID `json:"group_id"`
	Active    *bool    `json:"active"`
	HumanName *string  `json:"human_name"`
}

type ColourChange struct {
	Scheme string `json:"scheme"`
	Colour string `json:"colour"`
}

type LabelClassPatch struct {
	LabelClassID RecordID      `json:"lcls_id"`
	Active       *bool         `json:"active"`
	HumanName    *string       `json:"human_name"`
	Colour       *ColourChange `json:"colour"`
}

type GroupMove struct {
	GroupID  RecordID  `json:"src_group_id"`
	DstIndex *Position `json:"dst_index"`
}

type LabelClassMove struct {
	LabelClassID RecordID  `json:"src_lcls_id"`
	DstGroupID   RecordID  `json:"dst_group_id"`
	DstIndex     *Position `json:"dst_index"`
}

func requireID(field string, id RecordID) error {
	if id <= 0 {
		return fmt.Errorf("%s is required: %w", field, ErrInvalidRequest)
	}
	return nil
}

func requireIndex(field string, p *Position) (int, error) {
	if p == nil {
		return 0, fmt.Errorf("%s is required: %w", field, ErrInvalidRequest)
	}
	return int(*p), nil
}

// PatchGroup updates the given fields of one group.
func (e *Editor) PatchGroup(ctx context.Context, patch GroupPatch) (Result, error) {
	if err := requireID("group_id", patch.GroupID); err != nil {
		return Result{}, err
	}
	res := newResult()
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		id := int64(patch.GroupID)
		_, changed, err := upsertGroup(ctx, tx, &id, groupFields{
			HumanName: patch.HumanName,
			Active:    patch.Active,
		})
		if err != nil {
			return fmt.Errorf("patch group %d: %w", patch.GroupID, err)
		}
		res.Changed = changed
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// PatchLabelClass updates the given fields of one label class and optionally
// its colour under one scheme.
func (e *Editor) PatchLabelClass(ctx context.Context, patch LabelClassPatch) (Result, error) {
	if err := requireID("lcls_id", patch.LabelClassID); err != nil {
		return Result{}, err
	}
	want := classFields{
		HumanName: patch.HumanName,
		Active:    patch.Active,
	}
	if patch.Colour != nil && patch.Colour.Scheme == DefaultSchemeKey {
		colour := patch.Colour.Colour
		want.DefaultColour = &colour
	}

	res := newResult()
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		id := int64(patch.LabelClassID)
		_, changed, err := upsertLabelClass(ctx, tx, &id, want)
		if err != nil {
			return fmt.Errorf("patch label class %d: %w", id, err)
		}
		res.Changed = changed

		if patch.Colour == nil || patch.Colour.Scheme == DefaultSchemeKey {
			return nil
		}
		outcome, err := upsertColourAssignment(ctx, tx, id, patch.Colour.Scheme, patch.Colour.Colour)
		if err != nil {
			return fmt.Errorf("patch colour %q of label class %d: %w", patch.Colour.Scheme, id, err)
		}
		switch outcome {
		case colourWritten:
			res.Changed = true
		case colourSchemeNotFound:
			res.SkippedColours++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// ReorderGroup moves one group to dst_index among all groups.
func (e *Editor) ReorderGroup(ctx context.Context, move GroupMove) (Result, error) {
	if err := requireID("src_group_id", move.GroupID); err != nil {
		return Result{}, err
	}
	dst, err := requireIndex("dst_index", move.DstIndex)
	if err != nil {
		return Result{}, err
	}

	res := newResult()
	err = e.store.RunInTx(ctx, func(tx store.Tx) error {
		id := int64(move.GroupID)
		if _, err := tx.GetGroup(ctx, id); err != nil {
			return fmt.Errorf("reorder group: %w", err)
		}
		groups, err := tx.ListGroups(ctx)
		if err != nil {
			return err
		}
		current := make(map[int64]int, len(groups))
		ids := make([]int64, 0, len(groups))
		for _, g := range groups {
			current[g.ID] = g.OrderIndex
			ids = append(ids, g.ID)
		}
		order, err := Reorder(ids, id, dst)
		if err != nil {
			return fmt.Errorf("reorder group: %w", err)
		}
		for _, change := range Diff(current, order) {
			if err := tx.SetGroupOrderIndex(ctx, change.ID, change.OrderIndex); err != nil {
				return fmt.Errorf("reorder group: %w", err)
			}
			res.Changed = true
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// ReorderLabelClass moves one label class to dst_index within its group.
func (e *Editor) ReorderLabelClass(ctx context.Context, move LabelClassMove) (Result, error) {
	if err := requireID("src_lcls_id", move.LabelClassID); err != nil {
		return Result{}, err
	}
	dst, err := requireIndex("dst_index", move.DstIndex)
	if err != nil {
		return Result{}, err
	}

	res := newResult()
	err = e.store.RunInTx(ctx, func(tx store.Tx) error {
		class, err := tx.GetLabelClass(ctx, int64(move.LabelClassID))
		if err != nil {
			return fmt.Errorf("reorder label class: %w", err)
		}
		changed, err := placeLabelClass(ctx, tx, class, class.GroupID, dst)
		if err != nil {
			return fmt.Errorf("reorder label class %d: %w", class.ID, err)
		}
		res.Changed = changed
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// MoveLabelClassToGroup moves a label class into dst_group_id at dst_index.
// Both the source and the destination group are renumbered.
func (e *Editor) MoveLabelClassToGroup(ctx context.Context, move LabelClassMove) (Result, error) {
	if err := requireID("src_lcls_id", move.LabelClassID); err != nil {
		return Result{}, err
	}
	if err := requireID("dst_group_id", move.DstGroupID); err != nil {
		return Result{}, err
	}
	dst, err := requireIndex("dst_index", move.DstIndex)
	if err != nil {
		return Result{}, err
	}

	res := newResult()
	err = e.store.RunInTx(ctx, func(tx store.Tx) error {
		class, err := tx.GetLabelClass(ctx, int64(move.LabelClassID))
		if err != nil {
			return fmt.Errorf("move label class: %w", err)
		}
		dstGroup, err := tx.GetGroup(ctx, int64(move.DstGroupID))
		if err != nil {
			return fmt.Errorf("move label class %d: %w", class.ID, err)
		}

		changed, err := placeLabelClass(ctx, tx, class, dstGroup.ID, dst)
		if err != nil {
			return fmt.Errorf("move label class %d: %w", class.ID, err)
		}
		res.Changed = changed
		if class.GroupID == dstGroup.ID {
			return nil
		}

		// close the gap left in the source group
		classes, err := tx.ListLabelClasses(ctx, class.GroupID)
		if err != nil {
			return err
		}
		current := make(map[int64]int, len(classes))
		ids := make([]int64, 0, len(classes))
		for _, c := range classes {
			current[c.ID] = c.OrderIndex
			ids = append(ids, c.ID)
		}
		for _, change := range Diff(current, ids) {
			if err := tx.SetLabelClassOrderIndex(ctx, change.ID, change.OrderIndex); err != nil {
				return fmt.Errorf("move label class %d: %w", class.ID, err)
			}
			res.Changed = true
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// placeLabelClass puts class at position dst among the classes of groupID,
// reassigning its group when it differs, and renumbers that group.
func placeLabelClass(ctx context.Context, tx store.Tx, class store.LabelClass, groupID int64, dst int) (bool, error) {
	siblings, err := tx.ListLabelClasses(ctx, groupID)
	if err != nil {
		return false, err
	}
	current := make(map[int64]int, len(siblings)+1)
	ids := make([]int64, 0, len(siblings)+1)
	for _, c := range siblings {
		current[c.ID] = c.OrderIndex
		ids = append(ids, c.ID)
	}
	if class.GroupID != groupID {
		ids = append(ids, class.ID)
	}

	order, err := Reorder(ids, class.ID, dst)
	if err != nil {
		return false, err
	}

	changed := false
	for _, change := range Diff(current, order) {
		if change.ID == class.ID && class.GroupID != groupID {
			moved := class
			moved.GroupID = groupID
			moved.OrderIndex = change.OrderIndex
			if err := tx.UpdateLabelClass(ctx, moved); err != nil {
				return false, err
			}
		} else if err := tx.SetLabelClassOrderIndex(ctx, change.ID, change.OrderIndex); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// CreateGroup appends a new active group after all existing groups.
func (e *Editor) CreateGroup(ctx context.Context, humanName string) (int64, error) {
	var id int64
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		groups, err := tx.ListGroups(ctx)
		if err != nil {
			return err
		}
		index := len(groups)
		group, _, err := upsertGroup(ctx, tx, nil, groupFields{HumanName: &humanName, OrderIndex: &index})
		if err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		id = group.ID
		return nil
	})
	return id, err
}

// CreateLabelClass appends a new label class to the end of a group.
func (e *Editor) CreateLabelClass(ctx context.Context, groupID RecordID, name, humanName string) (int64, error) {
	if err := requireID("group_id", groupID); err != nil {
		return 0, err
	}
	var id int64
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		gid := int64(groupID)
		if _, err := tx.GetGroup(ctx, gid); err != nil {
			return fmt.Errorf("create label class: %w", err)
		}
		classes, err := tx.ListLabelClasses(ctx, gid)
		if err != nil {
			return err
		}
		index := len(classes)
		class, _, err := upsertLabelClass(ctx, tx, nil, classFields{
			GroupID:    &gid,
			Name:       strings.TrimSpace(name),
			HumanName:  &humanName,
			OrderIndex: &index,
		})
		if err != nil {
			return fmt.Errorf("create label class: %w", err)
		}
		id = class.ID
		return nil
	})
	return id, err
}

// CreateColourScheme adds a new active colour scheme.
func (e *Editor) CreateColourScheme(ctx context.Context, name, humanName string) (int64, error) {
	var id int64
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		scheme, _, err := upsertColourScheme(ctx, tx, nil, schemeFields{
			Name:      strings.TrimSpace(name),
			HumanName: &humanName,
		})
		if err != nil {
			return fmt.Errorf("create colour scheme: %w", err)
		}
		id = scheme.ID
		return nil
	})
	return id, err
}
