package taxonomy

import (
	"context"
	"fmt"
	"sort"

	"labeller/api/internal/store"
)

type ColourValue struct {
	HTML string `json:"html"`
}

type SchemeNode struct {
	ID        NodeRef `json:"id"`
	Name      string  `json:"name"`
	HumanName string  `json:"human_name"`
	Active    bool    `json:"active"`
}

type ClassNode struct {
	ID        NodeRef                `json:"id"`
	Name      string                 `json:"name"`
	HumanName string                 `json:"human_name"`
	Active    bool                   `json:"active"`
	Colours   map[string]ColourValue `json:"colours"`
}

type GroupNode struct {
	ID           NodeRef     `json:"id"`
	GroupName    string      `json:"group_name"`
	Active       bool        `json:"active"`
	GroupClasses []ClassNode `json:"group_classes"`
}

// SyncColourSchemes applies a submitted list of colour schemes. New schemes
// are created and reported in IDMapping; existing ones are updated when they
// differ. Schemes missing from the list are left untouched.
func (e *Editor) SyncColourSchemes(ctx context.Context, schemes []SchemeNode) (Result, error) {
	refs := make([]NodeRef, 0, len(schemes))
	for _, s := range schemes {
		refs = append(refs, s.ID)
	}
	if err := checkDistinct(KindColourScheme, refs); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		res = newResult()
		res.IDMapping = map[string]int64{}

		for _, node := range schemes {
			existing, err := e.resolve(ctx, tx, KindColourScheme, node.ID)
			if err != nil {
				return fmt.Errorf("sync colour scheme %s: %w", node.ID, err)
			}
			humanName, active := node.HumanName, node.Active
			scheme, changed, err := upsertColourScheme(ctx, tx, existing, schemeFields{
				Name:      node.Name,
				HumanName: &humanName,
				Active:    &active,
			})
			if err != nil {
				return fmt.Errorf("sync colour scheme %s: %w", node.ID, err)
			}
			if node.ID.IsNew() {
				res.IDMapping[node.ID.Token()] = scheme.ID
			}
			if existing == nil {
				res.noteCreated(KindColourScheme)
			} else if changed {
				res.Changed = true
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.remember(ctx, res)
	return res, nil
}

// SyncGroups applies a full submitted tree of groups and their classes. The
// position of each group and class in the submission becomes its order
// index, and a class listed under a different group is moved there.
//
// Groups and classes missing from the submission are kept. They are ordered
// after the submitted siblings, in their previous relative order.
func (e *Editor) SyncGroups(ctx context.Context, groups []GroupNode) (Result, error) {
	groupRefs := make([]NodeRef, 0, len(groups))
	var classRefs []NodeRef
	for _, g := range groups {
		groupRefs = append(groupRefs, g.ID)
		for _, c := range g.GroupClasses {
			classRefs = append(classRefs, c.ID)
		}
	}
	if err := checkDistinct(KindGroup, groupRefs); err != nil {
		return Result{}, err
	}
	if err := checkDistinct(KindLabelClass, classRefs); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		res = newResult()
		res.GroupIDMapping = map[string]int64{}
		res.LabelClassIDMapping = map[string]int64{}

		groupOrder := make([]int64, 0, len(groups))
		classOrder := make(map[int64][]int64, len(groups))

		for gi, node := range groups {
			group, err := e.syncGroup(ctx, tx, &res, gi, node)
			if err != nil {
				return err
			}
			groupOrder = append(groupOrder, group.ID)

			for ci, classNode := range node.GroupClasses {
				class, err := e.syncLabelClass(ctx, tx, &res, group.ID, ci, classNode)
				if err != nil {
					return err
				}
				classOrder[group.ID] = append(classOrder[group.ID], class.ID)
			}
		}

		return compactSiblings(ctx, tx, &res, groupOrder, classOrder)
	})
	if err != nil {
		return Result{}, err
	}

	e.remember(ctx, res)
	return res, nil
}

func (e *Editor) syncGroup(ctx context.Context, tx store.Tx, res *Result, index int, node GroupNode) (store.LabelClassGroup, error) {
	existing, err := e.resolve(ctx, tx, KindGroup, node.ID)
	if err != nil {
		return store.LabelClassGroup{}, fmt.Errorf("sync group %s: %w", node.ID, err)
	}
	name, active := node.GroupName, node.Active
	group, changed, err := upsertGroup(ctx, tx, existing, groupFields{
		HumanName:  &name,
		Active:     &active,
		OrderIndex: &index,
	})
	if err != nil {
		return store.LabelClassGroup{}, fmt.Errorf("sync group %s: %w", node.ID, err)
	}
	if node.ID.IsNew() {
		res.GroupIDMapping[node.ID.Token()] = group.ID
	}
	if existing == nil {
		res.noteCreated(KindGroup)
	} else if changed {
		res.Changed = true
	}
	return group, nil
}

func (e *Editor) syncLabelClass(ctx context.Context, tx store.Tx, res *Result, groupID int64, index int, node ClassNode) (store.LabelClass, error) {
	existing, err := e.resolve(ctx, tx, KindLabelClass, node.ID)
	if err != nil {
		return store.LabelClass{}, fmt.Errorf("sync label class %s: %w", node.ID, err)
	}

	humanName, active := node.HumanName, node.Active
	want := classFields{
		GroupID:    &groupID,
		Name:       node.Name,
		HumanName:  &humanName,
		Active:     &active,
		OrderIndex: &index,
	}
	if def, ok := node.Colours[DefaultSchemeKey]; ok {
		colour := def.HTML
		want.DefaultColour = &colour
	}

	class, changed, err := upsertLabelClass(ctx, tx, existing, want)
	if err != nil {
		return store.LabelClass{}, fmt.Errorf("sync label class %s: %w", node.ID, err)
	}
	if node.ID.IsNew() {
		res.LabelClassIDMapping[node.ID.Token()] = class.ID
	}
	if existing == nil {
		res.noteCreated(KindLabelClass)
	} else if changed {
		res.Changed = true
	}

	schemes := make([]string, 0, len(node.Colours))
	for scheme := range node.Colours {
		if scheme != DefaultSchemeKey {
			schemes = append(schemes, scheme)
		}
	}
	sort.Strings(schemes)
	for _, scheme := range schemes {
		outcome, err := upsertColourAssignment(ctx, tx, class.ID, scheme, node.Colours[scheme].HTML)
		if err != nil {
			return store.LabelClass{}, fmt.Errorf("sync colour %q of label class %s: %w", scheme, node.ID, err)
		}
		switch outcome {
		case colourWritten:
			res.Changed = true
		case colourSchemeNotFound:
			res.SkippedColours++
		}
	}
	return class, nil
}

// compactSiblings renumbers every group, and the classes of every group, so
// that submitted siblings come first in submission order and the rest follow
// in their stored order. Only indices that change are written.
func compactSiblings(ctx context.Context, tx store.Tx, res *Result, groupOrder []int64, classOrder map[int64][]int64) error {
	groups, err := tx.ListGroups(ctx)
	if err != nil {
		return err
	}
	current := make(map[int64]int, len(groups))
	stored := make([]int64, 0, len(groups))
	for _, g := range groups {
		current[g.ID] = g.OrderIndex
		stored = append(stored, g.ID)
	}
	for _, change := range Diff(current, submittedFirst(groupOrder, stored)) {
		if err := tx.SetGroupOrderIndex(ctx, change.ID, change.OrderIndex); err != nil {
			return fmt.Errorf("compact groups: %w", err)
		}
		res.Changed = true
	}

	for _, g := range groups {
		classes, err := tx.ListLabelClasses(ctx, g.ID)
		if err != nil {
			return err
		}
		current := make(map[int64]int, len(classes))
		stored := make([]int64, 0, len(classes))
		for _, c := range classes {
			current[c.ID] = c.OrderIndex
			stored = append(stored, c.ID)
		}
		for _, change := range Diff(current, submittedFirst(classOrder[g.ID], stored)) {
			if err := tx.SetLabelClassOrderIndex(ctx, change.ID, change.OrderIndex); err != nil {
				return fmt.Errorf("compact label classes of group %d: %w", g.ID, err)
			}
			res.Changed = true
		}
	}
	return nil
}

// submittedFirst returns submitted followed by the ids of stored that are not
// in submitted.
func submittedFirst(submitted, stored []int64) []int64 {
	seen := make(map[int64]bool, len(submitted))
	order := make([]int64, 0, len(stored))
	for _, id := range submitted {
		seen[id] = true
		order = append(order, id)
	}
	for _, id := range stored {
		if !seen[id] {
			order = append(order, id)
		}
	}
	return order
}

func checkDistinct(kind Kind, refs []NodeRef) error {
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if !ref.Valid() {
			return fmt.Errorf("%s: missing id: %w", kind, ErrInvalidIdentifier)
		}
		if seen[ref.key()] {
			return fmt.Errorf("%s %s submitted twice: %w", kind, ref, ErrInvalidIdentifier)
		}
		seen[ref.key()] = true
	}
	return nil
}
