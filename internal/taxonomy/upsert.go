package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"labeller/api/internal/store"
)

const (
	// DefaultSchemeKey names the colour stored on the label class itself
	// rather than as a colour assignment.
	DefaultSchemeKey = "default"

	// NewClassColour is the default colour of classes created without one.
	NewClassColour = "#808080"
)

var colourPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

func validateColour(colour string) error {
	if !colourPattern.MatchString(colour) {
		return fmt.Errorf("colour %q: %w", colour, ErrInvalidColour)
	}
	return nil
}

// groupFields holds the desired state of a group. Nil fields are left alone.
type groupFields struct {
	HumanName  *string
	Active     *bool
	OrderIndex *int
}

type classFields struct {
	GroupID       *int64
	Name          string // used on creation only
	HumanName     *string
	Active        *bool
	DefaultColour *string
	OrderIndex    *int
}

type schemeFields struct {
	Name      string // used on creation only
	HumanName *string
	Active    *bool
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// upsertGroup creates the group when existing is nil and otherwise updates
// the stored group with a single write, or none if nothing differs.
func upsertGroup(ctx context.Context, tx store.Tx, existing *int64, want groupFields) (store.LabelClassGroup, bool, error) {
	if existing == nil {
		group := store.LabelClassGroup{Active: true}
		setString(&group.HumanName, want.HumanName)
		setBool(&group.Active, want.Active)
		setInt(&group.OrderIndex, want.OrderIndex)
		newID, err := tx.InsertGroup(ctx, group)
		if err != nil {
			return store.LabelClassGroup{}, false, err
		}
		group.ID = newID
		return group, true, nil
	}

	current, err := tx.GetGroup(ctx, *existing)
	if err != nil {
		return store.LabelClassGroup{}, false, err
	}
	next := current
	setString(&next.HumanName, want.HumanName)
	setBool(&next.Active, want.Active)
	setInt(&next.OrderIndex, want.OrderIndex)
	if next == current {
		return current, false, nil
	}
	if err := tx.UpdateGroup(ctx, next); err != nil {
		return store.LabelClassGroup{}, false, err
	}
	return next, true, nil
}

func upsertLabelClass(ctx context.Context, tx store.Tx, existing *int64, want classFields) (store.LabelClass, bool, error) {
	if want.DefaultColour != nil {
		if err := validateColour(*want.DefaultColour); err != nil {
			return store.LabelClass{}, false, err
		}
	}

	if existing == nil {
		if want.Name == "" {
			return store.LabelClass{}, false, fmt.Errorf("create label class: name is required: %w", ErrInvalidRequest)
		}
		if want.GroupID == nil {
			return store.LabelClass{}, false, fmt.Errorf("create label class %q: group is required: %w", want.Name, ErrInvalidRequest)
		}
		class := store.LabelClass{
			GroupID:       *want.GroupID,
			Name:          want.Name,
			Active:        true,
			DefaultColour: NewClassColour,
		}
		setString(&class.HumanName, want.HumanName)
		setBool(&class.Active, want.Active)
		setString(&class.DefaultColour, want.DefaultColour)
		setInt(&class.OrderIndex, want.OrderIndex)
		newID, err := tx.InsertLabelClass(ctx, class)
		if err != nil {
			return store.LabelClass{}, false, err
		}
		class.ID = newID
		return class, true, nil
	}

	current, err := tx.GetLabelClass(ctx, *existing)
	if err != nil {
		return store.LabelClass{}, false, err
	}
	next := current
	if want.GroupID != nil {
		next.GroupID = *want.GroupID
	}
	setString(&next.HumanName, want.HumanName)
	setBool(&next.Active, want.Active)
	setString(&next.DefaultColour, want.DefaultColour)
	setInt(&next.OrderIndex, want.OrderIndex)
	if next == current {
		return current, false, nil
	}
	if err := tx.UpdateLabelClass(ctx, next); err != nil {
		return store.LabelClass{}, false, err
	}
	return next, true, nil
}

func upsertColourScheme(ctx context.Context, tx store.Tx, existing *int64, want schemeFields) (store.ColourScheme, bool, error) {
	if existing == nil {
		if want.Name == "" {
			return store.ColourScheme{}, false, fmt.Errorf("create colour scheme: name is required: %w", ErrInvalidRequest)
		}
		if want.Name == DefaultSchemeKey {
			return store.ColourScheme{}, false, fmt.Errorf("create colour scheme: %q is reserved: %w", want.Name, ErrConflict)
		}
		scheme := store.ColourScheme{Name: want.Name, Active: true}
		setString(&scheme.HumanName, want.HumanName)
		setBool(&scheme.Active, want.Active)
		newID, err := tx.InsertColourScheme(ctx, scheme)
		if err != nil {
			return store.ColourScheme{}, false, err
		}
		scheme.ID = newID
		return scheme, true, nil
	}

	current, err := tx.GetColourScheme(ctx, *existing)
	if err != nil {
		return store.ColourScheme{}, false, err
	}
	next := current
	setString(&next.HumanName, want.HumanName)
	setBool(&next.Active, want.Active)
	if next == current {
		return current, false, nil
	}
	if err := tx.UpdateColourScheme(ctx, next); err != nil {
		return store.ColourScheme{}, false, err
	}
	return next, true, nil
}

// colourOutcome reports what upsertColourAssignment did.
type colourOutcome int

const (
	colourUnchanged colourOutcome = iota
	colourWritten
	// colourSchemeNotFound means no scheme carries the submitted name. The
	// entry is skipped without error so colours of removed schemes do not
	// block a submission.
	colourSchemeNotFound
)

// upsertColourAssignment sets the colour of a class under the scheme named
// schemeName. The reserved default key is not handled here.
func upsertColourAssignment(ctx context.Context, tx store.Tx, classID int64, schemeName, colour string) (colourOutcome, error) {
	if err := validateColour(colour); err != nil {
		return colourUnchanged, err
	}

	scheme, err := tx.GetColourSchemeByName(ctx, schemeName)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return colourSchemeNotFound, nil
	case err != nil:
		return colourUnchanged, err
	}

	current, err := tx.GetColourAssignment(ctx, classID, scheme.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if _, err := tx.InsertColourAssignment(ctx, store.ColourAssignment{
			LabelClassID: classID,
			SchemeID:     scheme.ID,
			Colour:       colour,
		}); err != nil {
			return colourUnchanged, err
		}
		return colourWritten, nil
	case err != nil:
		return colourUnchanged, err
	}

	if current.Colour == colour {
		return colourUnchanged, nil
	}
	if err := tx.UpdateColourAssignmentColour(ctx, current.ID, colour); err != nil {
		return colourUnchanged, err
	}
	return colourWritten, nil
}
