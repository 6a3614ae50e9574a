package taxonomy

import (
	"context"

	"labeller/api/internal/store"
)

// Schema is the whole taxonomy in the shape the editor submits it back.
type Schema struct {
	ColourSchemes []SchemeNode `json:"colour_schemes"`
	Groups        []GroupNode  `json:"groups"`
}

// Schema reads the current taxonomy. Groups and classes come in display
// order; every class carries its default colour plus one entry per scheme it
// has a colour for.
func (e *Editor) Schema(ctx context.Context) (Schema, error) {
	var out Schema
	err := e.store.View(ctx, func(tx store.Tx) error {
		schemes, err := tx.ListColourSchemes(ctx)
		if err != nil {
			return err
		}
		groups, err := tx.ListGroups(ctx)
		if err != nil {
			return err
		}
		classes, err := tx.ListAllLabelClasses(ctx)
		if err != nil {
			return err
		}
		assignments, err := tx.ListColourAssignments(ctx)
		if err != nil {
			return err
		}
		out = buildSchema(schemes, groups, classes, assignments)
		return nil
	})
	return out, err
}

func buildSchema(schemes []store.ColourScheme, groups []store.LabelClassGroup, classes []store.LabelClass, assignments []store.ColourAssignment) Schema {
	schemeNames := make(map[int64]string, len(schemes))
	out := Schema{
		ColourSchemes: make([]SchemeNode, 0, len(schemes)),
		Groups:        make([]GroupNode, 0, len(groups)),
	}
	for _, s := range schemes {
		schemeNames[s.ID] = s.Name
		out.ColourSchemes = append(out.ColourSchemes, SchemeNode{
			ID:        ExistingRef(s.ID),
			Name:      s.Name,
			HumanName: s.HumanName,
			Active:    s.Active,
		})
	}

	colours := make(map[int64]map[string]ColourValue, len(classes))
	for _, c := range classes {
		colours[c.ID] = map[string]ColourValue{DefaultSchemeKey: {HTML: c.DefaultColour}}
	}
	for _, a := range assignments {
		name, ok := schemeNames[a.SchemeID]
		if !ok || colours[a.LabelClassID] == nil {
			continue
		}
		colours[a.LabelClassID][name] = ColourValue{HTML: a.Colour}
	}

	byGroup := make(map[int64][]ClassNode, len(groups))
	for _, c := range classes {
		byGroup[c.GroupID] = append(byGroup[c.GroupID], ClassNode{
			ID:        ExistingRef(c.ID),
			Name:      c.Name,
			HumanName: c.HumanName,
			Active:    c.Active,
			Colours:   colours[c.ID],
		})
	}
	for _, g := range groups {
		groupClasses := byGroup[g.ID]
		if groupClasses == nil {
			groupClasses = []ClassNode{}
		}
		out.Groups = append(out.Groups, GroupNode{
			ID:           ExistingRef(g.ID),
			GroupName:    g.HumanName,
			Active:       g.Active,
			GroupClasses: groupClasses,
		})
	}
	return out
}
