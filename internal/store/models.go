package store

import "time"

type ColourScheme struct {
	ID        int64
	Name      string
	HumanName string
	Active    bool
}

type LabelClassGroup struct {
	ID         int64
	HumanName  string
	Active     bool
	OrderIndex int
}

type LabelClass struct {
	ID            int64
	GroupID       int64
	Name          string
	HumanName     string
	Active        bool
	DefaultColour string
	OrderIndex    int
}

// ColourAssignment is the colour a label class uses under one non-default
// colour scheme. At most one exists per (LabelClassID, SchemeID).
type ColourAssignment struct {
	ID           int64
	LabelClassID int64
	SchemeID     int64
	Colour       string
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
