// Package feed defines core types shared across subsystems.
package feed

import (
	"encoding/json"
	"sort"
	"time"
)

// Stage represents a pipeline stage an item has reached.
type Stage string

// Stage values persisted in the item stores, in pipeline order.
const (
	StageRaw             Stage = "raw"
	StageProcessed       Stage = "processed"
	StageAlphaFiltered   Stage = "alpha_filtered"
	StageContentFiltered Stage = "content_filtered"
	StageNewsFiltered    Stage = "news_filtered"
)

// Stages lists all stages in pipeline order.
var Stages = []Stage{
	StageRaw,
	StageProcessed,
	StageAlphaFiltered,
	StageContentFiltered,
	StageNewsFiltered,
}

var stageRank = map[Stage]int{
	StageRaw:             0,
	StageProcessed:       1,
	StageAlphaFiltered:   2,
	StageContentFiltered: 3,
	StageNewsFiltered:    4,
}

// Rank returns the ordinal position of the stage, or -1 for unknown values.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// Before reports whether s precedes other in the pipeline.
func (s Stage) Before(other Stage) bool {
	return s.Rank() < other.Rank()
}

// SourceFlag marks how an item entered the pipeline.
type SourceFlag string

// Source flag values.
const (
	FlagFeed             SourceFlag = "feed"
	FlagSideChannel      SourceFlag = "side_channel"
	FlagExternalOverride SourceFlag = "external_override"
)

// FlagSet is a set of source flags attached to an item.
type FlagSet map[SourceFlag]struct{}

// NewFlagSet builds a FlagSet from the given flags.
func NewFlagSet(flags ...SourceFlag) FlagSet {
	s := make(FlagSet, len(flags))
	for _, f := range flags {
		s[f] = struct{}{}
	}
	return s
}

// Has reports whether the flag is present.
func (s FlagSet) Has(flag SourceFlag) bool {
	_, ok := s[flag]
	return ok
}

// Add inserts the flag into the set.
func (s FlagSet) Add(flag SourceFlag) {
	s[flag] = struct{}{}
}

// Clone returns an independent copy of the set.
func (s FlagSet) Clone() FlagSet {
	out := make(FlagSet, len(s))
	for f := range s {
		out[f] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted string array.
func (s FlagSet) MarshalJSON() ([]byte, error) {
	flags := make([]string, 0, len(s))
	for f := range s {
		flags = append(flags, string(f))
	}
	sort.Strings(flags)
	return json.Marshal(flags)
}

// UnmarshalJSON decodes a string array into the set.
func (s *FlagSet) UnmarshalJSON(data []byte) error {
	var flags []string
	if err := json.Unmarshal(data, &flags); err != nil {
		return err
	}
	out := make(FlagSet, len(flags))
	for _, f := range flags {
		out[SourceFlag(f)] = struct{}{}
	}
	*s = out
	return nil
}

// Alpha scoring constants. AlphaScore values live on the oracle's [0,1]
// scale; override items carry the maximum as a fixed sentinel.
const (
	MaxAlphaScore  = 1.0
	OverrideSignal = "external override: scoring bypassed"
)

// OverrideCategory is assigned to override items that arrive without a
// natural category by the time they reach the news filter.
const OverrideCategory = "Override"

// Item is the unit flowing through the pipeline.
type Item struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Author      string     `json:"author,omitempty"`
	URL         string     `json:"url,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Category    string     `json:"category,omitempty"`
	SourceFlags FlagSet    `json:"source_flags"`
	AlphaScore  *float64   `json:"alpha_score,omitempty"`
	AlphaSignal string     `json:"alpha_signal,omitempty"`
	Stage       Stage      `json:"stage"`
	DedupKey    string     `json:"dedup_key,omitempty"`
}

// Override reports whether the item was injected via a side channel and
// must bypass scoring and filtering.
func (i Item) Override() bool {
	return i.SourceFlags.Has(FlagExternalOverride)
}

// Promoted returns a copy of the item advanced to the given stage.
func (i Item) Promoted(stage Stage) Item {
	out := i
	out.Stage = stage
	out.SourceFlags = i.SourceFlags.Clone()
	return out
}

// DropReason explains why an item left the pipeline.
type DropReason string

// Drop reasons recorded for auditability.
const (
	ReasonMalformed      DropReason = "malformed item"
	ReasonBelowThreshold DropReason = "below alpha threshold"
	ReasonOracleFailed   DropReason = "scoring unavailable"
	ReasonNoCategory     DropReason = "no category match"
	ReasonRiskExceeded   DropReason = "risk threshold exceeded"
	ReasonDuplicate      DropReason = "duplicate content"
	ReasonNotNewsworthy  DropReason = "not newsworthy"
)

// DropRecord is persisted for every item dropped from a stage.
type DropRecord struct {
	ItemID string     `json:"item_id"`
	Stage  Stage      `json:"stage"`
	Reason DropReason `json:"reason"`
	At     time.Time  `json:"at"`
}

// Score is the scoring oracle's verdict for one item.
type Score struct {
	Value float64 `json:"score"`
	Label string  `json:"label"`
}

// CategoryContext carries the static category configuration handed to
// the oracle and the content filter.
type CategoryContext struct {
	Name     string
	Priority int
	Keywords []string
	Focus    []string
}

// Delivery is the batch handed to the distribution sink at the end of a
// pipeline run, grouped by category.
type Delivery struct {
	RunID  string            `json:"run_id"`
	At     time.Time         `json:"at"`
	Groups map[string][]Item `json:"groups"`
}

// Count returns the total number of items in the delivery.
func (d Delivery) Count() int {
	n := 0
	for _, items := range d.Groups {
		n += len(items)
	}
	return n
}
