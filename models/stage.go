// ABOUTME: Deal stage state machine shared by the gateway and every surface
// ABOUTME: Maps a stage to its win probability and builds the stage_change audit record
package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage is a pipeline phase of a deal.
type Stage string

const (
	StageNew           Stage = "Nuevo"
	StageQualification Stage = "Calificación"
	StageProposal      Stage = "Propuesta"
	StageNegotiation   Stage = "Negociación"
	StageClosing       Stage = "Cierre"
	StageWon           Stage = "Ganado"
	StageLost          Stage = "Perdido"
)

var orderedStages = []Stage{
	StageNew,
	StageQualification,
	StageProposal,
	StageNegotiation,
	StageClosing,
	StageWon,
	StageLost,
}

// stageProbability is the only copy of the stage -> probability table.
// Nuevo is absent on purpose: it keeps the prior value.
var stageProbability = map[Stage]int{
	StageWon:           100,
	StageLost:          0,
	StageClosing:       90,
	StageNegotiation:   75,
	StageProposal:      50,
	StageQualification: 25,
}

// Stages returns the stages in pipeline order, terminal stages last.
func Stages() []Stage {
	out := make([]Stage, len(orderedStages))
	copy(out, orderedStages)
	return out
}

// ProbabilityFor returns the probability a deal has once it sits in stage.
// Stages without a fixed value return prior unchanged.
func ProbabilityFor(stage Stage, prior int) int {
	if p, ok := stageProbability[stage]; ok {
		return p
	}
	return prior
}

func (s Stage) Valid() bool {
	for _, st := range orderedStages {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an absorbing outcome (won or lost).
func (s Stage) Terminal() bool {
	return s == StageWon || s == StageLost
}

// Index is the position of s in pipeline order, or -1.
func (s Stage) Index() int {
	for i, st := range orderedStages {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage in pipeline order. Lost has no next stage.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(orderedStages) {
		return s, false
	}
	return orderedStages[i+1], true
}

// Prev returns the preceding stage in pipeline order.
func (s Stage) Prev() (Stage, bool) {
	i := s.Index()
	if i <= 0 {
		return s, false
	}
	return orderedStages[i-1], true
}

var stageAliases = map[string]Stage{
	"nuevo":         StageNew,
	"new":           StageNew,
	"calificacion":  StageQualification,
	"calificación":  StageQualification,
	"qualification": StageQualification,
	"propuesta":     StageProposal,
	"proposal":      StageProposal,
	"negociacion":   StageNegotiation,
	"negociación":   StageNegotiation,
	"negotiation":   StageNegotiation,
	"cierre":        StageClosing,
	"closing":       StageClosing,
	"ganado":        StageWon,
	"won":           StageWon,
	"perdido":       StageLost,
	"lost":          StageLost,
}

// ParseStage accepts the canonical names plus accent-less, lowercase and
// English spellings.
func ParseStage(raw string) (Stage, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if st, ok := stageAliases[key]; ok {
		return st, nil
	}
	return "", fmt.Errorf("invalid stage: %q (valid: Nuevo, Calificación, Propuesta, Negociación, Cierre, Ganado, Perdido)", raw)
}

// NewStageChangeActivity builds the audit record for a stage transition.
func NewStageChangeActivity(deal Deal, from Stage, owner string, at time.Time) Activity {
	dealID := deal.ID
	a := Activity{
		Type:         ActivityStageChange,
		Title:        fmt.Sprintf("Cambio de etapa: %s", deal.Title),
		DealID:       &dealID,
		ActivityDate: at,
		Status:       ActivityStatusCompleted,
		Notes:        fmt.Sprintf("Etapa cambiada de %s a %s (probabilidad %d%%)", from, deal.Stage, deal.Probability),
		SalesOwner:   owner,
	}
	if deal.ContactID != nil {
		cid := *deal.ContactID
		a.ContactID = &cid
	}
	return a
}
