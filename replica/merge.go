// ABOUTME: Keyed merge of deal sequences used when seeding and reconciling replicas
// ABOUTME: Every id appears once; which side wins a shared id is an explicit parameter
package replica

import (
	"github.com/harperreed/embudo/models"
)

// Precedence decides which input wins when both carry the same deal id.
type Precedence int

const (
	// IncomingWins prefers the second sequence. A surface mounts with the
	// built-in seed as base and its cached replica as incoming, so confirmed
	// writes override seed data.
	IncomingWins Precedence = iota
	// BaseWins keeps the first sequence's version.
	BaseWins
)

func (p Precedence) String() string {
	if p == BaseWins {
		return "base-wins"
	}
	return "incoming-wins"
}

// MergeUniqueByID merges with IncomingWins.
func MergeUniqueByID(base, incoming []models.Deal) []models.Deal {
	return MergeUniqueByIDWith(base, incoming, IncomingWins)
}

// MergeUniqueByIDWith returns every id found in base or incoming exactly once.
// Base order is kept; ids only present in incoming are appended in the order
// they first appear there. Within one input the last entry for an id is the
// one that counts.
func MergeUniqueByIDWith(base, incoming []models.Deal, precedence Precedence) []models.Deal {
	latestBase := make(map[int64]models.Deal, len(base))
	for _, d := range base {
		latestBase[d.ID] = d
	}
	latestIncoming := make(map[int64]models.Deal, len(incoming))
	for _, d := range incoming {
		latestIncoming[d.ID] = d
	}

	out := make([]models.Deal, 0, len(base)+len(incoming))
	seen := make(map[int64]bool, len(base)+len(incoming))

	for _, d := range base {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true

		chosen := latestBase[d.ID]
		if in, ok := latestIncoming[d.ID]; ok && precedence == IncomingWins {
			chosen = in
		}
		out = append(out, chosen.Clone())
	}

	for _, d := range incoming {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, latestIncoming[d.ID].Clone())
	}

	return out
}

// upsertDeal replaces the entry with deal's id or appends it.
func upsertDeal(deals []models.Deal, deal models.Deal) []models.Deal {
	for i := range deals {
		if deals[i].ID == deal.ID {
			deals[i] = deal.Clone()
			return deals
		}
	}
	return append(deals, deal.Clone())
}

// removeDeal drops every entry with id. It reports whether any was found.
func removeDeal(deals []models.Deal, id int64) ([]models.Deal, bool) {
	out := deals[:0]
	found := false
	for _, d := range deals {
		if d.ID == id {
			found = true
			continue
		}
		out = append(out, d)
	}
	return out, found
}
