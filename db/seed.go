// ABOUTME: Built-in seed records for the mock tables and for freshly mounted surfaces
// ABOUTME: The same ids appear in both so a surface seed and the mock store coalesce on merge
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harperreed/embudo/models"
)

// Seed is the initial content of the in-memory tables.
type Seed struct {
	Contacts []models.Contact
	Deals    []models.Deal
}

var seedTime = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

// DefaultSeed returns a fresh copy of the demo pipeline.
func DefaultSeed() Seed {
	contacts := []models.Contact{
		{ID: 1, Name: "Lucía Fernández", Email: "lucia@grupoandino.com", Phone: "+51 1 555 0101", Company: "Grupo Andino", Position: "Gerente de Operaciones"},
		{ID: 2, Name: "Martín Rojas", Email: "mrojas@textilesdelsur.com", Phone: "+56 2 555 0202", Company: "Textiles del Sur", Position: "Director Financiero"},
		{ID: 3, Name: "Paula Gómez", Email: "paula.gomez@logisticanorte.mx", Phone: "+52 81 555 0303", Company: "Logística Norte", Position: "Jefa de TI"},
	}
	for i := range contacts {
		contacts[i].CreatedAt = seedTime
		contacts[i].UpdatedAt = seedTime
	}

	deals := []models.Deal{
		{
			ID: 1, Title: "Implementación CRM", Company: "Grupo Andino",
			Value: decimal.NewFromInt(12000), Stage: models.StageProposal, Probability: 50,
			LeadSource: "Referido", Industry: "Retail", NextSteps: "Enviar propuesta revisada",
		},
		{
			ID: 2, Title: "Licencias anuales", Company: "Textiles del Sur",
			Value: decimal.NewFromInt(8500), Stage: models.StageNegotiation, Probability: 75,
			LeadSource: "Web", Industry: "Manufactura", Competitors: "Salesforce",
		},
		{
			ID: 3, Title: "Consultoría de datos", Company: "Logística Norte",
			Value: decimal.NewFromInt(4300), Stage: models.StageQualification, Probability: 25,
			LeadSource: "Evento", Industry: "Logística", PainPoints: "Reportes manuales",
		},
	}
	for i := range deals {
		c := contacts[i]
		id := c.ID
		deals[i].ContactID = &id
		deals[i].ContactName = c.Name
		deals[i].ContactEmail = c.Email
		deals[i].ContactPhone = c.Phone
		deals[i].CreatedAt = seedTime
		deals[i].UpdatedAt = seedTime
	}

	return Seed{Contacts: contacts, Deals: deals}
}

// SeedDeals is the built-in deal set a surface starts from before merging
// its local replica.
func SeedDeals() []models.Deal {
	return DefaultSeed().Deals
}

// ErrNotEmpty means SeedTables found existing deals.
var ErrNotEmpty = errors.New("database already has deals")

// SeedTables writes seed through tb. On an empty database the deals receive
// the same ids as the surface seed. Existing contacts are matched by email;
// existing deals are an error unless force is set.
func SeedTables(ctx context.Context, tb Tables, seed Seed, force bool) ([]models.Deal, error) {
	existing, err := tb.FindDeals(ctx, models.DealFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 && !force {
		return nil, ErrNotEmpty
	}

	contactIDs := make(map[int64]int64, len(seed.Contacts))
	for _, c := range seed.Contacts {
		seedID := c.ID
		found, err := tb.FindContactByEmail(ctx, c.Email)
		if err != nil {
			return nil, err
		}
		if found == nil {
			if err := tb.CreateContact(ctx, &c); err != nil {
				return nil, fmt.Errorf("seed contact %s: %w", c.Email, err)
			}
			found = &c
		}
		contactIDs[seedID] = found.ID
	}

	created := make([]models.Deal, 0, len(seed.Deals))
	for _, d := range seed.Deals {
		d = d.Clone()
		if d.ContactID != nil {
			if id, ok := contactIDs[*d.ContactID]; ok {
				d.ContactID = &id
			}
		}
		if err := tb.CreateDeal(ctx, &d); err != nil {
			return nil, fmt.Errorf("seed deal %q: %w", d.Title, err)
		}
		created = append(created, d)
	}
	return created, nil
}
