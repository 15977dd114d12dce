package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turnordoficial-hash/turnord02/internal/models"
)

// Seed is the YAML document accepted by LoadSeed.
//
//	businesses:
//	  - config: {business_id: shop-1, opening_time: "08:00", closing_time: "20:00", daily_ticket_limit: 60}
//	    services:
//	      - {name: Corte, duration_minutes: 30, active: true}
//	    tickets: []
type Seed struct {
	Businesses []BusinessSeed `yaml:"businesses"`
}

type BusinessSeed struct {
	Config   models.BusinessConfig `yaml:"config"`
	Break    *models.BreakState    `yaml:"break,omitempty"`
	Services []models.Service      `yaml:"services"`
	Tickets  []models.Ticket       `yaml:"tickets"`
}

func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}

// Apply loads the seed into the store. Tickets are inserted through
// InsertTicket so the uniqueness rule still holds.
func (s *Store) Apply(ctx context.Context, seed Seed) error {
	for _, business := range seed.Businesses {
		businessID := business.Config.BusinessID
		if businessID == "" {
			return fmt.Errorf("seed business without business_id")
		}
		s.PutBusinessConfig(business.Config)
		if business.Break != nil {
			state := *business.Break
			state.BusinessID = businessID
			s.PutBreakState(state)
		}
		for _, service := range business.Services {
			service.BusinessID = businessID
			s.PutService(service)
		}
		for _, ticket := range business.Tickets {
			ticket.BusinessID = businessID
			if _, err := s.InsertTicket(ctx, ticket); err != nil {
				return fmt.Errorf("seed ticket %s: %w", ticket.Code, err)
			}
		}
	}
	return nil
}
