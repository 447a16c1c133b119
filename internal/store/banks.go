package store

import (
	"encoding/json"
	"fmt"
	"os"
)

type banksFile struct {
	Banks []QuestionBank `json:"banks"`
}

// LoadBanksFile reads question banks from a JSON seed file and validates
// every question in them.
func LoadBanksFile(path string) ([]QuestionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read banks file: %w", err)
	}
	var f banksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse banks file: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Banks))
	for _, bank := range f.Banks {
		if bank.ID == "" {
			return nil, fmt.Errorf("banks file: bank %q has no id", bank.Name)
		}
		if _, dup := seen[bank.ID]; dup {
			return nil, fmt.Errorf("banks file: duplicate bank id %q", bank.ID)
		}
		seen[bank.ID] = struct{}{}
		if len(bank.Questions) == 0 {
			return nil, fmt.Errorf("banks file: bank %q has no questions", bank.ID)
		}
		for i, q := range bank.Questions {
			if err := q.Validate(); err != nil {
				return nil, fmt.Errorf("banks file: bank %q question %d: %w", bank.ID, i, err)
			}
		}
	}
	return f.Banks, nil
}
