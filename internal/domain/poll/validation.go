package poll

import (
	"fmt"
	"strings"
)

const (
	MinOptions     = 2
	MaxOptions     = 20
	MaxTitleLength = 200
	MaxOptionText  = 120
)

// ValidateCreateInput validates fields required to create a poll.
func ValidateCreateInput(req CreateRequest) error {
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > MaxTitleLength {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, MaxTitleLength)
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		return ErrNotEligible
	}
	if len(req.Options) < MinOptions || len(req.Options) > MaxOptions {
		return fmt.Errorf("%w: a poll needs %d-%d options", ErrInvalidInput, MinOptions, MaxOptions)
	}
	seen := make(map[string]struct{}, len(req.Options))
	for _, text := range req.Options {
		text = strings.TrimSpace(text)
		if text == "" || len(text) > MaxOptionText {
			return fmt.Errorf("%w: option text must be 1-%d characters", ErrInvalidInput, MaxOptionText)
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate option %q", ErrInvalidInput, text)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateSelection checks optionIDs against the poll's options and choice mode.
func ValidateSelection(p *Poll, optionIDs []string) error {
	if len(optionIDs) == 0 {
		return ErrInvalidSelectionCount
	}
	if !p.AllowMultiple && len(optionIDs) > 1 {
		return ErrInvalidSelectionCount
	}
	seen := make(map[string]struct{}, len(optionIDs))
	for _, id := range optionIDs {
		if _, dup := seen[id]; dup {
			return ErrInvalidSelectionCount
		}
		seen[id] = struct{}{}
		if _, ok := p.OptionIndex(id); !ok {
			return ErrInvalidOption
		}
	}
	return nil
}
