package market

import (
	"fmt"
	"strings"
)

// Client-side checks run before a submission. They exist for immediate
// feedback; the ledger enforces the real rules and any rejection it returns
// is authoritative.

func (s *Service) validateBuy(propertyID, amount int64) error {
	if amount <= 0 {
		return &ValidationError{Reason: "amount must be a positive number of tokens"}
	}
	if p, ok := s.Property(propertyID); ok && amount > p.AvailableTokens {
		return &ValidationError{
			Reason: fmt.Sprintf("only %d tokens of %s are available", p.AvailableTokens, p.Title),
		}
	}
	return nil
}

func (s *Service) validateTransfer(propertyID, amount int64, recipient string) (string, error) {
	if amount <= 0 {
		return "", &ValidationError{Reason: "amount must be a positive number of tokens"}
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", &ValidationError{Reason: "invalid recipient"}
	}
	if held, ok := s.holdings.Snapshot(); ok && amount > held[propertyID] {
		return "", &ValidationError{
			Reason: fmt.Sprintf("you hold %d tokens of property %d, cannot transfer %d", held[propertyID], propertyID, amount),
		}
	}
	return recipient, nil
}
