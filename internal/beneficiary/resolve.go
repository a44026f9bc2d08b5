package beneficiary

import (
	"sort"
	"strings"
)

// keyword lists for lexical category inference; lowercase
var (
	familyWords   = []string{"mum", "mom", "mummy", "dad", "daddy", "papa", "mama", "bro", "brother", "sis", "sister", "aunty", "auntie", "uncle", "cousin", "son", "daughter", "wife", "husband", "grandma", "grandpa"}
	friendWords   = []string{"friend", "guy", "babe", "bestie", "padi", "gee", "bff", "roomie", "neighbour", "neighbor"}
	businessWords = []string{"shop", "store", "vendor", "supplier", "biz", "business", "company", "enterprise", "ventures", "ltd", "limited", "plc", "landlord", "tailor", "mechanic", "plumber"}
)

// InferCategory assigns a category from the nickname's words. First match
// wins in the order family, friend, business; default other.
func InferCategory(nickname string) Category {
	lowered := strings.ToLower(nickname)
	for _, w := range familyWords {
		if strings.Contains(lowered, w) {
			return CategoryFamily
		}
	}
	for _, w := range friendWords {
		if strings.Contains(lowered, w) {
			return CategoryFriend
		}
	}
	for _, w := range businessWords {
		if strings.Contains(lowered, w) {
			return CategoryBusiness
		}
	}
	return CategoryOther
}

// Resolve picks the beneficiary a nickname refers to: case-insensitive exact
// match on nickname first, then case-insensitive substring of the resolved
// account name. Ties break favorite first, then most used, then most recent.
func Resolve(candidates []Beneficiary, nickname string) *Beneficiary {
	needle := strings.ToLower(strings.TrimSpace(nickname))
	if needle == "" {
		return nil
	}

	var matches []Beneficiary
	for _, b := range candidates {
		if !b.IsActive {
			continue
		}
		if b.Nickname != nil && strings.EqualFold(*b.Nickname, needle) {
			matches = append(matches, b)
		}
	}

	if len(matches) == 0 {
		for _, b := range candidates {
			if !b.IsActive {
				continue
			}
			if strings.Contains(strings.ToLower(b.Name), needle) {
				matches = append(matches, b)
			}
		}
	}

	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.IsFavorite != b.IsFavorite {
			return a.IsFavorite
		}
		if a.TotalTransactions != b.TotalTransactions {
			return a.TotalTransactions > b.TotalTransactions
		}
		switch {
		case a.LastUsedAt == nil:
			return false
		case b.LastUsedAt == nil:
			return true
		default:
			return a.LastUsedAt.After(*b.LastUsedAt)
		}
	})

	return &matches[0]
}
