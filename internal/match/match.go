// Package match resolves which contact a conversation belongs to from the
// conversation's embedded identifiers. Matching is exact only; a wrong link is
// worse than a missing one.
package match

import (
	"strings"

	"github.com/matheus3301/mirror/internal/normalize"
	"github.com/matheus3301/mirror/internal/store"
)

// Rule names the precedence step that produced a match.
type Rule string

const (
	RuleNone              Rule = ""
	RuleHandle            Rule = "handle"
	RulePhone             Rule = "phone"
	RuleHandleInsensitive Rule = "handle_insensitive"
	RulePhoneList         Rule = "phone_list"
)

// Identifiers are the participant identifiers embedded in a single chat.
type Identifiers struct {
	Handle string
	Phone  string
}

// Index is an in-memory view of the contact table built for matching.
// Contacts keep storage order, so duplicate keys resolve to the first stored contact.
type Index struct {
	region     string
	contacts   []store.Contact
	byHandle   map[string][]int
	byPhone    map[string][]int
	withHandle []int

	// phoneKeys holds, per contact, the normalized phones plus normalized social handles.
	phoneKeys []map[string]bool
}

// NewIndex builds an index over contacts using region for phone normalization.
func NewIndex(contacts []store.Contact, region string) *Index {
	idx := &Index{
		region:    region,
		contacts:  contacts,
		byHandle:  make(map[string][]int),
		byPhone:   make(map[string][]int),
		phoneKeys: make([]map[string]bool, len(contacts)),
	}
	for i := range contacts {
		c := &contacts[i]
		if c.Handle != "" {
			idx.byHandle[c.Handle] = append(idx.byHandle[c.Handle], i)
			idx.withHandle = append(idx.withHandle, i)
		}
		if c.Phone != "" {
			idx.byPhone[c.Phone] = append(idx.byPhone[c.Phone], i)
		}
		keys := make(map[string]bool)
		for _, p := range c.NormalizedPhones {
			keys[p] = true
		}
		// Stored lists may predate normalization; derive from the raw fields too.
		for _, p := range normalize.Phones(region, append([]string{c.Phone}, c.Phones...)...) {
			keys[p] = true
		}
		for _, h := range c.SocialHandles {
			if p := normalize.Phone(h, region); p != "" {
				keys[p] = true
			}
		}
		idx.phoneKeys[i] = keys
	}
	return idx
}

// Match returns the best contact for ids, or nil, and the rule that matched.
//
// Precedence, first hit wins:
//  1. exact handle against Contact.Handle
//  2. exact phone against Contact.Phone
//  3. case-insensitive handle scan over contacts that have a handle
//  4. normalized phone against each contact's phone lists and social handles
func (idx *Index) Match(ids Identifiers) (*store.Contact, Rule) {
	handle := strings.TrimSpace(ids.Handle)
	phone := strings.TrimSpace(ids.Phone)

	if handle != "" {
		if hits := idx.byHandle[handle]; len(hits) > 0 {
			return &idx.contacts[hits[0]], RuleHandle
		}
	}
	if phone != "" {
		if hits := idx.byPhone[phone]; len(hits) > 0 {
			return &idx.contacts[hits[0]], RulePhone
		}
	}
	if handle != "" {
		for _, i := range idx.withHandle {
			if normalize.SameHandle(idx.contacts[i].Handle, handle) {
				return &idx.contacts[i], RuleHandleInsensitive
			}
		}
	}
	if phone != "" {
		if key := normalize.Phone(phone, idx.region); key != "" {
			for i := range idx.contacts {
				if idx.phoneKeys[i][key] {
					return &idx.contacts[i], RulePhoneList
				}
			}
		}
	}
	return nil, RuleNone
}

// MatchChat matches a chat by its embedded handle and phone.
func (idx *Index) MatchChat(c *store.Chat) (*store.Contact, Rule) {
	return idx.Match(Identifiers{Handle: c.Handle, Phone: c.Phone})
}
