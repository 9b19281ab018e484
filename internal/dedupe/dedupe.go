// Package dedupe finds contacts that probably describe the same person. It only
// reports; merging is a separate, user-driven operation.
package dedupe

import (
	"slices"
	"strings"

	"github.com/matheus3301/mirror/internal/normalize"
	"github.com/matheus3301/mirror/internal/store"
)

// Confidence tiers, ordered high to low.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
)

func (c Confidence) rank() int {
	if c == High {
		return 0
	}
	return 1
}

// Candidate is a contact that may duplicate the target.
type Candidate struct {
	Contact    store.Contact `json:"contact"`
	Confidence Confidence    `json:"confidence"`
	Reason     string        `json:"reason"`
}

// FindFor compares target against every other contact. Rules are checked in order
// and the first hit decides the tier. Results are sorted high before medium and
// otherwise keep the order of all.
func FindFor(target store.Contact, all []store.Contact, region string) []Candidate {
	t := newKeys(&target, region)
	var out []Candidate
	for i := range all {
		other := &all[i]
		if other.ID == target.ID {
			continue
		}
		if conf, reason, ok := compare(&target, t, other, newKeys(other, region)); ok {
			out = append(out, Candidate{Contact: *other, Confidence: conf, Reason: reason})
		}
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		return a.Confidence.rank() - b.Confidence.rank()
	})
	return out
}

// keys are the normalized identifiers of one contact.
type keys struct {
	name       string
	phone      string   // normalized primary phone
	listPhones []string // normalized multi-phone list
	allPhones  []string // primary and list
	socials    []string // social handles with '@' trimmed
	socialTels []string // social handles that normalize to phones
}

func newKeys(c *store.Contact, region string) keys {
	k := keys{
		name:       strings.ToLower(c.FullName()),
		phone:      normalize.Phone(c.Phone, region),
		listPhones: normalize.Phones(region, c.Phones...),
		allPhones:  normalize.Phones(region, append([]string{c.Phone}, c.Phones...)...),
	}
	for _, h := range c.SocialHandles {
		if h = normalize.Handle(h); h != "" {
			k.socials = append(k.socials, h)
		}
		if p := normalize.Phone(h, region); p != "" {
			k.socialTels = append(k.socialTels, p)
		}
	}
	return k
}

func compare(a *store.Contact, ak keys, b *store.Contact, bk keys) (Confidence, string, bool) {
	switch {
	case a.Handle != "" && a.Handle == b.Handle:
		return High, "same handle", true
	case a.Phone != "" && a.Phone == b.Phone:
		return High, "same phone", true
	case containsHandle(bk.socials, a.Handle):
		return High, "handle in social handles", true
	case ak.phone != "" && slices.Contains(bk.socialTels, ak.phone):
		return High, "phone in social handles", true
	case intersects(ak.listPhones, bk.listPhones):
		return Medium, "shared phone", true
	case similarName(ak.name, bk.name) && sharesIdentifier(a, ak, b, bk):
		return Medium, "similar name", true
	}
	return "", "", false
}

func similarName(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// sharesIdentifier reports any single handle (case-insensitive, social handles
// included) or normalized phone in common.
func sharesIdentifier(a *store.Contact, ak keys, b *store.Contact, bk keys) bool {
	if intersects(ak.allPhones, bk.allPhones) {
		return true
	}
	ha := append([]string{a.Handle}, ak.socials...)
	hb := append([]string{b.Handle}, bk.socials...)
	for _, x := range ha {
		for _, y := range hb {
			if normalize.SameHandle(x, y) {
				return true
			}
		}
	}
	return false
}

func containsHandle(list []string, h string) bool {
	return slices.ContainsFunc(list, func(x string) bool { return normalize.SameHandle(x, h) })
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

// Cluster kinds.
const (
	ByHandle = "handle"
	ByPhone  = "phone"
)

// Cluster is a group of contacts sharing one exact key.
type Cluster struct {
	Kind       string   `json:"kind"`
	Key        string   `json:"key"`
	ContactIDs []string `json:"contact_ids"`
}

// Clusters groups all contacts by exact handle and by each normalized phone and
// returns every group with more than one member, in first-seen key order.
func Clusters(all []store.Contact, region string) []Cluster {
	type group struct {
		kind, key string
		ids       []string
	}
	var (
		order []string
		byKey = make(map[string]*group)
	)
	add := func(kind, key, id string) {
		k := kind + ":" + key
		g, ok := byKey[k]
		if !ok {
			g = &group{kind: kind, key: key}
			byKey[k] = g
			order = append(order, k)
		}
		g.ids = append(g.ids, id)
	}

	for i := range all {
		c := &all[i]
		if c.Handle != "" {
			add(ByHandle, c.Handle, c.ID)
		}
		for _, p := range normalize.Phones(region, append([]string{c.Phone}, c.Phones...)...) {
			add(ByPhone, p, c.ID)
		}
	}

	var out []Cluster
	for _, k := range order {
		if g := byKey[k]; len(g.ids) > 1 {
			out = append(out, Cluster{Kind: g.kind, Key: g.key, ContactIDs: g.ids})
		}
	}
	return out
}
