package matcher

import "sort"

// ClaimSet records the identities already assigned to a face in one request.
// An identity can be claimed at most once.
type ClaimSet struct {
	keys map[string]struct{}
}

func NewClaimSet() *ClaimSet {
	return &ClaimSet{keys: make(map[string]struct{})}
}

// Claim marks key as taken. It returns false if key was already claimed.
func (c *ClaimSet) Claim(key string) bool {
	if _, ok := c.keys[key]; ok {
		return false
	}
	c.keys[key] = struct{}{}
	return true
}

func (c *ClaimSet) Claimed(key string) bool {
	_, ok := c.keys[key]
	return ok
}

func (c *ClaimSet) Len() int {
	return len(c.keys)
}

// Keys returns the claimed keys in sorted order.
func (c *ClaimSet) Keys() []string {
	out := make([]string, 0, len(c.keys))
	for k := range c.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
