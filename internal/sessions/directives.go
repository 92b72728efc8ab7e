package sessions

import "sort"

// BuildDirectivePrefix concatenates a session's active directives, in
// stable ascending order by Priority (lower = higher precedence, §3), into
// the prompt prefix the router prepends to the user's message text.
// Inactive directives are skipped entirely.
func BuildDirectivePrefix(directives []Directive) string {
	active := make([]Directive, 0, len(directives))
	for _, d := range directives {
		if d.Active {
			active = append(active, d)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })

	var prefix string
	for _, d := range active {
		prefix += d.Content
	}
	return prefix
}
