package intent

import (
	"strings"

	"trip-planner-be/pkg/planner"
)

// MergeSlots folds the slots parsed this turn into the slots accumulated so
// far. Empty values never overwrite, a concrete task type survives a later
// "other", list slots become ordered de-duplicated unions, party and date
// window merge field by field, and other scalars are replaced.
func MergeSlots(prior, current planner.Slots) planner.Slots {
	out := prior.Clone()

	if current.TaskType != "" && current.TaskType != planner.TaskOther {
		out.TaskType = current.TaskType
	} else if out.TaskType == "" {
		out.TaskType = current.TaskType
	}

	if s := strings.TrimSpace(current.Origin); s != "" {
		out.Origin = s
	}
	out.Destinations = union(out.Destinations, current.Destinations)
	out.Tags = union(out.Tags, current.Tags)

	if current.DateWindow.From != "" {
		out.DateWindow.From = current.DateWindow.From
	}
	if current.DateWindow.To != "" {
		out.DateWindow.To = current.DateWindow.To
	}
	if current.Party.Adults != nil {
		v := *current.Party.Adults
		out.Party.Adults = &v
	}
	if current.Party.Children != nil {
		v := *current.Party.Children
		out.Party.Children = &v
	}

	if current.DurationDays > 0 {
		out.DurationDays = current.DurationDays
	}
	if current.Budget > 0 {
		out.Budget = current.Budget
	}
	if current.Currency != "" {
		out.Currency = current.Currency
	}
	if current.Subtype != "" {
		out.Subtype = current.Subtype
	}
	return out
}

func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
