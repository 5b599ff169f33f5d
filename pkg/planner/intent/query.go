package intent

import (
	"fmt"
	"strings"

	"trip-planner-be/pkg/planner"
)

var cityAliases = map[string]string{
	"巴黎":   "Paris",
	"伦敦":   "London",
	"东京":   "Tokyo",
	"大阪":   "Osaka",
	"香港":   "Hong Kong",
	"台北":   "Taipei",
	"曼谷":   "Bangkok",
	"首尔":   "Seoul",
	"悉尼":   "Sydney",
	"新加坡":  "Singapore",
	"吉隆坡":  "Kuala Lumpur",
	"巴塞罗那": "Barcelona",
	"罗马":   "Rome",
	"上海":   "Shanghai",
	"北京":   "Beijing",
}

// NormalizeCity maps known local names to the English name the knowledge
// base is indexed under.
func NormalizeCity(city string) string {
	city = strings.TrimSpace(city)
	if alias, ok := cityAliases[city]; ok {
		return alias
	}
	return city
}

// RewriteQuery builds the retrieval query for the merged intent. alias is
// the model's own English rendering of the destination, if it gave one.
func RewriteQuery(in *planner.Intent, text, alias string, keywords []string) (query, locality string) {
	locality = strings.TrimSpace(alias)
	if locality == "" {
		locality = NormalizeCity(in.Slots.Destination())
	}

	switch in.TaskType {
	case planner.TaskItinerary:
		query = fmt.Sprintf("%s attractions restaurants hotels travel guide", locality)
	case planner.TaskRecommendation:
		category := in.Slots.Subtype
		if category == "" && len(in.Slots.Tags) > 0 {
			category = in.Slots.Tags[0]
		}
		if category == "" {
			category = "attractions"
		}
		query = fmt.Sprintf("%s %s recommendations", locality, category)
	default:
		query = strings.TrimSpace(strings.Join(keywords, " "))
		if query == "" {
			query = strings.TrimSpace(text)
		}
		if query == "" {
			query = "travel guide"
		}
	}
	return strings.TrimSpace(query), locality
}
