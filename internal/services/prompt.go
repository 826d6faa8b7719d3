package services

import (
	"fmt"
	"strings"
)

// Recommendation describes a grocery recommendation request.
type Recommendation struct {
	GroceryType string
	Categories  string
	Descriptors string
}

// RecommendationPrompt renders the user message of the recommendation mode.
func RecommendationPrompt(r Recommendation) string {
	kind := strings.TrimSpace(r.GroceryType)
	cats := strings.TrimSpace(r.Categories)
	desc := strings.TrimSpace(r.Descriptors)

	var b strings.Builder
	fmt.Fprintf(&b, "Give me a list of 5 %s recommendations", kind)
	if cats != "" {
		fmt.Fprintf(&b, " that fit all of the following categories: %s", cats)
	}
	b.WriteString(".")
	if desc != "" {
		fmt.Fprintf(&b, " Make sure it fits the following description as well: %s.", desc)
	}
	if cats != "" || desc != "" {
		fmt.Fprintf(&b, " If you do not have 5 recommendations that fit these criteria perfectly, do your best to suggest other %s that I might like.", kind)
	}
	fmt.Fprintf(&b, "\n\nPlease return this response as a numbered list with the %s name, followed by a colon, and then a brief reason for picking it. "+
		"There should be a line of whitespace between each item in the list.", kind)
	return b.String()
}
