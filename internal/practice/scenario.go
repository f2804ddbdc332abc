package practice

import "strings"

// Scenario is a named role-play situation. The Prompt is embedded verbatim in
// the system instruction sent to the dialogue model.
type Scenario struct {
	ID          string
	Name        string
	Description string
	Prompt      string
}

// scenarios is the built-in catalog. It is never mutated; lookups return
// copies.
var scenarios = []Scenario{
	{
		ID:          "fsbo",
		Name:        "FSBO (For Sale By Owner)",
		Description: "Practice converting a homeowner selling on their own to list with you",
		Prompt:      `You are a homeowner who has decided to sell your home yourself to save on commission. You are somewhat skeptical of real estate agents but open to conversation. Be realistic about objections like "I want to save money" and "I can do this myself".`,
	},
	{
		ID:          "expired",
		Name:        "Expired Listing",
		Description: "Approach a homeowner whose listing recently expired",
		Prompt:      "You are a frustrated homeowner whose listing just expired after 6 months on the market. You are disappointed with your previous agent and hesitant to list again. You have concerns about pricing, marketing, and whether any agent can actually sell your home.",
	},
	{
		ID:          "circle",
		Name:        "Circle Prospecting",
		Description: "Call neighbors about a recent sale or listing in their area",
		Prompt:      "You are a homeowner who lives in the neighborhood. You have noticed real estate activity but are not actively thinking about selling. You are curious but cautious about sales calls. You may or may not be interested in a market update.",
	},
	{
		ID:          "listing",
		Name:        "Listing Presentation",
		Description: "Present your services to a potential seller",
		Prompt:      "You are a homeowner interviewing agents to sell your home. You are comparing multiple agents and care about marketing strategy, commission rates, and recent sales in the area. You will ask tough questions and want to see what makes this agent different.",
	},
	{
		ID:          "buyer",
		Name:        "Buyer Consultation",
		Description: "Meet with a potential home buyer",
		Prompt:      "You are a first-time homebuyer who is excited but nervous. You have questions about the process, pre-approval, what you can afford, and how to find the right home. You want an agent who will educate and guide you.",
	},
	{
		ID:          "objection",
		Name:        "Price Reduction Discussion",
		Description: "Convince a seller to reduce their price",
		Prompt:      "You are a homeowner whose house has been on the market for 45 days with little activity. You are emotionally attached to your price and believe your home is worth it. You are resistant to reducing the price and may be defensive.",
	},
}

// Scenarios returns the built-in scenario catalog in display order.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// LookupScenario finds a scenario by ID (case-insensitive).
func LookupScenario(id string) (Scenario, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}
