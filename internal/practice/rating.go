package practice

import (
	"fmt"
	"math"

	"github.com/MrWong99/scriptcoach/pkg/failure"
)

// Category names one of the four self-rating dimensions.
type Category string

const (
	CategoryConfidence Category = "confidence"
	CategoryObjections Category = "objections"
	CategoryRapport    Category = "rapport"
	CategoryOverall    Category = "overall"
)

// Categories lists all rating categories in display order.
var Categories = []Category{CategoryConfidence, CategoryObjections, CategoryRapport, CategoryOverall}

// MaxStars is the highest rating a category accepts.
const MaxStars = 5

// RatingSet holds the agent's 0–5 star self-ratings.
type RatingSet struct {
	Confidence int
	Objections int
	Rapport    int
	Overall    int
}

// Set returns a copy of r with category c set to stars. An unknown category
// or a value outside 0–5 is a *failure.UserInputError.
func (r RatingSet) Set(c Category, stars int) (RatingSet, error) {
	if stars < 0 || stars > MaxStars {
		return r, failure.UserInput(fmt.Sprintf("Rating for %s must be between 0 and %d stars.", c, MaxStars))
	}
	switch c {
	case CategoryConfidence:
		r.Confidence = stars
	case CategoryObjections:
		r.Objections = stars
	case CategoryRapport:
		r.Rapport = stars
	case CategoryOverall:
		r.Overall = stars
	default:
		return r, failure.UserInput(fmt.Sprintf("Unknown rating category %q.", c))
	}
	return r, nil
}

// Get returns the stars for category c (zero for unknown categories).
func (r RatingSet) Get(c Category) int {
	switch c {
	case CategoryConfidence:
		return r.Confidence
	case CategoryObjections:
		return r.Objections
	case CategoryRapport:
		return r.Rapport
	case CategoryOverall:
		return r.Overall
	}
	return 0
}

// Average is the mean star rating across the four categories.
func (r RatingSet) Average() float64 {
	return float64(r.Confidence+r.Objections+r.Rapport+r.Overall) / float64(len(Categories))
}

// Rated reports whether any star has been given. The score is only shown
// once this is true.
func (r RatingSet) Rated() bool { return r.Average() > 0 }

// Percentage is the average as a whole percentage of the maximum.
func (r RatingSet) Percentage() int {
	return int(math.Round(r.Average() / MaxStars * 100))
}

// Tier maps the percentage to an encouragement message.
func (r RatingSet) Tier() string {
	switch p := r.Percentage(); {
	case p >= 90:
		return "Excellent!"
	case p >= 75:
		return "Great work!"
	case p >= 60:
		return "Good effort!"
	default:
		return "Keep practicing!"
	}
}

// Summary renders the score line shown on the results view, or "" when
// nothing has been rated.
func (r RatingSet) Summary() string {
	if !r.Rated() {
		return ""
	}
	return fmt.Sprintf("%d%% %s Average Rating: %.1f / 5.0 stars", r.Percentage(), r.Tier(), r.Average())
}
