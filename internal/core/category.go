package core

import "strings"

type Category string

const (
	CategoryFood          Category = "food"
	CategoryTransport     Category = "transport"
	CategoryShopping      Category = "shopping"
	CategoryEntertainment Category = "entertainment"
	CategoryUtilities     Category = "utilities"
	CategoryHealthcare    Category = "healthcare"
	CategoryOther         Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryFood,
	CategoryTransport,
	CategoryShopping,
	CategoryEntertainment,
	CategoryUtilities,
	CategoryHealthcare,
	CategoryOther,
}

// Keyword order matters: the first category with a matching keyword wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryFood, []string{"restaurant", "food", "grocery", "cafe", "pizza", "burger", "starbucks", "mcdonalds"}},
	{CategoryTransport, []string{"uber", "lyft", "taxi", "gas", "fuel", "parking", "metro", "bus", "train"}},
	{CategoryShopping, []string{"amazon", "walmart", "target", "mall", "store", "shop", "purchase"}},
	{CategoryEntertainment, []string{"movie", "netflix", "spotify", "game", "concert", "theater"}},
	{CategoryUtilities, []string{"electric", "water", "phone", "internet", "cable", "utility"}},
	{CategoryHealthcare, []string{"doctor", "hospital", "pharmacy", "medical", "dental"}},
}

func (c Category) Validate() error {
	for _, known := range Categories {
		if c == known {
			return nil
		}
	}
	return NewValidationError("category", "unknown category "+string(c))
}

// Categorize guesses a category from a free-text description.
func Categorize(description string) Category {
	d := strings.ToLower(description)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(d, kw) {
				return entry.category
			}
		}
	}
	return CategoryOther
}
