package models

// CategoryAll is the catalog filter value that disables category filtering.
const CategoryAll = "all"

// Category is a browsable event category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Categories is the fixed browse filter set, CategoryAll first.
var Categories = []Category{
	{ID: CategoryAll, Name: "All"},
	{ID: "social", Name: "Social"},
	{ID: "sports", Name: "Sports"},
	{ID: "food", Name: "Food"},
	{ID: "music", Name: "Music"},
	{ID: "outdoor", Name: "Outdoor"},
	{ID: "arts", Name: "Arts & Culture"},
	{ID: "tech", Name: "Technology"},
	{ID: "fitness", Name: "Fitness"},
}

// EventCategories is the subset selectable when creating an event.
var EventCategories = Categories[1:]
