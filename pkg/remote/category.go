package remote

import (
	"regexp"
	"strings"
)

// Categories assigned by ClassifyCategory.
const (
	CategoryLens     = "lens"
	CategoryBeauty   = "beauty"
	CategoryFashion  = "fashion"
	CategoryClothing = "clothing"
	CategoryTravel   = "travel"
	CategoryFood     = "food"
	CategoryFitness  = "fitness"
	CategoryBusiness = "business"
	CategoryOther    = "other"
)

var lensKeywords = []string{"렌즈", "콘택트", "컬러렌즈", "소프트렌즈", "lens", "contact", "color lens", "lenses"}

// checked in order; the first match wins
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryBeauty, []string{"뷰티", "화장품", "메이크업", "beauty", "makeup", "cosmetic"}},
	{CategoryFashion, []string{"패션", "모델", "스타일", "fashion", "model", "style"}},
	{CategoryClothing, []string{"의류", "쇼핑몰", "옷", "clothing", "apparel"}},
	{CategoryTravel, []string{"여행", "트립", "travel", "trip", "journey"}},
	{CategoryFood, []string{"맛집", "음식", "레스토랑", "food", "restaurant"}},
	{CategoryFitness, []string{"피트니스", "운동", "헬스", "fitness", "workout", "gym"}},
}

var contactPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+`)

// ClassifyCategory guesses an account category from its biography. An empty
// biography yields "".
func ClassifyCategory(bio string) string {
	if strings.TrimSpace(bio) == "" {
		return ""
	}
	lower := strings.ToLower(bio)

	for _, kw := range lensKeywords {
		if strings.Contains(lower, kw) {
			return CategoryLens
		}
	}
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.category
			}
		}
	}
	if contactPattern.MatchString(bio) || strings.Contains(lower, "http") {
		return CategoryBusiness
	}
	return CategoryOther
}
