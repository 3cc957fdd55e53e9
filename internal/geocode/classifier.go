package geocode

import (
	"strings"

	"github.com/travelog/travelog-core/internal/models"
)

// poiCategories maps provider POI types onto visit categories. Rule
// based on purpose; no learned model.
var poiCategories = map[string]string{
	"residential":    models.CategoryHome,
	"house":          models.CategoryHome,
	"apartments":     models.CategoryHome,
	"office":         models.CategoryWork,
	"coworking":      models.CategoryWork,
	"industrial":     models.CategoryWork,
	"restaurant":     models.CategoryFood,
	"cafe":           models.CategoryFood,
	"bar":            models.CategoryFood,
	"fast_food":      models.CategoryFood,
	"supermarket":    models.CategoryShopping,
	"mall":           models.CategoryShopping,
	"shop":           models.CategoryShopping,
	"marketplace":    models.CategoryShopping,
	"hotel":          models.CategoryLodging,
	"hostel":         models.CategoryLodging,
	"guest_house":    models.CategoryLodging,
	"park":           models.CategoryOutdoors,
	"beach":          models.CategoryOutdoors,
	"viewpoint":      models.CategoryOutdoors,
	"attraction":     models.CategoryOutdoors,
	"school":         models.CategoryEducation,
	"university":     models.CategoryEducation,
	"library":        models.CategoryEducation,
	"hospital":       models.CategoryHealth,
	"clinic":         models.CategoryHealth,
	"pharmacy":       models.CategoryHealth,
	"airport":        models.CategoryTransit,
	"station":        models.CategoryTransit,
	"bus_station":    models.CategoryTransit,
	"ferry_terminal": models.CategoryTransit,
}

// Categorize maps a POI type to a visit category. Unknown or empty
// types classify as "other".
func Categorize(poiType string) string {
	if category, ok := poiCategories[strings.ToLower(strings.TrimSpace(poiType))]; ok {
		return category
	}
	return models.CategoryOther
}
