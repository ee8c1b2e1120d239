package match

import (
	"math"
	"strings"

	"voiture-alert/internal/domain"
)

// Границы по умолчанию, когда пользователь не указал диапазон.
const (
	defaultYearMin = 1900
	defaultYearMax = 2100
)

// Match возвращает фильтры, которым соответствует объявление.
// Чистая функция без побочных эффектов: порядок фильтров на входе
// не влияет на состав результата.
func Match(l domain.Listing, filters []domain.Filter) []domain.Filter {
	var matched []domain.Filter
	for _, f := range filters {
		// Фильтры без владельца исключаются: уведомлять некого.
		if strings.TrimSpace(f.UserID) == "" {
			continue
		}
		if Matches(l, f) {
			matched = append(matched, f)
		}
	}
	return matched
}

// Matches проверяет одно объявление против одного фильтра.
func Matches(l domain.Listing, f domain.Filter) bool {
	if !equalFold(l.Make, f.Make) || !equalFold(l.Model, f.Model) || !equalFold(l.Region, f.Region) {
		return false
	}

	priceMin := 0.0
	if f.PriceMin != nil {
		priceMin = *f.PriceMin
	}
	priceMax := math.MaxFloat64
	if f.PriceMax != nil {
		priceMax = *f.PriceMax
	}
	if l.Price < priceMin || l.Price > priceMax {
		return false
	}

	yearMin := defaultYearMin
	if f.YearMin != nil {
		yearMin = *f.YearMin
	}
	yearMax := defaultYearMax
	if f.YearMax != nil {
		yearMax = *f.YearMax
	}
	if l.Year < yearMin || l.Year > yearMax {
		return false
	}

	// Топливо и коробка сравниваются мягко: отсутствие значения с любой
	// стороны не дисквалифицирует фильтр. Это осознанная уступка в пользу
	// полноты выдачи, возможны ложные срабатывания.
	if !lenientEqual(l.Fuel, f.Fuel) {
		return false
	}
	if !lenientEqual(l.Gearbox, f.Gearbox) {
		return false
	}
	return true
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func lenientEqual(listingValue, filterValue string) bool {
	if strings.TrimSpace(filterValue) == "" || strings.TrimSpace(listingValue) == "" {
		return true
	}
	return equalFold(listingValue, filterValue)
}
