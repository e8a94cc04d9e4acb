// Package feed holds the broiler feeding rules: the per-day ration table, the
// grams to bags conversion and the calendar-day age of a cycle.
package feed

// PlateauDay is the last day with an explicit ration. Later days reuse its rate.
const PlateauDay = 34

// dailyRation is grams of feed per bird for days 1..PlateauDay. Index 0 is unused.
var dailyRation = [PlateauDay + 1]float64{
	0,
	16, 20, 24, 28, 32,
	36, 40, 44, 48, 52,
	56, 60, 64, 68, 72,
	76, 80, 84, 88, 92,
	96, 100, 104, 108, 112,
	116, 120, 124, 128, 132,
	140, 150, 165, 175,
}

// cumulativeRation[d] is the sum of dailyRation[1..d].
var cumulativeRation = func() [PlateauDay + 1]float64 {
	var out [PlateauDay + 1]float64
	for day := 1; day <= PlateauDay; day++ {
		out[day] = out[day-1] + dailyRation[day]
	}
	return out
}()

// FeedForDay returns grams per bird for the given cycle day. Days before 1 get
// zero, days past the plateau get the plateau rate.
func FeedForDay(day int) float64 {
	switch {
	case day < 1:
		return 0
	case day > PlateauDay:
		return dailyRation[PlateauDay]
	default:
		return dailyRation[day]
	}
}

// CumulativeFeedForDay returns grams per bird eaten from day 1 through day
// inclusive.
func CumulativeFeedForDay(day int) float64 {
	switch {
	case day < 1:
		return 0
	case day > PlateauDay:
		return cumulativeRation[PlateauDay] + float64(day-PlateauDay)*dailyRation[PlateauDay]
	default:
		return cumulativeRation[day]
	}
}
