package feed

// GramsPerBag is the weight of one 50 kg feed bag.
const GramsPerBag = 50000.0

// GramsToBags converts grams to bags without rounding.
func GramsToBags(grams float64) float64 {
	return grams / GramsPerBag
}

// LiveBirds returns doc minus mortality, never below zero.
func LiveBirds(doc, mortality int) int {
	if live := doc - mortality; live > 0 {
		return live
	}
	return 0
}

// CumulativeBags is the feed a flock of liveBirds has eaten in total by the
// given day, in bags.
func CumulativeBags(day, liveBirds int) float64 {
	if liveBirds <= 0 {
		return 0
	}
	return GramsToBags(CumulativeFeedForDay(day) * float64(liveBirds))
}
