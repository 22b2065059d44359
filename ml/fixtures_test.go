package ml

import "math"

var testFeatureNames = []string{"pclass", "sex", "age", "fare"}

// representativeSet builds 120 passengers whose survival rates per class and
// sex follow the historical pattern. Age and fare are spread independently of
// the outcome inside each group.
func representativeSet() ([][]float64, []int) {
	type group struct {
		class int
		sex   int
		rate  float64
	}
	groups := []group{
		{1, 1, 0.97}, {2, 1, 0.92}, {3, 1, 0.50},
		{1, 0, 0.37}, {2, 0, 0.16}, {3, 0, 0.14},
	}
	fareBase := map[int]float64{1: 30, 2: 10, 3: 7}
	fareSpan := map[int]float64{1: 200, 2: 30, 3: 18}

	var features [][]float64
	var labels []int
	for _, g := range groups {
		survivors := int(math.Round(g.rate * 20))
		for i := 0; i < 20; i++ {
			age := 5 + float64((i*37)%60)
			fare := fareBase[g.class] + fareSpan[g.class]*float64((i*13)%20)/19
			features = append(features, []float64{float64(g.class), float64(g.sex), age, fare})
			label := 0
			if i < survivors {
				label = 1
			}
			labels = append(labels, label)
		}
	}
	return features, labels
}

// narrativeSet is the four-passenger example: the wealthy women survive, the
// men do not.
func narrativeSet() ([][]float64, []int) {
	return [][]float64{
			{1, 1, 29, 211.3},
			{3, 0, 22, 7.25},
			{1, 0, 54, 51.9},
			{3, 1, 27, 7.9},
		},
		[]int{1, 0, 0, 1}
}
