package dataset

import "fmt"

// NumClasses is the number of discrete speed classes.
const NumClasses = 5

// speedClasses maps the five admissible speed values to class indices.
var speedClasses = map[float64]int{
	0.0025: 0,
	0.005:  1,
	0.01:   2,
	0.02:   3,
	0.04:   4,
}

// ClassForSpeed returns the class index for a measured speed value. The second
// return value is false when the speed is not one of the five known constants.
func ClassForSpeed(speed float64) (int, bool) {
	class, ok := speedClasses[speed]
	return class, ok
}

// KnownSpeeds returns the admissible speed values in ascending class order.
func KnownSpeeds() []float64 {
	speeds := make([]float64, NumClasses)
	for speed, class := range speedClasses {
		speeds[class] = speed
	}
	return speeds
}

// ClassNames returns the display names used by the classification report.
func ClassNames() []string {
	names := make([]string, NumClasses)
	for i := range names {
		names[i] = fmt.Sprintf("Class %d", i)
	}
	return names
}

// OneHot encodes a class index as a length-NumClasses vector.
func OneHot(class int) []float32 {
	v := make([]float32, NumClasses)
	if class >= 0 && class < NumClasses {
		v[class] = 1
	}
	return v
}
